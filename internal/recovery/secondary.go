/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package recovery

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"

	"github.com/jordigilh/odf-mon-recovery/pkg/sampler"
)

// recoverSecondary restarts the filesystem and gateway daemons so they
// re-establish sessions against the recovered quorum. MDS goes first; the
// object and NFS gateways hold sessions that settle faster once the
// filesystem layer is back.
func (r *MonRecovery) recoverSecondary(ctx context.Context) error {
	for _, label := range []string{mdsAppLabel, rgwAppLabel, nfsAppLabel} {
		if err := r.restartDeployments(ctx, label); err != nil {
			return err
		}
	}
	return nil
}

// restartDeployments scales every deployment under the selector to zero,
// waits for its pods to drain, and scales back to the recorded count.
func (r *MonRecovery) restartDeployments(ctx context.Context, selector string) error {
	docs, err := r.deploy.List(ctx, selector, false)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		r.log.Info("no deployments to restart", "selector", selector)
		return nil
	}
	replicas := map[string]int32{}
	for _, doc := range docs {
		d := appsv1.Deployment{}
		if err := doc.Decode(&d); err != nil {
			return fmt.Errorf("unable to decode deployment %s: %w", doc.Name(), err)
		}
		n := int32(1)
		if d.Spec.Replicas != nil {
			n = *d.Spec.Replicas
		}
		replicas[d.Name] = n
		if err := r.deploy.Scale(ctx, d.Name, 0); err != nil {
			return err
		}
	}
	if err := sampler.WaitForDrain(ctx, r.pod, selector,
		r.cfg.Timeouts.Secondary, r.cfg.Timeouts.PollInterval, r.log); err != nil {
		return err
	}
	total := 0
	for name, n := range replicas {
		if err := r.deploy.Scale(ctx, name, int(n)); err != nil {
			return err
		}
		total += int(n)
	}
	ok, err := sampler.WaitForResources(ctx, r.pod, selector, "Running", total,
		r.cfg.Timeouts.Secondary, r.cfg.Timeouts.PollInterval, r.log)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pods for %s did not return to Running after restart", selector)
	}
	return nil
}
