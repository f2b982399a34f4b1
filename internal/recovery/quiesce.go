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

	"github.com/jordigilh/odf-mon-recovery/pkg/sampler"
)

// sleepPatch replaces the daemon entrypoint of a quiesced workload with an
// indefinite sleep and removes the liveness probe, keeping the pod alive as a
// file-access vehicle without a running daemon fighting for the store.
const sleepPatch = `{"spec": {"template": {"spec": {"containers": [{"name": %q, "command": ["sleep", "infinity"], "args": [], "livenessProbe": null}]}}}}`

// quiesce stops both reconciling operators before touching any daemon, so no
// controller undoes the entrypoint swap mid-recovery, then puts every monitor
// and OSD into the sleep holding pattern.
func (r *MonRecovery) quiesce(ctx context.Context) error {
	for _, name := range []string{rookOperatorDeployment, ocsOperatorDeployment} {
		if err := r.deploy.Scale(ctx, name, 0); err != nil {
			return err
		}
	}
	for _, mon := range r.mons {
		if _, err := r.deploy.Patch(ctx, mon.Name, fmt.Sprintf(sleepPatch, monContainer), "strategic"); err != nil {
			return err
		}
	}
	for _, o := range r.osds {
		if _, err := r.deploy.Patch(ctx, o.Name, fmt.Sprintf(sleepPatch, osdContainer), "strategic"); err != nil {
			return err
		}
	}
	return nil
}

// quiesced holds once every patched workload has rolled its pods over to the
// sleeping entrypoint and they report Running again.
func (r *MonRecovery) quiesced(ctx context.Context) error {
	// Rollout needs a moment before pod status reflects the new template.
	for _, sel := range []struct {
		label string
		count int
	}{
		{monAppLabel, len(r.mons)},
		{osdAppLabel, len(r.osds)},
	} {
		ok, err := sampler.WaitForResources(ctx, r.pod, sel.label, "Running", sel.count,
			r.cfg.Timeouts.Quiesce, r.cfg.Timeouts.PollInterval, r.log)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("pods for %s did not settle into the sleep entrypoint", sel.label)
		}
	}
	return nil
}
