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
	"encoding/json"
	"fmt"

	ocsv1 "github.com/red-hat-storage/ocs-operator/api/v1"

	"github.com/jordigilh/odf-mon-recovery/pkg/ocp"
	"github.com/jordigilh/odf-mon-recovery/pkg/sampler"
)

// healthStatus is the subset of `ceph status -f json` the fitness check
// reads.
type healthStatus struct {
	Health struct {
		Status string `json:"status"`
	} `json:"health"`
}

// fitnessCheck enables the toolbox, waits for the cluster to report
// HEALTH_OK, archives the crash reports the outage produced, and disables
// the toolbox again. Where the toolbox flag lives moved between releases.
func (r *MonRecovery) fitnessCheck(ctx context.Context) error {
	if err := r.setCephToolsEnabled(ctx, true); err != nil {
		return err
	}
	defer func() {
		if err := r.setCephToolsEnabled(ctx, false); err != nil {
			r.log.Error(err, "unable to disable ceph tools after fitness check")
		}
	}()

	ok, err := sampler.WaitForResources(ctx, r.pod, toolsAppLabel, "Running", 1,
		r.cfg.Timeouts.Stabilize, r.cfg.Timeouts.PollInterval, r.log)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("ceph tools pod did not reach Running")
	}
	toolsPods, err := r.pod.List(ctx, toolsAppLabel, false)
	if err != nil {
		return err
	}
	if len(toolsPods) == 0 {
		return fmt.Errorf("no ceph tools pod matched %s", toolsAppLabel)
	}
	toolsPod := toolsPods[0].Name()

	s := &sampler.Sampler[string]{
		Timeout:  r.cfg.Timeouts.Stabilize,
		Interval: r.cfg.Timeouts.PollInterval,
		Sample: func(ctx context.Context) (string, error) {
			stdout, stderr, err := r.pod.ExecInPod(ctx, toolsPod, []string{"ceph", "status", "-f", "json"})
			if err != nil {
				return "", fmt.Errorf("ceph status failed: %w (stderr: %s)", err, stderr)
			}
			health := healthStatus{}
			if err := json.Unmarshal([]byte(stdout), &health); err != nil {
				return "", fmt.Errorf("unable to parse ceph status output: %w", err)
			}
			return health.Health.Status, nil
		},
		RetryOn: func(error) bool { return true },
	}
	// HEALTH_WARN is acceptable here: the outage leaves crash reports that
	// keep the warning raised until they are archived below.
	status, err := s.Poll(ctx, func(status string) bool {
		return status == healthOK || status == healthWarn
	})
	if err != nil {
		return fmt.Errorf("cluster did not report %s or %s: %w", healthOK, healthWarn, err)
	}
	if _, stderr, err := r.pod.ExecInPod(ctx, toolsPod, []string{"ceph", "crash", "archive-all"}); err != nil {
		return fmt.Errorf("archiving crash reports failed: %w (stderr: %s)", err, stderr)
	}
	r.log.Info("cluster reports healthy", "status", status)
	return nil
}

// setCephToolsEnabled flips the toolbox deployment flag on the resource that
// owns it for this release. Clusters before 4.15 carry it on the
// ocsinitialization singleton; later ones moved it to the storagecluster.
func (r *MonRecovery) setCephToolsEnabled(ctx context.Context, enabled bool) error {
	v, err := r.getOCPVersion(ctx)
	if err != nil {
		return err
	}
	kind, name := "storagecluster", storageClusterName
	if v.LessThan(ocp4_15) {
		kind, name = "ocsinitialization", ocsInitName
	}
	cli := ocp.NewClient(r.gw, kind, r.cfg.Namespace, r.log)
	current, err := r.cephToolsEnabled(ctx, cli, name)
	if err != nil {
		return err
	}
	if current == enabled {
		return nil
	}
	_, err = cli.Patch(ctx, name, fmt.Sprintf(`{"spec": {"enableCephTools": %t}}`, enabled), "merge")
	return err
}

// cephToolsEnabled reads the toolbox flag from either owning resource; the
// spec field name is shared across both APIs.
func (r *MonRecovery) cephToolsEnabled(ctx context.Context, cli *ocp.Client, name string) (bool, error) {
	doc, err := cli.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if cli.Kind() == "ocsinitialization" {
		o := ocsv1.OCSInitialization{}
		if err := doc.Decode(&o); err != nil {
			return false, fmt.Errorf("unable to decode ocsinitialization %s: %w", name, err)
		}
		return o.Spec.EnableCephTools, nil
	}
	sc := ocsv1.StorageCluster{}
	if err := doc.Decode(&sc); err != nil {
		return false, fmt.Errorf("unable to decode storagecluster %s: %w", name, err)
	}
	return sc.Spec.EnableCephTools, nil
}
