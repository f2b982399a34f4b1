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
	"path/filepath"

	"github.com/jordigilh/odf-mon-recovery/pkg/resource"
	"github.com/jordigilh/odf-mon-recovery/pkg/sampler"
)

// propagateStore installs the rebuilt store on every monitor except the
// origin, which already carries it. Each install replaces the old store
// outright and restores daemon ownership before moving on.
func (r *MonRecovery) propagateStore(ctx context.Context) error {
	localArchive := filepath.Join(r.cfg.BackupDir, "rebuilt-monstore.tar.gz")
	for _, mon := range r.mons {
		if mon.DaemonID == r.rebuiltMon {
			continue
		}
		podName, err := r.monPod(ctx, mon.DaemonID)
		if err != nil {
			return err
		}
		log := r.log.WithValues("mon", mon.DaemonID, "pod", podName)
		err = withRetry(ctx, log, r.cfg.RetryAttempts, r.cfg.RetryBackoff, func(ctx context.Context) error {
			if err := r.pod.CopyToPod(ctx, podName, r.cfg.TarBinary, remoteTarBinary); err != nil {
				return err
			}
			if err := r.pod.CopyToPod(ctx, podName, localArchive, rebuiltStoreArchive); err != nil {
				return err
			}
			if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{remoteTarBinary, "xzf", rebuiltStoreArchive, "-C", filepath.Dir(remoteMonStorePath)}); err != nil {
				return fmt.Errorf("unpacking rebuilt store failed: %w (stderr: %s)", err, stderr)
			}
			dataDir := monDataDirPrefix + mon.DaemonID
			if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{"rm", "-rf", dataDir + "/store.db"}); err != nil {
				return fmt.Errorf("removing stale store failed: %w (stderr: %s)", err, stderr)
			}
			if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{"cp", "-ar", remoteMonStorePath + "/store.db", dataDir + "/store.db"}); err != nil {
				return fmt.Errorf("installing rebuilt store failed: %w (stderr: %s)", err, stderr)
			}
			if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{"chown", "-R", "ceph:ceph", dataDir + "/store.db"}); err != nil {
				return fmt.Errorf("restoring store ownership failed: %w (stderr: %s)", err, stderr)
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Info("propagated rebuilt store")
	}
	return nil
}

// storePropagated holds once every monitor's data directory carries the
// rebuilt store.
func (r *MonRecovery) storePropagated(ctx context.Context) error {
	for _, mon := range r.mons {
		podName, err := r.monPod(ctx, mon.DaemonID)
		if err != nil {
			return err
		}
		dataDir := monDataDirPrefix + mon.DaemonID
		if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{"test", "-d", dataDir + "/store.db"}); err != nil {
			return fmt.Errorf("rebuilt store not present on monitor %s: %w (stderr: %s)", mon.DaemonID, err, stderr)
		}
	}
	return nil
}

// revert restores every captured workload document, force-deletes the
// sleeping pods so the restored templates roll out immediately, and scales
// the operators back to their recorded replica counts, returning
// reconciliation ownership to them.
func (r *MonRecovery) revert(ctx context.Context) error {
	if err := r.snaps.RevertAll(ctx, r.deploy); err != nil {
		return err
	}
	for _, label := range []string{monAppLabel, osdAppLabel} {
		docs, err := r.pod.List(ctx, label, false)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := resource.New(r.pod, doc, r.log).Delete(ctx, false, true); err != nil {
				return err
			}
		}
	}
	for _, name := range []string{rookOperatorDeployment, ocsOperatorDeployment} {
		if err := r.deploy.Scale(ctx, name, int(r.operatorReplicas[name])); err != nil {
			return err
		}
	}
	return nil
}

// reverted holds once monitor and OSD pods are Running again under their
// original entrypoints.
func (r *MonRecovery) reverted(ctx context.Context) error {
	for _, sel := range []struct {
		label string
		count int
	}{
		{monAppLabel, len(r.mons)},
		{osdAppLabel, len(r.osds)},
	} {
		ok, err := sampler.WaitForResources(ctx, r.pod, sel.label, "Running", sel.count,
			r.cfg.Timeouts.Revert, r.cfg.Timeouts.PollInterval, r.log)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("pods for %s did not return to Running after revert", sel.label)
		}
	}
	return nil
}
