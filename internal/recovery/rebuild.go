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
	"strings"
)

const rebuiltStoreArchive = "/tmp/rebuilt-monstore.tar.gz"

// rebuildOne merges the per-OSD store portions inside a single monitor pod
// and rebuilds an authoritative store from them. The lowest daemon ID wins
// the origin role so repeated runs pick the same monitor.
func (r *MonRecovery) rebuildOne(ctx context.Context) error {
	origin := r.mons[0]
	r.rebuiltMon = origin.DaemonID
	podName, err := r.monPod(ctx, origin.DaemonID)
	if err != nil {
		return err
	}
	log := r.log.WithValues("mon", origin.DaemonID, "pod", podName)

	keyringPath, err := r.recoverKeyring(ctx)
	if err != nil {
		return err
	}

	if err := r.pod.CopyToPod(ctx, podName, r.cfg.TarBinary, remoteTarBinary); err != nil {
		return err
	}
	if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{"mkdir", "-p", remoteMonStorePath}); err != nil {
		return fmt.Errorf("preparing merge directory failed: %w (stderr: %s)", err, stderr)
	}
	// Portions are layered into one tree; store keys are disjoint per OSD so
	// extraction order does not matter.
	for _, o := range r.osds {
		remote := fmt.Sprintf("/tmp/monstore-osd-%s.tar.gz", o.OSDID)
		if err := r.pod.CopyToPod(ctx, podName, r.archivePath(o.OSDID), remote); err != nil {
			return err
		}
		if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{remoteTarBinary, "xzf", remote, "-C", filepath.Dir(remoteMonStorePath)}); err != nil {
			return fmt.Errorf("merging store portion of OSD %s failed: %w (stderr: %s)", o.OSDID, err, stderr)
		}
	}
	if err := r.pod.CopyToPod(ctx, podName, keyringPath, remoteKeyringPath); err != nil {
		return err
	}

	rebuild := []string{"ceph-monstore-tool", remoteMonStorePath, "rebuild", "--", "--keyring", remoteKeyringPath}
	v, err := r.getOCPVersion(ctx)
	if err != nil {
		return err
	}
	// Later tool builds refuse to guess the quorum membership.
	if v.GreaterThanOrEqual(ocp4_15) {
		ids := make([]string, len(r.mons))
		for i, m := range r.mons {
			ids[i] = m.DaemonID
		}
		rebuild = append(rebuild, "--mon-ids", strings.Join(ids, " "))
	}
	if _, stderr, err := r.pod.ExecInPod(ctx, podName, rebuild); err != nil {
		return fmt.Errorf("monitor store rebuild failed: %w (stderr: %s)", err, stderr)
	}

	dataDir := monDataDirPrefix + origin.DaemonID
	if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{"rm", "-rf", dataDir + "/store.db"}); err != nil {
		return fmt.Errorf("removing corrupted store failed: %w (stderr: %s)", err, stderr)
	}
	if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{"cp", "-ar", remoteMonStorePath + "/store.db", dataDir + "/store.db"}); err != nil {
		return fmt.Errorf("installing rebuilt store failed: %w (stderr: %s)", err, stderr)
	}
	if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{"chown", "-R", "ceph:ceph", dataDir + "/store.db"}); err != nil {
		return fmt.Errorf("restoring store ownership failed: %w (stderr: %s)", err, stderr)
	}

	if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{remoteTarBinary, "czf", rebuiltStoreArchive, "-C", filepath.Dir(remoteMonStorePath), filepath.Base(remoteMonStorePath)}); err != nil {
		return fmt.Errorf("archiving rebuilt store failed: %w (stderr: %s)", err, stderr)
	}
	if err := r.pod.CopyFromPod(ctx, podName, rebuiltStoreArchive, filepath.Join(r.cfg.BackupDir, "rebuilt-monstore.tar.gz")); err != nil {
		return err
	}
	log.Info("rebuilt authoritative monitor store")
	return nil
}

// storeRebuilt holds once the origin monitor's data directory carries the
// rebuilt store.
func (r *MonRecovery) storeRebuilt(ctx context.Context) error {
	podName, err := r.monPod(ctx, r.rebuiltMon)
	if err != nil {
		return err
	}
	dataDir := monDataDirPrefix + r.rebuiltMon
	if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{"test", "-d", dataDir + "/store.db"}); err != nil {
		return fmt.Errorf("rebuilt store not present on monitor %s: %w (stderr: %s)", r.rebuiltMon, err, stderr)
	}
	return nil
}
