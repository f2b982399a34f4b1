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
	"os"
	"path/filepath"
)

func (r *MonRecovery) archivePath(osdID string) string {
	return filepath.Join(r.cfg.BackupDir, fmt.Sprintf("monstore-osd-%s.tar.gz", osdID))
}

// extractStore runs the store derivation on every OSD pod and pulls the
// resulting archives to the local backup directory. Pod filesystems are
// minimal, so the tar binary travels with the script. The remote steps retry;
// a pod can take a beat to accept exec after rolling onto the sleep
// entrypoint.
func (r *MonRecovery) extractStore(ctx context.Context) error {
	scriptPath, checksum, err := renderExtractScript(r.cfg.BackupDir, extractScriptParams{
		MonStorePath: remoteMonStorePath,
		OSDDataDir:   osdDataDir,
	})
	if err != nil {
		return err
	}
	r.log.Info("rendered store extraction script", "path", scriptPath, "sha256", checksum)

	for _, o := range r.osds {
		podName, err := r.osdPod(ctx, o.OSDID)
		if err != nil {
			return err
		}
		log := r.log.WithValues("osd", o.OSDID, "pod", podName)
		err = withRetry(ctx, log, r.cfg.RetryAttempts, r.cfg.RetryBackoff, func(ctx context.Context) error {
			if err := r.pod.CopyToPod(ctx, podName, r.cfg.TarBinary, remoteTarBinary); err != nil {
				return err
			}
			if err := r.pod.CopyToPod(ctx, podName, scriptPath, remoteScriptPath); err != nil {
				return err
			}
			if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{"bash", remoteScriptPath}); err != nil {
				return fmt.Errorf("store extraction failed on %s: %w (stderr: %s)", podName, err, stderr)
			}
			archive := remoteMonStorePath + ".tar.gz"
			if _, stderr, err := r.pod.ExecInPod(ctx, podName, []string{remoteTarBinary, "czf", archive, "-C", filepath.Dir(remoteMonStorePath), filepath.Base(remoteMonStorePath)}); err != nil {
				return fmt.Errorf("archiving extracted store failed on %s: %w (stderr: %s)", podName, err, stderr)
			}
			return r.pod.CopyFromPod(ctx, podName, archive, r.archivePath(o.OSDID))
		})
		if err != nil {
			return err
		}
		log.Info("extracted monitor store portion")
	}
	return nil
}

// extractionsPresent holds once every OSD has produced a non-empty local
// archive.
func (r *MonRecovery) extractionsPresent(context.Context) error {
	for _, o := range r.osds {
		info, err := os.Stat(r.archivePath(o.OSDID))
		if err != nil {
			return fmt.Errorf("store archive for OSD %s missing: %w", o.OSDID, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("store archive for OSD %s is empty", o.OSDID)
		}
	}
	return nil
}
