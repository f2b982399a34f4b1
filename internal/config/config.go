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

// Package config holds the per-run configuration object. It is constructed
// once at startup and passed down explicitly; nothing in this module keeps
// lazily-initialized global state.
package config

import (
	"fmt"
	"os"
	"time"

	"k8s.io/client-go/tools/clientcmd"
)

const defaultNamespace = "openshift-storage"

// Timeouts bound every wait in a recovery run. No operation in this module
// blocks without a deadline.
type Timeouts struct {
	Quiesce      time.Duration
	Extract      time.Duration
	Rebuild      time.Duration
	Revert       time.Duration
	Secondary    time.Duration
	PollInterval time.Duration
	Stabilize    time.Duration
}

// Config is the explicit per-run context for a recovery.
type Config struct {
	// Kubeconfig is the credentials file carried on every CLI invocation.
	Kubeconfig string
	// OCBinary is the control-plane CLI executable.
	OCBinary string
	// Namespace hosting the storage control plane.
	Namespace string
	// TarBinary is the statically linked archive utility copied into the
	// data replicas during extraction.
	TarBinary string
	// BackupDir receives per-run monitor store extractions and resource
	// snapshots. Nothing under it survives beyond operator inspection.
	BackupDir string
	// RetryAttempts and RetryBackoff bound the per-operation retry around
	// remote copy and exec.
	RetryAttempts int
	RetryBackoff  time.Duration

	Timeouts Timeouts
}

// New resolves a run configuration. An empty kubeconfig falls back to the
// standard loading rules (KUBECONFIG, then the home directory default).
func New(kubeconfig, namespace string) (*Config, error) {
	if kubeconfig == "" {
		kubeconfig = clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
	}
	if namespace == "" {
		namespace = defaultNamespace
	}
	backupDir, err := os.MkdirTemp("", "mon-recovery-")
	if err != nil {
		return nil, fmt.Errorf("unable to create backup directory: %v", err)
	}
	return &Config{
		Kubeconfig:    kubeconfig,
		OCBinary:      "oc",
		Namespace:     namespace,
		TarBinary:     "/usr/bin/tar",
		BackupDir:     backupDir,
		RetryAttempts: 5,
		RetryBackoff:  10 * time.Second,
		Timeouts: Timeouts{
			Quiesce:      10 * time.Minute,
			Extract:      20 * time.Minute,
			Rebuild:      15 * time.Minute,
			Revert:       10 * time.Minute,
			Secondary:    10 * time.Minute,
			PollInterval: 10 * time.Second,
			Stabilize:    2 * time.Minute,
		},
	}, nil
}
