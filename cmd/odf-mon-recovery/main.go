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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/jordigilh/odf-mon-recovery/internal/config"
	"github.com/jordigilh/odf-mon-recovery/internal/recovery"
	"github.com/jordigilh/odf-mon-recovery/monitoring"
	"github.com/jordigilh/odf-mon-recovery/pkg/ocp"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		kubeconfig  string
		namespace   string
		ocBinary    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "odf-mon-recovery",
		Short: "Recover a Ceph monitor quorum in an ODF cluster",
		Long: `Rebuild the Ceph monitor store of an ODF cluster whose monitor
quorum was lost, by deriving an authoritative store from the surviving OSDs
and installing it on every monitor.

The workflow quiesces the reconciling operators, extracts store portions from
each OSD, rebuilds the store on one monitor, propagates it to the rest, and
then returns the cluster to operator control. Run it only against a cluster
whose monitors are actually down; a healthy quorum has nothing to recover.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(kubeconfig, namespace, ocBinary, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "path to the kubeconfig file (defaults to the standard loading rules)")
	cmd.Flags().StringVar(&namespace, "namespace", "", "namespace holding the storage workloads (defaults to openshift-storage)")
	cmd.Flags().StringVar(&ocBinary, "oc-binary", "", "path to the oc binary (defaults to resolving oc on PATH)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-bind-address", "", "address to serve recovery metrics on (disabled when empty)")

	return cmd
}

func run(kubeconfig, namespace, ocBinary, metricsAddr string) error {
	opts := zap.Options{Development: false}
	log := zap.New(zap.UseFlagOptions(&opts))
	ctrl.SetLogger(log)

	cfg, err := config.New(kubeconfig, namespace)
	if err != nil {
		return fmt.Errorf("unable to build configuration: %w", err)
	}
	if ocBinary != "" {
		cfg.OCBinary = ocBinary
	}
	defer func() {
		if err := os.RemoveAll(cfg.BackupDir); err != nil {
			log.Error(err, "unable to remove backup directory", "dir", cfg.BackupDir)
		}
	}()

	monitoring.RegisterMetrics()
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := ocp.NewCLI(cfg.OCBinary, cfg.Kubeconfig, log)
	return recovery.New(cfg, gw, log).Run(ctx)
}

func serveMetrics(addr string, log logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Error(err, "metrics server stopped")
	}
}
