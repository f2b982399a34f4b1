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

// Package recovery drives a Ceph monitor quorum through disaster recovery
// when a majority of monitors lost their store. The workflow is strictly
// ordered; every phase is gated on its predecessor's postcondition and every
// wait carries an explicit deadline. Interruption between phases can leave
// the namespace in a degraded mid-recovery state, which is the documented
// trade-off for never mutating behind a live reconciler.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	version "github.com/hashicorp/go-version"
	configv1 "github.com/openshift/api/config/v1"
	"github.com/rook/rook/pkg/operator/ceph/cluster/osd"
	appsv1 "k8s.io/api/apps/v1"

	"github.com/jordigilh/odf-mon-recovery/internal/config"
	"github.com/jordigilh/odf-mon-recovery/monitoring"
	"github.com/jordigilh/odf-mon-recovery/pkg/ocp"
)

// monDeployment is one quorum replica's deployment plus its daemon identity.
type monDeployment struct {
	Name     string
	DaemonID string
}

// osdDeployment is one data workload carrying a locally derivable portion of
// the monitor store.
type osdDeployment struct {
	Name  string
	OSDID string
}

// MonRecovery orchestrates the recovery of a corrupted monitor quorum.
type MonRecovery struct {
	cfg *config.Config
	gw  ocp.Gateway
	log logr.Logger

	deploy *ocp.Client
	pod    *ocp.Client
	secret *ocp.Client

	snaps            *snapshotStore
	mons             []monDeployment
	osds             []osdDeployment
	operatorReplicas map[string]int32
	rebuiltMon       string
	ocpVersion       *version.Version
}

func New(cfg *config.Config, gw ocp.Gateway, log logr.Logger) *MonRecovery {
	log = log.WithName("mon-recovery")
	return &MonRecovery{
		cfg:              cfg,
		gw:               gw,
		log:              log,
		deploy:           ocp.NewClient(gw, "deployment", cfg.Namespace, log),
		pod:              ocp.NewClient(gw, "pod", cfg.Namespace, log),
		secret:           ocp.NewClient(gw, "secret", cfg.Namespace, log),
		snaps:            newSnapshotStore(cfg.BackupDir, log),
		operatorReplicas: map[string]int32{},
	}
}

// phase is one workflow step: its action, and the postcondition that must
// hold before the next phase may begin.
type phase struct {
	name string
	run  func(ctx context.Context) error
	post func(ctx context.Context) error
}

func (r *MonRecovery) phases() []phase {
	return []phase{
		{name: "SnapshotAll", run: r.snapshotAll, post: r.snapshotsComplete},
		{name: "Quiesce", run: r.quiesce, post: r.quiesced},
		{name: "ExtractStore", run: r.extractStore, post: r.extractionsPresent},
		{name: "RebuildOne", run: r.rebuildOne, post: r.storeRebuilt},
		{name: "PropagateStore", run: r.propagateStore, post: r.storePropagated},
		{name: "Revert", run: r.revert, post: r.reverted},
		{name: "SecondaryRecovery", run: r.recoverSecondary, post: nil},
		{name: "FitnessCheck", run: r.fitnessCheck, post: nil},
	}
}

// Run executes the recovery end to end. Phase order is the core correctness
// property: no phase starts speculatively, and whole-phase failure aborts the
// run without automatic compensation.
func (r *MonRecovery) Run(ctx context.Context) error {
	monitoring.TotalRecoveryRunsCounter.Inc()
	start := time.Now()
	for _, p := range r.phases() {
		r.log.Info("starting recovery phase", "phase", p.name)
		phaseStart := time.Now()
		if err := p.run(ctx); err != nil {
			return r.fail(ctx, p.name, err)
		}
		if p.post != nil {
			if err := p.post(ctx); err != nil {
				return r.fail(ctx, p.name, fmt.Errorf("postcondition not reached: %w", err))
			}
		}
		monitoring.ObservePhaseDuration(p.name, time.Since(phaseStart))
		r.log.Info("recovery phase complete", "phase", p.name, "elapsed", time.Since(phaseStart).String())
	}
	monitoring.CompletedRecoveryRunsCounter.Inc()
	r.log.Info("monitor quorum recovery complete", "elapsed", time.Since(start).String())
	return nil
}

// fail logs a describe-style dump of the monitor workloads before raising,
// preserving forensic context without requiring reproduction.
func (r *MonRecovery) fail(ctx context.Context, phaseName string, err error) error {
	monitoring.IncrementFailedRecoveryRuns(phaseName)
	diagnostic, derr := r.deploy.Describe(ctx, "", monAppLabel)
	if derr != nil {
		diagnostic = fmt.Sprintf("diagnostic dump unavailable: %v", derr)
	}
	r.log.Error(err, "recovery phase failed", "phase", phaseName, "diagnostic", diagnostic)
	return &PhaseError{Phase: phaseName, Err: err, Diagnostic: diagnostic}
}

// snapshotAll captures the desired-state documents of every workload the
// recovery will touch: monitor and OSD deployments plus the two reconciling
// controllers.
func (r *MonRecovery) snapshotAll(ctx context.Context) error {
	monDocs, err := r.deploy.List(ctx, monAppLabel, false)
	if err != nil {
		return err
	}
	r.mons = nil
	for _, doc := range monDocs {
		d := appsv1.Deployment{}
		if err := doc.Decode(&d); err != nil {
			return fmt.Errorf("unable to decode monitor deployment %s: %w", doc.Name(), err)
		}
		daemonID, ok := d.Labels[monDaemonIDLabel]
		if !ok {
			return fmt.Errorf("monitor deployment %s carries no %s label", d.Name, monDaemonIDLabel)
		}
		if err := r.snaps.Capture(doc); err != nil {
			return err
		}
		r.mons = append(r.mons, monDeployment{Name: d.Name, DaemonID: daemonID})
	}
	sort.Slice(r.mons, func(i, j int) bool { return r.mons[i].DaemonID < r.mons[j].DaemonID })
	if len(r.mons) == 0 {
		return fmt.Errorf("no monitor deployments matched %s in %s", monAppLabel, r.cfg.Namespace)
	}
	if len(r.mons)%2 == 0 {
		return fmt.Errorf("refusing to recover an even-sized monitor set of %d", len(r.mons))
	}

	osdDocs, err := r.deploy.List(ctx, osdAppLabel, false)
	if err != nil {
		return err
	}
	r.osds = nil
	for _, doc := range osdDocs {
		d := appsv1.Deployment{}
		if err := doc.Decode(&d); err != nil {
			return fmt.Errorf("unable to decode OSD deployment %s: %w", doc.Name(), err)
		}
		if err := r.snaps.Capture(doc); err != nil {
			return err
		}
		r.osds = append(r.osds, osdDeployment{Name: d.Name, OSDID: d.Labels[osd.OsdIdLabelKey]})
	}
	if len(r.osds) == 0 {
		return fmt.Errorf("no OSD deployments matched %s in %s", osdAppLabel, r.cfg.Namespace)
	}

	for _, name := range []string{rookOperatorDeployment, ocsOperatorDeployment} {
		doc, err := r.deploy.Get(ctx, name)
		if err != nil {
			return err
		}
		d := appsv1.Deployment{}
		if err := doc.Decode(&d); err != nil {
			return fmt.Errorf("unable to decode operator deployment %s: %w", name, err)
		}
		replicas := int32(1)
		if d.Spec.Replicas != nil {
			replicas = *d.Spec.Replicas
		}
		r.operatorReplicas[name] = replicas
	}
	return nil
}

func (r *MonRecovery) snapshotsComplete(context.Context) error {
	want := len(r.mons) + len(r.osds)
	if r.snaps.Len() != want {
		return fmt.Errorf("captured %d snapshots, want %d", r.snaps.Len(), want)
	}
	if len(r.operatorReplicas) != 2 {
		return fmt.Errorf("operator replica counts incomplete: %v", r.operatorReplicas)
	}
	return nil
}

// monPod resolves the running pod backing one monitor daemon.
func (r *MonRecovery) monPod(ctx context.Context, daemonID string) (string, error) {
	docs, err := r.pod.List(ctx, monAppLabel+","+monDaemonIDLabel+"="+daemonID, false)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("no pod found for monitor %s", daemonID)
	}
	return docs[0].Name(), nil
}

// osdPod resolves the running pod backing one OSD.
func (r *MonRecovery) osdPod(ctx context.Context, osdID string) (string, error) {
	docs, err := r.pod.List(ctx, osdAppLabel+","+osd.OsdIdLabelKey+"="+osdID, false)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("no pod found for OSD %s", osdID)
	}
	return docs[0].Name(), nil
}

// getOCPVersion reads the last completed entry of the cluster's update
// history. Tool invocation details differ across releases, so recovery gates
// on it once per run.
func (r *MonRecovery) getOCPVersion(ctx context.Context) (*version.Version, error) {
	if r.ocpVersion != nil {
		return r.ocpVersion, nil
	}
	cv := ocp.NewClient(r.gw, "clusterversion", "", r.log)
	doc, err := cv.Get(ctx, "version")
	if err != nil {
		return nil, err
	}
	clusterVersion := configv1.ClusterVersion{}
	if err := doc.Decode(&clusterVersion); err != nil {
		return nil, fmt.Errorf("unable to decode clusterversion: %w", err)
	}
	for _, h := range clusterVersion.Status.History {
		if h.State == configv1.CompletedUpdate {
			v, err := version.NewVersion(h.Version)
			if err != nil {
				return nil, err
			}
			r.ocpVersion = v
			return v, nil
		}
	}
	return nil, fmt.Errorf("clusterversion has no completed update in its history")
}
