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

// Package resource manages the lifecycle of one desired-state document bound
// to a control-plane client.
package resource

import (
	"context"
	"slices"

	"github.com/go-logr/logr"

	"github.com/jordigilh/odf-mon-recovery/pkg/ocp"
)

// protectedStorageClasses are shared default storage configuration objects.
// Deleting either would destabilize every other consumer of the cluster, so
// Delete refuses to act on them.
var protectedStorageClasses = []string{
	"ocs-storagecluster-ceph-rbd",
	"ocs-storagecluster-cephfs",
}

// Instance binds a desired-state document to a client for one resource.
type Instance struct {
	client   *ocp.Client
	identity ocp.Identity
	doc      ocp.Document
	deleted  bool
	log      logr.Logger
}

func New(client *ocp.Client, doc ocp.Document, log logr.Logger) *Instance {
	return &Instance{
		client:   client,
		identity: doc.Identity(),
		doc:      doc,
		log:      log.WithValues("name", doc.Name(), "kind", doc.Kind()),
	}
}

func (i *Instance) Name() string           { return i.identity.Name }
func (i *Instance) Identity() ocp.Identity { return i.identity }
func (i *Instance) IsDeleted() bool        { return i.deleted }

// Document returns a copy of the held desired-state document.
func (i *Instance) Document() ocp.Document { return i.doc.DeepCopy() }

// Create submits the held document. The control plane's raw error text (for
// example "already exists") is surfaced unchanged. With reload, the held
// document is resynchronized to capture server-assigned fields.
func (i *Instance) Create(ctx context.Context, reload bool) (ocp.Document, error) {
	created, err := i.client.Create(ctx, i.doc, "")
	if err != nil {
		return nil, err
	}
	i.deleted = false
	if reload {
		if err := i.Reload(ctx); err != nil {
			return created, err
		}
		return i.doc.DeepCopy(), nil
	}
	return created, nil
}

// Reload replaces the held document and identity with the remote observed
// state.
func (i *Instance) Reload(ctx context.Context) error {
	doc, err := i.client.Get(ctx, i.identity.Name)
	if err != nil {
		return err
	}
	i.doc = doc
	i.identity = doc.Identity()
	return nil
}

// Apply overwrites the held document, re-applies it and reloads.
func (i *Instance) Apply(ctx context.Context, doc ocp.Document) error {
	i.doc = doc.DeepCopy()
	i.identity = doc.Identity()
	if err := i.client.Apply(ctx, i.doc); err != nil {
		return err
	}
	return i.Reload(ctx)
}

// Delete removes the remote object. A second call is a no-op without any
// remote delete, and the protected default storage classes are never deleted.
func (i *Instance) Delete(ctx context.Context, wait, force bool) error {
	if slices.Contains(protectedStorageClasses, i.identity.Name) {
		i.log.Info("refusing to delete protected default resource")
		return nil
	}
	if i.deleted {
		i.log.V(2).Info("already deleted, skipping remote call")
		return nil
	}
	if err := i.client.Delete(ctx, i.identity.Name, nil, wait, force); err != nil {
		return err
	}
	i.deleted = true
	return nil
}
