package recovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/jordigilh/odf-mon-recovery/pkg/ocp"
)

// snapshotStore captures the desired-state documents of every workload the
// recovery will mutate, before the first mutating phase, so the revert phase
// can restore exactly what changed. Snapshots live under the run's backup
// directory and are reverted exactly once.
type snapshotStore struct {
	dir      string
	docs     map[string]ocp.Document
	order    []string
	reverted bool
	log      logr.Logger
}

func newSnapshotStore(dir string, log logr.Logger) *snapshotStore {
	return &snapshotStore{dir: dir, docs: map[string]ocp.Document{}, log: log}
}

// Capture deep-copies the document and persists it keyed by name. Capturing
// the same name twice keeps the first copy: the pre-mutation state is the one
// worth restoring.
func (s *snapshotStore) Capture(doc ocp.Document) error {
	name := doc.Name()
	if name == "" {
		return fmt.Errorf("cannot snapshot a document without a name")
	}
	if _, ok := s.docs[name]; ok {
		return nil
	}
	copied := doc.DeepCopy()
	raw, err := copied.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, name+".yaml"), raw, 0o600); err != nil {
		return err
	}
	s.docs[name] = copied
	s.order = append(s.order, name)
	return nil
}

func (s *snapshotStore) Get(name string) (ocp.Document, bool) {
	doc, ok := s.docs[name]
	if !ok {
		return nil, false
	}
	return doc.DeepCopy(), true
}

func (s *snapshotStore) Len() int {
	return len(s.docs)
}

// RevertAll replaces every snapshotted resource with its captured document,
// in capture order, in one batch. A second call is an error: snapshots are
// reverted exactly once per run.
func (s *snapshotStore) RevertAll(ctx context.Context, cli *ocp.Client) error {
	if s.reverted {
		return fmt.Errorf("snapshots were already reverted in this run")
	}
	for _, name := range s.order {
		if err := cli.Replace(ctx, s.docs[name], true); err != nil {
			return fmt.Errorf("unable to restore snapshot of %s: %w", name, err)
		}
		s.log.Info("restored resource from snapshot", "name", name)
	}
	s.reverted = true
	return nil
}
