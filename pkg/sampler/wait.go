package sampler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/jordigilh/odf-mon-recovery/pkg/ocp"
)

// observation is one scan of a resource collection: normalized status per
// resource name.
type observation map[string]string

func (o observation) countInCondition(want string) int {
	n := 0
	for _, status := range o {
		if status == want {
			n++
		}
	}
	return n
}

func (o observation) names() []string {
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WaitForStatus blocks until the named resource reports the wanted status.
// The comparison is strict string equality on the normalized STATUS cell. On
// timeout the last observed status is part of the returned error.
func WaitForStatus(ctx context.Context, cli *ocp.Client, name, want string, timeout, interval time.Duration, log logr.Logger) error {
	s := &Sampler[string]{
		Timeout:  timeout,
		Interval: interval,
		Sample: func(ctx context.Context) (string, error) {
			return cli.ResourceStatus(ctx, name)
		},
	}
	_, err := s.Poll(ctx, func(status string) bool { return status == want })
	if err != nil {
		timedOut := &TimedOutError{}
		if errors.As(err, &timedOut) {
			log.Info("resource did not reach status before deadline", "name", name, "want", want, "lastObserved", timedOut.LastValue)
		}
		return err
	}
	return nil
}

// WaitForResources blocks until the selector-matched collection reaches the
// wanted status: with count > 0, exactly count resources in condition and no
// stragglers in the scanned set; with count == 0, every scanned resource in
// condition. A status lookup failing for one resource is logged and that
// resource excluded from the in-condition set, so partial observability never
// hides the rest of the collection. Transport failures from the list call
// propagate. Returns false, with the full last-observed set logged, when the
// deadline elapses.
func WaitForResources(ctx context.Context, cli *ocp.Client, selector, want string, count int, timeout, interval time.Duration, log logr.Logger) (bool, error) {
	s := &Sampler[observation]{
		Timeout:  timeout,
		Interval: interval,
		Sample: func(ctx context.Context) (observation, error) {
			return scanCollection(ctx, cli, selector, log)
		},
	}
	_, err := s.Poll(ctx, func(scanned observation) bool {
		matched := scanned.countInCondition(want)
		if count > 0 {
			return matched == count && matched == len(scanned)
		}
		return len(scanned) > 0 && matched == len(scanned)
	})
	if err != nil {
		timedOut := &TimedOutError{}
		if errors.As(err, &timedOut) {
			scanned, _ := timedOut.LastValue.(observation)
			for _, name := range scanned.names() {
				log.Info("resource status at deadline", "selector", selector, "name", name, "status", scanned[name], "want", want)
			}
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// WaitForDelete blocks until the named resource is gone. A NotFound from the
// control plane is the success condition, not an error.
func WaitForDelete(ctx context.Context, cli *ocp.Client, name string, timeout, interval time.Duration, log logr.Logger) error {
	s := &Sampler[bool]{
		Timeout:  timeout,
		Interval: interval,
		Sample: func(ctx context.Context) (bool, error) {
			_, err := cli.Get(ctx, name)
			if ocp.IsNotFound(err) {
				return true, nil
			}
			if err != nil {
				return false, err
			}
			return false, nil
		},
	}
	_, err := s.Poll(ctx, func(gone bool) bool { return gone })
	if err != nil {
		log.Info("resource still present at deadline", "name", name)
	}
	return err
}

// WaitForDrain blocks until the selector matches no resources at all.
func WaitForDrain(ctx context.Context, cli *ocp.Client, selector string, timeout, interval time.Duration, log logr.Logger) error {
	s := &Sampler[int]{
		Timeout:  timeout,
		Interval: interval,
		Sample: func(ctx context.Context) (int, error) {
			docs, err := cli.List(ctx, selector, false)
			if err != nil {
				return 0, err
			}
			return len(docs), nil
		},
	}
	_, err := s.Poll(ctx, func(remaining int) bool { return remaining == 0 })
	if err != nil {
		timedOut := &TimedOutError{}
		if errors.As(err, &timedOut) {
			log.Info("resources still present at deadline", "selector", selector, "remaining", timedOut.LastValue)
		}
	}
	return err
}

// scanCollection lists the selector scope and resolves each member's status.
func scanCollection(ctx context.Context, cli *ocp.Client, selector string, log logr.Logger) (observation, error) {
	docs, err := cli.List(ctx, selector, false)
	if err != nil {
		return nil, err
	}
	scanned := observation{}
	for _, doc := range docs {
		name := doc.Name()
		status, err := cli.ResourceStatus(ctx, name)
		if err != nil {
			log.Info("skipping resource with unreadable status", "name", name, "error", err.Error())
			continue
		}
		scanned[name] = status
	}
	return scanned, nil
}
