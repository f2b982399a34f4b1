package recovery

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// withRetry bounds transient failures of individual remote operations (file
// copy, remote exec) whose transport is a CLI invocation. Whole phases are
// never retried.
func withRetry(ctx context.Context, log logr.Logger, attempts int, backoff time.Duration, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < attempts {
			log.V(1).Info("remote operation failed, retrying", "attempt", attempt, "error", err.Error())
			time.Sleep(backoff)
		}
	}
	return err
}
