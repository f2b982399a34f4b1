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

// Package sampler provides a bounded blocking retry engine: repeat an
// operation until the caller is satisfied or a deadline elapses, tolerating
// only declared error kinds as "not yet ready".
package sampler

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// state of one poll. The transition function advance is pure so the
// engine's behavior is testable without sleeping.
type state int

const (
	statePolling state = iota
	stateSucceeded
	stateAborted
	stateTimedOut
)

// TimedOutError reports a poll whose deadline elapsed before the caller
// obtained a satisfactory value. It carries the last observation for
// diagnostics.
type TimedOutError struct {
	Attempts  int
	LastValue interface{}
	LastErr   error
}

func (e *TimedOutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("timed out after %d attempts, last error: %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("timed out after %d attempts, last value: %v", e.Attempts, e.LastValue)
}

// Sampler repeatedly invokes Sample, sleeping Interval between attempts but
// never before the first one. Errors for which RetryOn returns true count as
// "not yet ready"; any other error aborts the poll immediately. At least one
// attempt always executes, regardless of Timeout.
type Sampler[T any] struct {
	Timeout  time.Duration
	Interval time.Duration
	Sample   func(ctx context.Context) (T, error)

	// RetryOn declares which errors are tolerated between attempts. A nil
	// RetryOn treats every error as fatal.
	RetryOn func(error) bool

	// Clock and Sleep are injection points for tests. They default to the
	// wall clock.
	Clock clock.PassiveClock
	Sleep func(time.Duration)
}

// Poll runs the sampler until accept returns true for a sampled value. A nil
// accept means the first successful sample terminates the poll. Cancellation
// is cooperative: ctx is consulted between attempts only.
func (s *Sampler[T]) Poll(ctx context.Context, accept func(T) bool) (T, error) {
	var zero T
	clk := s.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	deadline := clk.Now().Add(s.Timeout)
	var last T
	var lastErr error
	haveValue := false

	for attempt := 1; ; attempt++ {
		value, err := s.Sample(ctx)

		accepted := false
		retryable := false
		if err == nil {
			last, lastErr, haveValue = value, nil, true
			accepted = accept == nil || accept(value)
		} else {
			retryable = s.RetryOn != nil && s.RetryOn(err)
			if retryable {
				lastErr = err
			}
		}

		switch advance(clk.Now(), deadline, accepted, err, retryable) {
		case stateSucceeded:
			return value, nil
		case stateAborted:
			return zero, err
		case stateTimedOut:
			timedOut := &TimedOutError{Attempts: attempt, LastErr: lastErr}
			if haveValue {
				timedOut.LastValue = last
			}
			return last, timedOut
		}

		if err := ctx.Err(); err != nil {
			return last, err
		}
		sleep(s.Interval)
	}
}

// advance is the pure attempt-to-next-state transition: an accepted value
// ends the poll, a non-retryable error aborts it, a spent deadline times it
// out, anything else keeps polling.
func advance(now, deadline time.Time, accepted bool, err error, retryable bool) state {
	switch {
	case accepted:
		return stateSucceeded
	case err != nil && !retryable:
		return stateAborted
	case !now.Before(deadline):
		return stateTimedOut
	default:
		return statePolling
	}
}
