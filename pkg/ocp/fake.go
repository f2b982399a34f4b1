package ocp

import (
	"context"
	"strings"
	"sync"
)

type fakeStub struct {
	prefix string
	fn     func(args []string) (stdout []byte, stderr []byte, err error)
}

// Fake is an in-memory Gateway for tests. Responses are scripted per command
// prefix and every invocation is recorded in order, so tests can assert both
// what was asked of the control plane and in which sequence.
type Fake struct {
	mu    sync.Mutex
	stubs []fakeStub
	calls [][]string
}

func NewFake() *Fake {
	return &Fake{}
}

// Stub registers a canned stdout for every command whose space-joined
// arguments start with prefix. Later registrations win over earlier ones.
func (f *Fake) Stub(prefix, stdout string, err error) {
	f.StubFunc(prefix, func([]string) ([]byte, []byte, error) {
		return []byte(stdout), nil, err
	})
}

// StubFunc registers a handler for every command whose space-joined arguments
// start with prefix.
func (f *Fake) StubFunc(prefix string, fn func(args []string) ([]byte, []byte, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs = append(f.stubs, fakeStub{prefix: prefix, fn: fn})
}

// Exec records the call and replays the first matching stub, newest first.
// Unstubbed commands succeed with empty output, which keeps orchestration
// tests focused on the calls they care about.
func (f *Fake) Exec(_ context.Context, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	stubs := make([]fakeStub, len(f.stubs))
	copy(stubs, f.stubs)
	f.mu.Unlock()

	joined := strings.Join(args, " ")
	for i := len(stubs) - 1; i >= 0; i-- {
		if strings.HasPrefix(joined, stubs[i].prefix) {
			return stubs[i].fn(args)
		}
	}
	return nil, nil, nil
}

// Calls returns every recorded invocation in order.
func (f *Fake) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([][]string, len(f.calls))
	copy(calls, f.calls)
	return calls
}

// CallIndex returns the position of the first recorded call whose space-joined
// arguments start with prefix, or -1 when no call matches.
func (f *Fake) CallIndex(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, call := range f.calls {
		if strings.HasPrefix(strings.Join(call, " "), prefix) {
			return i
		}
	}
	return -1
}

// LastCallIndex is CallIndex scanning from the end.
func (f *Fake) LastCallIndex(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.Join(f.calls[i], " "), prefix) {
			return i
		}
	}
	return -1
}

// CallsMatching returns every recorded invocation whose space-joined
// arguments start with prefix.
func (f *Fake) CallsMatching(prefix string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	matches := [][]string{}
	for _, call := range f.calls {
		if strings.HasPrefix(strings.Join(call, " "), prefix) {
			matches = append(matches, call)
		}
	}
	return matches
}
