package transfer

import (
	"context"
	"sync"
	"time"
)

// Kind distinguishes the transfer direction.
type Kind int

const (
	KindDownload Kind = iota
	KindUpload
)

func (k Kind) String() string {
	if k == KindUpload {
		return "upload"
	}
	return "download"
}

// State is the lifecycle position of a task.
type State int

const (
	StateRunning State = iota
	StateDone
	StateFailed
	StateCancelled
)

// Task is one in-flight transfer. Tasks are created by the Manager and
// shared between callers that request the same target, so all state access
// goes through the mutex.
type Task struct {
	// ID is unique per task and tags log lines and session fields.
	ID string

	Kind      Kind
	Account   string
	OcID      string
	ServerURL string
	LocalPath string
	StartedAt time.Time

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// Wait blocks until the task finishes or ctx is cancelled, then returns the
// task's terminal error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// State returns the task's current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the terminal error, or nil while running, on success, or after
// cancellation.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Cancel aborts the transfer. Cancellation is not an error: the task settles
// in StateCancelled and Wait returns nil. Safe to call more than once and
// after the task has finished.
func (t *Task) Cancel() {
	t.cancel()
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	switch {
	case err != nil && t.ctx.Err() != nil:
		t.state = StateCancelled
	case err != nil:
		t.state = StateFailed
		t.err = err
	default:
		t.state = StateDone
	}
	t.mu.Unlock()
	close(t.done)
}
