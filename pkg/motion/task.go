package motion

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Outcome describes how a motion task ended.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeTerminated Outcome = "terminated"
	OutcomeFailed     Outcome = "failed"
)

// Operation is the body of a motion task. It must poll run for
// cancellation at least once a second.
type Operation func(run *Run)

// Task is the handle of a running motion operation.
type Task struct {
	id      uuid.UUID
	name    string
	detail  string
	started time.Time

	// cancel is closed to request a cooperative stop.
	cancel     chan struct{}
	cancelOnce sync.Once

	// ctx is cancelled on forced termination; drivers observe it.
	ctx       context.Context
	terminate context.CancelFunc

	// done is closed when the operation returns.
	done chan struct{}

	terminated atomic.Bool
	failed     atomic.Bool
	finishOnce sync.Once
}

// TaskOption customises a task at start.
type TaskOption func(*Task)

// WithDetail attaches a human-readable description of the task's arguments.
func WithDetail(detail string) TaskOption {
	return func(t *Task) { t.detail = detail }
}

func newTask(name string, now time.Time, opts ...TaskOption) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		id:        uuid.New(),
		name:      name,
		started:   now,
		cancel:    make(chan struct{}),
		ctx:       ctx,
		terminate: cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID returns the task's unique identifier.
func (t *Task) ID() uuid.UUID { return t.id }

// Name returns the operation name, e.g. "point_to".
func (t *Task) Name() string { return t.name }

// Detail returns the description given with WithDetail.
func (t *Task) Detail() string { return t.detail }

// Started returns when the task was launched.
func (t *Task) Started() time.Time { return t.started }

// Done is closed once the operation has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) requestCancel() {
	t.cancelOnce.Do(func() { close(t.cancel) })
}

func (t *Task) cancelRequested() bool {
	select {
	case <-t.cancel:
		return true
	default:
		return false
	}
}

func (t *Task) outcome() Outcome {
	switch {
	case t.terminated.Load():
		return OutcomeTerminated
	case t.cancelRequested():
		return OutcomeCancelled
	case t.failed.Load():
		return OutcomeFailed
	default:
		return OutcomeCompleted
	}
}
