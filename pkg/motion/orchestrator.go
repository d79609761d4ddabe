// Package motion arbitrates access to the mount. At most one motion task
// runs at a time; starting a new one first stops the previous one, waiting
// a bounded time for it to acknowledge before abandoning it.
package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/vega-mount/internal/logging"
)

var (
	// ErrThrottled is returned when a motion command arrives within the
	// debounce window of the previously accepted one.
	ErrThrottled = errors.New("command ignored: anti-spam active")

	// ErrForcedTermination is returned when a task ignored cancellation
	// for longer than the stop timeout and was abandoned.
	ErrForcedTermination = errors.New("motion task stop timed out")

	// ErrClosed is returned once the orchestrator has been closed.
	ErrClosed = errors.New("motion orchestrator closed")

	// ErrOutOfRange is returned for positions outside the mount envelope.
	ErrOutOfRange = errors.New("position out of range")
)

// abortTimeout bounds driver aborts issued outside a task's own context.
const abortTimeout = 2 * time.Second

// Config tunes the orchestrator.
type Config struct {
	// StopTimeout bounds how long a stop waits for acknowledgement.
	StopTimeout time.Duration

	// Debounce is the minimum spacing between accepted point/home/standby/untangle commands.
	Debounce time.Duration

	// PollInterval is how often slews are polled; must not exceed one second.
	PollInterval time.Duration

	// MaxSlew aborts slews that never report completion. Zero disables the bound.
	MaxSlew time.Duration

	Limits  Limits
	Home    Position
	Standby Position

	// UntangleStep is the largest azimuth leg, in degrees, taken while unwinding.
	UntangleStep float64
}

// DefaultConfig returns the reference timings: 5 s stop bound, 1 s debounce.
func DefaultConfig() Config {
	return Config{
		StopTimeout:  5 * time.Second,
		Debounce:     time.Second,
		PollInterval: 250 * time.Millisecond,
		MaxSlew:      5 * time.Minute,
		Limits:       DefaultLimits,
		Home:         Position{Azimuth: 0, Elevation: 89},
		Standby:      Position{Azimuth: 0, Elevation: 89},
		UntangleStep: 90,
	}
}

// Metrics receives orchestrator counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	TaskStarted(name string)
	TaskFinished(name string, outcome Outcome, elapsed time.Duration)
	ForcedTermination(name string)
	Throttled(command string)
}

// EventPhase marks a task lifecycle transition.
type EventPhase string

const (
	PhaseStarted  EventPhase = "started"
	PhaseFinished EventPhase = "finished"
)

// Event is one task lifecycle transition, fed to a Recorder.
type Event struct {
	TaskID  string
	Name    string
	Detail  string
	Phase   EventPhase
	Outcome Outcome
	At      time.Time
	Elapsed time.Duration
}

// Recorder persists task lifecycle events. Record must not block.
type Recorder interface {
	Record(Event)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.log = logging.OrNoop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRecorder sets the lifecycle event recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithNow overrides the time source used for debouncing and timestamps.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator owns the single motion-task slot.
type Orchestrator struct {
	driver   Driver
	cfg      Config
	log      logging.Logger
	metrics  Metrics
	recorder Recorder
	now      func() time.Time
	limiter  *rate.Limiter

	// seq serialises whole stop-then-start sequences so two callers can
	// never interleave and leave two tasks running.
	seq sync.Mutex

	// mu guards the slot itself and is never held while waiting.
	mu     sync.Mutex
	active *Task
	closed bool
}

// New creates an orchestrator driving d.
func New(d Driver, cfg Config, opts ...Option) *Orchestrator {
	if cfg.PollInterval <= 0 || cfg.PollInterval > time.Second {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultConfig().StopTimeout
	}
	if cfg.UntangleStep <= 0 || cfg.UntangleStep >= 180 {
		cfg.UntangleStep = DefaultConfig().UntangleStep
	}

	limit := rate.Inf
	if cfg.Debounce > 0 {
		limit = rate.Every(cfg.Debounce)
	}

	o := &Orchestrator{
		driver:  d,
		cfg:     cfg,
		log:     logging.Noop(),
		now:     time.Now,
		limiter: rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With(logging.Component("motion"))
	return o
}

// Config returns the orchestrator's effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Active returns the running task, or nil when the slot is empty.
func (o *Orchestrator) Active() *Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// StartMotionTask stops whatever is running and launches op as the sole
// active task. The previous task has either acknowledged cancellation or
// been forcibly terminated by the time op starts.
func (o *Orchestrator) StartMotionTask(name string, op Operation, opts ...TaskOption) (*Task, error) {
	o.seq.Lock()
	defer o.seq.Unlock()

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := o.stopLocked(); err != nil {
		// The slot is free either way; the failure is already logged.
		o.log.Warn(context.Background(), "starting over a forcibly terminated task",
			logging.String("task", name), logging.Err(err))
	}

	task := newTask(name, o.now(), opts...)

	o.mu.Lock()
	o.active = task
	o.mu.Unlock()

	o.log.Info(task.ctx, "motion task started",
		logging.String("task", name), logging.String("id", task.id.String()), logging.String("detail", task.detail))
	if o.metrics != nil {
		o.metrics.TaskStarted(name)
	}
	o.record(task, PhaseStarted, "")

	go o.run(task, op)
	return task, nil
}

// StopMotionTask cancels the active task and waits for it to exit. If it
// does not acknowledge within the stop timeout it is terminated: its
// context is cancelled, the mount is aborted and ErrForcedTermination is
// returned. The slot is empty afterwards in every case.
func (o *Orchestrator) StopMotionTask() error {
	o.seq.Lock()
	defer o.seq.Unlock()
	return o.stopLocked()
}

// Close stops the active task and rejects further starts.
func (o *Orchestrator) Close() error {
	o.seq.Lock()
	defer o.seq.Unlock()

	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	return o.stopLocked()
}

// stopLocked must be called with seq held.
func (o *Orchestrator) stopLocked() error {
	o.mu.Lock()
	task := o.active
	o.mu.Unlock()

	if task == nil {
		return nil
	}

	o.log.Debug(context.Background(), "stopping motion task",
		logging.String("task", task.name), logging.String("id", task.id.String()))
	task.requestCancel()

	timer := time.NewTimer(o.cfg.StopTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-task.done:
		o.log.Info(context.Background(), "motion task stopped", logging.String("task", task.name))
	case <-timer.C:
		task.terminated.Store(true)
		task.terminate()
		o.abort("forced termination")

		err = fmt.Errorf("%w: %s after %s", ErrForcedTermination, task.name, o.cfg.StopTimeout)
		o.log.Error(context.Background(), "motion task did not acknowledge cancellation, terminated",
			logging.String("task", task.name), logging.String("id", task.id.String()),
			logging.Duration("timeout", o.cfg.StopTimeout))
		if o.metrics != nil {
			o.metrics.ForcedTermination(task.name)
		}
		o.finish(task)
	}

	o.mu.Lock()
	if o.active == task {
		o.active = nil
	}
	o.mu.Unlock()

	return err
}

func (o *Orchestrator) run(task *Task, op Operation) {
	defer func() {
		if r := recover(); r != nil {
			task.failed.Store(true)
			o.log.Error(context.Background(), "motion task panicked",
				logging.String("task", task.name), logging.Any("panic", r))
		}

		close(task.done)

		o.mu.Lock()
		if o.active == task {
			o.active = nil
		}
		o.mu.Unlock()

		o.finish(task)
	}()

	op(&Run{task: task, o: o})
}

// finish reports the task's end exactly once, whichever of the task itself
// or a forced stop gets there first.
func (o *Orchestrator) finish(task *Task) {
	task.finishOnce.Do(func() {
		outcome := task.outcome()
		elapsed := o.now().Sub(task.started)
		o.log.Debug(context.Background(), "motion task finished",
			logging.String("task", task.name), logging.String("outcome", string(outcome)),
			logging.Duration("elapsed", elapsed))
		if o.metrics != nil {
			o.metrics.TaskFinished(task.name, outcome, elapsed)
		}
		o.record(task, PhaseFinished, outcome)
	})
}

func (o *Orchestrator) record(task *Task, phase EventPhase, outcome Outcome) {
	if o.recorder == nil {
		return
	}
	now := o.now()
	o.recorder.Record(Event{
		TaskID:  task.id.String(),
		Name:    task.name,
		Detail:  task.detail,
		Phase:   phase,
		Outcome: outcome,
		At:      now,
		Elapsed: now.Sub(task.started),
	})
}

func (o *Orchestrator) abort(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if err := o.Abort(ctx); err != nil {
		o.log.Warn(ctx, "mount abort failed", logging.String("reason", reason), logging.Err(err))
	}
}

// allow applies the shared anti-spam debounce.
func (o *Orchestrator) allow(command string) error {
	if o.limiter.AllowN(o.now(), 1) {
		return nil
	}
	o.log.Info(context.Background(), "command ignored: anti-spam active", logging.String("command", command))
	if o.metrics != nil {
		o.metrics.Throttled(command)
	}
	return ErrThrottled
}
