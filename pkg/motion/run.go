package motion

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/unklstewy/vega-mount/internal/logging"
)

// Run is the view of the orchestrator handed to a running Operation.
type Run struct {
	task *Task
	o    *Orchestrator
}

// Task returns the task this run belongs to.
func (r *Run) Task() *Task { return r.task }

// Cancelled reports whether a stop has been requested.
func (r *Run) Cancelled() bool { return r.task.cancelRequested() }

// Done is closed when a stop is requested.
func (r *Run) Done() <-chan struct{} { return r.task.cancel }

// Context is cancelled on forced termination. Pass it to driver calls.
func (r *Run) Context() context.Context { return r.task.ctx }

// Logger returns the orchestrator's logger tagged with the task.
func (r *Run) Logger() logging.Logger {
	return r.o.log.With(logging.String("task", r.task.name), logging.String("id", r.task.id.String()))
}

// Sleep waits for d and reports false if the task was stopped meanwhile.
func (r *Run) Sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !r.Cancelled()
	case <-r.task.cancel:
		return false
	case <-r.task.ctx.Done():
		return false
	}
}

// PointTo slews to (az, el) and blocks until the mount settles. It returns
// false only if the task was stopped, in which case the slew has been
// aborted. A pending retarget ends the wait early with true so the caller
// can aim at a fresher position; retarget may be nil.
func (r *Run) PointTo(az, el float64, retarget *atomic.Bool) bool {
	return r.drive("point_to", func(ctx context.Context) error {
		return r.o.driver.SlewTo(ctx, az, el)
	}, retarget)
}

// drive issues start and polls the driver until motion ends. Driver
// errors are logged and end the wait without stopping the task.
func (r *Run) drive(what string, start func(context.Context) error, retarget *atomic.Bool) bool {
	o := r.o
	ctx := r.task.ctx
	log := r.Logger()

	if r.Cancelled() || ctx.Err() != nil {
		return false
	}

	if err := start(ctx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.task.failed.Store(true)
		log.Error(ctx, "mount rejected command", logging.String("command", what), logging.Err(err))
		return true
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if o.cfg.MaxSlew > 0 {
		t := time.NewTimer(o.cfg.MaxSlew)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-r.task.cancel:
			o.abort("cancelled")
			return false
		case <-ctx.Done():
			return false
		case <-deadline:
			o.abort("slew timeout")
			log.Warn(ctx, "slew did not finish in time, aborted",
				logging.String("command", what), logging.Duration("limit", o.cfg.MaxSlew))
			return true
		case <-ticker.C:
			if retarget != nil && retarget.CompareAndSwap(true, false) {
				o.abort("retarget")
				return true
			}
			slewing, err := o.driver.IsSlewing(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				r.task.failed.Store(true)
				log.Error(ctx, "mount status poll failed", logging.String("command", what), logging.Err(err))
				return true
			}
			if !slewing {
				return true
			}
		}
	}
}
