// Package tracking follows a moving sky target. A Tracker recomputes the
// target's azimuth/elevation on a fast timer and keeps the mount on it
// through a long-running motion task.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unklstewy/vega-mount/internal/logging"
	"github.com/unklstewy/vega-mount/pkg/clock"
	"github.com/unklstewy/vega-mount/pkg/coordinates"
	"github.com/unklstewy/vega-mount/pkg/motion"
)

// ErrInvalidTarget is returned when a mode is started without a usable
// target, or a target is given with out-of-range values.
var ErrInvalidTarget = errors.New("invalid tracking target")

// TaskRunner starts exclusive motion tasks. *motion.Orchestrator implements it.
type TaskRunner interface {
	StartMotionTask(name string, op motion.Operation, opts ...motion.TaskOption) (*motion.Task, error)
}

// Metrics receives tracker counters.
type Metrics interface {
	ModeChanged(mode Mode)
	TargetPublished(mode Mode)
	TargetRejected(mode Mode)
}

// Config tunes a Tracker.
type Config struct {
	// UpdateInterval is the recompute cadence of the target.
	UpdateInterval time.Duration

	// LoopInterval is the cadence at which the mount is re-pointed.
	LoopInterval time.Duration

	// Threshold is the smallest per-axis error, in degrees, worth a slew.
	Threshold float64

	Limits motion.Limits
	Home   motion.Position
}

// DefaultConfig returns the 100 ms / 2 s / 0.1 degree reference tuning.
func DefaultConfig() Config {
	return Config{
		UpdateInterval: 100 * time.Millisecond,
		LoopInterval:   2 * time.Second,
		Threshold:      0.1,
		Limits:         motion.DefaultLimits,
		Home:           motion.Position{Azimuth: 0, Elevation: 89},
	}
}

// TargetSpec holds the staged input for each mode. Values are replaced,
// never mutated, so a copied TargetSpec is safe to read without the lock.
type TargetSpec struct {
	Equatorial *coordinates.EquatorialCoordinates
	Galactic   *coordinates.GalacticCoordinates
	TLE        *coordinates.TLE
}

// Snapshot is a consistent view of the tracker for status reports.
type Snapshot struct {
	Mode   Mode
	Target motion.Position
	Spec   TargetSpec

	// TargetValid is false while the latest recompute fell outside the
	// limits and the previous target is being held.
	TargetValid bool
	UpdatedAt   time.Time
	Proximity   coordinates.SolarProximity
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(t *Tracker) { t.log = logging.OrNoop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// Tracker is the tracking state machine. Construct one per mount.
type Tracker struct {
	engine   *coordinates.Engine
	runner   TaskRunner
	position motion.PositionReader
	clock    clock.Source
	cfg      Config
	log      logging.Logger
	metrics  Metrics

	// startMu serialises Start and Stop. It may be held while the
	// orchestrator stops a previous task, so the tracking loop never takes it.
	startMu sync.Mutex

	// mu guards everything below and is never held across a blocking call.
	mu          sync.Mutex
	mode        Mode
	spec        TargetSpec
	specRev     uint64
	startedRev  uint64
	target      motion.Position
	targetValid bool
	updatedAt   time.Time
	proximity   coordinates.SolarProximity
	generation  uint64
	timerStop   chan struct{}

	// retarget is raised by Start and consumed by the active point-to.
	retarget atomic.Bool

	// wake cuts the tracking loop's sleep short after a retarget.
	wake chan struct{}
}

// New creates an idle Tracker. position is read by the tracking loop to
// decide whether the mount needs to move.
func New(engine *coordinates.Engine, runner TaskRunner, position motion.PositionReader, clk clock.Source, cfg Config, opts ...Option) *Tracker {
	def := DefaultConfig()
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = def.UpdateInterval
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = def.LoopInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Limits == (motion.Limits{}) {
		cfg.Limits = def.Limits
	}

	t := &Tracker{
		engine:      engine,
		runner:      runner,
		position:    position,
		clock:       clk,
		cfg:         cfg,
		log:         logging.Noop(),
		target:      cfg.Home,
		targetValid: true,
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(logging.Component("tracker"))
	return t
}

// SetEquatorial stages an equatorial target. RA is in hours and wraps
// into [0, 24); declination must lie in [-90, 90]. Staging the value
// already staged changes nothing, so a repeated Start stays a no-op.
func (t *Tracker) SetEquatorial(raHours, decDeg float64) error {
	if !finite(raHours, decDeg) || decDeg < -90 || decDeg > 90 {
		return fmt.Errorf("%w: ra=%g dec=%g", ErrInvalidTarget, raHours, decDeg)
	}
	eq := coordinates.EquatorialCoordinates{
		RightAscension: coordinates.NormalizeRA(raHours),
		Declination:    decDeg,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.spec.Equatorial != nil && *t.spec.Equatorial == eq {
		return nil
	}
	t.spec.Equatorial = &eq
	t.specRev++
	return nil
}

// SetGalactic stages a galactic target; l wraps into [0, 360) and b must
// lie in [-90, 90].
func (t *Tracker) SetGalactic(l, b float64) error {
	if !finite(l, b) || b < -90 || b > 90 {
		return fmt.Errorf("%w: l=%g b=%g", ErrInvalidTarget, l, b)
	}
	gal := coordinates.GalacticCoordinates{Longitude: coordinates.NormalizeAzimuth(l), Latitude: b}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.spec.Galactic != nil && *t.spec.Galactic == gal {
		return nil
	}
	t.spec.Galactic = &gal
	t.specRev++
	return nil
}

// SetTLE parses and stages a satellite element set.
func (t *Tracker) SetTLE(text string) error {
	tle, err := coordinates.ParseTLEText(text)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if old := t.spec.TLE; old != nil && old.Line1 == tle.Line1 && old.Line2 == tle.Line2 {
		return nil
	}
	t.spec.TLE = tle
	t.specRev++
	return nil
}

// Start switches to mode. Starting Idle is the same as Stop. From Idle the
// recompute timer is armed and the tracking task launched; while already
// tracking the mode is switched in place and the running slew is told to
// retarget. Restarting the current mode with an unchanged target is a no-op.
// On error nothing is changed.
func (t *Tracker) Start(mode Mode) error {
	if mode == Idle {
		t.Stop()
		return nil
	}

	t.startMu.Lock()
	defer t.startMu.Unlock()

	t.mu.Lock()
	if err := validate(mode, t.spec); err != nil {
		t.mu.Unlock()
		return err
	}

	if t.mode != Idle {
		if t.mode == mode && t.startedRev == t.specRev {
			t.mu.Unlock()
			return nil
		}
		prev := t.mode
		t.mode = mode
		t.startedRev = t.specRev
		t.mu.Unlock()

		t.log.Info(context.Background(), "tracking mode switched",
			logging.String("from", prev.String()), logging.String("to", mode.String()))
		t.modeChanged(mode)
		t.UpdateTargetCoordinates()
		t.retarget.Store(true)
		t.poke()
		return nil
	}

	t.mode = mode
	t.startedRev = t.specRev
	t.targetValid = true
	t.generation++
	gen := t.generation
	t.armTimerLocked()
	t.mu.Unlock()

	t.modeChanged(mode)
	t.UpdateTargetCoordinates()

	_, err := t.runner.StartMotionTask("tracking", func(r *motion.Run) {
		t.track(r, gen)
	}, motion.WithDetail(mode.String()))
	if err != nil {
		t.mu.Lock()
		if t.generation == gen {
			t.goIdleLocked()
		}
		t.mu.Unlock()
		t.modeChanged(Idle)
		return fmt.Errorf("start tracking task: %w", err)
	}

	t.log.Info(context.Background(), "tracking started", logging.String("mode", mode.String()))
	return nil
}

// Stop returns to Idle, disarms the recompute timer and resets the target
// to home. The tracking task notices on its next iteration and exits.
func (t *Tracker) Stop() {
	t.startMu.Lock()
	defer t.startMu.Unlock()

	t.mu.Lock()
	wasTracking := t.goIdleLocked()
	t.mu.Unlock()

	if wasTracking {
		t.log.Info(context.Background(), "tracking stopped")
		t.modeChanged(Idle)
	}
}

// goIdleLocked reports whether the tracker was tracking.
func (t *Tracker) goIdleLocked() bool {
	if t.timerStop != nil {
		close(t.timerStop)
		t.timerStop = nil
	}
	was := t.mode != Idle
	t.mode = Idle
	t.target = t.cfg.Home
	t.targetValid = true
	return was
}

// Mode returns the current mode.
func (t *Tracker) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Target returns the published target.
func (t *Tracker) Target() motion.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

// Snapshot returns mode, target and staged spec in one consistent read.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Mode:        t.mode,
		Target:      t.target,
		Spec:        t.spec,
		TargetValid: t.targetValid,
		UpdatedAt:   t.updatedAt,
		Proximity:   t.proximity,
	}
}

// NeedsMovement reports whether the mount at (az, el) is more than the
// threshold away from the target on either axis. Azimuth error is measured
// the short way round.
func (t *Tracker) NeedsMovement(az, el float64) bool {
	t.mu.Lock()
	target := t.target
	t.mu.Unlock()

	dAz := math.Abs(coordinates.AzimuthDelta(az, target.Azimuth))
	dEl := math.Abs(target.Elevation - el)
	return dAz > t.cfg.Threshold || dEl > t.cfg.Threshold
}

// IsValidPosition reports whether (az, el) lies inside the configured
// limits: azimuth in [0, 360), elevation in [1, 89] by default.
func (t *Tracker) IsValidPosition(az, el float64) bool {
	return t.cfg.Limits.Contains(az, el)
}

// UpdateTargetCoordinates recomputes the target for the current mode and
// publishes it when it lies inside the limits. Out-of-range results keep
// the previous target. It does nothing while Idle.
func (t *Tracker) UpdateTargetCoordinates() {
	t.mu.Lock()
	mode, spec := t.mode, t.spec
	t.mu.Unlock()

	if mode == Idle {
		return
	}

	now := t.clock.Now()
	pos, err := t.compute(mode, spec, now)
	if err != nil {
		t.reject(mode, fmt.Sprintf("cannot compute target: %v", err))
		return
	}
	if !t.IsValidPosition(pos.Azimuth, pos.Elevation) {
		t.reject(mode, fmt.Sprintf("target az=%.2f el=%.2f outside limits, holding previous target", pos.Azimuth, pos.Elevation))
		return
	}

	// A set sun cannot blind the feed.
	proximity := coordinates.SolarClear
	if sun := t.engine.Sun(now); sun.IsSunAboveHorizon() {
		proximity = coordinates.ClassifySolarProximity(
			sun.Separation(coordinates.HorizontalCoordinates{Altitude: pos.Elevation, Azimuth: pos.Azimuth}),
		)
	}

	t.mu.Lock()
	if t.mode != mode {
		// Stopped or switched while computing.
		t.mu.Unlock()
		return
	}
	recovered := !t.targetValid
	prevProximity := t.proximity
	t.target = pos
	t.targetValid = true
	t.updatedAt = now
	t.proximity = proximity
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.TargetPublished(mode)
	}
	if recovered {
		t.log.Info(context.Background(), "target back inside limits",
			logging.Float("azimuth", pos.Azimuth), logging.Float("elevation", pos.Elevation))
	}
	if proximity != prevProximity && proximity != coordinates.SolarClear {
		t.log.Warn(context.Background(), "target is close to the sun",
			logging.String("proximity", proximity.String()), logging.String("mode", mode.String()))
	}
}

func (t *Tracker) compute(mode Mode, spec TargetSpec, now time.Time) (motion.Position, error) {
	var h coordinates.HorizontalCoordinates
	switch mode {
	case Equatorial:
		h = t.engine.EquatorialToHorizontal(spec.Equatorial.RightAscension, spec.Equatorial.Declination, now)
	case Galactic:
		h = t.engine.GalacticToHorizontal(spec.Galactic.Longitude, spec.Galactic.Latitude, now)
	case Satellite:
		var err error
		h, err = t.engine.SatelliteToHorizontal(spec.TLE, now)
		if err != nil {
			return motion.Position{}, err
		}
	default:
		return motion.Position{}, fmt.Errorf("no transform for mode %s", mode)
	}
	return motion.Position{Azimuth: h.Azimuth, Elevation: h.Altitude}, nil
}

// reject logs the first of a run of unusable recomputes; repeats at the
// timer cadence are only counted.
func (t *Tracker) reject(mode Mode, reason string) {
	t.mu.Lock()
	first := t.targetValid && t.mode == mode
	if t.mode == mode {
		t.targetValid = false
	}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.TargetRejected(mode)
	}
	if first {
		t.log.Warn(context.Background(), reason, logging.String("mode", mode.String()))
	}
}

// armTimerLocked starts the recompute timer. The ticker goroutine only
// hands ticks to the recompute loop; the loop owns the recompute.
func (t *Tracker) armTimerLocked() {
	if t.timerStop != nil {
		close(t.timerStop)
	}
	stop := make(chan struct{})
	t.timerStop = stop

	ticks := make(chan time.Time, 1)
	go func() {
		ticker := time.NewTicker(t.cfg.UpdateInterval)
		defer ticker.Stop()
		defer close(ticks)
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				select {
				case ticks <- now:
				default:
					// Recompute still busy; drop the tick.
				}
			}
		}
	}()

	go func() {
		for range ticks {
			select {
			case <-stop:
				continue
			default:
			}
			t.UpdateTargetCoordinates()
		}
	}()
}

// track is the body of the tracking motion task.
func (t *Tracker) track(r *motion.Run, gen uint64) {
	ctx := r.Context()
	defer t.taskExited(r, gen)

	for {
		if r.Cancelled() {
			return
		}

		// Any retarget raised before this read is satisfied by it.
		t.retarget.Store(false)

		t.mu.Lock()
		mode, target, current := t.mode, t.target, t.generation == gen
		t.mu.Unlock()
		if mode == Idle || !current {
			return
		}

		az, el, err := t.position.Position(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			t.log.Warn(ctx, "cannot read mount position", logging.Err(err))
		case t.NeedsMovement(az, el):
			t.log.Debug(ctx, "re-pointing",
				logging.Float("azimuth", target.Azimuth), logging.Float("elevation", target.Elevation))
			if !r.PointTo(target.Azimuth, target.Elevation, &t.retarget) {
				return
			}
		}

		if !t.pause(r) {
			return
		}
	}
}

// pause waits one loop interval, returning early on retarget and false
// when the task is stopped.
func (t *Tracker) pause(r *motion.Run) bool {
	timer := time.NewTimer(t.cfg.LoopInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.wake:
	case <-r.Done():
		return false
	case <-r.Context().Done():
		return false
	}
	return !r.Cancelled()
}

// taskExited returns the tracker to Idle when its own task ends while
// still tracking, e.g. because another motion command took the mount.
func (t *Tracker) taskExited(r *motion.Run, gen uint64) {
	t.mu.Lock()
	idled := false
	if t.generation == gen && t.mode != Idle {
		idled = t.goIdleLocked()
	}
	t.mu.Unlock()

	if idled {
		t.log.Info(context.Background(), "tracking task ended, tracker idle",
			logging.String("id", r.Task().ID().String()))
		t.modeChanged(Idle)
	}
}

func (t *Tracker) poke() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tracker) modeChanged(mode Mode) {
	if t.metrics != nil {
		t.metrics.ModeChanged(mode)
	}
}

func validate(mode Mode, spec TargetSpec) error {
	switch mode {
	case Equatorial:
		if spec.Equatorial == nil {
			return fmt.Errorf("%w: no equatorial target set", ErrInvalidTarget)
		}
	case Galactic:
		if spec.Galactic == nil {
			return fmt.Errorf("%w: no galactic target set", ErrInvalidTarget)
		}
	case Satellite:
		if spec.TLE == nil {
			return fmt.Errorf("%w: no TLE set", ErrInvalidTarget)
		}
	default:
		return fmt.Errorf("%w: unknown mode %s", ErrInvalidTarget, mode)
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
