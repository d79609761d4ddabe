package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/unklstewy/vega-mount/pkg/clock"
	"github.com/unklstewy/vega-mount/pkg/coordinates"
	"github.com/unklstewy/vega-mount/pkg/motion"
)

const (
	issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
)

var (
	ecublens = coordinates.Observer{
		Location: coordinates.Geographic{Latitude: 46.5194444, Longitude: 6.565, Altitude: 411},
		Timezone: "Europe/Zurich",
	}
	reference = clock.Fixed(time.Unix(1704063600, 0).UTC())

	polaris = coordinates.EquatorialCoordinates{RightAscension: 2.530301, Declination: 89.264109}
)

// fakeRunner records task starts without running them.
type fakeRunner struct {
	mu     sync.Mutex
	starts int
	err    error
}

func (f *fakeRunner) StartMotionTask(name string, op motion.Operation, opts ...motion.TaskOption) (*motion.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.starts++
	return nil, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// fakeMount reports the last commanded position as its own. Slews last
// slewFor unless aborted.
type fakeMount struct {
	mu      sync.Mutex
	slewFor time.Duration
	slewEnd time.Time
	az, el  float64
	slews   []motion.Position
	aborts  int
}

func (m *fakeMount) SlewTo(ctx context.Context, az, el float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.az, m.el = az, el
	m.slews = append(m.slews, motion.Position{Azimuth: az, Elevation: el})
	m.slewEnd = time.Now().Add(m.slewFor)
	return nil
}

func (m *fakeMount) IsSlewing(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Now().Before(m.slewEnd), nil
}

func (m *fakeMount) Abort(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborts++
	m.slewEnd = time.Time{}
	return nil
}

func (m *fakeMount) Position(ctx context.Context) (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.az, m.el, nil
}

func (m *fakeMount) commanded() []motion.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]motion.Position(nil), m.slews...)
}

type countingMetrics struct {
	mu        sync.Mutex
	published int
	rejected  int
	modes     []Mode
}

func (c *countingMetrics) ModeChanged(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes = append(c.modes, mode)
}

func (c *countingMetrics) TargetPublished(Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published++
}

func (c *countingMetrics) TargetRejected(Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected++
}

func newTestTracker(runner TaskRunner, pos motion.PositionReader, opts ...Option) *Tracker {
	cfg := DefaultConfig()
	cfg.UpdateInterval = 10 * time.Millisecond
	cfg.LoopInterval = 20 * time.Millisecond
	return New(coordinates.NewEngine(ecublens), runner, pos, reference, cfg, opts...)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestIsValidPosition checks the default envelope boundaries exactly.
func TestIsValidPosition(t *testing.T) {
	tracker := newTestTracker(&fakeRunner{}, &fakeMount{})

	tests := []struct {
		az, el float64
		want   bool
	}{
		{0, 1, true},
		{0, 89, true},
		{359.999999, 45, true},
		{360, 45, false},
		{-0.000001, 45, false},
		{180, 0.999999, false},
		{180, 89.000001, false},
		{180, 45, true},
	}

	for _, tt := range tests {
		if got := tracker.IsValidPosition(tt.az, tt.el); got != tt.want {
			t.Errorf("IsValidPosition(%g, %g) = %v, want %v", tt.az, tt.el, got, tt.want)
		}
	}
}

// TestNeedsMovement checks the strict 0.1 degree threshold against the
// home target (0, 89).
func TestNeedsMovement(t *testing.T) {
	tracker := newTestTracker(&fakeRunner{}, &fakeMount{})

	tests := []struct {
		name   string
		az, el float64
		want   bool
	}{
		{"on target", 0, 89, false},
		{"azimuth exactly at threshold", 0.1, 89, false},
		{"elevation within threshold", 0, 88.95, false},
		{"azimuth across north", 359.95, 89, false},
		{"azimuth past threshold", 0.11, 89, true},
		{"elevation past threshold", 0, 88.8, true},
		{"far away", 180, 30, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tracker.NeedsMovement(tt.az, tt.el); got != tt.want {
				t.Errorf("NeedsMovement(%g, %g) = %v, want %v", tt.az, tt.el, got, tt.want)
			}
		})
	}
}

// TestStartRequiresTarget checks that a mode without a staged target is
// rejected without changing state.
func TestStartRequiresTarget(t *testing.T) {
	runner := &fakeRunner{}
	tracker := newTestTracker(runner, &fakeMount{})

	for _, mode := range []Mode{Equatorial, Galactic, Satellite} {
		err := tracker.Start(mode)
		if !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("Start(%s) error = %v, want ErrInvalidTarget", mode, err)
		}
	}
	if tracker.Mode() != Idle {
		t.Errorf("Mode = %s after rejected starts, want idle", tracker.Mode())
	}
	if runner.count() != 0 {
		t.Errorf("Expected no task starts, got %d", runner.count())
	}
}

// TestSetValidation checks that malformed targets are refused.
func TestSetValidation(t *testing.T) {
	tracker := newTestTracker(&fakeRunner{}, &fakeMount{})

	if err := tracker.SetEquatorial(1, 91); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("SetEquatorial(dec=91) error = %v", err)
	}
	if err := tracker.SetGalactic(math.NaN(), 0); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("SetGalactic(NaN) error = %v", err)
	}
	if err := tracker.SetTLE("not a tle"); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("SetTLE(garbage) error = %v", err)
	}
	if err := tracker.SetTLE(issLine1 + "|" + issLine2); err != nil {
		t.Errorf("SetTLE(iss) error = %v", err)
	}

	if err := tracker.SetEquatorial(30, 30); err != nil {
		t.Fatalf("SetEquatorial: %v", err)
	}
	spec := tracker.Snapshot().Spec
	if spec.Equatorial == nil || spec.Equatorial.RightAscension != 6 {
		t.Errorf("Expected RA to wrap to 6h, got %+v", spec.Equatorial)
	}
}

// TestEquatorialTarget checks the published target for the reference pointing.
func TestEquatorialTarget(t *testing.T) {
	metrics := &countingMetrics{}
	tracker := newTestTracker(&fakeRunner{}, &fakeMount{}, WithMetrics(metrics))
	defer tracker.Stop()

	if err := tracker.SetEquatorial(30, 30); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Start(Equatorial); err != nil {
		t.Fatalf("Start: %v", err)
	}

	target := tracker.Target()
	if math.Abs(target.Azimuth-185.09) > 0.1 || math.Abs(target.Elevation-73.43) > 0.1 {
		t.Errorf("Target = (%.3f, %.3f), want (185.09, 73.43)", target.Azimuth, target.Elevation)
	}
	if !tracker.Snapshot().TargetValid {
		t.Error("Expected target to be valid")
	}
}

// TestSolarProximity checks that pointing at the sun is flagged only while
// the sun is up.
func TestSolarProximity(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want coordinates.SolarProximity
	}{
		{"noon", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), coordinates.SolarCritical},
		{"midnight", time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC), coordinates.SolarClear},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			// Accept any pointing so the night-time sun is still published.
			cfg.Limits.MinElevation = -90
			cfg.Limits.MaxElevation = 90
			tracker := New(coordinates.NewEngine(ecublens), &fakeRunner{}, &fakeMount{}, clock.Fixed(tt.at), cfg)
			defer tracker.Stop()

			sun := coordinates.SunEquatorial(tt.at)
			if err := tracker.SetEquatorial(sun.RightAscension, sun.Declination); err != nil {
				t.Fatal(err)
			}
			if err := tracker.Start(Equatorial); err != nil {
				t.Fatal(err)
			}
			snap := tracker.Snapshot()
			if !snap.TargetValid {
				t.Fatal("Expected the sun's position to be published")
			}
			if snap.Proximity != tt.want {
				t.Errorf("Proximity = %s, want %s", snap.Proximity, tt.want)
			}
		})
	}
}

// TestOutOfRangeTargetKeepsPrevious checks that a target below the
// horizon is never published.
func TestOutOfRangeTargetKeepsPrevious(t *testing.T) {
	metrics := &countingMetrics{}
	tracker := newTestTracker(&fakeRunner{}, &fakeMount{}, WithMetrics(metrics))
	defer tracker.Stop()

	// The south celestial pole never rises at this latitude.
	if err := tracker.SetEquatorial(0, -89); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Start(Equatorial); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := tracker.Snapshot()
	if snap.Target != (motion.Position{Azimuth: 0, Elevation: 89}) {
		t.Errorf("Target = %+v, want home retained", snap.Target)
	}
	if snap.TargetValid {
		t.Error("Expected TargetValid = false")
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.rejected == 0 || metrics.published != 0 {
		t.Errorf("Expected rejections only, got published=%d rejected=%d", metrics.published, metrics.rejected)
	}
}

// TestStartIsIdempotent checks that restarting the same mode with the same
// target neither restarts the task nor raises a retarget.
func TestStartIsIdempotent(t *testing.T) {
	runner := &fakeRunner{}
	tracker := newTestTracker(runner, &fakeMount{})
	defer tracker.Stop()

	if err := tracker.SetEquatorial(polaris.RightAscension, polaris.Declination); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Start(Equatorial); err != nil {
		t.Fatal(err)
	}
	before := tracker.Target()

	if err := tracker.Start(Equatorial); err != nil {
		t.Fatal(err)
	}
	if runner.count() != 1 {
		t.Errorf("Expected 1 task start, got %d", runner.count())
	}
	if tracker.retarget.Load() {
		t.Error("Expected no retarget for an unchanged restart")
	}
	if tracker.Target() != before {
		t.Errorf("Target changed from %+v to %+v", before, tracker.Target())
	}

	// Switching mode in place retargets without a new task.
	if err := tracker.SetGalactic(0, 60); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Start(Galactic); err != nil {
		t.Fatal(err)
	}
	if runner.count() != 1 {
		t.Errorf("Expected mode switch to reuse the task, got %d starts", runner.count())
	}
	if tracker.Mode() != Galactic {
		t.Errorf("Mode = %s, want galactic", tracker.Mode())
	}
	if !tracker.retarget.Load() {
		t.Error("Expected retarget to be raised")
	}
}

// TestRepeatedTrackCommandKeepsSlew checks that staging the same target
// again before each Start, as the command surface does, leaves the running
// slew alone.
func TestRepeatedTrackCommandKeepsSlew(t *testing.T) {
	tle := issLine1 + "|" + issLine2
	tests := []struct {
		name  string
		mode  Mode
		stage func(*Tracker) error
	}{
		{"equatorial", Equatorial, func(tr *Tracker) error {
			return tr.SetEquatorial(polaris.RightAscension, polaris.Declination)
		}},
		{"galactic", Galactic, func(tr *Tracker) error { return tr.SetGalactic(0, 60) }},
		{"satellite", Satellite, func(tr *Tracker) error { return tr.SetTLE(tle) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			tracker := newTestTracker(runner, &fakeMount{})
			defer tracker.Stop()

			for i := 0; i < 2; i++ {
				if err := tt.stage(tracker); err != nil {
					t.Fatal(err)
				}
				if err := tracker.Start(tt.mode); err != nil {
					t.Fatal(err)
				}
			}
			if runner.count() != 1 {
				t.Errorf("Expected 1 task start, got %d", runner.count())
			}
			if tracker.retarget.Load() {
				t.Error("Expected no retarget for a repeated identical command")
			}
		})
	}

	// A changed value still retargets.
	runner := &fakeRunner{}
	tracker := newTestTracker(runner, &fakeMount{})
	defer tracker.Stop()
	if err := tracker.SetEquatorial(polaris.RightAscension, polaris.Declination); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Start(Equatorial); err != nil {
		t.Fatal(err)
	}
	if err := tracker.SetEquatorial(polaris.RightAscension, 45); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Start(Equatorial); err != nil {
		t.Fatal(err)
	}
	if !tracker.retarget.Load() {
		t.Error("Expected retarget after the declination changed")
	}
}

// TestStopResetsTarget checks that Stop returns to Idle at home.
func TestStopResetsTarget(t *testing.T) {
	tracker := newTestTracker(&fakeRunner{}, &fakeMount{})

	if err := tracker.SetEquatorial(polaris.RightAscension, polaris.Declination); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Start(Equatorial); err != nil {
		t.Fatal(err)
	}
	tracker.Stop()

	if tracker.Mode() != Idle {
		t.Errorf("Mode = %s, want idle", tracker.Mode())
	}
	if got := tracker.Target(); got != (motion.Position{Azimuth: 0, Elevation: 89}) {
		t.Errorf("Target = %+v, want home", got)
	}

	// Idle recomputes do nothing.
	tracker.UpdateTargetCoordinates()
	if got := tracker.Target(); got != (motion.Position{Azimuth: 0, Elevation: 89}) {
		t.Errorf("Idle recompute moved target to %+v", got)
	}
}

// TestStartTaskFailure checks that a refused task leaves the tracker idle.
func TestStartTaskFailure(t *testing.T) {
	runner := &fakeRunner{err: motion.ErrClosed}
	tracker := newTestTracker(runner, &fakeMount{})

	if err := tracker.SetEquatorial(polaris.RightAscension, polaris.Declination); err != nil {
		t.Fatal(err)
	}
	err := tracker.Start(Equatorial)
	if !errors.Is(err, motion.ErrClosed) {
		t.Fatalf("Start error = %v, want ErrClosed", err)
	}
	if tracker.Mode() != Idle {
		t.Errorf("Mode = %s, want idle", tracker.Mode())
	}
}

// TestModeSwitchRetargetsRunningSlew runs the tracking loop against a mount
// whose slews never finish on their own: switching mode must abort the
// running slew and continue tracking toward the new target.
func TestModeSwitchRetargetsRunningSlew(t *testing.T) {
	mount := &fakeMount{slewFor: time.Hour}
	cfg := motion.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.StopTimeout = time.Second
	orch := motion.New(mount, cfg)

	tracker := newTestTracker(orch, mount)

	if err := tracker.SetEquatorial(30, 30); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Start(Equatorial); err != nil {
		t.Fatal(err)
	}
	eventually(t, "first slew", func() bool { return len(mount.commanded()) == 1 })
	task := orch.Active()

	gal := coordinates.EquatorialToGalactic(polaris)
	if err := tracker.SetGalactic(gal.Longitude, gal.Latitude); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Start(Galactic); err != nil {
		t.Fatal(err)
	}

	eventually(t, "retargeted slew", func() bool { return len(mount.commanded()) >= 2 })
	second := mount.commanded()[1]
	if math.Abs(second.Elevation-46.95) > 0.1 {
		t.Errorf("Second slew elevation = %.3f, want Polaris at 46.95", second.Elevation)
	}
	if orch.Active() != task {
		t.Error("Expected the original tracking task to keep running")
	}
	if tracker.Mode() != Galactic {
		t.Errorf("Mode = %s, want galactic", tracker.Mode())
	}

	if err := orch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	eventually(t, "tracker idle", func() bool { return tracker.Mode() == Idle })
}

// TestPointToEndsTracking checks that another motion command taking the
// mount leaves the tracker idle.
func TestPointToEndsTracking(t *testing.T) {
	mount := &fakeMount{}
	cfg := motion.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Debounce = 0
	orch := motion.New(mount, cfg)
	defer orch.Close()

	tracker := newTestTracker(orch, mount)
	if err := tracker.SetEquatorial(polaris.RightAscension, polaris.Declination); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Start(Equatorial); err != nil {
		t.Fatal(err)
	}
	eventually(t, "tracking slew", func() bool { return len(mount.commanded()) >= 1 })

	if _, err := orch.PointTo(10, 10); err != nil {
		t.Fatalf("PointTo: %v", err)
	}
	eventually(t, "tracker idle", func() bool { return tracker.Mode() == Idle })
}

// TestParseMode checks command-line mode names.
func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"radec":      Equatorial,
		"Equatorial": Equatorial,
		"gal":        Galactic,
		"tle":        Satellite,
		"idle":       Idle,
	}
	for in, want := range tests {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("azel"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}
