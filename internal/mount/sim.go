// Package mount provides the mount drivers the daemon can run against: a
// kinematic simulator and the ASCOM Alpaca client.
package mount

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/unklstewy/vega-mount/pkg/clock"
	"github.com/unklstewy/vega-mount/pkg/coordinates"
	"github.com/unklstewy/vega-mount/pkg/motion"
)

// SimConfig describes the simulated mount.
type SimConfig struct {
	// Rate is the slew speed of each axis in degrees per second.
	Rate float64

	Home    motion.Position
	Park    motion.Position
	Initial motion.Position
}

// Sim is an alt-az mount that moves both axes at a constant rate along
// the shortest azimuth path. It tracks the total azimuth turned so cable
// wrap can be unwound.
type Sim struct {
	cfg   SimConfig
	clock clock.Source

	mu sync.Mutex

	// cumAz is the unwrapped azimuth at the start of the current leg.
	cumAz, el        float64
	toCumAz, toEl    float64
	legStart, legEnd time.Time
	slewing          bool
	slews, aborts    int
}

// NewSim creates a simulator at cfg.Initial. A nil clock uses wall time.
func NewSim(cfg SimConfig, clk clock.Source) *Sim {
	if cfg.Rate <= 0 {
		cfg.Rate = 6
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Sim{
		cfg:   cfg,
		clock: clk,
		cumAz: cfg.Initial.Azimuth,
		el:    cfg.Initial.Elevation,
	}
}

// SlewTo starts a slew to (az, el) from wherever the mount currently is.
func (s *Sim) SlewTo(ctx context.Context, az, el float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLegLocked(az, el)
	return nil
}

func (s *Sim) startLegLocked(az, el float64) {
	now := s.clock.Now()
	cur, curEl := s.settleLocked(now)
	s.cumAz, s.el = cur, curEl

	dAz := coordinates.AzimuthDelta(coordinates.NormalizeAzimuth(cur), az)
	dEl := el - curEl
	seconds := math.Max(math.Abs(dAz), math.Abs(dEl)) / s.cfg.Rate

	s.toCumAz = cur + dAz
	s.toEl = el
	s.legStart = now
	s.legEnd = now.Add(time.Duration(seconds * float64(time.Second)))
	s.slewing = true
	s.slews++
}

// settleLocked interpolates the current unwrapped position and finishes
// the leg once its end time has passed.
func (s *Sim) settleLocked(now time.Time) (cumAz, el float64) {
	if !s.slewing {
		return s.cumAz, s.el
	}
	if !now.Before(s.legEnd) {
		s.cumAz, s.el = s.toCumAz, s.toEl
		s.slewing = false
		return s.cumAz, s.el
	}
	total := s.legEnd.Sub(s.legStart).Seconds()
	f := now.Sub(s.legStart).Seconds() / total
	return s.cumAz + (s.toCumAz-s.cumAz)*f, s.el + (s.toEl-s.el)*f
}

// IsSlewing reports whether the current leg is still in progress.
func (s *Sim) IsSlewing(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleLocked(s.clock.Now())
	return s.slewing, nil
}

// Abort stops the mount where it is.
func (s *Sim) Abort(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cumAz, s.el = s.settleLocked(s.clock.Now())
	s.slewing = false
	s.aborts++
	return nil
}

// Position returns the current azimuth in [0, 360) and elevation.
func (s *Sim) Position(ctx context.Context) (az, el float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cum, el := s.settleLocked(s.clock.Now())
	return coordinates.NormalizeAzimuth(cum), el, nil
}

// CumulativeAzimuth returns the azimuth including full turns since start.
func (s *Sim) CumulativeAzimuth(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cum, _ := s.settleLocked(s.clock.Now())
	return cum, nil
}

// FindHome slews to the configured home position.
func (s *Sim) FindHome(ctx context.Context) error {
	return s.SlewTo(ctx, s.cfg.Home.Azimuth, s.cfg.Home.Elevation)
}

// Park slews to the configured park position.
func (s *Sim) Park(ctx context.Context) error {
	return s.SlewTo(ctx, s.cfg.Park.Azimuth, s.cfg.Park.Elevation)
}

// Counters returns how many slews and aborts the simulator has seen.
func (s *Sim) Counters() (slews, aborts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slews, s.aborts
}
