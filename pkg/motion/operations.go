package motion

import (
	"context"
	"fmt"
	"math"

	"github.com/unklstewy/vega-mount/internal/logging"
)

// PointTo validates (az, el), applies the debounce and starts a point_to
// task. Out-of-range requests are rejected without consuming the debounce.
func (o *Orchestrator) PointTo(az, el float64) (*Task, error) {
	if err := o.cfg.Limits.Check(az, el); err != nil {
		return nil, err
	}
	if err := o.allow("point_to"); err != nil {
		return nil, err
	}
	return o.StartMotionTask("point_to", func(r *Run) {
		r.PointTo(az, el, nil)
	}, WithDetail(fmt.Sprintf("az=%.2f el=%.2f", az, el)))
}

// Home drives the mount to its home position, using the driver's native
// homing routine when it has one.
func (o *Orchestrator) Home() (*Task, error) {
	if err := o.allow("home"); err != nil {
		return nil, err
	}
	homer, native := o.driver.(Homer)
	home := o.cfg.Home
	return o.StartMotionTask("home", func(r *Run) {
		if native {
			r.drive("home", homer.FindHome, nil)
			return
		}
		r.PointTo(home.Azimuth, home.Elevation, nil)
	}, WithDetail(fmt.Sprintf("az=%.2f el=%.2f", home.Azimuth, home.Elevation)))
}

// Standby stows the mount at its standby position, parking natively when
// the driver supports it.
func (o *Orchestrator) Standby() (*Task, error) {
	if err := o.allow("standby"); err != nil {
		return nil, err
	}
	parker, native := o.driver.(Parker)
	standby := o.cfg.Standby
	return o.StartMotionTask("standby", func(r *Run) {
		if native {
			r.drive("standby", parker.Park, nil)
			return
		}
		r.PointTo(standby.Azimuth, standby.Elevation, nil)
	}, WithDetail(fmt.Sprintf("az=%.2f el=%.2f", standby.Azimuth, standby.Elevation)))
}

// Untangle unwinds the azimuth cable wrap back to zero turns. Drivers that
// cannot report cumulative azimuth are simply sent to azimuth 0.
func (o *Orchestrator) Untangle() (*Task, error) {
	if err := o.allow("untangle"); err != nil {
		return nil, err
	}
	return o.StartMotionTask("untangle", o.untangle)
}

func (o *Orchestrator) untangle(r *Run) {
	ctx := r.Context()
	log := r.Logger()

	el := o.cfg.Home.Elevation
	if reader, ok := o.driver.(PositionReader); ok {
		if _, cur, err := reader.Position(ctx); err == nil && o.cfg.Limits.Contains(0, cur) {
			el = cur
		}
	}

	wrap, ok := o.driver.(WrapReader)
	if !ok {
		r.PointTo(0, el, nil)
		return
	}

	total, err := wrap.CumulativeAzimuth(ctx)
	if err != nil {
		log.Error(ctx, "cannot read cable wrap", logging.Err(err))
		return
	}

	waypoints := UnwindWaypoints(total, o.cfg.UntangleStep)
	log.Info(ctx, "unwinding cable wrap",
		logging.Float("cumulative_azimuth", total), logging.Int("legs", len(waypoints)))
	for _, az := range waypoints {
		if !r.PointTo(az, el, nil) {
			return
		}
	}
}

// UnwindWaypoints returns the azimuths, normalised to [0, 360), that take a
// mount from cumulative azimuth total back to zero turns in legs no longer
// than step degrees. Each leg is shorter than 180 degrees, so a driver that
// slews along the shortest path unwinds in the intended direction.
func UnwindWaypoints(total, step float64) []float64 {
	if step <= 0 || step >= 180 {
		step = 90
	}
	n := int(math.Ceil(math.Abs(total) / step))
	waypoints := make([]float64, 0, n)
	for i := 1; i <= n; i++ {
		remaining := total - math.Copysign(math.Min(float64(i)*step, math.Abs(total)), total)
		az := math.Mod(remaining, 360)
		if az < 0 {
			az += 360
		}
		if az >= 360 {
			az = 0
		}
		waypoints = append(waypoints, az)
	}
	return waypoints
}

// Abort halts the mount immediately without touching the task slot.
func (o *Orchestrator) Abort(ctx context.Context) error {
	return o.driver.Abort(ctx)
}
