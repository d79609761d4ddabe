package motion

import (
	"context"
	"fmt"
)

// Driver commands the physical mount. Implementations must honour ctx so a
// forcibly terminated task cannot keep the mount busy.
type Driver interface {
	// SlewTo starts an asynchronous slew and returns once it is accepted.
	SlewTo(ctx context.Context, az, el float64) error

	// IsSlewing reports whether a slew (or home/park) is still in progress.
	IsSlewing(ctx context.Context) (bool, error)

	// Abort halts any motion in progress.
	Abort(ctx context.Context) error
}

// PositionReader reports where the mount is currently pointing.
type PositionReader interface {
	Position(ctx context.Context) (az, el float64, err error)
}

// Homer is implemented by drivers with a native homing routine.
type Homer interface {
	FindHome(ctx context.Context) error
}

// Parker is implemented by drivers with a native park/stow routine.
type Parker interface {
	Park(ctx context.Context) error
}

// WrapReader is implemented by drivers that know how far the azimuth axis
// has turned in total, including full revolutions. Untangle uses it to
// unwind the cable wrap.
type WrapReader interface {
	CumulativeAzimuth(ctx context.Context) (float64, error)
}

// Limits is the accepted pointing envelope. Azimuth is half-open
// [MinAzimuth, MaxAzimuth); elevation is closed [MinElevation, MaxElevation].
type Limits struct {
	MinAzimuth   float64
	MaxAzimuth   float64
	MinElevation float64
	MaxElevation float64
}

// DefaultLimits is the envelope of the reference antenna.
var DefaultLimits = Limits{MinAzimuth: 0, MaxAzimuth: 360, MinElevation: 1, MaxElevation: 89}

// Contains reports whether (az, el) lies inside the envelope.
func (l Limits) Contains(az, el float64) bool {
	return az >= l.MinAzimuth && az < l.MaxAzimuth &&
		el >= l.MinElevation && el <= l.MaxElevation
}

// Check returns ErrOutOfRange describing the violated axis, or nil.
func (l Limits) Check(az, el float64) error {
	if az < l.MinAzimuth || az >= l.MaxAzimuth {
		return fmt.Errorf("%w: azimuth %.2f not in [%g, %g)", ErrOutOfRange, az, l.MinAzimuth, l.MaxAzimuth)
	}
	if el < l.MinElevation || el > l.MaxElevation {
		return fmt.Errorf("%w: elevation %.2f not in [%g, %g]", ErrOutOfRange, el, l.MinElevation, l.MaxElevation)
	}
	return nil
}

// Position is an azimuth/elevation pair in degrees.
type Position struct {
	Azimuth   float64
	Elevation float64
}
