// Package clock provides the controller's notion of "now": a monotonic time
// source shifted by an adjustable offset so an operator can align the mount
// with an external time reference.
package clock

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// MaxUnixSeconds bounds the instants Sync accepts: [0, 2^33) seconds, the
// Unix epoch up to the year 2242. Offsets to anything in that window stay
// well inside time.Duration's ±292 year range.
const MaxUnixSeconds = 1 << 33

// ErrOutOfRange is returned by Sync for instants outside [0, MaxUnixSeconds).
var ErrOutOfRange = errors.New("time out of range")

// Source is anything that can report the current instant.
// The tracker and command surface depend on this rather than on *Clock so
// tests can pin time.
type Source interface {
	Now() time.Time
}

// Clock reports wall time derived from a monotonic reading plus an offset.
// The base instant is captured once at construction; later readings only add
// monotonic elapsed time, so adjusting the system clock never makes Now jump.
type Clock struct {
	mu     sync.RWMutex
	base   time.Time
	offset time.Duration
}

// New creates a clock anchored at the current system time with zero offset.
func New() *Clock {
	return &Clock{base: time.Now()}
}

// Now returns the current instant in UTC including the offset.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	offset := c.offset
	c.mu.RUnlock()

	// time.Since uses the monotonic reading carried by base.
	elapsed := time.Since(c.base)
	return c.base.Add(elapsed + offset).UTC()
}

// Unix returns Now as fractional seconds since the Unix epoch.
func (c *Clock) Unix() float64 {
	return UnixSeconds(c.Now())
}

// Offset returns the currently applied offset.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// SetOffset replaces the offset added to the monotonic source.
func (c *Clock) SetOffset(offset time.Duration) {
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
}

// Sync adjusts the offset so that Now reports the given Unix time.
// It returns the offset that was applied. Instants outside
// [0, MaxUnixSeconds) are refused and leave the offset unchanged.
func (c *Clock) Sync(unixSeconds float64) (time.Duration, error) {
	if math.IsNaN(unixSeconds) || unixSeconds < 0 || unixSeconds >= MaxUnixSeconds {
		return c.Offset(), fmt.Errorf("%w: %g", ErrOutOfRange, unixSeconds)
	}
	target := FromUnixSeconds(unixSeconds)

	c.mu.Lock()
	defer c.mu.Unlock()
	uncorrected := c.base.Add(time.Since(c.base))
	c.offset = target.Sub(uncorrected)
	return c.offset, nil
}

// UnixSeconds converts t to fractional seconds since the Unix epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// FromUnixSeconds converts fractional Unix seconds to a UTC time.
func FromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	if frac < 0 {
		sec--
		frac++
	}
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// Fixed is a Source that always reports the same instant.
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return time.Time(f) }
