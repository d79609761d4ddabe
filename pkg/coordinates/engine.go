package coordinates

import (
	"time"
)

// Engine binds the transforms to one observing site. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	observer Observer
}

// NewEngine creates an Engine for the given site.
func NewEngine(observer Observer) *Engine {
	return &Engine{observer: observer}
}

// Observer returns the site the engine computes for.
func (e *Engine) Observer() Observer {
	return e.observer
}

// EquatorialToHorizontal converts RA (hours, wrapped into [0, 24)) and
// declination (degrees) to azimuth/elevation at time t.
func (e *Engine) EquatorialToHorizontal(raHours, decDeg float64, t time.Time) HorizontalCoordinates {
	eq := EquatorialCoordinates{RightAscension: NormalizeRA(raHours), Declination: decDeg}
	return EquatorialToHorizontal(eq, e.observer, t)
}

// GalacticToHorizontal converts galactic l/b (degrees) to azimuth/elevation at time t.
func (e *Engine) GalacticToHorizontal(l, b float64, t time.Time) HorizontalCoordinates {
	return GalacticToHorizontal(GalacticCoordinates{Longitude: l, Latitude: b}, e.observer, t)
}

// SatelliteToHorizontal propagates a TLE and returns its look angles at time t.
func (e *Engine) SatelliteToHorizontal(tle *TLE, t time.Time) (HorizontalCoordinates, error) {
	return tle.LookAngles(e.observer, t)
}

// HorizontalToEquatorial converts a mount position back to RA/Dec at time t.
func (e *Engine) HorizontalToEquatorial(h HorizontalCoordinates, t time.Time) EquatorialCoordinates {
	return HorizontalToEquatorial(h, e.observer, t)
}

// Sun returns the sun's position for the engine's site at time t.
func (e *Engine) Sun(t time.Time) SunPosition {
	return CalculateSunPosition(e.observer, t)
}
