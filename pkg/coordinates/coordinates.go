package coordinates

import (
	"math"
)

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// HoursToDegrees converts right ascension hours to degrees (1h = 15°)
	HoursToDegrees = 15.0

	// ArcsecondsToRadians converts arcseconds to radians
	ArcsecondsToRadians = DegreesToRadians / 3600.0

	// J2000 is the Julian Date of the J2000.0 epoch (2000-01-01 12:00 TT)
	J2000 = 2451545.0

	// UnixEpochJD is the Julian Date of 1970-01-01 00:00 UTC
	UnixEpochJD = 2440587.5

	// SecondsPerDay is the number of SI seconds in a civil day
	SecondsPerDay = 86400.0

	// DaysPerJulianCentury is the length of a Julian century in days
	DaysPerJulianCentury = 36525.0
)

// Geographic represents a position on Earth's surface.
// Uses the WGS84 coordinate system (same as GPS).
type Geographic struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64

	// Altitude in meters above mean sea level (MSL)
	Altitude float64
}

// HorizontalCoordinates represents a position in the local horizontal coordinate system.
// Also known as Alt/Az (Altitude-Azimuth) coordinates.
// This is the native frame of the antenna mount.
type HorizontalCoordinates struct {
	// Altitude (elevation) in degrees above the horizon
	// 0 = horizon, 90 = zenith (straight up)
	Altitude float64

	// Azimuth in degrees from north (0-360)
	// 0/360 = North, 90 = East, 180 = South, 270 = West
	Azimuth float64
}

// EquatorialCoordinates represents a position in the equatorial coordinate system.
type EquatorialCoordinates struct {
	// RightAscension (RA) in decimal hours (0-24)
	// Increases eastward along the celestial equator
	RightAscension float64

	// Declination (Dec) in decimal degrees (-90 to +90)
	// 0 = celestial equator, +90 = north celestial pole
	Declination float64
}

// GalacticCoordinates represents a position in the galactic coordinate system.
type GalacticCoordinates struct {
	// Longitude (l) in decimal degrees (0-360), measured from the galactic centre
	Longitude float64

	// Latitude (b) in decimal degrees (-90 to +90) from the galactic plane
	Latitude float64
}

// Observer represents the geographic location of the antenna.
// This is required for all horizontal transformations as they depend on
// the observer's position on Earth.
type Observer struct {
	// Location is the observer's position on Earth
	Location Geographic

	// Timezone is the IANA timezone name (e.g., "Europe/Zurich")
	// Only used for display; all internal calculations use UTC
	Timezone string
}

// ToRadians converts the Geographic coordinates to radians.
// Returns (latRad, lonRad, altMeters).
func (g Geographic) ToRadians() (float64, float64, float64) {
	return g.Latitude * DegreesToRadians,
		g.Longitude * DegreesToRadians,
		g.Altitude
}

// ToRadians converts HorizontalCoordinates to radians.
// Returns (altRad, azRad).
func (h HorizontalCoordinates) ToRadians() (float64, float64) {
	return h.Altitude * DegreesToRadians,
		h.Azimuth * DegreesToRadians
}

// ToHorizontalDegrees converts radians to HorizontalCoordinates in degrees.
// The azimuth is wrapped into [0, 360).
func ToHorizontalDegrees(altRad, azRad float64) HorizontalCoordinates {
	return HorizontalCoordinates{
		Altitude: altRad * RadiansToDegrees,
		Azimuth:  NormalizeAzimuth(azRad * RadiansToDegrees),
	}
}

// ToRadians converts EquatorialCoordinates to radians.
// Returns (raRad, decRad).
// Note: RA is converted from hours to radians (1 hour = 15 degrees = π/12 radians)
func (e EquatorialCoordinates) ToRadians() (float64, float64) {
	raRad := e.RightAscension * HoursToDegrees * DegreesToRadians
	decRad := e.Declination * DegreesToRadians
	return raRad, decRad
}

// ToEquatorialDegrees converts radians to EquatorialCoordinates.
// Returns RA in hours (normalized to [0, 24)) and Dec in degrees.
func ToEquatorialDegrees(raRad, decRad float64) EquatorialCoordinates {
	return EquatorialCoordinates{
		RightAscension: NormalizeRA(raRad * RadiansToDegrees / HoursToDegrees),
		Declination:    decRad * RadiansToDegrees,
	}
}

// ToRadians converts GalacticCoordinates to radians.
// Returns (lRad, bRad).
func (g GalacticCoordinates) ToRadians() (float64, float64) {
	return g.Longitude * DegreesToRadians, g.Latitude * DegreesToRadians
}

// NormalizeAzimuth ensures azimuth is in the range [0, 360).
func NormalizeAzimuth(azimuth float64) float64 {
	az := math.Mod(azimuth, 360.0)
	if az < 0 {
		az += 360.0
	}
	// math.Mod of a tiny negative number can round back up to 360.
	if az >= 360.0 {
		az = 0
	}
	return az
}

// NormalizeRA ensures right ascension is in the range [0, 24).
func NormalizeRA(ra float64) float64 {
	raHours := math.Mod(ra, 24.0)
	if raHours < 0 {
		raHours += 24.0
	}
	if raHours >= 24.0 {
		raHours = 0
	}
	return raHours
}

// NormalizeRadians wraps an angle into [0, 2π).
func NormalizeRadians(angle float64) float64 {
	a := math.Mod(angle, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// AngularSeparation calculates the great-circle distance between two
// horizontal positions. Returns the separation in degrees.
func AngularSeparation(a, b HorizontalCoordinates) float64 {
	alt1, az1 := a.ToRadians()
	alt2, az2 := b.ToRadians()
	dAz := az2 - az1

	// Vincenty form of the great-circle distance; stable near 0° and 180°.
	sinDist := math.Hypot(
		math.Cos(alt2)*math.Sin(dAz),
		math.Cos(alt1)*math.Sin(alt2)-math.Sin(alt1)*math.Cos(alt2)*math.Cos(dAz),
	)
	cosDist := math.Sin(alt1)*math.Sin(alt2) + math.Cos(alt1)*math.Cos(alt2)*math.Cos(dAz)

	return math.Atan2(sinDist, cosDist) * RadiansToDegrees
}

// AzimuthDelta returns the signed shortest rotation from one azimuth to
// another, in degrees within (-180, 180].
func AzimuthDelta(from, to float64) float64 {
	d := math.Mod(to-from, 360.0)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}
