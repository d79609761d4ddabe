package coordinates

import (
	"math"
	"time"
)

// Galactic frame orientation (IAU 1958 definition, J2000 equinox).
const (
	// GalacticPoleRA is the right ascension of the north galactic pole in degrees
	GalacticPoleRA = 192.85948

	// GalacticPoleDec is the declination of the north galactic pole in degrees
	GalacticPoleDec = 27.12825

	// GalacticNCPLongitude is the galactic longitude of the north celestial pole in degrees
	GalacticNCPLongitude = 122.932
)

// zenithEpsilon is the horizontal projection below which azimuth is undefined.
const zenithEpsilon = 1e-12

// EquatorialToHorizontal converts equatorial coordinates (RA/Dec) to
// horizontal coordinates (alt/az) for a given observer and time.
//
// The hour angle is taken against apparent local sidereal time, then the
// unit vector of the target is rotated into the local horizon frame.
// Azimuth and elevation both come from atan2, so the result stays defined
// at the poles; directly at the zenith azimuth is reported as 0.
//
// Parameters:
//   - equatorial: The equatorial coordinates to convert (RA in hours)
//   - observer: The observer's geographic location
//   - timestamp: The time of observation (UTC)
//
// Returns: HorizontalCoordinates (altitude and azimuth in degrees)
func EquatorialToHorizontal(equatorial EquatorialCoordinates, observer Observer, timestamp time.Time) HorizontalCoordinates {
	raRad, decRad := equatorial.ToRadians()
	latRad, _, _ := observer.Location.ToRadians()

	lst := LocalSiderealTime(observer.Location.Longitude, timestamp)
	haRad := lst*HoursToDegrees*DegreesToRadians - raRad

	sinHA, cosHA := math.Sincos(haRad)
	sinDec, cosDec := math.Sincos(decRad)
	sinLat, cosLat := math.Sincos(latRad)

	// x points north, y east, z to the zenith
	x := -cosHA*cosDec*sinLat + sinDec*cosLat
	y := -sinHA * cosDec
	z := cosHA*cosDec*cosLat + sinDec*sinLat

	r := math.Hypot(x, y)
	azRad := 0.0
	if r > zenithEpsilon {
		azRad = math.Atan2(y, x)
	}
	altRad := math.Atan2(z, r)

	return ToHorizontalDegrees(altRad, azRad)
}

// HorizontalToEquatorial converts horizontal coordinates (alt/az) to
// equatorial coordinates (RA/Dec) for a given observer and time.
// This is the inverse of EquatorialToHorizontal.
//
// Returns: EquatorialCoordinates (RA in hours, Dec in degrees)
func HorizontalToEquatorial(horizontal HorizontalCoordinates, observer Observer, timestamp time.Time) EquatorialCoordinates {
	altRad, azRad := horizontal.ToRadians()
	latRad, _, _ := observer.Location.ToRadians()

	sinAz, cosAz := math.Sincos(azRad)
	sinAlt, cosAlt := math.Sincos(altRad)
	sinLat, cosLat := math.Sincos(latRad)

	// Same rotation as above, run backwards.
	x := -cosAz*cosAlt*sinLat + sinAlt*cosLat
	y := -sinAz * cosAlt
	z := cosAz*cosAlt*cosLat + sinAlt*sinLat

	r := math.Hypot(x, y)
	haRad := 0.0
	if r > zenithEpsilon {
		haRad = math.Atan2(y, x)
	}
	decRad := math.Atan2(z, r)

	lst := LocalSiderealTime(observer.Location.Longitude, timestamp)
	raRad := lst*HoursToDegrees*DegreesToRadians - haRad

	return ToEquatorialDegrees(raRad, decRad)
}

// GalacticToEquatorial converts galactic coordinates (l, b) to equatorial
// coordinates. Results are exact inverses of EquatorialToGalactic up to
// floating point rounding.
//
// Returns: EquatorialCoordinates (RA in hours, Dec in degrees)
func GalacticToEquatorial(galactic GalacticCoordinates) EquatorialCoordinates {
	lRad, bRad := galactic.ToRadians()
	poleRA := GalacticPoleRA * DegreesToRadians
	poleDec := GalacticPoleDec * DegreesToRadians
	lNCP := GalacticNCPLongitude * DegreesToRadians

	sinB, cosB := math.Sincos(bRad)
	sinPD, cosPD := math.Sincos(poleDec)
	sinDL, cosDL := math.Sincos(lNCP - lRad)

	decRad := math.Asin(clamp(sinB*sinPD + cosB*cosPD*cosDL))
	raRad := math.Atan2(cosB*sinDL, sinB*cosPD-cosB*sinPD*cosDL) + poleRA

	return ToEquatorialDegrees(raRad, decRad)
}

// EquatorialToGalactic converts equatorial coordinates to galactic
// coordinates (l, b), both in degrees with l in [0, 360).
func EquatorialToGalactic(equatorial EquatorialCoordinates) GalacticCoordinates {
	raRad, decRad := equatorial.ToRadians()
	poleRA := GalacticPoleRA * DegreesToRadians
	poleDec := GalacticPoleDec * DegreesToRadians
	lNCP := GalacticNCPLongitude * DegreesToRadians

	sinDec, cosDec := math.Sincos(decRad)
	sinPD, cosPD := math.Sincos(poleDec)
	sinDA, cosDA := math.Sincos(raRad - poleRA)

	bRad := math.Asin(clamp(sinDec*sinPD + cosDec*cosPD*cosDA))
	lRad := lNCP - math.Atan2(cosDec*sinDA, sinDec*cosPD-cosDec*sinPD*cosDA)

	return GalacticCoordinates{
		Longitude: NormalizeAzimuth(lRad * RadiansToDegrees),
		Latitude:  bRad * RadiansToDegrees,
	}
}

// GalacticToHorizontal converts galactic coordinates straight to the
// observer's horizon frame.
func GalacticToHorizontal(galactic GalacticCoordinates, observer Observer, timestamp time.Time) HorizontalCoordinates {
	return EquatorialToHorizontal(GalacticToEquatorial(galactic), observer, timestamp)
}

// clamp keeps asin arguments inside [-1, 1] against rounding.
func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
