package coordinates

import (
	"math"
	"time"
)

// SunPosition represents the sun's position in the sky
type SunPosition struct {
	Altitude   float64               // Degrees above horizon
	Azimuth    float64               // Degrees from north
	Equatorial EquatorialCoordinates // Apparent RA (hours) / Dec (degrees)
	Time       time.Time             // Calculation time
}

// SunEquatorial returns the sun's apparent right ascension and declination.
// Uses the low-precision solar theory from the NOAA calculator,
// accurate to about 1 arcminute between 1950 and 2050.
func SunEquatorial(t time.Time) EquatorialCoordinates {
	jc := (JulianDate(t) - J2000) / DaysPerJulianCentury

	// Sun's geometric mean longitude and mean anomaly (degrees)
	l0 := math.Mod(280.46646+jc*(36000.76983+jc*0.0003032), 360.0)
	m := (357.52911 + jc*(35999.05029-0.0001537*jc)) * DegreesToRadians

	// Equation of centre
	c := math.Sin(m)*(1.914602-jc*(0.004817+0.000014*jc)) +
		math.Sin(2*m)*(0.019993-0.000101*jc) +
		math.Sin(3*m)*0.000289

	// Apparent longitude, corrected for aberration and nutation
	omega := (125.04 - 1934.136*jc) * DegreesToRadians
	lambda := (l0 + c - 0.00569 - 0.00478*math.Sin(omega)) * DegreesToRadians

	// Obliquity of the ecliptic
	eps0 := 23.0 + (26.0+(21.448-jc*(46.815+jc*(0.00059-jc*0.001813)))/60.0)/60.0
	eps := (eps0 + 0.00256*math.Cos(omega)) * DegreesToRadians

	raRad := math.Atan2(math.Cos(eps)*math.Sin(lambda), math.Cos(lambda))
	decRad := math.Asin(math.Sin(eps) * math.Sin(lambda))

	return ToEquatorialDegrees(raRad, decRad)
}

// CalculateSunPosition calculates the sun's position for a given observer and time.
// Atmospheric refraction is not applied.
func CalculateSunPosition(observer Observer, t time.Time) SunPosition {
	eq := SunEquatorial(t)
	h := EquatorialToHorizontal(eq, observer, t)
	return SunPosition{
		Altitude:   h.Altitude,
		Azimuth:    h.Azimuth,
		Equatorial: eq,
		Time:       t,
	}
}

// IsSunAboveHorizon returns true if the sun's upper limb is above the horizon
func (sp SunPosition) IsSunAboveHorizon() bool {
	return sp.Altitude > -0.833
}

// Separation returns the angular distance in degrees between the sun and a
// horizontal position.
func (sp SunPosition) Separation(target HorizontalCoordinates) float64 {
	return AngularSeparation(HorizontalCoordinates{Altitude: sp.Altitude, Azimuth: sp.Azimuth}, target)
}

// SolarProximity grades how close a pointing is to the sun.
type SolarProximity int

const (
	SolarClear    SolarProximity = iota // > 20° from sun
	SolarCaution                        // 10-20° from sun
	SolarWarning                        // 5-10° from sun
	SolarDanger                         // 2-5° from sun
	SolarCritical                       // < 2° from sun
)

// ClassifySolarProximity returns the proximity grade for a separation in degrees.
func ClassifySolarProximity(separation float64) SolarProximity {
	switch {
	case separation < 2.0:
		return SolarCritical
	case separation < 5.0:
		return SolarDanger
	case separation < 10.0:
		return SolarWarning
	case separation < 20.0:
		return SolarCaution
	default:
		return SolarClear
	}
}

// String returns a human-readable name for the proximity grade.
func (p SolarProximity) String() string {
	switch p {
	case SolarClear:
		return "CLEAR"
	case SolarCaution:
		return "CAUTION"
	case SolarWarning:
		return "WARNING"
	case SolarDanger:
		return "DANGER"
	case SolarCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}
