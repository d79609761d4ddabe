package coordinates

import (
	"math"
	"sort"
	"time"
)

// TTMinusTAI is the fixed offset between Terrestrial Time and TAI in seconds.
const TTMinusTAI = 32.184

// leapSecond is one entry of the TAI-UTC history.
type leapSecond struct {
	effective int64 // Unix seconds at which the offset takes effect
	offset    float64
}

// leapSeconds lists TAI-UTC since the leap second system started in 1972.
// No leap second has been announced after 2017-01-01.
var leapSeconds = buildLeapSecondTable([]struct {
	year  int
	month time.Month
	off   float64
}{
	{1972, time.January, 10}, {1972, time.July, 11},
	{1973, time.January, 12}, {1974, time.January, 13},
	{1975, time.January, 14}, {1976, time.January, 15},
	{1977, time.January, 16}, {1978, time.January, 17},
	{1979, time.January, 18}, {1980, time.January, 19},
	{1981, time.July, 20}, {1982, time.July, 21},
	{1983, time.July, 22}, {1985, time.July, 23},
	{1988, time.January, 24}, {1990, time.January, 25},
	{1991, time.January, 26}, {1992, time.July, 27},
	{1993, time.July, 28}, {1994, time.July, 29},
	{1996, time.January, 30}, {1997, time.July, 31},
	{1999, time.January, 32}, {2006, time.January, 33},
	{2009, time.January, 34}, {2012, time.July, 35},
	{2015, time.July, 36}, {2017, time.January, 37},
})

func buildLeapSecondTable(entries []struct {
	year  int
	month time.Month
	off   float64
}) []leapSecond {
	table := make([]leapSecond, 0, len(entries))
	for _, e := range entries {
		table = append(table, leapSecond{
			effective: time.Date(e.year, e.month, 1, 0, 0, 0, 0, time.UTC).Unix(),
			offset:    e.off,
		})
	}
	return table
}

// TAIMinusUTC returns the accumulated leap seconds (TAI-UTC) in effect at t.
// Instants before 1972 use the initial 10 s offset.
func TAIMinusUTC(t time.Time) float64 {
	unix := t.Unix()
	i := sort.Search(len(leapSeconds), func(i int) bool {
		return leapSeconds[i].effective > unix
	})
	if i == 0 {
		return leapSeconds[0].offset
	}
	return leapSeconds[i-1].offset
}

// SplitJulianDate returns the Julian Date of t as two parts whose sum is the
// full date: the integer day boundary (ending in .5) and the day fraction.
// Keeping the parts separate preserves sub-millisecond precision through the
// Earth rotation angle.
func SplitJulianDate(t time.Time) (day, fraction float64) {
	t = t.UTC()
	secs := t.Unix()
	days := secs / int64(SecondsPerDay)
	rem := secs % int64(SecondsPerDay)
	if rem < 0 {
		days--
		rem += int64(SecondsPerDay)
	}
	fraction = (float64(rem) + float64(t.Nanosecond())/1e9) / SecondsPerDay
	return UnixEpochJD + float64(days), fraction
}

// JulianDate converts a time to a Julian Date (UTC scale).
// The Julian Date is the number of days since noon on January 1, 4713 BC.
func JulianDate(t time.Time) float64 {
	d1, d2 := SplitJulianDate(t)
	return d1 + d2
}

// TerrestrialTimeCenturies returns Julian centuries of TT since J2000.0.
// UTC is converted via TAI using the leap second table.
func TerrestrialTimeCenturies(t time.Time) float64 {
	d1, d2 := SplitJulianDate(t)
	dt := (TAIMinusUTC(t) + TTMinusTAI) / SecondsPerDay
	return ((d1 - J2000) + d2 + dt) / DaysPerJulianCentury
}

// EarthRotationAngle returns the IAU 2000 Earth rotation angle in radians
// for a split UT1 Julian Date. UT1 is approximated by UTC.
func EarthRotationAngle(day, fraction float64) float64 {
	tu := (day - J2000) + fraction
	_, f1 := math.Modf(day)
	_, f2 := math.Modf(fraction)
	return NormalizeRadians(2 * math.Pi * (f1 + f2 + 0.7790572732640 + 0.00273781191135448*tu))
}

// GreenwichMeanSiderealTime calculates GMST with the IAU 2006 model:
// the Earth rotation angle plus the precession polynomial in TT.
//
// Parameters:
//   - t: The instant (UTC)
//
// Returns: GMST in decimal hours (0-24)
func GreenwichMeanSiderealTime(t time.Time) float64 {
	d1, d2 := SplitJulianDate(t)
	era := EarthRotationAngle(d1, d2)
	tt := TerrestrialTimeCenturies(t)

	// Polynomial part in arcseconds (Capitaine et al. 2003)
	poly := 0.014506 +
		(4612.156534+
			(1.3915817+
				(-0.00000044+
					(-0.000029956+
						(-0.0000000368)*tt)*tt)*tt)*tt)*tt

	gmst := NormalizeRadians(era + poly*ArcsecondsToRadians)
	return gmst * RadiansToDegrees / HoursToDegrees
}

// EquationOfEquinoxes returns the difference between apparent and mean
// sidereal time in hours, from the dominant nutation terms (lunar node and
// solar mean longitude). Accurate to about 0.1 s of time.
//
// Parameters:
//   - daysSinceJ2000: days elapsed since J2000.0 (JD - 2451545.0)
func EquationOfEquinoxes(daysSinceJ2000 float64) float64 {
	d := daysSinceJ2000
	omega := (125.04 - 0.052954*d) * DegreesToRadians // lunar ascending node
	l := (280.47 + 0.98565*d) * DegreesToRadians      // solar mean longitude
	epsilon := (23.4393 - 0.0000004*d) * DegreesToRadians

	// Nutation in longitude, already expressed in hours.
	deltaPsi := -0.000319*math.Sin(omega) - 0.000024*math.Sin(2*l)
	return deltaPsi * math.Cos(epsilon)
}

// ApparentSiderealTime returns Greenwich apparent sidereal time (GAST) in hours.
func ApparentSiderealTime(t time.Time) float64 {
	gmst := GreenwichMeanSiderealTime(t)
	return NormalizeRA(gmst + EquationOfEquinoxes(JulianDate(t)-J2000))
}

// LocalSiderealTime calculates the apparent Local Sidereal Time (LST) for
// a given longitude and UTC time.
//
// LST is the right ascension that is currently on the observer's meridian.
// It's required for converting between horizontal and equatorial coordinates.
//
// Parameters:
//   - longitudeDeg: Observer's longitude in decimal degrees (east positive)
//   - t: The time in UTC
//
// Returns: LST in decimal hours (0-24)
func LocalSiderealTime(longitudeDeg float64, t time.Time) float64 {
	return NormalizeRA(ApparentSiderealTime(t) + longitudeDeg/HoursToDegrees)
}
