package coordinates

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// tleLineLength is the fixed width of a NORAD two-line element line.
const tleLineLength = 69

// ErrInvalidTLE is returned when a two-line element set fails validation.
var ErrInvalidTLE = errors.New("invalid TLE")

// TLE is a validated NORAD two-line element set ready for SGP4 propagation.
type TLE struct {
	Line1 string
	Line2 string

	// CatalogNumber is the NORAD catalog number shared by both lines
	CatalogNumber string

	sat satellite.Satellite
}

// ParseTLE validates a two-line element set and prepares it for
// propagation. Lines may carry trailing whitespace or carriage returns.
// Each line is checked for its line number, width, modulo-10 checksum and a
// matching catalog number before being handed to the SGP4 initialiser.
func ParseTLE(line1, line2 string) (*TLE, error) {
	line1 = strings.TrimRight(line1, " \r\n")
	line2 = strings.TrimRight(line2, " \r\n")

	if err := checkTLELine(line1, '1'); err != nil {
		return nil, err
	}
	if err := checkTLELine(line2, '2'); err != nil {
		return nil, err
	}
	if line1[2:7] != line2[2:7] {
		return nil, fmt.Errorf("%w: catalog numbers differ (%q vs %q)", ErrInvalidTLE, line1[2:7], line2[2:7])
	}

	sat, err := initSatellite(line1, line2)
	if err != nil {
		return nil, err
	}

	return &TLE{
		Line1:         line1,
		Line2:         line2,
		CatalogNumber: strings.TrimSpace(line1[2:7]),
		sat:           sat,
	}, nil
}

// ParseTLEText accepts a TLE as a single string with the two lines separated
// by a newline or '|'. An optional leading name line (three-line format) is
// ignored.
func ParseTLEText(text string) (*TLE, error) {
	text = strings.ReplaceAll(text, "|", "\n")
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 3 {
		lines = lines[1:]
	}
	if len(lines) != 2 {
		return nil, fmt.Errorf("%w: expected 2 lines, got %d", ErrInvalidTLE, len(lines))
	}
	return ParseTLE(lines[0], lines[1])
}

// LookAngles propagates the satellite to t and returns its position in the
// observer's horizon frame. Satellites below the horizon yield negative
// altitude; callers decide whether the position is usable.
//
// SGP4 is evaluated at the whole second and the fraction is covered by
// stepping along the propagated velocity.
func (t *TLE) LookAngles(observer Observer, at time.Time) (HorizontalCoordinates, error) {
	at = at.UTC()
	year, month, day := at.Date()
	hour, min, sec := at.Clock()
	frac := float64(at.Nanosecond()) / float64(time.Second)

	var (
		look satellite.LookAngles
		err  error
	)
	func() {
		// SGP4 panics on some decayed or malformed element sets.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("propagate %s: %v", t.CatalogNumber, r)
			}
		}()
		posECI, velECI := satellite.Propagate(t.sat, year, int(month), day, hour, min, sec)
		posECI.X += velECI.X * frac
		posECI.Y += velECI.Y * frac
		posECI.Z += velECI.Z * frac
		jday := satellite.JDay(year, int(month), day, hour, min, sec) + frac/SecondsPerDay

		latRad, lonRad, altM := observer.Location.ToRadians()
		look = satellite.ECIToLookAngles(
			posECI,
			satellite.LatLong{Latitude: latRad, Longitude: lonRad},
			altM/1000.0,
			jday,
		)
	}()
	if err != nil {
		return HorizontalCoordinates{}, err
	}
	if math.IsNaN(look.Az) || math.IsNaN(look.El) {
		return HorizontalCoordinates{}, fmt.Errorf("propagate %s: no solution at %s", t.CatalogNumber, at.Format(time.RFC3339))
	}

	return ToHorizontalDegrees(look.El, look.Az), nil
}

func checkTLELine(line string, number byte) error {
	if len(line) != tleLineLength {
		return fmt.Errorf("%w: line %c has %d characters, want %d", ErrInvalidTLE, number, len(line), tleLineLength)
	}
	if line[0] != number || line[1] != ' ' {
		return fmt.Errorf("%w: line %c does not start with %q", ErrInvalidTLE, number, string(number)+" ")
	}
	want := line[tleLineLength-1]
	if want < '0' || want > '9' {
		return fmt.Errorf("%w: line %c checksum is not a digit", ErrInvalidTLE, number)
	}
	if got := tleChecksum(line[:tleLineLength-1]); got != int(want-'0') {
		return fmt.Errorf("%w: line %c checksum %d, computed %d", ErrInvalidTLE, number, want-'0', got)
	}
	return nil
}

// tleChecksum sums digits and counts each minus sign as one, modulo 10.
func tleChecksum(s string) int {
	sum := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

func initSatellite(line1, line2 string) (sat satellite.Satellite, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidTLE, r)
		}
	}()
	sat = satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return sat, nil
}
