package tracking

import (
	"fmt"
	"strings"
)

// Mode is the tracker's state.
type Mode int

const (
	// Idle means no target is being followed; the target rests at home.
	Idle Mode = iota

	// Satellite follows a TLE propagated with SGP4.
	Satellite

	// Galactic follows fixed galactic coordinates (l, b).
	Galactic

	// Equatorial follows fixed equatorial coordinates (RA, Dec).
	Equatorial
)

var modeNames = map[Mode]string{
	Idle:       "idle",
	Satellite:  "satellite",
	Galactic:   "galactic",
	Equatorial: "equatorial",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts the mode names used on the command line. "radec",
// "gal" and "tle" are accepted as aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle", "stop":
		return Idle, nil
	case "satellite", "tle", "sat":
		return Satellite, nil
	case "galactic", "gal":
		return Galactic, nil
	case "equatorial", "radec", "eq":
		return Equatorial, nil
	}
	return Idle, fmt.Errorf("unknown tracking mode %q", s)
}
