package coordinates

import (
	"math"
	"testing"
	"time"
)

func TestSunEquatorial(t *testing.T) {
	tests := []struct {
		name    string
		t       time.Time
		wantDec float64
	}{
		{"June solstice", time.Date(2024, 6, 20, 20, 51, 0, 0, time.UTC), 23.44},
		{"December solstice", time.Date(2024, 12, 21, 9, 20, 0, 0, time.UTC), -23.44},
		{"March equinox", time.Date(2024, 3, 20, 3, 6, 0, 0, time.UTC), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eq := SunEquatorial(tt.t)
			if math.Abs(eq.Declination-tt.wantDec) > 0.05 {
				t.Errorf("Dec = %.3f, want %.3f", eq.Declination, tt.wantDec)
			}
		})
	}
}

func TestSunPositionDayNight(t *testing.T) {
	noon := CalculateSunPosition(ecublens, time.Date(2024, 6, 21, 11, 30, 0, 0, time.UTC))
	if !noon.IsSunAboveHorizon() {
		t.Errorf("sun should be up at local noon, altitude %.2f", noon.Altitude)
	}
	if math.Abs(AzimuthDelta(noon.Azimuth, 180)) > 15 {
		t.Errorf("noon sun azimuth %.2f should be near south", noon.Azimuth)
	}

	midnight := CalculateSunPosition(ecublens, time.Date(2024, 6, 21, 23, 30, 0, 0, time.UTC))
	if midnight.IsSunAboveHorizon() {
		t.Errorf("sun should be down at local midnight, altitude %.2f", midnight.Altitude)
	}
}

func TestClassifySolarProximity(t *testing.T) {
	tests := []struct {
		sep  float64
		want SolarProximity
	}{
		{0.5, SolarCritical},
		{2, SolarDanger},
		{7, SolarWarning},
		{15, SolarCaution},
		{45, SolarClear},
	}
	for _, tt := range tests {
		if got := ClassifySolarProximity(tt.sep); got != tt.want {
			t.Errorf("ClassifySolarProximity(%v) = %s, want %s", tt.sep, got, tt.want)
		}
	}
}
