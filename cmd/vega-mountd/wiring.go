package main

import (
	"github.com/unklstewy/vega-mount/pkg/config"
	"github.com/unklstewy/vega-mount/pkg/coordinates"
	"github.com/unklstewy/vega-mount/pkg/motion"
	"github.com/unklstewy/vega-mount/pkg/tracking"
)

func observer(cfg *config.Config) coordinates.Observer {
	return coordinates.Observer{
		Location: coordinates.Geographic{
			Latitude:  cfg.Observer.Latitude,
			Longitude: cfg.Observer.Longitude,
			Altitude:  cfg.Observer.Elevation,
		},
		Timezone: cfg.Observer.TimeZone,
	}
}

func limits(cfg *config.Config) motion.Limits {
	return motion.Limits{
		MinAzimuth:   cfg.Mount.MinAzimuth,
		MaxAzimuth:   cfg.Mount.MaxAzimuth,
		MinElevation: cfg.Mount.MinElevation,
		MaxElevation: cfg.Mount.MaxElevation,
	}
}

func home(cfg *config.Config) motion.Position {
	return motion.Position{Azimuth: cfg.Mount.HomeAzimuth, Elevation: cfg.Mount.HomeElevation}
}

func motionConfig(cfg *config.Config) motion.Config {
	return motion.Config{
		StopTimeout:  cfg.Motion.StopTimeout(),
		Debounce:     cfg.Motion.Debounce(),
		PollInterval: cfg.Motion.PollInterval(),
		MaxSlew:      cfg.Motion.MaxSlew(),
		Limits:       limits(cfg),
		Home:         home(cfg),
		Standby:      motion.Position{Azimuth: cfg.Mount.StandbyAzimuth, Elevation: cfg.Mount.StandbyElevation},
		UntangleStep: cfg.Motion.UntangleStepDegrees,
	}
}

func trackingConfig(cfg *config.Config) tracking.Config {
	return tracking.Config{
		UpdateInterval: cfg.Tracking.UpdateInterval(),
		LoopInterval:   cfg.Tracking.LoopInterval(),
		Threshold:      cfg.Tracking.MotionThreshold,
		Limits:         limits(cfg),
		Home:           home(cfg),
	}
}
