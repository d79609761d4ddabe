package mount

import (
	"context"
	"fmt"
	"time"

	"github.com/unklstewy/vega-mount/internal/logging"
	"github.com/unklstewy/vega-mount/pkg/alpaca"
	"github.com/unklstewy/vega-mount/pkg/clock"
	"github.com/unklstewy/vega-mount/pkg/config"
	"github.com/unklstewy/vega-mount/pkg/motion"
)

// Mount is a driver that can also report its position.
type Mount interface {
	motion.Driver
	motion.PositionReader
}

// Open builds the driver selected by cfg.Driver. Alpaca mounts are
// connected before returning.
func Open(ctx context.Context, cfg config.MountConfig, clk clock.Source, log logging.Logger) (Mount, error) {
	log = logging.OrNoop(log)

	switch cfg.Driver {
	case "sim", "":
		home := motion.Position{Azimuth: cfg.HomeAzimuth, Elevation: cfg.HomeElevation}
		log.Info(ctx, "using simulated mount", logging.Float("slew_rate", cfg.SlewRate))
		return NewSim(SimConfig{
			Rate:    cfg.SlewRate,
			Home:    home,
			Park:    motion.Position{Azimuth: cfg.StandbyAzimuth, Elevation: cfg.StandbyElevation},
			Initial: home,
		}, clk), nil

	case "alpaca":
		client := alpaca.NewClient(alpaca.Config{
			BaseURL:      cfg.AlpacaURL,
			DeviceNumber: cfg.AlpacaDevice,
			Timeout:      10 * time.Second,
		})
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		log.Info(ctx, "connected to Alpaca mount",
			logging.String("url", cfg.AlpacaURL), logging.Int("device", cfg.AlpacaDevice))
		return client, nil
	}
	return nil, fmt.Errorf("unknown mount driver %q", cfg.Driver)
}
