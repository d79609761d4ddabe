// Command vega-mountd runs the antenna pointing controller. It reads
// newline-delimited commands from a serial link (or stdin) and answers with
// JSON status lines.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unklstewy/vega-mount/internal/command"
	"github.com/unklstewy/vega-mount/internal/db"
	"github.com/unklstewy/vega-mount/internal/logging"
	"github.com/unklstewy/vega-mount/internal/mount"
	"github.com/unklstewy/vega-mount/internal/observability"
	"github.com/unklstewy/vega-mount/internal/serialport"
	"github.com/unklstewy/vega-mount/internal/status"
	"github.com/unklstewy/vega-mount/pkg/clock"
	"github.com/unklstewy/vega-mount/pkg/config"
	"github.com/unklstewy/vega-mount/pkg/coordinates"
	"github.com/unklstewy/vega-mount/pkg/motion"
	"github.com/unklstewy/vega-mount/pkg/tracking"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to configuration file (CONFIG_PATH)")
	port := flag.String("port", "", "Serial device for the command link (overrides config; empty uses stdio)")
	listPorts := flag.Bool("list-ports", false, "List serial devices and exit")
	writeConfig := flag.Bool("write-config", false, "Write the effective configuration to -config and exit")
	flag.Parse()

	if *listPorts {
		ports, err := serialport.Ports()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list ports: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if *writeConfig {
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", *configPath)
		return
	}

	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "controller exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	clk := clock.New()

	var (
		motionOpts   = []motion.Option{motion.WithLogger(log)}
		trackingOpts = []tracking.Option{tracking.WithLogger(log)}
		commandOpts  = []command.Option{command.WithLogger(log)}
		collector    *observability.Collector
	)

	if cfg.Metrics.Enabled {
		var err error
		collector, err = observability.NewCollector(nil)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		motionOpts = append(motionOpts, motion.WithMetrics(collector))
		trackingOpts = append(trackingOpts, tracking.WithMetrics(collector))
		commandOpts = append(commandOpts, command.WithMetrics(collector))
	}

	if cfg.Database.Enabled {
		database, journal, closeJournal, err := openJournal(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer closeJournal()
		motionOpts = append(motionOpts, motion.WithRecorder(journal))
		commandOpts = append(commandOpts, command.WithHistory(database))
		if collector != nil {
			collector.AddHealthCheck("journal", func(ctx context.Context) bool {
				return db.HealthCheck(ctx, database)
			})
		}
		go db.RunRetention(ctx, database, cfg.Database.Retention(), time.Hour, log)
	}

	if collector != nil {
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
				log.Error(ctx, "metrics endpoint failed", logging.Err(err))
			}
		}()
	}

	mnt, err := mount.Open(ctx, cfg.Mount, clk, log)
	if err != nil {
		return fmt.Errorf("open mount: %w", err)
	}

	orchestrator := motion.New(mnt, motionConfig(cfg), motionOpts...)
	engine := coordinates.NewEngine(observer(cfg))
	tracker := tracking.New(engine, orchestrator, mnt, clk, trackingConfig(cfg), trackingOpts...)
	defer func() {
		tracker.Stop()
		if err := orchestrator.Close(); err != nil {
			log.Warn(context.Background(), "motion shutdown", logging.Err(err))
		}
	}()

	link, err := serialport.Open(cfg.Serial.Port, serialport.PortOptions{BaudRate: cfg.Serial.BaudRate})
	if err != nil {
		return fmt.Errorf("open command link: %w", err)
	}
	defer link.Close()

	pub := status.NewPublisher(link, clk)
	dispatcher := command.NewDispatcher(orchestrator, tracker, engine, clk, mnt, pub, commandOpts...)

	linkName := cfg.Serial.Port
	if linkName == "" {
		linkName = "stdio"
	}
	log.Info(ctx, "controller ready",
		logging.String("observer", cfg.Observer.Name),
		logging.String("mount", cfg.Mount.Driver),
		logging.String("link", linkName),
	)
	if err := pub.Info("Controller ready"); err != nil {
		log.Warn(ctx, "command link write failed", logging.Err(err))
	}

	go dispatcher.Broadcast(ctx, cfg.Broadcast.PositionInterval())

	err = serialport.Monitor(ctx, link, func(line string) {
		dispatcher.Handle(ctx, line)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("command link: %w", err)
	}
	log.Info(context.Background(), "shutting down")
	return nil
}

// openJournal connects, migrates and starts the motion journal. The returned
// func drains the queue and closes the connection.
func openJournal(ctx context.Context, cfg config.DatabaseConfig, log logging.Logger) (*db.DB, *db.Journal, func(), error) {
	database, err := db.ConnectWithRetry(ctx, cfg, 5, time.Second, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("journal database: %w", err)
	}
	if err := database.MigrateUp(); err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("journal migrations: %w", err)
	}
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("journal schema version: %w", err)
	}
	if dirty {
		database.Close()
		return nil, nil, nil, fmt.Errorf("journal schema version %d is dirty", version)
	}

	journal := db.NewJournal(database, cfg.QueueSize, db.WithJournalLogger(log))
	log.Info(ctx, "motion journal enabled",
		logging.String("database", cfg.Database),
		logging.Int("schema_version", int(version)),
		logging.Duration("retention", cfg.Retention()),
	)

	return database, journal, func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := journal.Close(drainCtx); err != nil {
			log.Warn(drainCtx, "journal did not drain", logging.Err(err))
		}
		written, dropped, failed := journal.Stats()
		log.Info(drainCtx, "motion journal closed",
			logging.Int("written", int(written)),
			logging.Int("dropped", int(dropped)),
			logging.Int("failed", int(failed)),
		)
		database.Close()
	}, nil
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/vega.json"
}
