package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/unklstewy/vega-mount/internal/mount"
	"github.com/unklstewy/vega-mount/pkg/alpaca"
	"github.com/unklstewy/vega-mount/pkg/clock"
	"github.com/unklstewy/vega-mount/pkg/config"
	"github.com/unklstewy/vega-mount/pkg/coordinates"
	"github.com/unklstewy/vega-mount/pkg/motion"
)

// main exercises the configured mount driver directly, without the
// controller in front of it.
// Steps:
// 1. Open the driver (connects Alpaca mounts)
// 2. Read position and status
// 3. Slew to two targets and watch completion
// 4. Start a slew and abort it
// 5. Home, then disconnect
func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to configuration file (CONFIG_PATH)")
	timeout := flag.Duration("slew-timeout", 90*time.Second, "How long to wait for each slew")
	flag.Parse()

	fmt.Println("======================================================================")
	fmt.Println("VEGA Mount Check")
	fmt.Println("======================================================================")
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	mc := cfg.Mount
	fmt.Printf("Mount Configuration:\n")
	fmt.Printf("  Driver:       %s\n", mc.Driver)
	if mc.Driver == "alpaca" {
		fmt.Printf("  Base URL:     %s\n", mc.AlpacaURL)
		fmt.Printf("  Device Num:   %d\n", mc.AlpacaDevice)
	} else {
		fmt.Printf("  Slew Rate:    %.1f deg/sec\n", mc.SlewRate)
	}
	fmt.Printf("  Elevation:    [%.0f°, %.0f°]\n", mc.MinElevation, mc.MaxElevation)
	fmt.Println()

	ctx := context.Background()
	limits := motion.Limits{
		MinAzimuth:   mc.MinAzimuth,
		MaxAzimuth:   mc.MaxAzimuth,
		MinElevation: mc.MinElevation,
		MaxElevation: mc.MaxElevation,
	}

	// Step 1
	fmt.Println("Step 1: Opening mount driver...")
	m, err := mount.Open(ctx, mc, clock.New(), nil)
	if err != nil {
		log.Fatalf("Failed to open mount: %v", err)
	}
	fmt.Println("  ✓ Driver ready")
	fmt.Println()

	// Step 2
	fmt.Println("Step 2: Reading position...")
	az, el, err := m.Position(ctx)
	if err != nil {
		log.Fatalf("Failed to read position: %v", err)
	}
	fmt.Printf("  ✓ Az=%.2f°, El=%.2f°\n", az, el)
	if client, ok := m.(*alpaca.Client); ok {
		st, err := client.Status(ctx)
		if err != nil {
			log.Fatalf("Failed to read status: %v", err)
		}
		fmt.Printf("  ✓ Slewing=%v AtPark=%v AtHome=%v\n", st.Slewing, st.AtPark, st.AtHome)
	}
	fmt.Println()

	// Step 3
	targets := []motion.Position{
		{Azimuth: 180, Elevation: 45},
		{Azimuth: 270, Elevation: 60},
	}
	for i, target := range targets {
		fmt.Printf("Step 3.%d: Slewing to Az=%.1f°, El=%.1f°...\n", i+1, target.Azimuth, target.Elevation)
		if err := limits.Check(target.Azimuth, target.Elevation); err != nil {
			fmt.Printf("  - Skipped: %v\n", err)
			continue
		}
		if err := m.SlewTo(ctx, target.Azimuth, target.Elevation); err != nil {
			log.Fatalf("Failed to slew: %v", err)
		}
		monitorSlew(ctx, m, *timeout)
		reportPosition(ctx, m, &target)
		fmt.Println()
	}

	// Step 4
	fmt.Println("Step 4: Testing slew abort (initiating then canceling)...")
	if err := m.SlewTo(ctx, 90, 75); err != nil {
		log.Fatalf("Failed to initiate slew: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	if err := m.Abort(ctx); err != nil {
		log.Fatalf("Failed to abort slew: %v", err)
	}
	fmt.Println("  ✓ Slew aborted")

	time.Sleep(500 * time.Millisecond)
	slewing, err := m.IsSlewing(ctx)
	if err != nil {
		log.Fatalf("Failed to check slewing status: %v", err)
	}
	fmt.Printf("  ✓ Slewing status after abort: %v\n", slewing)
	fmt.Println()

	// Step 5
	fmt.Println("Step 5: Homing...")
	if homer, ok := m.(motion.Homer); ok {
		if err := homer.FindHome(ctx); err != nil {
			log.Fatalf("Failed to home: %v", err)
		}
	} else if err := m.SlewTo(ctx, mc.HomeAzimuth, mc.HomeElevation); err != nil {
		log.Fatalf("Failed to slew home: %v", err)
	}
	monitorSlew(ctx, m, *timeout)
	reportPosition(ctx, m, nil)

	if sim, ok := m.(*mount.Sim); ok {
		slews, aborts := sim.Counters()
		fmt.Printf("  ✓ Simulator saw %d slews and %d aborts\n", slews, aborts)
	}
	if client, ok := m.(*alpaca.Client); ok {
		if err := client.Disconnect(ctx); err != nil {
			log.Fatalf("Failed to disconnect: %v", err)
		}
		fmt.Println("  ✓ Disconnected")
	}
	fmt.Println()

	fmt.Println("======================================================================")
	fmt.Println("✓ ALL CHECKS PASSED")
	fmt.Println("======================================================================")
}

// monitorSlew polls the mount every 200ms until the slew ends or timeout.
func monitorSlew(ctx context.Context, m motion.Driver, timeout time.Duration) {
	start := time.Now()
	last := false

	for {
		slewing, err := m.IsSlewing(ctx)
		if err != nil {
			fmt.Printf("  ! Error checking slewing status: %v\n", err)
			return
		}
		if slewing != last {
			if slewing {
				fmt.Println("    → Slew started")
			}
			last = slewing
		}
		if !slewing {
			fmt.Printf("    → Slew complete (%s)\n", time.Since(start).Round(100*time.Millisecond))
			return
		}
		if time.Since(start) > timeout {
			fmt.Println("    (timeout waiting for slew to complete)")
			_ = m.Abort(ctx)
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// reportPosition prints where the mount is and, given a target, how far
// off it settled.
func reportPosition(ctx context.Context, m motion.PositionReader, target *motion.Position) {
	az, el, err := m.Position(ctx)
	if err != nil {
		fmt.Printf("  ! Position read failed: %v\n", err)
		return
	}
	if target == nil {
		fmt.Printf("  ✓ Now at Az=%.2f°, El=%.2f°\n", az, el)
		return
	}
	miss := coordinates.AngularSeparation(
		coordinates.HorizontalCoordinates{Azimuth: az, Altitude: el},
		coordinates.HorizontalCoordinates{Azimuth: target.Azimuth, Altitude: target.Elevation},
	)
	fmt.Printf("  ✓ Now at Az=%.2f°, El=%.2f° (%.3f° from target)\n", az, el, miss)
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/vega.json"
}
