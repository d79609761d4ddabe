package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config represents the complete controller configuration.
type Config struct {
	Observer  ObserverConfig  `json:"observer"`
	Mount     MountConfig     `json:"mount"`
	Motion    MotionConfig    `json:"motion"`
	Tracking  TrackingConfig  `json:"tracking"`
	Serial    SerialConfig    `json:"serial"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Metrics   MetricsConfig   `json:"metrics"`
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
}

// ObserverConfig contains the antenna's geographic location.
// This is critical for accurate coordinate transformations.
type ObserverConfig struct {
	// Name is a friendly identifier for this site
	Name string `json:"name"`

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180), east positive
	Longitude float64 `json:"longitude"`

	// Elevation in meters above sea level
	Elevation float64 `json:"elevation"`

	// TimeZone is the IANA timezone name (e.g., "Europe/Zurich")
	TimeZone string `json:"timezone"`
}

// MountConfig describes the physical mount and how to drive it.
type MountConfig struct {
	// Driver selects the mount backend: "sim" or "alpaca"
	Driver string `json:"driver"`

	// AlpacaURL is the Alpaca server address (e.g., "http://192.168.1.100:11111")
	AlpacaURL string `json:"alpaca_url"`

	// AlpacaDevice is the Alpaca telescope device number (typically 0)
	AlpacaDevice int `json:"alpaca_device"`

	// SlewRate is the simulated slew speed in degrees per second
	SlewRate float64 `json:"slew_rate"`

	// MinAzimuth/MaxAzimuth bound the accepted azimuth; MaxAzimuth is exclusive
	MinAzimuth float64 `json:"min_azimuth"`
	MaxAzimuth float64 `json:"max_azimuth"`

	// MinElevation/MaxElevation bound the accepted elevation, both inclusive
	MinElevation float64 `json:"min_elevation"`
	MaxElevation float64 `json:"max_elevation"`

	// HomeAzimuth/HomeElevation is the rest position used by "home"
	HomeAzimuth   float64 `json:"home_azimuth"`
	HomeElevation float64 `json:"home_elevation"`

	// StandbyAzimuth/StandbyElevation is the stow position used by "standby"
	StandbyAzimuth   float64 `json:"standby_azimuth"`
	StandbyElevation float64 `json:"standby_elevation"`
}

// MotionConfig tunes the motion orchestrator.
type MotionConfig struct {
	// StopTimeoutMS bounds how long a stop waits for the running task to exit
	StopTimeoutMS int `json:"stop_timeout_ms"`

	// DebounceMS is the minimum spacing between accepted motion commands
	DebounceMS int `json:"debounce_ms"`

	// PollIntervalMS is how often a slew is checked for completion or cancellation
	PollIntervalMS int `json:"poll_interval_ms"`

	// MaxSlewSeconds aborts a slew that never reports completion
	MaxSlewSeconds int `json:"max_slew_seconds"`

	// UntangleStepDegrees is the largest azimuth leg taken while unwinding cables
	UntangleStepDegrees float64 `json:"untangle_step_degrees"`
}

// TrackingConfig tunes the tracker.
type TrackingConfig struct {
	// UpdateIntervalMS is the target recompute period
	UpdateIntervalMS int `json:"update_interval_ms"`

	// LoopIntervalMS is the tracking loop period
	LoopIntervalMS int `json:"loop_interval_ms"`

	// MotionThreshold is the smallest per-axis error in degrees worth moving for
	MotionThreshold float64 `json:"motion_threshold"`
}

// SerialConfig contains the command link settings.
type SerialConfig struct {
	// Port is the serial device (e.g., "/dev/ttyUSB0"); empty uses stdin/stdout
	Port string `json:"port"`

	// BaudRate is the link speed
	BaudRate int `json:"baud_rate"`
}

// BroadcastConfig controls unsolicited position reports.
type BroadcastConfig struct {
	// PositionIntervalMS is the period between position broadcasts; 0 disables them
	PositionIntervalMS int `json:"position_interval_ms"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// DatabaseConfig contains the motion journal connection settings.
type DatabaseConfig struct {
	// Enabled turns the motion journal on
	Enabled bool `json:"enabled"`

	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`

	// QueueSize is the number of journal events buffered before dropping
	QueueSize int `json:"queue_size"`

	// RetentionDays is how long journal events are kept; 0 keeps them forever
	RetentionDays int `json:"retention_days"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
// Fields missing from the file keep their default values.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
// The site defaults to the original installation near Lausanne.
func DefaultConfig() *Config {
	return &Config{
		Observer: ObserverConfig{
			Name:      "Ecublens",
			Latitude:  46.5194444,
			Longitude: 6.565,
			Elevation: 411,
			TimeZone:  "Europe/Zurich",
		},
		Mount: MountConfig{
			Driver:           "sim",
			AlpacaURL:        "http://localhost:11111",
			AlpacaDevice:     0,
			SlewRate:         6.0,
			MinAzimuth:       0,
			MaxAzimuth:       360,
			MinElevation:     1,
			MaxElevation:     89,
			HomeAzimuth:      0,
			HomeElevation:    89,
			StandbyAzimuth:   0,
			StandbyElevation: 89,
		},
		Motion: MotionConfig{
			StopTimeoutMS:       5000,
			DebounceMS:          1000,
			PollIntervalMS:      250,
			MaxSlewSeconds:      300,
			UntangleStepDegrees: 90,
		},
		Tracking: TrackingConfig{
			UpdateIntervalMS: 100,
			LoopIntervalMS:   2000,
			MotionThreshold:  0.1,
		},
		Serial: SerialConfig{
			Port:     "",
			BaudRate: 921600,
		},
		Broadcast: BroadcastConfig{
			PositionIntervalMS: 5000,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9102",
		},
		Database: DatabaseConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "vega",
			Username:      "vega",
			SSLMode:       "disable",
			MaxOpenConns:  4,
			MaxIdleConns:  2,
			QueueSize:     256,
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports configuration values the controller cannot run with.
func (c *Config) Validate() error {
	switch c.Mount.Driver {
	case "sim", "alpaca":
	default:
		return fmt.Errorf("invalid mount driver %q (want sim or alpaca)", c.Mount.Driver)
	}
	if c.Mount.MinAzimuth >= c.Mount.MaxAzimuth {
		return fmt.Errorf("invalid azimuth limits [%g, %g)", c.Mount.MinAzimuth, c.Mount.MaxAzimuth)
	}
	if c.Mount.MinElevation > c.Mount.MaxElevation {
		return fmt.Errorf("invalid elevation limits [%g, %g]", c.Mount.MinElevation, c.Mount.MaxElevation)
	}
	if c.Observer.Latitude < -90 || c.Observer.Latitude > 90 {
		return fmt.Errorf("invalid observer latitude %g", c.Observer.Latitude)
	}
	if c.Motion.StopTimeoutMS <= 0 || c.Motion.PollIntervalMS <= 0 {
		return fmt.Errorf("motion timeouts must be positive")
	}
	if c.Motion.PollIntervalMS > 1000 {
		return fmt.Errorf("motion poll interval %dms exceeds 1000ms", c.Motion.PollIntervalMS)
	}
	if c.Tracking.UpdateIntervalMS <= 0 || c.Tracking.LoopIntervalMS <= 0 {
		return fmt.Errorf("tracking intervals must be positive")
	}
	return nil
}

// StopTimeout returns the forced-termination bound as a duration.
func (m MotionConfig) StopTimeout() time.Duration {
	return time.Duration(m.StopTimeoutMS) * time.Millisecond
}

// Debounce returns the command spacing as a duration.
func (m MotionConfig) Debounce() time.Duration {
	return time.Duration(m.DebounceMS) * time.Millisecond
}

// PollInterval returns the slew poll period as a duration.
func (m MotionConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMS) * time.Millisecond
}

// MaxSlew returns the longest a single slew may run.
func (m MotionConfig) MaxSlew() time.Duration {
	return time.Duration(m.MaxSlewSeconds) * time.Second
}

// UpdateInterval returns the recompute period as a duration.
func (t TrackingConfig) UpdateInterval() time.Duration {
	return time.Duration(t.UpdateIntervalMS) * time.Millisecond
}

// LoopInterval returns the tracking loop period as a duration.
func (t TrackingConfig) LoopInterval() time.Duration {
	return time.Duration(t.LoopIntervalMS) * time.Millisecond
}

// Retention returns how long journal events are kept; 0 means forever.
func (d DatabaseConfig) Retention() time.Duration {
	return time.Duration(d.RetentionDays) * 24 * time.Hour
}

// PositionInterval returns the broadcast period as a duration.
func (b BroadcastConfig) PositionInterval() time.Duration {
	return time.Duration(b.PositionIntervalMS) * time.Millisecond
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows site-specific values and passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("VEGA_SERIAL_PORT"); port != "" {
		c.Serial.Port = port
	}
	if baud := os.Getenv("VEGA_SERIAL_BAUD"); baud != "" {
		if v, err := strconv.Atoi(baud); err == nil {
			c.Serial.BaudRate = v
		}
	}
	if driver := os.Getenv("VEGA_MOUNT_DRIVER"); driver != "" {
		c.Mount.Driver = driver
	}
	if alpacaURL := os.Getenv("VEGA_ALPACA_URL"); alpacaURL != "" {
		c.Mount.AlpacaURL = alpacaURL
	}
	if dbPassword := os.Getenv("VEGA_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if addr := os.Getenv("VEGA_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
		c.Metrics.Enabled = true
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
}
