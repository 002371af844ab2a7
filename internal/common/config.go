package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Progress    ProgressConfig  `toml:"progress"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Tracker     TrackerConfig   `toml:"tracker"`
	Runner      RunnerConfig    `toml:"runner"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// ProgressConfig controls the durable store side of progress tracking
type ProgressConfig struct {
	// StoreStaleThreshold is the age after which a non-terminal record is
	// considered abandoned at the store level.
	StoreStaleThreshold Duration `toml:"store_stale_threshold"`
	// TerminalRetention is how long completed/error records are kept.
	TerminalRetention Duration `toml:"terminal_retention"`
	CleanupSchedule   string   `toml:"cleanup_schedule"` // Cron schedule for the stale sweep
	CleanupEnabled    bool     `toml:"cleanup_enabled"`
}

// WebSocketConfig contains configuration for the progress push stream
type WebSocketConfig struct {
	PushInterval Duration `toml:"push_interval"` // How often the stream checks the store
	StartupWait  Duration `toml:"startup_wait"`  // How long to wait for an unknown session
	Throttle     Duration `toml:"throttle"`      // Minimum spacing of non-terminal frames
}

// TrackerConfig contains consumer-side observation settings
type TrackerConfig struct {
	PollInterval       Duration `toml:"poll_interval"`
	StartupGrace       Duration `toml:"startup_grace"`        // not_found tolerated for this long after start
	LiveStaleThreshold Duration `toml:"live_stale_threshold"` // record age that ends live observation
	CompletionGrace    Duration `toml:"completion_grace"`     // final state stays visible for this long
	RequestTimeout     Duration `toml:"request_timeout"`
	MaxReconnects      int      `toml:"max_reconnects" validate:"min=0"`
	ReconnectBackoff   Duration `toml:"reconnect_backoff"`
	PendingPreview     int      `toml:"pending_preview" validate:"min=0"` // next-N pending items shown
	DiscoveryWorkers   int      `toml:"discovery_workers" validate:"min=1"`
}

// RunnerConfig contains settings for the reference job runner
type RunnerConfig struct {
	Concurrency int      `toml:"concurrency" validate:"min=1"` // Batches executed in parallel
	StepDelay   Duration `toml:"step_delay"`                   // Delay between stages of the staged processor
	MaxItems    int      `toml:"max_items" validate:"min=1"`
}

// Duration wraps time.Duration so TOML files can use "1s", "5m" strings.
type Duration struct {
	time.Duration
}

// NewDuration is a convenience constructor.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText implements encoding.TextUnmarshaler for go-toml.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/progress",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Progress: ProgressConfig{
			StoreStaleThreshold: NewDuration(5 * time.Minute),
			TerminalRetention:   NewDuration(1 * time.Hour),
			CleanupSchedule:     "@every 1m",
			CleanupEnabled:      true,
		},
		WebSocket: WebSocketConfig{
			PushInterval: NewDuration(1 * time.Second),
			StartupWait:  NewDuration(30 * time.Second),
			Throttle:     NewDuration(250 * time.Millisecond),
		},
		Tracker: TrackerConfig{
			PollInterval:       NewDuration(1 * time.Second),
			StartupGrace:       NewDuration(60 * time.Second),
			LiveStaleThreshold: NewDuration(1 * time.Minute),
			CompletionGrace:    NewDuration(3 * time.Second),
			RequestTimeout:     NewDuration(10 * time.Second),
			MaxReconnects:      5,
			ReconnectBackoff:   NewDuration(1 * time.Second),
			PendingPreview:     3,
			DiscoveryWorkers:   4,
		},
		Runner: RunnerConfig{
			Concurrency: 2,
			StepDelay:   NewDuration(500 * time.Millisecond),
			MaxItems:    500,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied by the caller.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PROGRESSWATCH_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("PROGRESSWATCH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PROGRESSWATCH_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("PROGRESSWATCH_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("PROGRESSWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("PROGRESSWATCH_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Tracker configuration
	if interval := os.Getenv("PROGRESSWATCH_POLL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Tracker.PollInterval = NewDuration(d)
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

var configValidator = validator.New()

// Validate checks ranges, durations, the log level and the cleanup schedule.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if lvl := strings.ToLower(strings.TrimSpace(c.Logging.Level)); lvl != "" {
		// phuslu maps anything it does not recognise to the same unset level as ""
		if log.ParseLevel(lvl) == log.ParseLevel("") {
			return fmt.Errorf("invalid configuration: unknown log level %q", c.Logging.Level)
		}
	}

	positive := map[string]Duration{
		"progress.store_stale_threshold": c.Progress.StoreStaleThreshold,
		"websocket.push_interval":        c.WebSocket.PushInterval,
		"tracker.poll_interval":          c.Tracker.PollInterval,
		"tracker.live_stale_threshold":   c.Tracker.LiveStaleThreshold,
		"tracker.request_timeout":        c.Tracker.RequestTimeout,
	}
	for name, d := range positive {
		if d.Duration <= 0 {
			return fmt.Errorf("invalid configuration: %s must be positive", name)
		}
	}

	if c.Progress.CleanupEnabled {
		if err := ValidateCronSchedule(c.Progress.CleanupSchedule); err != nil {
			return fmt.Errorf("invalid configuration: progress.cleanup_schedule: %w", err)
		}
	}

	return nil
}

// ValidateCronSchedule parses a standard 5-field or descriptor schedule
func ValidateCronSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return fmt.Errorf("schedule is empty")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
