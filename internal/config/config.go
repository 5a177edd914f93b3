// Package config loads the signalctl YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matthewbaird/signalintel/internal/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultDSN              = "file:signalintel.db?_pragma=busy_timeout(5000)"
	DefaultLocale           = "ae"
	DefaultWorkers          = 4
	DefaultStoreTimeout     = 5 * time.Second
	DefaultInterval         = 15 * time.Minute
	DefaultHalfLifeDays     = 10.0
	DefaultMinWeight        = 0.1
	DefaultAutoEscalateDays = 14
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
)

// Config is the top-level configuration. Fields map 1:1 to
// signalctl.example.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Detection DetectionConfig `yaml:"detection"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Recency   RecencyConfig   `yaml:"recency"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Balance   BalanceConfig   `yaml:"balance"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig selects the SQLite database.
type DatabaseConfig struct {
	// DSN is passed to the modernc sqlite driver. ":memory:" keeps
	// everything in process.
	DSN string `yaml:"dsn"`
}

// CalendarConfig selects the business calendar.
type CalendarConfig struct {
	Locale string `yaml:"locale"`
}

// DetectionConfig tunes the detector pool.
type DetectionConfig struct {
	Workers        int           `yaml:"workers"`
	StoreTimeout   time.Duration `yaml:"store_timeout"`
	SkipDuplicates bool          `yaml:"skip_duplicates"`

	// CandidatesDir holds YAML observation files read by the file detector.
	// Empty disables it.
	CandidatesDir string `yaml:"candidates_dir"`
}

// ScheduleConfig controls the schedule command.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// RecencyConfig tunes the recency weighter used by summaries.
type RecencyConfig struct {
	HalfLifeDays float64 `yaml:"half_life_days"`
	MinWeight    float64 `yaml:"min_weight"`
}

// LifecycleConfig tunes the lifecycle tracker.
type LifecycleConfig struct {
	AutoEscalateDays int `yaml:"auto_escalate_days"`
}

// BalanceConfig points at an optional CUE rule file and overrides the
// sustained-balance policy. Zero values keep the rule file's settings.
type BalanceConfig struct {
	RulesFile             string `yaml:"rules_file"`
	SustainedLookbackDays int    `yaml:"sustained_lookback_days"`
	SustainedThreshold    int    `yaml:"sustained_threshold"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is written after every cycle when set.
	Textfile string `yaml:"textfile"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
	// Format is one of: json | console.
	Format string `yaml:"format"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{DSN: DefaultDSN},
		Calendar: CalendarConfig{Locale: DefaultLocale},
		Detection: DetectionConfig{
			Workers:        DefaultWorkers,
			StoreTimeout:   DefaultStoreTimeout,
			SkipDuplicates: true,
		},
		Schedule: ScheduleConfig{Interval: DefaultInterval},
		Recency: RecencyConfig{
			HalfLifeDays: DefaultHalfLifeDays,
			MinWeight:    DefaultMinWeight,
		},
		Lifecycle: LifecycleConfig{AutoEscalateDays: DefaultAutoEscalateDays},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func invalid(field, reason string) error {
	return &types.ConfigurationError{Component: "config", Field: field, Reason: reason}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Database.DSN == "" {
		return invalid("database.dsn", "is required")
	}
	if cfg.Calendar.Locale == "" {
		return invalid("calendar.locale", "is required")
	}
	if cfg.Detection.Workers < 1 {
		return invalid("detection.workers", "must be positive")
	}
	if cfg.Detection.StoreTimeout <= 0 {
		return invalid("detection.store_timeout", "must be positive")
	}
	if cfg.Schedule.Interval <= 0 {
		return invalid("schedule.interval", "must be positive")
	}
	if cfg.Recency.HalfLifeDays <= 0 {
		return invalid("recency.half_life_days", "must be positive")
	}
	if cfg.Recency.MinWeight < 0 || cfg.Recency.MinWeight > 1 {
		return invalid("recency.min_weight", "must be within [0, 1]")
	}
	if cfg.Lifecycle.AutoEscalateDays < 1 {
		return invalid("lifecycle.auto_escalate_days", "must be positive")
	}
	if cfg.Balance.SustainedLookbackDays < 0 {
		return invalid("balance.sustained_lookback_days", "must not be negative")
	}
	if cfg.Balance.SustainedThreshold < 0 {
		return invalid("balance.sustained_threshold", "must not be negative")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", fmt.Sprintf("unknown level %q", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return invalid("log.format", fmt.Sprintf("unknown format %q", cfg.Log.Format))
	}
	return nil
}
