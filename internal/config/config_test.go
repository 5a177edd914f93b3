package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matthewbaird/signalintel/internal/types"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "signalctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
database:
  dsn: ":memory:"
detection:
  workers: 8
  store_timeout: 2s
  skip_duplicates: false
  candidates_dir: /var/lib/signalintel/candidates
schedule:
  interval: 1h
balance:
  rules_file: rules.cue
  sustained_threshold: 3
metrics:
  textfile: /var/lib/node_exporter/signalintel.prom
log:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":memory:", cfg.Database.DSN)
	assert.Equal(t, 8, cfg.Detection.Workers)
	assert.Equal(t, 2*time.Second, cfg.Detection.StoreTimeout)
	assert.False(t, cfg.Detection.SkipDuplicates)
	assert.Equal(t, "/var/lib/signalintel/candidates", cfg.Detection.CandidatesDir)
	assert.Equal(t, time.Hour, cfg.Schedule.Interval)
	assert.Equal(t, "rules.cue", cfg.Balance.RulesFile)
	assert.Equal(t, 3, cfg.Balance.SustainedThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("log:\n  level: warn\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultDSN, cfg.Database.DSN)
	assert.Equal(t, DefaultLocale, cfg.Calendar.Locale)
	assert.Equal(t, DefaultWorkers, cfg.Detection.Workers)
	assert.Equal(t, DefaultStoreTimeout, cfg.Detection.StoreTimeout)
	assert.True(t, cfg.Detection.SkipDuplicates)
	assert.Equal(t, DefaultInterval, cfg.Schedule.Interval)
	assert.Equal(t, DefaultHalfLifeDays, cfg.Recency.HalfLifeDays)
	assert.Equal(t, DefaultAutoEscalateDays, cfg.Lifecycle.AutoEscalateDays)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"workers", "detection:\n  workers: 0\n", "detection.workers"},
		{"timeout", "detection:\n  store_timeout: -1s\n", "detection.store_timeout"},
		{"interval", "schedule:\n  interval: 0s\n", "schedule.interval"},
		{"half life", "recency:\n  half_life_days: 0\n", "recency.half_life_days"},
		{"min weight", "recency:\n  min_weight: 1.5\n", "recency.min_weight"},
		{"escalate", "lifecycle:\n  auto_escalate_days: 0\n", "lifecycle.auto_escalate_days"},
		{"threshold", "balance:\n  sustained_threshold: -2\n", "balance.sustained_threshold"},
		{"level", "log:\n  level: loud\n", "log.level"},
		{"format", "log:\n  format: xml\n", "log.format"},
		{"locale", "calendar:\n  locale: \"\"\n", "calendar.locale"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			var cfgErr *types.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config: read file")

	_, err = Parse([]byte("detection: [unclosed"))
	assert.ErrorContains(t, err, "config: parse yaml")
}

func TestWatch_ReloadsAndKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "schedule:\n  interval: 15m\n")

	core, logs := observer.New(zap.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zap.New(core), func(cfg *Config) {
			select {
			case changes <- cfg:
			default:
			}
		})
	}()
	require.Eventually(t, func() bool {
		return logs.FilterMessage("watching for changes").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("schedule:\n  interval: 5m\n"), 0o644))
	// A truncating write can surface an empty file first; wait for the final content.
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case cfg := <-changes:
			reloaded = cfg.Schedule.Interval == 5*time.Minute
		case <-deadline:
			t.Fatal("no reload after write")
		}
	}

	require.NoError(t, os.WriteFile(path, []byte("schedule:\n  interval: nope\n"), 0o644))
	require.Eventually(t, func() bool {
		return logs.FilterMessage("reload failed, keeping previous config").Len() > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "signalctl.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Detection, DetectionConfig{
		Workers:        cfg.Detection.Workers,
		StoreTimeout:   cfg.Detection.StoreTimeout,
		SkipDuplicates: cfg.Detection.SkipDuplicates,
	})
	assert.Equal(t, "./candidates", cfg.Detection.CandidatesDir)
	assert.Equal(t, DefaultInterval, cfg.Schedule.Interval)
}
