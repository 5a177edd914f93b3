package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matthewbaird/signalintel/internal/balance"
	"github.com/matthewbaird/signalintel/internal/calendar"
	"github.com/matthewbaird/signalintel/internal/config"
	"github.com/matthewbaird/signalintel/internal/detection"
	"github.com/matthewbaird/signalintel/internal/engine"
	"github.com/matthewbaird/signalintel/internal/eventbus"
	"github.com/matthewbaird/signalintel/internal/lifecycle"
	"github.com/matthewbaird/signalintel/internal/metrics"
	"github.com/matthewbaird/signalintel/internal/recency"
	"github.com/matthewbaird/signalintel/internal/signals"
	"github.com/matthewbaird/signalintel/internal/store"
	"github.com/matthewbaird/signalintel/internal/suppression"
)

// fileDetectorID names the detector reading detection.candidates_dir.
const fileDetectorID = "candidates_file"

// app holds every component built from one config.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel

	store       *store.SQLStore
	calendar    *calendar.Calendar
	signals     *signals.Registry
	weighter    *recency.Weighter
	detection   *detection.Orchestrator
	tracker     *lifecycle.Tracker
	suppression *suppression.Service
	balance     *balance.Service
	engine      *engine.Engine
	bus         *eventbus.Bus
	metrics     *metrics.Metrics
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openApp loads the config named by --config and builds the app from it.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}

func newLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, level, fmt.Errorf("log level: %w", err)
	}
	logConfig := zap.NewProductionConfig()
	if cfg.Format == "console" {
		logConfig = zap.NewDevelopmentConfig()
	}
	logConfig.Level = level
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := logConfig.Build()
	if err != nil {
		return nil, level, fmt.Errorf("build logger: %w", err)
	}
	return logger, level, nil
}

func loadRules(cfg config.BalanceConfig, reg *signals.Registry) (*balance.Rules, error) {
	var (
		rules *balance.Rules
		err   error
	)
	if cfg.RulesFile != "" {
		rules, err = balance.LoadRulesFile(cfg.RulesFile, reg)
	} else {
		rules, err = balance.DefaultRules(reg)
	}
	if err != nil {
		return nil, err
	}
	return rules.WithSustained(balance.SustainedPolicy{
		LookbackDays: cfg.SustainedLookbackDays,
		Threshold:    cfg.SustainedThreshold,
	}), nil
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	logger, level, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, level: level}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.calendar, err = calendar.ForLocale(cfg.Calendar.Locale); err != nil {
		return nil, err
	}
	ropts := recency.DefaultOptions()
	ropts.HalfLifeDays = cfg.Recency.HalfLifeDays
	ropts.MinWeight = cfg.Recency.MinWeight
	if a.weighter, err = recency.New(a.calendar, ropts); err != nil {
		return nil, err
	}
	a.signals = signals.MustDefault()
	rules, err := loadRules(cfg.Balance, a.signals)
	if err != nil {
		return nil, err
	}

	if a.store, err = store.OpenSQLite(ctx, cfg.Database.DSN, logger); err != nil {
		return nil, err
	}

	a.suppression = suppression.New(a.store, suppression.DefaultOptions(), logger)

	detectors := detection.NewRegistry()
	if dir := cfg.Detection.CandidatesDir; dir != "" {
		fd := detection.NewFileDetector(fileDetectorID, dir, a.signals, a.store, a.suppression, logger)
		if err = detectors.Register(fd); err != nil {
			return nil, err
		}
	}
	a.detection = detection.NewOrchestrator(detectors, a.store, detection.Options{
		Workers:      cfg.Detection.Workers,
		StoreTimeout: cfg.Detection.StoreTimeout,
	}, logger)

	lopts := lifecycle.DefaultOptions()
	lopts.AutoEscalateDays = cfg.Lifecycle.AutoEscalateDays
	if a.tracker, err = lifecycle.New(a.calendar, a.store, lopts, logger); err != nil {
		return nil, err
	}

	a.metrics = metrics.New()
	a.bus = eventbus.New(256, logger)
	a.bus.Subscribe("log", eventbus.NewLogConsumer(logger))
	a.bus.Subscribe("metrics", eventbus.NewMetricsConsumer(a.metrics))
	a.bus.Start(ctx)

	a.balance = balance.New(rules, a.store, a.store, logger)
	a.balance.SetPublisher(a.bus)

	a.engine = engine.New(engine.Components{
		Orchestrator: a.detection,
		Lifecycle:    a.tracker,
		Suppression:  a.suppression,
		Balance:      a.balance,
	}, logger)
	a.engine.SetPublisher(a.bus)
	a.engine.SetRecorder(a.metrics)

	logger.Debug("app ready",
		zap.String("dsn", cfg.Database.DSN),
		zap.String("locale", a.calendar.Locale()),
		zap.Strings("detectors", detectors.List()))
	return a, nil
}

// writeMetrics exports the metrics textfile when one is configured.
func (a *app) writeMetrics() {
	path := a.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := a.metrics.WriteTextfile(path); err != nil {
		a.logger.Warn("metrics export failed", zap.String("path", path), zap.Error(err))
	}
}

// Close drains the event bus, then closes the store.
func (a *app) Close() {
	if a.bus != nil {
		a.bus.Stop()
		if n := a.bus.Dropped(); n > 0 {
			a.logger.Warn("events dropped", zap.Uint64("count", n))
		}
		a.writeMetrics()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
