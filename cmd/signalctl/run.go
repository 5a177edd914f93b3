package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matthewbaird/signalintel/internal/config"
	"github.com/matthewbaird/signalintel/internal/detection"
	"github.com/matthewbaird/signalintel/internal/types"
)

func runCmd() *cobra.Command {
	var (
		detectors      []string
		skipDuplicates bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one detection cycle",
		Long: `Run one full cycle: detectors, lifecycle update, auto-escalation,
balancing and suppression expiry. Detector failures do not stop the cycle;
they are listed in the report.

Examples:
  # Run every registered detector
  signalctl run -c signalctl.yaml

  # Run one detector and store duplicates too
  signalctl run --detector candidates_file --skip-duplicates=false

  # Output as JSON
  signalctl run -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := detection.RunOptions{
				DetectorIDs:    detectors,
				SkipDuplicates: a.cfg.Detection.SkipDuplicates,
			}
			if cmd.Flags().Changed("skip-duplicates") {
				opts.SkipDuplicates = skipDuplicates
			}
			report, err := a.engine.RunCycle(ctx, opts)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), report, outputFmt)
		},
	}

	cmd.Flags().StringSliceVarP(&detectors, "detector", "d", nil, "Detector IDs to run (default: all)")
	cmd.Flags().BoolVar(&skipDuplicates, "skip-duplicates", true, "Skip candidates with an active signal of the same type and entity")
	return cmd
}

func scheduleCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run detection cycles on a fixed interval",
		Long: `Run a cycle immediately and then every schedule.interval until
interrupted. When --config names a file it is watched: a changed interval or
log level is applied without a restart, and an invalid edit keeps the
previous settings.

Examples:
  # Run every 15 minutes (the default interval)
  signalctl schedule -c signalctl.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			reloads := make(chan *config.Config, 1)
			if configPath != "" {
				go func() {
					err := config.Watch(ctx, configPath, a.logger, func(cfg *config.Config) {
						select {
						case reloads <- cfg:
						case <-ctx.Done():
						}
					})
					if err != nil {
						a.logger.Warn("config watch stopped", zap.Error(err))
					}
				}()
			}
			return a.schedule(ctx, reloads, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	return cmd
}

// schedule runs cycles until ctx is done, applying reloaded settings
// between cycles.
func (a *app) schedule(ctx context.Context, reloads <-chan *config.Config, once bool) error {
	interval := a.cfg.Schedule.Interval
	skip := a.cfg.Detection.SkipDuplicates
	a.logger.Info("schedule started", zap.Duration("interval", interval))

	cycle := func() {
		_, err := a.engine.RunCycle(ctx, detection.RunOptions{SkipDuplicates: skip})
		switch {
		case errors.Is(err, types.ErrCycleRunning):
			a.logger.Warn("previous cycle still running, skipping tick")
		case err != nil:
			a.logger.Error("cycle failed", zap.Error(err))
		}
		a.writeMetrics()
	}

	cycle()
	if once {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("schedule stopped")
			return nil
		case <-ticker.C:
			cycle()
		case cfg := <-reloads:
			if cfg.Schedule.Interval != interval {
				interval = cfg.Schedule.Interval
				ticker.Reset(interval)
				a.logger.Info("interval changed", zap.Duration("interval", interval))
			}
			if lvl, err := zapcore.ParseLevel(cfg.Log.Level); err == nil && lvl != a.level.Level() {
				a.level.SetLevel(lvl)
				a.logger.Info("log level changed", zap.Stringer("level", lvl))
			}
			skip = cfg.Detection.SkipDuplicates
		}
	}
}
