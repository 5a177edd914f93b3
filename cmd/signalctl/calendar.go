package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/signalintel/internal/calendar"
	"github.com/matthewbaird/signalintel/internal/store"
	"github.com/matthewbaird/signalintel/internal/temporal"
	"github.com/matthewbaird/signalintel/internal/types"
)

func calendarCmd() *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "calendar [date]",
		Short: "Classify a date in the business calendar",
		Long: `Show the day type, holiday, Ramadan and Eid flags, season and working
hours of a date (YYYY-MM-DD, default today) in the configured locale.

Examples:
  # Today
  signalctl calendar

  # A date during Ramadan
  signalctl calendar 2026-03-02 -o json

  # Calendar and business days from one date to another
  signalctl calendar 2026-03-25 --since 2026-03-01`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			cal, err := calendar.ForLocale(cfg.Calendar.Locale)
			if err != nil {
				return err
			}
			d := time.Now().In(cal.Location())
			if len(args) == 1 {
				if d, err = parseDate(cal, args[0]); err != nil {
					return err
				}
			}
			if since == "" {
				return outputResult(cmd.OutOrStdout(), cal.DayContext(d), outputFmt)
			}
			start, err := parseDate(cal, since)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), temporal.New(cal).NormalizeAging(start, d), outputFmt)
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Show the aging from this date (YYYY-MM-DD) instead")
	return cmd
}

func parseDate(cal *calendar.Calendar, s string) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", s, cal.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary [entity-type] [entity-id]",
		Short: "Summarize the active signals of one entity",
		Long: `Summarize the active signals of an entity: counts per signal type,
dominant polarity, recency-weighted trend and overall sentiment.

Examples:
  signalctl summary client C-1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sigs, err := a.store.ListSignals(cmd.Context(), store.SignalQuery{
				EntityType: args[0],
				EntityID:   args[1],
				Statuses:   []types.SignalStatus{types.StatusActive},
			})
			if err != nil {
				return err
			}
			summary := a.signals.Summarize(sigs, a.weighter, args[0], args[1], time.Now())
			return outputResult(cmd.OutOrStdout(), summary, outputFmt)
		},
	}
	return cmd
}
