package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/signalintel/internal/types"
)

func signalKeyArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	if _, _, _, ok := types.ParseSignalKey(args[0]); !ok {
		return fmt.Errorf("malformed signal key %q, want signal_type:entity_type:entity_id", args[0])
	}
	return nil
}

func dismissCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "dismiss [signal-key]",
		Short: "Dismiss a signal key for a suppression window",
		Long: `Dismiss a signal key. The key stays suppressed for 7 days, or 30 days
from its third dismissal on. Keys dismissed often enough relative to how
often they are raised are deprioritized by the detectors.

Examples:
  # Dismiss an overdue invoice signal
  signalctl dismiss invoice_overdue:client:C-1

  # Record a dismissal as a duplicate
  signalctl dismiss invoice_overdue:client:C-1 --reason duplicate`,
		Args: signalKeyArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := types.SuppressionReason(reason)
			if !r.Valid() {
				return fmt.Errorf("unknown reason %q", reason)
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.suppression.DismissSignal(cmd.Context(), args[0], r)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), rec, outputFmt)
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", string(types.ReasonUserDismiss),
		"Reason: user_dismiss, auto_deprioritize, duplicate, resolved")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [signal-key]",
		Short: "Show dismissal statistics for a signal key",
		Long: `Show how often a signal key was raised and dismissed, its dismiss
rate, whether it is auto-deprioritized and whether it is currently
suppressed.

Examples:
  signalctl stats invoice_overdue:client:C-1 -o json`,
		Args: signalKeyArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			st, err := a.suppression.DismissStats(ctx, args[0])
			if err != nil {
				return err
			}
			suppressed, err := a.suppression.IsSuppressed(ctx, args[0])
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), StatsResult{Stats: st, Suppressed: suppressed}, outputFmt)
		},
	}
	return cmd
}
