package main

import (
	"github.com/spf13/cobra"
)

func lifecycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Inspect how long signals have persisted",
		Long: `Inspect lifecycle records. Classifications are derived on read from
business days active: NEW, RECENT, ONGOING, CHRONIC, plus ESCALATING and
RESOLVING.`,
	}
	cmd.AddCommand(lifecycleChronicCmd())
	cmd.AddCommand(lifecycleEscalatingCmd())
	cmd.AddCommand(lifecycleStatusCmd())
	return cmd
}

func lifecycleChronicCmd() *cobra.Command {
	var minDays int

	cmd := &cobra.Command{
		Use:   "chronic",
		Short: "List unresolved signals active for a long time",
		Long: `List unresolved signals active for at least --min-days business days,
oldest first.

Examples:
  # Signals older than the chronic threshold
  signalctl lifecycle chronic

  # Signals active for three business weeks or more
  signalctl lifecycle chronic --min-days 15`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.tracker.ChronicSignals(cmd.Context(), minDays)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), recs, outputFmt)
		},
	}

	cmd.Flags().IntVar(&minDays, "min-days", 0, "Minimum business days active (default: chronic threshold)")
	return cmd
}

func lifecycleEscalatingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "escalating",
		Short: "List unresolved signals above their initial severity",
		Long: `List unresolved signals whose current severity is above the severity
they were first detected at, oldest first.

Examples:
  signalctl lifecycle escalating -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.tracker.EscalatingSignals(cmd.Context())
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), recs, outputFmt)
		},
	}
}

func lifecycleStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [signal-key]",
		Short: "Show the lifecycle record of one signal key",
		Long: `Show the lifecycle record of one signal key with its derived
classification and business days active.

Examples:
  signalctl lifecycle status invoice_overdue:client:C-1`,
		Args: signalKeyArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.tracker.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), st, outputFmt)
		},
	}
}
