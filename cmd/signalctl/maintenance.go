package main

import (
	"github.com/spf13/cobra"

	"github.com/matthewbaird/signalintel/internal/detection"
)

func maintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Expire and clean up stored signals",
	}
	cmd.AddCommand(maintenanceExpireCmd())
	cmd.AddCommand(maintenanceCleanupCmd())
	return cmd
}

func maintenanceExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Archive active signals past their expiry",
		Long: `Archive every active signal whose expires_at has passed.

Examples:
  signalctl maintenance expire`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.detection.ExpireOldSignals(cmd.Context())
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), MaintenanceResult{Operation: "expired", Count: n}, outputFmt)
		},
	}
}

func maintenanceCleanupCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete archived signals older than a number of days",
		Long: `Hard-delete archived signals detected more than --days days ago.
This is the only operation that deletes signals.

Examples:
  signalctl maintenance cleanup --days 180`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.detection.CleanupArchivedSignals(cmd.Context(), days)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), MaintenanceResult{Operation: "deleted", Count: n}, outputFmt)
		},
	}

	cmd.Flags().IntVar(&days, "days", detection.DefaultCleanupDays, "Age in days past which archived signals are deleted")
	return cmd
}
