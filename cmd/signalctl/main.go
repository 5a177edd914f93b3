// signalctl runs the signal intelligence engine against a SQLite database.
//
// Usage:
//
//	signalctl run -c signalctl.yaml
//	signalctl schedule -c signalctl.yaml
//	signalctl dismiss invoice_overdue:client:C-1 --reason user_dismiss
//	signalctl lifecycle chronic --min-days 11
//	signalctl balance check
//	signalctl calendar 2026-03-20
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
	outputFmt  string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "signalctl",
		Short: "Detect, track and balance business signals",
		Long: `signalctl drives the signal intelligence engine.

It runs detection cycles, tracks how long each signal persists, applies
dismissals and balances negative signals against positive ones. State is
kept in the SQLite database named by the config file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(dismissCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(lifecycleCmd())
	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(maintenanceCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(summaryCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
