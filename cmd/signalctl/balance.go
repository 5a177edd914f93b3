package main

import (
	"github.com/spf13/cobra"

	"github.com/matthewbaird/signalintel/internal/types"
)

func balanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Balance negative signals against positive ones",
	}
	cmd.AddCommand(balanceCheckCmd())
	return cmd
}

func balanceCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the balance rules over active positive signals",
		Long: `Run every active positive signal, newest first, through the balance
rules. Matching active negatives are marked balanced and the issues that
contain them are recalculated.

Examples:
  signalctl balance check -c signalctl.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.balance.RunBalanceCheck(cmd.Context())
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), stats, outputFmt)
		},
	}
}

func issueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Manage issues grouping related signals",
	}
	cmd.AddCommand(issueOpenCmd())
	cmd.AddCommand(issueStateCmd())
	cmd.AddCommand(issueListCmd())
	return cmd
}

func issueOpenCmd() *cobra.Command {
	var (
		title     string
		signalIDs []string
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open an issue over a set of signals",
		Long: `Open a surfaced issue over the given signal IDs and compute its
decayed balance.

Examples:
  signalctl issue open --title "Acme payment risk" --signal 8c1e...,f02a...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			iss, err := a.balance.OpenIssue(cmd.Context(), title, signalIDs)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), iss, outputFmt)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Issue title")
	cmd.Flags().StringSliceVarP(&signalIDs, "signal", "s", nil, "Signal IDs in the issue")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func issueStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state [issue-id] [state]",
		Short: "Move an issue to a workflow state",
		Long: `Move an issue to surfaced, acknowledged, addressing, monitoring or
closed. Closed issues cannot be reopened.

Examples:
  signalctl issue state 3f9a... addressing`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			iss, err := a.balance.SetIssueState(cmd.Context(), args[0], types.IssueState(args[1]))
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), iss, outputFmt)
		},
	}
}

func issueListCmd() *cobra.Command {
	var states []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		Long: `List issues, optionally restricted to some states.

Examples:
  signalctl issue list --state addressing,monitoring`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			filter := make([]types.IssueState, len(states))
			for i, s := range states {
				filter[i] = types.IssueState(s)
			}
			issues, err := a.store.ListIssues(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), issues, outputFmt)
		},
	}

	cmd.Flags().StringSliceVar(&states, "state", nil, "Issue states to include (default: all)")
	return cmd
}
