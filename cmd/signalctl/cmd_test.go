package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd(t *testing.T) {
	root := newRootCmd()

	assert.Equal(t, "signalctl", root.Use)
	assert.NotEmpty(t, root.Long)

	cfg := root.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)

	out := root.PersistentFlags().Lookup("output")
	require.NotNil(t, out)
	assert.Equal(t, "o", out.Shorthand)
	assert.Equal(t, "table", out.DefValue)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "schedule", "dismiss", "stats", "lifecycle", "balance", "issue", "maintenance", "calendar", "summary"} {
		assert.Contains(t, names, want)
	}
}

func TestRunCmd(t *testing.T) {
	cmd := runCmd()

	assert.Equal(t, "run", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.NotNil(t, cmd.RunE)

	det := cmd.Flags().Lookup("detector")
	require.NotNil(t, det)
	assert.Equal(t, "d", det.Shorthand)

	skip := cmd.Flags().Lookup("skip-duplicates")
	require.NotNil(t, skip)
	assert.Equal(t, "true", skip.DefValue)
}

func TestScheduleCmd(t *testing.T) {
	cmd := scheduleCmd()

	assert.Equal(t, "schedule", cmd.Use)
	assert.NotEmpty(t, cmd.Long)
	assert.NotNil(t, cmd.RunE)
	require.NotNil(t, cmd.Flags().Lookup("once"))
}

func TestDismissCmd(t *testing.T) {
	cmd := dismissCmd()

	assert.Equal(t, "dismiss [signal-key]", cmd.Use)
	assert.NotEmpty(t, cmd.Long)
	assert.NotNil(t, cmd.RunE)

	reason := cmd.Flags().Lookup("reason")
	require.NotNil(t, reason)
	assert.Equal(t, "r", reason.Shorthand)
	assert.Equal(t, "user_dismiss", reason.DefValue)

	assert.Error(t, cmd.Args(cmd, nil))
	assert.Error(t, cmd.Args(cmd, []string{"invoice_overdue:client"}))
	assert.NoError(t, cmd.Args(cmd, []string{"invoice_overdue:client:C-1"}))
}

func TestStatsCmd(t *testing.T) {
	cmd := statsCmd()

	assert.Equal(t, "stats [signal-key]", cmd.Use)
	assert.NotNil(t, cmd.RunE)
	assert.Error(t, cmd.Args(cmd, []string{"::"}))
}

func TestLifecycleCmd(t *testing.T) {
	cmd := lifecycleCmd()
	assert.Equal(t, "lifecycle", cmd.Use)

	sub := map[string]bool{}
	for _, c := range cmd.Commands() {
		sub[c.Name()] = true
		assert.NotNil(t, c.RunE, c.Name())
		assert.NotEmpty(t, c.Long, c.Name())
	}
	assert.Equal(t, map[string]bool{"chronic": true, "escalating": true, "status": true}, sub)

	chronic := lifecycleChronicCmd()
	minDays := chronic.Flags().Lookup("min-days")
	require.NotNil(t, minDays)
	assert.Equal(t, "0", minDays.DefValue)
}

func TestBalanceAndIssueCmds(t *testing.T) {
	check := balanceCheckCmd()
	assert.Equal(t, "check", check.Use)
	assert.NotNil(t, check.RunE)

	open := issueOpenCmd()
	require.NotNil(t, open.Flags().Lookup("title"))
	sig := open.Flags().Lookup("signal")
	require.NotNil(t, sig)
	assert.Equal(t, "s", sig.Shorthand)

	state := issueStateCmd()
	assert.Error(t, state.Args(state, []string{"only-id"}))
	assert.NoError(t, state.Args(state, []string{"id", "closed"}))

	list := issueListCmd()
	require.NotNil(t, list.Flags().Lookup("state"))
}

func TestMaintenanceCmd(t *testing.T) {
	cmd := maintenanceCmd()
	assert.Len(t, cmd.Commands(), 2)

	cleanup := maintenanceCleanupCmd()
	days := cleanup.Flags().Lookup("days")
	require.NotNil(t, days)
	assert.Equal(t, "365", days.DefValue)
}

func TestCalendarAndSummaryCmds(t *testing.T) {
	cal := calendarCmd()
	assert.Equal(t, "calendar [date]", cal.Use)
	assert.NoError(t, cal.Args(cal, nil))
	assert.Error(t, cal.Args(cal, []string{"2026-01-01", "2026-01-02"}))
	since := cal.Flags().Lookup("since")
	require.NotNil(t, since)
	assert.Empty(t, since.DefValue)

	sum := summaryCmd()
	assert.Equal(t, "summary [entity-type] [entity-id]", sum.Use)
	assert.Error(t, sum.Args(sum, []string{"client"}))
}
