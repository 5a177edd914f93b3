package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/signalintel/internal/balance"
	"github.com/matthewbaird/signalintel/internal/lifecycle"
	"github.com/matthewbaird/signalintel/internal/types"
)

func TestSeverityColor(t *testing.T) {
	tests := []struct {
		severity types.Severity
		want     string
	}{
		{types.SeverityCritical, "\033[31m"},
		{types.SeverityWarning, "\033[33m"},
		{types.SeverityWatch, "\033[36m"},
		{"", ""},
		{"loud", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, severityColor(tt.severity), "severity %q", tt.severity)
	}

	assert.Equal(t, "\033[33mwarning\033[0m", colorize(types.SeverityWarning))
	assert.Equal(t, "loud", colorize("loud"))
}

func TestOutputYAML_UsesJSONNamesInBlockStyle(t *testing.T) {
	var buf bytes.Buffer
	stats := balance.CheckStats{PositivesChecked: 3, SignalsBalanced: 2}
	require.NoError(t, outputResult(&buf, stats, "yaml"))

	out := buf.String()
	assert.Contains(t, out, "positives_checked: 3\n")
	assert.Contains(t, out, "signals_balanced: 2\n")
	assert.NotContains(t, out, "{")
	assert.True(t, strings.Index(out, "positives_checked") < strings.Index(out, "issues_transitioned"), "field order kept")

	buf.Reset()
	require.NoError(t, outputResult(&buf, MaintenanceResult{Operation: "true", Count: 1}, "yaml"))
	assert.Equal(t, "operation: \"true\"\ncount: 1\n", buf.String())
}

func TestOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputResult(&buf, MaintenanceResult{Operation: "expired", Count: 4}, "json"))
	assert.JSONEq(t, `{"operation":"expired","count":4}`, buf.String())
}

func TestOutputTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputResult(&buf, MaintenanceResult{Operation: "deleted", Count: 7}, "table"))
	assert.Equal(t, "DELETED:  7\n", buf.String())

	buf.Reset()
	first := time.Date(2025, time.October, 6, 9, 0, 0, 0, time.UTC)
	recs := []lifecycle.Status{{
		LifecycleRecord: types.LifecycleRecord{
			SignalKey:       "invoice_overdue:client:C-1",
			Severity:        types.SeverityWatch,
			FirstDetectedAt: first,
			DetectionCount:  4,
		},
		Classification:     lifecycle.Recent,
		BusinessDaysActive: 3,
	}}
	require.NoError(t, outputResult(&buf, recs, ""))
	out := buf.String()
	assert.Contains(t, out, "SIGNAL KEY")
	assert.Contains(t, out, "invoice_overdue:client:C-1")
	assert.Contains(t, out, "RECENT")
	assert.Contains(t, out, "2025-10-06 09:00")
}

func TestOutputTable_FallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputResult(&buf, map[string]int{"n": 1}, "table"))
	assert.JSONEq(t, `{"n":1}`, buf.String())
}
