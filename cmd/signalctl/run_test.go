package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/matthewbaird/signalintel/internal/calendar"
	"github.com/matthewbaird/signalintel/internal/config"
	"github.com/matthewbaird/signalintel/internal/engine"
	"github.com/matthewbaird/signalintel/internal/lifecycle"
	"github.com/matthewbaird/signalintel/internal/temporal"
	"github.com/matthewbaird/signalintel/internal/types"
)

const invoiceObservations = `
observations:
  - id: inv-1
    event_type: InvoiceStatus
    entity_id: C-1
    scope:
      client_id: C-1
    payload:
      days_past_due: 12
`

const paymentObservations = `
observations:
  - id: pay-1
    event_type: PaymentRecorded
    entity_id: C-1
    scope:
      client_id: C-1
`

// workspace writes a config using a file database and a candidates
// directory, and returns the config path and the candidates directory.
func workspace(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	candidates := filepath.Join(dir, "candidates")
	require.NoError(t, os.Mkdir(candidates, 0o755))
	body := fmt.Sprintf(`
database:
  dsn: %q
detection:
  candidates_dir: %q
metrics:
  textfile: %q
log:
  level: error
`, filepath.Join(dir, "signals.db"), candidates, filepath.Join(dir, "signalintel.prom"))
	path := filepath.Join(dir, "signalctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, candidates
}

func execute(t *testing.T, args ...string) []byte {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()), "signalctl %v", args)
	return out.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestRun_DismissAndBalanceEndToEnd(t *testing.T) {
	cfgPath, candidates := workspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(candidates, "billing.yaml"), []byte(invoiceObservations), 0o644))

	report := decode[engine.CycleReport](t, execute(t, "run", "-c", cfgPath, "-o", "json"))
	assert.Equal(t, 1, report.Detection.DetectorsRun)
	assert.Equal(t, 1, report.Detection.SignalsStored)
	assert.Equal(t, 1, report.LifecycleUpdated)
	assert.Empty(t, report.Errors)

	st := decode[lifecycle.Status](t, execute(t, "lifecycle", "status", "invoice_overdue:client:C-1", "-c", cfgPath, "-o", "json"))
	assert.Equal(t, lifecycle.ClassNew, st.Classification)
	assert.Equal(t, types.SeverityWarning, st.Severity)

	rec := decode[types.SuppressionRecord](t, execute(t, "dismiss", "invoice_overdue:client:C-1", "-c", cfgPath, "-o", "json"))
	assert.Equal(t, 1, rec.DismissCount)
	assert.Equal(t, types.ReasonUserDismiss, rec.Reason)

	stats := decode[StatsResult](t, execute(t, "stats", "invoice_overdue:client:C-1", "-c", cfgPath, "-o", "json"))
	assert.Equal(t, 1, stats.TotalRaised)
	assert.Equal(t, 1, stats.TotalDismissed)
	assert.True(t, stats.Suppressed)

	// The dismissed key is skipped while its suppression window is open.
	report = decode[engine.CycleReport](t, execute(t, "run", "-c", cfgPath, "-o", "json"))
	assert.Zero(t, report.Detection.SignalsDetected)
	assert.Zero(t, report.Detection.SignalsStored)

	require.NoError(t, os.WriteFile(filepath.Join(candidates, "payments.yaml"), []byte(paymentObservations), 0o644))
	report = decode[engine.CycleReport](t, execute(t, "run", "-c", cfgPath, "-o", "json"))
	assert.Equal(t, 1, report.Detection.SignalsStored)
	assert.Equal(t, 1, report.Balance.SignalsBalanced)

	// With the invoice balanced, only the payment is seen and it is a duplicate.
	report = decode[engine.CycleReport](t, execute(t, "run", "-c", cfgPath, "-o", "json"))
	assert.Zero(t, report.Detection.SignalsStored)
	assert.Equal(t, 1, report.Detection.SignalsDuplicate)
	stats = decode[StatsResult](t, execute(t, "stats", "invoice_overdue:client:C-1", "-c", cfgPath, "-o", "json"))
	assert.Equal(t, 1, stats.TotalRaised)

	summary := decode[types.EntitySummary](t, execute(t, "summary", "client", "C-1", "-c", cfgPath, "-o", "json"))
	assert.Contains(t, summary.Types, "payment_received")
	assert.NotContains(t, summary.Types, "invoice_overdue", "balanced signals are not active")

	metrics, err := os.ReadFile(filepath.Join(filepath.Dir(cfgPath), "signalintel.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "signalintel_cycles_total")
}

func TestIssueCommands(t *testing.T) {
	cfgPath, _ := workspace(t)

	iss := decode[types.Issue](t, execute(t, "issue", "open", "--title", "Acme payment risk", "-c", cfgPath, "-o", "json"))
	assert.Equal(t, types.IssueSurfaced, iss.State)

	iss = decode[types.Issue](t, execute(t, "issue", "state", iss.ID, "addressing", "-c", cfgPath, "-o", "json"))
	assert.Equal(t, types.IssueAddressing, iss.State)

	issues := decode[[]types.Issue](t, execute(t, "issue", "list", "--state", "addressing", "-c", cfgPath, "-o", "json"))
	require.Len(t, issues, 1)
	assert.Equal(t, iss.ID, issues[0].ID)
}

func TestMaintenanceCommands(t *testing.T) {
	cfgPath, _ := workspace(t)

	res := decode[MaintenanceResult](t, execute(t, "maintenance", "expire", "-c", cfgPath, "-o", "json"))
	assert.Equal(t, MaintenanceResult{Operation: "expired"}, res)

	res = decode[MaintenanceResult](t, execute(t, "maintenance", "cleanup", "--days", "30", "-c", cfgPath, "-o", "json"))
	assert.Equal(t, MaintenanceResult{Operation: "deleted"}, res)
}

func TestCalendarCommand(t *testing.T) {
	day := decode[calendar.DayContext](t, execute(t, "calendar", "2025-12-02", "-o", "json"))
	assert.Equal(t, calendar.DayPublicHoliday, day.DayType)
	assert.Equal(t, "National Day", day.HolidayName)
	assert.False(t, day.IsWorkingDay())

	// Commemoration Day and National Day cover Mon 1 to Wed 3 Dec 2025,
	// leaving Thursday as the only working day after Sunday 30 Nov.
	aging := decode[temporal.Aging](t, execute(t, "calendar", "2025-12-04", "--since", "2025-11-30", "-o", "json"))
	assert.Equal(t, 4, aging.CalendarDays)
	assert.Equal(t, 1, aging.BusinessDays)
	assert.Equal(t, []string{"Commemoration Day", "National Day"}, aging.HolidaysCrossed)

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"calendar", "02/12/2025"})
	assert.ErrorContains(t, root.ExecuteContext(context.Background()), "invalid date")
}

func TestInvalidConfigFailsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detection:\n  workers: 0\n"), 0o644))

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"run", "-c", path})
	assert.ErrorContains(t, root.ExecuteContext(context.Background()), "detection.workers")
}

func TestSchedule_AppliesReloadedSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = ":memory:"
	cfg.Log.Level = "error"
	cfg.Schedule.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	reloads := make(chan *config.Config, 1)
	done := make(chan error, 1)
	go func() { done <- a.schedule(ctx, reloads, false) }()

	next := config.Default()
	next.Schedule.Interval = time.Minute
	next.Log.Level = "debug"
	reloads <- next

	require.Eventually(t, func() bool {
		return a.level.Enabled(zapcore.DebugLevel)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("schedule did not stop")
	}
}

func TestSchedule_Once(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = ":memory:"
	cfg.Log.Level = "error"

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.schedule(context.Background(), nil, true))
}
