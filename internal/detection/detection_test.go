package detection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matthewbaird/signalintel/internal/signals"
	"github.com/matthewbaird/signalintel/internal/store"
	"github.com/matthewbaird/signalintel/internal/suppression"
	"github.com/matthewbaird/signalintel/internal/types"
)

var now = time.Date(2025, time.October, 6, 9, 0, 0, 0, time.UTC)

type fakeDetector struct {
	*Base
	id      string
	sigs    []types.Signal
	err     error
	panics  bool
	detects atomic.Int32
}

func (f *fakeDetector) ID() string      { return f.id }
func (f *fakeDetector) Version() string { return "test" }

func (f *fakeDetector) Detect(context.Context) ([]types.Signal, error) {
	f.detects.Add(1)
	if f.panics {
		panic("source exploded")
	}
	return f.sigs, f.err
}

func candidate(signalType, entityID string) types.Signal {
	return types.Signal{
		SignalType: signalType,
		Valence:    types.ValenceNegative,
		Magnitude:  0.5,
		Severity:   types.SeverityWatch,
		EntityType: "client",
		EntityID:   entityID,
	}
}

func newOrchestrator(t *testing.T, st store.SignalStore, detectors ...Detector) *Orchestrator {
	t.Helper()
	reg := NewRegistry()
	for _, d := range detectors {
		require.NoError(t, reg.Register(d))
	}
	o := NewOrchestrator(reg, st, Options{Workers: 2, StoreTimeout: time.Second}, zap.NewNop())
	o.SetClock(func() time.Time { return now })
	return o
}

// failingStore rejects writes for one entity id.
type failingStore struct {
	*store.MemoryStore
	rejectEntity string
}

func (s *failingStore) CreateSignal(ctx context.Context, sig types.Signal) error {
	if sig.EntityID == s.rejectEntity {
		return errors.New("disk full")
	}
	return s.MemoryStore.CreateSignal(ctx, sig)
}

func TestRunDetection_IsolatesFailingDetector(t *testing.T) {
	st := store.NewMemoryStore()
	good := &fakeDetector{Base: NewBase(st, "communication_gap"), id: "good", sigs: []types.Signal{
		candidate("communication_gap", "C-1"),
		candidate("communication_gap", "C-2"),
	}}
	broken := &fakeDetector{Base: NewBase(st), id: "broken", err: errors.New("crm timeout")}
	panicky := &fakeDetector{Base: NewBase(st), id: "panicky", panics: true}

	o := newOrchestrator(t, st, good, broken, panicky)
	stats, err := o.RunDetection(context.Background(), RunOptions{SkipDuplicates: true})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.DetectorsRun)
	assert.Equal(t, 2, stats.DetectorsFailed)
	assert.Equal(t, 2, stats.SignalsStored)
	require.Len(t, stats.Failures, 2)
	assert.Equal(t, types.DetectorFailure{DetectorID: "broken", Message: "crm timeout"}, stats.Failures[0])
	assert.Equal(t, "panicky", stats.Failures[1].DetectorID)
	assert.Contains(t, stats.Failures[1].Message, "source exploded")
	assert.True(t, stats.ByDetector["broken"].Failed)
	assert.False(t, stats.ByDetector["good"].Failed)

	stored, err := st.ListSignals(context.Background(), store.ActiveSignals("communication_gap"))
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, sig := range stored {
		assert.NotEmpty(t, sig.ID)
		assert.Equal(t, "good", sig.DetectorID)
		assert.Equal(t, types.StatusActive, sig.Status)
		assert.True(t, sig.DetectedAt.Equal(now))
	}
}

func TestRunDetection_Dedup(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	existing := candidate("invoice_overdue", "C-1")
	existing.ID = "old"
	existing.Status = types.StatusActive
	existing.DetectedAt = now.Add(-time.Hour)
	require.NoError(t, st.CreateSignal(ctx, existing))

	d := &fakeDetector{Base: NewBase(st, "invoice_overdue"), id: "billing", sigs: []types.Signal{
		candidate("invoice_overdue", "C-1"),
		candidate("invoice_overdue", "C-2"),
		candidate("invoice_overdue", "C-2"),
	}}
	o := newOrchestrator(t, st, d)

	stats, err := o.RunDetection(ctx, RunOptions{SkipDuplicates: true})
	require.NoError(t, err)
	ds := stats.ByDetector["billing"]
	assert.Equal(t, 3, ds.SignalsDetected)
	assert.Equal(t, 1, ds.SignalsStored)
	assert.Equal(t, 2, ds.SignalsDuplicate)
	var keys []string
	for _, sig := range ds.Seen {
		keys = append(keys, sig.Key())
	}
	assert.Equal(t, []string{
		"invoice_overdue:client:C-1",
		"invoice_overdue:client:C-2",
		"invoice_overdue:client:C-2",
	}, keys)
	require.Len(t, stats.Stored, 1)
	assert.Equal(t, "C-2", stats.Stored[0].EntityID)

	// Without dedup every candidate is written.
	stats, err = o.RunDetection(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.SignalsStored)
}

func TestRunDetection_StorageFailureCountedPerCandidate(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore(), rejectEntity: "C-2"}
	d := &fakeDetector{Base: NewBase(st, "communication_gap"), id: "crm", sigs: []types.Signal{
		candidate("communication_gap", "C-1"),
		candidate("communication_gap", "C-2"),
		candidate("communication_gap", "C-3"),
		{SignalType: "communication_gap", EntityID: "C-4", Severity: "urgent"},
	}}
	o := newOrchestrator(t, st, d)

	stats, err := o.RunDetection(context.Background(), RunOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Zero(t, stats.DetectorsFailed)
	assert.Equal(t, 2, stats.SignalsStored)
	assert.Equal(t, 2, stats.SignalsError)
}

func TestRunDetection_TargetSelection(t *testing.T) {
	st := store.NewMemoryStore()
	a := &fakeDetector{Base: NewBase(st), id: "a"}
	b := &fakeDetector{Base: NewBase(st), id: "b"}
	o := newOrchestrator(t, st, a, b)

	stats, err := o.RunDetection(context.Background(), RunOptions{DetectorIDs: []string{"b", "missing", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DetectorsRun)
	assert.Zero(t, a.detects.Load())
	assert.Equal(t, int32(1), b.detects.Load())

	empty := newOrchestrator(t, st)
	stats, err = empty.RunDetection(context.Background(), RunOptions{})
	require.NoError(t, err, "zero detectors is not an error")
	assert.Zero(t, stats.DetectorsRun)
}

// blockingDetector holds Detect open until released.
type blockingDetector struct {
	*Base
	started chan struct{}
	release chan struct{}
}

func (b *blockingDetector) ID() string      { return "blocking" }
func (b *blockingDetector) Version() string { return "test" }
func (b *blockingDetector) Detect(context.Context) ([]types.Signal, error) {
	close(b.started)
	<-b.release
	return nil, nil
}

func TestRunDetection_RefusesOverlap(t *testing.T) {
	st := store.NewMemoryStore()
	bd := &blockingDetector{Base: NewBase(st), started: make(chan struct{}), release: make(chan struct{})}
	o := newOrchestrator(t, st, bd)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := o.RunDetection(context.Background(), RunOptions{})
		assert.NoError(t, err)
	}()
	<-bd.started

	_, err := o.RunDetection(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, types.ErrCycleRunning)

	close(bd.release)
	wg.Wait()
}

func TestRegistry(t *testing.T) {
	st := store.NewMemoryStore()
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeDetector{Base: NewBase(st, "invoice_overdue", "payment_received"), id: "billing"}))
	assert.Error(t, reg.Register(&fakeDetector{Base: NewBase(st), id: "billing"}))

	var builds atomic.Int32
	require.NoError(t, reg.RegisterFactory("crm", []string{"communication_gap"}, func() (Detector, error) {
		builds.Add(1)
		return &fakeDetector{Base: NewBase(st, "communication_gap"), id: "crm"}, nil
	}))
	require.NoError(t, reg.RegisterFactory("broken", nil, func() (Detector, error) {
		return nil, errors.New("no credentials")
	}))

	assert.Equal(t, []string{"billing", "broken", "crm"}, reg.List())
	assert.Equal(t, 3, reg.Count())

	id, ok := reg.FindDetectorForSignalType("communication_gap")
	assert.True(t, ok)
	assert.Equal(t, "crm", id)
	assert.Zero(t, builds.Load(), "routing does not build")
	_, ok = reg.FindDetectorForSignalType("meeting_held")
	assert.False(t, ok)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := reg.Resolve("crm")
			assert.NoError(t, err)
			assert.Equal(t, "crm", d.ID())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), builds.Load())

	_, err := reg.Resolve("broken")
	assert.ErrorContains(t, err, "no credentials")
	_, err = reg.Resolve("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"invoice_overdue", "payment_received"}, reg.SignalTypes()["billing"])
	assert.True(t, reg.Unregister("billing"))
	assert.False(t, reg.Unregister("billing"))
	assert.Equal(t, 2, reg.Count())
}

func TestRunDetection_FactoryFailureIsolated(t *testing.T) {
	st := store.NewMemoryStore()
	reg := NewRegistry()
	require.NoError(t, reg.RegisterFactory("broken", nil, func() (Detector, error) {
		return nil, errors.New("no credentials")
	}))
	require.NoError(t, reg.Register(&fakeDetector{Base: NewBase(st), id: "ok", sigs: []types.Signal{candidate("communication_gap", "C-1")}}))
	o := NewOrchestrator(reg, st, DefaultOptions(), nil)

	stats, err := o.RunDetection(context.Background(), RunOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DetectorsFailed)
	assert.Equal(t, 1, stats.SignalsStored)
}

func TestMaintenance(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	o := newOrchestrator(t, st)

	expired := candidate("communication_gap", "C-1")
	expired.ID = "expired"
	expired.Status = types.StatusActive
	expired.DetectedAt = now.AddDate(-2, 0, 0)
	past := now.Add(-time.Minute)
	expired.ExpiresAt = &past
	recent := candidate("communication_gap", "C-2")
	recent.ID = "recent"
	recent.Status = types.StatusArchived
	recent.DetectedAt = now.AddDate(0, -1, 0)
	require.NoError(t, st.CreateSignal(ctx, expired))
	require.NoError(t, st.CreateSignal(ctx, recent))

	n, err := o.ExpireOldSignals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = o.CleanupArchivedSignals(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.GetSignal(ctx, "recent")
	assert.NoError(t, err, "archived less than a year ago survives")
}

type stubSuppressions struct {
	suppressed    map[string]bool
	deprioritized map[string]bool
}

func (s stubSuppressions) IsSuppressed(_ context.Context, key string) (bool, error) {
	return s.suppressed[key], nil
}

func (s stubSuppressions) ShouldDeprioritize(_ context.Context, key string) (bool, error) {
	return s.deprioritized[key], nil
}

const observations = `
observations:
  - id: obs-1
    event_type: InvoiceStatus
    entity_id: C-1
    observed_at: 2025-10-05T10:00:00+04:00
    scope:
      client_id: C-1
    payload:
      days_past_due: 12
  - id: obs-2
    event_type: PaymentRecorded
    entity_id: C-2
    scope:
      client_id: C-2
  - id: obs-3
    event_type: InvoiceStatus
    entity_id: C-3
    payload:
      days_past_due: 0
  - id: obs-4
    event_type: Unknown
    entity_id: C-4
`

func TestFileDetector(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "billing.yaml"), []byte(observations), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	st := store.NewMemoryStore()
	reg := signals.MustDefault()
	d := NewFileDetector("files", dir, reg, st, stubSuppressions{deprioritized: map[string]bool{"invoice_overdue:client:C-1": true}}, zap.NewNop())

	sigs, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	assert.Equal(t, "invoice_overdue", sigs[0].SignalType)
	assert.Equal(t, types.SeverityWatch, sigs[0].Severity, "capped from warning")
	require.NotNil(t, sigs[0].Scope.ClientID)
	assert.Equal(t, "C-1", *sigs[0].Scope.ClientID)
	assert.Nil(t, sigs[0].Scope.BrandID)
	assert.JSONEq(t, `{"days_past_due":12}`, string(sigs[0].Evidence))
	assert.True(t, sigs[0].DetectedAt.Equal(time.Date(2025, time.October, 5, 6, 0, 0, 0, time.UTC)))

	assert.Equal(t, "payment_received", sigs[1].SignalType)
	assert.Equal(t, types.ValencePositive, sigs[1].Valence)
	assert.Equal(t, "files", sigs[1].DetectorID)

	assert.Contains(t, d.SignalTypes(), "invoice_overdue")
}

func TestFileDetector_SkipsSuppressedKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "billing.yaml"), []byte(observations), 0o644))
	ctx := context.Background()

	st := store.NewMemoryStore()
	supp := suppression.New(st, suppression.DefaultOptions(), zap.NewNop())
	supp.SetClock(func() time.Time { return now })
	d := NewFileDetector("files", dir, signals.MustDefault(), st, supp, zap.NewNop())
	o := newOrchestrator(t, st, d)

	stats, err := o.RunDetection(ctx, RunOptions{SkipDuplicates: true})
	require.NoError(t, err)
	require.Equal(t, 2, stats.SignalsStored)
	var invoice types.Signal
	for _, sig := range stats.Stored {
		if sig.SignalType == "invoice_overdue" {
			invoice = sig
		}
	}
	require.NotEmpty(t, invoice.ID)

	_, err = supp.DismissSignal(ctx, invoice.Key(), types.ReasonUserDismiss)
	require.NoError(t, err)
	// The dismissed row leaving active must not let the key resurface.
	_, err = st.MarkBalanced(ctx, invoice.ID, "pay", now)
	require.NoError(t, err)

	sigs, err := d.Detect(ctx)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "payment_received", sigs[0].SignalType)

	stats, err = o.RunDetection(ctx, RunOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Zero(t, stats.SignalsStored)
	assert.Equal(t, 1, stats.SignalsDuplicate)

	active, err := st.CountSignals(ctx, store.ActiveSignals("invoice_overdue"))
	require.NoError(t, err)
	assert.Zero(t, active)
}

func TestFileDetector_StubSuppressedKeySkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "billing.yaml"), []byte(observations), 0o644))

	d := NewFileDetector("files", dir, signals.MustDefault(), store.NewMemoryStore(),
		stubSuppressions{suppressed: map[string]bool{"payment_received:client:C-2": true}}, zap.NewNop())
	sigs, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "invoice_overdue", sigs[0].SignalType)
	assert.Equal(t, types.SeverityWarning, sigs[0].Severity)
}

func TestFileDetector_MalformedFileFailsDetector(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yml"), []byte("observations: [\n"), 0o644))

	st := store.NewMemoryStore()
	d := NewFileDetector("files", dir, signals.MustDefault(), st, nil, nil)
	o := newOrchestrator(t, st, d)

	stats, err := o.RunDetection(context.Background(), RunOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DetectorsFailed)
	assert.Contains(t, stats.Failures[0].Message, "bad.yml")
}
