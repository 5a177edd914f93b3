package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/signalintel/internal/detection"
)

func TestObserveDetection(t *testing.T) {
	m := New()
	m.ObserveDetection(&detection.Stats{
		SignalsDetected:  5,
		SignalsStored:    3,
		SignalsDuplicate: 1,
		SignalsError:     1,
		ByDetector: map[string]*detection.DetectorStats{
			"billing": {DetectorID: "billing"},
			"crm":     {DetectorID: "crm", Failed: true},
		},
	})
	m.ObserveDetection(nil)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.signalsTotal.WithLabelValues("stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detectorRuns.WithLabelValues("crm", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detectorRuns.WithLabelValues("billing", "ok")))
}

func TestObserveCycle(t *testing.T) {
	m := New()
	m.ObserveCycle("ok", 2*time.Second)
	m.ObserveCycle("refused", 0)
	m.AddEscalations(2)
	m.IssueTransition("addressing", "monitoring")
	m.SetActiveSuppressions(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues("refused")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.escalationsTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.activeSuppressions))
	assert.Equal(t, 1, testutil.CollectAndCount(m.cycleDuration))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.AddBalanced(3)
	path := filepath.Join(t.TempDir(), "signalintel.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "signalintel_signals_balanced_total 3")
}
