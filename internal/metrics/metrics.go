// Package metrics exposes engine counters on a dedicated prometheus registry.
// The CLI writes them to a node_exporter textfile after each cycle.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/matthewbaird/signalintel/internal/detection"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal        *prometheus.CounterVec
	cycleDuration      prometheus.Histogram
	detectorRuns       *prometheus.CounterVec
	signalsTotal       *prometheus.CounterVec
	escalationsTotal   prometheus.Counter
	balancedTotal      prometheus.Counter
	issueTransitions   *prometheus.CounterVec
	eventsTotal        *prometheus.CounterVec
	activeSuppressions prometheus.Gauge
}

// New registers the engine collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		cyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalintel_cycles_total",
			Help: "Detection cycles by result.",
		}, []string{"result"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalintel_cycle_duration_seconds",
			Help:    "Wall time of a full detection cycle.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		detectorRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalintel_detector_runs_total",
			Help: "Detector executions by detector and status.",
		}, []string{"detector", "status"}),
		signalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalintel_signals_total",
			Help: "Candidate signals by outcome.",
		}, []string{"outcome"}),
		escalationsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "signalintel_auto_escalations_total",
			Help: "Chronic signals promoted one severity tier.",
		}),
		balancedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "signalintel_signals_balanced_total",
			Help: "Negative signals marked balanced by a positive signal.",
		}),
		issueTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalintel_issue_transitions_total",
			Help: "Issue state transitions made by balance recalculation.",
		}, []string{"from", "to"}),
		eventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalintel_events_total",
			Help: "Domain events dispatched on the event bus.",
		}, []string{"event_type"}),
		activeSuppressions: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalintel_active_suppressions",
			Help: "Suppression rows active at the end of the last cycle.",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(result string, d time.Duration) {
	m.cyclesTotal.WithLabelValues(result).Inc()
	if result != "refused" {
		m.cycleDuration.Observe(d.Seconds())
	}
}

// ObserveDetection records per-detector outcomes and candidate counts.
func (m *Metrics) ObserveDetection(stats *detection.Stats) {
	if stats == nil {
		return
	}
	for id, ds := range stats.ByDetector {
		status := "ok"
		if ds.Failed {
			status = "failed"
		}
		m.detectorRuns.WithLabelValues(id, status).Inc()
	}
	m.signalsTotal.WithLabelValues("detected").Add(float64(stats.SignalsDetected))
	m.signalsTotal.WithLabelValues("stored").Add(float64(stats.SignalsStored))
	m.signalsTotal.WithLabelValues("duplicate").Add(float64(stats.SignalsDuplicate))
	m.signalsTotal.WithLabelValues("error").Add(float64(stats.SignalsError))
}

func (m *Metrics) AddEscalations(n int) { m.escalationsTotal.Add(float64(n)) }

func (m *Metrics) AddBalanced(n int) { m.balancedTotal.Add(float64(n)) }

func (m *Metrics) IssueTransition(from, to string) {
	m.issueTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) EventDispatched(eventType string) {
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SetActiveSuppressions(n int) { m.activeSuppressions.Set(float64(n)) }

// WriteTextfile writes every metric in the text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
