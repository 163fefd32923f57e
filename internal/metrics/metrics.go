// Package metrics defines the Prometheus collectors of the chapter service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	OperationsTotal     *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	ActiveCoordinators  prometheus.Gauge
	PatchConflictsTotal prometheus.Counter
	OrphanedBlobsTotal  prometheus.Counter
	TranslationsTotal   *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_chapter_operations_total",
				Help: "Chapter operations by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_chapter_operation_duration_seconds",
				Help:    "Time from dequeue to reply for chapter operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method"},
		),
		ActiveCoordinators: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "quill_chapter_coordinators_active",
				Help: "Chapter coordinators currently running",
			},
		),
		PatchConflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "quill_patch_conflicts_total",
				Help: "Patches that failed to apply cleanly",
			},
		),
		OrphanedBlobsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "quill_orphaned_snapshots_total",
				Help: "Snapshots written whose metadata commit failed",
			},
		),
		TranslationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_translations_total",
				Help: "Translation proxy calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
	}
}

// ObserveOperation records one finished chapter operation. Nil receivers are
// allowed so callers can run without metrics.
func (m *Metrics) ObserveOperation(method, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(method, outcome).Inc()
	m.OperationDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

func (m *Metrics) CoordinatorStarted() {
	if m != nil {
		m.ActiveCoordinators.Inc()
	}
}

func (m *Metrics) CoordinatorStopped() {
	if m != nil {
		m.ActiveCoordinators.Dec()
	}
}

func (m *Metrics) PatchConflict() {
	if m != nil {
		m.PatchConflictsTotal.Inc()
	}
}

func (m *Metrics) OrphanedSnapshot() {
	if m != nil {
		m.OrphanedBlobsTotal.Inc()
	}
}

func (m *Metrics) Translation(provider, outcome string) {
	if m != nil {
		m.TranslationsTotal.WithLabelValues(provider, outcome).Inc()
	}
}
