package versioning

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus collectors of the version engine.
type Metrics struct {
	commits       *prometheus.CounterVec
	diffs         *prometheus.CounterVec
	diffDuration  prometheus.Histogram
	ledgerFailure prometheus.Counter
	lineageDupes  prometheus.Counter
}

// NewMetrics builds the collectors and registers them when registerer is non-nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marginalia",
			Name:      "commits_total",
			Help:      "Version commits by outcome.",
		}, []string{"outcome"}),
		diffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marginalia",
			Name:      "diffs_total",
			Help:      "Version diffs by source (computed, cached, shared) or error.",
		}, []string{"source"}),
		diffDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marginalia",
			Name:      "diff_duration_seconds",
			Help:      "Time spent computing a version diff.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		ledgerFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marginalia",
			Name:      "ledger_write_failures_total",
			Help:      "Edit ledger entries that could not be written.",
		}),
		lineageDupes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marginalia",
			Name:      "lineage_duplicates_total",
			Help:      "Lineage roots seen more than once within a single version.",
		}),
	}
	if registerer != nil {
		metrics.commits = register(registerer, metrics.commits)
		metrics.diffs = register(registerer, metrics.diffs)
		metrics.diffDuration = register(registerer, metrics.diffDuration)
		metrics.ledgerFailure = register(registerer, metrics.ledgerFailure)
		metrics.lineageDupes = register(registerer, metrics.lineageDupes)
	}
	return metrics
}

// register returns the collector already registered under the same
// descriptor when there is one, so every Metrics built on a registry feeds it.
func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}

func (m *Metrics) commitOutcome(err error) {
	outcome := "success"
	if err != nil {
		outcome = Kind(err)
	}
	m.commits.WithLabelValues(outcome).Inc()
}
