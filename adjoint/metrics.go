package adjoint

import (
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts solver work on a private registry, exported as a textfile.
type Metrics struct {
	RunID            string
	Registry         *prometheus.Registry
	PrimalIterations prometheus.Counter
	AdjointSolves    *prometheus.CounterVec
	KrylovIterations prometheus.Histogram
	TapeRecordings   *prometheus.CounterVec
}

func NewMetrics() (m *Metrics) {
	m = &Metrics{
		RunID:    uuid.NewString(),
		Registry: prometheus.NewRegistry(),
	}
	labels := prometheus.Labels{"run": m.RunID}
	m.PrimalIterations = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "goadjoint_primal_iterations_total",
		Help:        "Nonlinear primal iterations.",
		ConstLabels: labels,
	})
	m.AdjointSolves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "goadjoint_adjoint_solves_total",
		Help:        "Adjoint linear solves by objective and status.",
		ConstLabels: labels,
	}, []string{"objective", "status"})
	m.KrylovIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "goadjoint_krylov_iterations",
		Help:        "Krylov iterations per adjoint solve.",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
	})
	m.TapeRecordings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "goadjoint_tape_recordings_total",
		Help:        "Completed tape recordings by mode.",
		ConstLabels: labels,
	}, []string{"mode"})
	m.Registry.MustRegister(m.PrimalIterations, m.AdjointSolves, m.KrylovIterations, m.TapeRecordings)
	return
}

func (m *Metrics) WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
