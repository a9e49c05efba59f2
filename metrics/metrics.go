// Package metrics exposes the small set of Prometheus collectors
// cellwright records across the Interpreter Session, Job Registry, and
// Replay Engine, as package-level Collector/Vec values that a caller
// registers explicitly through Register.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SessionsStarted counts Interpreter Session starts by kind and
	// outcome ("ready", "failed"); the Command Orchestrator records every
	// start under kind "session".
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cellwright_sessions_started_total",
			Help: "Total number of interpreter sessions started.",
		},
		[]string{"kind", "outcome"},
	)

	// CellExecutions counts cell executions by terminal status
	// ("success" or "error"; a timed-out cell counts as "error").
	CellExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cellwright_cell_executions_total",
			Help: "Total number of cell executions by outcome.",
		},
		[]string{"status"},
	)

	// CellExecutionDuration tracks wall-clock execution time.
	CellExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cellwright_cell_execution_duration_seconds",
			Help:    "Duration of cell executions in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	// JobsByStatus is a live gauge of background jobs grouped by status.
	JobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cellwright_jobs_by_status",
			Help: "Number of background jobs currently in each status.",
		},
		[]string{"status"},
	)

	// ReplayScore tracks the distribution of reproducibility scores
	// produced by the Replay Engine.
	ReplayScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cellwright_replay_reproducibility_score",
			Help:    "Distribution of notebook replay reproducibility scores.",
			Buckets: []float64{0, 0.25, 0.5, 0.75, 0.9, 1.0},
		},
	)
)

// Register registers cellwright's collectors against a
// caller-supplied prometheus.Registerer, so the CLI can opt into
// metrics without a package-level init() side effect.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		SessionsStarted, CellExecutions, CellExecutionDuration, JobsByStatus, ReplayScore,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
