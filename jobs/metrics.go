package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background tasks.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the task metrics against the provided registerer.
// When the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanstock_task_runs_total",
			Help: "Background task runs by type and status.",
		}, []string{"task", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanstock_task_failures_total",
			Help: "Background task failures by type.",
		}, []string{"task"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanstock_task_duration_seconds",
			Help:    "Background task duration by type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration)
	return m
}

// Instrument wraps a task handler with run, failure and duration metrics.
// A nil Metrics passes the handler through untouched.
func (m *Metrics) Instrument(taskType string, next asynq.HandlerFunc) asynq.HandlerFunc {
	if m == nil {
		return next
	}
	return func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		err := next(ctx, t)
		status := "success"
		if err != nil {
			status = "failure"
			m.failures.WithLabelValues(taskType).Inc()
		}
		m.runs.WithLabelValues(taskType, status).Inc()
		m.duration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
		return err
	}
}
