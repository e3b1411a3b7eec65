// Package metrics exposes the service's traffic and error counters on a
// Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mfreitas/musicgen-back/internal/domain"
)

type Metrics struct {
	registry *prometheus.Registry

	SubmissionsTotal prometheus.Counter
	RateLimitedTotal prometheus.Counter
	JobsFinalized    *prometheus.CounterVec
	JobDuration      prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SubmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "musicgen_submissions_total",
			Help: "Accepted generation job submissions.",
		}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "musicgen_rate_limited_total",
			Help: "Submissions rejected by admission control.",
		}),
		JobsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicgen_jobs_finalized_total",
			Help: "Jobs reaching a terminal state, by status.",
		}, []string{"status"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "musicgen_job_duration_seconds",
			Help:    "Wall time from claim to finalize.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}

	registry.MustRegister(m.SubmissionsTotal, m.RateLimitedTotal, m.JobsFinalized, m.JobDuration)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFinalized(status domain.JobStatus, seconds float64) {
	m.JobsFinalized.WithLabelValues(string(status)).Inc()
	m.JobDuration.Observe(seconds)
}
