/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package submit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus label names.
const (
	metricsLabelResult   = "result"
	metricsLabelDecision = "decision"
)

// PrometheusMetrics represents collectors of the submission path metrics.
type PrometheusMetrics struct {
	SubmissionsTotal   *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec
	DecisionsTotal     *prometheus.CounterVec
}

// NewPrometheusMetrics creates submission metrics collectors with the given namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	submissionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Number of processed submissions by result kind.",
		},
		[]string{metricsLabelResult},
	)
	submissionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Submission handling duration.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{metricsLabelResult},
	)
	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Number of rate limiter decisions.",
		},
		[]string{metricsLabelDecision},
	)
	return &PrometheusMetrics{
		SubmissionsTotal:   submissionsTotal,
		SubmissionDuration: submissionDuration,
		DecisionsTotal:     decisionsTotal,
	}
}

// MustRegister does registration of metrics collectors in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.SubmissionsTotal, pm.SubmissionDuration, pm.DecisionsTotal)
}

// Unregister cancels registration of metrics collectors in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.SubmissionsTotal)
	prometheus.Unregister(pm.SubmissionDuration)
	prometheus.Unregister(pm.DecisionsTotal)
}

func (pm *PrometheusMetrics) observeSubmission(result string, elapsed time.Duration) {
	if pm == nil {
		return
	}
	pm.SubmissionsTotal.With(prometheus.Labels{metricsLabelResult: result}).Inc()
	pm.SubmissionDuration.With(prometheus.Labels{metricsLabelResult: result}).Observe(elapsed.Seconds())
}

func (pm *PrometheusMetrics) observeDecision(allowed bool) {
	if pm == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	pm.DecisionsTotal.With(prometheus.Labels{metricsLabelDecision: decision}).Inc()
}
