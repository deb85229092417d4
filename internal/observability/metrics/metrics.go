// Package metrics exposes prometheus instrumentation for the billing
// scheduler: job runs, failures, durations and per-store outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meterbill"

type Metrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobTimeouts *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	rolloverOutcomes *prometheus.CounterVec
	upgradeOutcomes  *prometheus.CounterVec
	chargesSubmitted *prometheus.CounterVec
}

// New registers scheduler metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers scheduler metrics on the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Number of scheduler job invocations.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_errors_total",
			Help:      "Number of scheduler job invocations that returned an error.",
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_timeouts_total",
			Help:      "Number of scheduler job invocations cut off by their deadline.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_job_duration_seconds",
			Help:      "Scheduler job wall time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		rolloverOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollover_outcomes_total",
			Help:      "Per-store cycle rollover outcomes.",
		}, []string{"outcome"}),
		upgradeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_upgrade_outcomes_total",
			Help:      "Per-store tier upgrade outcomes.",
		}, []string{"outcome"}),
		chargesSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_charges_submitted_total",
			Help:      "Usage charges accepted by the billing provider.",
		}, []string{"operation"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.jobRuns,
			m.jobErrors,
			m.jobTimeouts,
			m.jobDuration,
			m.rolloverOutcomes,
			m.upgradeOutcomes,
			m.chargesSubmitted,
		)
	}
	return m
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) IncRolloverOutcome(outcome string) {
	if m == nil {
		return
	}
	m.rolloverOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncUpgradeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.upgradeOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncChargeSubmitted(operation string) {
	if m == nil {
		return
	}
	m.chargesSubmitted.WithLabelValues(operation).Inc()
}
