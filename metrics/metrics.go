// Package metrics defines the Prometheus instrumentation of the deployment
// engine.
//
// A nil *Metrics is valid, and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Metrics is a set of collectors describing the behavior of the engine.
type Metrics struct {
	lockWait    *prometheus.HistogramVec
	admissions  *prometheus.CounterVec
	deployments *prometheus.CounterVec
	steps       *prometheus.HistogramVec
}

// New returns a new set of metrics registered with reg.
//
// If reg is nil the metrics are not registered anywhere, but are still
// recorded. If the collectors are already registered with reg, the existing
// collectors are shared.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mergedeploy",
			Subsystem: "lock",
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting for admission to a group's lock",
			Buckets:   durationBuckets,
		}, []string{"group"}),

		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mergedeploy",
			Subsystem: "lock",
			Name:      "admissions_total",
			Help:      "Number of times a group's lock has been acquired",
		}, []string{"group"}),

		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mergedeploy",
			Subsystem: "pipeline",
			Name:      "deployments_total",
			Help:      "Number of deployments that reached a terminal status",
		}, []string{"group", "status"}),

		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mergedeploy",
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Latency distribution of each pipeline step",
			Buckets:   durationBuckets,
		}, []string{"step", "outcome"}),
	}

	if reg != nil {
		m.lockWait = register(reg, m.lockWait)
		m.admissions = register(reg, m.admissions)
		m.deployments = register(reg, m.deployments)
		m.steps = register(reg, m.steps)
	}

	return m
}

// register registers c with reg, returning the already-registered collector
// if there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}

		panic(err)
	}

	return c
}

// ObserveLockWait records the time spent waiting to acquire a group's lock.
func (m *Metrics) ObserveLockWait(group string, d time.Duration) {
	if m == nil {
		return
	}

	m.lockWait.WithLabelValues(group).Observe(d.Seconds())
	m.admissions.WithLabelValues(group).Inc()
}

// IncDeployments records a deployment reaching a terminal status.
func (m *Metrics) IncDeployments(group, status string) {
	if m == nil {
		return
	}

	m.deployments.WithLabelValues(group, status).Inc()
}

// ObserveStep records the duration of a pipeline step.
func (m *Metrics) ObserveStep(step string, d time.Duration, err error) {
	if m == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	m.steps.WithLabelValues(step, outcome).Observe(d.Seconds())
}
