package task

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssvlabs/chain-task-gateway/metrics"
)

type Metrics struct {
	Enqueued     *prometheus.CounterVec
	EnqueueFails *prometheus.CounterVec
	Resolved     *prometheus.CounterVec
	WaitOutcomes *prometheus.CounterVec
	WaitDuration prometheus.Histogram
	Completed    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	r := metrics.NewComponentRegistry(reg, "task")

	return &Metrics{
		Enqueued: r.NewCounterVec(prometheus.CounterOpts{
			Name: "enqueued_total",
			Help: "Tasks appended to the event log",
		}, []string{"task"}),

		EnqueueFails: r.NewCounterVec(prometheus.CounterOpts{
			Name: "enqueue_failures_total",
			Help: "Failed appends to the event log",
		}, []string{"task"}),

		Resolved: r.NewCounterVec(prometheus.CounterOpts{
			Name: "resolved_total",
			Help: "Status lookups by observed status",
		}, []string{"status"}),

		WaitOutcomes: r.NewCounterVec(prometheus.CounterOpts{
			Name: "wait_outcomes_total",
			Help: "Synchronous waits by final status",
		}, []string{"status"}),

		WaitDuration: r.NewHistogram(prometheus.HistogramOpts{
			Name:    "wait_duration_seconds",
			Help:    "Time spent waiting for a task outcome",
			Buckets: metrics.ChainBuckets,
		}),

		Completed: r.NewCounterVec(prometheus.CounterOpts{
			Name: "completed_total",
			Help: "Terminal records written by consumers",
		}, []string{"task", "status"}),
	}
}

func (m *Metrics) RecordEnqueue(taskName string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.EnqueueFails.WithLabelValues(taskName).Inc()
		return
	}
	m.Enqueued.WithLabelValues(taskName).Inc()
}

func (m *Metrics) RecordResolve(status Status) {
	if m == nil {
		return
	}
	m.Resolved.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) RecordWait(status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.WaitOutcomes.WithLabelValues(string(status)).Inc()
	m.WaitDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordCompleted(taskName string, status Status) {
	if m == nil {
		return
	}
	m.Completed.WithLabelValues(taskName, string(status)).Inc()
}
