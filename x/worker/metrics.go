package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssvlabs/chain-task-gateway/metrics"
)

type Metrics struct {
	Processed *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	InFlight  prometheus.Gauge
	Claimed   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	r := metrics.NewComponentRegistry(reg, "worker")

	return &Metrics{
		Processed: r.NewCounterVec(prometheus.CounterOpts{
			Name: "processed_total",
			Help: "Tasks processed by task name and recorded status",
		}, []string{"task", "status"}),

		Duration: r.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "task_duration_seconds",
			Help:    "Handler run time per task name",
			Buckets: metrics.ChainBuckets,
		}, []string{"task"}),

		InFlight: r.NewGauge(prometheus.GaugeOpts{
			Name: "in_flight",
			Help: "Tasks currently executing",
		}),

		Claimed: r.NewCounter(prometheus.CounterOpts{
			Name: "claimed_total",
			Help: "Stale tasks taken over from other consumers",
		}),
	}
}

func (m *Metrics) RecordProcessed(taskName, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Processed.WithLabelValues(taskName, status).Inc()
	m.Duration.WithLabelValues(taskName).Observe(d.Seconds())
}

func (m *Metrics) IncInFlight() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *Metrics) DecInFlight() {
	if m != nil {
		m.InFlight.Dec()
	}
}

func (m *Metrics) RecordClaimed(n int) {
	if m != nil && n > 0 {
		m.Claimed.Add(float64(n))
	}
}
