package crosschain

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssvlabs/chain-task-gateway/metrics"
)

type Metrics struct {
	IndexerPolls    *prometheus.CounterVec
	IndexerLatency  prometheus.Histogram
	Resolves        *prometheus.CounterVec
	ResolveDuration prometheus.Histogram
	PollAttempts    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	r := metrics.NewComponentRegistry(reg, "crosschain")

	return &Metrics{
		IndexerPolls: r.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_polls_total",
			Help: "Message indexer polls by result",
		}, []string{"result"}),

		IndexerLatency: r.NewHistogram(prometheus.HistogramOpts{
			Name:    "indexer_request_duration_seconds",
			Help:    "Latency of a single message indexer request",
			Buckets: metrics.DurationBuckets,
		}),

		Resolves: r.NewCounterVec(prometheus.CounterOpts{
			Name: "resolves_total",
			Help: "Cross-chain receipt resolutions by outcome",
		}, []string{"outcome"}),

		ResolveDuration: r.NewHistogram(prometheus.HistogramOpts{
			Name:    "resolve_duration_seconds",
			Help:    "Time from source receipt to destination receipt",
			Buckets: metrics.ChainBuckets,
		}),

		PollAttempts: r.NewHistogram(prometheus.HistogramOpts{
			Name:    "poll_attempts",
			Help:    "Indexer polls needed until a message executed",
			Buckets: metrics.CountBuckets,
		}),
	}
}

func (m *Metrics) RecordPoll(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.IndexerPolls.WithLabelValues(result).Inc()
	m.IndexerLatency.Observe(d.Seconds())
}

func (m *Metrics) RecordAttempts(n int) {
	if m == nil {
		return
	}
	m.PollAttempts.Observe(float64(n))
}

func (m *Metrics) RecordResolve(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Resolves.WithLabelValues(outcome).Inc()
	m.ResolveDuration.Observe(d.Seconds())
}
