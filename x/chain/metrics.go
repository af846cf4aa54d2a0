package chain

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssvlabs/chain-task-gateway/metrics"
)

// Metrics holds broadcast engine metrics. A nil *Metrics records nothing.
type Metrics struct {
	NonceQueries      *prometheus.CounterVec
	NonceSpread       *prometheus.GaugeVec
	Broadcasts        *prometheus.CounterVec
	EndpointSends     *prometheus.CounterVec
	ReceiptLatency    *prometheus.HistogramVec
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics creates chain metrics on reg (nil selects the process registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	r := metrics.NewComponentRegistry(reg, "chain")

	return &Metrics{
		NonceQueries: r.NewCounterVec(prometheus.CounterOpts{
			Name: "nonce_queries_total",
			Help: "Nonce queries by endpoint and outcome",
		}, []string{"chain", "endpoint", "outcome"}),

		NonceSpread: r.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nonce_spread",
			Help: "Difference between the highest and lowest nonce reported in the last coordination",
		}, []string{"chain"}),

		Broadcasts: r.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcasts_total",
			Help: "Broadcast operations by outcome",
		}, []string{"chain", "outcome"}),

		EndpointSends: r.NewCounterVec(prometheus.CounterOpts{
			Name: "endpoint_sends_total",
			Help: "Raw transaction submissions by endpoint and classified result",
		}, []string{"chain", "endpoint", "kind"}),

		ReceiptLatency: r.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "receipt_latency_seconds",
			Help:    "Time from broadcast to first receipt",
			Buckets: metrics.ChainBuckets,
		}, []string{"chain"}),

		OperationDuration: r.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "operation_duration_seconds",
			Help:    "Wall-clock duration of broadcast operations",
			Buckets: metrics.ChainBuckets,
		}, []string{"chain", "outcome"}),
	}
}

func (m *Metrics) recordNonceQuery(chain, endpoint string, err error) {
	if m == nil {
		return
	}
	outcome := "present"
	if err != nil {
		outcome = "absent"
	}
	m.NonceQueries.WithLabelValues(chain, endpoint, outcome).Inc()
}

func (m *Metrics) recordNonceSpread(chain string, spread uint64) {
	if m == nil {
		return
	}
	m.NonceSpread.WithLabelValues(chain).Set(float64(spread))
}

func (m *Metrics) recordSend(chain, endpoint string, err error) {
	if m == nil {
		return
	}
	kind := Classify(err)
	label := "accepted"
	if kind != KindNone {
		label = kind.String()
	}
	m.EndpointSends.WithLabelValues(chain, endpoint, label).Inc()
}

func (m *Metrics) recordReceipt(chain string, latency time.Duration) {
	if m == nil {
		return
	}
	m.ReceiptLatency.WithLabelValues(chain).Observe(latency.Seconds())
}

func (m *Metrics) recordOperation(chain string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := Outcome(err)
	m.Broadcasts.WithLabelValues(chain, outcome).Inc()
	m.OperationDuration.WithLabelValues(chain, outcome).Observe(d.Seconds())
}

// Outcome returns a short label for a broadcast result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrOperationTimedOut):
		return "timeout"
	case errors.Is(err, ErrNonceUnavailable):
		return "nonce_unavailable"
	case errors.Is(err, ErrBroadcastFailed):
		return "broadcast_failed"
	case errors.Is(err, ErrReceiptUnavailable):
		return "receipt_unavailable"
	case errors.Is(err, ErrTransactionReverted):
		return "reverted"
	case errors.Is(err, ErrUnsupportedChain):
		return "unsupported_chain"
	default:
		return "error"
	}
}
