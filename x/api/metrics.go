package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssvlabs/chain-task-gateway/metrics"
)

type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	r := metrics.NewComponentRegistry(reg, "api")

	return &Metrics{
		Requests: r.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),

		RequestDuration: r.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "HTTP request latency, including synchronous waits",
			Buckets: metrics.ChainBuckets,
		}, []string{"route"}),

		InFlight: r.NewGauge(prometheus.GaugeOpts{
			Name: "requests_in_flight",
			Help: "Requests currently being served",
		}),
	}
}

func (m *Metrics) recordRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) inFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}
