package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Uptime is refreshed by StartPeriodicCollection.
	Uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "core",
		Name:      "uptime_seconds",
		Help:      "Seconds since the gateway started",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "core",
		Name:      "build_info",
		Help:      "Always 1, labelled with the binary version and mode",
	}, []string{"version", "mode", "go_version"})
)

// processCollectors exports Go runtime and process statistics next to the
// gateway's own metrics.
func processCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}),
	}
}

// SetBuildInfo publishes the running version and mode.
func SetBuildInfo(version, mode string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, mode, runtime.Version()).Set(1)
}

// StartPeriodicCollection updates the uptime gauge every interval until ctx
// is done.
func StartPeriodicCollection(ctx context.Context, interval time.Duration, start time.Time) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	Uptime.Set(time.Since(start).Seconds())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Uptime.Set(time.Since(start).Seconds())
		}
	}
}
