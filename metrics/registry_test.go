package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestComponentRegistry_Naming(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewComponentRegistry(reg, "task")

	c := r.NewCounterVec(prometheus.CounterOpts{Name: "enqueued_total", Help: "h"}, []string{"task"})
	c.WithLabelValues("createRoom").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	require.Equal(t, "gateway_task_enqueued_total", families[0].GetName())
	require.Equal(t, 1.0, testutil.ToFloat64(c.WithLabelValues("createRoom")))
}

func TestHandler_ServesProcessRegistry(t *testing.T) {
	Uptime.Set(3)
	SetBuildInfo("v1.2.3", "api")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "gateway_core_uptime_seconds 3")
	require.Contains(t, rec.Body.String(), "go_goroutines")
	require.Contains(t, rec.Body.String(), `gateway_core_build_info{go_version="`)
	require.Contains(t, rec.Body.String(), `mode="api",version="v1.2.3"} 1`)
}
