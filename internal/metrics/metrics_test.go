package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestSetMasterSlaveRoleTogglesGauge(t *testing.T) {
	r := New(Config{EnableDefaultCollectors: false})

	r.SetMasterSlaveRole(true)
	require.Equal(t, float64(1), gaugeValue(t, r.masterGauge))

	r.SetMasterSlaveRole(false)
	require.Equal(t, float64(0), gaugeValue(t, r.masterGauge))
}

func TestObserveRegistrationIncrementsCounterByOutcome(t *testing.T) {
	r := New(Config{EnableDefaultCollectors: false})

	r.ObserveRegistration(time.Now(), "local_success")
	r.ObserveRegistration(time.Now(), "local_success")
	r.ObserveRegistration(time.Now(), "local_error")

	var m dto.Metric
	require.NoError(t, r.registrations.WithLabelValues("local_success").Write(&m))
	require.Equal(t, float64(2), m.GetCounter().GetValue())

	m = dto.Metric{}
	require.NoError(t, r.registrations.WithLabelValues("local_error").Write(&m))
	require.Equal(t, float64(1), m.GetCounter().GetValue())
}

func TestMetricsEndpointServesRegisteredMetrics(t *testing.T) {
	r := New(Config{EnableDefaultCollectors: false})
	r.SetMasterSlaveRole(true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Server.Handler.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "schema_registry_master 1")
}
