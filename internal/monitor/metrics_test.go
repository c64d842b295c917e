package monitor

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risk-desk/internal/gateway"
)

func TestSystemMetricsSnapshot(t *testing.T) {
	m := NewSystemMetrics()
	m.ObserveFetch("mock", "history", 20*time.Millisecond, nil)
	m.ObserveFetch("mock", "poll", 5*time.Millisecond, errors.New("boom"))
	m.ObservePlan("ok", time.Millisecond)
	m.ObserveAPI("GET", "/health", 200, time.Millisecond)
	m.ObserveAPI("POST", "/api/plan", 422, time.Millisecond)
	m.AddSeries(2)
	m.AddSeries(-1)
	m.SetGatewayPoolStats(gateway.PoolStats{Active: 3, MaxSize: 10})

	snap := m.GetSnapshot()
	assert.Equal(t, uint64(2), snap.Fetches)
	assert.Equal(t, uint64(1), snap.FetchErrors)
	assert.Equal(t, uint64(1), snap.Plans)
	assert.Equal(t, uint64(2), snap.APIRequests)
	assert.Equal(t, uint64(1), snap.APIErrors)
	assert.Equal(t, int64(1), snap.ActiveSeries)
	assert.Equal(t, 3, snap.GatewayPool.Active)
	assert.Equal(t, 1, snap.FetchLatency.Count)
	assert.Equal(t, 1, snap.PollLatency.Count)
}

func TestSystemMetricsExposition(t *testing.T) {
	m := NewSystemMetrics()
	m.ObserveFetch("binance", "history", time.Millisecond, nil)
	m.IncMerge("realtime")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `riskdesk_exchange_fetch_total{exchange="binance",kind="history",result="ok"} 1`))
	assert.True(t, strings.Contains(body, `riskdesk_series_merge_total{source="realtime"} 1`))
}

func TestSystemMetricsNilSafe(t *testing.T) {
	var m *SystemMetrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("x", "poll", time.Millisecond, nil)
		m.IncMerge("historical")
		m.ObservePlan("error", time.Millisecond)
		m.ObserveAPI("GET", "/", 200, time.Millisecond)
		m.AddSeries(1)
		m.SetGatewayPoolStats(gateway.PoolStats{})
		_ = m.GetSnapshot()
	})
	assert.Nil(t, m.Registry())
}

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{10, 20, 30, 40} {
		h.Record(v)
	}
	stats := h.Stats()
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 20.0, stats.Min)
	assert.Equal(t, 40.0, stats.Max)
	assert.Equal(t, 30.0, stats.Avg)
}
