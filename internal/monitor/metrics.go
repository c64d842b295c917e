package monitor

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"risk-desk/internal/gateway"
)

// SystemMetrics tracks series synchronization and planning activity.
// Counters are exported to Prometheus on a private registry; the sliding
// latency windows back the JSON status snapshot. All methods are nil-safe.
type SystemMetrics struct {
	mu sync.RWMutex

	registry *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	fetchSeconds  *prometheus.HistogramVec
	mergeTotal    *prometheus.CounterVec
	planTotal     *prometheus.CounterVec
	apiTotal      *prometheus.CounterVec
	activeSeries  prometheus.Gauge
	gatewayActive prometheus.Gauge

	// Latency histograms
	FetchLatency *LatencyHistogram
	PollLatency  *LatencyHistogram
	PlanLatency  *LatencyHistogram
	APILatency   *LatencyHistogram

	apiRequests uint64
	apiErrors   uint64
	fetches     uint64
	fetchErrors uint64
	plans       uint64
	series      int64

	gatewayStats gateway.PoolStats

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a metrics instance with its own registry.
func NewSystemMetrics() *SystemMetrics {
	m := &SystemMetrics{
		registry: prometheus.NewRegistry(),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskdesk_exchange_fetch_total",
			Help: "Exchange fetches by exchange, kind and result.",
		}, []string{"exchange", "kind", "result"}),
		fetchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riskdesk_exchange_fetch_seconds",
			Help:    "Exchange fetch latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"exchange", "kind"}),
		mergeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskdesk_series_merge_total",
			Help: "Series merges by source (historical|realtime).",
		}, []string{"source"}),
		planTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskdesk_plan_total",
			Help: "Position plans by outcome (ok|partial|insufficient_capital|error).",
		}, []string{"outcome"}),
		apiTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskdesk_api_requests_total",
			Help: "HTTP requests by method, route and status class.",
		}, []string{"method", "route", "class"}),
		activeSeries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskdesk_active_series",
			Help: "Series keys currently subscribed.",
		}),
		gatewayActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskdesk_gateway_pool_active",
			Help: "Exchange adapters held by the pool.",
		}),
		FetchLatency: NewLatencyHistogram(1000),
		PollLatency:  NewLatencyHistogram(1000),
		PlanLatency:  NewLatencyHistogram(1000),
		APILatency:   NewLatencyHistogram(1000),
		lastUpdate:   time.Now(),
	}
	m.registry.MustRegister(m.fetchTotal, m.fetchSeconds, m.mergeTotal, m.planTotal, m.apiTotal, m.activeSeries, m.gatewayActive)
	return m
}

// Handler serves the Prometheus exposition for this instance.
func (m *SystemMetrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *SystemMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFetch records one exchange call.
func (m *SystemMetrics) ObserveFetch(exchange, kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		atomic.AddUint64(&m.fetchErrors, 1)
	}
	atomic.AddUint64(&m.fetches, 1)
	m.fetchTotal.WithLabelValues(exchange, kind, result).Inc()
	m.fetchSeconds.WithLabelValues(exchange, kind).Observe(d.Seconds())
	if kind == "poll" {
		m.PollLatency.RecordDuration(d)
	} else {
		m.FetchLatency.RecordDuration(d)
	}
}

// IncMerge counts a merge into a series.
func (m *SystemMetrics) IncMerge(source string) {
	if m == nil {
		return
	}
	m.mergeTotal.WithLabelValues(source).Inc()
}

// ObservePlan records a plan computation outcome.
func (m *SystemMetrics) ObservePlan(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.plans, 1)
	m.planTotal.WithLabelValues(outcome).Inc()
	m.PlanLatency.RecordDuration(d)
}

// ObserveAPI records one HTTP request. route is the matched pattern.
func (m *SystemMetrics) ObserveAPI(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.apiRequests, 1)
	if status >= 400 {
		atomic.AddUint64(&m.apiErrors, 1)
	}
	class := fmt.Sprintf("%dxx", status/100)
	m.apiTotal.WithLabelValues(method, route, class).Inc()
	m.APILatency.RecordDuration(d)
}

// AddSeries adjusts the active series gauge.
func (m *SystemMetrics) AddSeries(delta int) {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.series, int64(delta))
	m.activeSeries.Add(float64(delta))
}

// SetGatewayPoolStats updates gateway pool statistics.
func (m *SystemMetrics) SetGatewayPoolStats(stats gateway.PoolStats) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.gatewayStats = stats
	m.lastUpdate = time.Now()
	m.mu.Unlock()
	m.gatewayActive.Set(float64(stats.Active))
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// MetricsSnapshot is the JSON form served by /api/system/status.
type MetricsSnapshot struct {
	FetchLatency   LatencyStats      `json:"fetch_latency"`
	PollLatency    LatencyStats      `json:"poll_latency"`
	PlanLatency    LatencyStats      `json:"plan_latency"`
	APILatency     LatencyStats      `json:"api_latency"`
	APIRequests    uint64            `json:"api_requests"`
	APIErrors      uint64            `json:"api_errors"`
	Fetches        uint64            `json:"fetches"`
	FetchErrors    uint64            `json:"fetch_errors"`
	Plans          uint64            `json:"plans"`
	ActiveSeries   int64             `json:"active_series"`
	GatewayPool    gateway.PoolStats `json:"gateway_pool"`
	GoroutineCount int               `json:"goroutine_count"`
	HeapAlloc      uint64            `json:"heap_alloc_bytes"`
	HeapSys        uint64            `json:"heap_sys_bytes"`
	Timestamp      time.Time         `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{GoroutineCount: runtime.NumGoroutine(), Timestamp: time.Now()}
	}
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	gwStats := m.gatewayStats
	m.mu.RUnlock()

	return MetricsSnapshot{
		FetchLatency:   m.FetchLatency.Stats(),
		PollLatency:    m.PollLatency.Stats(),
		PlanLatency:    m.PlanLatency.Stats(),
		APILatency:     m.APILatency.Stats(),
		APIRequests:    atomic.LoadUint64(&m.apiRequests),
		APIErrors:      atomic.LoadUint64(&m.apiErrors),
		Fetches:        atomic.LoadUint64(&m.fetches),
		FetchErrors:    atomic.LoadUint64(&m.fetchErrors),
		Plans:          atomic.LoadUint64(&m.plans),
		ActiveSeries:   atomic.LoadInt64(&m.series),
		GatewayPool:    gwStats,
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		HeapSys:        memStats.HeapSys,
		Timestamp:      time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
