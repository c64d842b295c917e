package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"risk-desk/internal/events"
	"risk-desk/internal/series"
)

func checkStatus(t *testing.T, h *HealthReporter, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	return resp.GetStatus()
}

func TestHealthReporterFollowsSeriesEvents(t *testing.T) {
	bus := events.NewBus()
	var live []series.Key
	h := NewHealthReporter(bus, func() []series.Key { return live }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx, time.Hour)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, h, ""))
	require.Eventually(t, func() bool { return bus.Subscribers(events.EventSeriesReady) == 1 }, time.Second, 5*time.Millisecond)

	key := series.Key{Exchange: "mock", Symbol: "BTCUSDT", Timeframe: "1"}
	ev := events.SeriesEvent{Exchange: "mock", Symbol: "BTCUSDT", Timeframe: "1", Kind: events.EventSeriesReady}
	bus.Publish(events.EventSeriesReady, ev)
	require.Eventually(t, func() bool {
		return checkStatus(t, h, key.String()) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	ev.Kind = events.EventSeriesReset
	bus.Publish(events.EventSeriesReset, ev)
	require.Eventually(t, func() bool {
		return checkStatus(t, h, key.String()) == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)
}

func TestHealthReporterSweep(t *testing.T) {
	key := series.Key{Exchange: "mock", Symbol: "ETHUSDT", Timeframe: "5"}
	live := []series.Key{key}
	h := NewHealthReporter(events.NewBus(), func() []series.Key { return live }, nil)

	h.set(key.String(), healthpb.HealthCheckResponse_SERVING)
	h.Sweep()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, h, key.String()))

	live = nil
	h.Sweep()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, h, key.String()))
}
