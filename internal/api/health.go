package api

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"risk-desk/internal/events"
	"risk-desk/internal/series"
	"risk-desk/pkg/logger"
)

// HealthReporter publishes one gRPC health status per series key
// ("exchange:symbol:timeframe"): SERVING once READY, NOT_SERVING while
// bootstrapping or after the series is discarded. The empty service name
// reports the process itself.
type HealthReporter struct {
	bus    *events.Bus
	keys   func() []series.Key
	health *health.Server
	log    *zap.Logger

	mu    sync.Mutex
	known map[string]bool
}

// NewHealthReporter wires a reporter. keys lists the live series and is
// used to retire statuses of discarded keys.
func NewHealthReporter(bus *events.Bus, keys func() []series.Key, log *zap.Logger) *HealthReporter {
	h := &HealthReporter{
		bus:    bus,
		keys:   keys,
		health: health.NewServer(),
		log:    logger.OrNop(log).With(zap.String("component", "grpc-health")),
		known:  make(map[string]bool),
	}
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return h
}

// Server exposes the underlying health service.
func (h *HealthReporter) Server() *health.Server { return h.health }

// Run follows series events until ctx ends, sweeping discarded keys every
// sweep interval.
func (h *HealthReporter) Run(ctx context.Context, sweep time.Duration) {
	if h.bus == nil {
		return
	}
	if sweep <= 0 {
		sweep = 5 * time.Second
	}
	ready, unsubReady := h.bus.Subscribe(events.EventSeriesReady, 64)
	defer unsubReady()
	reset, unsubReset := h.bus.Subscribe(events.EventSeriesReset, 64)
	defer unsubReset()

	ticker := time.NewTicker(sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case msg, ok := <-ready:
			if !ok {
				return
			}
			if ev, ok := msg.(events.SeriesEvent); ok {
				h.set(eventKey(ev), healthpb.HealthCheckResponse_SERVING)
			}
		case msg, ok := <-reset:
			if !ok {
				return
			}
			if ev, ok := msg.(events.SeriesEvent); ok {
				h.set(eventKey(ev), healthpb.HealthCheckResponse_NOT_SERVING)
			}
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Sweep marks keys that are no longer subscribed as NOT_SERVING.
func (h *HealthReporter) Sweep() {
	if h.keys == nil {
		return
	}
	live := make(map[string]bool)
	for _, k := range h.keys() {
		live[k.String()] = true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, serving := range h.known {
		if serving && !live[k] {
			h.known[k] = false
			h.health.SetServingStatus(k, healthpb.HealthCheckResponse_NOT_SERVING)
		}
	}
}

func (h *HealthReporter) set(key string, status healthpb.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	h.known[key] = status == healthpb.HealthCheckResponse_SERVING
	h.mu.Unlock()
	h.health.SetServingStatus(key, status)
	h.log.Debug("series health", zap.String("key", key), zap.String("status", status.String()))
}

func eventKey(ev events.SeriesEvent) string {
	return series.Key{Exchange: ev.Exchange, Symbol: ev.Symbol, Timeframe: ev.Timeframe}.String()
}

// ServeGRPC serves the health service on addr until ctx ends.
func (h *HealthReporter) ServeGRPC(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.health)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	h.log.Info("grpc health listening", zap.String("addr", addr))
	return srv.Serve(lis)
}
