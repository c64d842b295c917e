package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"risk-desk/internal/events"
	"risk-desk/pkg/logger"
)

// Monitor watches fetch failures and alerts when a series keeps failing.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
	// Threshold is the number of consecutive failures per series and
	// kind before an alert; default 5.
	Threshold int
	Log       *zap.Logger

	mu      sync.Mutex
	streaks map[string]int
}

// Start consumes fetch.failed and series.updated until ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	log := logger.OrNop(m.Log)
	if m.Bus == nil || m.Sink == nil {
		log.Info("monitor not fully configured; skipping")
		return
	}
	if m.Threshold <= 0 {
		m.Threshold = 5
	}
	m.streaks = make(map[string]int)

	failures, unsubFailures := m.Bus.Subscribe(events.EventFetchFailed, 64)
	updates, unsubUpdates := m.Bus.Subscribe(events.EventSeriesUpdated, 64)
	go func() {
		defer unsubFailures()
		defer unsubUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-failures:
				if !ok {
					return
				}
				if f, ok := msg.(events.FetchFailure); ok {
					m.fail(f, log)
				}
			case msg, ok := <-updates:
				if !ok {
					return
				}
				if ev, ok := msg.(events.SeriesEvent); ok {
					m.clear(ev.Exchange + ":" + ev.Symbol + ":" + ev.Timeframe)
				}
			}
		}
	}()
}

func (m *Monitor) fail(f events.FetchFailure, log *zap.Logger) {
	key := f.Exchange + ":" + f.Symbol + ":" + f.Timeframe
	m.mu.Lock()
	m.streaks[key]++
	n := m.streaks[key]
	m.mu.Unlock()

	if n%m.Threshold != 0 {
		return
	}
	if err := m.Sink.Send(formatAlert(f, n)); err != nil {
		log.Warn("alert delivery failed", zap.String("key", key), zap.Error(err))
	}
}

func (m *Monitor) clear(key string) {
	m.mu.Lock()
	delete(m.streaks, key)
	m.mu.Unlock()
}

// Streak returns the current consecutive failure count for a series key.
func (m *Monitor) Streak(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaks[key]
}

func formatAlert(f events.FetchFailure, n int) string {
	return fmt.Sprintf("[%s] %s:%s:%s %s fetch failed %d times in a row: %s",
		time.Now().UTC().Format(time.RFC3339), f.Exchange, f.Symbol, f.Timeframe, f.Kind, n, f.Err)
}
