// Package history pages candle history backwards from a cursor.
package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"risk-desk/internal/monitor"
	"risk-desk/internal/timeframe"
	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/logger"
)

// ErrTransient marks a page fetch that failed and may be retried.
var ErrTransient = errors.New("transient fetch error")

// Request identifies one backward page.
type Request struct {
	Key      string // series key, used for in-flight suppression
	Exchange string
	Symbol   string
	TF       timeframe.Spec
	// Until is the inclusive upper bound in ms. Zero means the adapter clock.
	Until int64
}

// Page is one page of history, ascending by time.
type Page struct {
	Candles []common.Candle
	// NextCursor is the earliest candle time in ms. Valid only when HasNext.
	NextCursor int64
	HasNext    bool
	// Suppressed is set when another fetch for the same key was in flight.
	Suppressed bool
	// Err records the swallowed failure, wrapped in ErrTransient.
	Err error
}

// Fetcher issues at most one page fetch per key at a time.
type Fetcher struct {
	limit   int
	log     *zap.Logger
	metrics *monitor.SystemMetrics

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewFetcher returns a fetcher requesting pages of limit candles
// (timeframe.PageLimit when limit <= 0).
func NewFetcher(limit int, metrics *monitor.SystemMetrics, log *zap.Logger) *Fetcher {
	if limit <= 0 || limit > timeframe.PageLimit {
		limit = timeframe.PageLimit
	}
	return &Fetcher{
		limit:    limit,
		log:      logger.OrNop(log).With(zap.String("component", "history")),
		metrics:  metrics,
		inflight: make(map[string]struct{}),
	}
}

// Fetch loads the page covering [until-cappedRange, until]. It never
// returns an error: failures produce an empty page with Err set.
func (f *Fetcher) Fetch(ctx context.Context, md common.MarketData, req Request) Page {
	if !f.acquire(req.Key) {
		f.log.Debug("page fetch suppressed", zap.String("key", req.Key))
		return Page{Suppressed: true}
	}
	defer f.release(req.Key)

	until := req.Until
	if until <= 0 {
		until = md.Now()
	}
	var since int64
	if req.TF.CappedRange > 0 {
		since = until - req.TF.CappedRange.Milliseconds()
		if since <= 0 {
			since = 1
		}
	}
	params := map[string]string{"endTime": strconv.FormatInt(until, 10)}

	start := time.Now()
	candles, err := md.FetchOHLCV(ctx, req.Symbol, req.TF.Wire, since, f.limit, params)
	f.metrics.ObserveFetch(req.Exchange, "history", time.Since(start), err)
	if err != nil {
		err = fmt.Errorf("%w: %s %s %s: %v", ErrTransient, req.Exchange, req.Symbol, req.TF.Token, err)
		f.log.Warn("page fetch failed",
			zap.String("key", req.Key),
			zap.Int64("until", until),
			zap.Error(err))
		return Page{Err: err}
	}

	page := Page{Candles: clip(candles, until)}
	if len(page.Candles) > 0 {
		page.NextCursor = page.Candles[0].Time * 1000
		page.HasNext = true
	}
	return page
}

// InFlight reports whether a fetch for key is running.
func (f *Fetcher) InFlight(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.inflight[key]
	return ok
}

func (f *Fetcher) acquire(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.inflight[key]; busy {
		return false
	}
	f.inflight[key] = struct{}{}
	return true
}

func (f *Fetcher) release(key string) {
	f.mu.Lock()
	delete(f.inflight, key)
	f.mu.Unlock()
}

// clip drops candles opening after until (ms), preserving order.
func clip(candles []common.Candle, until int64) []common.Candle {
	out := candles[:0:0]
	for _, c := range candles {
		if c.Time*1000 <= until {
			out = append(out, c)
		}
	}
	return out
}
