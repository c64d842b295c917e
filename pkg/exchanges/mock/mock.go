// Package mock provides a deterministic synthetic exchange for local
// development and tests. Candles are a pure function of (seed, symbol,
// timeframe, bar open time), so repeated fetches agree with each other.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"sync"
	"time"

	"risk-desk/pkg/exchanges/common"
)

// Exchange is a synthetic market-data adapter.
type Exchange struct {
	Seed       int64
	StartPrice float64
	// Clock returns epoch milliseconds. Defaults to time.Now.
	Clock func() int64

	mu      sync.RWMutex
	fees    *common.TradingFees
	tiers   []common.LeverageTier
	balance common.Balance
	market  common.Market
	fail    error
}

var (
	_ common.MarketData    = (*Exchange)(nil)
	_ common.BalanceSource = (*Exchange)(nil)
)

// New returns a mock exchange with a default fee schedule, three leverage
// tiers and a 10k USDT wallet.
func New(seed int64) *Exchange {
	return &Exchange{
		Seed:       seed,
		StartPrice: 100,
		fees:       &common.TradingFees{Maker: 0.0002, Taker: 0.0005},
		tiers: []common.LeverageTier{
			{NotionalCeiling: 50_000, MaxLeverage: 125, MaintenanceMarginRate: 0.004},
			{NotionalCeiling: 250_000, MaxLeverage: 50, MaintenanceMarginRate: 0.005},
			{NotionalCeiling: 1_000_000, MaxLeverage: 20, MaintenanceMarginRate: 0.01},
		},
		balance: common.Balance{Total: 10_000, Available: 10_000},
		market:  common.Market{Maker: 0.0002, Taker: 0.0005, AmountStep: 0.001, PriceTick: 0.01},
	}
}

// SetFees overrides the fee schedule. nil makes FetchTradingFee unsupported.
func (e *Exchange) SetFees(f *common.TradingFees) {
	e.mu.Lock()
	e.fees = f
	e.mu.Unlock()
}

// SetLeverageTiers overrides the tier table. nil makes it unsupported.
func (e *Exchange) SetLeverageTiers(t []common.LeverageTier) {
	e.mu.Lock()
	e.tiers = t
	e.mu.Unlock()
}

// SetBalance overrides the wallet.
func (e *Exchange) SetBalance(b common.Balance) {
	e.mu.Lock()
	e.balance = b
	e.mu.Unlock()
}

// SetFailure makes every fetch return err until cleared with nil.
func (e *Exchange) SetFailure(err error) {
	e.mu.Lock()
	e.fail = err
	e.mu.Unlock()
}

func (e *Exchange) failure() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fail
}

// Now returns the mock clock in milliseconds.
func (e *Exchange) Now() int64 {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UnixMilli()
}

// FetchOHLCV returns up to limit bars starting at the first bar open at or
// after sinceMillis. sinceMillis 0 returns the latest limit bars. params
// may carry "endTime" in milliseconds.
func (e *Exchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMillis int64, limit int, params map[string]string) ([]common.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.failure(); err != nil {
		return nil, err
	}
	step := IntervalMillis(timeframe)
	if step <= 0 {
		return nil, fmt.Errorf("mock: unsupported timeframe %q", timeframe)
	}
	if limit <= 0 {
		limit = 500
	}
	now := e.Now()
	last := now - now%step // open time of the forming bar
	if end, err := strconv.ParseInt(params["endTime"], 10, 64); err == nil && end > 0 && end < last {
		last = end - end%step
	}

	var first int64
	if sinceMillis > 0 {
		first = sinceMillis - sinceMillis%step
		if first < sinceMillis {
			first += step
		}
	} else {
		first = last - int64(limit-1)*step
	}
	out := make([]common.Candle, 0, limit)
	for t := first; t <= last && len(out) < limit; t += step {
		out = append(out, e.bar(symbol, timeframe, t, step, now))
	}
	return out, nil
}

// FetchTradingFee returns the configured fee schedule.
func (e *Exchange) FetchTradingFee(ctx context.Context, symbol string) (common.TradingFees, error) {
	if err := e.failure(); err != nil {
		return common.TradingFees{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.fees == nil {
		return common.TradingFees{}, common.ErrNotSupported
	}
	return *e.fees, nil
}

// FetchLeverageTiers returns the configured tier table.
func (e *Exchange) FetchLeverageTiers(ctx context.Context, symbol string) ([]common.LeverageTier, error) {
	if err := e.failure(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.tiers == nil {
		return nil, common.ErrNotSupported
	}
	return append([]common.LeverageTier(nil), e.tiers...), nil
}

// FetchMarket returns market metadata for symbol.
func (e *Exchange) FetchMarket(ctx context.Context, symbol string) (common.Market, error) {
	if err := e.failure(); err != nil {
		return common.Market{}, err
	}
	e.mu.RLock()
	m := e.market
	e.mu.RUnlock()
	m.Symbol = symbol
	return m, nil
}

// GetBalance returns the configured wallet.
func (e *Exchange) GetBalance(ctx context.Context) (common.Balance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balance, nil
}

// bar synthesizes the candle opening at t. The forming bar (t+step > now)
// drifts toward its final close as now advances.
func (e *Exchange) bar(symbol, timeframe string, t, step, now int64) common.Candle {
	open := e.price(symbol, timeframe, t-step)
	closeP := e.price(symbol, timeframe, t)
	if t+step > now && now >= t {
		frac := float64(now-t) / float64(step)
		closeP = open + (closeP-open)*frac
	}
	spread := math.Abs(closeP-open) + open*0.002*e.unit(symbol, timeframe, t, 7)
	high := math.Max(open, closeP) + spread*e.unit(symbol, timeframe, t, 11)
	low := math.Min(open, closeP) - spread*e.unit(symbol, timeframe, t, 13)
	vol := 10 + 90*e.unit(symbol, timeframe, t, 17)
	return common.Candle{
		Time:   t / 1000,
		Open:   round(open),
		High:   round(high),
		Low:    round(low),
		Close:  round(closeP),
		Volume: round(vol),
	}
}

// price is a smooth wave plus bounded per-bar noise.
func (e *Exchange) price(symbol, timeframe string, t int64) float64 {
	base := e.StartPrice
	if base == 0 {
		base = 100
	}
	phase := float64(t) / float64(IntervalMillis(timeframe)*64)
	wave := 0.05*math.Sin(phase) + 0.02*math.Sin(phase*3.7)
	noise := 0.01 * (e.unit(symbol, timeframe, t, 3)*2 - 1)
	return base * (1 + wave + noise)
}

// unit maps (seed, symbol, timeframe, t, salt) to [0,1).
func (e *Exchange) unit(symbol, timeframe string, t int64, salt int64) float64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%d|%d", e.Seed, symbol, timeframe, t, salt)
	return float64(h.Sum64()>>11) / float64(1<<53)
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

// IntervalMillis parses tokens like 1m, 4h, 1d, 1w and 1M (30 days).
func IntervalMillis(tf string) int64 {
	if len(tf) < 2 {
		return 0
	}
	n, err := strconv.ParseInt(tf[:len(tf)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	switch tf[len(tf)-1] {
	case 'm':
		return n * int64(time.Minute/time.Millisecond)
	case 'h':
		return n * int64(time.Hour/time.Millisecond)
	case 'd':
		return n * 24 * int64(time.Hour/time.Millisecond)
	case 'w':
		return n * 7 * 24 * int64(time.Hour/time.Millisecond)
	case 'M':
		return n * 30 * 24 * int64(time.Hour/time.Millisecond)
	}
	return 0
}
