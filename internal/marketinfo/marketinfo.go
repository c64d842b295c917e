// Package marketinfo resolves trading fees, leverage tiers and market
// precision with fallbacks and a TTL cache.
package marketinfo

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"risk-desk/internal/monitor"
	"risk-desk/pkg/cache"
	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/logger"
)

// Provider resolves exchange ids to adapters.
type Provider interface {
	Get(exchange string) (common.MarketData, error)
}

// FeeQuote is the resolved fee schedule. Fees is nil when neither the
// fee endpoint nor market metadata supplied one.
type FeeQuote struct {
	Fees   *common.TradingFees `json:"fees"`
	Source string              `json:"source"` // account, market or none
}

// Service caches per-(exchange, symbol) lookups.
type Service struct {
	provider    Provider
	maxLeverage float64
	metrics     *monitor.SystemMetrics
	log         *zap.Logger

	fees     *cache.Sharded[FeeQuote]
	leverage *cache.Sharded[common.LeverageInfo]
	markets  *cache.Sharded[common.Market]
}

// New returns a Service. defaultMaxLeverage applies when tiers are
// unavailable (common.DefaultMaxLeverage when <= 0).
func New(p Provider, ttl time.Duration, defaultMaxLeverage float64, metrics *monitor.SystemMetrics, log *zap.Logger) *Service {
	if defaultMaxLeverage <= 0 {
		defaultMaxLeverage = common.DefaultMaxLeverage
	}
	return &Service{
		provider:    p,
		maxLeverage: defaultMaxLeverage,
		metrics:     metrics,
		log:         logger.OrNop(log).With(zap.String("component", "marketinfo")),
		fees:        cache.New[FeeQuote](ttl),
		leverage:    cache.New[common.LeverageInfo](ttl),
		markets:     cache.New[common.Market](ttl),
	}
}

func cacheKey(exchange, symbol string) string { return exchange + ":" + symbol }

// Fees returns the taker/maker schedule: the account fee endpoint first,
// then market metadata, else absent.
func (s *Service) Fees(ctx context.Context, exchange, symbol string) FeeQuote {
	key := cacheKey(exchange, symbol)
	if q, ok := s.fees.Get(key); ok {
		return q
	}
	md, err := s.provider.Get(exchange)
	if err != nil {
		s.log.Warn("fee lookup skipped", zap.String("exchange", exchange), zap.Error(err))
		return FeeQuote{Source: "none"}
	}

	start := time.Now()
	fees, err := md.FetchTradingFee(ctx, symbol)
	s.metrics.ObserveFetch(exchange, "fee", time.Since(start), ignoreUnsupported(err))
	if err == nil {
		q := FeeQuote{Fees: &fees, Source: "account"}
		s.fees.Set(key, q)
		return q
	}
	if !errors.Is(err, common.ErrNotSupported) {
		s.log.Warn("fee endpoint failed, using market metadata",
			zap.String("exchange", exchange), zap.String("symbol", symbol), zap.Error(err))
	}

	if m, ok := s.Market(ctx, exchange, symbol); ok && (m.Maker > 0 || m.Taker > 0) {
		q := FeeQuote{Fees: &common.TradingFees{Maker: m.Maker, Taker: m.Taker}, Source: "market"}
		s.fees.Set(key, q)
		return q
	}
	q := FeeQuote{Source: "none"}
	s.fees.Set(key, q)
	return q
}

// Leverage returns the tier table, or the default maximum with no tiers
// when the exchange cannot supply one.
func (s *Service) Leverage(ctx context.Context, exchange, symbol string) common.LeverageInfo {
	key := cacheKey(exchange, symbol)
	if info, ok := s.leverage.Get(key); ok {
		return info
	}
	fallback := common.LeverageInfo{MaxLeverage: s.maxLeverage, Tiers: []common.LeverageTier{}}

	md, err := s.provider.Get(exchange)
	if err != nil {
		return fallback
	}
	start := time.Now()
	tiers, err := md.FetchLeverageTiers(ctx, symbol)
	s.metrics.ObserveFetch(exchange, "leverage", time.Since(start), ignoreUnsupported(err))
	if err != nil || len(tiers) == 0 {
		if err != nil && !errors.Is(err, common.ErrNotSupported) {
			s.log.Warn("leverage tiers unavailable", zap.String("exchange", exchange), zap.String("symbol", symbol), zap.Error(err))
			return fallback // transient, do not cache
		}
		s.leverage.Set(key, fallback)
		return fallback
	}

	info := common.LeverageInfo{Tiers: tiers}
	for _, t := range tiers {
		if t.MaxLeverage > info.MaxLeverage {
			info.MaxLeverage = t.MaxLeverage
		}
	}
	s.leverage.Set(key, info)
	return info
}

// Market returns precision metadata when the exchange provides it.
func (s *Service) Market(ctx context.Context, exchange, symbol string) (common.Market, bool) {
	key := cacheKey(exchange, symbol)
	if m, ok := s.markets.Get(key); ok {
		return m, true
	}
	md, err := s.provider.Get(exchange)
	if err != nil {
		return common.Market{}, false
	}
	start := time.Now()
	m, err := md.FetchMarket(ctx, symbol)
	s.metrics.ObserveFetch(exchange, "market", time.Since(start), ignoreUnsupported(err))
	if err != nil {
		if !errors.Is(err, common.ErrNotSupported) {
			s.log.Warn("market metadata unavailable", zap.String("exchange", exchange), zap.String("symbol", symbol), zap.Error(err))
		}
		return common.Market{}, false
	}
	s.markets.Set(key, m)
	return m, true
}

// Cleanup drops expired entries from every cache.
func (s *Service) Cleanup() int {
	return s.fees.Cleanup(0) + s.leverage.Cleanup(0) + s.markets.Cleanup(0)
}

func ignoreUnsupported(err error) error {
	if errors.Is(err, common.ErrNotSupported) {
		return nil
	}
	return err
}
