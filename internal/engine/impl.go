package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"risk-desk/internal/balance"
	"risk-desk/internal/extremum"
	"risk-desk/internal/gateway"
	"risk-desk/internal/marketinfo"
	"risk-desk/internal/monitor"
	"risk-desk/internal/risk"
	"risk-desk/internal/series"
	"risk-desk/pkg/i18n"
	"risk-desk/pkg/logger"
	"risk-desk/pkg/trace"
)

// DefaultReadyWait bounds how long a plan waits for a fresh series.
const DefaultReadyWait = 10 * time.Second

// Impl implements Service by composing the series, market info and
// balance layers.
type Impl struct {
	recon    *series.Reconciler
	info     *marketinfo.Service
	balances *balance.Registry
	gateways *gateway.Manager
	metrics  *monitor.SystemMetrics
	log      *zap.Logger

	profiles       map[string]risk.RiskConfig
	defaultProfile risk.RiskConfig
	readyWait      time.Duration
	meta           SystemStatus

	mu     sync.Mutex
	pinned map[series.Key]*series.Subscription
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	Reconciler *series.Reconciler
	MarketInfo *marketinfo.Service
	Balances   *balance.Registry  // optional
	Gateways   *gateway.Manager   // optional, status only
	Metrics    *monitor.SystemMetrics

	Profiles       map[string]risk.RiskConfig
	DefaultProfile *risk.RiskConfig // nil uses risk.DefaultConfig
	ReadyWait      time.Duration

	Version   string
	Exchanges []string
	Log       *zap.Logger
}

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	def := risk.DefaultConfig()
	if cfg.DefaultProfile != nil {
		def = *cfg.DefaultProfile
	}
	wait := cfg.ReadyWait
	if wait <= 0 {
		wait = DefaultReadyWait
	}
	profiles := cfg.Profiles
	if profiles == nil {
		profiles = map[string]risk.RiskConfig{}
	}
	return &Impl{
		recon:          cfg.Reconciler,
		info:           cfg.MarketInfo,
		balances:       cfg.Balances,
		gateways:       cfg.Gateways,
		metrics:        cfg.Metrics,
		log:            logger.OrNop(cfg.Log).With(zap.String("component", "engine")),
		profiles:       profiles,
		defaultProfile: def,
		readyWait:      wait,
		meta:           SystemStatus{Version: cfg.Version, Exchanges: cfg.Exchanges},
		pinned:         make(map[series.Key]*series.Subscription),
	}
}

// --- Series ---

// Subscribe takes a reference on key owned by the caller, who must Close it.
func (e *Impl) Subscribe(ctx context.Context, key series.Key) (*series.Subscription, error) {
	return e.recon.Subscribe(ctx, key)
}

// Watch pins a subscription on key (once) and returns its snapshot.
func (e *Impl) Watch(ctx context.Context, key series.Key) (*series.Snapshot, error) {
	sub, err := e.pin(ctx, key)
	if err != nil {
		return nil, err
	}
	return sub.Snapshot(), nil
}

func (e *Impl) pin(ctx context.Context, key series.Key) (*series.Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sub, ok := e.pinned[key]; ok {
		return sub, nil
	}
	sub, err := e.recon.Subscribe(ctx, key)
	if err != nil {
		return nil, err
	}
	e.pinned[key] = sub
	return sub, nil
}

// WaitReady watches key and blocks until it is READY, ctx ends or
// timeout elapses (zero uses the engine default).
func (e *Impl) WaitReady(ctx context.Context, key series.Key, timeout time.Duration) (*series.Snapshot, error) {
	sub, err := e.pin(ctx, key)
	if err != nil {
		return nil, err
	}
	if snap := sub.Snapshot(); snap.Phase == series.Ready {
		return snap, nil
	}
	if timeout <= 0 {
		timeout = e.readyWait
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sub.Ready():
		return sub.Snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return sub.Snapshot(), fmt.Errorf("%w: %s", ErrReadyTimeout, key)
	}
}

func (e *Impl) Series(key series.Key) (*series.Snapshot, error) {
	return e.recon.Snapshot(key)
}

// LoadMore prepends one older page and returns the resulting snapshot.
func (e *Impl) LoadMore(ctx context.Context, key series.Key) (*series.Snapshot, error) {
	if err := e.recon.LoadMore(ctx, key); err != nil {
		return nil, err
	}
	return e.recon.Snapshot(key)
}

func (e *Impl) Reset(key series.Key) error {
	return e.recon.Reset(key)
}

// Release drops the pinned subscription on key.
func (e *Impl) Release(key series.Key) error {
	e.mu.Lock()
	sub, ok := e.pinned[key]
	delete(e.pinned, key)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", series.ErrKeyNotSubscribed, key)
	}
	sub.Close()
	return nil
}

// Watched lists pinned keys in a stable order.
func (e *Impl) Watched() []series.Key {
	e.mu.Lock()
	keys := make([]series.Key, 0, len(e.pinned))
	for k := range e.pinned {
		keys = append(keys, k)
	}
	e.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Close releases every pinned subscription.
func (e *Impl) Close() {
	e.mu.Lock()
	subs := e.pinned
	e.pinned = make(map[series.Key]*series.Subscription)
	e.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// --- Stop reference and planning ---

// StopReference runs the extremum search at the tail of a READY series.
func (e *Impl) StopReference(key series.Key, side extremum.TradeSide) (extremum.StopReference, error) {
	snap, err := e.recon.Snapshot(key)
	if err != nil {
		return extremum.StopReference{}, err
	}
	if snap.Phase != series.Ready {
		return extremum.StopReference{}, series.ErrNotReady
	}
	ref, ok := extremum.StopFor(snap.Candles, side)
	if !ok {
		return extremum.StopReference{}, fmt.Errorf("%w: %s is empty", ErrNoStopReference, key)
	}
	return ref, nil
}

// Profiles returns the named risk profiles.
func (e *Impl) Profiles() map[string]risk.RiskConfig {
	return e.profiles
}

func (e *Impl) riskConfig(req PlanRequest) (risk.RiskConfig, error) {
	if req.Config != nil {
		return *req.Config, nil
	}
	if req.Profile == "" {
		return e.defaultProfile, nil
	}
	cfg, ok := e.profiles[req.Profile]
	if !ok {
		return risk.RiskConfig{}, fmt.Errorf("%w: %q", ErrUnknownProfile, req.Profile)
	}
	return cfg, nil
}

// Plan waits for the series, derives the stop (unless given), resolves
// fees, leverage, market precision and balance, then computes the plan.
// Calculation failures are reported inside the plan, not as errors.
func (e *Impl) Plan(ctx context.Context, req PlanRequest) (res *PlanResult, err error) {
	start := time.Now()
	ctx, span := trace.StartSpan(ctx, "engine.Plan",
		attribute.String("key", req.Key.String()),
		attribute.String("side", string(req.Side)),
	)
	defer func() { trace.End(span, err) }()

	if err := req.Key.Validate(); err != nil {
		return nil, err
	}
	cfg, err := e.riskConfig(req)
	if err != nil {
		return nil, err
	}
	snap, err := e.WaitReady(ctx, req.Key, req.Wait)
	if err != nil {
		return nil, err
	}
	tail, ok := snap.Tail()
	if !ok {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoStopReference, req.Key)
	}

	res = &PlanResult{Key: req.Key, Config: cfg}
	stopPrice := 0.0
	if req.StopPrice != nil {
		stopPrice = *req.StopPrice
	} else {
		ref, ok := extremum.StopFor(snap.Candles, req.Side)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoStopReference, req.Key)
		}
		res.Stop = &ref
		stopPrice = ref.Price
	}

	ex, sym := req.Key.Exchange, req.Key.Symbol
	res.FeeQuote = e.info.Fees(ctx, ex, sym)
	res.Leverage = e.info.Leverage(ctx, ex, sym)
	if m, ok := e.info.Market(ctx, ex, sym); ok {
		res.Market = &m
	}

	lang := req.Lang
	if lang == "" {
		lang = i18n.GetLanguage()
	}
	res.Plan = risk.ComputePositionPlan(risk.PlanInput{
		Side:         req.Side,
		CurrentPrice: tail.Close,
		StopPrice:    stopPrice,
		Config:       cfg,
		Balance:      e.balances.Resolve(ex, req.Balance),
		Leverage:     &res.Leverage,
		Fees:         res.FeeQuote.Fees,
		Market:       res.Market,
		Lang:         lang,
	})
	res.Outcome = res.Plan.Outcome()

	e.metrics.ObservePlan(res.Outcome, time.Since(start))
	fields := []zap.Field{
		zap.String("key", req.Key.String()),
		zap.String("side", string(req.Side)),
		zap.String("outcome", res.Outcome),
		zap.Float64("entry", tail.Close),
		zap.Float64("stop", stopPrice),
	}
	if res.Plan.Error != nil {
		e.log.Info("plan rejected", append(fields, zap.String("code", res.Plan.Error.Code))...)
	} else {
		e.log.Debug("plan computed", fields...)
	}
	return res, nil
}

// --- System ---

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	status := e.meta
	status.Language = i18n.GetLanguage()
	status.ServerTime = time.Now().UTC()

	keys := e.recon.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	status.Series = make([]SeriesStatus, 0, len(keys))
	for _, k := range keys {
		snap, err := e.recon.Snapshot(k)
		if err != nil {
			if !errors.Is(err, series.ErrKeyNotSubscribed) {
				e.log.Warn("status snapshot failed", zap.String("key", k.String()), zap.Error(err))
			}
			continue
		}
		status.Series = append(status.Series, SeriesStatus{
			Key:       k.String(),
			Phase:     snap.Phase.String(),
			Candles:   snap.Len(),
			Exhausted: snap.Exhausted,
			UpdatedAt: snap.UpdatedAt,
		})
	}
	if e.gateways != nil {
		status.Gateways = e.gateways.Stats()
		e.metrics.SetGatewayPoolStats(status.Gateways)
	}
	if e.balances != nil {
		status.Balances = e.balances.ActiveCount()
	}
	status.Metrics = e.metrics.GetSnapshot()
	return &status
}
