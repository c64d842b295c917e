package balance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/logger"
)

// SourceFunc resolves the balance source for an exchange id. It returns
// nil when the exchange adapter cannot report balances.
type SourceFunc func(exchange string) common.BalanceSource

// Registry holds one Manager per exchange, started on first use.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*registered
	sources  SourceFunc
	interval time.Duration
	ctx      context.Context
	log      *zap.Logger
}

// NewRegistry creates a registry whose managers stop when ctx ends.
func NewRegistry(ctx context.Context, sources SourceFunc, interval time.Duration, log *zap.Logger) *Registry {
	return &Registry{
		managers: make(map[string]*registered),
		sources:  sources,
		interval: interval,
		ctx:      ctx,
		log:      logger.OrNop(log).With(zap.String("component", "balance")),
	}
}

type registered struct {
	once sync.Once
	mgr  *Manager
}

// For returns the manager for exchange, creating and starting it once.
// The first sync runs outside the registry lock, so a slow exchange only
// holds up callers of that exchange.
func (r *Registry) For(exchange string) *Manager {
	r.mu.Lock()
	reg, ok := r.managers[exchange]
	if !ok {
		reg = &registered{}
		r.managers[exchange] = reg
	}
	r.mu.Unlock()

	reg.once.Do(func() {
		reg.mgr = NewManager(r.sources(exchange), r.interval, r.log.With(zap.String("exchange", exchange)))
		reg.mgr.Start(r.ctx)
	})
	return reg.mgr
}

// Resolve is For(exchange).Resolve(override).
func (r *Registry) Resolve(exchange string, override *float64) *float64 {
	if override != nil || r == nil {
		return (*Manager)(nil).Resolve(override)
	}
	return r.For(exchange).Resolve(nil)
}

// ActiveCount returns the number of managed exchanges.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}
