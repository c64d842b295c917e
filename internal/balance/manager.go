// Package balance keeps the available wallet balance per exchange in sync
// and resolves which balance a plan should size against.
package balance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/logger"
)

// Manager caches one exchange wallet.
type Manager struct {
	source       common.BalanceSource
	cache        *BalanceCache
	syncInterval time.Duration
	log          *zap.Logger
}

// BalanceCache caches balance data
type BalanceCache struct {
	balance  common.Balance
	lastSync time.Time
	mu       sync.RWMutex
}

// NewManager creates a new balance manager. source may be nil, in which
// case the balance stays unknown.
func NewManager(source common.BalanceSource, syncInterval time.Duration, log *zap.Logger) *Manager {
	if syncInterval <= 0 {
		syncInterval = 30 * time.Second
	}
	return &Manager{
		source:       source,
		cache:        &BalanceCache{},
		syncInterval: syncInterval,
		log:          logger.OrNop(log),
	}
}

// Start begins periodic balance sync
func (m *Manager) Start(ctx context.Context) {
	if err := m.Sync(ctx); err != nil {
		m.log.Debug("initial balance sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.syncInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Sync(ctx); err != nil {
					m.log.Warn("balance sync failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync fetches latest balance from exchange
func (m *Manager) Sync(ctx context.Context) error {
	if m.source == nil {
		return nil
	}

	b, err := m.source.GetBalance(ctx)
	if err != nil {
		return err
	}

	m.cache.mu.Lock()
	m.cache.balance = b
	m.cache.lastSync = time.Now()
	m.cache.mu.Unlock()

	m.log.Debug("balance synced",
		zap.Float64("total", b.Total),
		zap.Float64("available", b.Available),
		zap.Float64("locked", b.Locked))
	return nil
}

// Available returns the synced available balance, or false before the
// first successful sync.
func (m *Manager) Available() (float64, bool) {
	m.cache.mu.RLock()
	defer m.cache.mu.RUnlock()
	if m.cache.lastSync.IsZero() {
		return 0, false
	}
	return m.cache.balance.Available, true
}

// GetBalance returns current balance snapshot and its sync time.
func (m *Manager) GetBalance() (common.Balance, time.Time) {
	m.cache.mu.RLock()
	defer m.cache.mu.RUnlock()
	return m.cache.balance, m.cache.lastSync
}

// Resolve picks the balance to size against: an explicit override, then
// the synced wallet, else nil (unknown).
func (m *Manager) Resolve(override *float64) *float64 {
	if override != nil {
		v := *override
		return &v
	}
	if m == nil {
		return nil
	}
	if v, ok := m.Available(); ok {
		return &v
	}
	return nil
}
