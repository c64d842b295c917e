// Package gateway pools exchange adapters by exchange id with LRU eviction,
// idle cleanup and a failure circuit breaker.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/logger"
)

var (
	ErrUnknownExchange  = errors.New("unknown exchange")
	ErrExchangeDisabled = errors.New("exchange not enabled")
	ErrGatewayUnhealthy = errors.New("gateway is unhealthy")
	ErrPoolFull         = errors.New("gateway pool is full")
)

// CachedGateway holds an adapter with metadata for lifecycle management.
type CachedGateway struct {
	Gateway   common.MarketData
	Exchange  string
	CreatedAt time.Time
	LastUsed  time.Time
	HealthyAt time.Time
	OpenedAt  time.Time // last time the circuit opened
	Failures  int

	cancel context.CancelFunc
}

// Config holds configuration for the Manager.
type Config struct {
	MaxSize          int           // Maximum number of cached adapters (LRU eviction)
	IdleTimeout      time.Duration // Time before an idle adapter is removed
	HealthInterval   time.Duration // Interval between health checks
	FailureThreshold int           // Number of failures before marking unhealthy
	CircuitTimeout   time.Duration // Time to wait before retrying an unhealthy adapter
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:          16,
		IdleTimeout:      30 * time.Minute,
		HealthInterval:   5 * time.Minute,
		FailureThreshold: 5,
		CircuitTimeout:   30 * time.Second,
	}
}

// Manager manages a pool of exchange adapters.
type Manager struct {
	mu       sync.RWMutex
	gateways map[string]*CachedGateway // exchange id -> cached adapter
	lruOrder []string                  // oldest first

	config  Config
	factory Factory
	creds   map[string]Credentials
	enabled map[string]bool
	log     *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a new Manager. enabled restricts which exchange ids
// may be created; empty allows any id the factory knows.
func NewManager(factory Factory, cfg Config, enabled []string, creds map[string]Credentials, log *zap.Logger) *Manager {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultConfig().HealthInterval
	}
	m := &Manager{
		gateways: make(map[string]*CachedGateway),
		config:   cfg,
		factory:  factory,
		creds:    creds,
		enabled:  make(map[string]bool),
		log:      logger.OrNop(log).With(zap.String("component", "gateway")),
		stopCh:   make(chan struct{}),
	}
	for _, ex := range enabled {
		m.enabled[ex] = true
	}
	return m
}

// Start begins background cleanup and health check goroutines.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(2)

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.IdleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.cleanupIdle()
			}
		}
	}()

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.healthCheckAll(ctx)
			}
		}
	}()
}

// Stop shuts down the background loops and releases all adapters.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cached := range m.gateways {
		release(cached)
		delete(m.gateways, id)
	}
	m.lruOrder = nil
}

// Get returns the pooled adapter for exchange, creating it on first use.
func (m *Manager) Get(exchange string) (common.MarketData, error) {
	if len(m.enabled) > 0 && !m.enabled[exchange] {
		return nil, fmt.Errorf("%w: %s", ErrExchangeDisabled, exchange)
	}

	m.mu.RLock()
	if cached, ok := m.gateways[exchange]; ok {
		if cached.Failures >= m.config.FailureThreshold && m.config.FailureThreshold > 0 &&
			time.Since(cached.OpenedAt) < m.config.CircuitTimeout {
			m.mu.RUnlock()
			return nil, ErrGatewayUnhealthy
		}
		m.mu.RUnlock()
		m.touchLRU(exchange)
		return cached.Gateway, nil
	}
	m.mu.RUnlock()

	return m.create(exchange)
}

func (m *Manager) create(exchange string) (common.MarketData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.gateways[exchange]; ok {
		m.touchLRULocked(exchange)
		return cached.Gateway, nil
	}

	if len(m.gateways) >= m.config.MaxSize {
		if !m.evictOldestLocked() {
			return nil, ErrPoolFull
		}
	}

	gw, err := m.factory(exchange, m.creds[exchange])
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if starter, ok := gw.(interface{ Start(context.Context) }); ok {
		starter.Start(ctx)
	}

	now := time.Now()
	m.gateways[exchange] = &CachedGateway{
		Gateway:   gw,
		Exchange:  exchange,
		CreatedAt: now,
		LastUsed:  now,
		HealthyAt: now,
		cancel:    cancel,
	}
	m.lruOrder = append(m.lruOrder, exchange)
	m.log.Info("adapter created", zap.String("exchange", exchange))
	return gw, nil
}

// Remove drops an adapter from the pool.
func (m *Manager) Remove(exchange string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.gateways[exchange]; ok {
		release(cached)
		delete(m.gateways, exchange)
		m.removeLRULocked(exchange)
	}
}

// RecordFailure records a failed call against exchange.
func (m *Manager) RecordFailure(exchange string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.gateways[exchange]; ok {
		cached.Failures++
		// A failure at or past the threshold (re)opens the circuit, so a
		// failed half-open trial waits out another CircuitTimeout.
		if m.config.FailureThreshold > 0 && cached.Failures >= m.config.FailureThreshold {
			cached.OpenedAt = time.Now()
			if cached.Failures == m.config.FailureThreshold {
				m.log.Warn("adapter circuit open", zap.String("exchange", exchange), zap.Int("failures", cached.Failures))
			}
		}
	}
}

// RecordSuccess resets the failure counter.
func (m *Manager) RecordSuccess(exchange string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.gateways[exchange]; ok {
		cached.Failures = 0
		cached.HealthyAt = time.Now()
	}
}

// Stats returns current pool statistics.
func (m *Manager) Stats() PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := PoolStats{
		Active:     len(m.gateways),
		MaxSize:    m.config.MaxSize,
		ByExchange: make(map[string]int),
	}
	for _, cached := range m.gateways {
		stats.ByExchange[cached.Exchange]++
		if m.config.FailureThreshold > 0 && cached.Failures >= m.config.FailureThreshold {
			stats.Unhealthy++
		}
	}
	return stats
}

// PoolStats contains adapter pool statistics.
type PoolStats struct {
	Active     int            `json:"active"`
	MaxSize    int            `json:"max_size"`
	ByExchange map[string]int `json:"by_exchange"`
	Unhealthy  int            `json:"unhealthy"`
}

// --- Internal helpers ---

func release(cached *CachedGateway) {
	if cached.cancel != nil {
		cached.cancel()
	}
	if closer, ok := cached.Gateway.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

func (m *Manager) touchLRU(exchange string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLRULocked(exchange)
}

func (m *Manager) touchLRULocked(exchange string) {
	if cached, ok := m.gateways[exchange]; ok {
		cached.LastUsed = time.Now()
	}
	for i, id := range m.lruOrder {
		if id == exchange {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			m.lruOrder = append(m.lruOrder, exchange)
			break
		}
	}
}

func (m *Manager) removeLRULocked(exchange string) {
	for i, id := range m.lruOrder {
		if id == exchange {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			break
		}
	}
}

func (m *Manager) evictOldestLocked() bool {
	if len(m.lruOrder) == 0 {
		return false
	}
	oldest := m.lruOrder[0]
	if cached, ok := m.gateways[oldest]; ok {
		release(cached)
		delete(m.gateways, oldest)
	}
	m.lruOrder = m.lruOrder[1:]
	return true
}

func (m *Manager) cleanupIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, cached := range m.gateways {
		if now.Sub(cached.LastUsed) > m.config.IdleTimeout {
			release(cached)
			delete(m.gateways, id)
			m.removeLRULocked(id)
			m.log.Info("idle adapter released", zap.String("exchange", id))
		}
	}
}

func (m *Manager) healthCheckAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.gateways))
	for id := range m.gateways {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.healthCheck(ctx, id)
	}
}

func (m *Manager) healthCheck(ctx context.Context, exchange string) {
	m.mu.RLock()
	cached, ok := m.gateways[exchange]
	if !ok {
		m.mu.RUnlock()
		return
	}
	gw := cached.Gateway
	m.mu.RUnlock()

	if pinger, ok := gw.(interface{ Ping(context.Context) error }); ok {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := pinger.Ping(pctx)
		cancel()

		if err != nil {
			m.log.Warn("adapter ping failed", zap.String("exchange", exchange), zap.Error(err))
			m.RecordFailure(exchange)
		} else {
			m.RecordSuccess(exchange)
		}
	}
}
