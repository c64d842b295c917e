package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"risk-desk/internal/balance"
	"risk-desk/internal/engine"
	"risk-desk/internal/events"
	"risk-desk/internal/gateway"
	"risk-desk/internal/history"
	"risk-desk/internal/marketinfo"
	"risk-desk/internal/monitor"
	"risk-desk/internal/risk"
	"risk-desk/internal/series"
	"risk-desk/pkg/config"
	"risk-desk/pkg/exchanges/common"
)

// app is the wired core shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	metrics  *monitor.SystemMetrics
	bus      *events.Bus
	gateways *gateway.Manager
	recon    *series.Reconciler
	info     *marketinfo.Service
	balances *balance.Registry
	engine   *engine.Impl

	cancel context.CancelFunc
}

func credentials(cfg *config.Config) map[string]gateway.Credentials {
	return map[string]gateway.Credentials{
		"binance": {
			APIKey:    cfg.BinanceAPIKey,
			APISecret: cfg.BinanceAPISecret,
			Testnet:   cfg.BinanceTestnet,
		},
		"binanceusdm": {
			APIKey:    cfg.BinanceUSDTKey,
			APISecret: cfg.BinanceUSDTSecret,
			Testnet:   cfg.BinanceTestnet,
		},
	}
}

// balanceSources reads wallets only where keys are configured; the mock
// exchange always reports its synthetic wallet.
func balanceSources(gw *gateway.Manager, creds map[string]gateway.Credentials) balance.SourceFunc {
	return func(exchange string) common.BalanceSource {
		if exchange != "mock" && creds[exchange].APIKey == "" {
			return nil
		}
		md, err := gw.Get(exchange)
		if err != nil {
			return nil
		}
		src, _ := md.(common.BalanceSource)
		return src
	}
}

// loadRiskProfiles falls back to the built-in defaults when no profile
// file is configured or it cannot be read.
func loadRiskProfiles(path string, log *zap.Logger) (map[string]risk.RiskConfig, risk.RiskConfig) {
	if path == "" {
		return nil, risk.DefaultConfig()
	}
	profiles, def, err := risk.LoadProfiles(path)
	if err != nil {
		log.Warn("risk profiles not loaded, using defaults", zap.String("path", path), zap.Error(err))
		return profiles, def
	}
	log.Info("risk profiles loaded", zap.String("path", path), zap.Int("count", len(profiles)))
	return profiles, def
}

func newApp(cfg *config.Config, log *zap.Logger) *app {
	ctx, cancel := context.WithCancel(context.Background())

	metrics := monitor.NewSystemMetrics()
	bus := events.NewBus()
	creds := credentials(cfg)

	gw := gateway.NewManager(gateway.DefaultFactory(log, cfg.MockSeed), gateway.DefaultConfig(), cfg.Exchanges, creds, log)
	gw.Start(ctx)

	recon := series.NewReconciler(series.Config{PollInterval: cfg.PollInterval}, gw,
		history.NewFetcher(cfg.PageLimit, metrics, log), bus, metrics, log)
	info := marketinfo.New(gw, cfg.FeeCacheTTL, cfg.DefaultMaxLeverage, metrics, log)
	balances := balance.NewRegistry(ctx, balanceSources(gw, creds), cfg.BalanceSyncInterval, log)

	profiles, def := loadRiskProfiles(cfg.RiskProfilePath, log)
	eng := engine.NewImpl(engine.Config{
		Reconciler:     recon,
		MarketInfo:     info,
		Balances:       balances,
		Gateways:       gw,
		Metrics:        metrics,
		Profiles:       profiles,
		DefaultProfile: &def,
		Version:        version,
		Exchanges:      cfg.Exchanges,
		Log:            log,
	})

	sweep := cfg.FeeCacheTTL
	if sweep <= 0 {
		sweep = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := info.Cleanup(); n > 0 {
					log.Debug("market info cache cleaned", zap.Int("expired", n))
				}
			}
		}
	}()

	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		bus:      bus,
		gateways: gw,
		recon:    recon,
		info:     info,
		balances: balances,
		engine:   eng,
		cancel:   cancel,
	}
}

// close stops every background loop, newest first.
func (a *app) close() {
	a.engine.Close()
	a.recon.Close()
	a.cancel()
	a.gateways.Stop()
}
