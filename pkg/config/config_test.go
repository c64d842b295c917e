package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EXCHANGES", "")
	t.Setenv("POLL_INTERVAL", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" || cfg.PollInterval != 200*time.Millisecond || cfg.DefaultMaxLeverage != 125 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.Exchanges) != 3 {
		t.Fatalf("exchanges=%v", cfg.Exchanges)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EXCHANGES", " mock , binance ,")
	t.Setenv("POLL_INTERVAL", "500")
	t.Setenv("FEE_CACHE_TTL", "1m")
	t.Setenv("BINANCE_API_KEY", "spot-key")
	t.Setenv("BINANCE_USDT_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Exchanges) != 2 || cfg.Exchanges[1] != "binance" {
		t.Fatalf("exchanges=%v", cfg.Exchanges)
	}
	if cfg.PollInterval != 500*time.Millisecond || cfg.FeeCacheTTL != time.Minute {
		t.Fatalf("durations poll=%v ttl=%v", cfg.PollInterval, cfg.FeeCacheTTL)
	}
	if cfg.BinanceUSDTKey != "spot-key" {
		t.Fatalf("usdt key fallback=%q", cfg.BinanceUSDTKey)
	}
}
