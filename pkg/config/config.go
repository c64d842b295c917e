package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the risk desk.
type Config struct {
	Port     string
	GRPCPort string

	// Logging / tracing
	LogLevel       string
	LogFormat      string // json or console
	TracingEnabled bool

	// Exchanges enabled in the adapter registry.
	Exchanges []string

	// Binance spot (read-only lookups)
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	// Binance Futures (USDT); falls back to the spot keys when empty.
	BinanceUSDTKey    string
	BinanceUSDTSecret string

	// Series sync
	PollInterval time.Duration
	PageLimit    int

	// Market info
	FeeCacheTTL         time.Duration
	DefaultMaxLeverage  float64
	BalanceSyncInterval time.Duration

	// API
	APIRateLimit float64 // requests per second per client, 0 disables
	APIBurst     int

	// Risk defaults
	RiskProfilePath string

	MockSeed int64

	// Localization
	Language string // "en" or "zh"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	usdtKey := getEnv("BINANCE_USDT_KEY", os.Getenv("BINANCE_API_KEY"))
	usdtSecret := getEnv("BINANCE_USDT_SECRET", os.Getenv("BINANCE_API_SECRET"))

	return &Config{
		Port:                getEnv("PORT", "8080"),
		GRPCPort:            getEnv("GRPC_PORT", "9090"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
		TracingEnabled:      getEnv("TRACING_ENABLED", "false") == "true",
		Exchanges:           splitAndTrim(getEnv("EXCHANGES", "binance,binanceusdm,mock")),
		BinanceTestnet:      getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceAPIKey:       os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:    os.Getenv("BINANCE_API_SECRET"),
		BinanceUSDTKey:      usdtKey,
		BinanceUSDTSecret:   usdtSecret,
		PollInterval:        getEnvDuration("POLL_INTERVAL", 200*time.Millisecond),
		PageLimit:           getEnvInt("PAGE_LIMIT", 250),
		FeeCacheTTL:         getEnvDuration("FEE_CACHE_TTL", 10*time.Minute),
		DefaultMaxLeverage:  getEnvFloat("DEFAULT_MAX_LEVERAGE", 125),
		BalanceSyncInterval: getEnvDuration("BALANCE_SYNC_INTERVAL", 30*time.Second),
		APIRateLimit:        getEnvFloat("API_RATE_LIMIT", 20),
		APIBurst:            getEnvInt("API_BURST", 40),
		RiskProfilePath:     getEnv("RISK_PROFILE_PATH", ""),
		MockSeed:            int64(getEnvInt("MOCK_SEED", 1)),
		Language:            strings.ToLower(getEnv("LANGUAGE", "en")),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("250ms") or bare milliseconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
