package engine

import (
	"time"

	"risk-desk/internal/extremum"
	"risk-desk/internal/gateway"
	"risk-desk/internal/marketinfo"
	"risk-desk/internal/monitor"
	"risk-desk/internal/risk"
	"risk-desk/internal/series"
	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/i18n"
)

// PlanRequest asks for a plan on a series. StopPrice overrides the
// extremum-derived stop; Balance overrides the synced wallet; Config
// overrides the named Profile, which overrides the default profile.
type PlanRequest struct {
	Key       series.Key         `json:"key"`
	Side      extremum.TradeSide `json:"side"`
	StopPrice *float64           `json:"stop_price,omitempty"`
	Balance   *float64           `json:"balance,omitempty"`
	Profile   string             `json:"profile,omitempty"`
	Config    *risk.RiskConfig   `json:"config,omitempty"`
	Lang      i18n.Language      `json:"-"`
	// Wait bounds the wait for READY; zero uses the engine default.
	Wait time.Duration `json:"-"`
}

// PlanResult carries the plan and the inputs it was derived from.
type PlanResult struct {
	Key      series.Key              `json:"key"`
	Stop     *extremum.StopReference `json:"stop_reference,omitempty"`
	Config   risk.RiskConfig         `json:"config"`
	FeeQuote marketinfo.FeeQuote     `json:"fee_quote"`
	Leverage common.LeverageInfo     `json:"leverage"`
	Market   *common.Market          `json:"market,omitempty"`
	Plan     risk.PositionPlan       `json:"plan"`
	Outcome  string                  `json:"outcome"`
}

// SeriesStatus summarises one watched series.
type SeriesStatus struct {
	Key       string    `json:"key"`
	Phase     string    `json:"phase"`
	Candles   int       `json:"candles"`
	Exhausted bool      `json:"exhausted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemStatus describes runtime state exposed to the UI.
type SystemStatus struct {
	Version    string                  `json:"version"`
	Exchanges  []string                `json:"exchanges"`
	Language   i18n.Language           `json:"language"`
	Series     []SeriesStatus          `json:"series"`
	Gateways   gateway.PoolStats       `json:"gateways"`
	Balances   int                     `json:"balance_sources"`
	Metrics    monitor.MetricsSnapshot `json:"metrics"`
	ServerTime time.Time               `json:"server_time"`
}
