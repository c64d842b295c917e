package common

import "errors"

// ErrNotSupported is returned by adapters for lookups the venue does not offer.
var ErrNotSupported = errors.New("not supported by exchange")

// DefaultMaxLeverage applies when a venue cannot report leverage tiers.
const DefaultMaxLeverage = 125

// Candle is one OHLCV bucket. Time is epoch seconds aligned to the timeframe.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// TradingFees holds fractional maker/taker rates (0.0004 = 4 bps).
type TradingFees struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

// LeverageTier is one notional bracket as published by the exchange.
type LeverageTier struct {
	NotionalCeiling       float64 `json:"notional_ceiling"`
	MaxLeverage           float64 `json:"max_leverage"`
	MaintenanceMarginRate float64 `json:"maintenance_margin_rate"`
}

// LeverageInfo bundles the tier table with the symbol-wide leverage cap.
type LeverageInfo struct {
	MaxLeverage float64        `json:"max_leverage"`
	Tiers       []LeverageTier `json:"tiers"`
}

// DefaultLeverageInfo is used when tiers are unavailable.
func DefaultLeverageInfo() LeverageInfo {
	return LeverageInfo{MaxLeverage: DefaultMaxLeverage, Tiers: []LeverageTier{}}
}

// Market is the static metadata an exchange publishes for a symbol.
type Market struct {
	Symbol     string  `json:"symbol"`
	Maker      float64 `json:"maker"`
	Taker      float64 `json:"taker"`
	AmountStep float64 `json:"amount_step"` // minimum quantity increment
	PriceTick  float64 `json:"price_tick"`  // minimum price increment
}

// Balance is the account balance in quote currency.
type Balance struct {
	Total     float64
	Available float64
	Locked    float64
}
