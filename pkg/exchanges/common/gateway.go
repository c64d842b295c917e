package common

import "context"

// MarketData is the slice of an exchange adapter consumed by the candle and risk core.
type MarketData interface {
	// FetchOHLCV returns ascending candles. sinceMillis == 0 asks for the most recent limit bars.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMillis int64, limit int, params map[string]string) ([]Candle, error)
	FetchTradingFee(ctx context.Context, symbol string) (TradingFees, error)
	FetchLeverageTiers(ctx context.Context, symbol string) ([]LeverageTier, error)
	FetchMarket(ctx context.Context, symbol string) (Market, error)
	// Now is the exchange clock in milliseconds.
	Now() int64
}

// BalanceSource is implemented by adapters that can read the account balance.
type BalanceSource interface {
	GetBalance(ctx context.Context) (Balance, error)
}
