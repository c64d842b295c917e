package gateway

import (
	"fmt"

	"go.uber.org/zap"

	exfutusdt "risk-desk/pkg/exchanges/binance/futures_usdt"
	exspot "risk-desk/pkg/exchanges/binance/spot"
	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/exchanges/mock"
)

// Credentials are optional read-only API keys for signed lookups.
type Credentials struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// Factory builds the market-data adapter for an exchange id.
type Factory func(exchange string, creds Credentials) (common.MarketData, error)

// DefaultFactory supports binance (spot), binanceusdm (USDT-M futures) and mock.
func DefaultFactory(log *zap.Logger, mockSeed int64) Factory {
	return func(exchange string, creds Credentials) (common.MarketData, error) {
		switch exchange {
		case "binance":
			return exspot.New(exspot.Config{
				APIKey:    creds.APIKey,
				APISecret: creds.APISecret,
				Testnet:   creds.Testnet,
			}, log), nil

		case "binanceusdm":
			return exfutusdt.NewClient(exfutusdt.Config{
				APIKey:    creds.APIKey,
				APISecret: creds.APISecret,
				Testnet:   creds.Testnet,
			}, log), nil

		case "mock":
			return mock.New(mockSeed), nil

		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
		}
	}
}
