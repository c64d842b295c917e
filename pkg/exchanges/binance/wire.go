// Package binance holds the wire helpers shared by the Binance spot and
// USDT-M futures adapters.
package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"risk-desk/pkg/exchanges/common"
)

// Sign returns the HMAC-SHA256 signature Binance expects for signed endpoints.
func Sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// FormatFloat renders v without exponent or trailing zeros.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DecodeKlines parses the array-of-arrays kline payload into candles.
// Binance returns 12 fields per kline; open time is in milliseconds.
func DecodeKlines(body []byte) ([]common.Candle, error) {
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	out := make([]common.Candle, 0, len(raw))
	for _, item := range raw {
		if len(item) < 6 {
			continue
		}
		c := common.Candle{
			Time:   ToInt64(item[0]) / 1000,
			Open:   ToFloat(item[1]),
			High:   ToFloat(item[2]),
			Low:    ToFloat(item[3]),
			Close:  ToFloat(item[4]),
			Volume: ToFloat(item[5]),
		}
		if !finite(c.Open, c.High, c.Low, c.Close, c.Volume) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// KlineWeight is the request weight Binance charges for a kline query of limit rows.
func KlineWeight(limit int) int {
	switch {
	case limit <= 100:
		return 1
	case limit <= 500:
		return 2
	case limit <= 1000:
		return 5
	default:
		return 10
	}
}

// ToFloat converts the loosely typed JSON numbers Binance returns.
func ToFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case float64:
		return t
	default:
		return 0
	}
}

// ToInt64 converts the loosely typed JSON integers Binance returns.
func ToInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case string:
		i, _ := strconv.ParseInt(t, 10, 64)
		return i
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}

// SymbolFilters is the subset of exchangeInfo filters the core needs.
type SymbolFilters struct {
	Symbol  string `json:"symbol"`
	Filters []struct {
		FilterType string `json:"filterType"`
		StepSize   string `json:"stepSize"`
		TickSize   string `json:"tickSize"`
	} `json:"filters"`
}

// Steps extracts the LOT_SIZE step and PRICE_FILTER tick.
func (s SymbolFilters) Steps() (amountStep, priceTick float64) {
	for _, f := range s.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			amountStep = ToFloat(f.StepSize)
		case "PRICE_FILTER":
			priceTick = ToFloat(f.TickSize)
		}
	}
	return amountStep, priceTick
}
