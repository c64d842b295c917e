// Package extremum locates the recent swing high or low used to anchor a
// protective stop.
package extremum

import (
	"fmt"

	"risk-desk/pkg/exchanges/common"
)

// Side selects which candle field is searched.
type Side string

const (
	High Side = "high"
	Low  Side = "low"
)

// TradeSide is the direction of the planned position.
type TradeSide string

const (
	Long  TradeSide = "long"
	Short TradeSide = "short"
)

// ParseTradeSide accepts long/short and buy/sell.
func ParseTradeSide(s string) (TradeSide, error) {
	switch s {
	case "long", "buy", "LONG", "BUY":
		return Long, nil
	case "short", "sell", "SHORT", "SELL":
		return Short, nil
	}
	return "", fmt.Errorf("unknown trade side %q", s)
}

// StopReference is the candle chosen as the stop anchor.
type StopReference struct {
	Price      float64 `json:"price"`
	AnchorTime int64   `json:"anchor_time"`
	Side       Side    `json:"side"`
	Index      int     `json:"index"`
}

const window = 3

// FindExtreme walks back from index through windows of three candles until
// the newest candle of the window is its extreme, then returns the most
// recent candle in the series carrying that value. Fewer than three
// candles at index returns the candle at index. ok is false for an empty
// series or an out-of-range index.
func FindExtreme(series []common.Candle, index int, side Side) (StopReference, bool) {
	if index < 0 || index >= len(series) {
		return StopReference{}, false
	}
	for index+1 >= window {
		offset := 0
		best := value(series[index], side)
		for k := 1; k < window; k++ {
			v := value(series[index-k], side)
			if better(v, best, side) {
				best, offset = v, k
			}
		}
		if offset == 0 {
			for j := len(series) - 1; j >= 0; j-- {
				if value(series[j], side) == best {
					return ref(series, j, side), true
				}
			}
			// NaN never compares equal.
			return ref(series, index, side), true
		}
		index -= offset
	}
	return ref(series, index, side), true
}

// StopFor applies FindExtreme at the tail: longs anchor on the low,
// shorts on the high.
func StopFor(series []common.Candle, trade TradeSide) (StopReference, bool) {
	side := Low
	if trade == Short {
		side = High
	}
	return FindExtreme(series, len(series)-1, side)
}

func value(c common.Candle, side Side) float64 {
	if side == High {
		return c.High
	}
	return c.Low
}

// better is strict so ties keep the newer candle.
func better(v, best float64, side Side) bool {
	if side == High {
		return v > best
	}
	return v < best
}

func ref(series []common.Candle, i int, side Side) StopReference {
	return StopReference{Price: value(series[i], side), AnchorTime: series[i].Time, Side: side, Index: i}
}
