package series

import "risk-desk/pkg/exchanges/common"

// GapFill returns candles with one entry per aligned timeframe slot.
// Missing slots repeat the previous close with zero volume. Input must be
// ascending and duplicate-free; it is not modified. A non-positive
// tfSeconds returns a copy.
func GapFill(candles []common.Candle, tfSeconds int64) []common.Candle {
	if len(candles) == 0 {
		return []common.Candle{}
	}
	if tfSeconds <= 0 {
		return append([]common.Candle(nil), candles...)
	}
	out := make([]common.Candle, 0, len(candles))
	out = append(out, candles[0])
	for i := 1; i < len(candles); i++ {
		a, b := candles[i-1], candles[i]
		missing := (b.Time-a.Time)/tfSeconds - 1
		for k := int64(1); k <= missing; k++ {
			out = append(out, common.Candle{
				Time:  a.Time + k*tfSeconds,
				Open:  a.Close,
				High:  a.Close,
				Low:   a.Close,
				Close: a.Close,
			})
		}
		out = append(out, b)
	}
	return out
}
