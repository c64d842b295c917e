// Package timeframe maps canonical chart timeframes to exchange wire tokens
// and bounds how much history a single page request may span.
package timeframe

import "time"

// PageLimit is the maximum number of candles requested per page.
const PageLimit = 250

// Spec is a resolved timeframe for one exchange.
type Spec struct {
	Token    string        // canonical token: 1,5,15,30,60,240,D,W,M
	Wire     string        // exchange interval token
	Duration time.Duration // zero for unknown tokens
	// CappedRange is min(Duration*PageLimit, exchange history cap).
	CappedRange time.Duration
}

// Millis returns the bar duration in milliseconds.
func (s Spec) Millis() int64 { return s.Duration.Milliseconds() }

// Seconds returns the bar duration in seconds.
func (s Spec) Seconds() int64 { return int64(s.Duration / time.Second) }

// Known reports whether the token resolved to a non-zero duration.
func (s Spec) Known() bool { return s.Duration > 0 }

const day = 24 * time.Hour

var durations = map[string]time.Duration{
	"1":   time.Minute,
	"5":   5 * time.Minute,
	"15":  15 * time.Minute,
	"30":  30 * time.Minute,
	"60":  time.Hour,
	"240": 4 * time.Hour,
	"D":   day,
	"W":   7 * day,
	"M":   30 * day,
}

var binanceWire = map[string]string{
	"1": "1m", "5": "5m", "15": "15m", "30": "30m",
	"60": "1h", "240": "4h", "D": "1d", "W": "1w", "M": "1M",
}

var wireTables = map[string]map[string]string{
	"binance":     binanceWire,
	"binanceusdm": binanceWire,
	"mock":        binanceWire,
	"okx": {
		"1": "1m", "5": "5m", "15": "15m", "30": "30m",
		"60": "1H", "240": "4H", "D": "1D", "W": "1W", "M": "1M",
	},
}

// exchangeCaps bounds the history range a single request may cover.
// Exchanges not listed are uncapped.
var exchangeCaps = map[string]time.Duration{
	"binanceusdm": 200 * day,
	"okx":         90 * day,
}

// Resolve maps token for exchange. Unknown tokens pass through unchanged
// as the wire token with a zero duration and range.
func Resolve(token, exchange string) Spec {
	d, ok := durations[token]
	if !ok {
		return Spec{Token: token, Wire: token}
	}
	wire := token
	if table, ok := wireTables[exchange]; ok {
		wire = table[token]
	}
	rng := d * PageLimit
	if limit, ok := exchangeCaps[exchange]; ok && limit < rng {
		rng = limit
	}
	return Spec{Token: token, Wire: wire, Duration: d, CappedRange: rng}
}

// Cap returns the per-exchange history cap, or 0 when uncapped.
func Cap(exchange string) time.Duration {
	return exchangeCaps[exchange]
}

// Tokens lists the canonical tokens in ascending duration.
func Tokens() []string {
	return []string{"1", "5", "15", "30", "60", "240", "D", "W", "M"}
}
