// Package series maintains gap-filled candle series per
// (exchange, symbol, timeframe) and reconciles them with a polled
// realtime tail.
package series

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"risk-desk/pkg/exchanges/common"
)

var (
	ErrKeyNotSubscribed = errors.New("series key not subscribed")
	ErrNotReady         = errors.New("series not ready")
	ErrInvalidKey       = errors.New("invalid series key")
)

// Key identifies one maintained series.
type Key struct {
	Exchange  string `json:"exchange"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"` // canonical token
}

func (k Key) String() string {
	return k.Exchange + ":" + k.Symbol + ":" + k.Timeframe
}

// Validate rejects keys with empty parts.
func (k Key) Validate() error {
	if k.Exchange == "" || k.Symbol == "" || k.Timeframe == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k.String())
	}
	return nil
}

// ParseKey parses "exchange:symbol:timeframe".
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	k := Key{Exchange: parts[0], Symbol: strings.ToUpper(parts[1]), Timeframe: parts[2]}
	return k, k.Validate()
}

// Phase is the per-key lifecycle state.
type Phase int

const (
	Uninitialized Phase = iota
	Ready
)

func (p Phase) String() string {
	if p == Ready {
		return "READY"
	}
	return "UNINITIALIZED"
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Snapshot is an immutable view of a series. Readers must not modify
// Candles; the reconciler replaces whole snapshots.
type Snapshot struct {
	Key        Key             `json:"key"`
	Phase      Phase           `json:"phase"`
	Generation uint64          `json:"generation"`
	Candles    []common.Candle `json:"candles"`
	// Exhausted is set once a history page came back empty.
	Exhausted bool      `json:"exhausted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tail returns the newest candle.
func (s *Snapshot) Tail() (common.Candle, bool) {
	if s == nil || len(s.Candles) == 0 {
		return common.Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Len returns the candle count.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candles)
}
