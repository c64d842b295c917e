package events

import "risk-desk/pkg/exchanges/common"

// Event enumerates topics published by the series reconciler.
type Event string

const (
	EventSeriesReady   Event = "series.ready"
	EventSeriesUpdated Event = "series.updated"
	EventSeriesReset   Event = "series.reset"
	EventFetchFailed   Event = "fetch.failed"
)

// SeriesEvent is the payload of every series topic. Candles carries the
// changed tail for updates and the full series for ready.
type SeriesEvent struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Kind      Event           `json:"kind"`
	Length    int             `json:"length"`
	Candles   []common.Candle `json:"candles,omitempty"`
}

// FetchFailure is published when a page or poll fetch fails.
type FetchFailure struct {
	Exchange  string `json:"exchange"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Kind      string `json:"kind"` // history or poll
	Err       string `json:"error"`
}
