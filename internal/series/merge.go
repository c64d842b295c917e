package series

import (
	"sort"

	"risk-desk/pkg/exchanges/common"
)

// MergeRealtime folds a polled tail r (ascending) into series and returns
// the new slice and whether anything changed. series is not modified.
//
// Every candle but the last replaces its slot on a time match or is
// appended when newer than the tail. The last candle replaces the tail on
// a time match; when it is newer and the candle before it in r closes the
// current tail, that slot is replaced and the last candle appended as a
// new bar. Older candles without a slot are ignored.
func MergeRealtime(series, r []common.Candle) ([]common.Candle, bool) {
	out := append(make([]common.Candle, 0, len(series)+len(r)), series...)
	if len(r) == 0 {
		return out, false
	}
	changed := false
	put := func(c common.Candle) {
		if i, ok := find(out, c.Time); ok {
			if out[i] != c {
				out[i] = c
				changed = true
			}
			return
		}
		if len(out) == 0 || c.Time > out[len(out)-1].Time {
			out = append(out, c)
			changed = true
		}
	}

	for _, c := range r[:len(r)-1] {
		put(c)
	}

	// The last candle either revises the open tail bar or, right after a bar
	// close, lands as a new bar behind the slot r[len-2] just revised.
	put(r[len(r)-1])
	return out, changed
}

// MergeHistorical prepends an older page to series, deduplicates the
// boundary by time (series wins), sorts ascending and gap-fills.
func MergeHistorical(series, page []common.Candle, tfSeconds int64) []common.Candle {
	combined := make([]common.Candle, 0, len(page)+len(series))
	combined = append(combined, page...)
	combined = append(combined, series...)
	sort.SliceStable(combined, func(i, j int) bool { return combined[i].Time < combined[j].Time })

	deduped := combined[:0]
	for i, c := range combined {
		if i+1 < len(combined) && combined[i+1].Time == c.Time {
			continue // keep the later entry of an equal-time run
		}
		deduped = append(deduped, c)
	}
	return GapFill(deduped, tfSeconds)
}

// find locates the slot for t by binary search.
func find(candles []common.Candle, t int64) (int, bool) {
	i := sort.Search(len(candles), func(i int) bool { return candles[i].Time >= t })
	return i, i < len(candles) && candles[i].Time == t
}
