package series

import (
	"testing"

	"risk-desk/pkg/exchanges/common"
)

func TestGapFillSpacingAndOnlyAdds(t *testing.T) {
	in := []common.Candle{
		{Time: 0, Open: 1, High: 2, Low: 1, Close: 2, Volume: 5},
		{Time: 60, Open: 2, High: 3, Low: 2, Close: 3, Volume: 4},
		{Time: 240, Open: 3, High: 4, Low: 3, Close: 4, Volume: 3},
		{Time: 300, Open: 4, High: 4, Low: 4, Close: 4, Volume: 1},
	}
	orig := append([]common.Candle(nil), in...)

	out := GapFill(in, 60)
	if len(out) != 6 {
		t.Fatalf("len=%d, want 6", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Time-out[i-1].Time != 60 {
			t.Fatalf("spacing broken at %d: %d -> %d", i, out[i-1].Time, out[i].Time)
		}
	}
	for _, c := range orig {
		found := false
		for _, o := range out {
			if o == c {
				found = true
			}
		}
		if !found {
			t.Fatalf("original candle %+v missing or mutated", c)
		}
	}
	for i := range in {
		if in[i] != orig[i] {
			t.Fatal("input was modified")
		}
	}

	synth := out[2]
	if synth.Time != 120 || synth.Open != 3 || synth.High != 3 || synth.Low != 3 || synth.Close != 3 || synth.Volume != 0 {
		t.Fatalf("unexpected synthesized candle %+v", synth)
	}
}

func TestGapFillEdgeCases(t *testing.T) {
	if out := GapFill(nil, 60); len(out) != 0 {
		t.Fatalf("nil input gave %d candles", len(out))
	}
	one := []common.Candle{{Time: 60}}
	if out := GapFill(one, 60); len(out) != 1 {
		t.Fatalf("single candle gave %d", len(out))
	}
	gappy := []common.Candle{{Time: 0}, {Time: 600}}
	if out := GapFill(gappy, 0); len(out) != 2 {
		t.Fatalf("unknown timeframe must not fill, got %d", len(out))
	}
}
