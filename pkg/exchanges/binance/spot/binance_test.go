package spot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"risk-desk/pkg/exchanges/common"
)

func newTestClient(t *testing.T, h http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	return New(cfg, nil)
}

func TestFetchOHLCVPassesWindow(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "12")
		_, _ = w.Write([]byte(`[[1700000000000,"1","2","0.5","1.5","10",0,"0",1,"0","0","0"]]`))
	}, Config{})

	candles, err := c.FetchOHLCV(context.Background(), "BTCUSDT", "1m", 1699990000000, 250, map[string]string{"endTime": "1700000000000"})
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(candles) != 1 || candles[0].Time != 1700000000 {
		t.Fatalf("unexpected candles %+v", candles)
	}
	want := "endTime=1700000000000&interval=1m&limit=250&startTime=1699990000000&symbol=BTCUSDT"
	if gotQuery != want {
		t.Fatalf("query=%q, want %q", gotQuery, want)
	}
	if used, _, _ := c.rateLimiter.GetUsage(); used != 12 {
		t.Fatalf("used weight=%d, want 12", used)
	}
}

func TestFetchOHLCVSurfacesHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}, Config{})
	if _, err := c.FetchOHLCV(context.Background(), "NOPE", "1m", 0, 10, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestFeeAndTiersWithoutKeys(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request %s", r.URL.Path)
	}, Config{})
	if _, err := c.FetchTradingFee(context.Background(), "BTCUSDT"); !errors.Is(err, common.ErrNotSupported) {
		t.Fatalf("fee err=%v, want ErrNotSupported", err)
	}
	if _, err := c.FetchLeverageTiers(context.Background(), "BTCUSDT"); !errors.Is(err, common.ErrNotSupported) {
		t.Fatalf("tiers err=%v, want ErrNotSupported", err)
	}
}

func TestFetchMarket(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
			{"filterType":"PRICE_FILTER","tickSize":"0.01"},
			{"filterType":"LOT_SIZE","stepSize":"0.00001"}]}]}`))
	}, Config{})
	m, err := c.FetchMarket(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchMarket: %v", err)
	}
	if m.AmountStep != 0.00001 || m.PriceTick != 0.01 || m.Taker != defaultTaker {
		t.Fatalf("unexpected market %+v", m)
	}
}
