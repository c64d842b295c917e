package futures_usdt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"risk-desk/pkg/exchanges/common"
)

func TestDecodeBracketsSortsAscending(t *testing.T) {
	body := []byte(`[{"symbol":"ETHUSDT","brackets":[
		{"bracket":2,"initialLeverage":50,"notionalCap":250000,"notionalFloor":50000,"maintMarginRatio":0.01},
		{"bracket":1,"initialLeverage":125,"notionalCap":50000,"notionalFloor":0,"maintMarginRatio":0.004}
	]}]`)
	tiers, err := decodeBrackets(body, "ETHUSDT")
	if err != nil {
		t.Fatalf("decodeBrackets: %v", err)
	}
	if len(tiers) != 2 {
		t.Fatalf("len=%d, want 2", len(tiers))
	}
	if tiers[0].NotionalCeiling != 50000 || tiers[0].MaxLeverage != 125 || tiers[0].MaintenanceMarginRate != 0.004 {
		t.Fatalf("unexpected first tier %+v", tiers[0])
	}
	if tiers[1].MaxLeverage != 50 {
		t.Fatalf("unexpected second tier %+v", tiers[1])
	}
}

func TestDecodeBracketsSingleObject(t *testing.T) {
	body := []byte(`{"symbol":"BTCUSDT","brackets":[{"bracket":1,"initialLeverage":20,"notionalCap":1000,"maintMarginRatio":0.01}]}`)
	tiers, err := decodeBrackets(body, "BTCUSDT")
	if err != nil || len(tiers) != 1 || tiers[0].MaxLeverage != 20 {
		t.Fatalf("tiers=%+v err=%v", tiers, err)
	}
}

func TestSignedLookupsRequireKeys(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0"}, nil)
	if _, err := c.FetchLeverageTiers(context.Background(), "BTCUSDT"); !errors.Is(err, common.ErrNotSupported) {
		t.Fatalf("err=%v, want ErrNotSupported", err)
	}
	if _, err := c.FetchTradingFee(context.Background(), "BTCUSDT"); !errors.Is(err, common.ErrNotSupported) {
		t.Fatalf("err=%v, want ErrNotSupported", err)
	}
}

func TestFetchTradingFeeSigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") != "key" || r.URL.Query().Get("signature") == "" {
			http.Error(w, "unsigned", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","makerCommissionRate":"0.0002","takerCommissionRate":"0.0004"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL}, nil)
	fees, err := c.FetchTradingFee(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchTradingFee: %v", err)
	}
	if fees.Maker != 0.0002 || fees.Taker != 0.0004 {
		t.Fatalf("fees=%+v", fees)
	}
}
