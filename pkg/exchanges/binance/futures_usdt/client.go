package futures_usdt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"risk-desk/pkg/exchanges/binance"
	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/logger"
	"risk-desk/pkg/trace"
)

// USDT-M default fee schedule (VIP0).
const (
	defaultMaker = 0.0002
	defaultTaker = 0.0005
)

var errKeysRequired = errors.New("binance usdt futures: API key/secret required")

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
	BaseURL    string
}

// Client is a Binance USDT-M futures market-data adapter.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	log         *zap.Logger
}

var (
	_ common.MarketData    = (*Client)(nil)
	_ common.BalanceSource = (*Client)(nil)
)

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config, log *zap.Logger) *Client {
	log = logger.OrNop(log).With(zap.String("exchange", "binanceusdm"))
	base := "https://fapi.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
	c.timeSync = common.NewTimeSync(c.ServerTime, log)
	c.rateLimiter = common.NewRateLimiter(2400, time.Minute, log) // 2400 weight/min for futures
	return c
}

// Start keeps the local clock aligned with the exchange clock.
func (c *Client) Start(ctx context.Context) {
	c.timeSync.Start(ctx)
}

// Now returns the exchange-aligned clock in milliseconds.
func (c *Client) Now() int64 {
	return c.timeSync.Now()
}

// FetchOHLCV fetches futures klines. params may carry "endTime" (ms).
func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMillis int64, limit int, params map[string]string) ([]common.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "binance.usdm.klines",
		attribute.String("symbol", symbol), attribute.String("interval", timeframe))
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", timeframe)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if sinceMillis > 0 {
		q.Set("startTime", strconv.FormatInt(sinceMillis, 10))
	}
	if end := params["endTime"]; end != "" {
		q.Set("endTime", end)
	}
	body, err := c.doPublic(ctx, "/fapi/v1/klines", q, binance.KlineWeight(limit))
	if err != nil {
		trace.End(span, err)
		return nil, err
	}
	candles, err := binance.DecodeKlines(body)
	trace.End(span, err)
	return candles, err
}

// FetchTradingFee reads the account commission rate for symbol.
func (c *Client) FetchTradingFee(ctx context.Context, symbol string) (common.TradingFees, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.TradingFees{}, fmt.Errorf("commission rate: %w", common.ErrNotSupported)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/commissionRate", params)
	if err != nil {
		return common.TradingFees{}, err
	}
	var resp struct {
		Symbol              string `json:"symbol"`
		MakerCommissionRate string `json:"makerCommissionRate"`
		TakerCommissionRate string `json:"takerCommissionRate"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.TradingFees{}, fmt.Errorf("decode commission rate: %w", err)
	}
	return common.TradingFees{
		Maker: binance.ToFloat(resp.MakerCommissionRate),
		Taker: binance.ToFloat(resp.TakerCommissionRate),
	}, nil
}

// FetchLeverageTiers returns the notional brackets for symbol, ascending by ceiling.
func (c *Client) FetchLeverageTiers(ctx context.Context, symbol string) ([]common.LeverageTier, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, fmt.Errorf("leverage bracket: %w", common.ErrNotSupported)
	}
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/leverageBracket", params)
	if err != nil {
		return nil, err
	}
	return decodeBrackets(body, symbol)
}

// FetchMarket returns precision filters and the default fee schedule.
func (c *Client) FetchMarket(ctx context.Context, symbol string) (common.Market, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", nil, 1)
	if err != nil {
		return common.Market{}, err
	}
	var info struct {
		Symbols []binance.SymbolFilters `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return common.Market{}, fmt.Errorf("decode exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		step, tick := s.Steps()
		return common.Market{Symbol: symbol, Maker: defaultMaker, Taker: defaultTaker, AmountStep: step, PriceTick: tick}, nil
	}
	return common.Market{}, fmt.Errorf("symbol %s not listed", symbol)
}

// GetBalance returns the USDT futures wallet.
func (c *Client) GetBalance(ctx context.Context) (common.Balance, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.Balance{}, errKeysRequired
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return common.Balance{}, err
	}
	var bal []FuturesBalance
	if err := json.Unmarshal(body, &bal); err != nil {
		return common.Balance{}, fmt.Errorf("decode balance: %w", err)
	}
	for _, b := range bal {
		if b.Asset != "USDT" {
			continue
		}
		total := binance.ToFloat(b.Balance)
		avail := binance.ToFloat(b.AvailableBalance)
		return common.Balance{Total: total, Available: avail, Locked: total - avail}, nil
	}
	return common.Balance{}, nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doPublic(ctx, "/fapi/v1/ping", nil, 1)
	return err
}

// ServerTime fetches futures server time.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/time", nil, 1)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values, weight int) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return c.send(ctx, http.MethodGet, endpoint, weight, false)
}

// doSigned handles signing and sending requests.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(c.Now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", binance.Sign(params.Encode(), c.cfg.APISecret))
	return c.send(ctx, method, c.baseURL+path+"?"+params.Encode(), 5, true)
}

func (c *Client) send(ctx context.Context, method, endpoint string, weight int, signed bool) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx, weight); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance usdt futures %s status %d: %s", method, res.StatusCode, string(body))
	}
	return body, nil
}

// FuturesBalance is one row of /fapi/v2/balance.
type FuturesBalance struct {
	Asset              string `json:"asset"`
	Balance            string `json:"balance"`
	CrossWalletBalance string `json:"crossWalletBalance"`
	AvailableBalance   string `json:"availableBalance"`
}

type bracketResp struct {
	Symbol   string `json:"symbol"`
	Brackets []struct {
		Bracket          int     `json:"bracket"`
		InitialLeverage  float64 `json:"initialLeverage"`
		NotionalCap      float64 `json:"notionalCap"`
		NotionalFloor    float64 `json:"notionalFloor"`
		MaintMarginRatio float64 `json:"maintMarginRatio"`
	} `json:"brackets"`
}

func decodeBrackets(body []byte, symbol string) ([]common.LeverageTier, error) {
	var resp []bracketResp
	if err := json.Unmarshal(body, &resp); err != nil {
		// A single-symbol query may come back as a bare object.
		var one bracketResp
		if err2 := json.Unmarshal(body, &one); err2 != nil {
			return nil, fmt.Errorf("decode leverage bracket: %w", err)
		}
		resp = []bracketResp{one}
	}
	for _, r := range resp {
		if symbol != "" && r.Symbol != symbol {
			continue
		}
		tiers := make([]common.LeverageTier, 0, len(r.Brackets))
		for _, b := range r.Brackets {
			tiers = append(tiers, common.LeverageTier{
				NotionalCeiling:       b.NotionalCap,
				MaxLeverage:           b.InitialLeverage,
				MaintenanceMarginRate: b.MaintMarginRatio,
			})
		}
		sort.Slice(tiers, func(i, j int) bool { return tiers[i].NotionalCeiling < tiers[j].NotionalCeiling })
		return tiers, nil
	}
	return nil, fmt.Errorf("no leverage brackets for %s", symbol)
}
