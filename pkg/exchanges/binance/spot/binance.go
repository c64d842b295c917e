package spot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"risk-desk/pkg/exchanges/binance"
	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/logger"
	"risk-desk/pkg/trace"
)

// Spot default fee schedule (VIP0) used when the account fee cannot be read.
const (
	defaultMaker = 0.001
	defaultTaker = 0.001
)

// Config holds Binance credentials. Keys are optional and only enable the
// signed read-only lookups (fee rate, balance).
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
	BaseURL    string
}

// Client is a Binance spot market-data adapter.
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

// New builds a spot client; Testnet switches base URLs.
func New(cfg Config, log *zap.Logger) *Client {
	log = logger.OrNop(log).With(zap.String("exchange", "binance"))
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
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
	c.rateLimiter = common.NewRateLimiter(6000, time.Minute, log)
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

// FetchOHLCV fetches klines. params may carry "endTime" (ms).
func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMillis int64, limit int, params map[string]string) ([]common.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "binance.spot.klines",
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
	body, err := c.do(ctx, "/api/v3/klines", q, binance.KlineWeight(limit))
	if err != nil {
		trace.End(span, err)
		return nil, err
	}
	candles, err := binance.DecodeKlines(body)
	trace.End(span, err)
	return candles, err
}

// FetchTradingFee reads the account fee rate; it needs API keys.
func (c *Client) FetchTradingFee(ctx context.Context, symbol string) (common.TradingFees, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.TradingFees{}, fmt.Errorf("binance spot trade fee: %w", common.ErrNotSupported)
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	body, err := c.doSigned(ctx, "/sapi/v1/asset/tradeFee", q)
	if err != nil {
		return common.TradingFees{}, err
	}
	var resp []struct {
		Symbol          string `json:"symbol"`
		MakerCommission string `json:"makerCommission"`
		TakerCommission string `json:"takerCommission"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.TradingFees{}, fmt.Errorf("decode trade fee: %w", err)
	}
	for _, r := range resp {
		if r.Symbol == symbol {
			return common.TradingFees{
				Maker: binance.ToFloat(r.MakerCommission),
				Taker: binance.ToFloat(r.TakerCommission),
			}, nil
		}
	}
	return common.TradingFees{}, fmt.Errorf("trade fee for %s not found", symbol)
}

// FetchLeverageTiers is not available on spot.
func (c *Client) FetchLeverageTiers(ctx context.Context, symbol string) ([]common.LeverageTier, error) {
	return nil, fmt.Errorf("binance spot leverage tiers: %w", common.ErrNotSupported)
}

// FetchMarket returns precision filters and the default fee schedule.
func (c *Client) FetchMarket(ctx context.Context, symbol string) (common.Market, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	body, err := c.do(ctx, "/api/v3/exchangeInfo", q, 20)
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

// GetBalance sums the USDT wallet.
func (c *Client) GetBalance(ctx context.Context) (common.Balance, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.Balance{}, errors.New("binance: API key/secret required")
	}
	body, err := c.doSigned(ctx, "/api/v3/account", url.Values{})
	if err != nil {
		return common.Balance{}, err
	}
	var info struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return common.Balance{}, fmt.Errorf("decode account: %w", err)
	}
	var out common.Balance
	for _, b := range info.Balances {
		if b.Asset != "USDT" {
			continue
		}
		free, lock := binance.ToFloat(b.Free), binance.ToFloat(b.Locked)
		out.Total += free + lock
		out.Available += free
		out.Locked += lock
	}
	return out, nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "/api/v3/ping", nil, 1)
	return err
}

// ServerTime fetches Binance server time (milliseconds).
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.do(ctx, "/api/v3/time", nil, 1)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	return resp.ServerTime, nil
}

func (c *Client) doSigned(ctx context.Context, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(c.Now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", binance.Sign(params.Encode(), c.cfg.APISecret))
	return c.request(ctx, path, params, 10, c.cfg.APIKey)
}

func (c *Client) do(ctx context.Context, path string, params url.Values, weight int) ([]byte, error) {
	return c.request(ctx, path, params, weight, "")
}

func (c *Client) request(ctx context.Context, path string, params url.Values, weight int, apiKey string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx, weight); err != nil {
		return nil, err
	}
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", apiKey)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance spot %s status %d: %s", path, res.StatusCode, string(body))
	}
	return body, nil
}
