package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"aster-funding-bot/internal/asterdex"
	"aster-funding-bot/internal/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const userAgent = "aster-funding-bot/0.1"

// Client talks to the exchange's Binance-style spot and futures REST
// hosts. Signed endpoints use HMAC-SHA256 over the urlencoded query
// with recvWindow and timestamp appended. All requests share one rate
// limiter so the two hosts cannot jointly exceed the account budget.
type Client struct {
	spotBaseURL    string
	futuresBaseURL string
	apiKey         string
	secret         []byte
	recvWindow     int64
	http           *http.Client
	limiter        *rate.Limiter
	log            *zap.Logger
	now            func() time.Time
}

func New(cfg config.RESTConfig, apiKey, apiSecret string, log *zap.Logger) *Client {
	return &Client{
		spotBaseURL:    strings.TrimRight(cfg.SpotBaseURL, "/"),
		futuresBaseURL: strings.TrimRight(cfg.FuturesBaseURL, "/"),
		apiKey:         apiKey,
		secret:         []byte(apiSecret),
		recvWindow:     cfg.RecvWindow,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.RequestBurst),
		log:     log,
		now:     time.Now,
	}
}

func (c *Client) SpotExchangeInfo(ctx context.Context) (asterdex.ExchangeInfo, error) {
	var info asterdex.ExchangeInfo
	err := c.do(ctx, c.spotBaseURL, "/api/v1/exchangeInfo", http.MethodGet, nil, false, &info)
	return info, err
}

func (c *Client) FuturesExchangeInfo(ctx context.Context) (asterdex.ExchangeInfo, error) {
	var info asterdex.ExchangeInfo
	err := c.do(ctx, c.futuresBaseURL, "/fapi/v1/exchangeInfo", http.MethodGet, nil, false, &info)
	return info, err
}

func (c *Client) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	var ticker asterdex.TickerPrice
	params := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, c.spotBaseURL, "/api/v1/ticker/price", http.MethodGet, params, false, &ticker); err != nil {
		return 0, err
	}
	return asterdex.Float(ticker.Price), nil
}

func (c *Client) FuturesPrice(ctx context.Context, symbol string) (float64, error) {
	var ticker asterdex.TickerPrice
	params := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, c.futuresBaseURL, "/fapi/v1/ticker/price", http.MethodGet, params, false, &ticker); err != nil {
		return 0, err
	}
	return asterdex.Float(ticker.Price), nil
}

func (c *Client) PremiumIndex(ctx context.Context, symbol string) (asterdex.PremiumIndex, error) {
	var idx asterdex.PremiumIndex
	params := url.Values{"symbol": {symbol}}
	err := c.do(ctx, c.futuresBaseURL, "/fapi/v1/premiumIndex", http.MethodGet, params, false, &idx)
	return idx, err
}

func (c *Client) PremiumIndexAll(ctx context.Context) ([]asterdex.PremiumIndex, error) {
	var idx []asterdex.PremiumIndex
	err := c.do(ctx, c.futuresBaseURL, "/fapi/v1/premiumIndex", http.MethodGet, nil, false, &idx)
	return idx, err
}

// SpotMarketBuy spends quoteQty of the quote currency at market.
func (c *Client) SpotMarketBuy(ctx context.Context, symbol string, quoteQty float64, clientOrderID string) (asterdex.Order, error) {
	params := url.Values{
		"symbol":           {symbol},
		"side":             {"BUY"},
		"type":             {"MARKET"},
		"quoteOrderQty":    {asterdex.FormatQty(quoteQty)},
		"newOrderRespType": {"FULL"},
	}
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}
	var order asterdex.Order
	err := c.do(ctx, c.spotBaseURL, "/api/v1/order", http.MethodPost, params, true, &order)
	return order, err
}

func (c *Client) SpotMarketSell(ctx context.Context, symbol string, qty float64, clientOrderID string) (asterdex.Order, error) {
	params := url.Values{
		"symbol":           {symbol},
		"side":             {"SELL"},
		"type":             {"MARKET"},
		"quantity":         {asterdex.FormatQty(qty)},
		"newOrderRespType": {"FULL"},
	}
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}
	var order asterdex.Order
	err := c.do(ctx, c.spotBaseURL, "/api/v1/order", http.MethodPost, params, true, &order)
	return order, err
}

func (c *Client) FuturesMarketOrder(ctx context.Context, symbol, side string, qty float64, clientOrderID string) (asterdex.Order, error) {
	params := url.Values{
		"symbol":           {symbol},
		"side":             {side},
		"type":             {"MARKET"},
		"quantity":         {asterdex.FormatQty(qty)},
		"newOrderRespType": {"RESULT"},
	}
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}
	var order asterdex.Order
	err := c.do(ctx, c.futuresBaseURL, "/fapi/v1/order", http.MethodPost, params, true, &order)
	return order, err
}

func (c *Client) SpotOrderStatus(ctx context.Context, symbol string, orderID int64) (asterdex.Order, error) {
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}
	var order asterdex.Order
	err := c.do(ctx, c.spotBaseURL, "/api/v1/order", http.MethodGet, params, true, &order)
	return order, err
}

func (c *Client) FuturesOrderStatus(ctx context.Context, symbol string, orderID int64) (asterdex.Order, error) {
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}
	var order asterdex.Order
	err := c.do(ctx, c.futuresBaseURL, "/fapi/v1/order", http.MethodGet, params, true, &order)
	return order, err
}

func (c *Client) SpotAccount(ctx context.Context) (asterdex.SpotAccount, error) {
	var account asterdex.SpotAccount
	err := c.do(ctx, c.spotBaseURL, "/api/v1/account", http.MethodGet, nil, true, &account)
	return account, err
}

func (c *Client) FuturesBalances(ctx context.Context) ([]asterdex.FuturesBalance, error) {
	var balances []asterdex.FuturesBalance
	err := c.do(ctx, c.futuresBaseURL, "/fapi/v2/balance", http.MethodGet, nil, true, &balances)
	return balances, err
}

func (c *Client) do(ctx context.Context, base, path, method string, params url.Values, signed bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		query = c.signQuery(params)
	}

	var req *http.Request
	var err error
	if method == http.MethodGet {
		reqURL := base + path
		if query != "" {
			reqURL += "?" + query
		}
		req, err = http.NewRequestWithContext(ctx, method, reqURL, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, base+path, strings.NewReader(query))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &asterdex.TransportError{Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &asterdex.TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiErrorFromBody(resp.StatusCode, body)
	}
	if len(body) > 0 && body[0] == '{' {
		var env struct {
			Code int64  `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &env) == nil && env.Code != 0 {
			return &asterdex.APIError{HTTPStatus: resp.StatusCode, Code: env.Code, Message: env.Msg}
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s%s response: %w", base, path, err)
	}
	return nil
}

// signQuery appends recvWindow, timestamp and the HMAC signature. The
// signature is concatenated onto the exact string that was signed so
// the server verifies the same byte sequence we hashed.
func (c *Client) signQuery(params url.Values) string {
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	query := params.Encode()
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(query))
	return query + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func apiErrorFromBody(status int, body []byte) error {
	apiErr := &asterdex.APIError{HTTPStatus: status, Message: strings.TrimSpace(string(body))}
	var env struct {
		Code int64  `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(body, &env) == nil && env.Msg != "" {
		apiErr.Code = env.Code
		apiErr.Message = env.Msg
	}
	return apiErr
}
