// Package clob provides an HTTP exchange.Client implementation against
// the Polymarket Central Limit Order Book REST API.
package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/arb-engine/internal/exchange"
	"github.com/atlas-desktop/arb-engine/pkg/types"
)

const (
	// DefaultBaseURL is the CLOB API base URL.
	DefaultBaseURL = "https://clob.polymarket.com"

	defaultRateLimit = 10.0
	defaultBurst     = 5
)

// Credentials holds the CLOB L2 API credentials. POST requests carry
// APIKey and Passphrase as headers; Secret is not used, and no request is
// signed.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Client is an HTTP exchange.Client backed by the CLOB REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	creds      Credentials
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the default CLOB base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCredentials sets the L2 API credentials sent as headers on POST
// requests.
func WithCredentials(creds Credentials) Option {
	return func(c *Client) { c.creds = creds }
}

// New constructs a CLOB client.
func New(logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		logger:  logger.Named("clob-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// orderBookResponse mirrors the CLOB /book response shape.
type orderBookResponse struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Bids      []priceLevel `json:"bids"`
	Asks      []priceLevel `json:"asks"`
	Timestamp string       `json:"timestamp"`
}

type priceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (types.OrderBook, error) {
	var resp orderBookResponse
	if err := c.get(ctx, "/book", map[string]string{"token_id": tokenID}, &resp); err != nil {
		return types.OrderBook{}, fmt.Errorf("clob: get order book: %w", err)
	}

	book := types.OrderBook{
		TokenID:   tokenID,
		Timestamp: time.Now(),
		Bids:      make([]types.PriceLevel, 0, len(resp.Bids)),
		Asks:      make([]types.PriceLevel, 0, len(resp.Asks)),
	}
	for _, lvl := range resp.Bids {
		book.Bids = append(book.Bids, toPriceLevel(lvl))
	}
	for _, lvl := range resp.Asks {
		book.Asks = append(book.Asks, toPriceLevel(lvl))
	}
	if ts, err := strconv.ParseInt(resp.Timestamp, 10, 64); err == nil && ts > 0 {
		book.Timestamp = time.UnixMilli(ts)
	}
	return book, nil
}

func toPriceLevel(lvl priceLevel) types.PriceLevel {
	price, _ := decimal.NewFromString(lvl.Price)
	size, _ := decimal.NewFromString(lvl.Size)
	return types.PriceLevel{Price: price, Size: size}
}

// postOrderRequest mirrors the CLOB order submission payload. PlaceOrder
// sends it as plain JSON: no EIP-712 order signature is computed here or
// anywhere else in this repository.
type postOrderRequest struct {
	TokenID    string `json:"token_id"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	OrderType  string `json:"order_type"`
	Expiration string `json:"expiration,omitempty"`
}

type postOrderResponse struct {
	OrderID      string `json:"orderID"`
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg,omitempty"`
	FilledSize   string `json:"filled_size,omitempty"`
	AvgFillPrice string `json:"avg_fill_price,omitempty"`
}

func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (exchange.PlaceResult, error) {
	body := postOrderRequest{
		TokenID:   req.TokenID,
		Side:      string(req.Side),
		Price:     req.Price.String(),
		Size:      req.Size.String(),
		OrderType: string(req.Type),
	}
	if req.Expiration != nil {
		body.Expiration = strconv.FormatInt(req.Expiration.Unix(), 10)
	}

	var resp postOrderResponse
	if err := c.post(ctx, "/order", body, &resp); err != nil {
		return exchange.PlaceResult{}, fmt.Errorf("clob: place order: %w", err)
	}
	if !resp.Success {
		return exchange.PlaceResult{Success: false, Error: resp.ErrorMsg}, nil
	}

	filled, _ := decimal.NewFromString(resp.FilledSize)
	avgPrice, _ := decimal.NewFromString(resp.AvgFillPrice)
	return exchange.PlaceResult{
		Success:      true,
		OrderID:      resp.OrderID,
		FilledSize:   filled,
		AvgFillPrice: avgPrice,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	var resp struct {
		Canceled []string `json:"canceled"`
	}
	if err := c.post(ctx, "/order/cancel", map[string]string{"orderID": orderID}, &resp); err != nil {
		return false, fmt.Errorf("clob: cancel order: %w", err)
	}
	for _, id := range resp.Canceled {
		if id == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) CancelAllOrders(ctx context.Context) (bool, error) {
	var resp struct {
		Canceled []string `json:"canceled"`
	}
	if err := c.post(ctx, "/cancel-all", nil, &resp); err != nil {
		return false, fmt.Errorf("clob: cancel all orders: %w", err)
	}
	return true, nil
}

func (c *Client) GetOpenOrders(ctx context.Context, market string) ([]exchange.RemoteOrder, error) {
	params := map[string]string{}
	if market != "" {
		params["market"] = market
	}
	var resp []struct {
		ID      string `json:"id"`
		AssetID string `json:"asset_id"`
		Side    string `json:"side"`
		Price   string `json:"price"`
		Size    string `json:"size"`
	}
	if err := c.get(ctx, "/orders", params, &resp); err != nil {
		return nil, fmt.Errorf("clob: get open orders: %w", err)
	}

	out := make([]exchange.RemoteOrder, 0, len(resp))
	for _, o := range resp {
		price, _ := decimal.NewFromString(o.Price)
		size, _ := decimal.NewFromString(o.Size)
		out = append(out, exchange.RemoteOrder{
			OrderID: o.ID,
			TokenID: o.AssetID,
			Side:    types.Side(o.Side),
			Price:   price,
			Size:    size,
		})
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context) (exchange.Balance, error) {
	var resp struct {
		Balance   string `json:"balance"`
		Allowance string `json:"allowance"`
	}
	if err := c.get(ctx, "/balance-allowance", nil, &resp); err != nil {
		return exchange.Balance{}, fmt.Errorf("clob: get balance: %w", err)
	}
	available, _ := decimal.NewFromString(resp.Balance)
	locked, _ := decimal.NewFromString(resp.Allowance)
	return exchange.Balance{Available: available, Locked: locked}, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.creds.APIKey != "" {
		req.Header.Set("POLY_API_KEY", c.creds.APIKey)
		req.Header.Set("POLY_PASSPHRASE", c.creds.Passphrase)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

var _ exchange.Client = (*Client)(nil)
