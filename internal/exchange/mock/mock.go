// Package mock provides an in-memory exchange client for dry-run mode and
// tests, deterministic and free of network calls.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/arb-engine/internal/exchange"
	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// Client is a deterministic, in-memory exchange.Client. Order books are
// seeded explicitly with SetOrderBook; orders placed against it fill
// immediately at the requested price unless FillFraction is set below 1.
type Client struct {
	logger *zap.Logger

	mu         sync.RWMutex
	books      map[string]types.OrderBook
	openOrders map[string]exchange.RemoteOrder

	// FillFraction controls how much of each placed order's size is
	// reported filled (1 = fully filled, 0 = rests open). Defaults to 1.
	FillFraction decimal.Decimal

	balance exchange.Balance
}

// New constructs an empty mock client. FillFraction defaults to 1 (full
// fill on every place).
func New(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		logger:       logger.Named("mock-exchange"),
		books:        make(map[string]types.OrderBook),
		openOrders:   make(map[string]exchange.RemoteOrder),
		FillFraction: decimal.NewFromInt(1),
		balance:      exchange.Balance{Available: decimal.NewFromInt(10000)},
	}
}

// SetOrderBook seeds or replaces the book returned for tokenID.
func (c *Client) SetOrderBook(tokenID string, book types.OrderBook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[tokenID] = book
}

func (c *Client) GetOrderBook(_ context.Context, tokenID string) (types.OrderBook, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	book, ok := c.books[tokenID]
	if !ok {
		return types.OrderBook{}, fmt.Errorf("mock exchange: no book seeded for token %s", tokenID)
	}
	return book, nil
}

func (c *Client) PlaceOrder(_ context.Context, req types.OrderRequest) (exchange.PlaceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	orderID := uuid.NewString()
	filled := req.Size.Mul(c.FillFraction)

	if filled.LessThan(req.Size) {
		c.openOrders[orderID] = exchange.RemoteOrder{
			OrderID: orderID,
			TokenID: req.TokenID,
			Side:    req.Side,
			Price:   req.Price,
			Size:    req.Size.Sub(filled),
		}
	}

	return exchange.PlaceResult{
		Success:      true,
		OrderID:      orderID,
		FilledSize:   filled,
		AvgFillPrice: req.Price,
	}, nil
}

func (c *Client) CancelOrder(_ context.Context, orderID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.openOrders, orderID)
	return true, nil
}

func (c *Client) CancelAllOrders(_ context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openOrders = make(map[string]exchange.RemoteOrder)
	return true, nil
}

func (c *Client) GetOpenOrders(_ context.Context, market string) ([]exchange.RemoteOrder, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]exchange.RemoteOrder, 0, len(c.openOrders))
	for _, o := range c.openOrders {
		if market != "" && o.TokenID != market {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (c *Client) GetBalance(_ context.Context) (exchange.Balance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance, nil
}

var _ exchange.Client = (*Client)(nil)
