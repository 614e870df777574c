// Package exchange defines the external exchange client contract the core
// trading pipeline depends on, plus the result and remote-state shapes it
// exchanges with concrete implementations (mock, CLOB).
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// PlaceResult is the outcome of a PlaceOrder call.
type PlaceResult struct {
	Success      bool
	OrderID      string
	FilledSize   decimal.Decimal
	AvgFillPrice decimal.Decimal
	Error        string
}

// RemoteOrder is the exchange's view of one open order, as returned by
// GetOpenOrders.
type RemoteOrder struct {
	OrderID string
	TokenID string
	Side    types.Side
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// Balance is the account's available collateral, as returned by GetBalance.
type Balance struct {
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// Client is the bidirectional interface the core trading pipeline requires
// of an exchange adapter: order-book reads, order placement/cancellation,
// open-order listing, and balances. Concrete implementations are the
// in-memory mock (dry-run and tests) and the CLOB HTTP client (live).
type Client interface {
	GetOrderBook(ctx context.Context, tokenID string) (types.OrderBook, error)
	PlaceOrder(ctx context.Context, req types.OrderRequest) (PlaceResult, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	CancelAllOrders(ctx context.Context) (bool, error)
	GetOpenOrders(ctx context.Context, market string) ([]RemoteOrder, error)
	GetBalance(ctx context.Context) (Balance, error)
}
