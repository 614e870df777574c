// Package types provides shared data model definitions for the trading engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType represents the time-in-force of an order request.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeGTD OrderType = "GTD"
)

// OrderStatus represents the lifecycle state of an order record.
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusOpen              OrderStatus = "open"
	OrderStatusFilled            OrderStatus = "filled"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusFilledOrCancelled OrderStatus = "filled_or_cancelled"
)

// IsLive reports whether an order in this status counts toward open-order limits.
func (s OrderStatus) IsLive() bool {
	return s == OrderStatusPending || s == OrderStatusOpen
}

// PriceLevel is a single price/size pair in an order book.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is a snapshot of one token's resting liquidity.
//
// Bids are ordered descending by price, asks ascending by price.
type OrderBook struct {
	TokenID   string       `json:"tokenId"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestBid returns the highest bid level, or false if there are no bids.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level, or false if there are no asks.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Spread returns best_ask - best_bid. Zero if either side is empty.
func (b OrderBook) Spread() decimal.Decimal {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero
	}
	return ask.Price.Sub(bid.Price)
}

// MidPrice returns (best_ask + best_bid) / 2. Zero if either side is empty.
func (b OrderBook) MidPrice() decimal.Decimal {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero
	}
	return ask.Price.Add(bid.Price).Div(decimal.NewFromInt(2))
}

// Position is the engine's view of net exposure in one outcome token.
//
// Size is signed: positive is a net long (BUY) exposure, negative a net
// short (SELL) exposure. A position with Size == 0 is retained for its
// historical RealizedPnL but excluded from the active set.
type Position struct {
	TokenID       string          `json:"tokenId"`
	MarketID      string          `json:"marketId"`
	Size          decimal.Decimal `json:"size"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	Side          Side            `json:"side"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// OrderRequest is the caller-supplied intent to place an order.
type OrderRequest struct {
	TokenID    string          `json:"tokenId"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Type       OrderType       `json:"type"`
	Expiration *time.Time      `json:"expiration,omitempty"`
}

// OrderRecord is a persisted order: the request plus exchange-assigned state.
type OrderRecord struct {
	OrderRequest
	OrderID      string          `json:"orderId"`
	Status       OrderStatus     `json:"status"`
	FilledSize   decimal.Decimal `json:"filledSize"`
	AvgFillPrice decimal.Decimal `json:"avgFillPrice"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// TradeSignal is the output of a strategy evaluation.
type TradeSignal struct {
	TokenID     string          `json:"tokenId"`
	Side        Side            `json:"side"`
	Confidence  decimal.Decimal `json:"confidence"`
	TargetPrice decimal.Decimal `json:"targetPrice"`
	Size        decimal.Decimal `json:"size"`
	Reason      string          `json:"reason"`
}

// MarketGroup is the set of mutually exclusive outcome tokens for one event.
type MarketGroup struct {
	ConditionID string   `json:"conditionId"`
	TokenIDs    []string `json:"tokenIds"`
}

// RiskLimits bounds the Risk Manager's pre-trade admission checks.
type RiskLimits struct {
	MaxPositionSize  decimal.Decimal `json:"maxPositionSize"`
	MaxTotalExposure decimal.Decimal `json:"maxTotalExposure"`
	MaxLossPerTrade  decimal.Decimal `json:"maxLossPerTrade"`
	MaxDailyLoss     decimal.Decimal `json:"maxDailyLoss"`
	MaxOpenOrders    int             `json:"maxOpenOrders"`
}

// Trade is an executed fill recorded for PnL aggregation.
type Trade struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"orderId"`
	TokenID    string          `json:"tokenId"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// Notional returns price * size for this trade.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// Exposure is a snapshot of risk exposure, per-token and aggregate.
type Exposure struct {
	PerToken map[string]decimal.Decimal `json:"perToken"`
	Total    decimal.Decimal            `json:"total"`
}
