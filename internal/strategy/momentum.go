package strategy

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// Momentum tracks a short rolling window of mid prices per token and
// signals in the direction of the trailing return once it clears a
// threshold, adapted from the teacher's bar-based MomentumStrategy to an
// order-book mid-price read per Evaluate call.
type Momentum struct {
	*Base

	window    int
	threshold decimal.Decimal
	size      decimal.Decimal

	mu      sync.Mutex
	history map[string][]decimal.Decimal
}

// NewMomentum constructs a momentum strategy over the given rolling
// window length (in Evaluate calls), return threshold, and order size.
func NewMomentum(logger *zap.Logger, window int, threshold, size decimal.Decimal) *Momentum {
	if window < 2 {
		window = 2
	}
	return &Momentum{
		Base:      NewBase(logger, "momentum"),
		window:    window,
		threshold: threshold,
		size:      size,
		history:   make(map[string][]decimal.Decimal),
	}
}

func (s *Momentum) Evaluate(tokenID string, book types.OrderBook) []types.TradeSignal {
	if !s.Enabled() {
		return nil
	}
	mid := book.MidPrice()
	if mid.IsZero() {
		return nil
	}

	s.mu.Lock()
	prices := append(s.history[tokenID], mid)
	if len(prices) > s.window {
		prices = prices[len(prices)-s.window:]
	}
	s.history[tokenID] = prices
	s.mu.Unlock()

	if len(prices) < s.window {
		return nil
	}

	first := prices[0]
	if first.IsZero() {
		return nil
	}
	trailingReturn := mid.Sub(first).Div(first)

	if trailingReturn.Abs().LessThanOrEqual(s.threshold) {
		return nil
	}

	side := types.SideBuy
	if trailingReturn.IsNegative() {
		side = types.SideSell
	}

	return []types.TradeSignal{{
		TokenID:     tokenID,
		Side:        side,
		Confidence:  ClampConfidence(trailingReturn.Abs().Mul(decimal.NewFromInt(2))).Truncate(4),
		TargetPrice: mid,
		Size:        s.size,
		Reason:      "momentum: trailing return exceeded threshold",
	}}
}
