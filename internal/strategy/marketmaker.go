package strategy

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// PositionReader lets the market-maker strategy read its own current
// inventory per token without importing the order/store packages.
type PositionReader interface {
	GetPosition(tokenID string) (types.Position, bool, error)
}

// MarketMaker quotes around the mid price with a configurable
// half-spread, emitting one quote per call on the side that reduces
// inventory: sell while the position is long, buy while it is flat or
// short.
type MarketMaker struct {
	*Base

	halfSpread  decimal.Decimal
	skewBand    decimal.Decimal
	size        decimal.Decimal
	positions   PositionReader

	mu sync.Mutex
}

// NewMarketMaker constructs a market-maker strategy. halfSpread is the
// fraction of mid price the quote sits below mid (buy) or above mid
// (sell). skewBand is an inventory bound in size units; it does not change
// the chosen side, which depends only on the sign of the inventory.
func NewMarketMaker(logger *zap.Logger, halfSpread, skewBand, size decimal.Decimal, positions PositionReader) *MarketMaker {
	return &MarketMaker{
		Base:       NewBase(logger, "market_maker"),
		halfSpread: halfSpread,
		skewBand:   skewBand,
		size:       size,
		positions:  positions,
	}
}

func (s *MarketMaker) Evaluate(tokenID string, book types.OrderBook) []types.TradeSignal {
	if !s.Enabled() {
		return nil
	}
	mid := book.MidPrice()
	if mid.IsZero() {
		return nil
	}

	inventory := decimal.Zero
	if s.positions != nil {
		if pos, ok, err := s.positions.GetPosition(tokenID); err == nil && ok {
			inventory = pos.Size
		}
	}

	// Within the skew band: quote the side that would further reduce an
	// existing skew, defaulting to buy when flat.
	side := types.SideBuy
	if inventory.GreaterThan(s.skewBand) {
		side = types.SideSell
	} else if inventory.LessThan(s.skewBand.Neg()) {
		side = types.SideBuy
	} else if inventory.IsPositive() {
		side = types.SideSell
	}

	target := mid.Mul(decimal.NewFromInt(1).Sub(s.halfSpread))
	if side == types.SideSell {
		target = mid.Mul(decimal.NewFromInt(1).Add(s.halfSpread))
	}

	return []types.TradeSignal{{
		TokenID:     tokenID,
		Side:        side,
		Confidence:  decimal.NewFromFloat(0.51),
		TargetPrice: target,
		Size:        s.size,
		Reason:      "market_maker: quoting around mid with inventory skew",
	}}
}
