package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/arb-engine/pkg/types"
)

func bookAt(tokenID string, bid, ask float64) types.OrderBook {
	return types.OrderBook{
		TokenID: tokenID,
		Bids:    []types.PriceLevel{{Price: decimal.NewFromFloat(bid), Size: decimal.NewFromInt(100)}},
		Asks:    []types.PriceLevel{{Price: decimal.NewFromFloat(ask), Size: decimal.NewFromInt(100)}},
	}
}

func TestMomentumSignalsAfterWindowFillsAndReturnExceedsThreshold(t *testing.T) {
	s := NewMomentum(nil, 3, decimal.NewFromFloat(0.05), decimal.NewFromInt(10))

	mids := []float64{0.40, 0.40, 0.40}
	var signals []types.TradeSignal
	for _, m := range mids {
		signals = s.Evaluate("tok1", bookAt("tok1", m-0.01, m+0.01))
	}
	if len(signals) != 0 {
		t.Fatalf("expected no signal on flat prices, got %v", signals)
	}

	signals = s.Evaluate("tok1", bookAt("tok1", 0.49, 0.51))
	if len(signals) != 1 {
		t.Fatalf("expected one signal after a rising trailing window, got %d", len(signals))
	}
	if signals[0].Side != types.SideBuy {
		t.Fatalf("expected a buy signal on positive momentum, got %s", signals[0].Side)
	}
}

func TestMomentumDisabledReturnsNoSignal(t *testing.T) {
	s := NewMomentum(nil, 2, decimal.NewFromFloat(0.01), decimal.NewFromInt(10))
	s.SetEnabled(false)

	s.Evaluate("tok1", bookAt("tok1", 0.39, 0.41))
	signals := s.Evaluate("tok1", bookAt("tok1", 0.59, 0.61))
	if len(signals) != 0 {
		t.Fatalf("expected disabled strategy to emit nothing, got %v", signals)
	}
}

func TestMeanReversionSignalsAgainstExtreme(t *testing.T) {
	s := NewMeanReversion(nil, 4, decimal.NewFromFloat(1.0), decimal.NewFromInt(10))

	for _, m := range []float64{0.50, 0.50, 0.50, 0.50} {
		s.Evaluate("tok1", bookAt("tok1", m-0.01, m+0.01))
	}

	signals := s.Evaluate("tok1", bookAt("tok1", 0.89, 0.91))
	if len(signals) != 1 {
		t.Fatalf("expected a reversion signal on an extreme move, got %d", len(signals))
	}
	if signals[0].Side != types.SideSell {
		t.Fatalf("expected a sell signal reverting a price spike, got %s", signals[0].Side)
	}
}

type fakePositionReader struct {
	pos types.Position
	ok  bool
}

func (f fakePositionReader) GetPosition(string) (types.Position, bool, error) { return f.pos, f.ok, nil }

func TestMarketMakerSkewsAwayFromLongInventory(t *testing.T) {
	reader := fakePositionReader{pos: types.Position{Size: decimal.NewFromInt(100)}, ok: true}
	s := NewMarketMaker(nil, decimal.NewFromFloat(0.01), decimal.NewFromInt(10), decimal.NewFromInt(5), reader)

	signals := s.Evaluate("tok1", bookAt("tok1", 0.49, 0.51))
	if len(signals) != 1 {
		t.Fatalf("expected one quote signal, got %d", len(signals))
	}
	if signals[0].Side != types.SideSell {
		t.Fatalf("expected the market-maker to sell down a long inventory, got %s", signals[0].Side)
	}
}

func TestBaseRecordPnLTracksWinLossAndDrawdown(t *testing.T) {
	b := NewBase(nil, "test")

	b.RecordPnL(decimal.NewFromInt(10))
	b.RecordPnL(decimal.NewFromInt(-4))

	m := b.Metrics()
	if m.WinningTrades != 1 || m.LosingTrades != 1 {
		t.Fatalf("expected 1 win and 1 loss, got %+v", m)
	}
	if !m.TotalPnL.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected total pnl 6, got %s", m.TotalPnL)
	}
	if !m.MaxDrawdown.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected max drawdown 4 (peak 10 -> 6), got %s", m.MaxDrawdown)
	}
}

func TestBaseOnOrderFilledIncrementsTotalTrades(t *testing.T) {
	b := NewBase(nil, "test")
	b.OnOrderFilled(types.OrderRecord{})
	b.OnOrderFilled(types.OrderRecord{})

	if b.Metrics().TotalTrades != 2 {
		t.Fatalf("expected total_trades 2, got %d", b.Metrics().TotalTrades)
	}
}
