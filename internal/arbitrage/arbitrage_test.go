package arbitrage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/arb-engine/pkg/types"
)

type fakeBooks struct {
	books map[string]types.OrderBook
}

func (f fakeBooks) GetOrderBook(tokenID string) (types.OrderBook, bool) {
	b, ok := f.books[tokenID]
	return b, ok
}

func level(price, size float64) types.PriceLevel {
	return types.PriceLevel{Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(size)}
}

func testConfig() Config {
	return Config{
		FeeRate:             decimal.NewFromFloat(0.01),
		MinEdge:             decimal.NewFromFloat(0.01),
		DivergenceThreshold: decimal.NewFromFloat(0.02),
		BaseSize:            decimal.NewFromInt(100),
		MaxPositionSize:     decimal.NewFromInt(1000),
	}
}

func TestEvaluateSkipsWhenTokenHasNoGroup(t *testing.T) {
	s := New(nil, fakeBooks{}, nil, testConfig())

	signals := s.Evaluate("unknown", types.OrderBook{})
	if len(signals) != 0 {
		t.Fatalf("expected no signals for an ungrouped token")
	}
	if s.Counters().SkippedNoGroup != 1 {
		t.Fatalf("expected skipped_no_group to increment")
	}
}

func TestEvaluateSkipsOnMissingSiblingBook(t *testing.T) {
	s := New(nil, fakeBooks{books: map[string]types.OrderBook{}}, nil, testConfig())
	s.UpdateMarketGroups([]types.MarketGroup{{ConditionID: "c1", TokenIDs: []string{"a", "b"}}})

	signals := s.Evaluate("a", types.OrderBook{TokenID: "a", Timestamp: time.Now()})
	if len(signals) != 0 {
		t.Fatalf("expected no signals when a sibling book is missing")
	}
	if s.Counters().SkippedMissingBook != 1 {
		t.Fatalf("expected skipped_missing_book to increment")
	}
}

// TestSimpleArbEmitsBuyOnBothOutcomesWhenBasketUnderpriced covers
// SPEC_FULL.md §4.8 step 3's simple-arb check: best asks sum to 0.90 across a
// two-outcome binary group, fee_rate 1%, so cost ≈ 0.909 and edge ≈ 0.091,
// comfortably above a 1% min_edge.
func TestSimpleArbEmitsBuyOnBothOutcomesWhenBasketUnderpriced(t *testing.T) {
	bookA := types.OrderBook{TokenID: "a", Asks: []types.PriceLevel{level(0.45, 50)}, Bids: []types.PriceLevel{level(0.44, 50)}, Timestamp: time.Now()}
	bookB := types.OrderBook{TokenID: "b", Asks: []types.PriceLevel{level(0.45, 50)}, Bids: []types.PriceLevel{level(0.44, 50)}, Timestamp: time.Now()}

	s := New(nil, fakeBooks{books: map[string]types.OrderBook{"b": bookB}}, nil, testConfig())
	s.UpdateMarketGroups([]types.MarketGroup{{ConditionID: "c1", TokenIDs: []string{"a", "b"}}})

	signals := s.Evaluate("a", bookA)
	if len(signals) != 2 {
		t.Fatalf("expected a buy signal per outcome, got %d", len(signals))
	}
	for _, sig := range signals {
		if sig.Side != types.SideBuy {
			t.Fatalf("expected all simple-arb signals to be buys, got %s", sig.Side)
		}
	}
	if s.Counters().SimpleArbSignals != 2 {
		t.Fatalf("expected simple_arb_signals to increment by group size")
	}
}

func TestNoArbWhenBasketFairlyPriced(t *testing.T) {
	bookA := types.OrderBook{TokenID: "a", Asks: []types.PriceLevel{level(0.50, 50)}, Bids: []types.PriceLevel{level(0.49, 50)}, Timestamp: time.Now()}
	bookB := types.OrderBook{TokenID: "b", Asks: []types.PriceLevel{level(0.50, 50)}, Bids: []types.PriceLevel{level(0.49, 50)}, Timestamp: time.Now()}

	s := New(nil, fakeBooks{books: map[string]types.OrderBook{"b": bookB}}, nil, testConfig())
	s.UpdateMarketGroups([]types.MarketGroup{{ConditionID: "c1", TokenIDs: []string{"a", "b"}}})

	signals := s.Evaluate("a", bookA)
	if len(signals) != 0 {
		t.Fatalf("expected no arbitrage signal on a fairly-priced basket, got %d", len(signals))
	}
}

// TestThreeOutcomeGroupFairlyPricedFindsNoArb covers spec.md §8's 3-way
// basket scenario: a neg-risk group of three sub-markets whose implied
// probabilities already sum to (approximately) 1 and split evenly, so
// neither simple-arb nor Bregman-projection should fire.
func TestThreeOutcomeGroupFairlyPricedFindsNoArb(t *testing.T) {
	bookA := types.OrderBook{TokenID: "a", Asks: []types.PriceLevel{level(0.3333, 50)}, Bids: []types.PriceLevel{level(0.3331, 50)}, Timestamp: time.Now()}
	bookB := types.OrderBook{TokenID: "b", Asks: []types.PriceLevel{level(0.3333, 50)}, Bids: []types.PriceLevel{level(0.3331, 50)}, Timestamp: time.Now()}
	bookC := types.OrderBook{TokenID: "c", Asks: []types.PriceLevel{level(0.3333, 50)}, Bids: []types.PriceLevel{level(0.3331, 50)}, Timestamp: time.Now()}

	s := New(nil, fakeBooks{books: map[string]types.OrderBook{"b": bookB, "c": bookC}}, nil, testConfig())
	s.UpdateMarketGroups([]types.MarketGroup{{ConditionID: "c1", TokenIDs: []string{"a", "b", "c"}}})

	signals := s.Evaluate("a", bookA)
	if len(signals) != 0 {
		t.Fatalf("expected no arbitrage signal on a fairly-priced 3-outcome basket, got %d", len(signals))
	}
	if s.Counters().SimpleArbSignals != 0 || s.Counters().BregmanArbSignals != 0 {
		t.Fatalf("expected neither arb path to fire, got %+v", s.Counters())
	}
}

// TestBregmanArbEmitsBuyOnMostUnderpricedOutcome covers SPEC_FULL.md
// §4.8 steps 4-6: a 3-outcome group whose best-ask basket cost exceeds
// 1 after fees (so simple-arb doesn't clear min_edge) but whose implied
// probabilities diverge from uniform by more than divergence_threshold,
// so the Bregman-projection path buys the single most-underpriced
// outcome (token "c", the smallest implied probability).
func TestBregmanArbEmitsBuyOnMostUnderpricedOutcome(t *testing.T) {
	bookA := types.OrderBook{TokenID: "a", Asks: []types.PriceLevel{level(0.51, 50)}, Bids: []types.PriceLevel{level(0.49, 50)}, Timestamp: time.Now()}
	bookB := types.OrderBook{TokenID: "b", Asks: []types.PriceLevel{level(0.31, 50)}, Bids: []types.PriceLevel{level(0.29, 50)}, Timestamp: time.Now()}
	bookC := types.OrderBook{TokenID: "c", Asks: []types.PriceLevel{level(0.21, 50)}, Bids: []types.PriceLevel{level(0.19, 50)}, Timestamp: time.Now()}

	s := New(nil, fakeBooks{books: map[string]types.OrderBook{"b": bookB, "c": bookC}}, nil, testConfig())
	s.UpdateMarketGroups([]types.MarketGroup{{ConditionID: "c1", TokenIDs: []string{"a", "b", "c"}}})

	signals := s.Evaluate("a", bookA)
	if s.Counters().SimpleArbSignals != 0 {
		t.Fatalf("expected simple-arb not to fire on this basket (cost exceeds 1 after fees)")
	}
	if len(signals) != 1 {
		t.Fatalf("expected exactly one bregman signal, got %d", len(signals))
	}
	if signals[0].TokenID != "c" {
		t.Fatalf("expected the most-underpriced outcome 'c' to be targeted, got %s", signals[0].TokenID)
	}
	if signals[0].Side != types.SideBuy {
		t.Fatalf("expected a buy signal, got %s", signals[0].Side)
	}
	if s.Counters().BregmanArbSignals != 1 {
		t.Fatalf("expected bregman_arb_signals to increment")
	}
}

func TestEvaluateSkipsStaleBook(t *testing.T) {
	stale := types.OrderBook{TokenID: "b", Asks: []types.PriceLevel{level(0.5, 10)}, Timestamp: time.Now().Add(-time.Hour)}

	s := New(nil, fakeBooks{books: map[string]types.OrderBook{"b": stale}}, nil, testConfig())
	s.UpdateMarketGroups([]types.MarketGroup{{ConditionID: "c1", TokenIDs: []string{"a", "b"}}})

	signals := s.Evaluate("a", types.OrderBook{TokenID: "a", Timestamp: time.Now()})
	if len(signals) != 0 {
		t.Fatalf("expected no signals on a stale sibling book")
	}
	if s.Counters().SkippedStaleBook != 1 {
		t.Fatalf("expected skipped_stale_book to increment")
	}
}
