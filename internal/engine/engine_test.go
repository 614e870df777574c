package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/arb-engine/internal/bus"
	"github.com/atlas-desktop/arb-engine/internal/discovery"
	"github.com/atlas-desktop/arb-engine/internal/discovery/gamma"
	"github.com/atlas-desktop/arb-engine/internal/exchange/mock"
	"github.com/atlas-desktop/arb-engine/internal/marketdata"
	"github.com/atlas-desktop/arb-engine/internal/orders"
	"github.com/atlas-desktop/arb-engine/internal/risk"
	"github.com/atlas-desktop/arb-engine/internal/store"
	"github.com/atlas-desktop/arb-engine/internal/strategy"
	"github.com/atlas-desktop/arb-engine/pkg/types"
)

type emptyCatalog struct{}

func (emptyCatalog) ListEvents(context.Context, gamma.EventsFilter) ([]gamma.Event, error) {
	return nil, nil
}

type fakeStrategy struct {
	*strategy.Base
	signal *types.TradeSignal
	filled []types.OrderRecord
}

func newFakeStrategy(name string, confidence decimal.Decimal, tokenID string) *fakeStrategy {
	sig := types.TradeSignal{TokenID: tokenID, Side: types.SideBuy, Confidence: confidence, TargetPrice: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(1)}
	return &fakeStrategy{Base: strategy.NewBase(nil, name), signal: &sig}
}

func (f *fakeStrategy) Evaluate(tokenID string, book types.OrderBook) []types.TradeSignal {
	if f.signal == nil {
		return nil
	}
	return []types.TradeSignal{*f.signal}
}

func (f *fakeStrategy) OnOrderFilled(record types.OrderRecord) {
	f.filled = append(f.filled, record)
	f.Base.OnOrderFilled(record)
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	eventBus := bus.New(nil)
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	client := mock.New(nil)
	client.SetOrderBook("tok1", types.OrderBook{
		TokenID: "tok1",
		Bids:    []types.PriceLevel{{Price: decimal.NewFromFloat(0.49), Size: decimal.NewFromInt(100)}},
		Asks:    []types.PriceLevel{{Price: decimal.NewFromFloat(0.51), Size: decimal.NewFromInt(100)}},
	})

	md := marketdata.New(nil, eventBus, client, 0)

	disc := discovery.New(nil, eventBus, emptyCatalog{}, discovery.Config{})

	limits := types.RiskLimits{
		MaxPositionSize:  decimal.NewFromInt(1000),
		MaxTotalExposure: decimal.NewFromInt(10000),
		MaxDailyLoss:     decimal.NewFromInt(1000),
		MaxOpenOrders:    100,
	}
	riskMgr := risk.New(nil, eventBus, limits, st, st, st)
	orderMgr := orders.New(nil, eventBus, st, client, riskMgr, true)

	e := New(nil, eventBus, st, md, disc, riskMgr, orderMgr, limits)
	return e, st
}

// TestOrderBookUpdateSubmitsOrderOnHighConfidenceSignal emits a
// synthetic orderbook_update directly on the bus (rather than waiting
// out a real poll tick) to exercise the running-state evaluate-and-submit
// path in isolation.
func TestOrderBookUpdateSubmitsOrderOnHighConfidenceSignal(t *testing.T) {
	e, st := newTestEngine(t)
	e.RegisterStrategy(newFakeStrategy("high-confidence", decimal.NewFromFloat(0.9), "tok1"))

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop(context.Background())

	e.eventBus.Emit(bus.EventOrderBookUpdate, types.OrderBook{
		TokenID: "tok1",
		Bids:    []types.PriceLevel{{Price: decimal.NewFromFloat(0.49), Size: decimal.NewFromInt(100)}},
		Asks:    []types.PriceLevel{{Price: decimal.NewFromFloat(0.51), Size: decimal.NewFromInt(100)}},
	})

	_, ok, err := st.GetPosition("tok1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a position to have been opened from the high-confidence signal")
	}
}

func TestOrderBookUpdateIgnoresLowConfidenceSignal(t *testing.T) {
	e, st := newTestEngine(t)
	e.RegisterStrategy(newFakeStrategy("low-confidence", decimal.NewFromFloat(0.2), "tok1"))

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop(context.Background())

	e.eventBus.Emit(bus.EventOrderBookUpdate, types.OrderBook{
		TokenID: "tok1",
		Bids:    []types.PriceLevel{{Price: decimal.NewFromFloat(0.49), Size: decimal.NewFromInt(100)}},
		Asks:    []types.PriceLevel{{Price: decimal.NewFromFloat(0.51), Size: decimal.NewFromInt(100)}},
	})

	if _, ok, _ := st.GetPosition("tok1"); ok {
		t.Fatal("expected no position from a sub-threshold confidence signal")
	}
}

func TestRiskBreachCancelsAllOrders(t *testing.T) {
	e, st := newTestEngine(t)

	ctx := context.Background()
	if _, err := e.orderMgr.SubmitOrder(ctx, types.OrderRequest{
		TokenID: "tok1", Side: types.SideBuy, Price: decimal.NewFromFloat(0.1), Size: decimal.NewFromInt(1), Type: types.OrderTypeGTC,
	}); err != nil {
		t.Fatal(err)
	}

	e.eventBus.Emit(bus.EventRiskBreach, "test halt")

	open, err := st.GetOpenOrders()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Fatalf("expected risk_breach to cancel all open orders, got %d still open", len(open))
	}
}

func TestGetStatusReportsRegisteredStrategies(t *testing.T) {
	e, _ := newTestEngine(t)
	e.RegisterStrategy(newFakeStrategy("s1", decimal.NewFromFloat(0.1), "tok1"))

	status, err := e.GetStatus()
	if err != nil {
		t.Fatal(err)
	}
	if len(status.Strategies) != 1 || status.Strategies[0].Name != "s1" {
		t.Fatalf("expected status to report the registered strategy, got %+v", status.Strategies)
	}
}

func TestGetStatusReflectsRiskManagerHaltState(t *testing.T) {
	e, _ := newTestEngine(t)

	status, err := e.GetStatus()
	if err != nil {
		t.Fatal(err)
	}
	if status.Halted {
		t.Fatal("expected Halted=false before any breach")
	}

	e.riskMgr.Halt("manual test halt")

	status, err = e.GetStatus()
	if err != nil {
		t.Fatal(err)
	}
	if !status.Halted {
		t.Fatal("expected Halted=true to reflect the risk manager's halt state")
	}
}
