package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/arb-engine/pkg/types"
)

type fakePositions struct {
	positions []types.Position
}

func (f fakePositions) GetAllActivePositions() ([]types.Position, error) { return f.positions, nil }

type fakeOrders struct {
	orders []types.OrderRecord
}

func (f fakeOrders) GetOpenOrders() ([]types.OrderRecord, error) { return f.orders, nil }

type fakeDailyPnL struct {
	pnl decimal.Decimal
}

func (f fakeDailyPnL) GetDailyPnL(time.Time) (decimal.Decimal, error) { return f.pnl, nil }

func defaultLimits() types.RiskLimits {
	return types.RiskLimits{
		MaxPositionSize:  decimal.NewFromInt(100),
		MaxTotalExposure: decimal.NewFromInt(500),
		MaxDailyLoss:     decimal.NewFromInt(50),
		MaxOpenOrders:    5,
	}
}

func TestCheckOrderRejectsOnNotionalExceedingMaxPositionSize(t *testing.T) {
	m := New(nil, nil, defaultLimits(), fakePositions{}, fakeOrders{}, fakeDailyPnL{})

	result := m.CheckOrder(types.OrderRequest{Price: decimal.NewFromFloat(0.9), Size: decimal.NewFromInt(200)})

	if result.Allowed {
		t.Fatal("expected rejection when notional exceeds max_position_size")
	}
}

func TestCheckOrderRejectsAtMaxOpenOrders(t *testing.T) {
	orders := make([]types.OrderRecord, 5)
	for i := range orders {
		orders[i] = types.OrderRecord{Status: types.OrderStatusOpen}
	}
	m := New(nil, nil, defaultLimits(), fakePositions{}, fakeOrders{orders: orders}, fakeDailyPnL{})

	result := m.CheckOrder(types.OrderRequest{Price: decimal.NewFromFloat(0.1), Size: decimal.NewFromInt(1)})

	if result.Allowed {
		t.Fatal("expected rejection at max_open_orders")
	}
	if result.Reason == "" {
		t.Fatal("expected a reason naming the limit")
	}
}

// TestDailyLossBreachHaltsAndRejects exercises the daily-loss step of
// SPEC_FULL.md §4.5: with max_daily_loss = 50 and a recorded daily pnl of
// -60, the next check_order rejects and transitions is_halted() to true.
func TestDailyLossBreachHaltsAndRejects(t *testing.T) {
	limits := defaultLimits()
	limits.MaxDailyLoss = decimal.NewFromInt(50)

	m := New(nil, nil, limits, fakePositions{}, fakeOrders{}, fakeDailyPnL{pnl: decimal.NewFromInt(-60)})

	if m.IsHalted() {
		t.Fatal("expected not halted before the check")
	}

	result := m.CheckOrder(types.OrderRequest{Price: decimal.NewFromFloat(0.1), Size: decimal.NewFromInt(1)})

	if result.Allowed {
		t.Fatal("expected rejection on daily loss breach")
	}
	if !m.IsHalted() {
		t.Fatal("expected is_halted() to become true")
	}
}

func TestHaltedManagerRejectsAllOrders(t *testing.T) {
	m := New(nil, nil, defaultLimits(), fakePositions{}, fakeOrders{}, fakeDailyPnL{})
	m.Halt("manual halt")

	result := m.CheckOrder(types.OrderRequest{Price: decimal.NewFromFloat(0.01), Size: decimal.NewFromInt(1)})

	if result.Allowed {
		t.Fatal("expected rejection while halted")
	}
	if result.Reason != "manual halt" {
		t.Fatalf("expected halt reason to propagate, got %q", result.Reason)
	}
}

func TestResumeClearsHalt(t *testing.T) {
	m := New(nil, nil, defaultLimits(), fakePositions{}, fakeOrders{}, fakeDailyPnL{})
	m.Halt("manual halt")
	m.Resume()

	if m.IsHalted() {
		t.Fatal("expected halt to be cleared after resume")
	}
}

func TestGetExposureSumsPositionsAndOpenOrders(t *testing.T) {
	positions := []types.Position{
		{TokenID: "a", Size: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromFloat(0.5)},
		{TokenID: "b", Size: decimal.NewFromInt(-4), CurrentPrice: decimal.NewFromFloat(0.25)},
	}
	openOrders := []types.OrderRecord{
		{OrderRequest: types.OrderRequest{TokenID: "a", Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(2)}},
	}
	m := New(nil, nil, defaultLimits(), fakePositions{positions: positions}, fakeOrders{orders: openOrders}, fakeDailyPnL{})

	exposure, err := m.GetExposure()
	if err != nil {
		t.Fatal(err)
	}

	// a: |10*0.5| + 0.5*2 = 5 + 1 = 6; b: |-4*0.25| = 1; total = 7
	want := decimal.NewFromInt(7)
	if !exposure.Total.Equal(want) {
		t.Fatalf("expected total exposure %s, got %s", want, exposure.Total)
	}
}
