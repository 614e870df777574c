// Package orders implements order submission through the risk gate and
// the authoritative position/PnL bookkeeping described in SPEC_FULL.md
// §4.6.
package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/arb-engine/internal/bus"
	"github.com/atlas-desktop/arb-engine/internal/exchange"
	"github.com/atlas-desktop/arb-engine/internal/risk"
	"github.com/atlas-desktop/arb-engine/internal/store"
	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// RiskGate is the subset of the Risk Manager the Order Manager consults
// before forwarding an order to the exchange.
type RiskGate interface {
	CheckOrder(order types.OrderRequest) risk.CheckResult
}

// SubmitResult is the outcome of SubmitOrder.
type SubmitResult struct {
	Success bool
	OrderID string
	Reason  string
}

// Manager is the Order Manager.
type Manager struct {
	logger   *zap.Logger
	eventBus *bus.Bus
	store    *store.Store
	client   exchange.Client
	riskGate RiskGate
	dryRun   bool

	mu sync.Mutex
}

// New constructs an Order Manager.
func New(logger *zap.Logger, eventBus *bus.Bus, st *store.Store, client exchange.Client, riskGate RiskGate, dryRun bool) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger.Named("order-manager"),
		eventBus: eventBus,
		store:    st,
		client:   client,
		riskGate: riskGate,
		dryRun:   dryRun,
	}
}

// SubmitOrder offers req to the Risk Manager, then (absent rejection)
// either synthesizes a dry-run fill or forwards to the Exchange Client.
func (m *Manager) SubmitOrder(ctx context.Context, req types.OrderRequest) (SubmitResult, error) {
	if result := m.riskGate.CheckOrder(req); !result.Allowed {
		return SubmitResult{Success: false, Reason: result.Reason}, nil
	}

	if m.dryRun {
		return m.submitDryRun(req)
	}

	result, err := m.client.PlaceOrder(ctx, req)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("orders: place order: %w", err)
	}
	if !result.Success {
		return SubmitResult{Success: false, Reason: result.Error}, nil
	}

	return m.onPlaceSuccess(req, result.OrderID, result.FilledSize, result.AvgFillPrice)
}

func (m *Manager) submitDryRun(req types.OrderRequest) (SubmitResult, error) {
	orderID := "dryrun-" + uuid.NewString()
	return m.onPlaceSuccess(req, orderID, req.Size, req.Price)
}

// onPlaceSuccess persists the order as open, emits order_filled, and —
// if any size filled — updates the position. Emitted unconditionally per
// SPEC_FULL.md §4.6: consumers must tolerate filled_size == 0.
func (m *Manager) onPlaceSuccess(req types.OrderRequest, orderID string, filledSize, avgFillPrice decimal.Decimal) (SubmitResult, error) {
	now := time.Now()
	record := types.OrderRecord{
		OrderRequest: req,
		OrderID:      orderID,
		Status:       types.OrderStatusOpen,
		FilledSize:   filledSize,
		AvgFillPrice: avgFillPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.SaveOrder(record); err != nil {
		return SubmitResult{}, fmt.Errorf("orders: persist order: %w", err)
	}

	if m.eventBus != nil {
		m.eventBus.Emit(bus.EventOrderFilled, record)
	}

	if filledSize.GreaterThan(decimal.Zero) {
		fillPrice := avgFillPrice
		if fillPrice.IsZero() {
			fillPrice = req.Price
		}
		trade := types.Trade{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			TokenID:    req.TokenID,
			Side:       req.Side,
			Price:      fillPrice,
			Size:       filledSize,
			ExecutedAt: now,
		}
		if err := m.store.SaveTrade(trade); err != nil {
			return SubmitResult{}, fmt.Errorf("orders: save trade: %w", err)
		}
		if err := m.applyFill(req.TokenID, req.Side, filledSize, fillPrice); err != nil {
			return SubmitResult{}, fmt.Errorf("orders: apply fill: %w", err)
		}
	}

	return SubmitResult{Success: true, OrderID: orderID}, nil
}

// applyFill runs the authoritative position-update algorithm from
// SPEC_FULL.md §4.6 and persists the result.
func (m *Manager) applyFill(tokenID string, side types.Side, size, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, found, err := m.store.GetPosition(tokenID)
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}

	signedFill := size
	if side == types.SideSell {
		signedFill = size.Neg()
	}

	var updated types.Position
	if !found || existing.Size.IsZero() {
		updated = types.Position{
			TokenID:       tokenID,
			MarketID:      existing.MarketID,
			Size:          signedFill,
			AvgEntryPrice: price,
			CurrentPrice:  price,
			RealizedPnL:   decimal.Zero,
			Side:          side,
		}
	} else if existing.Side == side {
		newSize := existing.Size.Add(signedFill)
		newAvg := existing.Size.Abs().Mul(existing.AvgEntryPrice).Add(size.Mul(price)).Div(newSize.Abs())
		updated = types.Position{
			TokenID:       tokenID,
			MarketID:      existing.MarketID,
			Size:          newSize,
			AvgEntryPrice: newAvg,
			CurrentPrice:  price,
			RealizedPnL:   existing.RealizedPnL,
			Side:          existing.Side,
		}
	} else {
		sign := decimal.NewFromInt(1)
		if existing.Side == types.SideSell {
			sign = decimal.NewFromInt(-1)
		}
		realizedDelta := size.Mul(price.Sub(existing.AvgEntryPrice)).Mul(sign)
		newSize := existing.Size.Add(signedFill)
		newSide := types.SideBuy
		if newSize.IsNegative() {
			newSide = types.SideSell
		}
		updated = types.Position{
			TokenID:       tokenID,
			MarketID:      existing.MarketID,
			Size:          newSize,
			AvgEntryPrice: existing.AvgEntryPrice,
			CurrentPrice:  price,
			RealizedPnL:   existing.RealizedPnL.Add(realizedDelta),
			Side:          newSide,
		}
	}

	updated.UnrealizedPnL = updated.CurrentPrice.Sub(updated.AvgEntryPrice).Mul(updated.Size)
	updated.UpdatedAt = time.Now()

	if err := m.store.SavePosition(updated); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	if m.eventBus != nil {
		m.eventBus.Emit(bus.EventPositionChanged, updated)
	}
	return nil
}

// CancelOrder cancels one order. In dry-run mode no exchange call is made;
// the local order is still marked cancelled and order_cancelled emitted.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if m.dryRun {
		return m.finishCancel(orderID)
	}
	ok, err := m.client.CancelOrder(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("orders: cancel order: %w", err)
	}
	if !ok {
		return false, nil
	}
	return m.finishCancel(orderID)
}

func (m *Manager) finishCancel(orderID string) (bool, error) {
	if err := m.store.UpdateOrderStatus(orderID, types.OrderStatusCancelled); err != nil {
		return false, fmt.Errorf("orders: update order status: %w", err)
	}
	if m.eventBus != nil {
		m.eventBus.Emit(bus.EventOrderCancelled, orderID)
	}
	return true, nil
}

// CancelAllOrders cancels every locally-open order. In dry-run mode no
// exchange call is made; the local open orders are still marked cancelled.
func (m *Manager) CancelAllOrders(ctx context.Context) (bool, error) {
	if m.dryRun {
		open, err := m.store.GetOpenOrders()
		if err != nil {
			return false, fmt.Errorf("orders: get open orders: %w", err)
		}
		for _, o := range open {
			if _, err := m.finishCancel(o.OrderID); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	ok, err := m.client.CancelAllOrders(ctx)
	if err != nil {
		return false, fmt.Errorf("orders: cancel all orders: %w", err)
	}
	if !ok {
		return false, nil
	}

	open, err := m.store.GetOpenOrders()
	if err != nil {
		return false, fmt.Errorf("orders: get open orders: %w", err)
	}
	for _, o := range open {
		if _, err := m.finishCancel(o.OrderID); err != nil {
			return false, err
		}
	}
	return true, nil
}

// SyncOrders fetches remote open orders and marks any locally-open order
// absent from that set as filled_or_cancelled.
func (m *Manager) SyncOrders(ctx context.Context) error {
	if m.dryRun {
		return nil
	}

	remote, err := m.client.GetOpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("orders: get remote open orders: %w", err)
	}
	remoteIDs := make(map[string]struct{}, len(remote))
	for _, o := range remote {
		remoteIDs[o.OrderID] = struct{}{}
	}

	local, err := m.store.GetOpenOrders()
	if err != nil {
		return fmt.Errorf("orders: get local open orders: %w", err)
	}
	for _, o := range local {
		if _, stillRemote := remoteIDs[o.OrderID]; !stillRemote {
			if err := m.store.UpdateOrderStatus(o.OrderID, types.OrderStatusFilledOrCancelled); err != nil {
				return fmt.Errorf("orders: reconcile order %s: %w", o.OrderID, err)
			}
		}
	}
	return nil
}

// GetOpenOrders returns every locally-open order, for the Orchestrator's
// status snapshot.
func (m *Manager) GetOpenOrders() ([]types.OrderRecord, error) {
	return m.store.GetOpenOrders()
}

// GetAllActivePositions returns every non-zero-size position, for the
// Orchestrator's status snapshot.
func (m *Manager) GetAllActivePositions() ([]types.Position, error) {
	return m.store.GetAllActivePositions()
}
