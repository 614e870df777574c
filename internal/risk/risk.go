// Package risk implements the pre-trade admission gate and live exposure
// accounting described in SPEC_FULL.md §4.5.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/arb-engine/internal/bus"
	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// PositionSource and OrderSource are the narrow views into live state the
// Risk Manager needs to compute exposure, kept as interfaces so the Order
// Manager and Risk Manager can depend on each other without an import
// cycle: the Order Manager owns positions/orders, the Risk Manager reads
// them through these.
type PositionSource interface {
	GetAllActivePositions() ([]types.Position, error)
}

type OrderSource interface {
	GetOpenOrders() ([]types.OrderRecord, error)
}

// DailyPnLSource reports the running realized PnL for the current day.
type DailyPnLSource interface {
	GetDailyPnL(t time.Time) (decimal.Decimal, error)
}

// CheckResult is the outcome of CheckOrder.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// Manager is the Risk Manager: a sequential, short-circuiting admission
// gate plus a latched halt flag.
type Manager struct {
	logger   *zap.Logger
	eventBus *bus.Bus
	limits   types.RiskLimits

	positions PositionSource
	orders    OrderSource
	dailyPnL  DailyPnLSource

	mu         sync.RWMutex
	halted     bool
	haltReason string
}

// New constructs a Risk Manager against the given limits and live-state
// sources.
func New(logger *zap.Logger, eventBus *bus.Bus, limits types.RiskLimits, positions PositionSource, orders OrderSource, dailyPnL DailyPnLSource) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:    logger.Named("risk-manager"),
		eventBus:  eventBus,
		limits:    limits,
		positions: positions,
		orders:    orders,
		dailyPnL:  dailyPnL,
	}
}

// CheckOrder enforces the admission sequence in SPEC_FULL.md §4.5,
// short-circuiting on the first violation. Step 2 intentionally compares
// notional value against max_position_size, not signed net size — a known
// imprecision preserved per the design notes in SPEC_FULL.md §4.5.
func (m *Manager) CheckOrder(order types.OrderRequest) CheckResult {
	if halted, reason := m.haltState(); halted {
		return CheckResult{Allowed: false, Reason: reason}
	}

	notional := order.Price.Mul(order.Size)

	if notional.GreaterThan(m.limits.MaxPositionSize) {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("order notional %s exceeds max_position_size %s", notional, m.limits.MaxPositionSize)}
	}

	exposure, err := m.GetExposure()
	if err != nil {
		m.logger.Warn("failed to compute exposure, rejecting order defensively", zap.Error(err))
		return CheckResult{Allowed: false, Reason: "unable to compute current exposure"}
	}
	if exposure.Total.Add(notional).GreaterThan(m.limits.MaxTotalExposure) {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("exposure %s + order %s exceeds max_total_exposure %s", exposure.Total, notional, m.limits.MaxTotalExposure)}
	}

	openOrders, err := m.orders.GetOpenOrders()
	if err != nil {
		m.logger.Warn("failed to list open orders, rejecting order defensively", zap.Error(err))
		return CheckResult{Allowed: false, Reason: "unable to list open orders"}
	}
	if len(openOrders) >= m.limits.MaxOpenOrders {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("live open-order count %d >= max_open_orders %d", len(openOrders), m.limits.MaxOpenOrders)}
	}

	pnl, err := m.dailyPnL.GetDailyPnL(time.Now())
	if err != nil {
		m.logger.Warn("failed to read daily pnl, rejecting order defensively", zap.Error(err))
		return CheckResult{Allowed: false, Reason: "unable to compute daily pnl"}
	}
	if pnl.LessThan(m.limits.MaxDailyLoss.Neg()) {
		reason := fmt.Sprintf("daily pnl %s breached max_daily_loss %s", pnl, m.limits.MaxDailyLoss)
		m.Halt(reason)
		return CheckResult{Allowed: false, Reason: reason}
	}

	return CheckResult{Allowed: true}
}

// GetExposure sums |size * current_price| over active positions and adds
// price * size over live open orders, attributed per-token.
func (m *Manager) GetExposure() (types.Exposure, error) {
	exposure := types.Exposure{PerToken: make(map[string]decimal.Decimal), Total: decimal.Zero}

	positions, err := m.positions.GetAllActivePositions()
	if err != nil {
		return exposure, fmt.Errorf("risk: get active positions: %w", err)
	}
	for _, p := range positions {
		v := p.Size.Abs().Mul(p.CurrentPrice)
		exposure.PerToken[p.TokenID] = exposure.PerToken[p.TokenID].Add(v)
		exposure.Total = exposure.Total.Add(v)
	}

	openOrders, err := m.orders.GetOpenOrders()
	if err != nil {
		return exposure, fmt.Errorf("risk: get open orders: %w", err)
	}
	for _, o := range openOrders {
		v := o.Price.Mul(o.Size)
		exposure.PerToken[o.TokenID] = exposure.PerToken[o.TokenID].Add(v)
		exposure.Total = exposure.Total.Add(v)
	}

	return exposure, nil
}

// Halt latches the halt flag, records reason, and emits risk_breach.
func (m *Manager) Halt(reason string) {
	m.mu.Lock()
	alreadyHalted := m.halted
	m.halted = true
	m.haltReason = reason
	m.mu.Unlock()

	m.logger.Warn("risk manager halted", zap.String("reason", reason))
	if !alreadyHalted && m.eventBus != nil {
		m.eventBus.Emit(bus.EventRiskBreach, reason)
	}
}

// Resume clears the halt flag.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	m.haltReason = ""
}

// IsHalted reports whether the Risk Manager is currently latched.
func (m *Manager) IsHalted() bool {
	halted, _ := m.haltState()
	return halted
}

func (m *Manager) haltState() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted, m.haltReason
}
