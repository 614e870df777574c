// Package engine implements the Orchestrator described in
// SPEC_FULL.md §4.9: it wires the other components together, owns the
// registered strategies, and reacts to the events they produce.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/arb-engine/internal/bus"
	"github.com/atlas-desktop/arb-engine/internal/discovery"
	"github.com/atlas-desktop/arb-engine/internal/marketdata"
	"github.com/atlas-desktop/arb-engine/internal/orders"
	"github.com/atlas-desktop/arb-engine/internal/risk"
	"github.com/atlas-desktop/arb-engine/internal/store"
	"github.com/atlas-desktop/arb-engine/internal/strategy"
	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// confidenceThreshold is the minimum strategy confidence the Orchestrator
// will act on, per SPEC_FULL.md §4.9.
var confidenceThreshold = decimal.NewFromFloat(0.5)

// StrategyStatus is one strategy's entry in GetStatus's snapshot.
type StrategyStatus struct {
	Name    string
	Enabled bool
	Metrics strategy.Metrics
}

// Status is the Orchestrator's observability snapshot.
type Status struct {
	Running    bool
	Halted     bool
	Strategies []StrategyStatus
	Positions  []types.Position
	OpenOrders []types.OrderRecord
	RiskLimits types.RiskLimits
	Exposure   types.Exposure
}

// Engine is the Orchestrator.
type Engine struct {
	logger       *zap.Logger
	eventBus     *bus.Bus
	store        *store.Store
	marketData   *marketdata.Service
	discoverySvc *discovery.Service
	riskMgr      *risk.Manager
	orderMgr     *orders.Manager
	limits       types.RiskLimits

	mu         sync.RWMutex
	running    bool
	strategies map[string]strategy.Strategy

	unsubs []bus.Unsubscribe
}

// New wires an Orchestrator over its already-constructed dependencies.
func New(logger *zap.Logger, eventBus *bus.Bus, st *store.Store, md *marketdata.Service, disc *discovery.Service, riskMgr *risk.Manager, orderMgr *orders.Manager, limits types.RiskLimits) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger:       logger.Named("engine"),
		eventBus:     eventBus,
		store:        st,
		marketData:   md,
		discoverySvc: disc,
		riskMgr:      riskMgr,
		orderMgr:     orderMgr,
		limits:       limits,
		strategies:   make(map[string]strategy.Strategy),
	}
	e.unsubs = append(e.unsubs,
		eventBus.On(bus.EventOrderBookUpdate, e.onOrderBookUpdate),
		eventBus.On(bus.EventOrderFilled, e.onOrderFilled),
		eventBus.On(bus.EventRiskBreach, e.onRiskBreach),
	)
	return e
}

// RegisterStrategy adds s to the registry under its own name.
func (e *Engine) RegisterStrategy(s strategy.Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[s.Name()] = s
}

// UnregisterStrategy removes and shuts down the named strategy.
func (e *Engine) UnregisterStrategy(name string) error {
	e.mu.Lock()
	s, ok := e.strategies[name]
	if ok {
		delete(e.strategies, name)
	}
	e.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Shutdown()
}

// SetTokens subscribes Market Data to tokenIDs. Subscribe is itself
// idempotent per token, so this doubles as AddTokens' implementation.
func (e *Engine) SetTokens(tokenIDs []string) {
	e.marketData.Subscribe(tokenIDs)
}

// AddTokens idempotently unions tokenIDs into the subscription set.
func (e *Engine) AddTokens(tokenIDs []string) {
	e.marketData.Subscribe(tokenIDs)
}

// Start runs the startup sequence from SPEC_FULL.md §4.9: initialize
// every strategy, start Market Data, reconcile orders, then mark running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.RLock()
	strategies := make([]strategy.Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		strategies = append(strategies, s)
	}
	e.mu.RUnlock()

	for _, s := range strategies {
		if err := s.Initialize(); err != nil {
			return fmt.Errorf("engine: initialize strategy %s: %w", s.Name(), err)
		}
	}

	e.marketData.Start(ctx)

	if err := e.orderMgr.SyncOrders(ctx); err != nil {
		e.logger.Warn("initial order reconciliation failed", zap.Error(err))
	}

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	return nil
}

// Stop runs the shutdown sequence: clear running, cancel all orders, stop
// market data, then shut down every strategy.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.running = false
	strategies := make([]strategy.Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		strategies = append(strategies, s)
	}
	e.mu.Unlock()

	if _, err := e.orderMgr.CancelAllOrders(ctx); err != nil {
		e.logger.Warn("cancel all orders on shutdown failed", zap.Error(err))
	}

	e.marketData.Stop()

	for _, s := range strategies {
		if err := s.Shutdown(); err != nil {
			e.logger.Warn("strategy shutdown failed", zap.String("strategy", s.Name()), zap.Error(err))
		}
	}
	return nil
}

// IsRunning reports whether Start has completed and Stop has not yet run.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Close releases the Store handle.
func (e *Engine) Close() error {
	for _, unsub := range e.unsubs {
		unsub()
	}
	return e.store.Close()
}

func (e *Engine) onOrderBookUpdate(evt bus.Event) error {
	if !e.IsRunning() || e.riskMgr.IsHalted() {
		return nil
	}
	book, ok := evt.Data.(types.OrderBook)
	if !ok {
		return nil
	}

	e.mu.RLock()
	strategies := make([]strategy.Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		strategies = append(strategies, s)
	}
	e.mu.RUnlock()

	var signals []types.TradeSignal
	for _, s := range strategies {
		if !s.Enabled() {
			continue
		}
		signals = append(signals, e.safeEvaluate(s, book)...)
	}

	for _, sig := range signals {
		if sig.Confidence.LessThanOrEqual(confidenceThreshold) {
			continue
		}
		req := types.OrderRequest{
			TokenID: sig.TokenID,
			Side:    sig.Side,
			Price:   sig.TargetPrice,
			Size:    sig.Size,
			Type:    types.OrderTypeGTC,
		}
		if _, err := e.orderMgr.SubmitOrder(context.Background(), req); err != nil {
			e.logger.Error("submit order from strategy signal failed", zap.String("reason", sig.Reason), zap.Error(err))
		}
	}
	return nil
}

// safeEvaluate recovers a panicking strategy so one bad strategy can't
// stop the others from evaluating.
func (e *Engine) safeEvaluate(s strategy.Strategy, book types.OrderBook) (signals []types.TradeSignal) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy evaluation panicked", zap.String("strategy", s.Name()), zap.Any("panic", r))
			signals = nil
		}
	}()
	return s.Evaluate(book.TokenID, book)
}

func (e *Engine) onOrderFilled(evt bus.Event) error {
	record, ok := evt.Data.(types.OrderRecord)
	if !ok {
		return nil
	}

	e.mu.RLock()
	strategies := make([]strategy.Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		strategies = append(strategies, s)
	}
	e.mu.RUnlock()

	for _, s := range strategies {
		s.OnOrderFilled(record)
	}
	return nil
}

func (e *Engine) onRiskBreach(bus.Event) error {
	if _, err := e.orderMgr.CancelAllOrders(context.Background()); err != nil {
		e.logger.Error("cancel all orders on risk breach failed", zap.Error(err))
		return err
	}
	return nil
}

// GetStatus returns a snapshot of the Orchestrator's observability surface.
func (e *Engine) GetStatus() (Status, error) {
	positions, err := e.orderMgr.GetAllActivePositions()
	if err != nil {
		return Status{}, fmt.Errorf("engine: get positions: %w", err)
	}
	openOrders, err := e.orderMgr.GetOpenOrders()
	if err != nil {
		return Status{}, fmt.Errorf("engine: get open orders: %w", err)
	}
	exposure, err := e.riskMgr.GetExposure()
	if err != nil {
		return Status{}, fmt.Errorf("engine: get exposure: %w", err)
	}

	e.mu.RLock()
	strategies := make([]StrategyStatus, 0, len(e.strategies))
	for _, s := range e.strategies {
		strategies = append(strategies, StrategyStatus{Name: s.Name(), Enabled: s.Enabled(), Metrics: s.Metrics()})
	}
	running := e.running
	e.mu.RUnlock()

	return Status{
		Running:    running,
		Halted:     e.riskMgr.IsHalted(),
		Strategies: strategies,
		Positions:  positions,
		OpenOrders: openOrders,
		RiskLimits: e.limits,
		Exposure:   exposure,
	}, nil
}
