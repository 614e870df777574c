// Package strategy implements the strategy substrate described in
// SPEC_FULL.md §4.7: a common metrics/lifecycle base plus the simple
// order-book-driven strategies built on top of it.
package strategy

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// Strategy is the interface every strategy implements.
type Strategy interface {
	Name() string
	Enabled() bool
	SetEnabled(bool)
	Initialize() error
	Evaluate(tokenID string, book types.OrderBook) []types.TradeSignal
	OnOrderFilled(record types.OrderRecord)
	Shutdown() error
	Metrics() Metrics
}

// Metrics is the substrate's running performance bookkeeping for one
// strategy, recomputed incrementally as PnL observations arrive.
type Metrics struct {
	TotalTrades  int
	WinningTrades int
	LosingTrades int
	TotalPnL     decimal.Decimal
	SharpeRatio  decimal.Decimal
	MaxDrawdown  decimal.Decimal
}

// Base provides the common metrics/enable bookkeeping every concrete
// strategy embeds, mirroring the teacher's BaseStrategy.
type Base struct {
	logger  *zap.Logger
	name    string
	mu      sync.Mutex
	enabled bool

	pnlSeries []float64
	peak      float64
	metrics   Metrics
}

// NewBase constructs the shared substrate state for a strategy named name.
func NewBase(logger *zap.Logger, name string) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		logger:  logger.Named("strategy").Named(name),
		name:    name,
		enabled: true,
	}
}

// ClampConfidence bounds a raw confidence score to [0, 1].
func ClampConfidence(c decimal.Decimal) decimal.Decimal {
	if c.IsNegative() {
		return decimal.Zero
	}
	if c.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return c
}

func (b *Base) Name() string { return b.name }

func (b *Base) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

func (b *Base) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// Initialize is the default lifecycle hook; concrete strategies with
// setup work override it.
func (b *Base) Initialize() error { return nil }

// Shutdown is the default lifecycle hook; concrete strategies with
// teardown work override it.
func (b *Base) Shutdown() error { return nil }

// OnOrderFilled is the default handler: it increments total_trades. A
// strategy that wants win/loss/PnL bookkeeping calls RecordPnL directly
// once it knows the realized result of a fill.
func (b *Base) OnOrderFilled(types.OrderRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.TotalTrades++
}

// RecordPnL folds one realized trade PnL observation into the running
// win/loss counters, total PnL, Sharpe ratio, and max drawdown.
func (b *Base) RecordPnL(pnl decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, _ := pnl.Float64()
	b.pnlSeries = append(b.pnlSeries, f)

	if f > 0 {
		b.metrics.WinningTrades++
	} else if f < 0 {
		b.metrics.LosingTrades++
	}
	b.metrics.TotalPnL = b.metrics.TotalPnL.Add(pnl)

	total, _ := b.metrics.TotalPnL.Float64()
	if total > b.peak {
		b.peak = total
	}
	if drawdown := b.peak - total; drawdown > 0 {
		if d := decimal.NewFromFloat(drawdown); d.GreaterThan(b.metrics.MaxDrawdown) {
			b.metrics.MaxDrawdown = d
		}
	}

	if len(b.pnlSeries) >= 2 {
		mean, stddev := stat.MeanStdDev(b.pnlSeries, nil)
		if stddev > 0 {
			b.metrics.SharpeRatio = decimal.NewFromFloat(mean / stddev)
		}
	}
}

// Metrics returns a snapshot of the substrate's running metrics.
func (b *Base) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}
