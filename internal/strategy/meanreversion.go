package strategy

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// MeanReversion tracks a rolling mean and standard deviation of mid
// price per token (the teacher's Bollinger-style z-score) and signals
// against the extreme once |z| clears a threshold.
type MeanReversion struct {
	*Base

	window    int
	zThreshold decimal.Decimal
	size      decimal.Decimal

	mu      sync.Mutex
	history map[string][]float64
}

// NewMeanReversion constructs a mean-reversion strategy over the given
// rolling window length, z-score threshold, and order size.
func NewMeanReversion(logger *zap.Logger, window int, zThreshold, size decimal.Decimal) *MeanReversion {
	if window < 2 {
		window = 2
	}
	return &MeanReversion{
		Base:       NewBase(logger, "mean_reversion"),
		window:     window,
		zThreshold: zThreshold,
		size:       size,
		history:    make(map[string][]float64),
	}
}

func (s *MeanReversion) Evaluate(tokenID string, book types.OrderBook) []types.TradeSignal {
	if !s.Enabled() {
		return nil
	}
	mid := book.MidPrice()
	if mid.IsZero() {
		return nil
	}
	midFloat, _ := mid.Float64()

	s.mu.Lock()
	samples := append(s.history[tokenID], midFloat)
	if len(samples) > s.window {
		samples = samples[len(samples)-s.window:]
	}
	s.history[tokenID] = samples
	s.mu.Unlock()

	if len(samples) < s.window {
		return nil
	}

	mean, stddev := stat.MeanStdDev(samples, nil)
	if stddev == 0 {
		return nil
	}
	z := (midFloat - mean) / stddev
	zDec := decimal.NewFromFloat(z)

	if zDec.Abs().LessThanOrEqual(s.zThreshold) {
		return nil
	}

	// price is above the band (z > 0): sell expecting reversion down.
	// price is below the band (z < 0): buy expecting reversion up.
	side := types.SideSell
	if z < 0 {
		side = types.SideBuy
	}

	confidence := ClampConfidence(zDec.Abs().Div(s.zThreshold).Sub(decimal.NewFromInt(1)).Add(decimal.NewFromFloat(0.5)))

	return []types.TradeSignal{{
		TokenID:     tokenID,
		Side:        side,
		Confidence:  confidence.Truncate(4),
		TargetPrice: decimal.NewFromFloat(mean),
		Size:        s.size,
		Reason:      "mean_reversion: price deviated beyond z-score threshold",
	}}
}
