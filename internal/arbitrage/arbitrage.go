// Package arbitrage implements the Bregman/simple arbitrage strategy
// described in SPEC_FULL.md §4.8 against neg-risk and binary market
// groups discovered by the Discovery Service.
package arbitrage

import (
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/arb-engine/internal/strategy"
	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// BookSource resolves the latest cached order book for a token.
type BookSource interface {
	GetOrderBook(tokenID string) (types.OrderBook, bool)
}

// PositionSource resolves the current signed position size for a token,
// used to compute remaining admission capacity.
type PositionSource interface {
	GetPosition(tokenID string) (types.Position, bool, error)
}

// Config bounds the strategy's sizing and edge thresholds.
type Config struct {
	FeeRate           decimal.Decimal
	MinEdge           decimal.Decimal
	DivergenceThreshold decimal.Decimal
	BaseSize          decimal.Decimal
	MaxPositionSize   decimal.Decimal
	MaxStaleness      time.Duration
	StatsLogInterval  string // cron spec; empty disables the periodic log
}

// Counters is the strategy's running evaluation bookkeeping.
type Counters struct {
	Evaluations        int
	SkippedNoGroup     int
	SkippedMissingBook int
	SkippedStaleBook   int
	SimpleArbSignals   int
	BregmanArbSignals  int
	NoArbFound         int
}

// Strategy is the Bregman/simple arbitrage strategy. It satisfies
// strategy.Strategy so the Orchestrator can register it alongside the
// simple strategies in internal/strategy.
type Strategy struct {
	*strategy.Base

	logger *zap.Logger
	books  BookSource
	positions PositionSource
	cfg    Config

	mu      sync.RWMutex
	groups  []types.MarketGroup
	index   map[string]types.MarketGroup

	countersMu sync.Mutex
	counters   Counters

	cronSched *cron.Cron
}

// New constructs the arbitrage strategy.
func New(logger *zap.Logger, books BookSource, positions PositionSource, cfg Config) *Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxStaleness == 0 {
		cfg.MaxStaleness = 5 * time.Second
	}
	return &Strategy{
		Base:      strategy.NewBase(logger, "bregman-arb"),
		logger:    logger.Named("arbitrage"),
		books:     books,
		positions: positions,
		cfg:       cfg,
		index:     make(map[string]types.MarketGroup),
	}
}

// Initialize starts the periodic stats-log timer.
func (s *Strategy) Initialize() error {
	return s.StartStatsLog()
}

// Shutdown stops the periodic stats-log timer.
func (s *Strategy) Shutdown() error {
	s.StopStatsLog()
	return nil
}

// UpdateMarketGroups atomically replaces the group state and rebuilds the
// token -> group reverse index.
func (s *Strategy) UpdateMarketGroups(groups []types.MarketGroup) {
	index := make(map[string]types.MarketGroup, len(groups)*2)
	for _, g := range groups {
		for _, tok := range g.TokenIDs {
			index[tok] = g
		}
	}

	s.mu.Lock()
	s.groups = groups
	s.index = index
	s.mu.Unlock()
}

// Counters returns a snapshot of the running evaluation counters.
func (s *Strategy) Counters() Counters {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	return s.counters
}

// StartStatsLog starts the periodic counters log on cfg.StatsLogInterval,
// a standard cron spec. A no-op if the spec is empty.
func (s *Strategy) StartStatsLog() error {
	if s.cfg.StatsLogInterval == "" {
		return nil
	}
	s.cronSched = cron.New()
	_, err := s.cronSched.AddFunc(s.cfg.StatsLogInterval, func() {
		c := s.Counters()
		s.logger.Info("arbitrage stats",
			zap.Int("evaluations", c.Evaluations),
			zap.Int("skipped_no_group", c.SkippedNoGroup),
			zap.Int("skipped_missing_book", c.SkippedMissingBook),
			zap.Int("skipped_stale_book", c.SkippedStaleBook),
			zap.Int("simple_arb_signals", c.SimpleArbSignals),
			zap.Int("bregman_arb_signals", c.BregmanArbSignals),
			zap.Int("no_arb_found", c.NoArbFound),
		)
	})
	if err != nil {
		return err
	}
	s.cronSched.Start()
	return nil
}

// StopStatsLog stops the periodic counters log, if running.
func (s *Strategy) StopStatsLog() {
	if s.cronSched != nil {
		s.cronSched.Stop()
	}
}

func (s *Strategy) groupFor(tokenID string) (types.MarketGroup, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.index[tokenID]
	return g, ok
}

func (s *Strategy) incr(f func(*Counters)) {
	s.countersMu.Lock()
	f(&s.counters)
	s.countersMu.Unlock()
}

// Evaluate runs the simple-arb then Bregman-projection checks against the
// market group the trigger token belongs to, per SPEC_FULL.md §4.8.
func (s *Strategy) Evaluate(triggerToken string, triggerBook types.OrderBook) []types.TradeSignal {
	s.incr(func(c *Counters) { c.Evaluations++ })

	group, ok := s.groupFor(triggerToken)
	if !ok {
		s.incr(func(c *Counters) { c.SkippedNoGroup++ })
		return nil
	}

	books := make(map[string]types.OrderBook, len(group.TokenIDs))
	now := time.Now()
	for _, tok := range group.TokenIDs {
		var book types.OrderBook
		if tok == triggerToken {
			book = triggerBook
		} else {
			b, found := s.books.GetOrderBook(tok)
			if !found {
				s.incr(func(c *Counters) { c.SkippedMissingBook++ })
				return nil
			}
			book = b
		}
		if now.Sub(book.Timestamp) > s.cfg.MaxStaleness {
			s.incr(func(c *Counters) { c.SkippedStaleBook++ })
			return nil
		}
		books[tok] = book
	}

	if signals := s.simpleArb(group, books); signals != nil {
		return signals
	}
	return s.bregmanArb(group, books)
}

func (s *Strategy) remainingCapacity(tokenID string) decimal.Decimal {
	capacity := s.cfg.MaxPositionSize
	if s.positions == nil {
		return capacity
	}
	pos, ok, err := s.positions.GetPosition(tokenID)
	if err != nil || !ok {
		return capacity
	}
	return capacity.Sub(pos.Size)
}

// simpleArb implements SPEC_FULL.md §4.8 step 3: buy one of each outcome
// when the summed best-ask cost, inclusive of fees, guarantees a payout
// of 1 with positive edge.
func (s *Strategy) simpleArb(group types.MarketGroup, books map[string]types.OrderBook) []types.TradeSignal {
	sum := decimal.Zero
	minAskSize := decimal.Zero
	asks := make(map[string]decimal.Decimal, len(group.TokenIDs))
	for i, tok := range group.TokenIDs {
		ask, ok := books[tok].BestAsk()
		if !ok {
			return nil
		}
		asks[tok] = ask.Price
		sum = sum.Add(ask.Price)
		if i == 0 || ask.Size.LessThan(minAskSize) {
			minAskSize = ask.Size
		}
	}

	cost := sum.Mul(decimal.NewFromInt(1).Add(s.cfg.FeeRate))
	edge := decimal.NewFromInt(1).Sub(cost)
	if edge.LessThan(s.cfg.MinEdge) {
		return nil
	}

	size := decimal.Min(s.cfg.BaseSize, minAskSize)
	for _, tok := range group.TokenIDs {
		size = decimal.Min(size, s.remainingCapacity(tok))
	}
	if !size.IsPositive() {
		return nil
	}

	confidence := decimal.Min(edge.Div(s.cfg.MinEdge), decimal.NewFromInt(1))

	signals := make([]types.TradeSignal, 0, len(group.TokenIDs))
	for _, tok := range group.TokenIDs {
		signals = append(signals, types.TradeSignal{
			TokenID:     tok,
			Side:        types.SideBuy,
			Confidence:  confidence.Truncate(4),
			TargetPrice: asks[tok],
			Size:        size,
			Reason:      "arbitrage: simple-arb basket guarantees payout above cost",
		})
	}

	s.incr(func(c *Counters) { c.SimpleArbSignals += len(group.TokenIDs) })
	return signals
}

// bregmanArb implements SPEC_FULL.md §4.8 steps 4-6: buy the most
// underpriced outcome when the observed implied-probability distribution
// diverges from uniform by more than divergence_threshold.
func (s *Strategy) bregmanArb(group types.MarketGroup, books map[string]types.OrderBook) []types.TradeSignal {
	n := len(group.TokenIDs)
	if n == 0 {
		return nil
	}

	mids := make(map[string]decimal.Decimal, n)
	midSum := decimal.Zero
	for _, tok := range group.TokenIDs {
		mid := books[tok].MidPrice()
		mids[tok] = mid
		midSum = midSum.Add(mid)
	}
	if !midSum.IsPositive() {
		s.incr(func(c *Counters) { c.NoArbFound++ })
		return nil
	}

	u := 1.0 / float64(n)
	divergence := 0.0
	qs := make(map[string]float64, n)
	for _, tok := range group.TokenIDs {
		q, _ := mids[tok].Div(midSum).Float64()
		if q <= 0 {
			s.incr(func(c *Counters) { c.NoArbFound++ })
			return nil
		}
		qs[tok] = q
		divergence += u * math.Log(u/q)
	}

	threshold, _ := s.cfg.DivergenceThreshold.Float64()
	if divergence < threshold {
		s.incr(func(c *Counters) { c.NoArbFound++ })
		return nil
	}

	underpriced := group.TokenIDs[0]
	for _, tok := range group.TokenIDs[1:] {
		if qs[tok] < qs[underpriced] {
			underpriced = tok
		}
	}

	ask, ok := books[underpriced].BestAsk()
	if !ok {
		s.incr(func(c *Counters) { c.NoArbFound++ })
		return nil
	}

	ratio := math.Min(divergence/threshold, 2.0)
	size := decimal.Min(s.cfg.BaseSize.Mul(decimal.NewFromFloat(ratio)), ask.Size, s.remainingCapacity(underpriced))
	if !size.IsPositive() {
		return nil
	}

	confidence := decimal.NewFromFloat(math.Min(divergence/(2*threshold), 1.0))

	s.incr(func(c *Counters) { c.BregmanArbSignals++ })
	return []types.TradeSignal{{
		TokenID:     underpriced,
		Side:        types.SideBuy,
		Confidence:  confidence.Truncate(4),
		TargetPrice: ask.Price,
		Size:        size,
		Reason:      "arbitrage: bregman projection found the most underpriced outcome",
	}}
}
