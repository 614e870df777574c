// Package discovery periodically fetches candidate multi-outcome event
// groups from the Gamma catalog and emits market_groups_updated when the
// canonical group list changes.
package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/arb-engine/internal/bus"
	"github.com/atlas-desktop/arb-engine/internal/discovery/gamma"
	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// Catalog is the subset of the Gamma client this service depends on,
// narrowed for testability.
type Catalog interface {
	ListEvents(ctx context.Context, filter gamma.EventsFilter) ([]gamma.Event, error)
}

// Service periodically polls a Catalog and emits market_groups_updated
// whenever the derived group list changes.
type Service struct {
	logger   *zap.Logger
	eventBus *bus.Bus
	catalog  Catalog

	tags     []string
	limit    int
	interval time.Duration

	mu         sync.RWMutex
	groups     []types.MarketGroup
	lastSerial string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config parameterizes a Service.
type Config struct {
	Tags     []string
	Limit    int
	Interval time.Duration
}

// New constructs a Discovery Service.
func New(logger *zap.Logger, eventBus *bus.Bus, catalog Catalog, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Service{
		logger:   logger.Named("discovery"),
		eventBus: eventBus,
		catalog:  catalog,
		tags:     cfg.Tags,
		limit:    cfg.Limit,
		interval: cfg.Interval,
	}
}

// Start performs one immediate fetch and schedules periodic polls.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.FetchAndUpdate(runCtx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.FetchAndUpdate(runCtx)
			}
		}
	}()
}

// Stop suppresses future timer fires and waits for any in-flight fetch.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// GetMarketGroups returns the currently known market groups.
func (s *Service) GetMarketGroups() []types.MarketGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.MarketGroup, len(s.groups))
	copy(out, s.groups)
	return out
}

// FetchAndUpdate fetches the catalog once, derives the group list, and
// emits market_groups_updated only if the canonical serialization changed
// from the last emission. Exported for direct use in tests.
func (s *Service) FetchAndUpdate(ctx context.Context) {
	active := true
	closed := false
	events, err := s.catalog.ListEvents(ctx, gamma.EventsFilter{
		Tags:   s.tags,
		Active: &active,
		Closed: &closed,
		Limit:  s.limit,
	})
	if err != nil {
		s.logger.Warn("catalog fetch failed, preserving previous state", zap.Error(err))
		return
	}

	groups := make([]types.MarketGroup, 0, len(events))
	for _, event := range events {
		if group, ok := extractGroup(event); ok {
			groups = append(groups, group)
		}
	}

	serial := canonicalSerialize(groups)

	s.mu.Lock()
	changed := serial != s.lastSerial
	if changed {
		s.groups = groups
		s.lastSerial = serial
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info("market groups updated", zap.Int("count", len(groups)))
		if s.eventBus != nil {
			s.eventBus.Emit(bus.EventMarketGroupsUpdated, groups)
		}
	}
}

// extractGroup derives zero or one MarketGroup from a Gamma event per the
// neg-risk / binary rules: a neg-risk event with >= 2 sub-markets
// contributes the "yes" token of each; any event with exactly one
// sub-market (neg-risk or not) falls through to the binary path and
// contributes both of that sub-market's tokens; anything else is skipped.
func extractGroup(event gamma.Event) (types.MarketGroup, bool) {
	if event.NegRisk && len(event.Markets) >= 2 {
		tokenIDs := make([]string, 0, len(event.Markets))
		for _, market := range event.Markets {
			ids := market.ClobTokenIDs()
			if len(ids) == 0 {
				continue
			}
			tokenIDs = append(tokenIDs, ids[0])
		}
		if len(tokenIDs) < 2 {
			return types.MarketGroup{}, false
		}
		return types.MarketGroup{ConditionID: event.ID, TokenIDs: tokenIDs}, true
	}

	if len(event.Markets) == 1 {
		ids := event.Markets[0].ClobTokenIDs()
		if len(ids) == 2 {
			return types.MarketGroup{ConditionID: event.Markets[0].ConditionID, TokenIDs: ids}, true
		}
	}

	return types.MarketGroup{}, false
}

// canonicalSerialize produces a deterministic string representation of a
// group list: lexicographically sorted "condition_id:joined_token_ids"
// entries, so two structurally-equal lists in different orders compare
// equal.
func canonicalSerialize(groups []types.MarketGroup) string {
	entries := make([]string, 0, len(groups))
	for _, g := range groups {
		entries = append(entries, g.ConditionID+":"+strings.Join(g.TokenIDs, ","))
	}
	sort.Strings(entries)
	return strings.Join(entries, "|")
}
