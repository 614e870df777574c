// Package marketdata polls the exchange for order-book snapshots on a
// dynamic subscription set and fans the results out on the event bus.
package marketdata

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atlas-desktop/arb-engine/internal/bus"
	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// BookReader is the subset of exchange.Client this service depends on.
type BookReader interface {
	GetOrderBook(ctx context.Context, tokenID string) (types.OrderBook, error)
}

// Service is the periodic order-book poller described in SPEC_FULL.md
// §4.3: a subscription set, a last-seen order-book cache, and a ticker
// that dispatches one concurrent fetch per subscribed token each tick.
type Service struct {
	logger   *zap.Logger
	eventBus *bus.Bus
	client   BookReader
	interval time.Duration

	mu            sync.RWMutex
	subscriptions map[string]struct{}
	books         map[string]types.OrderBook

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Market Data Service. interval defaults to 1 second.
func New(logger *zap.Logger, eventBus *bus.Bus, client BookReader, interval time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{
		logger:        logger.Named("market-data"),
		eventBus:      eventBus,
		client:        client,
		interval:      interval,
		subscriptions: make(map[string]struct{}),
		books:         make(map[string]types.OrderBook),
	}
}

// Subscribe adds tokens to the subscription set. Idempotent.
func (s *Service) Subscribe(tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		s.subscriptions[t] = struct{}{}
	}
}

// Unsubscribe removes tokens from the subscription set.
func (s *Service) Unsubscribe(tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		delete(s.subscriptions, t)
	}
}

// GetOrderBook returns the last-seen order book for token, if any.
func (s *Service) GetOrderBook(token string) (types.OrderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[token]
	return book, ok
}

// Start performs one immediate poll and schedules periodic polls at the
// configured interval.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.pollOnce()

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
				s.pollOnce()
			}
		}
	}()
}

// Stop suppresses future timer fires and waits for the in-flight tick to
// finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// pollOnce fetches every subscribed token's order book concurrently. A
// failure on one token is logged and does not prevent the others from
// completing; the tick as a whole never returns an error to the caller.
//
// Fetches run against context.Background() rather than Start's ctx:
// cancellation here is cooperative (see Stop) and must not abort an
// in-flight fetch, so the per-fetch context is deliberately independent
// of the one Stop cancels.
func (s *Service) pollOnce() {
	s.mu.RLock()
	tokens := make([]string, 0, len(s.subscriptions))
	for t := range s.subscriptions {
		tokens = append(tokens, t)
	}
	s.mu.RUnlock()

	var group errgroup.Group
	for _, token := range tokens {
		token := token
		group.Go(func() error {
			book, err := s.client.GetOrderBook(context.Background(), token)
			if err != nil {
				s.logger.Warn("order book fetch failed",
					zap.String("tokenId", token),
					zap.Error(err),
				)
				return nil
			}

			s.mu.Lock()
			s.books[token] = book
			s.mu.Unlock()

			if s.eventBus != nil {
				s.eventBus.Emit(bus.EventOrderBookUpdate, book)
			}
			return nil
		})
	}
	_ = group.Wait()
}
