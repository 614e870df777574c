// Package bus provides a typed, synchronous publish/subscribe event bus.
package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType identifies the kind of payload carried by an Event.
type EventType string

const (
	EventOrderBookUpdate     EventType = "orderbook_update"
	EventTradeExecuted       EventType = "trade_executed"
	EventOrderFilled         EventType = "order_filled"
	EventOrderCancelled      EventType = "order_cancelled"
	EventPositionChanged     EventType = "position_changed"
	EventStrategySignal      EventType = "strategy_signal"
	EventRiskBreach          EventType = "risk_breach"
	EventMarketUpdate        EventType = "market_update"
	EventMarketGroupsUpdated EventType = "market_groups_updated"
)

// Event is the envelope delivered to every subscriber of its Type.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

// Handler processes one Event. A returned error is recovered by the bus,
// logged, and does not stop delivery to subsequent handlers.
type Handler func(Event) error

// Unsubscribe removes the subscription it was returned from. Safe to call
// more than once and safe to call from within the handler itself.
type Unsubscribe func()

// subscription is one registered handler for one event type.
type subscription struct {
	id      uint64
	handler Handler
	active  bool
}

// Bus is a typed, synchronous, in-process event dispatcher.
//
// Emit delivers to every subscriber of a type in registration order on the
// calling goroutine; it does not return until every handler has run. A
// panic or error from a handler is recovered and logged, never propagated
// to the emitter or to other handlers. This is the concrete expression of
// the single-logical-event-loop ordering guarantee: there is no worker
// pool and no buffered channel standing between Emit and its subscribers.
type Bus struct {
	mu       sync.Mutex
	subs     map[EventType][]*subscription
	nextID   uint64
	logger   *zap.Logger
}

// New constructs an empty Bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[EventType][]*subscription),
		logger: logger.Named("bus"),
	}
}

// On registers handler for events of type t, appended after any existing
// subscribers for that type. The returned Unsubscribe removes it.
func (b *Bus) On(t EventType, handler Handler) Unsubscribe {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: handler, active: true}
	b.subs[t] = append(b.subs[t], sub)
	b.mu.Unlock()

	return func() { b.unsubscribe(t, sub.id) }
}

// Once registers handler to run exactly once. It self-unsubscribes before
// the handler is invoked, so a handler that re-enters On/Emit observes a
// bus already clear of this subscription.
func (b *Bus) Once(t EventType, handler Handler) Unsubscribe {
	var unsub Unsubscribe
	unsub = b.On(t, func(e Event) error {
		unsub()
		return handler(e)
	})
	return unsub
}

// Off removes a previously registered subscription by its Unsubscribe
// token. Provided for parity with the on/off/once vocabulary; calling the
// Unsubscribe value returned from On directly is equivalent and preferred.
func (b *Bus) Off(unsub Unsubscribe) {
	if unsub != nil {
		unsub()
	}
}

func (b *Bus) unsubscribe(t EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t]
	for i, s := range subs {
		if s.id == id {
			b.subs[t] = append(subs[:i], subs[i+1:]...)
			s.active = false
			return
		}
	}
}

// Emit delivers data to every subscriber of t, synchronously, in
// registration order. It never returns an error: per-handler failures are
// recovered and logged against the event type.
func (b *Bus) Emit(t EventType, data any) {
	b.mu.Lock()
	subs := make([]*subscription, len(b.subs[t]))
	copy(subs, b.subs[t])
	b.mu.Unlock()

	event := Event{Type: t, Timestamp: time.Now(), Data: data}
	for _, sub := range subs {
		b.invoke(sub, event)
	}
}

func (b *Bus) invoke(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("eventType", string(event.Type)),
				zap.Any("recovered", r),
			)
		}
	}()

	if !sub.active {
		return
	}
	if err := sub.handler(event); err != nil {
		b.logger.Error("event handler returned error",
			zap.String("eventType", string(event.Type)),
			zap.Error(err),
		)
	}
}

// SubscriberCount returns the number of active subscribers for t. Intended
// for tests and the dashboard, not for production control flow.
func (b *Bus) SubscriberCount(t EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[t])
}
