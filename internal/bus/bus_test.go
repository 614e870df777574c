package bus

import (
	"errors"
	"testing"
)

func TestEmitDeliversInRegistrationOrder(t *testing.T) {
	b := New(nil)
	var order []int

	b.On(EventOrderBookUpdate, func(Event) error {
		order = append(order, 1)
		return nil
	})
	b.On(EventOrderBookUpdate, func(Event) error {
		order = append(order, 2)
		return nil
	})
	b.On(EventOrderBookUpdate, func(Event) error {
		order = append(order, 3)
		return nil
	})

	b.Emit(EventOrderBookUpdate, nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected handlers in registration order, got %v", order)
	}
}

func TestHandlerErrorDoesNotStopOthers(t *testing.T) {
	b := New(nil)
	var secondCalled bool

	b.On(EventRiskBreach, func(Event) error {
		return errors.New("boom")
	})
	b.On(EventRiskBreach, func(Event) error {
		secondCalled = true
		return nil
	})

	b.Emit(EventRiskBreach, nil)

	if !secondCalled {
		t.Fatal("expected second handler to run despite first returning an error")
	}
}

func TestHandlerPanicDoesNotStopOthers(t *testing.T) {
	b := New(nil)
	var secondCalled bool

	b.On(EventRiskBreach, func(Event) error {
		panic("boom")
	})
	b.On(EventRiskBreach, func(Event) error {
		secondCalled = true
		return nil
	})

	b.Emit(EventRiskBreach, nil)

	if !secondCalled {
		t.Fatal("expected second handler to run despite first panicking")
	}
}

func TestOnceDeliversExactlyOnceAndUnsubscribesFirst(t *testing.T) {
	b := New(nil)
	var calls int

	b.Once(EventMarketUpdate, func(Event) error {
		calls++
		return nil
	})

	b.Emit(EventMarketUpdate, nil)
	b.Emit(EventMarketUpdate, nil)

	if calls != 1 {
		t.Fatalf("expected exactly one delivery, got %d", calls)
	}
	if n := b.SubscriberCount(EventMarketUpdate); n != 0 {
		t.Fatalf("expected 0 subscribers after once fires, got %d", n)
	}
}

func TestOnceReentrantSubscribeDuringHandler(t *testing.T) {
	b := New(nil)
	var reentrantCalls int

	b.Once(EventMarketUpdate, func(Event) error {
		b.On(EventMarketUpdate, func(Event) error {
			reentrantCalls++
			return nil
		})
		return nil
	})

	b.Emit(EventMarketUpdate, nil)
	b.Emit(EventMarketUpdate, nil)

	if reentrantCalls != 1 {
		t.Fatalf("expected the re-entrant subscription to fire once, got %d", reentrantCalls)
	}
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	b := New(nil)
	var calls int

	unsub := b.On(EventTradeExecuted, func(Event) error {
		calls++
		return nil
	})
	unsub()

	b.Emit(EventTradeExecuted, nil)

	if calls != 0 {
		t.Fatalf("expected 0 calls after unsubscribe, got %d", calls)
	}
}

func TestEmitCarriesDataPayload(t *testing.T) {
	b := New(nil)
	var got any

	b.On(EventPositionChanged, func(e Event) error {
		got = e.Data
		return nil
	})

	b.Emit(EventPositionChanged, "payload")

	if got != "payload" {
		t.Fatalf("expected payload to round-trip, got %v", got)
	}
}
