package rules

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventBusTypedAndWildcard(t *testing.T) {
	bus := NewEventBus()

	movedCount := 0
	allCount := 0

	moved := bus.On(EventUnitMoved, func(e Event) error {
		movedCount++
		return nil
	})
	all := bus.OnAll(func(e Event) error {
		allCount++
		return nil
	})

	if err := bus.Emit(NewEvent(EventUnitMoved, "unit-1", "unit-1", "alice")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := bus.Emit(NewEvent(EventCardDrawn, "card-alice-1", "", "alice")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if movedCount != 1 {
		t.Fatalf("expected moved count 1, got %d", movedCount)
	}
	if allCount != 2 {
		t.Fatalf("expected wildcard count 2, got %d", allCount)
	}

	bus.Off(moved)
	bus.Off(all)
	bus.Off(all)

	if err := bus.Emit(NewEvent(EventUnitMoved, "unit-1", "unit-1", "alice")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if movedCount != 1 || allCount != 2 {
		t.Fatalf("expected no delivery after Off, got moved=%d all=%d", movedCount, allCount)
	}
	if bus.ListenerCount() != 0 {
		t.Fatalf("expected no listeners, got %d", bus.ListenerCount())
	}
}

func TestEventBusRegistrationOrderAcrossWildcard(t *testing.T) {
	bus := NewEventBus()
	var order []string

	bus.On(EventTurnEnded, func(e Event) error { order = append(order, "typed-1"); return nil })
	bus.OnAll(func(e Event) error { order = append(order, "wild"); return nil })
	bus.On(EventTurnEnded, func(e Event) error { order = append(order, "typed-2"); return nil })

	if err := bus.Emit(NewEvent(EventTurnEnded, "", "", "alice")); err != nil {
		t.Fatalf("emit: %v", err)
	}

	expected := []string{"typed-1", "wild", "typed-2"}
	if len(order) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, order)
		}
	}
}

func TestEventBusSeqIsMonotonic(t *testing.T) {
	bus := NewEventBus()
	var seen []int64
	bus.OnAll(func(e Event) error {
		seen = append(seen, e.Seq)
		if e.Type == EventUnitAttacked {
			return bus.Emit(NewEvent(EventDamageDealt, e.TargetID, e.SourceID, e.PlayerID))
		}
		return nil
	})

	if err := bus.Emit(NewEvent(EventUnitAttacked, "unit-2", "unit-1", "alice")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := bus.Emit(NewEvent(EventTurnEnded, "", "", "alice")); err != nil {
		t.Fatalf("emit: %v", err)
	}

	expected := []int64{1, 2, 3}
	if len(seen) != len(expected) {
		t.Fatalf("expected seqs %v, got %v", expected, seen)
	}
	for i := range expected {
		if seen[i] != expected[i] {
			t.Fatalf("expected seqs %v, got %v", expected, seen)
		}
	}
	if bus.LastSeq() != 3 {
		t.Fatalf("expected last seq 3, got %d", bus.LastSeq())
	}
}

func TestEventBusOffDuringDispatchSkipsLaterListener(t *testing.T) {
	bus := NewEventBus()
	secondCalls := 0
	var second int

	bus.On(EventTurnStarted, func(e Event) error {
		bus.Off(second)
		return nil
	})
	second = bus.On(EventTurnStarted, func(e Event) error {
		secondCalls++
		return nil
	})

	if err := bus.Emit(NewEvent(EventTurnStarted, "", "", "alice")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if secondCalls != 0 {
		t.Fatalf("expected removed listener to be skipped, got %d calls", secondCalls)
	}
}

func TestEventBusOnDuringDispatchSeesNextEvent(t *testing.T) {
	bus := NewEventBus()
	lateCalls := 0
	registered := false

	bus.On(EventTurnStarted, func(e Event) error {
		if !registered {
			registered = true
			bus.On(EventTurnStarted, func(e Event) error {
				lateCalls++
				return nil
			})
		}
		return nil
	})

	_ = bus.Emit(NewEvent(EventTurnStarted, "", "", "alice"))
	if lateCalls != 0 {
		t.Fatalf("expected late listener to miss current event, got %d", lateCalls)
	}
	_ = bus.Emit(NewEvent(EventTurnStarted, "", "", "bob"))
	if lateCalls != 1 {
		t.Fatalf("expected late listener to see next event, got %d", lateCalls)
	}
}

func TestEventBusListenerErrorStopsSequentialDispatch(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	after := 0

	bus.OnAll(func(e Event) error { return boom })
	bus.OnAll(func(e Event) error { after++; return nil })

	err := bus.Emit(NewEvent(EventCardPlayed, "card-alice-1", "", "alice"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped listener error, got %v", err)
	}
	if after != 0 {
		t.Fatalf("expected dispatch to stop, later listener ran %d times", after)
	}
}

func TestEventBusMaxDepthIsFatal(t *testing.T) {
	bus := NewEventBus(WithMaxDepth(4))
	calls := 0
	bus.On(EventDamageDealt, func(e Event) error {
		calls++
		return bus.Emit(e)
	})

	err := bus.Emit(NewEvent(EventDamageDealt, "unit-1", "unit-2", "alice"))
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if !errors.Is(err, ErrMaxEventDepth) {
		t.Fatalf("expected ErrMaxEventDepth, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 nested deliveries, got %d", calls)
	}
	if bus.Depth() != 0 {
		t.Fatalf("expected depth to unwind to 0, got %d", bus.Depth())
	}
}

func TestEventBusParallelDelivery(t *testing.T) {
	bus := NewEventBus(WithDeliveryMode(DeliveryParallel))
	var count atomic.Int32
	first := errors.New("first")
	second := errors.New("second")

	bus.OnAll(func(e Event) error { count.Add(1); return first })
	bus.OnAll(func(e Event) error { count.Add(1); return second })
	bus.OnAll(func(e Event) error { count.Add(1); return nil })

	err := bus.Emit(NewEvent(EventTurnEnded, "", "", "alice"))
	if count.Load() != 3 {
		t.Fatalf("expected every listener to run, got %d", count.Load())
	}
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected joined errors, got %v", err)
	}
}

func TestEventBusFireAndForget(t *testing.T) {
	bus := NewEventBus(WithDeliveryMode(DeliveryFireAndForget))
	var wg sync.WaitGroup
	wg.Add(2)
	bus.OnAll(func(e Event) error { wg.Done(); return nil })
	bus.OnAll(func(e Event) error { wg.Done(); return errors.New("logged only") })

	if err := bus.Emit(NewEvent(EventTurnEnded, "", "", "alice")); err != nil {
		t.Fatalf("fire-and-forget emit should not fail, got %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listeners were not invoked")
	}
}

func TestEventWithMetaCopies(t *testing.T) {
	base := NewEvent(EventCardDrawn, "card-alice-1", "", "alice").WithMeta("zone", "hand")
	derived := base.WithMeta("zone", "discard")

	if base.Meta("zone") != "hand" {
		t.Fatalf("expected original metadata untouched, got %q", base.Meta("zone"))
	}
	if derived.Meta("zone") != "discard" {
		t.Fatalf("expected derived metadata, got %q", derived.Meta("zone"))
	}
}
