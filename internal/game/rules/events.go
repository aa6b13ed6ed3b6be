package rules

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// EventType names a domain event published on the bus.
type EventType string

// Wildcard subscribes a listener to every event type.
const Wildcard EventType = "*"

const (
	// Phase and turn events
	EventPhaseChanged      EventType = "PHASE_CHANGED"
	EventMulliganCompleted EventType = "MULLIGAN_COMPLETED"
	EventTurnStarted       EventType = "TURN_STARTED"
	EventTurnEnded         EventType = "TURN_ENDED"
	EventGameEnded         EventType = "GAME_ENDED"

	// Card events
	EventCardDrawn     EventType = "CARD_DRAWN"
	EventCardBurned    EventType = "CARD_BURNED"
	EventCardReplaced  EventType = "CARD_REPLACED"
	EventCardPlayed    EventType = "CARD_PLAYED"
	EventCardDiscarded EventType = "CARD_DISCARDED"

	// Unit and board events
	EventUnitSummoned  EventType = "UNIT_SUMMONED"
	EventUnitMoved     EventType = "UNIT_MOVED"
	EventUnitAttacked  EventType = "UNIT_ATTACKED"
	EventDamageDealt   EventType = "DAMAGE_DEALT"
	EventUnitHealed    EventType = "UNIT_HEALED"
	EventUnitDestroyed EventType = "UNIT_DESTROYED"
	EventCellCaptured  EventType = "CELL_CAPTURED"

	// Resource events
	EventManaChanged        EventType = "MANA_CHANGED"
	EventResourceActionUsed EventType = "RESOURCE_ACTION_USED"

	// Modifier lifecycle events
	EventModifierApplied  EventType = "MODIFIER_APPLIED"
	EventModifierStacked  EventType = "MODIFIER_STACKED"
	EventModifierRemoved  EventType = "MODIFIER_REMOVED"
	EventModifierEnabled  EventType = "MODIFIER_ENABLED"
	EventModifierDisabled EventType = "MODIFIER_DISABLED"

	// Interaction events
	EventInteractionStarted   EventType = "INTERACTION_STARTED"
	EventInteractionUpdated   EventType = "INTERACTION_UPDATED"
	EventInteractionCommitted EventType = "INTERACTION_COMMITTED"
	EventInteractionCancelled EventType = "INTERACTION_CANCELLED"
)

// Event is a single domain event. Seq is assigned by the bus on emission.
type Event struct {
	Seq      int64             `json:"seq"`
	Type     EventType         `json:"type"`
	TargetID string            `json:"targetId,omitempty"`
	SourceID string            `json:"sourceId,omitempty"`
	PlayerID string            `json:"playerId,omitempty"`
	Amount   int               `json:"amount,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates an event with the common fields populated.
func NewEvent(eventType EventType, targetID, sourceID, playerID string) Event {
	return Event{
		Type:     eventType,
		TargetID: targetID,
		SourceID: sourceID,
		PlayerID: playerID,
	}
}

// NewEventWithAmount creates an event carrying an amount.
func NewEventWithAmount(eventType EventType, targetID, sourceID, playerID string, amount int) Event {
	evt := NewEvent(eventType, targetID, sourceID, playerID)
	evt.Amount = amount
	return evt
}

// WithMeta returns a copy of the event with key set in its metadata.
func (e Event) WithMeta(key, value string) Event {
	meta := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[key] = value
	e.Metadata = meta
	return e
}

// Meta returns the metadata value for key.
func (e Event) Meta(key string) string {
	return e.Metadata[key]
}

// DeliveryMode controls how Emit fans an event out to listeners.
type DeliveryMode int

const (
	// DeliverySequential calls listeners one after another on the emitting goroutine.
	DeliverySequential DeliveryMode = iota
	// DeliveryParallel calls every listener on its own goroutine and waits for all.
	DeliveryParallel
	// DeliveryFireAndForget starts every listener on its own goroutine and returns.
	DeliveryFireAndForget
)

func (m DeliveryMode) String() string {
	switch m {
	case DeliverySequential:
		return "SEQUENTIAL"
	case DeliveryParallel:
		return "PARALLEL"
	case DeliveryFireAndForget:
		return "FIRE_AND_FORGET"
	default:
		return "UNKNOWN"
	}
}

// DefaultMaxDepth bounds re-entrant emission.
const DefaultMaxDepth = 64

// Listener handles one event. A returned error aborts a sequential dispatch.
type Listener func(Event) error

type subscription struct {
	handle    int
	eventType EventType
	listener  Listener
	active    atomic.Bool
}

// EventBus is a publish/subscribe hub with wildcard subscriptions. Listeners for an
// event are called in registration order regardless of whether they subscribed to the
// event type or to the wildcard.
type EventBus struct {
	mu         sync.RWMutex
	subs       []*subscription
	nextHandle int
	nextSeq    int64

	mode     DeliveryMode
	maxDepth int32
	depth    atomic.Int32
	logger   *zap.Logger
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithDeliveryMode selects the fan-out strategy.
func WithDeliveryMode(mode DeliveryMode) BusOption {
	return func(b *EventBus) { b.mode = mode }
}

// WithMaxDepth overrides the re-entrant emission limit. Values <= 0 keep the default.
func WithMaxDepth(depth int) BusOption {
	return func(b *EventBus) {
		if depth > 0 {
			b.maxDepth = int32(depth)
		}
	}
}

// WithBusLogger sets the logger used for fire-and-forget listener failures.
func WithBusLogger(logger *zap.Logger) BusOption {
	return func(b *EventBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewEventBus constructs a fresh bus using sequential delivery.
func NewEventBus(opts ...BusOption) *EventBus {
	bus := &EventBus{
		subs:     make([]*subscription, 0, 32),
		mode:     DeliverySequential,
		maxDepth: DefaultMaxDepth,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// Mode returns the delivery mode.
func (bus *EventBus) Mode() DeliveryMode {
	return bus.mode
}

// On registers a listener for one event type (or Wildcard) and returns its handle.
func (bus *EventBus) On(eventType EventType, listener Listener) int {
	if listener == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.nextHandle++
	sub := &subscription{
		handle:    bus.nextHandle,
		eventType: eventType,
		listener:  listener,
	}
	sub.active.Store(true)
	bus.subs = append(bus.subs, sub)
	return sub.handle
}

// OnAll registers a wildcard listener.
func (bus *EventBus) OnAll(listener Listener) int {
	return bus.On(Wildcard, listener)
}

// Off removes the listener identified by handle. Unknown handles are ignored, so
// teardown code may call it more than once.
func (bus *EventBus) Off(handle int) {
	if handle <= 0 {
		return
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for i, sub := range bus.subs {
		if sub.handle == handle {
			sub.active.Store(false)
			bus.subs = append(bus.subs[:i], bus.subs[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of registered listeners.
func (bus *EventBus) ListenerCount() int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.subs)
}

// Depth returns the current emission nesting depth.
func (bus *EventBus) Depth() int {
	return int(bus.depth.Load())
}

// LastSeq returns the sequence number of the most recently emitted event.
func (bus *EventBus) LastSeq() int64 {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return bus.nextSeq
}

// Emit delivers the event to every listener registered for its type or the wildcard.
// Emitting from inside a listener is allowed up to the configured depth; beyond it a
// FatalError is returned.
func (bus *EventBus) Emit(event Event) error {
	depth := bus.depth.Add(1)
	defer bus.depth.Add(-1)
	if depth > bus.maxDepth {
		return Fatal("emit", fmt.Errorf("%w: %s at depth %d", ErrMaxEventDepth, event.Type, depth))
	}

	bus.mu.Lock()
	bus.nextSeq++
	event.Seq = bus.nextSeq
	targets := make([]*subscription, 0, len(bus.subs))
	for _, sub := range bus.subs {
		if sub.eventType == Wildcard || sub.eventType == event.Type {
			targets = append(targets, sub)
		}
	}
	bus.mu.Unlock()

	switch bus.mode {
	case DeliveryParallel:
		return bus.deliverParallel(event, targets)
	case DeliveryFireAndForget:
		bus.deliverDetached(event, targets)
		return nil
	default:
		return bus.deliverSequential(event, targets)
	}
}

// EmitBatch emits events in order and stops at the first failure.
func (bus *EventBus) EmitBatch(events []Event) error {
	for _, event := range events {
		if err := bus.Emit(event); err != nil {
			return err
		}
	}
	return nil
}

func (bus *EventBus) deliverSequential(event Event, targets []*subscription) error {
	for _, sub := range targets {
		// A listener removed by an earlier listener of this event is skipped.
		if !sub.active.Load() {
			continue
		}
		if err := sub.listener(event); err != nil {
			return fmt.Errorf("listener %d on %s: %w", sub.handle, event.Type, err)
		}
	}
	return nil
}

func (bus *EventBus) deliverParallel(event Event, targets []*subscription) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, sub := range targets {
		if !sub.active.Load() {
			continue
		}
		wg.Add(1)
		go func(sub *subscription) {
			defer wg.Done()
			if err := sub.listener(event); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("listener %d on %s: %w", sub.handle, event.Type, err))
				mu.Unlock()
			}
		}(sub)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (bus *EventBus) deliverDetached(event Event, targets []*subscription) {
	for _, sub := range targets {
		if !sub.active.Load() {
			continue
		}
		go func(sub *subscription) {
			if err := sub.listener(event); err != nil {
				bus.logger.Warn("detached listener failed",
					zap.Int("handle", sub.handle),
					zap.String("event_type", string(event.Type)),
					zap.Error(err),
				)
			}
		}(sub)
	}
}
