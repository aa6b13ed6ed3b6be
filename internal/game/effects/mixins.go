package effects

import (
	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// InterceptorMixin registers one interceptor on the host's pipeline while live.
type InterceptorMixin struct {
	baseMixin
	key StatKey
	fn  Interceptor
}

// Intercept creates an interceptor mixin for key.
func Intercept(key StatKey, fn Interceptor) *InterceptorMixin {
	return &InterceptorMixin{key: key, fn: fn}
}

func (*InterceptorMixin) Kind() MixinKind { return KindInterceptor }

// Key returns the stat key the mixin intercepts.
func (mx *InterceptorMixin) Key() StatKey { return mx.key }

func (mx *InterceptorMixin) OnApplied(b Binding) error {
	b.Host.Modifiers().pipeline.register(b.Modifier, b.Index, mx.key, mx.fn)
	return nil
}

func (mx *InterceptorMixin) OnRemoved(b Binding) error {
	b.Host.Modifiers().pipeline.unregister(b.Modifier, b.Index, mx.key)
	return nil
}

// EventHandler reacts to a bus event on behalf of a modifier.
type EventHandler func(b Binding, e rules.Event) error

// ListenerMixin subscribes a handler to one event type, or every event via
// rules.Wildcard, while live.
type ListenerMixin struct {
	baseMixin
	eventType rules.EventType
	handler   EventHandler
	handle    int
}

// OnEvent creates a listener mixin.
func OnEvent(eventType rules.EventType, handler EventHandler) *ListenerMixin {
	return &ListenerMixin{eventType: eventType, handler: handler}
}

func (*ListenerMixin) Kind() MixinKind { return KindListener }

func (mx *ListenerMixin) OnApplied(b Binding) error {
	if mx.handle != 0 {
		return nil
	}
	mx.handle = b.Bus().On(mx.eventType, func(e rules.Event) error {
		if !b.Modifier.attached || !b.Modifier.enabled {
			return nil
		}
		return mx.handler(b, e)
	})
	return nil
}

func (mx *ListenerMixin) OnRemoved(b Binding) error {
	if mx.handle != 0 {
		b.Bus().Off(mx.handle)
		mx.handle = 0
	}
	return nil
}

// EventFilter decides whether an event counts for a duration.
type EventFilter func(b Binding, e rules.Event) bool

// DurationMixin decrements the modifier's remaining counter on each trigger event that
// passes the filter and detaches the modifier when the counter reaches zero.
type DurationMixin struct {
	baseMixin
	trigger rules.EventType
	filter  EventFilter
	handle  int
}

// ExpireOn creates a duration mixin. filter may be nil.
func ExpireOn(trigger rules.EventType, filter EventFilter) *DurationMixin {
	return &DurationMixin{trigger: trigger, filter: filter}
}

func (*DurationMixin) Kind() MixinKind { return KindDuration }

func (mx *DurationMixin) OnApplied(b Binding) error {
	if mx.handle != 0 {
		return nil
	}
	mx.handle = b.Bus().On(mx.trigger, func(e rules.Event) error {
		mod := b.Modifier
		if !mod.attached || !mod.enabled {
			return nil
		}
		if mx.filter != nil && !mx.filter(b, e) {
			return nil
		}
		mod.remaining--
		if mod.remaining > 0 {
			return nil
		}
		return b.Host.Modifiers().Expire(mod)
	})
	return nil
}

func (mx *DurationMixin) OnRemoved(b Binding) error {
	if mx.handle != 0 {
		b.Bus().Off(mx.handle)
		mx.handle = 0
	}
	return nil
}

// Predicate is a toggle condition.
type Predicate func(b Binding) bool

// ToggleMixin enables its modifier while its predicate holds. When a modifier carries
// several toggles only the first one subscribes; it evaluates the conjunction of all of
// them after every event.
type ToggleMixin struct {
	baseMixin
	predicate Predicate
	handle    int
}

// WhileActive creates a toggle mixin.
func WhileActive(predicate Predicate) *ToggleMixin {
	return &ToggleMixin{predicate: predicate}
}

func (*ToggleMixin) Kind() MixinKind { return KindToggle }

func (mx *ToggleMixin) IsActive(b Binding) bool {
	return mx.predicate == nil || mx.predicate(b)
}

func (mx *ToggleMixin) OnApplied(b Binding) error {
	if mx.handle != 0 || b.Modifier.toggleLeader() != b.Index {
		return nil
	}
	mx.handle = b.Bus().OnAll(func(rules.Event) error {
		return b.Host.Modifiers().syncToggle(b.Modifier)
	})
	return nil
}

func (mx *ToggleMixin) OnRemoved(b Binding) error {
	if mx.handle != 0 {
		b.Bus().Off(mx.handle)
		mx.handle = 0
	}
	return nil
}
