package effects

import (
	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// ModifierBuilder provides a fluent API for composing modifiers.
// Each Build call produces a fresh modifier with fresh mixin instances, so one builder
// can serve as a factory for repeated applications.
type ModifierBuilder struct {
	typeID    string
	sourceID  string
	stackable bool
	duration  int
	mixins    []func() Mixin
}

// NewModifierBuilder creates a new modifier builder
func NewModifierBuilder(typeID string) *ModifierBuilder {
	return &ModifierBuilder{typeID: typeID}
}

// From sets the entity that created the modifier
func (b *ModifierBuilder) From(sourceID string) *ModifierBuilder {
	b.sourceID = sourceID
	return b
}

// Stacking makes repeated applications add stacks
func (b *ModifierBuilder) Stacking() *ModifierBuilder {
	b.stackable = true
	return b
}

// Intercept adds an interceptor for key
func (b *ModifierBuilder) Intercept(key StatKey, fn Interceptor) *ModifierBuilder {
	b.mixins = append(b.mixins, func() Mixin { return Intercept(key, fn) })
	return b
}

// Buff adds amount per stack to key
func (b *ModifierBuilder) Buff(key StatKey, amount int) *ModifierBuilder {
	return b.Intercept(key, AddPerStack(amount))
}

// On adds an event listener
func (b *ModifierBuilder) On(eventType rules.EventType, handler EventHandler) *ModifierBuilder {
	b.mixins = append(b.mixins, func() Mixin { return OnEvent(eventType, handler) })
	return b
}

// While adds a toggle predicate
func (b *ModifierBuilder) While(predicate Predicate) *ModifierBuilder {
	b.mixins = append(b.mixins, func() Mixin { return WhileActive(predicate) })
	return b
}

// For makes the modifier expire after n trigger events that pass filter
func (b *ModifierBuilder) For(n int, trigger rules.EventType, filter EventFilter) *ModifierBuilder {
	b.duration = n
	b.mixins = append(b.mixins, func() Mixin { return ExpireOn(trigger, filter) })
	return b
}

// Aura adds an aura granting the modifier built by grant to every eligible host of scope
func (b *ModifierBuilder) Aura(scope Scope, eligible AuraEligibility, grant *ModifierBuilder) *ModifierBuilder {
	b.mixins = append(b.mixins, func() Mixin {
		return GrantAura(scope, eligible, func(bd Binding) *Modifier {
			if grant.sourceID != "" {
				return grant.Build()
			}
			return grant.BuildFrom(bd.Host.EntityID())
		})
	})
	return b
}

// With adds a mixin produced by factory
func (b *ModifierBuilder) With(factory func() Mixin) *ModifierBuilder {
	b.mixins = append(b.mixins, factory)
	return b
}

// Build creates the modifier
func (b *ModifierBuilder) Build() *Modifier {
	mixins := make([]Mixin, 0, len(b.mixins))
	for _, factory := range b.mixins {
		mixins = append(mixins, factory())
	}
	opts := []ModifierOption{WithMixins(mixins...)}
	if b.sourceID != "" {
		opts = append(opts, FromSource(b.sourceID))
	}
	if b.stackable {
		opts = append(opts, Stackable())
	}
	if b.duration > 0 {
		opts = append(opts, Lasting(b.duration))
	}
	return NewModifier(b.typeID, opts...)
}

// BuildFrom creates the modifier with sourceID as its source, leaving the builder unchanged
func (b *ModifierBuilder) BuildFrom(sourceID string) *Modifier {
	c := *b
	c.sourceID = sourceID
	return c.Build()
}
