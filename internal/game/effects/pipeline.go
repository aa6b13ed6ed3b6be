package effects

import (
	"slices"
)

// StatKey names a derived stat computed through the interceptor pipeline.
type StatKey string

const (
	StatAttack         StatKey = "attack"
	StatMaxHealth      StatKey = "max_health"
	StatDamageDealt    StatKey = "damage_dealt"
	StatDamageReceived StatKey = "damage_received"
	StatManaCost       StatKey = "mana_cost"
	StatMoveRange      StatKey = "move_range"
	StatAttackRange    StatKey = "attack_range"
)

// StatKeys lists every known stat key.
var StatKeys = []StatKey{
	StatAttack,
	StatMaxHealth,
	StatDamageDealt,
	StatDamageReceived,
	StatManaCost,
	StatMoveRange,
	StatAttackRange,
}

// IsStatKey reports whether key is known.
func IsStatKey(key string) bool {
	return slices.Contains(StatKeys, StatKey(key))
}

// InterceptContext is passed to every interceptor in a fold.
type InterceptContext struct {
	HostID     string
	ModifierID string
	TypeID     string
	Stacks     int
	// SourceID is the counterpart of the computation, e.g. the attacker when computing
	// damage_received.
	SourceID string
}

// Interceptor transforms a stat value. Interceptors must be pure: the pipeline may
// evaluate them any number of times.
type Interceptor func(value int, ctx InterceptContext) int

// AddPerStack returns an interceptor adding amount once per stack.
func AddPerStack(amount int) Interceptor {
	return func(value int, ctx InterceptContext) int {
		return value + amount*ctx.Stacks
	}
}

// SetTo returns an interceptor replacing the value.
func SetTo(v int) Interceptor {
	return func(int, InterceptContext) int { return v }
}

// Floor returns an interceptor clamping the value to at least lower.
func Floor(lower int) Interceptor {
	return func(value int, _ InterceptContext) int {
		return max(value, lower)
	}
}

type interceptorEntry struct {
	mod   *Modifier
	index int
	key   StatKey
	fn    Interceptor
}

// Pipeline holds the interceptors registered on one host, kept in modifier attachment
// order and then mixin order.
type Pipeline struct {
	entries map[StatKey][]*interceptorEntry
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{entries: make(map[StatKey][]*interceptorEntry)}
}

func (p *Pipeline) register(mod *Modifier, index int, key StatKey, fn Interceptor) {
	list := p.entries[key]
	for _, e := range list {
		if e.mod == mod && e.index == index {
			return
		}
	}
	list = append(list, &interceptorEntry{mod: mod, index: index, key: key, fn: fn})
	slices.SortStableFunc(list, func(a, b *interceptorEntry) int {
		if a.mod.attachSeq != b.mod.attachSeq {
			if a.mod.attachSeq < b.mod.attachSeq {
				return -1
			}
			return 1
		}
		return a.index - b.index
	})
	p.entries[key] = list
}

func (p *Pipeline) unregister(mod *Modifier, index int, key StatKey) {
	list := p.entries[key]
	for i, e := range list {
		if e.mod == mod && e.index == index {
			p.entries[key] = slices.Delete(list, i, i+1)
			return
		}
	}
}

// Count returns the number of interceptors registered for key.
func (p *Pipeline) Count(key StatKey) int {
	return len(p.entries[key])
}

// Compute folds every enabled interceptor for key over base.
func (p *Pipeline) Compute(key StatKey, base int, ctx InterceptContext) int {
	value := base
	for _, e := range p.entries[key] {
		if !e.mod.enabled || !e.mod.attached {
			continue
		}
		c := ctx
		c.ModifierID = e.mod.id
		c.TypeID = e.mod.typeID
		c.Stacks = e.mod.stacks
		value = e.fn(value, c)
	}
	return value
}
