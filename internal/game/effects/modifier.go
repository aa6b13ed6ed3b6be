// Package effects implements the modifier kernel: modifiers attached to entities,
// composed from mixins that intercept stats, listen to events, expire, toggle and
// project auras over the live population.
package effects

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// Scope selects a population for aura reconciliation.
type Scope int

const (
	ScopeUnits Scope = iota
	ScopeCards
)

func (s Scope) String() string {
	switch s {
	case ScopeUnits:
		return "units"
	case ScopeCards:
		return "cards"
	default:
		return fmt.Sprintf("scope_%d", int(s))
	}
}

// Host is an entity that can carry modifiers.
type Host interface {
	EntityID() string
	Modifiers() *Manager
}

// Env is the world a modifier lives in.
type Env interface {
	Bus() *rules.EventBus
	// Population returns the live hosts of a scope in a stable order.
	Population(scope Scope) []Host
	// Lookup resolves a live host by id.
	Lookup(id string) (Host, bool)
}

// MixinKind tags the behaviour of a mixin.
type MixinKind int

const (
	KindInterceptor MixinKind = iota
	KindListener
	KindDuration
	KindToggle
	KindAura
)

var mixinKindNames = map[MixinKind]string{
	KindInterceptor: "interceptor",
	KindListener:    "listener",
	KindDuration:    "duration",
	KindToggle:      "toggle",
	KindAura:        "aura",
}

func (k MixinKind) String() string {
	if name, ok := mixinKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("mixin_%d", int(k))
}

// Binding is what a mixin sees when its hooks run.
type Binding struct {
	Env      Env
	Host     Host
	Modifier *Modifier
	// Index is the mixin's position in the modifier.
	Index int
}

// Bus is shorthand for b.Env.Bus().
func (b Binding) Bus() *rules.EventBus {
	return b.Env.Bus()
}

// Mixin is one unit of modifier behaviour. A mixin instance belongs to exactly one
// modifier. OnRemoved must undo everything OnApplied did and tolerate being called
// when nothing is applied.
type Mixin interface {
	Kind() MixinKind
	OnApplied(b Binding) error
	OnRemoved(b Binding) error
	OnReapplied(b Binding) error
}

// Togglable mixins contribute a predicate that enables or disables their modifier.
type Togglable interface {
	Mixin
	IsActive(b Binding) bool
}

type baseMixin struct{}

func (baseMixin) OnApplied(Binding) error   { return nil }
func (baseMixin) OnRemoved(Binding) error   { return nil }
func (baseMixin) OnReapplied(Binding) error { return nil }

// Modifier is a named, stackable container of mixins attached to one host.
type Modifier struct {
	id        string
	typeID    string
	sourceID  string
	stackable bool
	stacks    int
	enabled   bool
	duration  int
	remaining int
	mixins    []Mixin
	live      []bool

	manager   *Manager
	attached  bool
	attachSeq int64
}

// ModifierOption configures a modifier.
type ModifierOption func(*Modifier)

// Stackable lets repeated applications add stacks instead of being ignored.
func Stackable() ModifierOption {
	return func(m *Modifier) { m.stackable = true }
}

// Lasting sets the remaining-duration counter consumed by DurationMixin.
func Lasting(n int) ModifierOption {
	return func(m *Modifier) {
		m.duration = n
		m.remaining = n
	}
}

// FromSource records the entity that created the modifier.
func FromSource(id string) ModifierOption {
	return func(m *Modifier) { m.sourceID = id }
}

// WithMixins appends mixins in order.
func WithMixins(mixins ...Mixin) ModifierOption {
	return func(m *Modifier) { m.mixins = append(m.mixins, mixins...) }
}

// modifierNamespace derives modifier ids from host, type and attachment sequence so that
// replays of a match produce identical ids.
var modifierNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tactics-server-go/modifier"))

func modifierID(hostID, typeID string, seq int64) string {
	return uuid.NewSHA1(modifierNamespace, []byte(fmt.Sprintf("%s/%s/%d", hostID, typeID, seq))).String()
}

// NewModifier creates a detached, enabled modifier with one stack. Its id is assigned
// when it is attached.
func NewModifier(typeID string, opts ...ModifierOption) *Modifier {
	m := &Modifier{
		typeID:  typeID,
		stacks:  1,
		enabled: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.live = make([]bool, len(m.mixins))
	return m
}

func (m *Modifier) ID() string       { return m.id }
func (m *Modifier) TypeID() string   { return m.typeID }
func (m *Modifier) SourceID() string { return m.sourceID }
func (m *Modifier) Stackable() bool  { return m.stackable }
func (m *Modifier) Stacks() int      { return m.stacks }
func (m *Modifier) Enabled() bool    { return m.enabled }
func (m *Modifier) Attached() bool   { return m.attached }

// Remaining returns the remaining duration and whether the modifier is timed.
func (m *Modifier) Remaining() (int, bool) {
	return m.remaining, m.duration > 0
}

// Mixins returns the mixins in composition order.
func (m *Modifier) Mixins() []Mixin {
	return append([]Mixin(nil), m.mixins...)
}

// Host returns the entity the modifier is attached to.
func (m *Modifier) Host() Host {
	if m.manager == nil {
		return nil
	}
	return m.manager.host
}

// Enable re-applies the modifier's mixins. No-op when already enabled or detached.
func (m *Modifier) Enable() error {
	if m.manager == nil || !m.attached {
		return nil
	}
	return m.manager.setEnabled(m, true)
}

// Disable withdraws the modifier's mixins while keeping stacks and duration.
func (m *Modifier) Disable() error {
	if m.manager == nil || !m.attached {
		return nil
	}
	return m.manager.setEnabled(m, false)
}

// toggleLeader returns the index of the first togglable mixin, or -1.
func (m *Modifier) toggleLeader() int {
	for i, mx := range m.mixins {
		if _, ok := mx.(Togglable); ok {
			return i
		}
	}
	return -1
}

// ModifierView is the serializable form of a modifier.
type ModifierView struct {
	ID        string `json:"id"`
	TypeID    string `json:"type"`
	SourceID  string `json:"source,omitempty"`
	Stacks    int    `json:"stacks"`
	Enabled   bool   `json:"enabled"`
	Remaining int    `json:"remaining,omitempty"`
}

// View returns the serializable form.
func (m *Modifier) View() ModifierView {
	return ModifierView{
		ID:        m.id,
		TypeID:    m.typeID,
		SourceID:  m.sourceID,
		Stacks:    m.stacks,
		Enabled:   m.enabled,
		Remaining: m.remaining,
	}
}
