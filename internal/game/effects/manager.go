package effects

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// ErrAlreadyAttached is returned when a modifier instance is added twice.
var ErrAlreadyAttached = errors.New("modifier already attached")

// Manager owns the modifiers of one host, in attachment order, together with the host's
// interceptor pipeline.
type Manager struct {
	env      Env
	host     Host
	mods     []*Modifier
	pipeline *Pipeline
	nextSeq  int64
}

// NewManager creates the modifier manager of host.
func NewManager(env Env, host Host) *Manager {
	return &Manager{
		env:      env,
		host:     host,
		pipeline: NewPipeline(),
	}
}

// Pipeline returns the host's interceptor pipeline.
func (m *Manager) Pipeline() *Pipeline {
	return m.pipeline
}

// Get returns the attached modifier with typeID, or nil.
func (m *Manager) Get(typeID string) *Modifier {
	for _, mod := range m.mods {
		if mod.typeID == typeID {
			return mod
		}
	}
	return nil
}

// Has reports whether a modifier with typeID is attached.
func (m *Manager) Has(typeID string) bool {
	return m.Get(typeID) != nil
}

// HasEnabled reports whether a modifier with typeID is attached and enabled.
func (m *Manager) HasEnabled(typeID string) bool {
	mod := m.Get(typeID)
	return mod != nil && mod.enabled
}

// List returns the attached modifiers in attachment order.
func (m *Manager) List() []*Modifier {
	return slices.Clone(m.mods)
}

// Len returns the number of attached modifiers.
func (m *Manager) Len() int {
	return len(m.mods)
}

// Compute derives a stat for the host.
func (m *Manager) Compute(key StatKey, base int, sourceID string) int {
	return m.pipeline.Compute(key, base, InterceptContext{HostID: m.host.EntityID(), SourceID: sourceID})
}

func (m *Manager) binding(mod *Modifier, index int) Binding {
	return Binding{Env: m.env, Host: m.host, Modifier: mod, Index: index}
}

// Add attaches mod. A stackable modifier whose type is already attached gains a stack
// instead, and a non-stackable duplicate is ignored; both return the existing instance.
func (m *Manager) Add(mod *Modifier) (*Modifier, error) {
	if mod == nil {
		return nil, fmt.Errorf("add modifier: nil modifier")
	}
	if mod.attached || mod.manager != nil {
		return nil, fmt.Errorf("add modifier %s: %w", mod.typeID, ErrAlreadyAttached)
	}
	if existing := m.Get(mod.typeID); existing != nil {
		if !existing.stackable {
			return existing, nil
		}
		existing.stacks++
		if existing.duration > 0 {
			existing.remaining = existing.duration
		}
		for i, mx := range existing.mixins {
			if !existing.attached {
				break
			}
			if !existing.live[i] {
				continue
			}
			if err := mx.OnReapplied(m.binding(existing, i)); err != nil {
				return existing, fmt.Errorf("reapply %s mixin %d: %w", existing.typeID, i, err)
			}
		}
		return existing, m.emit(rules.EventModifierStacked, existing)
	}

	m.nextSeq++
	mod.manager = m
	mod.attached = true
	mod.attachSeq = m.nextSeq
	mod.id = modifierID(m.host.EntityID(), mod.typeID, mod.attachSeq)
	m.mods = append(m.mods, mod)

	for i, mx := range mod.mixins {
		if !mod.attached {
			break
		}
		if err := m.applyMixin(mod, i, mx); err != nil {
			return mod, err
		}
	}
	if !mod.attached {
		return mod, nil
	}
	if err := m.emit(rules.EventModifierApplied, mod); err != nil {
		return mod, err
	}
	return mod, m.syncToggle(mod)
}

func (m *Manager) applyMixin(mod *Modifier, index int, mx Mixin) error {
	if mod.live[index] {
		return nil
	}
	mod.live[index] = true
	if err := mx.OnApplied(m.binding(mod, index)); err != nil {
		return fmt.Errorf("apply %s mixin %d (%s): %w", mod.typeID, index, mx.Kind(), err)
	}
	return nil
}

func (m *Manager) removeMixin(mod *Modifier, index int, mx Mixin) error {
	if !mod.live[index] {
		return nil
	}
	mod.live[index] = false
	if err := mx.OnRemoved(m.binding(mod, index)); err != nil {
		return fmt.Errorf("remove %s mixin %d (%s): %w", mod.typeID, index, mx.Kind(), err)
	}
	return nil
}

// Remove takes one stack off the modifier with typeID, detaching it when it is the last.
// Removing an absent type is a no-op.
func (m *Manager) Remove(typeID string) error {
	mod := m.Get(typeID)
	if mod == nil {
		return nil
	}
	return m.RemoveInstance(mod)
}

// RemoveInstance takes one stack off mod, detaching it when it is the last.
func (m *Manager) RemoveInstance(mod *Modifier) error {
	if mod == nil || !mod.attached || mod.manager != m {
		return nil
	}
	if mod.stacks > 1 {
		mod.stacks--
		return m.emit(rules.EventModifierStacked, mod)
	}
	return m.detach(mod)
}

// Expire detaches mod regardless of its stack count.
func (m *Manager) Expire(mod *Modifier) error {
	if mod == nil || !mod.attached || mod.manager != m {
		return nil
	}
	return m.detach(mod)
}

// Clear detaches every modifier, newest first.
func (m *Manager) Clear() error {
	var errs []error
	for len(m.mods) > 0 {
		mod := m.mods[len(m.mods)-1]
		if err := m.detach(mod); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) detach(mod *Modifier) error {
	if !mod.attached {
		return nil
	}
	mod.attached = false
	if idx := slices.Index(m.mods, mod); idx >= 0 {
		m.mods = slices.Delete(m.mods, idx, idx+1)
	}
	var errs []error
	for i, mx := range mod.mixins {
		if err := m.removeMixin(mod, i, mx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.emit(rules.EventModifierRemoved, mod); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// setEnabled withdraws or re-applies every non-toggle mixin. Toggle mixins stay live so
// the group leader can re-enable the modifier.
func (m *Manager) setEnabled(mod *Modifier, enabled bool) error {
	if mod.enabled == enabled {
		return nil
	}
	mod.enabled = enabled
	for i, mx := range mod.mixins {
		if !mod.attached || mod.enabled != enabled {
			return nil
		}
		if _, ok := mx.(Togglable); ok {
			continue
		}
		var err error
		if enabled {
			err = m.applyMixin(mod, i, mx)
		} else {
			err = m.removeMixin(mod, i, mx)
		}
		if err != nil {
			return err
		}
	}
	if enabled {
		return m.emit(rules.EventModifierEnabled, mod)
	}
	return m.emit(rules.EventModifierDisabled, mod)
}

// syncToggle enables the modifier when every toggle predicate holds and disables it
// otherwise.
func (m *Manager) syncToggle(mod *Modifier) error {
	if !mod.attached {
		return nil
	}
	active := true
	found := false
	for i, mx := range mod.mixins {
		t, ok := mx.(Togglable)
		if !ok {
			continue
		}
		found = true
		if !t.IsActive(m.binding(mod, i)) {
			active = false
			break
		}
	}
	if !found || active == mod.enabled {
		return nil
	}
	return m.setEnabled(mod, active)
}

func (m *Manager) emit(eventType rules.EventType, mod *Modifier) error {
	if m.env == nil || m.env.Bus() == nil {
		return nil
	}
	evt := rules.NewEventWithAmount(eventType, m.host.EntityID(), mod.sourceID, "", mod.stacks).
		WithMeta("modifier", mod.typeID).
		WithMeta("modifierId", mod.id).
		WithMeta("enabled", strconv.FormatBool(mod.enabled))
	return m.env.Bus().Emit(evt)
}

// Views returns the serializable form of every attached modifier.
func (m *Manager) Views() []ModifierView {
	out := make([]ModifierView, 0, len(m.mods))
	for _, mod := range m.mods {
		out = append(out, mod.View())
	}
	return out
}
