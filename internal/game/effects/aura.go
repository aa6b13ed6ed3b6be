package effects

import (
	"errors"
	"fmt"
	"slices"

	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// maxAuraPasses bounds how often one reconciliation re-scans after its own callbacks
// changed the world.
const maxAuraPasses = 8

// AuraEligibility decides whether candidate belongs to the aura of b's host.
type AuraEligibility func(b Binding, candidate Host) bool

// AuraCallback grants or revokes the aura on one member.
type AuraCallback func(b Binding, member Host) error

// AuraMixin keeps a membership set equal to the hosts of a scope for which its
// eligibility predicate holds. Membership is recomputed from the whole population on
// every bus event.
//
// A reconciliation never re-enters itself: events emitted by its own callbacks mark it
// dirty and it re-scans once the current pass finishes. Other auras reconcile normally
// during those nested events and may observe intermediate states.
type AuraMixin struct {
	baseMixin
	scope    Scope
	eligible AuraEligibility
	onGain   AuraCallback
	onLose   AuraCallback
	// granted holds the modifier instance given to each member by GrantAura.
	granted map[string]*Modifier

	handle      int
	applied     bool
	reconciling bool
	dirty       bool
	members     []string
}

// NewAura creates an aura over scope. onGain and onLose may be nil.
func NewAura(scope Scope, eligible AuraEligibility, onGain, onLose AuraCallback) *AuraMixin {
	return &AuraMixin{scope: scope, eligible: eligible, onGain: onGain, onLose: onLose}
}

func (*AuraMixin) Kind() MixinKind { return KindAura }

// Members returns the tracked membership in grant order.
func (mx *AuraMixin) Members() []string {
	return slices.Clone(mx.members)
}

// IsMember reports whether id is tracked.
func (mx *AuraMixin) IsMember(id string) bool {
	return slices.Contains(mx.members, id)
}

func (mx *AuraMixin) OnApplied(b Binding) error {
	if mx.applied {
		return nil
	}
	mx.applied = true
	mx.handle = b.Bus().OnAll(func(rules.Event) error {
		return mx.reconcile(b)
	})
	return mx.reconcile(b)
}

// OnRemoved revokes the aura from every member in grant order.
func (mx *AuraMixin) OnRemoved(b Binding) error {
	if !mx.applied {
		return nil
	}
	mx.applied = false
	if mx.handle != 0 {
		b.Bus().Off(mx.handle)
		mx.handle = 0
	}
	members := mx.members
	mx.members = nil
	var errs []error
	for _, id := range members {
		host, ok := b.Env.Lookup(id)
		if !ok {
			mx.release(id)
			continue
		}
		if mx.onLose == nil {
			continue
		}
		if err := mx.onLose(b, host); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (mx *AuraMixin) reconcile(b Binding) error {
	if !mx.applied {
		return nil
	}
	if mx.reconciling {
		mx.dirty = true
		return nil
	}
	mx.reconciling = true
	defer func() { mx.reconciling = false }()

	for pass := 0; pass < maxAuraPasses; pass++ {
		mx.dirty = false
		if err := mx.pass(b); err != nil {
			return err
		}
		if !mx.dirty || !mx.applied {
			return nil
		}
	}
	return rules.Fatal("aura.reconcile",
		fmt.Errorf("membership still changing after %d passes (%d members)", maxAuraPasses, len(mx.members)))
}

// release drops state kept for a member that no longer exists.
func (mx *AuraMixin) release(id string) {
	delete(mx.granted, id)
}

func (mx *AuraMixin) pass(b Binding) error {
	population := slices.Clone(b.Env.Population(mx.scope))
	var want []Host
	wantIDs := make(map[string]struct{}, len(population))
	for _, h := range population {
		if mx.eligible == nil || mx.eligible(b, h) {
			want = append(want, h)
			wantIDs[h.EntityID()] = struct{}{}
		}
	}

	for _, id := range slices.Clone(mx.members) {
		if !mx.applied {
			return nil
		}
		if _, keep := wantIDs[id]; keep {
			continue
		}
		idx := slices.Index(mx.members, id)
		if idx < 0 {
			continue
		}
		mx.members = slices.Delete(mx.members, idx, idx+1)
		host, ok := b.Env.Lookup(id)
		if !ok {
			mx.release(id)
			continue
		}
		if mx.onLose == nil {
			continue
		}
		if err := mx.onLose(b, host); err != nil {
			return err
		}
	}

	for _, h := range want {
		if !mx.applied {
			return nil
		}
		id := h.EntityID()
		if slices.Contains(mx.members, id) {
			continue
		}
		mx.members = append(mx.members, id)
		if mx.onGain == nil {
			continue
		}
		if err := mx.onGain(b, h); err != nil {
			return err
		}
	}
	return nil
}

// GrantAura returns an aura that attaches a modifier built by factory to each member and
// removes exactly that instance when the member leaves.
func GrantAura(scope Scope, eligible AuraEligibility, factory func(b Binding) *Modifier) *AuraMixin {
	aura := NewAura(scope, eligible, nil, nil)
	aura.granted = make(map[string]*Modifier)
	aura.onGain = func(b Binding, member Host) error {
		created := factory(b)
		mod, err := member.Modifiers().Add(created)
		if err != nil {
			return err
		}
		// A non-stackable duplicate belongs to someone else.
		if mod == created || mod.stackable {
			aura.granted[member.EntityID()] = mod
		}
		return nil
	}
	aura.onLose = func(b Binding, member Host) error {
		mod, ok := aura.granted[member.EntityID()]
		if !ok {
			return nil
		}
		delete(aura.granted, member.EntityID())
		return member.Modifiers().RemoveInstance(mod)
	}
	return aura
}
