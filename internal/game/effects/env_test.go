package effects

import (
	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

type testHost struct {
	id   string
	mods *Manager
	flag bool
}

func (h *testHost) EntityID() string    { return h.id }
func (h *testHost) Modifiers() *Manager { return h.mods }

type testEnv struct {
	bus   *rules.EventBus
	units []*testHost
	tick  int
}

func newTestEnv(ids ...string) *testEnv {
	env := &testEnv{bus: rules.NewEventBus()}
	for _, id := range ids {
		env.addUnit(id)
	}
	return env
}

func (e *testEnv) addUnit(id string) *testHost {
	h := &testHost{id: id}
	h.mods = NewManager(e, h)
	e.units = append(e.units, h)
	return h
}

func (e *testEnv) removeUnit(id string) {
	if i := unitIndex(e, id); i >= 0 {
		e.units = append(e.units[:i], e.units[i+1:]...)
	}
}

func (e *testEnv) unit(id string) *testHost {
	for _, u := range e.units {
		if u.id == id {
			return u
		}
	}
	return nil
}

func (e *testEnv) Bus() *rules.EventBus { return e.bus }

func (e *testEnv) Population(scope Scope) []Host {
	if scope != ScopeUnits {
		return nil
	}
	out := make([]Host, 0, len(e.units))
	for _, u := range e.units {
		out = append(out, u)
	}
	return out
}

func (e *testEnv) Lookup(id string) (Host, bool) {
	if u := e.unit(id); u != nil {
		return u, true
	}
	return nil, false
}

func (e *testEnv) emit(eventType rules.EventType) error {
	return e.bus.Emit(rules.NewEvent(eventType, "", "", ""))
}

// countingMixin records hook invocations.
type countingMixin struct {
	baseMixin
	applied, removed, reapplied int
}

func (*countingMixin) Kind() MixinKind { return KindListener }

func (mx *countingMixin) OnApplied(Binding) error   { mx.applied++; return nil }
func (mx *countingMixin) OnRemoved(Binding) error   { mx.removed++; return nil }
func (mx *countingMixin) OnReapplied(Binding) error { mx.reapplied++; return nil }
