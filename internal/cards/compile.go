package cards

import (
	"errors"
	"fmt"

	"github.com/duelforge/tactics-server-go/internal/game"
	"github.com/duelforge/tactics-server-go/internal/game/effects"
)

// Compiler turns definitions into blueprints.
type Compiler struct {
	registry *Registry
}

// NewCompiler creates a compiler with fresh CEL environments.
func NewCompiler() (*Compiler, error) {
	r, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	return &Compiler{registry: r}, nil
}

// Compile compiles every definition. All problems are reported together.
func (c *Compiler) Compile(f *File) ([]game.Blueprint, error) {
	var (
		out  []game.Blueprint
		errs []error
		seen = make(map[string]bool)
	)
	for i, def := range f.Cards {
		if def.ID != "" && seen[def.ID] {
			errs = append(errs, fmt.Errorf("card %d: duplicate id %q", i, def.ID))
			continue
		}
		seen[def.ID] = true
		bp, err := c.CompileCard(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, bp)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// CompileCard compiles one definition.
func (c *Compiler) CompileCard(def Definition) (game.Blueprint, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("card without id")
	}
	if def.Cost < 0 {
		return nil, fmt.Errorf("card %s: negative cost", def.ID)
	}
	name := def.Name
	if name == "" {
		name = def.ID
	}

	switch game.CardKind(def.Kind) {
	case game.KindUnit:
		return c.compileUnit(def, name)
	case game.KindSpell:
		return c.compileSpell(def, name)
	default:
		return nil, fmt.Errorf("card %s: unknown kind %q", def.ID, def.Kind)
	}
}

func (c *Compiler) compileUnit(def Definition, name string) (game.Blueprint, error) {
	if def.Health < 1 {
		return nil, fmt.Errorf("card %s: unit health must be positive", def.ID)
	}
	if def.Attack < 0 {
		return nil, fmt.Errorf("card %s: negative attack", def.ID)
	}
	if def.Target != nil || len(def.Effects) > 0 || def.Playable != "" {
		return nil, fmt.Errorf("card %s: units take no target, playable or effects", def.ID)
	}
	bp := &game.UnitBlueprint{
		BlueprintID: def.ID,
		DisplayName: name,
		ManaCost:    def.Cost,
		Attack:      def.Attack,
		Health:      def.Health,
	}
	for _, aura := range def.Auras {
		mb, err := c.compileAura(def.ID, aura)
		if err != nil {
			return nil, err
		}
		bp.Modifiers = append(bp.Modifiers, mb)
	}
	return bp, nil
}

func (c *Compiler) compileAura(cardID string, aura AuraDef) (*effects.ModifierBuilder, error) {
	if aura.ID == "" {
		return nil, fmt.Errorf("card %s: aura without id", cardID)
	}
	if !effects.IsStatKey(aura.Stat) {
		return nil, fmt.Errorf("card %s: aura %s has unknown stat %q", cardID, aura.ID, aura.Stat)
	}
	expr, err := c.registry.Compile(ScopeAura, aura.Eligible)
	if err != nil {
		return nil, fmt.Errorf("card %s: aura %s: %w", cardID, aura.ID, err)
	}
	eligible := func(b effects.Binding, h effects.Host) bool {
		source, ok := b.Host.(*game.Unit)
		if !ok {
			return false
		}
		candidate, ok := h.(*game.Unit)
		if !ok || !candidate.Alive() {
			return false
		}
		ok, err := expr.Eval(auraVars(source, candidate))
		return err == nil && ok
	}
	grant := effects.NewModifierBuilder(aura.ID+"_buff").Buff(effects.StatKey(aura.Stat), aura.Amount)
	return effects.NewModifierBuilder(aura.ID).Aura(effects.ScopeUnits, eligible, grant), nil
}

func (c *Compiler) compileSpell(def Definition, name string) (game.Blueprint, error) {
	if def.Attack != 0 || def.Health != 0 || len(def.Auras) > 0 {
		return nil, fmt.Errorf("card %s: spells take no attack, health or auras", def.ID)
	}
	bp := &Spell{id: def.ID, name: name, cost: def.Cost, aoe: def.Aoe}

	switch def.Aoe.Shape {
	case "", ShapeSingle, ShapeCross, ShapeRow, ShapeBoard:
	case ShapeRadius:
		if def.Aoe.Radius < 1 {
			return nil, fmt.Errorf("card %s: radius area needs a positive radius", def.ID)
		}
	default:
		return nil, fmt.Errorf("card %s: unknown area shape %q", def.ID, def.Aoe.Shape)
	}

	if def.Playable != "" {
		expr, err := c.registry.Compile(ScopePlayable, def.Playable)
		if err != nil {
			return nil, fmt.Errorf("card %s: %w", def.ID, err)
		}
		bp.playable = expr
	}
	if def.Target != nil {
		expr, err := c.registry.Compile(ScopeTarget, def.Target.Eligible)
		if err != nil {
			return nil, fmt.Errorf("card %s: %w", def.ID, err)
		}
		bp.target = expr
	}
	if len(def.Effects) == 0 {
		return nil, fmt.Errorf("card %s: spell without effects", def.ID)
	}
	steps, err := c.compileSteps(def.ID, def.Effects)
	if err != nil {
		return nil, err
	}
	bp.steps = steps
	return bp, nil
}

func (c *Compiler) compileSteps(cardID string, defs []EffectDef) ([]step, error) {
	steps := make([]step, 0, len(defs))
	for i, d := range defs {
		st, err := c.compileStep(cardID, d)
		if err != nil {
			return nil, fmt.Errorf("card %s: effect %d (%s): %w", cardID, i, d.Op, err)
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func (c *Compiler) compileStep(cardID string, d EffectDef) (step, error) {
	st := step{def: d}
	if d.Filter != "" {
		switch d.Op {
		case OpDamage, OpHeal, OpBuff:
		default:
			return st, fmt.Errorf("filter is not supported")
		}
		expr, err := c.registry.Compile(ScopeFilter, d.Filter)
		if err != nil {
			return st, err
		}
		st.filter = expr
	}

	switch d.Op {
	case OpDamage, OpHeal, OpDraw:
		if d.Amount < 1 {
			return st, fmt.Errorf("amount must be positive")
		}
	case OpBuff:
		if !effects.IsStatKey(d.Stat) {
			return st, fmt.Errorf("unknown stat %q", d.Stat)
		}
		if d.Amount == 0 {
			return st, fmt.Errorf("amount must not be zero")
		}
		if d.Turns < 0 {
			return st, fmt.Errorf("turns must not be negative")
		}
		st.modifier = fmt.Sprintf("%s_%s", cardID, d.Stat)
	case OpDiscardChoice:
		if d.Min < 0 || d.Max < 1 || d.Min > d.Max {
			return st, fmt.Errorf("invalid choice bounds [%d, %d]", d.Min, d.Max)
		}
	case OpExtraTarget:
		expr, err := c.registry.Compile(ScopeTarget, d.Eligible)
		if err != nil {
			return st, err
		}
		st.eligible = expr
		if len(d.Effects) == 0 {
			return st, fmt.Errorf("extra target without effects")
		}
		nested, err := c.compileSteps(cardID, d.Effects)
		if err != nil {
			return st, err
		}
		st.nested = nested
	default:
		return st, fmt.Errorf("unknown op")
	}
	return st, nil
}

// Validate compiles f and reports every problem.
func Validate(f *File) error {
	c, err := NewCompiler()
	if err != nil {
		return err
	}
	_, err = c.Compile(f)
	return err
}

// LoadCatalog loads the definitions at path into a catalog. The built-in blueprints in
// extra are registered first.
func LoadCatalog(path string, extra ...game.Blueprint) (*game.Catalog, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := NewCompiler()
	if err != nil {
		return nil, err
	}
	bps, err := c.Compile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return game.NewCatalog(append(extra, bps...)...)
}
