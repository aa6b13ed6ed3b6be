package cards

import (
	"context"
	"fmt"
	"slices"

	"github.com/duelforge/tactics-server-go/internal/game"
	"github.com/duelforge/tactics-server-go/internal/game/board"
	"github.com/duelforge/tactics-server-go/internal/game/effects"
	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

type step struct {
	def      EffectDef
	filter   *Expr
	eligible *Expr
	nested   []step
	modifier string
}

// Spell is a compiled spell definition.
type Spell struct {
	id       string
	name     string
	cost     int
	playable *Expr
	target   *Expr
	aoe      AoeDef
	steps    []step
}

var _ game.Blueprint = (*Spell)(nil)

func (s *Spell) ID() string          { return s.id }
func (s *Spell) Name() string        { return s.name }
func (s *Spell) Kind() game.CardKind { return game.KindSpell }
func (s *Spell) Cost() int           { return s.cost }

func (s *Spell) TargetCount() int {
	if s.target == nil {
		return 0
	}
	return 1
}

// CanPlay evaluates the playable expression. An expression that fails to evaluate
// makes the card unplayable.
func (s *Spell) CanPlay(st *game.State, playerID string) bool {
	if s.playable == nil {
		return true
	}
	ok, err := s.playable.Eval(playableVars(st, playerID))
	return err == nil && ok
}

func (s *Spell) GetTargets(ctx context.Context, st *game.State, playerID string) ([]board.Position, error) {
	if s.target == nil {
		return nil, nil
	}
	return eligibleCells(ctx, st, playerID, s.target)
}

func (s *Spell) GetAoe(st *game.State, targets []board.Position) []board.Position {
	g := st.Grid()
	var out []board.Position
	for _, t := range targets {
		var cells []board.Position
		switch s.aoe.Shape {
		case ShapeCross:
			cells = g.Cross(t)
		case ShapeRow:
			cells = g.Row(t.Y)
		case ShapeRadius:
			cells = append(g.WithinChebyshev(t, s.aoe.Radius), t)
		case ShapeBoard:
			cells = g.Cells()
		default:
			cells = []board.Position{t}
		}
		for _, c := range cells {
			if !board.Contains(out, c) {
				out = append(out, c)
			}
		}
	}
	board.Sort(out)
	return out
}

func (s *Spell) OnPlay(ctx context.Context, p *game.Play) error {
	aoe := p.Aoe
	if s.target == nil {
		aoe = s.GetAoe(p.State, nil)
	}
	return runSteps(ctx, p, s.steps, aoe)
}

func eligibleCells(ctx context.Context, st *game.State, playerID string, expr *Expr) ([]board.Position, error) {
	var out []board.Position
	for _, c := range st.Grid().Cells() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := expr.Eval(targetVars(st, playerID, c))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func runSteps(ctx context.Context, p *game.Play, steps []step, aoe []board.Position) error {
	for _, st := range steps {
		if p.State.Turn().Phase() == rules.PhaseGameEnd {
			return nil
		}
		if err := st.run(ctx, p, aoe); err != nil {
			return err
		}
	}
	return nil
}

// units returns the live units in aoe that pass the step filter.
func (st step) units(p *game.Play, aoe []board.Position) ([]*game.Unit, error) {
	var out []*game.Unit
	for _, u := range p.State.Units() {
		if !board.Contains(aoe, u.Pos) {
			continue
		}
		if st.filter != nil {
			ok, err := st.filter.Eval(filterVars(p.State, p.PlayerID, u))
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, u)
	}
	return out, nil
}

func (st step) run(ctx context.Context, p *game.Play, aoe []board.Position) error {
	source := p.Card.EntityID()
	switch st.def.Op {
	case OpDamage, OpHeal, OpBuff:
		units, err := st.units(p, aoe)
		if err != nil {
			return err
		}
		for _, u := range units {
			if !u.Alive() {
				continue
			}
			if err := st.applyTo(p, source, u); err != nil {
				return err
			}
		}
		return nil

	case OpDraw:
		for range st.def.Amount {
			if _, err := p.State.DrawCard(p.PlayerID); err != nil {
				return err
			}
		}
		return nil

	case OpDiscardChoice:
		pl, ok := p.State.Player(p.PlayerID)
		if !ok {
			return fmt.Errorf("player %s not found", p.PlayerID)
		}
		hand := slices.Clone(pl.Hand)
		ids, err := p.Prompt.ChooseCards(ctx, game.CardRequest{
			Candidates: hand,
			Min:        min(st.def.Min, len(hand)),
			Max:        st.def.Max,
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := p.State.DiscardCard(p.PlayerID, id, source); err != nil {
				return err
			}
		}
		for range ids {
			if _, err := p.State.DrawCard(p.PlayerID); err != nil {
				return err
			}
		}
		return nil

	case OpExtraTarget:
		candidates, err := eligibleCells(ctx, p.State, p.PlayerID, st.eligible)
		if err != nil {
			return err
		}
		cells, err := p.Prompt.SelectSpaces(ctx, game.SpaceRequest{Candidates: candidates, Min: 1, Max: 1})
		if err != nil || len(cells) == 0 {
			return err
		}
		return runSteps(ctx, p, st.nested, cells)
	}
	return fmt.Errorf("unknown op %q", st.def.Op)
}

func (st step) applyTo(p *game.Play, source string, u *game.Unit) error {
	switch st.def.Op {
	case OpDamage:
		_, err := p.State.DealDamage(source, u, st.def.Amount)
		return err
	case OpHeal:
		_, err := p.State.Heal(source, u, st.def.Amount)
		return err
	default:
		mb := effects.NewModifierBuilder(st.modifier).
			Stacking().
			Buff(effects.StatKey(st.def.Stat), st.def.Amount)
		if st.def.Turns > 0 {
			mb = mb.For(st.def.Turns, rules.EventTurnEnded, nil)
		}
		if _, err := u.Modifiers().Add(mb.BuildFrom(source)); err != nil {
			return err
		}
		return p.State.ReapDead()
	}
}
