package game

import (
	"context"

	"github.com/duelforge/tactics-server-go/internal/game/board"
	"github.com/duelforge/tactics-server-go/internal/game/effects"
	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// ForceEndTurnFields optionally pins the turn the clock expired on, so a late timer
// cannot end the following turn.
type ForceEndTurnFields struct {
	Turn int `json:"turn,omitempty"`
}

func (m *Match) handleMove(_ context.Context, cmd Command) error {
	f, err := decodeFields[MoveFields](cmd)
	if err != nil {
		return err
	}
	s := m.state
	if err := assertCurrentPlayer(s, cmd.PlayerID); err != nil {
		return err
	}
	u, err := assertOwnUnit(s, cmd.PlayerID, f.UnitID)
	if err != nil {
		return err
	}
	to := board.Pos(f.X, f.Y)
	if err := assertInBounds(s, to); err != nil {
		return err
	}
	if u.Moved || u.Attacked {
		return rules.Illegal("already_moved", rules.ErrActionSpent, "unit %s cannot move again this turn", u.id)
	}
	reach := s.Grid().Reachable(u.Pos, u.MoveRange(), func(p board.Position) bool { return !s.Occupied(p) })
	if !board.Contains(reach, to) {
		return rules.Illegal("out_of_range", rules.ErrOutOfRange, "unit %s cannot reach %s", u.id, to)
	}
	return s.MoveUnit(u, to)
}

func (m *Match) handleAttack(_ context.Context, cmd Command) error {
	f, err := decodeFields[AttackFields](cmd)
	if err != nil {
		return err
	}
	s := m.state
	if err := assertCurrentPlayer(s, cmd.PlayerID); err != nil {
		return err
	}
	attacker, err := assertOwnUnit(s, cmd.PlayerID, f.UnitID)
	if err != nil {
		return err
	}
	if attacker.Attacked {
		return rules.Illegal("already_attacked", rules.ErrActionSpent, "unit %s already attacked this turn", attacker.id)
	}
	target, err := assertEnemyUnit(s, cmd.PlayerID, f.TargetID)
	if err != nil {
		return err
	}
	if board.Chebyshev(attacker.Pos, target.Pos) > attacker.AttackRange() {
		return rules.Illegal("out_of_range", rules.ErrOutOfRange, "unit %s is out of %s's range", target.id, attacker.id)
	}

	attacker.Attacked = true
	attacker.Moved = true
	if err := s.Bus().Emit(rules.NewEvent(rules.EventUnitAttacked, target.id, attacker.id, cmd.PlayerID)); err != nil {
		return err
	}
	damage := attacker.Modifiers().Compute(effects.StatDamageDealt, attacker.Attack(), target.id)
	if _, err := s.DealDamage(attacker.id, target, damage); err != nil {
		return err
	}
	if !target.Alive() || !attacker.Alive() || s.Turn().Phase() != rules.PhaseMain {
		return nil
	}
	if board.Chebyshev(attacker.Pos, target.Pos) > target.AttackRange() {
		return nil
	}
	counter := target.Modifiers().Compute(effects.StatDamageDealt, target.Attack(), attacker.id)
	_, err = s.DealDamage(target.id, attacker, counter)
	return err
}

func (m *Match) handleCapture(_ context.Context, cmd Command) error {
	f, err := decodeFields[CaptureFields](cmd)
	if err != nil {
		return err
	}
	s := m.state
	if err := assertCurrentPlayer(s, cmd.PlayerID); err != nil {
		return err
	}
	u, err := assertOwnUnit(s, cmd.PlayerID, f.UnitID)
	if err != nil {
		return err
	}
	if u.Attacked {
		return rules.Illegal("already_acted", rules.ErrActionSpent, "unit %s already acted this turn", u.id)
	}
	if s.CellOwner(u.Pos) == cmd.PlayerID {
		return rules.Illegal("already_captured", rules.ErrActionSpent, "cell %s is already yours", u.Pos)
	}
	return s.Capture(u)
}

func (m *Match) handleEndTurn(_ context.Context, cmd Command) error {
	if err := assertCurrentPlayer(m.state, cmd.PlayerID); err != nil {
		return err
	}
	return m.passTurn(func() (string, error) { return m.state.Turn().EndTurn(cmd.PlayerID) })
}

func (m *Match) handleForceEndTurn(_ context.Context, cmd Command) error {
	f, err := decodeFields[ForceEndTurnFields](cmd)
	if err != nil {
		return err
	}
	s := m.state
	if f.Turn != 0 && f.Turn != s.Turn().TurnNumber() {
		return rules.Illegal("stale_turn", rules.ErrWrongPhase, "turn %d already ended", f.Turn)
	}
	if err := m.abortInteraction(); err != nil {
		return err
	}
	if s.Turn().Phase() != rules.PhaseMain {
		return nil
	}
	return m.passTurn(s.Turn().ForceEndTurn)
}

// passTurn closes the current turn, advances the turn machine and opens the next turn.
func (m *Match) passTurn(advance func() (string, error)) error {
	s := m.state
	if err := s.finishTurn(s.Turn().CurrentPlayer()); err != nil {
		return err
	}
	if s.Turn().Phase() != rules.PhaseMain {
		return nil
	}
	next, err := advance()
	if err != nil {
		return err
	}
	return s.beginTurn(next)
}

func (m *Match) handleResourceAction(_ context.Context, cmd Command) error {
	s := m.state
	if err := assertCurrentPlayer(s, cmd.PlayerID); err != nil {
		return err
	}
	p, err := assertPlayer(s, cmd.PlayerID)
	if err != nil {
		return err
	}
	if p.ResourceUsed {
		return rules.Illegal("resource_used", rules.ErrActionSpent, "resource action already used this turn")
	}
	p.ResourceUsed = true
	if err := s.Bus().Emit(rules.NewEvent(rules.EventResourceActionUsed, "", "", p.ID)); err != nil {
		return err
	}
	_, err = s.DrawCard(p.ID)
	return err
}

func (m *Match) handleReplaceCard(_ context.Context, cmd Command) error {
	f, err := decodeFields[ReplaceCardFields](cmd)
	if err != nil {
		return err
	}
	s := m.state
	if err := assertCurrentPlayer(s, cmd.PlayerID); err != nil {
		return err
	}
	p, err := assertPlayer(s, cmd.PlayerID)
	if err != nil {
		return err
	}
	if p.Replaced {
		return rules.Illegal("replace_used", rules.ErrActionSpent, "a card was already replaced this turn")
	}
	if _, err := assertInHand(s, p, f.CardID); err != nil {
		return err
	}
	if err := s.swapIntoDeck(p, []string{f.CardID}); err != nil {
		return err
	}
	p.Replaced = true
	return nil
}

func (m *Match) handleMulligan(_ context.Context, cmd Command) error {
	f, err := decodeFields[MulliganFields](cmd)
	if err != nil {
		return err
	}
	s := m.state
	p, err := assertPlayer(s, cmd.PlayerID)
	if err != nil {
		return err
	}
	mctx, err := s.Turn().Mulligan()
	if err != nil {
		return err
	}
	if !mctx.IsPending(p.ID) {
		return rules.Illegal("mulligan_done", rules.ErrActionSpent, "player %s already completed the mulligan", p.ID)
	}
	if len(f.CardIDs) > s.Config().MulliganMax {
		return rules.Illegal("mulligan_limit", rules.ErrTargetNotEligible, "at most %d cards can be mulliganed", s.Config().MulliganMax)
	}
	for _, id := range f.CardIDs {
		if _, err := assertInHand(s, p, id); err != nil {
			return err
		}
	}
	if len(f.CardIDs) > 0 {
		if err := s.swapIntoDeck(p, f.CardIDs); err != nil {
			return err
		}
	}
	p.Mulliganed = true
	started, err := s.Turn().CompleteMulligan(p.ID)
	if err != nil {
		return err
	}
	if err := s.Bus().Emit(rules.NewEventWithAmount(rules.EventMulliganCompleted, "", "", p.ID, len(f.CardIDs))); err != nil {
		return err
	}
	if !started {
		return nil
	}
	if err := s.Bus().Emit(rules.NewEvent(rules.EventPhaseChanged, "", "", "").WithMeta("phase", rules.PhaseMain.String())); err != nil {
		return err
	}
	return s.beginTurn(s.Turn().CurrentPlayer())
}
