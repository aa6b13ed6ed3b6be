package game

import (
	"slices"

	"github.com/duelforge/tactics-server-go/internal/game/board"
	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// Assertion helpers used by command handlers. Each returns an IllegalActionError
// wrapping one of the rules sentinels.

func assertCurrentPlayer(s *State, playerID string) error {
	current := s.Turn().CurrentPlayer()
	if current != playerID {
		return rules.Illegal("not_your_turn", rules.ErrNotYourTurn, "it is %s's turn", current)
	}
	return nil
}

func assertPlayer(s *State, playerID string) (*Player, error) {
	p, ok := s.Player(playerID)
	if !ok {
		return nil, rules.Illegal("unknown_player", rules.ErrEntityNotFound, "player %s is not in this match", playerID)
	}
	return p, nil
}

func assertOwnUnit(s *State, playerID, unitID string) (*Unit, error) {
	u, ok := s.Unit(unitID)
	if !ok {
		return nil, rules.Illegal("unit_not_found", rules.ErrEntityNotFound, "unit %s not found", unitID)
	}
	if u.Owner != playerID {
		return nil, rules.Illegal("not_owner", rules.ErrNotOwner, "unit %s belongs to %s", unitID, u.Owner)
	}
	return u, nil
}

func assertEnemyUnit(s *State, playerID, unitID string) (*Unit, error) {
	u, ok := s.Unit(unitID)
	if !ok {
		return nil, rules.Illegal("unit_not_found", rules.ErrEntityNotFound, "unit %s not found", unitID)
	}
	if u.Owner == playerID {
		return nil, rules.Illegal("friendly_target", rules.ErrTargetNotEligible, "unit %s is friendly", unitID)
	}
	return u, nil
}

func assertInHand(s *State, p *Player, cardID string) (*Card, error) {
	card, ok := s.Card(cardID)
	if !ok {
		return nil, rules.Illegal("card_not_found", rules.ErrEntityNotFound, "card %s not found", cardID)
	}
	if card.Owner != p.ID {
		return nil, rules.Illegal("not_owner", rules.ErrNotOwner, "card %s belongs to %s", cardID, card.Owner)
	}
	if !slices.Contains(p.Hand, cardID) {
		return nil, rules.Illegal("card_not_in_hand", rules.ErrTargetNotEligible, "card %s is not in hand", cardID)
	}
	return card, nil
}

func assertInBounds(s *State, pos board.Position) error {
	if !s.Grid().InBounds(pos) {
		return rules.Illegal("out_of_bounds", rules.ErrTargetNotEligible, "cell %s is off the board", pos)
	}
	return nil
}

func assertIdle(s *State) error {
	if !s.Interaction().IsIdle() {
		return rules.Illegal("interaction_pending", rules.ErrInteractionPending,
			"%s pending for %s", s.Interaction().State(), s.Interaction().Owner())
	}
	return nil
}
