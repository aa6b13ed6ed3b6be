package game

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/duelforge/tactics-server-go/internal/game/board"
	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// pendingPlay is a card waiting for its targets in the playing_card state.
type pendingPlay struct {
	card      *Card
	blueprint Blueprint
}

func (m *Match) handlePlayCard(ctx context.Context, cmd Command) error {
	f, err := decodeFields[PlayCardFields](cmd)
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
	card, err := assertInHand(s, p, f.CardID)
	if err != nil {
		return err
	}
	bp, ok := s.Catalog().Get(card.BlueprintID)
	if !ok {
		return rules.Fatal("play_card", fmt.Errorf("card %s has unknown blueprint %q", card.id, card.BlueprintID))
	}
	if !bp.CanPlay(s, p.ID) {
		return rules.Illegal("cannot_play", rules.ErrTargetNotEligible, "%s cannot be played now", bp.Name())
	}
	if cost := card.ManaCost(); !p.Mana.CanAfford(cost) {
		return rules.Illegal("insufficient_mana", rules.ErrInsufficientMana, "%s costs %d, have %d", bp.Name(), cost, p.Mana.Available())
	}

	n := bp.TargetCount()
	if n == 0 {
		return m.resolvePlay(p, card, bp, nil)
	}
	candidates, err := bp.GetTargets(ctx, s, p.ID)
	if err != nil {
		return rules.Fatal("play_card.targets", err)
	}
	if len(candidates) == 0 {
		return rules.Illegal("no_targets", rules.ErrTargetNotEligible, "%s has no valid target", bp.Name())
	}
	play := &rules.PlayCardContext{
		SpaceSelectionContext: rules.SpaceSelectionContext{
			Selection: rules.Selection[board.Position]{
				Player:     p.ID,
				Source:     card.id,
				Candidates: candidates,
				Min:        n,
				Max:        n,
			},
			Aoe: func(selected []board.Position) []board.Position { return bp.GetAoe(s, selected) },
		},
		CardID: card.id,
	}
	if err := s.Interaction().Begin(play); err != nil {
		return err
	}
	m.pending = &pendingPlay{card: card, blueprint: bp}
	return m.emitInteraction(rules.EventInteractionStarted, play)
}

// resolvePlay pays for the card and runs its effect on a task.
func (m *Match) resolvePlay(p *Player, card *Card, bp Blueprint, targets []board.Position) error {
	s := m.state
	if err := s.SpendMana(p, card.ManaCost(), "play_card"); err != nil {
		return err
	}
	if err := s.playFromHand(p, card); err != nil {
		return err
	}
	play := &Play{
		State:     s,
		PlayerID:  p.ID,
		Card:      card,
		Blueprint: bp,
		Targets:   targets,
		Aoe:       bp.GetAoe(s, targets),
	}
	t, st := startTask(m.ctx, p.ID, card.id, func(ctx context.Context, prompt Prompt) error {
		play.Prompt = prompt
		return bp.OnPlay(ctx, play)
	})
	return m.advanceTask(t, st)
}

// advanceTask handles what a task yielded: a finished task reports its error, a
// suspended one opens the interaction it asked for.
func (m *Match) advanceTask(t *task, st step) error {
	if st.done() {
		m.task = nil
		return m.taskError(t, st.err)
	}
	m.task = t
	s := m.state
	if s.Turn().Phase() != rules.PhaseMain {
		return m.abortInteraction()
	}
	if err := s.Interaction().Begin(st.request); err != nil {
		return rules.Fatal("card.prompt", err)
	}
	return m.emitInteraction(rules.EventInteractionStarted, st.request)
}

func (m *Match) taskError(t *task, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rules.ErrInteractionAborted):
		m.logger.Debug("card resolution aborted", zap.String("match_id", m.id), zap.String("source", t.source))
		return nil
	default:
		return rules.Fatal("card.resolve", err)
	}
}

func (m *Match) handleSelectSpace(_ context.Context, cmd Command) error {
	f, err := decodeFields[SelectSpaceFields](cmd)
	if err != nil {
		return err
	}
	if f.X == nil && !f.Commit {
		return &rules.ValidationError{Command: cmd.Type, Reason: "a cell or commit is required"}
	}
	im := m.state.Interaction()
	if f.X != nil && f.Commit {
		res, err := im.SelectSpaceAndCommit(cmd.PlayerID, board.Pos(*f.X, *f.Y))
		if err != nil {
			return err
		}
		return m.completeInteraction(res)
	}
	if f.X != nil {
		res, err := im.SelectSpace(cmd.PlayerID, board.Pos(*f.X, *f.Y))
		if err != nil {
			return err
		}
		if res != nil {
			return m.completeInteraction(res)
		}
		if err := m.emitInteraction(rules.EventInteractionUpdated, im.Context()); err != nil {
			return err
		}
	}
	if !f.Commit {
		return nil
	}
	res, err := im.Commit(cmd.PlayerID)
	if err != nil {
		return err
	}
	return m.completeInteraction(res)
}

func (m *Match) handleChooseCards(_ context.Context, cmd Command) error {
	f, err := decodeFields[ChooseCardsFields](cmd)
	if err != nil {
		return err
	}
	im := m.state.Interaction()
	if len(f.CardIDs) > 0 && f.Commit {
		res, err := im.ChooseCardsAndCommit(cmd.PlayerID, f.CardIDs)
		if err != nil {
			return err
		}
		return m.completeInteraction(res)
	}
	if len(f.CardIDs) > 0 {
		res, err := im.ChooseCards(cmd.PlayerID, f.CardIDs)
		if err != nil {
			return err
		}
		if res != nil {
			return m.completeInteraction(res)
		}
		if err := m.emitInteraction(rules.EventInteractionUpdated, im.Context()); err != nil {
			return err
		}
	}
	if !f.Commit {
		return nil
	}
	res, err := im.Commit(cmd.PlayerID)
	if err != nil {
		return err
	}
	return m.completeInteraction(res)
}

func (m *Match) handleCancel(_ context.Context, cmd Command) error {
	res, err := m.state.Interaction().Cancel(cmd.PlayerID)
	if err != nil {
		return err
	}
	return m.completeInteraction(res)
}

// completeInteraction routes a finished interaction to whoever asked for it: a card in
// the playing_card state or a suspended task.
func (m *Match) completeInteraction(res *rules.InteractionResult) error {
	kind := rules.EventInteractionCommitted
	if res.Cancelled {
		kind = rules.EventInteractionCancelled
	}
	if err := m.emitInteraction(kind, res.Context); err != nil {
		return err
	}

	if res.From == rules.InteractionPlayingCard {
		pending := m.pending
		m.pending = nil
		if pending == nil {
			return rules.Fatal("interaction.complete", errors.New("no card is being played"))
		}
		if res.Cancelled {
			return nil
		}
		p, _ := m.state.Player(pending.card.Owner)
		return m.resolvePlay(p, pending.card, pending.blueprint, res.Spaces)
	}

	t := m.task
	m.task = nil
	if t == nil {
		return rules.Fatal("interaction.complete", fmt.Errorf("no task waiting on %s", res.From))
	}
	return m.advanceTask(t, t.answer(resumeMsg{spaces: res.Spaces, cards: res.Cards}))
}

// abortInteraction drops whatever interaction is pending without an ownership check.
func (m *Match) abortInteraction() error {
	if res := m.state.Interaction().Abort(); res != nil {
		e := rules.NewEvent(rules.EventInteractionCancelled, "", "", res.Context.Owner()).
			WithMeta("state", res.From.String()).
			WithMeta("reason", "aborted")
		if err := m.state.Bus().Emit(e); err != nil {
			return err
		}
	}
	m.pending = nil
	if t := m.task; t != nil {
		m.task = nil
		if err := t.abort(); err != nil {
			return m.taskError(t, err)
		}
	}
	return nil
}

func (m *Match) emitInteraction(kind rules.EventType, ctx rules.InteractionContext) error {
	e := rules.NewEvent(kind, "", interactionSource(ctx), ctx.Owner()).WithMeta("state", ctx.State().String())
	return m.state.Bus().Emit(e)
}

func interactionSource(ctx rules.InteractionContext) string {
	switch c := ctx.(type) {
	case *rules.SpaceSelectionContext:
		return c.Source
	case *rules.PlayCardContext:
		return c.Source
	case *rules.CardChoiceContext:
		return c.Source
	default:
		return ""
	}
}
