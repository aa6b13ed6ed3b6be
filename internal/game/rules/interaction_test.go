package rules

import (
	"errors"
	"testing"

	"github.com/duelforge/tactics-server-go/internal/game/board"
)

func spaceContext(owner string, required int) *SpaceSelectionContext {
	return &SpaceSelectionContext{
		Selection: Selection[board.Position]{
			Player:     owner,
			Source:     "card-alice-1",
			Candidates: []board.Position{board.Pos(1, 1), board.Pos(2, 1), board.Pos(3, 1)},
			Min:        required,
			Max:        required,
		},
	}
}

func TestInteractionAutoCommit(t *testing.T) {
	m := NewInteractionMachine()
	if err := m.Begin(spaceContext("alice", 1)); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if m.State() != InteractionSelectingSpace {
		t.Fatalf("expected selecting state, got %s", m.State())
	}

	res, err := m.SelectSpace("alice", board.Pos(2, 1))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res == nil {
		t.Fatal("expected auto-commit")
	}
	if res.Cancelled || len(res.Spaces) != 1 || res.Spaces[0] != board.Pos(2, 1) {
		t.Fatalf("unexpected result %+v", res)
	}
	if !m.IsIdle() {
		t.Fatalf("expected idle after commit, got %s", m.State())
	}
}

func TestInteractionInvalidSelectionLeavesStateUnchanged(t *testing.T) {
	m := NewInteractionMachine()
	_ = m.Begin(spaceContext("alice", 2))

	if _, err := m.SelectSpace("alice", board.Pos(1, 1)); err != nil {
		t.Fatalf("select: %v", err)
	}

	_, err := m.SelectSpace("alice", board.Pos(7, 4))
	if !errors.Is(err, ErrTargetNotEligible) {
		t.Fatalf("expected ErrTargetNotEligible, got %v", err)
	}
	_, err = m.SelectSpace("alice", board.Pos(1, 1))
	if !errors.Is(err, ErrTargetNotEligible) {
		t.Fatalf("expected duplicate to be rejected, got %v", err)
	}

	view := m.View()
	if view.State != "selecting_space_on_board" || len(view.Selected) != 1 {
		t.Fatalf("state changed after invalid selection: %+v", view)
	}
}

func TestInteractionExplicitCommitAndCannotCommit(t *testing.T) {
	m := NewInteractionMachine()
	ctx := spaceContext("alice", 0)
	ctx.Max = 3
	ctx.Min = 1
	_ = m.Begin(ctx)

	if _, err := m.Commit("alice"); !errors.Is(err, ErrCannotCommit) {
		t.Fatalf("expected ErrCannotCommit, got %v", err)
	}
	res, err := m.SelectSpace("alice", board.Pos(3, 1))
	if err != nil || res != nil {
		t.Fatalf("expected partial selection to wait, got %+v %v", res, err)
	}
	res, err = m.Commit("alice")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(res.Spaces) != 1 {
		t.Fatalf("expected one committed space, got %v", res.Spaces)
	}
}

func TestInteractionCancelOwnerOnly(t *testing.T) {
	m := NewInteractionMachine()
	_ = m.Begin(spaceContext("alice", 1))

	if _, err := m.Cancel("bob"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := m.SelectSpace("bob", board.Pos(1, 1)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner on select, got %v", err)
	}
	if m.IsIdle() {
		t.Fatal("non-owner changed state")
	}

	res, err := m.Cancel("alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !res.Cancelled || len(res.Spaces) != 0 {
		t.Fatalf("expected empty cancelled result, got %+v", res)
	}
	if !m.IsIdle() {
		t.Fatal("expected idle after cancel")
	}
}

func TestInteractionSecondBeginRejected(t *testing.T) {
	m := NewInteractionMachine()
	_ = m.Begin(spaceContext("alice", 1))
	err := m.Begin(&CardChoiceContext{Selection: Selection[string]{Player: "alice"}})
	if !errors.Is(err, ErrInteractionPending) {
		t.Fatalf("expected ErrInteractionPending, got %v", err)
	}
	if m.State() != InteractionSelectingSpace {
		t.Fatalf("expected original state kept, got %s", m.State())
	}
}

func TestInteractionChooseCardsAllOrNothing(t *testing.T) {
	m := NewInteractionMachine()
	_ = m.Begin(&CardChoiceContext{Selection: Selection[string]{
		Player:     "alice",
		Candidates: []string{"card-alice-1", "card-alice-2", "card-alice-3"},
		Min:        2,
		Max:        2,
	}})

	if _, err := m.SelectSpace("alice", board.Pos(0, 0)); !errors.Is(err, ErrNoInteraction) {
		t.Fatalf("expected space selection to be rejected, got %v", err)
	}
	if _, err := m.ChooseCards("alice", []string{"card-alice-1", "card-bob-1"}); err == nil {
		t.Fatal("expected mixed choice to be rejected")
	}
	if got := m.View().CardsSelected; len(got) != 0 {
		t.Fatalf("expected no partial choice, got %v", got)
	}

	res, err := m.ChooseCards("alice", []string{"card-alice-1", "card-alice-3"})
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if res == nil || len(res.Cards) != 2 || res.From != InteractionChoosingCards {
		t.Fatalf("expected auto-commit with two cards, got %+v", res)
	}
}

func TestInteractionPlayCardAreaAndPredicates(t *testing.T) {
	m := NewInteractionMachine()
	grid := board.Grid{Width: 5, Height: 5}
	ctx := &PlayCardContext{CardID: "card-alice-4"}
	ctx.Player = "alice"
	ctx.Candidates = grid.Cells()
	ctx.Max = 1
	ctx.Eligible = func(_ []board.Position, p board.Position) bool { return p.Y == 2 }
	ctx.Aoe = func(sel []board.Position) []board.Position {
		if len(sel) == 0 {
			return nil
		}
		return grid.Cross(sel[0])
	}
	if err := m.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := m.PlayingCard(); err != nil {
		t.Fatalf("playing card accessor: %v", err)
	}
	if _, err := m.SelectSpace("alice", board.Pos(0, 0)); !errors.Is(err, ErrTargetNotEligible) {
		t.Fatalf("expected predicate rejection, got %v", err)
	}
	if area := m.View().Area; len(area) != 0 {
		t.Fatalf("expected empty area before selection, got %v", area)
	}
	res, err := m.SelectSpace("alice", board.Pos(2, 2))
	if err != nil || res == nil {
		t.Fatalf("expected auto-commit, got %+v %v", res, err)
	}
	if res.From != InteractionPlayingCard {
		t.Fatalf("expected playing_card result, got %s", res.From)
	}
	played, ok := res.Context.(*PlayCardContext)
	if !ok || played.CardID != "card-alice-4" {
		t.Fatalf("unexpected context %T", res.Context)
	}
	if got := played.Area(); len(got) != 5 {
		t.Fatalf("expected cross area of 5, got %v", got)
	}
}

func TestInteractionAbort(t *testing.T) {
	m := NewInteractionMachine()
	if m.Abort() != nil {
		t.Fatal("abort on idle should return nil")
	}
	_ = m.Begin(spaceContext("bob", 1))
	res := m.Abort()
	if res == nil || !res.Cancelled || !m.IsIdle() {
		t.Fatalf("expected cancelled result and idle machine, got %+v", res)
	}
}

func TestInteractionSelectAndCommitIsAtomic(t *testing.T) {
	m := NewInteractionMachine()
	_ = m.Begin(spaceContext("alice", 2))

	_, err := m.SelectSpaceAndCommit("alice", board.Pos(1, 1))
	if !errors.Is(err, ErrCannotCommit) {
		t.Fatalf("expected ErrCannotCommit, got %v", err)
	}
	if got := m.View().Selected; len(got) != 0 {
		t.Fatalf("expected rejected commit to keep the selection empty, got %v", got)
	}
	if _, err := m.SelectSpaceAndCommit("alice", board.Pos(7, 4)); !errors.Is(err, ErrTargetNotEligible) {
		t.Fatalf("expected ErrTargetNotEligible, got %v", err)
	}

	if _, err := m.SelectSpace("alice", board.Pos(1, 1)); err != nil {
		t.Fatalf("select: %v", err)
	}
	res, err := m.SelectSpaceAndCommit("alice", board.Pos(3, 1))
	if err != nil {
		t.Fatalf("select and commit: %v", err)
	}
	if res == nil || len(res.Spaces) != 2 || !m.IsIdle() {
		t.Fatalf("expected committed pair, got %+v", res)
	}
}

func TestInteractionChooseAndCommitIsAtomic(t *testing.T) {
	m := NewInteractionMachine()
	_ = m.Begin(&CardChoiceContext{Selection: Selection[string]{
		Player:     "alice",
		Candidates: []string{"card-alice-1", "card-alice-2", "card-alice-3"},
		Min:        2,
		Max:        3,
	}})

	if _, err := m.ChooseCardsAndCommit("alice", []string{"card-alice-1"}); !errors.Is(err, ErrCannotCommit) {
		t.Fatalf("expected ErrCannotCommit, got %v", err)
	}
	if got := m.View().CardsSelected; len(got) != 0 {
		t.Fatalf("expected no partial choice, got %v", got)
	}

	res, err := m.ChooseCardsAndCommit("alice", []string{"card-alice-1", "card-alice-2"})
	if err != nil {
		t.Fatalf("choose and commit: %v", err)
	}
	if res == nil || len(res.Cards) != 2 {
		t.Fatalf("expected two committed cards, got %+v", res)
	}
}
