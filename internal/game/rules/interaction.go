package rules

import (
	"fmt"
	"slices"

	"github.com/duelforge/tactics-server-go/internal/game/board"
)

// InteractionState is the sub-state of the main phase.
type InteractionState int

const (
	InteractionIdle InteractionState = iota
	InteractionSelectingSpace
	InteractionChoosingCards
	InteractionPlayingCard
)

var interactionNames = map[InteractionState]string{
	InteractionIdle:           "idle",
	InteractionSelectingSpace: "selecting_space_on_board",
	InteractionChoosingCards:  "choosing_cards",
	InteractionPlayingCard:    "playing_card",
}

func (s InteractionState) String() string {
	if name, ok := interactionNames[s]; ok {
		return name
	}
	return fmt.Sprintf("interaction_%d", int(s))
}

// Selection holds a partial choice over candidates of type T.
//
// Eligible, CanCommitFn and CompleteFn are optional. Without them a candidate is
// eligible while fewer than Max items are selected, the selection can commit once it
// holds at least Min items, and it is complete once it holds Max items.
type Selection[T comparable] struct {
	Player     string
	Source     string
	Candidates []T
	Selected   []T
	Min        int
	Max        int

	Eligible    func(selected []T, candidate T) bool
	CanCommitFn func(selected []T) bool
	CompleteFn  func(selected []T) bool
}

// Owner returns the player who owns the selection.
func (s *Selection[T]) Owner() string { return s.Player }

// IsEligible reports whether candidate may be added to the current selection.
func (s *Selection[T]) IsEligible(candidate T) bool {
	if !slices.Contains(s.Candidates, candidate) || slices.Contains(s.Selected, candidate) {
		return false
	}
	if s.Max > 0 && len(s.Selected) >= s.Max {
		return false
	}
	if s.Eligible != nil && !s.Eligible(s.Selected, candidate) {
		return false
	}
	return true
}

// CanCommit reports whether the current selection may be committed.
func (s *Selection[T]) CanCommit() bool {
	if len(s.Selected) < s.Min {
		return false
	}
	if s.CanCommitFn != nil {
		return s.CanCommitFn(s.Selected)
	}
	return true
}

// IsComplete reports whether no further selection is expected.
func (s *Selection[T]) IsComplete() bool {
	if s.CompleteFn != nil {
		return s.CompleteFn(s.Selected)
	}
	return s.Max > 0 && len(s.Selected) >= s.Max
}

// InteractionContext is the payload of a non-idle interaction state. Only the context
// types in this package implement it.
type InteractionContext interface {
	State() InteractionState
	Owner() string
	interactionContext()
}

// SpaceSelectionContext asks a player to pick board cells.
type SpaceSelectionContext struct {
	Selection[board.Position]
	// Aoe maps the partial selection to the affected area. Nil means the selection itself.
	Aoe func(selected []board.Position) []board.Position
}

func (*SpaceSelectionContext) State() InteractionState { return InteractionSelectingSpace }
func (*SpaceSelectionContext) interactionContext()     {}

// Area returns the area of effect of the current partial selection.
func (c *SpaceSelectionContext) Area() []board.Position {
	if c.Aoe == nil {
		return slices.Clone(c.Selected)
	}
	return c.Aoe(slices.Clone(c.Selected))
}

// CardChoiceContext asks a player to choose cards by id.
type CardChoiceContext struct {
	Selection[string]
}

func (*CardChoiceContext) State() InteractionState { return InteractionChoosingCards }
func (*CardChoiceContext) interactionContext()     {}

// PlayCardContext holds the targeting step of a card being played from hand.
type PlayCardContext struct {
	SpaceSelectionContext
	CardID string
}

func (*PlayCardContext) State() InteractionState { return InteractionPlayingCard }
func (*PlayCardContext) interactionContext()     {}

// InteractionResult is produced when an interaction returns to idle.
type InteractionResult struct {
	From      InteractionState
	Context   InteractionContext
	Spaces    []board.Position
	Cards     []string
	Cancelled bool
}

// InteractionView is the serializable form of the interaction machine.
type InteractionView struct {
	State          string           `json:"state"`
	Player         string           `json:"player,omitempty"`
	Source         string           `json:"source,omitempty"`
	CardID         string           `json:"cardId,omitempty"`
	Candidates     []board.Position `json:"candidates,omitempty"`
	Selected       []board.Position `json:"selected,omitempty"`
	Area           []board.Position `json:"area,omitempty"`
	CardCandidates []string         `json:"cardCandidates,omitempty"`
	CardsSelected  []string         `json:"cardsSelected,omitempty"`
	Min            int              `json:"min,omitempty"`
	Max            int              `json:"max,omitempty"`
	CanCommit      bool             `json:"canCommit,omitempty"`
}

// InteractionMachine tracks the current interaction state and its context. At most one
// interaction is outstanding at a time.
type InteractionMachine struct {
	ctx InteractionContext
}

// NewInteractionMachine returns a machine in the idle state.
func NewInteractionMachine() *InteractionMachine {
	return &InteractionMachine{}
}

// State returns the current state.
func (m *InteractionMachine) State() InteractionState {
	if m.ctx == nil {
		return InteractionIdle
	}
	return m.ctx.State()
}

// IsIdle reports whether no interaction is pending.
func (m *InteractionMachine) IsIdle() bool {
	return m.ctx == nil
}

// Context returns the current context, nil when idle.
func (m *InteractionMachine) Context() InteractionContext {
	return m.ctx
}

// Owner returns the player owning the pending interaction.
func (m *InteractionMachine) Owner() string {
	if m.ctx == nil {
		return ""
	}
	return m.ctx.Owner()
}

// Begin enters the state declared by ctx. A second request while one is pending is
// rejected.
func (m *InteractionMachine) Begin(ctx InteractionContext) error {
	if ctx == nil || ctx.State() == InteractionIdle {
		return Fatal("interaction.begin", fmt.Errorf("%w: begin with %T", ErrContextTypeMismatch, ctx))
	}
	if m.ctx != nil {
		return Illegal("interaction_pending", ErrInteractionPending, "%s already in progress for %s", m.ctx.State(), m.ctx.Owner())
	}
	m.ctx = ctx
	return nil
}

// spatial returns the spatial selection of a selecting_space or playing_card context.
func (m *InteractionMachine) spatial() (*SpaceSelectionContext, error) {
	switch ctx := m.ctx.(type) {
	case nil:
		return nil, Illegal("no_interaction", ErrNoInteraction, "no space selection in progress")
	case *SpaceSelectionContext:
		return ctx, nil
	case *PlayCardContext:
		return &ctx.SpaceSelectionContext, nil
	case *CardChoiceContext:
		return nil, Illegal("wrong_interaction", ErrNoInteraction, "expected space selection, in %s", ctx.State())
	default:
		return nil, Fatal("interaction.spatial", fmt.Errorf("%w: %T", ErrContextTypeMismatch, m.ctx))
	}
}

func (m *InteractionMachine) cards() (*CardChoiceContext, error) {
	switch ctx := m.ctx.(type) {
	case nil:
		return nil, Illegal("no_interaction", ErrNoInteraction, "no card choice in progress")
	case *CardChoiceContext:
		return ctx, nil
	case *SpaceSelectionContext, *PlayCardContext:
		return nil, Illegal("wrong_interaction", ErrNoInteraction, "expected card choice, in %s", ctx.State())
	default:
		return nil, Fatal("interaction.cards", fmt.Errorf("%w: %T", ErrContextTypeMismatch, m.ctx))
	}
}

// PlayingCard returns the playing_card context.
func (m *InteractionMachine) PlayingCard() (*PlayCardContext, error) {
	ctx, ok := m.ctx.(*PlayCardContext)
	if !ok {
		return nil, Illegal("wrong_interaction", ErrNoInteraction, "no card is being played")
	}
	return ctx, nil
}

func (m *InteractionMachine) assertOwner(playerID string) error {
	if m.ctx.Owner() != playerID {
		return Illegal("not_interaction_owner", ErrNotOwner, "interaction belongs to %s", m.ctx.Owner())
	}
	return nil
}

// SelectSpace adds pos to the pending spatial selection. When the selection becomes
// complete and committable the machine commits and returns the result; otherwise the
// result is nil. An invalid selection leaves the state unchanged.
func (m *InteractionMachine) SelectSpace(playerID string, pos board.Position) (*InteractionResult, error) {
	sel, err := m.spatial()
	if err != nil {
		return nil, err
	}
	if err := m.assertOwner(playerID); err != nil {
		return nil, err
	}
	if !sel.IsEligible(pos) {
		return nil, cellNotEligible(pos)
	}
	sel.Selected = append(sel.Selected, pos)
	if sel.IsComplete() && sel.CanCommit() {
		return m.finish(false), nil
	}
	return nil, nil
}

// ChooseCards adds the card ids to the pending card choice. Either every id is accepted
// or none is.
func (m *InteractionMachine) ChooseCards(playerID string, cardIDs []string) (*InteractionResult, error) {
	sel, err := m.cards()
	if err != nil {
		return nil, err
	}
	if err := m.assertOwner(playerID); err != nil {
		return nil, err
	}
	trial, err := extend(&sel.Selection, cardIDs, cardNotEligible)
	if err != nil {
		return nil, err
	}
	sel.Selected = trial.Selected
	if sel.IsComplete() && sel.CanCommit() {
		return m.finish(false), nil
	}
	return nil, nil
}

// SelectSpaceAndCommit adds pos and commits in one step. When the extended selection
// cannot be committed the command is rejected and the selection is left as it was.
func (m *InteractionMachine) SelectSpaceAndCommit(playerID string, pos board.Position) (*InteractionResult, error) {
	sel, err := m.spatial()
	if err != nil {
		return nil, err
	}
	if err := m.assertOwner(playerID); err != nil {
		return nil, err
	}
	trial, err := extend(&sel.Selection, []board.Position{pos}, cellNotEligible)
	if err != nil {
		return nil, err
	}
	if !trial.CanCommit() {
		return nil, Illegal("cannot_commit", ErrCannotCommit, "%s selection is not ready", m.ctx.State())
	}
	sel.Selected = trial.Selected
	return m.finish(false), nil
}

// ChooseCardsAndCommit is ChooseCards followed by Commit, applied only if both succeed.
func (m *InteractionMachine) ChooseCardsAndCommit(playerID string, cardIDs []string) (*InteractionResult, error) {
	sel, err := m.cards()
	if err != nil {
		return nil, err
	}
	if err := m.assertOwner(playerID); err != nil {
		return nil, err
	}
	trial, err := extend(&sel.Selection, cardIDs, cardNotEligible)
	if err != nil {
		return nil, err
	}
	if !trial.CanCommit() {
		return nil, Illegal("cannot_commit", ErrCannotCommit, "%s selection is not ready", m.ctx.State())
	}
	sel.Selected = trial.Selected
	return m.finish(false), nil
}

// extend returns a copy of sel with items appended, or the rejection of the first
// ineligible item. sel itself is never modified.
func extend[T comparable](sel *Selection[T], items []T, reject func(T) error) (Selection[T], error) {
	trial := *sel
	trial.Selected = slices.Clone(sel.Selected)
	for _, item := range items {
		if !trial.IsEligible(item) {
			return trial, reject(item)
		}
		trial.Selected = append(trial.Selected, item)
	}
	return trial, nil
}

func cellNotEligible(pos board.Position) error {
	return Illegal("target_not_eligible", ErrTargetNotEligible, "cell %s is not a valid selection", pos)
}

func cardNotEligible(id string) error {
	return Illegal("target_not_eligible", ErrTargetNotEligible, "card %s is not a valid choice", id)
}

// Commit explicitly commits the pending interaction.
func (m *InteractionMachine) Commit(playerID string) (*InteractionResult, error) {
	if m.ctx == nil {
		return nil, Illegal("no_interaction", ErrNoInteraction, "nothing to commit")
	}
	if err := m.assertOwner(playerID); err != nil {
		return nil, err
	}
	var ok bool
	switch ctx := m.ctx.(type) {
	case *SpaceSelectionContext:
		ok = ctx.CanCommit()
	case *PlayCardContext:
		ok = ctx.CanCommit()
	case *CardChoiceContext:
		ok = ctx.CanCommit()
	default:
		return nil, Fatal("interaction.commit", fmt.Errorf("%w: %T", ErrContextTypeMismatch, m.ctx))
	}
	if !ok {
		return nil, Illegal("cannot_commit", ErrCannotCommit, "%s selection is not ready", m.ctx.State())
	}
	return m.finish(false), nil
}

// Cancel abandons the pending interaction. Only its owner may cancel it, and the result
// is always empty.
func (m *InteractionMachine) Cancel(playerID string) (*InteractionResult, error) {
	if m.ctx == nil {
		return nil, Illegal("no_interaction", ErrNoInteraction, "nothing to cancel")
	}
	if err := m.assertOwner(playerID); err != nil {
		return nil, err
	}
	return m.finish(true), nil
}

// Abort returns to idle without an ownership check. Used when the turn is forced to end.
func (m *InteractionMachine) Abort() *InteractionResult {
	if m.ctx == nil {
		return nil
	}
	return m.finish(true)
}

func (m *InteractionMachine) finish(cancelled bool) *InteractionResult {
	res := &InteractionResult{From: m.ctx.State(), Context: m.ctx, Cancelled: cancelled}
	if !cancelled {
		switch ctx := m.ctx.(type) {
		case *SpaceSelectionContext:
			res.Spaces = slices.Clone(ctx.Selected)
		case *PlayCardContext:
			res.Spaces = slices.Clone(ctx.Selected)
		case *CardChoiceContext:
			res.Cards = slices.Clone(ctx.Selected)
		}
	}
	m.ctx = nil
	return res
}

// View returns the serializable form of the current state.
func (m *InteractionMachine) View() InteractionView {
	view := InteractionView{State: m.State().String()}
	switch ctx := m.ctx.(type) {
	case *SpaceSelectionContext:
		fillSpatialView(&view, ctx)
	case *PlayCardContext:
		fillSpatialView(&view, &ctx.SpaceSelectionContext)
		view.CardID = ctx.CardID
	case *CardChoiceContext:
		view.Player = ctx.Player
		view.Source = ctx.Source
		view.CardCandidates = slices.Clone(ctx.Candidates)
		view.CardsSelected = slices.Clone(ctx.Selected)
		view.Min, view.Max = ctx.Min, ctx.Max
		view.CanCommit = ctx.CanCommit()
	}
	return view
}

func fillSpatialView(view *InteractionView, ctx *SpaceSelectionContext) {
	view.Player = ctx.Player
	view.Source = ctx.Source
	view.Candidates = slices.Clone(ctx.Candidates)
	view.Selected = slices.Clone(ctx.Selected)
	view.Area = ctx.Area()
	view.Min, view.Max = ctx.Min, ctx.Max
	view.CanCommit = ctx.CanCommit()
}
