package rules

import (
	"fmt"
	"slices"
	"strings"
)

// Phase is the top-level phase of a match.
type Phase int

const (
	PhaseMulligan Phase = iota
	PhaseMain
	PhaseGameEnd
)

var phaseNames = map[Phase]string{
	PhaseMulligan: "mulligan",
	PhaseMain:     "main",
	PhaseGameEnd:  "game_end",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase_%d", int(p))
}

// PhaseSet is the set of phases a command is legal in.
type PhaseSet uint8

// Phases builds a PhaseSet.
func Phases(phases ...Phase) PhaseSet {
	var set PhaseSet
	for _, p := range phases {
		set |= 1 << uint(p)
	}
	return set
}

// Has reports whether p is in the set.
func (s PhaseSet) Has(p Phase) bool {
	return s&(1<<uint(p)) != 0
}

func (s PhaseSet) String() string {
	names := make([]string, 0, 3)
	for _, p := range []Phase{PhaseMulligan, PhaseMain, PhaseGameEnd} {
		if s.Has(p) {
			names = append(names, p.String())
		}
	}
	return strings.Join(names, "|")
}

// PhaseContext is the phase-specific state needed to resume a phase. Only the context
// types in this package implement it.
type PhaseContext interface {
	Phase() Phase
	phaseContext()
}

// MulliganContext tracks players who still owe a mulligan decision.
type MulliganContext struct {
	Pending []string `json:"pending"`
}

func (*MulliganContext) Phase() Phase  { return PhaseMulligan }
func (*MulliganContext) phaseContext() {}

// IsPending reports whether the player has not yet completed the mulligan.
func (c *MulliganContext) IsPending(playerID string) bool {
	return slices.Contains(c.Pending, playerID)
}

// MainContext tracks the turn owner and turn counter.
type MainContext struct {
	CurrentPlayer string `json:"currentPlayer"`
	Turn          int    `json:"turn"`
}

func (*MainContext) Phase() Phase  { return PhaseMain }
func (*MainContext) phaseContext() {}

// GameEndContext records how the match finished.
type GameEndContext struct {
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason"`
}

func (*GameEndContext) Phase() Phase  { return PhaseGameEnd }
func (*GameEndContext) phaseContext() {}

// TurnState is the serializable view of the turn machine.
type TurnState struct {
	Phase         string   `json:"phase"`
	CurrentPlayer string   `json:"currentPlayer,omitempty"`
	Turn          int      `json:"turn"`
	Pending       []string `json:"pending,omitempty"`
	Winner        string   `json:"winner,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// TurnMachine drives mulligan -> main (looping on end turn) -> game_end.
type TurnMachine struct {
	players []string
	phase   Phase
	ctx     PhaseContext
}

// NewTurnMachine creates a machine in the mulligan phase. Turn order follows players.
func NewTurnMachine(players []string) (*TurnMachine, error) {
	if len(players) < 2 {
		return nil, fmt.Errorf("turn machine requires at least two players, got %d", len(players))
	}
	order := make([]string, 0, len(players))
	for _, p := range players {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("turn machine: empty player id")
		}
		if slices.Contains(order, p) {
			return nil, fmt.Errorf("turn machine: duplicate player id %q", p)
		}
		order = append(order, p)
	}
	return &TurnMachine{
		players: order,
		phase:   PhaseMulligan,
		ctx:     &MulliganContext{Pending: slices.Clone(order)},
	}, nil
}

// Players returns the turn order.
func (tm *TurnMachine) Players() []string {
	return slices.Clone(tm.players)
}

// Phase returns the current phase.
func (tm *TurnMachine) Phase() Phase {
	return tm.phase
}

// Context returns the raw phase context.
func (tm *TurnMachine) Context() PhaseContext {
	return tm.ctx
}

// Mulligan returns the mulligan context, failing if the match is in another phase.
func (tm *TurnMachine) Mulligan() (*MulliganContext, error) {
	if tm.phase != PhaseMulligan {
		return nil, Illegal("wrong_phase", ErrWrongPhase, "expected %s phase, in %s", PhaseMulligan, tm.phase)
	}
	ctx, ok := tm.ctx.(*MulliganContext)
	if !ok {
		return nil, Fatal("turn.mulligan", fmt.Errorf("%w: phase %s holds %T", ErrContextTypeMismatch, tm.phase, tm.ctx))
	}
	return ctx, nil
}

// Main returns the main-phase context, failing if the match is in another phase.
func (tm *TurnMachine) Main() (*MainContext, error) {
	if tm.phase != PhaseMain {
		return nil, Illegal("wrong_phase", ErrWrongPhase, "expected %s phase, in %s", PhaseMain, tm.phase)
	}
	ctx, ok := tm.ctx.(*MainContext)
	if !ok {
		return nil, Fatal("turn.main", fmt.Errorf("%w: phase %s holds %T", ErrContextTypeMismatch, tm.phase, tm.ctx))
	}
	return ctx, nil
}

// CurrentPlayer returns the turn owner, or "" outside the main phase.
func (tm *TurnMachine) CurrentPlayer() string {
	if ctx, ok := tm.ctx.(*MainContext); ok {
		return ctx.CurrentPlayer
	}
	return ""
}

// TurnNumber returns the turn counter (0 before the main phase starts).
func (tm *TurnMachine) TurnNumber() int {
	if ctx, ok := tm.ctx.(*MainContext); ok {
		return ctx.Turn
	}
	return 0
}

// IsPlayer reports whether id takes part in the match.
func (tm *TurnMachine) IsPlayer(id string) bool {
	return slices.Contains(tm.players, id)
}

// Opponent returns the player after id in turn order.
func (tm *TurnMachine) Opponent(id string) string {
	idx := slices.Index(tm.players, id)
	if idx < 0 {
		return ""
	}
	return tm.players[(idx+1)%len(tm.players)]
}

// CompleteMulligan marks the player's mulligan as done. When the last pending player
// completes, the machine enters the main phase with the first player on turn 1 and
// started is true.
func (tm *TurnMachine) CompleteMulligan(playerID string) (started bool, err error) {
	ctx, err := tm.Mulligan()
	if err != nil {
		return false, err
	}
	idx := slices.Index(ctx.Pending, playerID)
	if idx < 0 {
		if tm.IsPlayer(playerID) {
			return false, Illegal("mulligan_done", ErrActionSpent, "player %s already completed the mulligan", playerID)
		}
		return false, Illegal("unknown_player", ErrEntityNotFound, "player %s is not in this match", playerID)
	}
	ctx.Pending = slices.Delete(ctx.Pending, idx, idx+1)
	if len(ctx.Pending) > 0 {
		return false, nil
	}
	tm.phase = PhaseMain
	tm.ctx = &MainContext{CurrentPlayer: tm.players[0], Turn: 1}
	return true, nil
}

// EndTurn passes the turn to the next player. Only the turn owner may end the turn.
func (tm *TurnMachine) EndTurn(playerID string) (next string, err error) {
	ctx, err := tm.Main()
	if err != nil {
		return "", err
	}
	if ctx.CurrentPlayer != playerID {
		return "", Illegal("not_your_turn", ErrNotYourTurn, "player %s cannot end %s's turn", playerID, ctx.CurrentPlayer)
	}
	return tm.advance(ctx), nil
}

// ForceEndTurn ends the current turn regardless of the caller. Used by the turn clock.
func (tm *TurnMachine) ForceEndTurn() (next string, err error) {
	ctx, err := tm.Main()
	if err != nil {
		return "", err
	}
	return tm.advance(ctx), nil
}

func (tm *TurnMachine) advance(ctx *MainContext) string {
	ctx.CurrentPlayer = tm.Opponent(ctx.CurrentPlayer)
	ctx.Turn++
	return ctx.CurrentPlayer
}

// EndGame moves the match to game_end. Calling it twice is an illegal action.
func (tm *TurnMachine) EndGame(winner, reason string) error {
	if tm.phase == PhaseGameEnd {
		return Illegal("game_over", ErrWrongPhase, "match already ended")
	}
	tm.phase = PhaseGameEnd
	tm.ctx = &GameEndContext{Winner: winner, Reason: reason}
	return nil
}

// State returns the serializable view of the machine.
func (tm *TurnMachine) State() TurnState {
	state := TurnState{Phase: tm.phase.String()}
	switch ctx := tm.ctx.(type) {
	case *MulliganContext:
		state.Pending = slices.Clone(ctx.Pending)
	case *MainContext:
		state.CurrentPlayer = ctx.CurrentPlayer
		state.Turn = ctx.Turn
	case *GameEndContext:
		state.Winner = ctx.Winner
		state.Reason = ctx.Reason
	}
	return state
}
