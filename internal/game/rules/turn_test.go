package rules

import (
	"errors"
	"testing"
)

func newMainMachine(t *testing.T) *TurnMachine {
	t.Helper()
	tm, err := NewTurnMachine([]string{"alice", "bob"})
	if err != nil {
		t.Fatalf("new turn machine: %v", err)
	}
	if _, err := tm.CompleteMulligan("alice"); err != nil {
		t.Fatalf("mulligan alice: %v", err)
	}
	if _, err := tm.CompleteMulligan("bob"); err != nil {
		t.Fatalf("mulligan bob: %v", err)
	}
	return tm
}

func TestNewTurnMachineValidatesPlayers(t *testing.T) {
	cases := [][]string{
		nil,
		{"alice"},
		{"alice", ""},
		{"alice", "alice"},
	}
	for _, players := range cases {
		if _, err := NewTurnMachine(players); err == nil {
			t.Fatalf("expected error for players %v", players)
		}
	}
}

func TestTurnMachineMulliganToMain(t *testing.T) {
	tm, err := NewTurnMachine([]string{"alice", "bob"})
	if err != nil {
		t.Fatalf("new turn machine: %v", err)
	}
	if tm.Phase() != PhaseMulligan {
		t.Fatalf("expected mulligan phase, got %s", tm.Phase())
	}

	started, err := tm.CompleteMulligan("bob")
	if err != nil {
		t.Fatalf("mulligan bob: %v", err)
	}
	if started {
		t.Fatal("main phase should wait for alice")
	}
	ctx, err := tm.Mulligan()
	if err != nil {
		t.Fatalf("mulligan context: %v", err)
	}
	if ctx.IsPending("bob") || !ctx.IsPending("alice") {
		t.Fatalf("unexpected pending set %v", ctx.Pending)
	}

	if _, err := tm.CompleteMulligan("bob"); !errors.Is(err, ErrActionSpent) {
		t.Fatalf("expected repeated mulligan to be rejected, got %v", err)
	}
	if _, err := tm.CompleteMulligan("carol"); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected unknown player to be rejected, got %v", err)
	}

	started, err = tm.CompleteMulligan("alice")
	if err != nil {
		t.Fatalf("mulligan alice: %v", err)
	}
	if !started {
		t.Fatal("expected main phase to start")
	}
	if tm.Phase() != PhaseMain {
		t.Fatalf("expected main phase, got %s", tm.Phase())
	}
	if tm.CurrentPlayer() != "alice" || tm.TurnNumber() != 1 {
		t.Fatalf("expected alice on turn 1, got %s on turn %d", tm.CurrentPlayer(), tm.TurnNumber())
	}
}

func TestTurnMachineEndTurnAlternates(t *testing.T) {
	tm := newMainMachine(t)

	next, err := tm.EndTurn("alice")
	if err != nil {
		t.Fatalf("end turn: %v", err)
	}
	if next != "bob" || tm.TurnNumber() != 2 {
		t.Fatalf("expected bob on turn 2, got %s on turn %d", next, tm.TurnNumber())
	}

	next, err = tm.EndTurn("bob")
	if err != nil {
		t.Fatalf("end turn: %v", err)
	}
	if next != "alice" || tm.TurnNumber() != 3 {
		t.Fatalf("expected alice on turn 3, got %s on turn %d", next, tm.TurnNumber())
	}
}

func TestTurnMachineRejectsNonOwner(t *testing.T) {
	tm := newMainMachine(t)

	_, err := tm.EndTurn("bob")
	var illegal *IllegalActionError
	if !errors.As(err, &illegal) {
		t.Fatalf("expected illegal action error, got %v", err)
	}
	if !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	if tm.CurrentPlayer() != "alice" || tm.TurnNumber() != 1 {
		t.Fatalf("state changed after rejection: %s turn %d", tm.CurrentPlayer(), tm.TurnNumber())
	}
}

func TestTurnMachineForceEndTurn(t *testing.T) {
	tm := newMainMachine(t)
	next, err := tm.ForceEndTurn()
	if err != nil {
		t.Fatalf("force end turn: %v", err)
	}
	if next != "bob" {
		t.Fatalf("expected bob, got %s", next)
	}
}

func TestTurnMachineWrongPhase(t *testing.T) {
	tm, _ := NewTurnMachine([]string{"alice", "bob"})
	if _, err := tm.EndTurn("alice"); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected wrong phase during mulligan, got %v", err)
	}

	tm = newMainMachine(t)
	if err := tm.EndGame("alice", "general_destroyed"); err != nil {
		t.Fatalf("end game: %v", err)
	}
	if _, err := tm.EndTurn("alice"); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected wrong phase after game end, got %v", err)
	}
	if err := tm.EndGame("bob", "again"); err == nil {
		t.Fatal("expected second EndGame to fail")
	}
	state := tm.State()
	if state.Phase != "game_end" || state.Winner != "alice" {
		t.Fatalf("unexpected end state %+v", state)
	}
}

func TestTurnMachineContextMismatchIsFatal(t *testing.T) {
	tm := newMainMachine(t)
	tm.ctx = &MulliganContext{}

	_, err := tm.Main()
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if !errors.Is(err, ErrContextTypeMismatch) {
		t.Fatalf("expected ErrContextTypeMismatch, got %v", err)
	}
}

func TestPhaseSet(t *testing.T) {
	set := Phases(PhaseMain, PhaseGameEnd)
	if set.Has(PhaseMulligan) || !set.Has(PhaseMain) || !set.Has(PhaseGameEnd) {
		t.Fatalf("unexpected membership for %s", set)
	}
	if set.String() != "main|game_end" {
		t.Fatalf("unexpected string %q", set.String())
	}
}
