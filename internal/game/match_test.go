package game

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/duelforge/tactics-server-go/internal/game/board"
	"github.com/duelforge/tactics-server-go/internal/game/effects"
	"github.com/duelforge/tactics-server-go/internal/game/rules"
	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

func TestNewMatchDealsStartingHands(t *testing.T) {
	m := newTestMatch(t)

	ts := m.TurnState()
	assert.Equal(t, rules.PhaseMulligan.String(), ts.Phase)
	assert.Equal(t, []string{alice, bob}, m.Players())

	m.WithState(func(s *State) {
		for _, id := range []string{alice, bob} {
			p, ok := s.Player(id)
			require.True(t, ok)
			assert.Len(t, p.Hand, 5)
			assert.Len(t, p.Deck, 5)
		}
	})
	assert.Equal(t, board.Pos(0, 2), general(m, alice).Pos)
	assert.Equal(t, board.Pos(8, 2), general(m, bob).Pos)

	require.Len(t, m.History(), 1)
	first := m.History()[0]
	assert.Equal(t, int64(0), first.Seq)
	assert.Contains(t, first.Entities, MatchEntityID)
	assert.Contains(t, first.Entities, PlayerEntityID(alice))
}

func TestMulliganSwapsCardsAndStartsTheGame(t *testing.T) {
	m := newTestMatch(t)
	g := general(m, alice)

	reject(t, m, "wrong_phase", CmdMove, alice, MoveFields{UnitID: g.EntityID(), X: 1, Y: 2})

	var hand []string
	m.WithState(func(s *State) {
		p, _ := s.Player(alice)
		hand = slices.Clone(p.Hand)
	})
	reject(t, m, "mulligan_limit", CmdMulligan, alice, MulliganFields{CardIDs: hand[:3]})

	events := accept(t, m, CmdMulligan, alice, MulliganFields{CardIDs: hand[:2]})
	assert.Equal(t, []rules.EventType{
		rules.EventCardReplaced, rules.EventCardDrawn,
		rules.EventCardReplaced, rules.EventCardDrawn,
		rules.EventMulliganCompleted,
	}, eventTypes(events))
	m.WithState(func(s *State) {
		p, _ := s.Player(alice)
		assert.Len(t, p.Hand, 5)
		assert.NotContains(t, p.Hand, hand[0])
		assert.NotContains(t, p.Hand, hand[1])
		assert.Contains(t, p.Deck, hand[0])
		assert.True(t, p.Mulliganed)
	})
	assert.Equal(t, rules.PhaseMulligan.String(), m.TurnState().Phase)

	reject(t, m, "mulligan_done", CmdMulligan, alice, MulliganFields{CardIDs: []string{}})

	events = accept(t, m, CmdMulligan, bob, MulliganFields{CardIDs: []string{}})
	types := eventTypes(events)
	assert.Contains(t, types, rules.EventPhaseChanged)
	assert.Contains(t, types, rules.EventTurnStarted)

	ts := m.TurnState()
	assert.Equal(t, rules.PhaseMain.String(), ts.Phase)
	assert.Equal(t, alice, ts.CurrentPlayer)
	assert.Equal(t, 1, ts.Turn)
	m.WithState(func(s *State) {
		p, _ := s.Player(alice)
		assert.Len(t, p.Hand, 6)
		assert.Equal(t, 3, p.Mana.Available())
	})
}

func TestOnlyTheCurrentPlayerActs(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)

	reject(t, m, "not_your_turn", CmdEndTurn, bob, nil)
	reject(t, m, "not_your_turn", CmdMove, bob, MoveFields{UnitID: general(m, bob).EntityID(), X: 7, Y: 2})
	reject(t, m, "not_owner", CmdMove, alice, MoveFields{UnitID: general(m, bob).EntityID(), X: 7, Y: 2})

	events := accept(t, m, CmdEndTurn, alice, nil)
	types := eventTypes(events)
	assert.Equal(t, rules.EventTurnEnded, types[0])
	assert.Contains(t, types, rules.EventTurnStarted)

	ts := m.TurnState()
	assert.Equal(t, bob, ts.CurrentPlayer)
	assert.Equal(t, 2, ts.Turn)
	reject(t, m, "not_your_turn", CmdEndTurn, alice, nil)
}

func TestMoveStaysInsideMoveZone(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)
	g := general(m, alice)
	ally := summon(t, m, alice, board.Pos(3, 2), 2, 3)

	adjacentAlly := func(b effects.Binding, h effects.Host) bool {
		host, ok := b.Host.(*Unit)
		u, ok2 := h.(*Unit)
		return ok && ok2 && u != host && u.Owner == host.Owner && board.Chebyshev(u.Pos, host.Pos) <= 1
	}
	arrange(t, m, func(s *State) {
		banner := effects.NewModifierBuilder("banner").
			Aura(effects.ScopeUnits, adjacentAlly, effects.NewModifierBuilder("banner_buff").Buff(effects.StatAttack, 1))
		_, err := g.Modifiers().Add(banner.Build())
		require.NoError(t, err)
	})
	require.Equal(t, 2, ally.Attack())

	reject(t, m, "out_of_range", CmdMove, alice, MoveFields{UnitID: g.EntityID(), X: 8, Y: 2})
	reject(t, m, "out_of_range", CmdMove, alice, MoveFields{UnitID: g.EntityID(), X: 3, Y: 2})
	reject(t, m, "out_of_bounds", CmdMove, alice, MoveFields{UnitID: g.EntityID(), X: 0, Y: 5})
	assert.Equal(t, board.Pos(0, 2), g.Pos)

	events := accept(t, m, CmdMove, alice, MoveFields{UnitID: g.EntityID(), X: 2, Y: 2})
	require.NotEmpty(t, events)
	assert.Equal(t, rules.EventUnitMoved, events[0].Type)
	assert.Equal(t, g.EntityID(), events[0].TargetID)
	assert.Equal(t, board.Pos(2, 2).String(), events[0].Meta("to"))
	assert.Contains(t, eventTypes(events), rules.EventModifierApplied)
	assert.Equal(t, board.Pos(2, 2), g.Pos)
	assert.Equal(t, 3, ally.Attack())

	reject(t, m, "already_moved", CmdMove, alice, MoveFields{UnitID: g.EntityID(), X: 2, Y: 3})

	var view UnitView
	cur, err := m.Current(snapshot.Omniscient)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(cur.Entities[ally.EntityID()], &view))
	assert.Equal(t, 3, view.Attack)
	require.Len(t, view.Modifiers, 1)
	assert.Equal(t, "banner_buff", view.Modifiers[0].TypeID)
}

func TestAttackIsCountered(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)
	g := general(m, alice)
	enemy := summon(t, m, bob, board.Pos(1, 2), 2, 3)

	events := accept(t, m, CmdAttack, alice, AttackFields{UnitID: g.EntityID(), TargetID: enemy.EntityID()})
	assert.Equal(t, []rules.EventType{
		rules.EventUnitAttacked, rules.EventDamageDealt, rules.EventDamageDealt,
	}, eventTypes(events))
	assert.Equal(t, 1, enemy.Health())
	assert.Equal(t, 23, g.Health())

	reject(t, m, "already_attacked", CmdAttack, alice, AttackFields{UnitID: g.EntityID(), TargetID: enemy.EntityID()})
	reject(t, m, "already_moved", CmdMove, alice, MoveFields{UnitID: g.EntityID(), X: 0, Y: 1})
}

func TestAttackTargetChecks(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)
	g := general(m, alice)
	far := summon(t, m, bob, board.Pos(3, 2), 2, 3)
	friend := summon(t, m, alice, board.Pos(0, 1), 1, 1)

	reject(t, m, "out_of_range", CmdAttack, alice, AttackFields{UnitID: g.EntityID(), TargetID: far.EntityID()})
	reject(t, m, "friendly_target", CmdAttack, alice, AttackFields{UnitID: g.EntityID(), TargetID: friend.EntityID()})
	reject(t, m, "unit_not_found", CmdAttack, alice, AttackFields{UnitID: g.EntityID(), TargetID: "unit-99"})
}

func TestDestroyingAGeneralEndsTheGame(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)
	g := general(m, alice)
	target := general(m, bob)
	arrange(t, m, func(s *State) {
		g.Pos = board.Pos(7, 2)
		target.Damage = 24
	})

	events := accept(t, m, CmdAttack, alice, AttackFields{UnitID: g.EntityID(), TargetID: target.EntityID()})
	types := eventTypes(events)
	assert.Contains(t, types, rules.EventUnitDestroyed)
	assert.Equal(t, rules.EventGameEnded, types[len(types)-1])
	assert.Equal(t, 25, g.Health(), "dead targets do not counter")

	ts := m.TurnState()
	assert.Equal(t, rules.PhaseGameEnd.String(), ts.Phase)
	assert.Equal(t, alice, ts.Winner)
	assert.Equal(t, "general_destroyed", ts.Reason)

	reject(t, m, "wrong_phase", CmdEndTurn, alice, nil)
}

func TestCaptureGrantsFloatingMana(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)
	g := general(m, alice)

	events := accept(t, m, CmdCapture, alice, CaptureFields{UnitID: g.EntityID()})
	require.Len(t, events, 1)
	assert.Equal(t, rules.EventCellCaptured, events[0].Type)
	assert.Equal(t, board.Pos(0, 2).CellID(), events[0].TargetID)
	reject(t, m, "already_acted", CmdCapture, alice, CaptureFields{UnitID: g.EntityID()})

	cur, err := m.Current(bob)
	require.NoError(t, err)
	assert.Contains(t, cur.Entities, board.Pos(0, 2).CellID())

	accept(t, m, CmdEndTurn, alice, nil)
	accept(t, m, CmdEndTurn, bob, nil)

	m.WithState(func(s *State) {
		p, _ := s.Player(alice)
		st := p.Mana.State()
		assert.Equal(t, 4, st.Current)
		assert.Equal(t, 1, st.Floating)
		assert.Equal(t, 5, p.Mana.Available())
	})
	reject(t, m, "already_captured", CmdCapture, alice, CaptureFields{UnitID: g.EntityID()})
}

func TestResourceActionDrawsOncePerTurn(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)

	events := accept(t, m, CmdUseResourceAction, alice, nil)
	assert.Equal(t, []rules.EventType{rules.EventResourceActionUsed, rules.EventCardDrawn}, eventTypes(events))
	m.WithState(func(s *State) {
		p, _ := s.Player(alice)
		assert.Len(t, p.Hand, 7)
		assert.True(t, p.ResourceUsed)
	})
	reject(t, m, "resource_used", CmdUseResourceAction, alice, nil)

	accept(t, m, CmdEndTurn, alice, nil)
	accept(t, m, CmdUseResourceAction, bob, nil)
}

func TestReplaceCardOncePerTurn(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)

	var hand []string
	m.WithState(func(s *State) {
		p, _ := s.Player(alice)
		hand = slices.Clone(p.Hand)
	})
	events := accept(t, m, CmdReplaceCard, alice, ReplaceCardFields{CardID: hand[0]})
	assert.Equal(t, []rules.EventType{rules.EventCardReplaced, rules.EventCardDrawn}, eventTypes(events))
	m.WithState(func(s *State) {
		p, _ := s.Player(alice)
		assert.Len(t, p.Hand, len(hand))
		assert.NotContains(t, p.Hand, hand[0])
		assert.Contains(t, p.Deck, hand[0])
	})
	reject(t, m, "replace_used", CmdReplaceCard, alice, ReplaceCardFields{CardID: hand[1]})
}

func TestCommandValidation(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)
	g := general(m, alice).EntityID()

	tests := []struct {
		name   string
		typ    string
		player string
		fields any
		code   string
	}{
		{"unknown command", "teleport", alice, nil, "invalid_command"},
		{"missing field", CmdMove, alice, map[string]any{"unitId": g, "x": 1}, "invalid_command"},
		{"extra field", CmdMove, alice, map[string]any{"unitId": g, "x": 1, "y": 2, "speed": 3}, "invalid_command"},
		{"negative coordinate", CmdMove, alice, map[string]any{"unitId": g, "x": -1, "y": 2}, "invalid_command"},
		{"wrong type", CmdPlayCard, alice, map[string]any{"cardId": 7}, "invalid_command"},
		{"x without y", CmdSelectSpace, alice, map[string]any{"x": 1}, "invalid_command"},
		{"empty selection", CmdSelectSpace, alice, map[string]any{}, "invalid_command"},
		{"missing player", CmdEndTurn, "", nil, "invalid_command"},
		{"system only", CmdForceEndTurn, alice, nil, "system_only"},
		{"system cannot play", CmdEndTurn, SystemPlayer, nil, "unknown_player"},
		{"stranger", CmdEndTurn, "mallory", nil, "unknown_player"},
		{"nothing to select", CmdSelectSpace, alice, SelectSpaceFields{X: intPtr(1), Y: intPtr(2)}, "no_interaction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reject(t, m, tt.code, tt.typ, tt.player, tt.fields)
		})
	}
	assert.Equal(t, 2, m.Processed())
}

func TestPendingInteractionBlocksOtherCommands(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)
	card := putInHand(t, m, alice, "soldier")

	accept(t, m, CmdPlayCard, alice, PlayCardFields{CardID: card})
	reject(t, m, "interaction_pending", CmdEndTurn, alice, nil)
	reject(t, m, "interaction_pending", CmdUseResourceAction, alice, nil)
	reject(t, m, "not_interaction_owner", CmdSelectSpace, bob, SelectSpaceFields{X: intPtr(1), Y: intPtr(2)})
	reject(t, m, "wrong_interaction", CmdChooseCards, alice, ChooseCardsFields{CardIDs: []string{card}})
}

func TestFailingCardsQuarantineTheMatch(t *testing.T) {
	tests := []struct {
		name string
		bp   Blueprint
	}{
		{"effect error", &SpellBlueprint{BlueprintID: "broken", Effect: func(context.Context, *Play) error {
			return errors.New("broken effect")
		}}},
		{"effect panic", &SpellBlueprint{BlueprintID: "broken", Effect: func(context.Context, *Play) error {
			panic("boom")
		}}},
		{"rule hook panic", &SpellBlueprint{BlueprintID: "broken", CanPlayFn: func(*State, string) bool {
			panic("boom")
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMatch(t, tt.bp)
			startMain(t, m)
			card := putInHand(t, m, alice, "broken")
			before := m.lastSeq()

			cmd, err := NewCommand(CmdPlayCard, alice, PlayCardFields{CardID: card})
			require.NoError(t, err)
			_, err = m.Dispatch(context.Background(), cmd)
			require.ErrorIs(t, err, ErrMatchQuarantined)
			require.Error(t, m.Quarantined())
			assert.True(t, rules.IsFatal(m.Quarantined()))
			assert.Equal(t, before, m.lastSeq(), "nothing is published from a quarantined command")

			end, err := NewCommand(CmdEndTurn, alice, nil)
			require.NoError(t, err)
			_, err = m.Dispatch(context.Background(), end)
			assert.ErrorIs(t, err, ErrMatchQuarantined)
		})
	}
}

func TestClosedMatchRejectsCommands(t *testing.T) {
	m := newTestMatch(t)
	m.Close()

	cmd, err := NewCommand(CmdMulligan, alice, MulliganFields{CardIDs: []string{}})
	require.NoError(t, err)
	_, err = m.Dispatch(context.Background(), cmd)
	assert.ErrorIs(t, err, ErrMatchClosed)
}

func TestSubscribersSeeEveryTick(t *testing.T) {
	m := newTestMatch(t)

	var seqs []int64
	cancel, err := m.Subscribe(alice, func(s *snapshot.Snapshot) { seqs = append(seqs, s.Seq) })
	require.NoError(t, err)

	startMain(t, m)
	accept(t, m, CmdEndTurn, alice, nil)
	cancel()
	accept(t, m, CmdEndTurn, bob, nil)

	assert.Equal(t, []int64{1, 2, 3}, seqs)

	_, err = m.Subscribe("mallory", func(*snapshot.Snapshot) {})
	assert.Error(t, err)
}

func TestCloseLogsFailedUnwind(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	stubborn := &SpellBlueprint{
		BlueprintID: "stubborn",
		DisplayName: "Stubborn",
		Effect: func(ctx context.Context, p *Play) error {
			pl, _ := p.State.Player(p.PlayerID)
			if _, err := p.Prompt.ChooseCards(ctx, CardRequest{Candidates: slices.Clone(pl.Hand), Min: 1, Max: 1}); err != nil {
				return errors.New("unwind failed")
			}
			return nil
		},
	}
	m, err := NewMatch("match-1", testConfig(), testCatalog(t, stubborn), testRosters(), zap.New(core))
	require.NoError(t, err)
	startMain(t, m)
	card := putInHand(t, m, alice, "stubborn")
	accept(t, m, CmdPlayCard, alice, PlayCardFields{CardID: card})

	m.Close()

	entries := logs.FilterMessage("card resolution failed while aborting").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "match-1", fields["match_id"])
	assert.Equal(t, "close", fields["reason"])
	assert.Contains(t, fields["error"], "unwind failed")
}
