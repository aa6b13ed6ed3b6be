package game

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/duelforge/tactics-server-go/internal/game/board"
	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

const (
	alice = "alice"
	bob   = "bob"
)

// enemyUnitCells returns the cells of the opponent's units.
func enemyUnitCells(s *State, playerID string) []board.Position {
	var out []board.Position
	for _, u := range s.Units() {
		if u.Owner != playerID {
			out = append(out, u.Pos)
		}
	}
	board.Sort(out)
	return out
}

func testCatalog(t *testing.T, extra ...Blueprint) *Catalog {
	t.Helper()
	bps := []Blueprint{
		&UnitBlueprint{BlueprintID: "soldier", DisplayName: "Soldier", ManaCost: 1, Attack: 2, Health: 3},
		&SpellBlueprint{
			BlueprintID: "bolt",
			DisplayName: "Bolt",
			ManaCost:    2,
			Targets:     1,
			TargetFn:    enemyUnitCells,
			Effect: func(_ context.Context, p *Play) error {
				for _, u := range p.UnitsInAoe() {
					if _, err := p.State.DealDamage(p.Card.EntityID(), u, 3); err != nil {
						return err
					}
				}
				return nil
			},
		},
		&SpellBlueprint{
			BlueprintID: "cycle",
			DisplayName: "Cycle",
			Effect: func(ctx context.Context, p *Play) error {
				pl, _ := p.State.Player(p.PlayerID)
				ids, err := p.Prompt.ChooseCards(ctx, CardRequest{Candidates: slices.Clone(pl.Hand), Min: 1, Max: 2})
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := p.State.DiscardCard(p.PlayerID, id, p.Card.EntityID()); err != nil {
						return err
					}
					if _, err := p.State.DrawCard(p.PlayerID); err != nil {
						return err
					}
				}
				return nil
			},
		},
		&SpellBlueprint{
			BlueprintID: "barrage",
			DisplayName: "Barrage",
			Effect: func(ctx context.Context, p *Play) error {
				for range 2 {
					cells, err := p.Prompt.SelectSpaces(ctx, SpaceRequest{
						Candidates: enemyUnitCells(p.State, p.PlayerID),
						Min:        1,
						Max:        1,
					})
					if err != nil {
						return err
					}
					for _, c := range cells {
						if u, ok := p.State.UnitAt(c); ok {
							if _, err := p.State.DealDamage(p.Card.EntityID(), u, 1); err != nil {
								return err
							}
						}
					}
				}
				return nil
			},
		},
	}
	catalog, err := NewCatalog(append(bps, extra...)...)
	require.NoError(t, err)
	return catalog
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxHand = 10
	cfg.Seed = 7
	return cfg
}

func testRosters() []Roster {
	deck := []string{"soldier", "soldier", "soldier", "soldier", "bolt", "bolt", "cycle", "cycle", "barrage", "barrage"}
	return []Roster{
		{PlayerID: alice, General: "Argeon", Deck: deck},
		{PlayerID: bob, General: "Vaath", Deck: deck},
	}
}

func newTestMatch(t *testing.T, extra ...Blueprint) *Match {
	t.Helper()
	m, err := NewMatch("match-1", testConfig(), testCatalog(t, extra...), testRosters(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

// startMain completes the mulligan for both players without swapping cards. Alice takes
// turn 1.
func startMain(t *testing.T, m *Match) {
	t.Helper()
	accept(t, m, CmdMulligan, alice, MulliganFields{CardIDs: []string{}})
	accept(t, m, CmdMulligan, bob, MulliganFields{CardIDs: []string{}})
	require.Equal(t, rules.PhaseMain.String(), m.TurnState().Phase)
}

func dispatch(t *testing.T, m *Match, typ, player string, fields any) Result {
	t.Helper()
	cmd, err := NewCommand(typ, player, fields)
	require.NoError(t, err)
	res, err := m.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	return res
}

// accept dispatches a command that must be accepted and returns the events it produced.
func accept(t *testing.T, m *Match, typ, player string, fields any) []rules.Event {
	t.Helper()
	before := len(m.History())
	res := dispatch(t, m, typ, player, fields)
	require.True(t, res.Accepted, "%s by %s rejected: %s (%s)", typ, player, res.Code, res.Reason)
	var out []rules.Event
	for _, snap := range m.History()[before:] {
		out = append(out, snap.Events...)
	}
	return out
}

// reject dispatches a command that must be rejected with code and leave the
// omniscient sequence untouched.
func reject(t *testing.T, m *Match, code, typ, player string, fields any) {
	t.Helper()
	before := m.lastSeq()
	res := dispatch(t, m, typ, player, fields)
	require.False(t, res.Accepted, "%s by %s was accepted", typ, player)
	require.Equal(t, code, res.Code, res.Reason)
	require.Equal(t, before, res.Seq)
	require.Equal(t, before, m.lastSeq())
}

// arrange mutates the state directly and publishes whatever it emitted.
func arrange(t *testing.T, m *Match, fn func(s *State)) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
	require.NoError(t, m.flush())
}

// putInHand moves a card with the blueprint into the player's hand, creating one if
// the deck has none.
func putInHand(t *testing.T, m *Match, playerID, blueprintID string) string {
	t.Helper()
	var id string
	arrange(t, m, func(s *State) {
		p := s.players[playerID]
		for _, cid := range p.Hand {
			if s.cards[cid].BlueprintID == blueprintID {
				id = cid
				return
			}
		}
		for i, cid := range p.Deck {
			if s.cards[cid].BlueprintID == blueprintID {
				p.Deck = slices.Delete(p.Deck, i, i+1)
				id = cid
				break
			}
		}
		if id == "" {
			bp, ok := s.catalog.Get(blueprintID)
			require.True(t, ok, "unknown blueprint %s", blueprintID)
			id = s.newCard(playerID, bp).id
		}
		s.cards[id].Zone = ZoneHand
		p.Hand = append(p.Hand, id)
	})
	return id
}

func summon(t *testing.T, m *Match, owner string, pos board.Position, attack, health int) *Unit {
	t.Helper()
	var u *Unit
	arrange(t, m, func(s *State) {
		var err error
		u, err = s.Summon(owner, "soldier", "Soldier", pos, attack, health)
		require.NoError(t, err)
	})
	return u
}

func general(m *Match, playerID string) *Unit {
	var u *Unit
	m.WithState(func(s *State) {
		p, _ := s.Player(playerID)
		u, _ = s.Unit(p.GeneralID)
	})
	return u
}

func eventTypes(events []rules.Event) []rules.EventType {
	out := make([]rules.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func intPtr(v int) *int { return &v }
