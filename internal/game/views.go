package game

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/duelforge/tactics-server-go/internal/game/board"
	"github.com/duelforge/tactics-server-go/internal/game/effects"
	"github.com/duelforge/tactics-server-go/internal/game/mana"
	"github.com/duelforge/tactics-server-go/internal/game/rules"
	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

// MatchEntityID is the id of the entity holding turn and interaction state.
const MatchEntityID = "match"

// PlayerEntityID returns the entity id of a player.
func PlayerEntityID(playerID string) string { return "player-" + playerID }

// Serialized entity shapes.
type (
	MatchView struct {
		Turn        rules.TurnState       `json:"turn"`
		Interaction rules.InteractionView `json:"interaction"`
	}

	PlayerView struct {
		ID           string         `json:"id"`
		General      string         `json:"general"`
		GeneralID    string         `json:"generalId,omitempty"`
		Mana         mana.PoolState `json:"mana"`
		HandCount    int            `json:"handCount"`
		DeckCount    int            `json:"deckCount"`
		Hand         []string       `json:"hand,omitempty"`
		Deck         []string       `json:"deck,omitempty"`
		Discard      []string       `json:"discard"`
		ResourceUsed bool           `json:"resourceUsed"`
		Replaced     bool           `json:"replaced"`
		Mulliganed   bool           `json:"mulliganed"`
	}

	UnitView struct {
		ID          string                 `json:"id"`
		Owner       string                 `json:"owner"`
		BlueprintID string                 `json:"blueprintId"`
		Name        string                 `json:"name"`
		Pos         board.Position         `json:"pos"`
		Attack      int                    `json:"attack"`
		Health      int                    `json:"health"`
		MaxHealth   int                    `json:"maxHealth"`
		MoveRange   int                    `json:"moveRange"`
		AttackRange int                    `json:"attackRange"`
		General     bool                   `json:"general,omitempty"`
		Moved       bool                   `json:"moved,omitempty"`
		Attacked    bool                   `json:"attacked,omitempty"`
		Modifiers   []effects.ModifierView `json:"modifiers,omitempty"`
	}

	CardView struct {
		ID          string                 `json:"id"`
		Owner       string                 `json:"owner"`
		BlueprintID string                 `json:"blueprintId"`
		Zone        Zone                   `json:"zone"`
		Cost        int                    `json:"cost"`
		Modifiers   []effects.ModifierView `json:"modifiers,omitempty"`
	}

	CellView struct {
		Pos   board.Position `json:"pos"`
		Owner string         `json:"owner"`
	}
)

// IsViewer reports whether id is a valid viewer of the match.
func (s *State) IsViewer(id string) bool {
	return id == snapshot.Omniscient || id == snapshot.Spectator || s.turn.IsPlayer(id)
}

// Viewers returns every viewer of the match: omniscient, each player, spectator.
func (s *State) Viewers() []string {
	out := []string{snapshot.Omniscient}
	out = append(out, s.order...)
	return append(out, snapshot.Spectator)
}

// canSee reports whether the viewer may see the card's identity.
func (s *State) canSee(viewer string, c *Card) bool {
	switch {
	case viewer == snapshot.Omniscient:
		return true
	case c.Zone == ZoneDiscard:
		return true
	default:
		return c.Owner == viewer && c.Zone == ZoneHand
	}
}

// View builds the entity graph and event list the viewer is allowed to see.
func (s *State) View(viewer string, events []rules.Event) (snapshot.View, error) {
	if !s.IsViewer(viewer) {
		return snapshot.View{}, fmt.Errorf("unknown viewer %q", viewer)
	}
	g := make(snapshot.Graph)
	put := func(id string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", id, err)
		}
		g[id] = raw
		return nil
	}

	if err := put(MatchEntityID, MatchView{Turn: s.turn.State(), Interaction: s.interactionView(viewer)}); err != nil {
		return snapshot.View{}, err
	}
	for _, id := range s.order {
		if err := put(PlayerEntityID(id), s.playerView(viewer, s.players[id])); err != nil {
			return snapshot.View{}, err
		}
	}
	for _, u := range s.units {
		if err := put(u.id, unitView(u)); err != nil {
			return snapshot.View{}, err
		}
	}
	for _, id := range s.cardOrder {
		c := s.cards[id]
		if !s.canSee(viewer, c) {
			continue
		}
		view := CardView{
			ID:          c.id,
			Owner:       c.Owner,
			BlueprintID: c.BlueprintID,
			Zone:        c.Zone,
			Cost:        c.ManaCost(),
			Modifiers:   c.mods.Views(),
		}
		if err := put(c.id, view); err != nil {
			return snapshot.View{}, err
		}
	}
	for pos, owner := range s.captured {
		if err := put(pos.CellID(), CellView{Pos: pos, Owner: owner}); err != nil {
			return snapshot.View{}, err
		}
	}

	return snapshot.View{Graph: g, Events: s.redactEvents(viewer, events)}, nil
}

func (s *State) interactionView(viewer string) rules.InteractionView {
	view := s.interaction.View()
	if viewer == snapshot.Omniscient || viewer == view.Player {
		return view
	}
	switch s.interaction.State() {
	case rules.InteractionChoosingCards:
		view.CardCandidates = nil
		view.CardsSelected = nil
	case rules.InteractionPlayingCard:
		view.CardID = ""
		view.Source = ""
	}
	return view
}

func (s *State) playerView(viewer string, p *Player) PlayerView {
	view := PlayerView{
		ID:           p.ID,
		General:      p.General,
		GeneralID:    p.GeneralID,
		Mana:         p.Mana.State(),
		HandCount:    len(p.Hand),
		DeckCount:    len(p.Deck),
		Discard:      slices.Clone(p.Discard),
		ResourceUsed: p.ResourceUsed,
		Replaced:     p.Replaced,
		Mulliganed:   p.Mulliganed,
	}
	if view.Discard == nil {
		view.Discard = []string{}
	}
	if viewer == p.ID || viewer == snapshot.Omniscient {
		view.Hand = slices.Clone(p.Hand)
	}
	if viewer == snapshot.Omniscient {
		view.Deck = slices.Clone(p.Deck)
	}
	return view
}

func unitView(u *Unit) UnitView {
	return UnitView{
		ID:          u.id,
		Owner:       u.Owner,
		BlueprintID: u.BlueprintID,
		Name:        u.Name,
		Pos:         u.Pos,
		Attack:      u.Attack(),
		Health:      u.Health(),
		MaxHealth:   u.MaxHealth(),
		MoveRange:   u.MoveRange(),
		AttackRange: u.AttackRange(),
		General:     u.General,
		Moved:       u.Moved,
		Attacked:    u.Attacked,
		Modifiers:   u.mods.Views(),
	}
}

// redactEvents blanks card ids the viewer is not allowed to know. Players always see
// the ids of their own cards.
func (s *State) redactEvents(viewer string, events []rules.Event) []rules.Event {
	if viewer == snapshot.Omniscient {
		return slices.Clone(events)
	}
	hidden := func(id string) bool {
		c, ok := s.cards[id]
		if !ok {
			return false
		}
		return c.Owner != viewer && !s.canSee(viewer, c)
	}
	out := make([]rules.Event, 0, len(events))
	for _, e := range events {
		if hidden(e.TargetID) {
			e.TargetID = ""
		}
		if hidden(e.SourceID) {
			e.SourceID = ""
		}
		out = append(out, e)
	}
	return out
}
