package game

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/duelforge/tactics-server-go/internal/game/board"
	"github.com/duelforge/tactics-server-go/internal/game/effects"
)

// CardKind separates unit cards from spells.
type CardKind string

const (
	KindUnit  CardKind = "unit"
	KindSpell CardKind = "spell"
)

// Blueprint is the rules definition behind a card.
//
// TargetCount is the number of cells the player picks when the card is played; zero
// means the card is played without targeting. GetTargets returns the candidate cells
// for that selection and GetAoe maps a (partial) selection to the affected cells.
// OnPlay runs after mana is paid. It may suspend on p.Prompt to ask for more input.
type Blueprint interface {
	ID() string
	Name() string
	Kind() CardKind
	Cost() int
	TargetCount() int
	CanPlay(s *State, playerID string) bool
	GetTargets(ctx context.Context, s *State, playerID string) ([]board.Position, error)
	GetAoe(s *State, targets []board.Position) []board.Position
	OnPlay(ctx context.Context, p *Play) error
}

// Play is the resolution context handed to Blueprint.OnPlay.
type Play struct {
	State     *State
	PlayerID  string
	Card      *Card
	Blueprint Blueprint
	Targets   []board.Position
	Aoe       []board.Position
	Prompt    Prompt
}

// Opponent returns the other player.
func (p *Play) Opponent() string {
	return p.State.Turn().Opponent(p.PlayerID)
}

// UnitsInAoe returns the live units standing in the area of effect.
func (p *Play) UnitsInAoe() []*Unit {
	var out []*Unit
	for _, u := range p.State.Units() {
		if board.Contains(p.Aoe, u.Pos) {
			out = append(out, u)
		}
	}
	return out
}

// SpaceRequest asks a player to pick cells on the board.
type SpaceRequest struct {
	// Player defaults to the player resolving the card.
	Player     string
	Candidates []board.Position
	Min        int
	Max        int
	Eligible   func(selected []board.Position, candidate board.Position) bool
	Aoe        func(selected []board.Position) []board.Position
}

// CardRequest asks a player to choose cards.
type CardRequest struct {
	Player     string
	Candidates []string
	Min        int
	Max        int
	Eligible   func(selected []string, candidate string) bool
}

// Prompt suspends card resolution until the player answers. A cancelled request
// returns an empty result and a nil error. When the interaction is aborted (the turn
// is forced to end or the match shuts down) the error wraps rules.ErrInteractionAborted
// and the effect should return it.
type Prompt interface {
	SelectSpaces(ctx context.Context, req SpaceRequest) ([]board.Position, error)
	ChooseCards(ctx context.Context, req CardRequest) ([]string, error)
}

// Catalog is the registry of blueprints known to an engine.
type Catalog struct {
	mu         sync.RWMutex
	blueprints map[string]Blueprint
}

// NewCatalog creates a catalog holding bps.
func NewCatalog(bps ...Blueprint) (*Catalog, error) {
	c := &Catalog{blueprints: make(map[string]Blueprint)}
	for _, bp := range bps {
		if err := c.Register(bp); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a blueprint. Ids must be unique.
func (c *Catalog) Register(bp Blueprint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bp == nil || bp.ID() == "" {
		return fmt.Errorf("blueprint without id")
	}
	if _, exists := c.blueprints[bp.ID()]; exists {
		return fmt.Errorf("blueprint %q already registered", bp.ID())
	}
	c.blueprints[bp.ID()] = bp
	return nil
}

// Get returns the blueprint registered under id.
func (c *Catalog) Get(id string) (Blueprint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bp, ok := c.blueprints[id]
	return bp, ok
}

// IDs returns the registered ids in sorted order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.blueprints))
	for id := range c.blueprints {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// UnitBlueprint summons a unit on an empty cell next to one of the player's units.
type UnitBlueprint struct {
	BlueprintID string
	DisplayName string
	ManaCost    int
	Attack      int
	Health      int
	// Modifiers are attached to the unit once it is on the board.
	Modifiers []*effects.ModifierBuilder
}

func (b *UnitBlueprint) ID() string       { return b.BlueprintID }
func (b *UnitBlueprint) Name() string     { return b.DisplayName }
func (b *UnitBlueprint) Kind() CardKind   { return KindUnit }
func (b *UnitBlueprint) Cost() int        { return b.ManaCost }
func (b *UnitBlueprint) TargetCount() int { return 1 }

func (b *UnitBlueprint) CanPlay(*State, string) bool { return true }

// GetTargets returns the empty cells adjacent to a friendly unit.
func (b *UnitBlueprint) GetTargets(_ context.Context, s *State, playerID string) ([]board.Position, error) {
	return SummonCells(s, playerID), nil
}

func (b *UnitBlueprint) GetAoe(_ *State, targets []board.Position) []board.Position {
	return slices.Clone(targets)
}

func (b *UnitBlueprint) OnPlay(_ context.Context, p *Play) error {
	if len(p.Targets) != 1 {
		return fmt.Errorf("unit %s needs exactly one target, got %d", b.BlueprintID, len(p.Targets))
	}
	u, err := p.State.Summon(p.PlayerID, b.BlueprintID, b.DisplayName, p.Targets[0], b.Attack, b.Health)
	if err != nil {
		return err
	}
	for _, mb := range b.Modifiers {
		if _, err := u.Modifiers().Add(mb.BuildFrom(p.Card.EntityID())); err != nil {
			return err
		}
	}
	return nil
}

// SummonCells returns the sorted empty cells adjacent to any unit of playerID.
func SummonCells(s *State, playerID string) []board.Position {
	var out []board.Position
	for _, u := range s.Units() {
		if u.Owner != playerID {
			continue
		}
		for _, c := range s.Grid().Adjacent(u.Pos) {
			if !s.Occupied(c) && !board.Contains(out, c) {
				out = append(out, c)
			}
		}
	}
	board.Sort(out)
	return out
}

// SpellBlueprint is a blueprint assembled from functions.
type SpellBlueprint struct {
	BlueprintID string
	DisplayName string
	ManaCost    int
	Targets     int
	TargetFn    func(s *State, playerID string) []board.Position
	AoeFn       func(s *State, targets []board.Position) []board.Position
	CanPlayFn   func(s *State, playerID string) bool
	Effect      func(ctx context.Context, p *Play) error
}

func (b *SpellBlueprint) ID() string       { return b.BlueprintID }
func (b *SpellBlueprint) Name() string     { return b.DisplayName }
func (b *SpellBlueprint) Kind() CardKind   { return KindSpell }
func (b *SpellBlueprint) Cost() int        { return b.ManaCost }
func (b *SpellBlueprint) TargetCount() int { return b.Targets }

func (b *SpellBlueprint) CanPlay(s *State, playerID string) bool {
	return b.CanPlayFn == nil || b.CanPlayFn(s, playerID)
}

func (b *SpellBlueprint) GetTargets(_ context.Context, s *State, playerID string) ([]board.Position, error) {
	if b.Targets == 0 {
		return nil, nil
	}
	if b.TargetFn == nil {
		return s.Grid().Cells(), nil
	}
	return b.TargetFn(s, playerID), nil
}

func (b *SpellBlueprint) GetAoe(s *State, targets []board.Position) []board.Position {
	if b.AoeFn == nil {
		return slices.Clone(targets)
	}
	return b.AoeFn(s, targets)
}

func (b *SpellBlueprint) OnPlay(ctx context.Context, p *Play) error {
	if b.Effect == nil {
		return nil
	}
	return b.Effect(ctx, p)
}
