package game

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"go.uber.org/zap"

	"github.com/duelforge/tactics-server-go/internal/game/board"
	"github.com/duelforge/tactics-server-go/internal/game/effects"
	"github.com/duelforge/tactics-server-go/internal/game/mana"
	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// Zone is where a card currently lives.
type Zone string

const (
	ZoneDeck    Zone = "deck"
	ZoneHand    Zone = "hand"
	ZoneDiscard Zone = "discard"
)

// Player is the per-player state of a match.
type Player struct {
	ID           string
	General      string
	GeneralID    string
	Mana         *mana.Pool
	Deck         []string
	Hand         []string
	Discard      []string
	ResourceUsed bool
	Replaced     bool
	Mulliganed   bool
}

// Unit is a piece on the board.
type Unit struct {
	id          string
	Owner       string
	BlueprintID string
	Name        string
	Pos         board.Position
	BaseAttack  int
	BaseHealth  int
	BaseMove    int
	BaseRange   int
	Damage      int
	General     bool
	Moved       bool
	Attacked    bool
	dead        bool
	mods        *effects.Manager
}

func (u *Unit) EntityID() string            { return u.id }
func (u *Unit) Modifiers() *effects.Manager { return u.mods }
func (u *Unit) Alive() bool                 { return !u.dead }

func (u *Unit) stat(key effects.StatKey, base int) int {
	return max(0, u.mods.Compute(key, base, ""))
}

// Attack returns the derived attack.
func (u *Unit) Attack() int { return u.stat(effects.StatAttack, u.BaseAttack) }

// MaxHealth returns the derived maximum health.
func (u *Unit) MaxHealth() int { return u.stat(effects.StatMaxHealth, u.BaseHealth) }

// Health returns the remaining health.
func (u *Unit) Health() int { return u.MaxHealth() - u.Damage }

// MoveRange returns the derived movement range.
func (u *Unit) MoveRange() int { return u.stat(effects.StatMoveRange, u.BaseMove) }

// AttackRange returns the derived attack range.
func (u *Unit) AttackRange() int { return u.stat(effects.StatAttackRange, u.BaseRange) }

// Card is a card instance owned by a player.
type Card struct {
	id          string
	Owner       string
	BlueprintID string
	BaseCost    int
	Zone        Zone
	mods        *effects.Manager
}

func (c *Card) EntityID() string            { return c.id }
func (c *Card) Modifiers() *effects.Manager { return c.mods }

// ManaCost returns the cost after cost modifiers, never below zero.
func (c *Card) ManaCost() int {
	return max(0, c.mods.Compute(effects.StatManaCost, c.BaseCost, ""))
}

// State is the authoritative state of one match. It is the environment modifiers live
// in, and it is only touched by the goroutine holding the match lock (or a card task
// the lock holder is blocked on).
type State struct {
	cfg         Config
	grid        board.Grid
	bus         *rules.EventBus
	turn        *rules.TurnMachine
	interaction *rules.InteractionMachine
	catalog     *Catalog
	rng         *rand.Rand
	logger      *zap.Logger

	players   map[string]*Player
	order     []string
	units     []*Unit
	unitIndex map[string]*Unit
	cards     map[string]*Card
	cardOrder []string
	captured  map[board.Position]string

	nextUnit int
	nextCard map[string]int
	log      []rules.Event
}

// NewState sets up a match: decks are built and shuffled, generals are placed on the
// middle row at opposite edges and starting hands are drawn.
func NewState(cfg Config, catalog *Catalog, rosters []Roster, logger *zap.Logger) (*State, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(rosters) != 2 {
		return nil, fmt.Errorf("a match needs exactly two rosters, got %d", len(rosters))
	}
	grid, err := board.NewGrid(cfg.BoardWidth, cfg.BoardHeight)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rosters))
	for i, r := range rosters {
		ids[i] = r.PlayerID
	}
	turn, err := rules.NewTurnMachine(ids)
	if err != nil {
		return nil, err
	}

	s := &State{
		cfg:         cfg,
		grid:        grid,
		bus:         rules.NewEventBus(rules.WithMaxDepth(cfg.MaxEventDepth), rules.WithBusLogger(logger)),
		turn:        turn,
		interaction: rules.NewInteractionMachine(),
		catalog:     catalog,
		rng:         rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		logger:      logger,
		players:     make(map[string]*Player),
		order:       turn.Players(),
		unitIndex:   make(map[string]*Unit),
		cards:       make(map[string]*Card),
		captured:    make(map[board.Position]string),
		nextCard:    make(map[string]int),
	}
	s.bus.OnAll(func(e rules.Event) error {
		s.log = append(s.log, e)
		return nil
	})

	edges := []board.Position{board.Pos(0, cfg.BoardHeight/2), board.Pos(cfg.BoardWidth-1, cfg.BoardHeight/2)}
	for i, r := range rosters {
		p := &Player{ID: r.PlayerID, General: r.General, Mana: mana.NewPool(cfg.StartingMana, cfg.MaxMana)}
		s.players[p.ID] = p
		for _, bpID := range r.Deck {
			bp, ok := catalog.Get(bpID)
			if !ok {
				return nil, fmt.Errorf("roster %s: unknown card %q", p.ID, bpID)
			}
			card := s.newCard(p.ID, bp)
			card.Zone = ZoneDeck
			p.Deck = append(p.Deck, card.id)
		}
		s.rng.Shuffle(len(p.Deck), func(a, b int) { p.Deck[a], p.Deck[b] = p.Deck[b], p.Deck[a] })

		name := r.General
		if name == "" {
			name = "General"
		}
		general, err := s.Summon(p.ID, "general", name, edges[i], cfg.GeneralAttack, cfg.GeneralHealth)
		if err != nil {
			return nil, err
		}
		general.General = true
		p.GeneralID = general.id
	}
	for _, id := range s.order {
		for n := 0; n < cfg.StartingHand; n++ {
			if _, err := s.DrawCard(id); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// Bus returns the match event bus.
func (s *State) Bus() *rules.EventBus { return s.bus }

// Population returns the live hosts of a scope in creation order.
func (s *State) Population(scope effects.Scope) []effects.Host {
	switch scope {
	case effects.ScopeUnits:
		out := make([]effects.Host, 0, len(s.units))
		for _, u := range s.units {
			out = append(out, u)
		}
		return out
	case effects.ScopeCards:
		out := make([]effects.Host, 0, len(s.cardOrder))
		for _, id := range s.cardOrder {
			out = append(out, s.cards[id])
		}
		return out
	default:
		return nil
	}
}

// Lookup resolves a live unit or card.
func (s *State) Lookup(id string) (effects.Host, bool) {
	if u, ok := s.unitIndex[id]; ok {
		return u, true
	}
	if c, ok := s.cards[id]; ok {
		return c, true
	}
	return nil, false
}

func (s *State) Config() Config                         { return s.cfg }
func (s *State) Grid() board.Grid                       { return s.grid }
func (s *State) Turn() *rules.TurnMachine               { return s.turn }
func (s *State) Interaction() *rules.InteractionMachine { return s.interaction }
func (s *State) Catalog() *Catalog                      { return s.catalog }
func (s *State) Rand() *rand.Rand                       { return s.rng }

// PlayerIDs returns the players in turn order.
func (s *State) PlayerIDs() []string { return slices.Clone(s.order) }

// Player returns a player by id.
func (s *State) Player(id string) (*Player, bool) {
	p, ok := s.players[id]
	return p, ok
}

// Unit returns a live unit by id.
func (s *State) Unit(id string) (*Unit, bool) {
	u, ok := s.unitIndex[id]
	return u, ok
}

// Units returns the live units in creation order.
func (s *State) Units() []*Unit { return slices.Clone(s.units) }

// UnitAt returns the unit standing on pos.
func (s *State) UnitAt(pos board.Position) (*Unit, bool) {
	for _, u := range s.units {
		if u.Pos == pos {
			return u, true
		}
	}
	return nil, false
}

// Card returns a card by id.
func (s *State) Card(id string) (*Card, bool) {
	c, ok := s.cards[id]
	return c, ok
}

// CellOwner returns the player who captured pos, or "".
func (s *State) CellOwner(pos board.Position) string { return s.captured[pos] }

// CapturedBy counts the cells captured by a player.
func (s *State) CapturedBy(playerID string) int {
	n := 0
	for _, owner := range s.captured {
		if owner == playerID {
			n++
		}
	}
	return n
}

// Occupied reports whether a unit stands on pos.
func (s *State) Occupied(pos board.Position) bool {
	_, ok := s.UnitAt(pos)
	return ok
}

// drainEvents returns and clears the events emitted since the previous drain.
func (s *State) drainEvents() []rules.Event {
	out := s.log
	s.log = nil
	return out
}

func (s *State) newCard(owner string, bp Blueprint) *Card {
	s.nextCard[owner]++
	card := &Card{
		id:          fmt.Sprintf("card-%s-%d", owner, s.nextCard[owner]),
		Owner:       owner,
		BlueprintID: bp.ID(),
		BaseCost:    bp.Cost(),
	}
	card.mods = effects.NewManager(s, card)
	s.cards[card.id] = card
	s.cardOrder = append(s.cardOrder, card.id)
	return card
}

// Summon places a new unit on an empty cell.
func (s *State) Summon(owner, blueprintID, name string, pos board.Position, attack, health int) (*Unit, error) {
	if !s.grid.InBounds(pos) {
		return nil, rules.Illegal("out_of_bounds", rules.ErrTargetNotEligible, "cell %s is off the board", pos)
	}
	if s.Occupied(pos) {
		return nil, rules.Illegal("cell_occupied", rules.ErrTargetNotEligible, "cell %s is occupied", pos)
	}
	s.nextUnit++
	u := &Unit{
		id:          fmt.Sprintf("unit-%d", s.nextUnit),
		Owner:       owner,
		BlueprintID: blueprintID,
		Name:        name,
		Pos:         pos,
		BaseAttack:  attack,
		BaseHealth:  health,
		BaseMove:    2,
		BaseRange:   1,
	}
	u.mods = effects.NewManager(s, u)
	s.units = append(s.units, u)
	s.unitIndex[u.id] = u
	e := rules.NewEvent(rules.EventUnitSummoned, u.id, blueprintID, owner).
		WithMeta("x", fmt.Sprint(pos.X)).
		WithMeta("y", fmt.Sprint(pos.Y))
	if err := s.bus.Emit(e); err != nil {
		return nil, err
	}
	return u, nil
}

// MoveUnit relocates a unit and marks it as moved.
func (s *State) MoveUnit(u *Unit, to board.Position) error {
	from := u.Pos
	u.Pos = to
	u.Moved = true
	e := rules.NewEvent(rules.EventUnitMoved, u.id, "", u.Owner).
		WithMeta("from", from.String()).
		WithMeta("to", to.String())
	return s.bus.Emit(e)
}

// DealDamage applies amount through the target's damage_received pipeline. The
// target is destroyed when its health drops to zero.
func (s *State) DealDamage(sourceID string, target *Unit, amount int) (int, error) {
	if !target.Alive() {
		return 0, nil
	}
	dealt := max(0, target.mods.Compute(effects.StatDamageReceived, amount, sourceID))
	target.Damage += dealt
	e := rules.NewEventWithAmount(rules.EventDamageDealt, target.id, sourceID, target.Owner, dealt)
	if err := s.bus.Emit(e); err != nil {
		return dealt, err
	}
	return dealt, s.ReapDead()
}

// Heal removes up to amount damage from target.
func (s *State) Heal(sourceID string, target *Unit, amount int) (int, error) {
	healed := min(max(0, amount), target.Damage)
	target.Damage -= healed
	e := rules.NewEventWithAmount(rules.EventUnitHealed, target.id, sourceID, target.Owner, healed)
	return healed, s.bus.Emit(e)
}

// ReapDead destroys every unit with no health left, in creation order. Losing a general
// ends the match.
func (s *State) ReapDead() error {
	for {
		var victim *Unit
		for _, u := range s.units {
			if u.Health() <= 0 {
				victim = u
				break
			}
		}
		if victim == nil {
			return nil
		}
		if err := s.destroy(victim); err != nil {
			return err
		}
	}
}

func (s *State) destroy(u *Unit) error {
	u.dead = true
	if idx := slices.Index(s.units, u); idx >= 0 {
		s.units = slices.Delete(s.units, idx, idx+1)
	}
	delete(s.unitIndex, u.id)
	if err := u.mods.Clear(); err != nil {
		return err
	}
	if err := s.bus.Emit(rules.NewEvent(rules.EventUnitDestroyed, u.id, "", u.Owner)); err != nil {
		return err
	}
	if u.General && s.turn.Phase() != rules.PhaseGameEnd {
		return s.EndGame(s.turn.Opponent(u.Owner), "general_destroyed")
	}
	return nil
}

// EndGame moves the match to game_end.
func (s *State) EndGame(winner, reason string) error {
	if err := s.turn.EndGame(winner, reason); err != nil {
		return err
	}
	s.interaction.Abort()
	if err := s.bus.Emit(rules.NewEvent(rules.EventPhaseChanged, "", "", "").WithMeta("phase", rules.PhaseGameEnd.String())); err != nil {
		return err
	}
	return s.bus.Emit(rules.NewEvent(rules.EventGameEnded, "", "", winner).WithMeta("reason", reason))
}

// DrawCard moves the top card of a deck to the hand. A full hand burns the card. An
// empty deck draws nothing and returns "".
func (s *State) DrawCard(playerID string) (string, error) {
	p, ok := s.players[playerID]
	if !ok {
		return "", rules.Illegal("unknown_player", rules.ErrEntityNotFound, "player %s not found", playerID)
	}
	if len(p.Deck) == 0 {
		return "", nil
	}
	id := p.Deck[0]
	p.Deck = p.Deck[1:]
	card := s.cards[id]
	if len(p.Hand) >= s.cfg.MaxHand {
		card.Zone = ZoneDiscard
		p.Discard = append(p.Discard, id)
		return id, s.bus.Emit(rules.NewEvent(rules.EventCardBurned, id, "", playerID))
	}
	card.Zone = ZoneHand
	p.Hand = append(p.Hand, id)
	return id, s.bus.Emit(rules.NewEvent(rules.EventCardDrawn, id, "", playerID))
}

// DiscardCard moves a hand card to the discard pile.
func (s *State) DiscardCard(playerID, cardID, sourceID string) error {
	p, ok := s.players[playerID]
	if !ok {
		return rules.Illegal("unknown_player", rules.ErrEntityNotFound, "player %s not found", playerID)
	}
	idx := slices.Index(p.Hand, cardID)
	if idx < 0 {
		return rules.Illegal("card_not_in_hand", rules.ErrTargetNotEligible, "card %s is not in %s's hand", cardID, playerID)
	}
	p.Hand = slices.Delete(p.Hand, idx, idx+1)
	p.Discard = append(p.Discard, cardID)
	s.cards[cardID].Zone = ZoneDiscard
	return s.bus.Emit(rules.NewEvent(rules.EventCardDiscarded, cardID, sourceID, playerID))
}

// swapIntoDeck returns hand cards to random deck positions and draws a different card
// for each of them. The returned cards only go back into the deck after every
// replacement has been drawn.
func (s *State) swapIntoDeck(p *Player, cardIDs []string) error {
	slots := make([]int, len(cardIDs))
	for i, id := range cardIDs {
		slots[i] = slices.Index(p.Hand, id)
		if slots[i] < 0 {
			return rules.Illegal("card_not_in_hand", rules.ErrTargetNotEligible, "card %s is not in your hand", id)
		}
	}
	if len(p.Deck) < len(cardIDs) {
		return rules.Illegal("deck_empty", rules.ErrActionSpent, "not enough cards left to draw")
	}
	drawn := make([]string, len(cardIDs))
	for i, id := range cardIDs {
		pick := s.rng.IntN(len(p.Deck))
		drawn[i] = p.Deck[pick]
		p.Deck = slices.Delete(p.Deck, pick, pick+1)
		p.Hand[slots[i]] = drawn[i]
		s.cards[drawn[i]].Zone = ZoneHand
		s.cards[id].Zone = ZoneDeck
	}
	for _, id := range cardIDs {
		p.Deck = slices.Insert(p.Deck, s.rng.IntN(len(p.Deck)+1), id)
	}
	for i, id := range cardIDs {
		if err := s.bus.Emit(rules.NewEvent(rules.EventCardReplaced, id, "", p.ID)); err != nil {
			return err
		}
		if err := s.bus.Emit(rules.NewEvent(rules.EventCardDrawn, drawn[i], "", p.ID)); err != nil {
			return err
		}
	}
	return nil
}

// playFromHand moves a card from hand to the discard pile as it is played.
func (s *State) playFromHand(p *Player, card *Card) error {
	idx := slices.Index(p.Hand, card.id)
	if idx < 0 {
		return rules.Illegal("card_not_in_hand", rules.ErrTargetNotEligible, "card %s is not in hand", card.id)
	}
	p.Hand = slices.Delete(p.Hand, idx, idx+1)
	p.Discard = append(p.Discard, card.id)
	card.Zone = ZoneDiscard
	return s.bus.Emit(rules.NewEvent(rules.EventCardPlayed, card.id, card.BlueprintID, p.ID))
}

// Capture marks the unit's cell as captured by its owner.
func (s *State) Capture(u *Unit) error {
	s.captured[u.Pos] = u.Owner
	u.Moved = true
	u.Attacked = true
	return s.bus.Emit(rules.NewEvent(rules.EventCellCaptured, u.Pos.CellID(), u.id, u.Owner))
}

// SpendMana takes amount from the player's pool.
func (s *State) SpendMana(p *Player, amount int, reason string) error {
	if !p.Mana.Spend(amount) {
		return rules.Illegal("insufficient_mana", rules.ErrInsufficientMana, "need %d mana, have %d", amount, p.Mana.Available())
	}
	return s.emitMana(p, reason)
}

func (s *State) emitMana(p *Player, reason string) error {
	st := p.Mana.State()
	e := rules.NewEventWithAmount(rules.EventManaChanged, p.ID, "", p.ID, st.Current+st.Floating).WithMeta("reason", reason)
	return s.bus.Emit(e)
}

// beginTurn prepares the turn of playerID: mana grows and refills, captured cells grant
// floating mana, unit flags reset and a card is drawn.
func (s *State) beginTurn(playerID string) error {
	p := s.players[playerID]
	p.ResourceUsed = false
	p.Replaced = false
	for _, u := range s.units {
		if u.Owner == playerID {
			u.Moved = false
			u.Attacked = false
		}
	}
	p.Mana.Grow(1)
	p.Mana.Refill()
	p.Mana.AddFloating(s.CapturedBy(playerID))
	if err := s.emitMana(p, "turn_start"); err != nil {
		return err
	}
	e := rules.NewEventWithAmount(rules.EventTurnStarted, "", "", playerID, s.turn.TurnNumber())
	if err := s.bus.Emit(e); err != nil {
		return err
	}
	_, err := s.DrawCard(playerID)
	return err
}

// finishTurn closes the turn of playerID.
func (s *State) finishTurn(playerID string) error {
	p := s.players[playerID]
	p.Mana.EmptyFloating()
	e := rules.NewEventWithAmount(rules.EventTurnEnded, "", "", playerID, s.turn.TurnNumber())
	return s.bus.Emit(e)
}
