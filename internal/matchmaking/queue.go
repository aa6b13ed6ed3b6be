// Package matchmaking pairs waiting players and starts matches for them.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duelforge/tactics-server-go/internal/game"
)

var (
	ErrAlreadyQueued = errors.New("player already queued")
	ErrNotQueued     = errors.New("player not queued")
	ErrInvalidRoster = errors.New("invalid roster")
)

// Ticket is one player waiting for a match.
type Ticket struct {
	ID       string
	PlayerID string
	Roster   game.Roster
	Enqueued time.Time
	// Waited counts the pairing rounds the ticket stayed in the queue.
	Waited int
}

// Standing is a player's record, scored 3 points per win and 1 per draw.
type Standing struct {
	Points int
	Wins   int
	Losses int
	Draws  int
}

// Pairing is a started match.
type Pairing struct {
	MatchID string
	Player1 string
	Player2 string
	Winner  string
	Done    bool
}

// StartFunc starts a match for two tickets and returns its id.
type StartFunc func(ctx context.Context, first, second *Ticket) (string, error)

// Queue holds tickets and pairs them with a Strategy.
type Queue struct {
	mu        sync.RWMutex
	tickets   []*Ticket
	standings map[string]*Standing
	pairings  map[string]*Pairing
	strategy  Strategy
	start     StartFunc
	logger    *zap.Logger
}

// NewQueue creates a queue. A nil strategy pairs first come, first served.
func NewQueue(strategy Strategy, start StartFunc, logger *zap.Logger) *Queue {
	if strategy == nil {
		strategy = FIFOStrategy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		standings: make(map[string]*Standing),
		pairings:  make(map[string]*Pairing),
		strategy:  strategy,
		start:     start,
		logger:    logger,
	}
}

// Enqueue adds a ticket for roster's player.
func (q *Queue) Enqueue(roster game.Roster) (*Ticket, error) {
	if roster.PlayerID == "" || len(roster.Deck) == 0 {
		return nil, fmt.Errorf("%w: player id and deck are required", ErrInvalidRoster)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if slices.ContainsFunc(q.tickets, func(t *Ticket) bool { return t.PlayerID == roster.PlayerID }) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyQueued, roster.PlayerID)
	}
	t := &Ticket{
		ID:       uuid.NewString(),
		PlayerID: roster.PlayerID,
		Roster:   roster,
		Enqueued: time.Now(),
	}
	q.tickets = append(q.tickets, t)

	q.logger.Info("player queued",
		zap.String("player_id", roster.PlayerID),
		zap.String("ticket_id", t.ID),
		zap.Int("waiting", len(q.tickets)),
	)
	return t, nil
}

// Cancel removes playerID's ticket.
func (q *Queue) Cancel(playerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := slices.IndexFunc(q.tickets, func(t *Ticket) bool { return t.PlayerID == playerID })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotQueued, playerID)
	}
	q.tickets = slices.Delete(q.tickets, idx, idx+1)
	q.logger.Info("player left queue", zap.String("player_id", playerID))
	return nil
}

// Len returns the number of waiting tickets.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tickets)
}

// Waiting returns the queued player ids in enqueue order.
func (q *Queue) Waiting() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	ids := make([]string, 0, len(q.tickets))
	for _, t := range q.tickets {
		ids = append(ids, t.PlayerID)
	}
	return ids
}

// standing returns a copy of playerID's standing. Callers hold q.mu.
func (q *Queue) standing(playerID string) Standing {
	if s, ok := q.standings[playerID]; ok {
		return *s
	}
	return Standing{}
}

// Standing returns playerID's record.
func (q *Queue) Standing(playerID string) Standing {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.standing(playerID)
}

// Tick runs one pairing round and starts a match for every pair. Pairs whose match
// fails to start go back to the front of the queue. It returns the started pairings.
func (q *Queue) Tick(ctx context.Context) []Pairing {
	q.mu.Lock()
	pairs, remaining := q.strategy.Pair(slices.Clone(q.tickets), q.standing)
	for _, t := range remaining {
		t.Waited++
	}
	q.tickets = remaining
	q.mu.Unlock()

	var (
		started []Pairing
		failed  []*Ticket
	)
	for _, p := range pairs {
		matchID, err := q.start(ctx, p.First, p.Second)
		if err != nil {
			q.logger.Error("failed to start match",
				zap.String("player1", p.First.PlayerID),
				zap.String("player2", p.Second.PlayerID),
				zap.Error(err),
			)
			failed = append(failed, p.First, p.Second)
			continue
		}
		pairing := &Pairing{MatchID: matchID, Player1: p.First.PlayerID, Player2: p.Second.PlayerID}
		q.mu.Lock()
		q.pairings[matchID] = pairing
		q.mu.Unlock()
		started = append(started, *pairing)

		q.logger.Info("players paired",
			zap.String("match_id", matchID),
			zap.String("player1", pairing.Player1),
			zap.String("player2", pairing.Player2),
		)
	}

	if len(failed) > 0 {
		q.mu.Lock()
		q.tickets = append(failed, q.tickets...)
		q.mu.Unlock()
	}
	return started
}

// Run calls Tick every interval until ctx is done.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Tick(ctx)
		}
	}
}

// Pairing returns the pairing of a started match.
func (q *Queue) Pairing(matchID string) (Pairing, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	p, ok := q.pairings[matchID]
	if !ok {
		return Pairing{}, false
	}
	return *p, true
}

// RecordResult scores a finished match. An empty winner is a draw.
func (q *Queue) RecordResult(matchID, winner string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.pairings[matchID]
	if !ok {
		return fmt.Errorf("pairing for match %s not found", matchID)
	}
	if p.Done {
		return fmt.Errorf("match %s already recorded", matchID)
	}
	if winner != "" && winner != p.Player1 && winner != p.Player2 {
		return fmt.Errorf("winner %s did not play match %s", winner, matchID)
	}
	p.Winner = winner
	p.Done = true

	s1, s2 := q.entry(p.Player1), q.entry(p.Player2)
	switch winner {
	case p.Player1:
		s1.Wins++
		s1.Points += 3
		s2.Losses++
	case p.Player2:
		s2.Wins++
		s2.Points += 3
		s1.Losses++
	default:
		s1.Draws++
		s1.Points++
		s2.Draws++
		s2.Points++
	}

	q.logger.Info("match result recorded",
		zap.String("match_id", matchID),
		zap.String("winner", winner),
	)
	return nil
}

func (q *Queue) entry(playerID string) *Standing {
	s, ok := q.standings[playerID]
	if !ok {
		s = &Standing{}
		q.standings[playerID] = s
	}
	return s
}
