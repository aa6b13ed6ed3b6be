package matchmaking

import (
	"slices"
)

// Pair is two tickets that should play each other.
type Pair struct {
	First  *Ticket
	Second *Ticket
}

// Strategy decides which waiting tickets are paired. tickets arrive in enqueue order;
// every ticket must come back either in a pair or in remaining.
type Strategy interface {
	Pair(tickets []*Ticket, standings func(playerID string) Standing) (pairs []Pair, remaining []*Ticket)
}

// FIFOStrategy pairs tickets in the order they were enqueued.
type FIFOStrategy struct{}

func (FIFOStrategy) Pair(tickets []*Ticket, _ func(string) Standing) ([]Pair, []*Ticket) {
	var pairs []Pair
	i := 0
	for ; i+1 < len(tickets); i += 2 {
		pairs = append(pairs, Pair{First: tickets[i], Second: tickets[i+1]})
	}
	return pairs, slices.Clone(tickets[i:])
}

// RatingStrategy pairs players with similar points, Swiss style. Tickets are ordered by
// points (ties keep enqueue order) and neighbours are paired when their gap is at most
// MaxGap. A ticket that has waited Patience rounds pairs with its neighbour regardless
// of the gap.
type RatingStrategy struct {
	MaxGap   int
	Patience int
}

func (s RatingStrategy) Pair(tickets []*Ticket, standings func(string) Standing) ([]Pair, []*Ticket) {
	points := func(t *Ticket) int { return standings(t.PlayerID).Points }

	ordered := slices.Clone(tickets)
	slices.SortStableFunc(ordered, func(a, b *Ticket) int {
		return points(b) - points(a)
	})

	var (
		pairs     []Pair
		remaining []*Ticket
	)
	for i := 0; i < len(ordered); {
		if i+1 == len(ordered) {
			remaining = append(remaining, ordered[i])
			break
		}
		a, b := ordered[i], ordered[i+1]
		gap := points(a) - points(b)
		patient := s.Patience > 0 && (a.Waited >= s.Patience || b.Waited >= s.Patience)
		if gap <= s.MaxGap || patient {
			pairs = append(pairs, Pair{First: a, Second: b})
			i += 2
			continue
		}
		remaining = append(remaining, a)
		i++
	}

	// Keep enqueue order for the next round.
	slices.SortStableFunc(remaining, func(a, b *Ticket) int {
		return a.Enqueued.Compare(b.Enqueued)
	})
	return pairs, remaining
}
