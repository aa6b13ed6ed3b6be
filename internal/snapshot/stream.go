package snapshot

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// DefaultRetention is the number of snapshots kept for resync.
const DefaultRetention = 128

// Subscriber receives snapshots in sequence order. It runs on the publishing goroutine
// and must not block.
type Subscriber func(*Snapshot)

// Stream is the snapshot sequence of one viewer. The first emission has sequence id 0
// and is a diff from the empty graph.
type Stream struct {
	viewer    string
	retention int

	mu          sync.RWMutex
	current     Graph
	lastSeq     int64
	log         []*Snapshot
	subscribers map[string]Subscriber
	subOrder    []string
}

// NewStream creates an empty stream.
func NewStream(viewer string, retention int) *Stream {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Stream{
		viewer:      viewer,
		retention:   retention,
		current:     Graph{},
		lastSeq:     -1,
		subscribers: make(map[string]Subscriber),
	}
}

// Viewer returns the viewer id.
func (s *Stream) Viewer() string {
	return s.viewer
}

// LastSeq returns the sequence id of the newest snapshot, -1 before the first.
func (s *Stream) LastSeq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// Publish diffs graph against the previous emission and appends the result. The
// snapshot is not delivered to subscribers; see Deliver.
func (s *Stream) Publish(graph Graph, events []rules.Event) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed, added, removed := Diff(s.current, graph)
	s.lastSeq++
	snap := &Snapshot{
		Seq:      s.lastSeq,
		Kind:     KindDiff,
		Entities: changed,
		Added:    added,
		Removed:  removed,
		Events:   slices.Clone(events),
	}
	s.current = graph.Clone()
	s.log = append(s.log, snap)
	if over := len(s.log) - s.retention; over > 0 {
		s.log = slices.Delete(s.log, 0, over)
	}
	return snap
}

// Deliver hands snap to every subscriber in subscription order.
func (s *Stream) Deliver(snap *Snapshot) {
	s.mu.RLock()
	subs := make([]Subscriber, 0, len(s.subOrder))
	for _, id := range s.subOrder {
		subs = append(subs, s.subscribers[id])
	}
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// State returns a full snapshot of the current graph tagged with the last sequence id.
func (s *Stream) State() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Stream) stateLocked() *Snapshot {
	return &Snapshot{
		Seq:      s.lastSeq,
		Kind:     KindState,
		Entities: s.current.Clone(),
	}
}

// Since returns every retained snapshot with a sequence id above after. When the
// retention window no longer reaches back to after+1, a single state snapshot at the
// last sequence id is returned instead.
func (s *Stream) Since(after int64) []*Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if after >= s.lastSeq {
		return nil
	}
	if len(s.log) == 0 || s.log[0].Seq > after+1 {
		return []*Snapshot{s.stateLocked()}
	}
	out := make([]*Snapshot, 0, len(s.log))
	for _, snap := range s.log {
		if snap.Seq > after {
			out = append(out, snap)
		}
	}
	return out
}

// Subscribe registers fn and returns a function that removes it.
func (s *Stream) Subscribe(fn Subscriber) (id string, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = uuid.NewString()
	s.subscribers[id] = fn
	s.subOrder = append(s.subOrder, id)
	return id, func() { s.Unsubscribe(id) }
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (s *Stream) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[id]; !ok {
		return
	}
	delete(s.subscribers, id)
	if idx := slices.Index(s.subOrder, id); idx >= 0 {
		s.subOrder = slices.Delete(s.subOrder, idx, idx+1)
	}
}

// SubscriberCount returns the number of subscribers.
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
