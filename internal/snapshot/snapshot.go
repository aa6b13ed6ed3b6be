// Package snapshot implements sequenced full and incremental state snapshots of an
// entity graph, one stream per viewer.
package snapshot

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"

	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// Kind distinguishes full snapshots from diffs.
type Kind string

const (
	KindState Kind = "state"
	KindDiff  Kind = "diff"
)

// Viewer ids with special meaning.
const (
	Omniscient = "*"
	Spectator  = "spectator"
)

// Graph is an entity dictionary: id -> serialized entity.
type Graph map[string]json.RawMessage

// Clone returns a copy of g. Entity bytes are shared; they are never mutated.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	maps.Copy(out, g)
	return out
}

// IDs returns the sorted entity ids.
func (g Graph) IDs() []string {
	return slices.Sorted(maps.Keys(g))
}

// Equal reports whether both graphs hold identical bytes for identical ids.
func (g Graph) Equal(other Graph) bool {
	if len(g) != len(other) {
		return false
	}
	for id, raw := range g {
		o, ok := other[id]
		if !ok || !bytes.Equal(raw, o) {
			return false
		}
	}
	return true
}

// Canonical returns the graph serialized with sorted keys.
func (g Graph) Canonical() ([]byte, error) {
	return json.Marshal(map[string]json.RawMessage(g))
}

// Snapshot is one immutable emission of a stream.
type Snapshot struct {
	Seq      int64         `json:"seq"`
	Kind     Kind          `json:"kind"`
	Entities Graph         `json:"entities"`
	Added    []string      `json:"added,omitempty"`
	Removed  []string      `json:"removed,omitempty"`
	Events   []rules.Event `json:"events,omitempty"`
}

// Apply updates g in place with s. A state snapshot replaces the graph.
func (g Graph) Apply(s *Snapshot) Graph {
	if s.Kind == KindState {
		return s.Entities.Clone()
	}
	if g == nil {
		g = make(Graph, len(s.Entities))
	}
	for _, id := range s.Removed {
		delete(g, id)
	}
	for id, raw := range s.Entities {
		g[id] = raw
	}
	return g
}

// Diff returns the entities of next that are new or changed relative to prev, and the
// sorted ids added to and removed from prev.
func Diff(prev, next Graph) (changed Graph, added, removed []string) {
	changed = make(Graph)
	for id, raw := range next {
		old, ok := prev[id]
		if !ok {
			added = append(added, id)
			changed[id] = raw
			continue
		}
		if !bytes.Equal(old, raw) {
			changed[id] = raw
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return changed, added, removed
}
