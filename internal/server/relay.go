package server

import (
	"sync/atomic"

	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

// relay moves snapshots from a publisher callback, which must not block, to a sending
// goroutine.
type relay struct {
	out     chan *snapshot.Snapshot
	dropped atomic.Int64
}

func newRelay(size int) *relay {
	if size < 1 {
		size = 1
	}
	return &relay{out: make(chan *snapshot.Snapshot, size)}
}

func (r *relay) push(snap *snapshot.Snapshot) {
	select {
	case r.out <- snap:
	default:
		r.dropped.Add(1)
	}
}

func (r *relay) takeDropped() int {
	return int(r.dropped.Swap(0))
}
