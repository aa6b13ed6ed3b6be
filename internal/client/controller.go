// Package client keeps a local copy of a match from its snapshot stream.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/duelforge/tactics-server-go/internal/game"
	"github.com/duelforge/tactics-server-go/internal/game/rules"
	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

// ErrGap is returned when a resync still leaves a hole in the sequence.
var ErrGap = errors.New("snapshot sequence gap")

// Adapter connects a controller to a match, locally or over the network.
type Adapter interface {
	Dispatch(ctx context.Context, cmd game.Command) (game.Result, error)
	// Subscribe delivers future snapshots to fn until cancel is called. fn must not block.
	Subscribe(ctx context.Context, fn func(*snapshot.Snapshot)) (cancel func(), err error)
	// Sync returns the snapshots after lastKnown, or one state snapshot.
	Sync(ctx context.Context, lastKnown int64) ([]*snapshot.Snapshot, error)
}

// FXHook sees the events of every applied diff before the diff lands, so graph still
// holds the entities the events talk about.
type FXHook interface {
	OnEvents(seq int64, events []rules.Event, graph snapshot.Graph)
}

// FXHookFunc adapts a function to FXHook.
type FXHookFunc func(seq int64, events []rules.Event, graph snapshot.Graph)

func (f FXHookFunc) OnEvents(seq int64, events []rules.Event, graph snapshot.Graph) {
	f(seq, events, graph)
}

// Controller rebuilds a viewer's entity graph from snapshots. Snapshots at or below the
// last applied id are dropped; a diff past last+1 triggers a resync instead of being
// applied.
type Controller struct {
	adapter Adapter
	fx      FXHook
	logger  *zap.Logger

	mu      sync.Mutex
	graph   snapshot.Graph
	last    int64
	resyncs int
	dropped int
}

// NewController creates a controller that has applied nothing yet. fx may be nil.
func NewController(adapter Adapter, fx FXHook, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		adapter: adapter,
		fx:      fx,
		logger:  logger,
		graph:   snapshot.Graph{},
		last:    -1,
	}
}

// LastSeq returns the id of the last applied snapshot, -1 before the first.
func (c *Controller) LastSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Graph returns a copy of the local entity graph.
func (c *Controller) Graph() snapshot.Graph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.Clone()
}

// Resyncs returns how many times the controller had to resync.
func (c *Controller) Resyncs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resyncs
}

// Dropped returns how many stale snapshots were ignored.
func (c *Controller) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Dispatch sends a command. The local graph only changes when the resulting snapshot
// arrives.
func (c *Controller) Dispatch(ctx context.Context, cmd game.Command) (game.Result, error) {
	return c.adapter.Dispatch(ctx, cmd)
}

// Apply takes one snapshot from the stream.
func (c *Controller) Apply(ctx context.Context, snap *snapshot.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.Kind == snapshot.KindDiff && snap.Seq > c.last+1 {
		c.logger.Debug("snapshot gap, resyncing",
			zap.Int64("last", c.last),
			zap.Int64("received", snap.Seq),
		)
		return c.resync(ctx)
	}
	c.apply(snap)
	return nil
}

// Resync fetches everything after the last applied id.
func (c *Controller) Resync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resync(ctx)
}

func (c *Controller) resync(ctx context.Context) error {
	c.resyncs++
	snaps, err := c.adapter.Sync(ctx, c.last)
	if err != nil {
		return fmt.Errorf("resync after %d: %w", c.last, err)
	}
	for _, snap := range snaps {
		if snap.Kind == snapshot.KindDiff && snap.Seq > c.last+1 {
			return fmt.Errorf("%w: have %d, got %d", ErrGap, c.last, snap.Seq)
		}
		c.apply(snap)
	}
	return nil
}

// apply assumes snap is not ahead of the sequence. A state snapshot replaces the graph
// only when it is newer than what was applied, or when nothing was applied yet.
func (c *Controller) apply(snap *snapshot.Snapshot) {
	switch {
	case snap.Kind == snapshot.KindState && (snap.Seq > c.last || c.last == -1):
		c.graph = snap.Entities.Clone()
		c.last = snap.Seq
	case snap.Seq <= c.last:
		c.dropped++
	default:
		if c.fx != nil && len(snap.Events) > 0 {
			c.fx.OnEvents(snap.Seq, snap.Events, c.graph.Clone())
		}
		c.graph = c.graph.Apply(snap)
		c.last = snap.Seq
	}
}

// Run subscribes and applies snapshots until ctx is done. It starts with a resync so
// the graph is current before the first pushed snapshot. Errors other than ctx ending
// are logged and followed by another resync.
func (c *Controller) Run(ctx context.Context) error {
	queue := make(chan *snapshot.Snapshot, snapshot.DefaultRetention)
	cancel, err := c.adapter.Subscribe(ctx, func(snap *snapshot.Snapshot) {
		select {
		case queue <- snap:
		default:
			// Dropped here means a gap later, which resyncs.
		}
	})
	if err != nil {
		return err
	}
	defer cancel()

	if err := c.Resync(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-queue:
			if err := c.Apply(ctx, snap); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Warn("failed to apply snapshot", zap.Int64("seq", snap.Seq), zap.Error(err))
			}
		}
	}
}

// Rebuild folds snaps through a controller and returns the graph and the last id. A
// hole in snaps is an error.
func Rebuild(snaps []*snapshot.Snapshot) (snapshot.Graph, int64, error) {
	c := NewController(staticAdapter(snaps), nil, nil)
	for _, snap := range snaps {
		if err := c.Apply(context.Background(), snap); err != nil {
			return nil, c.last, err
		}
	}
	return c.graph, c.last, nil
}
