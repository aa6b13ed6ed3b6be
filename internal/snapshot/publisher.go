package snapshot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

// ErrUnknownViewer is returned for a viewer the publisher has no stream for.
var ErrUnknownViewer = errors.New("unknown viewer")

// View is what one viewer sees in a tick.
type View struct {
	Graph  Graph
	Events []rules.Event
}

// Publisher owns the streams of every viewer of a match.
type Publisher struct {
	retention int

	mu      sync.RWMutex
	streams map[string]*Stream
	order   []string
}

// NewPublisher creates a publisher with the given retention per stream.
func NewPublisher(retention int, viewers ...string) *Publisher {
	p := &Publisher{
		retention: retention,
		streams:   make(map[string]*Stream),
	}
	for _, v := range viewers {
		p.AddViewer(v)
	}
	return p
}

// AddViewer creates the stream of viewer if it does not exist.
func (p *Publisher) AddViewer(viewer string) *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.streams[viewer]; ok {
		return s
	}
	s := NewStream(viewer, p.retention)
	p.streams[viewer] = s
	p.order = append(p.order, viewer)
	return s
}

// Stream returns the stream of viewer.
func (p *Publisher) Stream(viewer string) (*Stream, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.streams[viewer]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownViewer, viewer)
	}
	return s, nil
}

// Viewers returns the viewer ids in registration order.
func (p *Publisher) Viewers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// Publish appends one snapshot per viewer. build is called once per viewer. Snapshots
// are delivered to subscribers after every stream has been updated.
func (p *Publisher) Publish(build func(viewer string) (View, error)) (map[string]*Snapshot, error) {
	viewers := p.Viewers()
	views := make(map[string]View, len(viewers))
	for _, v := range viewers {
		view, err := build(v)
		if err != nil {
			return nil, fmt.Errorf("build view for %s: %w", v, err)
		}
		views[v] = view
	}

	out := make(map[string]*Snapshot, len(viewers))
	streams := make([]*Stream, 0, len(viewers))
	for _, v := range viewers {
		s, err := p.Stream(v)
		if err != nil {
			return nil, err
		}
		out[v] = s.Publish(views[v].Graph, views[v].Events)
		streams = append(streams, s)
	}
	for _, s := range streams {
		s.Deliver(out[s.Viewer()])
	}
	return out, nil
}
