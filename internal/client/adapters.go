package client

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/duelforge/tactics-server-go/internal/game"
	"github.com/duelforge/tactics-server-go/internal/server"
	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

// LocalAdapter talks to an in-process engine.
type LocalAdapter struct {
	engine  server.Engine
	matchID string
	viewer  string
}

func NewLocalAdapter(engine server.Engine, matchID, viewer string) *LocalAdapter {
	return &LocalAdapter{engine: engine, matchID: matchID, viewer: viewer}
}

func (a *LocalAdapter) Dispatch(ctx context.Context, cmd game.Command) (game.Result, error) {
	return a.engine.Dispatch(ctx, a.matchID, cmd)
}

func (a *LocalAdapter) Subscribe(_ context.Context, fn func(*snapshot.Snapshot)) (func(), error) {
	return a.engine.Subscribe(a.matchID, a.viewer, fn)
}

func (a *LocalAdapter) Sync(_ context.Context, lastKnown int64) ([]*snapshot.Snapshot, error) {
	return a.engine.Sync(a.matchID, a.viewer, lastKnown)
}

// GRPCAdapter talks to a remote match service.
type GRPCAdapter struct {
	client  *server.MatchServiceClient
	matchID string
	viewer  string
	logger  *zap.Logger
}

func NewGRPCAdapter(client *server.MatchServiceClient, matchID, viewer string, logger *zap.Logger) *GRPCAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCAdapter{client: client, matchID: matchID, viewer: viewer, logger: logger}
}

func (a *GRPCAdapter) Dispatch(ctx context.Context, cmd game.Command) (game.Result, error) {
	res, err := a.client.Dispatch(ctx, &server.DispatchRequest{MatchID: a.matchID, Command: cmd})
	if err != nil {
		return game.Result{}, err
	}
	return *res, nil
}

// Subscribe reads the stream on its own goroutine until cancel is called or the stream
// fails.
func (a *GRPCAdapter) Subscribe(ctx context.Context, fn func(*snapshot.Snapshot)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := a.client.Subscribe(ctx, &server.ViewRequest{MatchID: a.matchID, Viewer: a.viewer})
	if err != nil {
		cancel()
		return nil, err
	}
	go func() {
		for {
			snap, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
					a.logger.Warn("snapshot stream closed",
						zap.String("match_id", a.matchID),
						zap.Error(err),
					)
				}
				return
			}
			fn(snap)
		}
	}()
	return cancel, nil
}

func (a *GRPCAdapter) Sync(ctx context.Context, lastKnown int64) ([]*snapshot.Snapshot, error) {
	resp, err := a.client.Sync(ctx, &server.SyncRequest{MatchID: a.matchID, Viewer: a.viewer, After: lastKnown})
	if err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

// staticAdapter serves a fixed snapshot log, as a replay does.
type staticAdapter []*snapshot.Snapshot

var errReadOnly = errors.New("snapshot log is read-only")

func (s staticAdapter) Dispatch(context.Context, game.Command) (game.Result, error) {
	return game.Result{}, errReadOnly
}

func (s staticAdapter) Subscribe(context.Context, func(*snapshot.Snapshot)) (func(), error) {
	return func() {}, nil
}

func (s staticAdapter) Sync(_ context.Context, lastKnown int64) ([]*snapshot.Snapshot, error) {
	var out []*snapshot.Snapshot
	for _, snap := range s {
		if snap.Seq > lastKnown {
			out = append(out, snap)
		}
	}
	return out, nil
}
