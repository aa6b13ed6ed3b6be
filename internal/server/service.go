package server

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/duelforge/tactics-server-go/internal/game"
	"github.com/duelforge/tactics-server-go/internal/matchmaking"
	"github.com/duelforge/tactics-server-go/internal/repository"
	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

// Engine is the part of game.Engine the transports use.
type Engine interface {
	StartMatch(cfg game.Config, rosters []game.Roster) (string, error)
	Dispatch(ctx context.Context, matchID string, cmd game.Command) (game.Result, error)
	Subscribe(matchID, viewer string, fn snapshot.Subscriber) (func(), error)
	Sync(matchID, viewer string, after int64) ([]*snapshot.Snapshot, error)
	Current(matchID, viewer string) (*snapshot.Snapshot, error)
	EndMatch(matchID string) error
	MatchIDs() []string
}

var _ Engine = (*game.Engine)(nil)

// DefaultSubscriberBuffer is how many snapshots a slow subscriber may lag behind before
// snapshots are dropped for it.
const DefaultSubscriberBuffer = 64

// MatchServer implements MatchServiceServer on top of an Engine.
type MatchServer struct {
	engine   Engine
	queue    *matchmaking.Queue
	store    repository.MatchStore
	defaults game.Config
	buffer   int
	logger   *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// MatchServerOption configures a MatchServer.
type MatchServerOption func(*MatchServer)

// WithHistory serves archived matches from store.
func WithHistory(store repository.MatchStore) MatchServerOption {
	return func(s *MatchServer) { s.store = store }
}

// NewMatchServer creates the service. queue may be nil, in which case the queue RPCs
// return Unimplemented.
func NewMatchServer(engine Engine, queue *matchmaking.Queue, defaults game.Config, logger *zap.Logger, opts ...MatchServerOption) *MatchServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MatchServer{
		engine:   engine,
		queue:    queue,
		defaults: defaults,
		buffer:   DefaultSubscriberBuffer,
		logger:   logger,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shutdown ends every open Subscribe stream so GracefulStop can return.
func (s *MatchServer) Shutdown() {
	s.stopOnce.Do(func() { close(s.done) })
}

var _ MatchServiceServer = (*MatchServer)(nil)

// statusFromError maps engine and queue errors onto gRPC codes.
func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, game.ErrMatchNotFound), errors.Is(err, matchmaking.ErrNotQueued), errors.Is(err, repository.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, game.ErrMatchQuarantined), errors.Is(err, game.ErrMatchClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, snapshot.ErrUnknownViewer):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, matchmaking.ErrAlreadyQueued):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, matchmaking.ErrInvalidRoster):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func requireMatchID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "match_id is required")
	}
	return id, nil
}

func (s *MatchServer) StartMatch(ctx context.Context, req *StartMatchRequest) (*StartMatchResponse, error) {
	if len(req.Rosters) != 2 {
		return nil, status.Errorf(codes.InvalidArgument, "exactly 2 rosters are required, got %d", len(req.Rosters))
	}
	cfg := s.defaults
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	id, err := s.engine.StartMatch(cfg, req.Rosters)
	if err != nil {
		// Engine only fails to start on bad rosters or card references.
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &StartMatchResponse{MatchID: id}, nil
}

// Dispatch applies a command. Rule rejections are not RPC errors: they come back as an
// unaccepted Result.
func (s *MatchServer) Dispatch(ctx context.Context, req *DispatchRequest) (*game.Result, error) {
	id, err := requireMatchID(req.MatchID)
	if err != nil {
		return nil, err
	}
	if req.Command.Type == "" {
		return nil, status.Error(codes.InvalidArgument, "command type is required")
	}
	if req.Command.PlayerID == game.SystemPlayer {
		return nil, status.Error(codes.PermissionDenied, "system commands cannot be sent by clients")
	}

	res, err := s.engine.Dispatch(ctx, id, req.Command)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &res, nil
}

func (s *MatchServer) Sync(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	id, err := requireMatchID(req.MatchID)
	if err != nil {
		return nil, err
	}
	snaps, err := s.engine.Sync(id, req.Viewer, req.After)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &SyncResponse{Snapshots: snaps}, nil
}

func (s *MatchServer) Current(ctx context.Context, req *ViewRequest) (*snapshot.Snapshot, error) {
	id, err := requireMatchID(req.MatchID)
	if err != nil {
		return nil, err
	}
	snap, err := s.engine.Current(id, req.Viewer)
	if err != nil {
		return nil, statusFromError(err)
	}
	return snap, nil
}

func (s *MatchServer) EndMatch(ctx context.Context, req *EndMatchRequest) (*Empty, error) {
	id, err := requireMatchID(req.MatchID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.EndMatch(id); err != nil {
		return nil, statusFromError(err)
	}
	return &Empty{}, nil
}

func (s *MatchServer) ListMatches(ctx context.Context, _ *Empty) (*ListMatchesResponse, error) {
	return &ListMatchesResponse{MatchIDs: s.engine.MatchIDs()}, nil
}

func (s *MatchServer) Enqueue(ctx context.Context, req *EnqueueRequest) (*EnqueueResponse, error) {
	if s.queue == nil {
		return nil, status.Error(codes.Unimplemented, "matchmaking is disabled")
	}
	t, err := s.queue.Enqueue(req.Roster)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &EnqueueResponse{TicketID: t.ID, Waiting: s.queue.Len()}, nil
}

func (s *MatchServer) CancelQueue(ctx context.Context, req *CancelQueueRequest) (*Empty, error) {
	if s.queue == nil {
		return nil, status.Error(codes.Unimplemented, "matchmaking is disabled")
	}
	if err := s.queue.Cancel(req.PlayerID); err != nil {
		return nil, statusFromError(err)
	}
	return &Empty{}, nil
}

// History lists the archived matches of a player, most recent first.
func (s *MatchServer) History(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unimplemented, "match archive is disabled")
	}
	if strings.TrimSpace(req.PlayerID) == "" {
		return nil, status.Error(codes.InvalidArgument, "player_id is required")
	}
	recs, err := s.store.ListByPlayer(ctx, req.PlayerID, req.Limit)
	if err != nil {
		return nil, statusFromError(err)
	}
	resp := &HistoryResponse{Matches: make([]MatchSummary, 0, len(recs))}
	for _, rec := range recs {
		resp.Matches = append(resp.Matches, MatchSummary{
			MatchID:   rec.ID,
			Players:   rec.Players,
			Winner:    rec.Winner,
			Reason:    rec.Reason,
			Turns:     rec.Turns,
			Checksum:  rec.Checksum,
			StartedAt: rec.StartedAt,
			EndedAt:   rec.EndedAt,
		})
	}
	return resp, nil
}

// Subscribe streams a viewer's snapshots: first the current state, then every later
// snapshot. Snapshots that do not fit the buffer are dropped; the client notices the gap
// in sequence ids and calls Sync.
func (s *MatchServer) Subscribe(req *ViewRequest, stream SnapshotSender) error {
	id, err := requireMatchID(req.MatchID)
	if err != nil {
		return err
	}
	ctx := stream.Context()
	logger := s.logger.With(zap.String("match_id", id), zap.String("viewer", req.Viewer))

	relay := newRelay(s.buffer)
	cancel, err := s.engine.Subscribe(id, req.Viewer, relay.push)
	if err != nil {
		return statusFromError(err)
	}
	defer cancel()

	cur, err := s.engine.Current(id, req.Viewer)
	if err != nil {
		return statusFromError(err)
	}
	if err := stream.Send(cur); err != nil {
		return err
	}
	logger.Debug("subscriber attached", zap.Int64("seq", cur.Seq))

	last := cur.Seq
	for {
		select {
		case <-ctx.Done():
			logger.Debug("subscriber detached")
			return nil
		case <-s.done:
			return status.Error(codes.Unavailable, "server shutting down")
		case snap := <-relay.out:
			if snap.Seq <= last {
				continue
			}
			if err := stream.Send(snap); err != nil {
				return err
			}
			last = snap.Seq
			if dropped := relay.takeDropped(); dropped > 0 {
				logger.Warn("subscriber fell behind", zap.Int("dropped", dropped))
			}
		}
	}
}
