package game

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duelforge/tactics-server-go/internal/game/rules"
	"github.com/duelforge/tactics-server-go/internal/repository"
	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

// Notification types.
const (
	NotifyMatchStarted     = "MATCH_STARTED"
	NotifyMatchUpdate      = "MATCH_UPDATE"
	NotifyTurnStarted      = "TURN_STARTED"
	NotifyGameEnded        = "GAME_ENDED"
	NotifyMatchQuarantined = "MATCH_QUARANTINED"
	NotifyMatchEnded       = "MATCH_ENDED"
)

// GameNotification is an out-of-band notice for lobby and monitoring listeners.
type GameNotification struct {
	Type      string
	MatchID   string
	PlayerID  string // empty for broadcast
	Timestamp time.Time
	Data      map[string]interface{}
}

// NotificationHandler receives notifications on its own goroutine.
type NotificationHandler func(notification GameNotification)

// Engine hosts many matches. Each match has its own lock; the engine lock only guards
// the registry.
type Engine struct {
	logger              *zap.Logger
	catalog             *Catalog
	mu                  sync.RWMutex
	matches             map[string]*Match
	notificationHandler NotificationHandler

	store        repository.MatchStore
	recorder     *ReplayRecorder
	turnTimeout  time.Duration
	clock        *TurnClock
	archiveAfter time.Duration
	saves        sync.WaitGroup
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMatchStore archives finished matches in store.
func WithMatchStore(store repository.MatchStore) EngineOption {
	return func(e *Engine) { e.store = store }
}

// WithReplayRecorder records every match and saves the replay when it ends.
func WithReplayRecorder(rr *ReplayRecorder) EngineOption {
	return func(e *Engine) { e.recorder = rr }
}

// WithTurnTimeout force-ends turns that last longer than d.
func WithTurnTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.turnTimeout = d }
}

// WithNotificationHandler installs a notification handler.
func WithNotificationHandler(h NotificationHandler) EngineOption {
	return func(e *Engine) { e.notificationHandler = h }
}

// NewEngine creates an engine playing cards from catalog.
func NewEngine(catalog *Catalog, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger:       logger,
		catalog:      catalog,
		matches:      make(map[string]*Match),
		archiveAfter: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.clock = NewTurnClock(e.turnTimeout, e.expireTurn)
	return e
}

// SetNotificationHandler replaces the notification handler.
func (e *Engine) SetNotificationHandler(handler NotificationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notificationHandler = handler
}

// emitNotification hands n to the handler on a new goroutine, so it is safe to call
// while holding a match lock.
func (e *Engine) emitNotification(n GameNotification) {
	e.mu.RLock()
	handler := e.notificationHandler
	e.mu.RUnlock()

	if handler != nil {
		go handler(n)
	}
}

func (e *Engine) notify(kind, matchID, playerID string, data map[string]interface{}) {
	e.emitNotification(GameNotification{
		Type:      kind,
		MatchID:   matchID,
		PlayerID:  playerID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Catalog returns the card catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// StartMatch creates a match and returns its id.
func (e *Engine) StartMatch(cfg Config, rosters []Roster) (string, error) {
	id := uuid.NewString()
	m, err := NewMatch(id, cfg, e.catalog, rosters, e.logger)
	if err != nil {
		return "", fmt.Errorf("start match: %w", err)
	}

	if e.recorder != nil {
		e.recorder.StartRecording(id)
		for _, snap := range m.History() {
			e.recorder.RecordSnapshot(id, snap)
		}
	}
	m.OnTick(func(t Tick) { e.onTick(m, t) })

	e.mu.Lock()
	e.matches[id] = m
	e.mu.Unlock()

	players := m.Players()
	e.logger.Info("match started",
		zap.String("match_id", id),
		zap.Strings("players", players),
	)
	e.notify(NotifyMatchStarted, id, "", map[string]interface{}{"players": players})
	return id, nil
}

// onTick runs under the match lock.
func (e *Engine) onTick(m *Match, t Tick) {
	if e.recorder != nil {
		e.recorder.RecordSnapshot(t.MatchID, t.Snapshot)
	}
	e.notify(NotifyMatchUpdate, t.MatchID, "", map[string]interface{}{
		"seq":    t.Snapshot.Seq,
		"events": len(t.Events),
	})
	for _, ev := range t.Events {
		switch ev.Type {
		case rules.EventTurnStarted:
			e.clock.Start(t.MatchID, ev.Amount)
			e.notify(NotifyTurnStarted, t.MatchID, ev.PlayerID, map[string]interface{}{"turn": ev.Amount})
		case rules.EventGameEnded:
			e.clock.Stop(t.MatchID)
			e.archive(m, ev)
		}
	}
}

// archive snapshots the finished match and saves it in the background. Called under the
// match lock.
func (e *Engine) archive(m *Match, ended rules.Event) {
	ts := m.state.Turn().State()
	e.notify(NotifyGameEnded, m.id, ts.Winner, map[string]interface{}{
		"winner": ts.Winner,
		"reason": ts.Reason,
	})

	rec := &repository.MatchRecord{
		ID:        m.id,
		Players:   m.state.PlayerIDs(),
		Winner:    ts.Winner,
		Reason:    ended.Meta("reason"),
		Turns:     ts.Turn,
		StartedAt: m.createdAt,
		EndedAt:   time.Now(),
		Snapshots: append([]*snapshot.Snapshot(nil), m.history...),
	}
	if n := len(rec.Snapshots); n > 0 {
		var final snapshot.Graph
		for _, s := range rec.Snapshots {
			final = final.Apply(s)
		}
		if sum, err := ComputeChecksum(final, rec.Snapshots[n-1].Seq); err == nil {
			rec.Checksum = sum.Hash
		}
	}

	if e.recorder != nil {
		e.recorder.StopRecording(m.id)
	}
	e.saves.Add(1)
	go func() {
		defer e.saves.Done()
		e.persist(rec)
	}()
}

func (e *Engine) persist(rec *repository.MatchRecord) {
	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.archiveAfter)
		defer cancel()
		if err := e.store.SaveMatch(ctx, rec); err != nil {
			e.logger.Error("failed to archive match",
				zap.String("match_id", rec.ID),
				zap.Error(err),
			)
		}
	}
	if _, ok := e.replay(rec.ID); ok {
		if err := e.recorder.SaveReplay(rec.ID); err != nil {
			e.logger.Error("failed to save replay",
				zap.String("match_id", rec.ID),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) replay(matchID string) (*Replay, bool) {
	if e.recorder == nil {
		return nil, false
	}
	return e.recorder.GetReplay(matchID)
}

func (e *Engine) expireTurn(matchID string, turn int) {
	cmd, err := NewCommand(CmdForceEndTurn, SystemPlayer, ForceEndTurnFields{Turn: turn})
	if err != nil {
		e.logger.Error("build force_end_turn", zap.Error(err))
		return
	}
	res, err := e.Dispatch(context.Background(), matchID, cmd)
	if err != nil {
		e.logger.Warn("turn timeout not applied",
			zap.String("match_id", matchID),
			zap.Int("turn", turn),
			zap.Error(err),
		)
		return
	}
	e.logger.Info("turn timed out",
		zap.String("match_id", matchID),
		zap.Int("turn", turn),
		zap.Bool("accepted", res.Accepted),
		zap.String("code", res.Code),
	)
}

// Match returns a running match.
func (e *Engine) Match(matchID string) (*Match, error) {
	e.mu.RLock()
	m, ok := e.matches[matchID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	return m, nil
}

// MatchIDs returns the ids of the running matches, sorted.
func (e *Engine) MatchIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.matches))
	for id := range e.matches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dispatch applies a command to a match.
func (e *Engine) Dispatch(ctx context.Context, matchID string, cmd Command) (Result, error) {
	m, err := e.Match(matchID)
	if err != nil {
		return Result{}, err
	}
	res, err := m.Dispatch(ctx, cmd)
	if err != nil {
		e.clock.Stop(matchID)
		e.logger.Error("command failed",
			zap.String("match_id", matchID),
			zap.String("command", cmd.Type),
			zap.String("player_id", cmd.PlayerID),
			zap.Error(err),
		)
		e.notify(NotifyMatchQuarantined, matchID, "", map[string]interface{}{"error": err.Error()})
		return res, err
	}
	return res, nil
}

// Subscribe delivers a viewer's snapshots of a match to fn.
func (e *Engine) Subscribe(matchID, viewer string, fn snapshot.Subscriber) (func(), error) {
	m, err := e.Match(matchID)
	if err != nil {
		return nil, err
	}
	return m.Subscribe(viewer, fn)
}

// Sync returns what a viewer missed after seq.
func (e *Engine) Sync(matchID, viewer string, after int64) ([]*snapshot.Snapshot, error) {
	m, err := e.Match(matchID)
	if err != nil {
		return nil, err
	}
	return m.Sync(viewer, after)
}

// Current returns a full snapshot of a viewer's view.
func (e *Engine) Current(matchID, viewer string) (*snapshot.Snapshot, error) {
	m, err := e.Match(matchID)
	if err != nil {
		return nil, err
	}
	return m.Current(viewer)
}

// EndMatch removes a match from the engine and closes it.
func (e *Engine) EndMatch(matchID string) error {
	e.mu.Lock()
	m, ok := e.matches[matchID]
	if ok {
		delete(e.matches, matchID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}

	e.clock.Stop(matchID)
	m.Close()
	if e.recorder != nil && e.recorder.IsRecording(matchID) {
		e.recorder.ClearReplay(matchID)
	}
	e.logger.Info("match ended", zap.String("match_id", matchID))
	e.notify(NotifyMatchEnded, matchID, "", nil)
	return nil
}

// Close ends every match and waits for pending archive writes.
func (e *Engine) Close() {
	e.clock.StopAll()
	for _, id := range e.MatchIDs() {
		_ = e.EndMatch(id)
	}
	e.saves.Wait()
}
