package game

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/duelforge/tactics-server-go/internal/game/rules"
	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

var (
	ErrMatchNotFound    = errors.New("match not found")
	ErrMatchQuarantined = errors.New("match quarantined")
	ErrMatchClosed      = errors.New("match closed")
)

var sharedValidator = sync.OnceValues(NewValidator)

// Tick is what one accepted command produced.
type Tick struct {
	MatchID  string
	Snapshot *snapshot.Snapshot // omniscient
	Events   []rules.Event
}

// Match runs one game. Commands are applied one at a time under the match lock; readers
// of snapshot streams never take it.
type Match struct {
	id        string
	logger    *zap.Logger
	validator *Validator
	state     *State
	publisher *snapshot.Publisher
	createdAt time.Time

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	pending    *pendingPlay
	task       *task
	quarantine error
	closed     bool
	processed  int
	history    []*snapshot.Snapshot
	onTick     func(Tick)
}

// NewMatch sets up a match and publishes its initial snapshot.
func NewMatch(id string, cfg Config, catalog *Catalog, rosters []Roster, logger *zap.Logger) (*Match, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	validator, err := sharedValidator()
	if err != nil {
		return nil, fmt.Errorf("command schemas: %w", err)
	}
	logger = logger.With(zap.String("match_id", id))
	state, err := NewState(cfg, catalog, rosters, logger)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Match{
		id:        id,
		logger:    logger,
		validator: validator,
		state:     state,
		publisher: snapshot.NewPublisher(cfg.SnapshotRetention, state.Viewers()...),
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if err := m.flush(); err != nil {
		cancel()
		return nil, err
	}
	return m, nil
}

func (m *Match) ID() string           { return m.id }
func (m *Match) CreatedAt() time.Time { return m.createdAt }

// Players returns the player ids in seat order.
func (m *Match) Players() []string { return m.state.PlayerIDs() }

// OnTick installs a hook called, under the match lock, after every published tick.
func (m *Match) OnTick(fn func(Tick)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTick = fn
}

// Dispatch validates and applies one command. Rejected commands leave the state
// untouched and come back as an unaccepted Result with a nil error. A non-nil error
// means the match can no longer accept commands.
func (m *Match) Dispatch(ctx context.Context, cmd Command) (res Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Result{}, ErrMatchClosed
	}
	if m.quarantine != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMatchQuarantined, m.quarantine)
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic while applying command",
				zap.String("command", cmd.Type),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = m.quarantineWith(rules.Fatal("dispatch", fmt.Errorf("panic: %v", r)))
			res = Result{}
		}
	}()

	applyErr := m.apply(ctx, cmd)
	switch {
	case applyErr == nil:
	case rules.IsFatal(applyErr):
		return Result{}, m.quarantineWith(applyErr)
	case rules.IsRejection(applyErr):
		m.logger.Debug("command rejected",
			zap.String("command", cmd.Type),
			zap.String("player_id", cmd.PlayerID),
			zap.Error(applyErr),
		)
		// A rejection raised after events were emitted still publishes them.
		if err := m.flush(); err != nil {
			return Result{}, m.quarantineWith(rules.Fatal("publish", err))
		}
		code, reason := rejection(applyErr)
		return Result{Accepted: false, Code: code, Reason: reason, Seq: m.lastSeq()}, nil
	default:
		return Result{}, m.quarantineWith(rules.Fatal(cmd.Type, applyErr))
	}

	m.processed++
	if err := m.flush(); err != nil {
		return Result{}, m.quarantineWith(rules.Fatal("publish", err))
	}
	return Result{Accepted: true, Seq: m.lastSeq()}, nil
}

func (m *Match) apply(ctx context.Context, cmd Command) error {
	if err := m.validator.Validate(cmd); err != nil {
		return err
	}
	spec := commandSpecs[cmd.Type]
	if spec.system != (cmd.PlayerID == SystemPlayer) {
		if spec.system {
			return rules.Illegal("system_only", rules.ErrNotOwner, "%s is issued by the server", cmd.Type)
		}
		return rules.Illegal("unknown_player", rules.ErrEntityNotFound, "the system player cannot %s", cmd.Type)
	}
	if !spec.system && !m.state.Turn().IsPlayer(cmd.PlayerID) {
		return rules.Illegal("unknown_player", rules.ErrEntityNotFound, "player %s is not in this match", cmd.PlayerID)
	}
	if phase := m.state.Turn().Phase(); !spec.phases.Has(phase) {
		return rules.Illegal("wrong_phase", rules.ErrWrongPhase, "%s is not allowed during %s", cmd.Type, phase)
	}
	if !spec.duringInteraction {
		if err := assertIdle(m.state); err != nil {
			return err
		}
	}
	if err := spec.handle(m, ctx, cmd); err != nil {
		return err
	}
	if err := m.state.ReapDead(); err != nil {
		return err
	}
	if m.state.Turn().Phase() == rules.PhaseGameEnd {
		return m.abortInteraction()
	}
	return nil
}

func rejection(err error) (code, reason string) {
	var ia *rules.IllegalActionError
	if errors.As(err, &ia) {
		return ia.Code, ia.Reason
	}
	var ve *rules.ValidationError
	if errors.As(err, &ve) {
		return "invalid_command", ve.Reason
	}
	return "rejected", err.Error()
}

func (m *Match) quarantineWith(err error) error {
	m.quarantine = err
	m.abortTask("quarantine")
	m.cancel()
	m.logger.Error("match quarantined", zap.Error(err))
	return fmt.Errorf("%w: %v", ErrMatchQuarantined, err)
}

// flush publishes the events emitted since the previous flush, one snapshot per viewer.
func (m *Match) flush() error {
	events := m.state.drainEvents()
	if len(events) == 0 && len(m.history) > 0 {
		return nil
	}
	out, err := m.publisher.Publish(func(viewer string) (snapshot.View, error) {
		return m.state.View(viewer, events)
	})
	if err != nil {
		return err
	}
	omni := out[snapshot.Omniscient]
	m.history = append(m.history, omni)
	if m.onTick != nil {
		m.onTick(Tick{MatchID: m.id, Snapshot: omni, Events: events})
	}
	return nil
}

func (m *Match) lastSeq() int64 {
	s, err := m.publisher.Stream(snapshot.Omniscient)
	if err != nil {
		return -1
	}
	return s.LastSeq()
}

// Stream returns the snapshot stream of a viewer.
func (m *Match) Stream(viewer string) (*snapshot.Stream, error) {
	s, err := m.publisher.Stream(viewer)
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", m.id, err)
	}
	return s, nil
}

// Sync returns what a viewer missed after seq. See snapshot.Stream.Since.
func (m *Match) Sync(viewer string, after int64) ([]*snapshot.Snapshot, error) {
	s, err := m.Stream(viewer)
	if err != nil {
		return nil, err
	}
	return s.Since(after), nil
}

// Current returns a full snapshot of what the viewer sees now.
func (m *Match) Current(viewer string) (*snapshot.Snapshot, error) {
	s, err := m.Stream(viewer)
	if err != nil {
		return nil, err
	}
	return s.State(), nil
}

// Subscribe delivers the viewer's future snapshots to fn.
func (m *Match) Subscribe(viewer string, fn snapshot.Subscriber) (cancel func(), err error) {
	s, err := m.Stream(viewer)
	if err != nil {
		return nil, err
	}
	_, cancel = s.Subscribe(fn)
	return cancel, nil
}

// History returns every omniscient snapshot published so far.
func (m *Match) History() []*snapshot.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*snapshot.Snapshot(nil), m.history...)
}

// Checksum hashes the current omniscient graph.
func (m *Match) Checksum() (*SerializationChecksum, error) {
	cur, err := m.Current(snapshot.Omniscient)
	if err != nil {
		return nil, err
	}
	return ComputeChecksum(cur.Entities, cur.Seq)
}

// TurnState returns the current turn state.
func (m *Match) TurnState() rules.TurnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Turn().State()
}

// Processed returns the number of accepted commands.
func (m *Match) Processed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed
}

// Quarantined returns the error that stopped the match, if any.
func (m *Match) Quarantined() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quarantine
}

// WithState runs fn with the state under the match lock.
func (m *Match) WithState(fn func(*State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
}

// Close stops any card resolution in flight. Closed matches reject every command.
func (m *Match) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.abortTask("close")
	m.cancel()
}

// abortTask unwinds a suspended card resolution. The match is going away, so a failing
// unwind is only logged.
func (m *Match) abortTask(reason string) {
	if m.task == nil {
		return
	}
	source := m.task.source
	if err := m.task.abort(); err != nil {
		m.logger.Warn("card resolution failed while aborting",
			zap.String("reason", reason),
			zap.String("source", source),
			zap.Error(err),
		)
	}
	m.task = nil
}
