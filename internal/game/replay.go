package game

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

const replayVersion = 1

// Replay is the omniscient snapshot history of a match. Folding its snapshots in order
// reproduces the final state.
type Replay struct {
	MatchID      string
	Snapshots    []*snapshot.Snapshot
	CurrentIndex int
	mu           sync.RWMutex
}

// NewReplay creates an empty replay.
func NewReplay(matchID string) *Replay {
	return &Replay{
		MatchID:   matchID,
		Snapshots: make([]*snapshot.Snapshot, 0),
	}
}

// RecordSnapshot appends a snapshot.
func (r *Replay) RecordSnapshot(snap *snapshot.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Snapshots = append(r.Snapshots, snap)
}

// Start rewinds to the first snapshot.
func (r *Replay) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.CurrentIndex = 0
}

// Next returns the snapshot at the cursor and advances it.
func (r *Replay) Next() *snapshot.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CurrentIndex < len(r.Snapshots) {
		snap := r.Snapshots[r.CurrentIndex]
		r.CurrentIndex++
		return snap
	}
	return nil
}

// Size returns the number of recorded snapshots.
func (r *Replay) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.Snapshots)
}

// At returns the snapshot at index.
func (r *Replay) At(index int) *snapshot.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index >= 0 && index < len(r.Snapshots) {
		return r.Snapshots[index]
	}
	return nil
}

// GraphAt folds the snapshots up to and including index.
func (r *Replay) GraphAt(index int) snapshot.Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var g snapshot.Graph
	for i := 0; i <= index && i < len(r.Snapshots); i++ {
		g = g.Apply(r.Snapshots[i])
	}
	return g
}

// Final folds every snapshot.
func (r *Replay) Final() snapshot.Graph {
	return r.GraphAt(r.Size() - 1)
}

// SaveToFile writes the replay to <directory>/<match id>.replay as gzipped gob.
func (r *Replay) SaveToFile(directory string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	filename := filepath.Join(directory, fmt.Sprintf("%s.replay", r.MatchID))
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	gzipWriter := gzip.NewWriter(file)
	defer gzipWriter.Close()

	encoder := gob.NewEncoder(gzipWriter)

	var lastSeq int64 = -1
	if n := len(r.Snapshots); n > 0 {
		lastSeq = r.Snapshots[n-1].Seq
	}
	metadata := replayMetadata{
		MatchID:       r.MatchID,
		Timestamp:     time.Now(),
		Version:       replayVersion,
		SnapshotCount: len(r.Snapshots),
		LastSeq:       lastSeq,
	}
	if err := encoder.Encode(&metadata); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	for i, snap := range r.Snapshots {
		if err := encoder.Encode(snap); err != nil {
			return fmt.Errorf("failed to encode snapshot %d: %w", i, err)
		}
	}

	return nil
}

// LoadReplayFromFile reads a replay written by SaveToFile.
func LoadReplayFromFile(directory, matchID string) (*Replay, error) {
	filename := filepath.Join(directory, fmt.Sprintf("%s.replay", matchID))
	return LoadReplay(filename)
}

// LoadReplay reads a replay file by path.
func LoadReplay(filename string) (*Replay, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	decoder := gob.NewDecoder(gzipReader)

	var metadata replayMetadata
	if err := decoder.Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if metadata.Version != replayVersion {
		return nil, fmt.Errorf("unsupported replay version: %d", metadata.Version)
	}

	replay := NewReplay(metadata.MatchID)
	for i := 0; i < metadata.SnapshotCount; i++ {
		var snap snapshot.Snapshot
		if err := decoder.Decode(&snap); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %d: %w", i, err)
		}
		replay.Snapshots = append(replay.Snapshots, &snap)
	}
	if n := len(replay.Snapshots); n > 0 && replay.Snapshots[n-1].Seq != metadata.LastSeq {
		return nil, fmt.Errorf("replay %s is truncated: last seq %d, want %d",
			metadata.MatchID, replay.Snapshots[n-1].Seq, metadata.LastSeq)
	}

	return replay, nil
}

// replayMetadata heads a saved replay.
type replayMetadata struct {
	MatchID       string
	Timestamp     time.Time
	Version       int
	SnapshotCount int
	LastSeq       int64
}

// ReplayRecorder collects the replays of running matches.
type ReplayRecorder struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	replays map[string]*Replay // matchID -> Replay
	enabled map[string]bool    // matchID -> whether recording is enabled
	saveDir string
}

// NewReplayRecorder creates a recorder saving into saveDir.
func NewReplayRecorder(logger *zap.Logger, saveDir string) *ReplayRecorder {
	return &ReplayRecorder{
		logger:  logger,
		replays: make(map[string]*Replay),
		enabled: make(map[string]bool),
		saveDir: saveDir,
	}
}

// StartRecording begins recording a match.
func (rr *ReplayRecorder) StartRecording(matchID string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.replays[matchID] = NewReplay(matchID)
	rr.enabled[matchID] = true

	if rr.logger != nil {
		rr.logger.Info("started replay recording",
			zap.String("match_id", matchID),
		)
	}
}

// StopRecording stops recording a match. The replay stays in memory.
func (rr *ReplayRecorder) StopRecording(matchID string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.enabled[matchID] = false

	if rr.logger != nil {
		rr.logger.Info("stopped replay recording",
			zap.String("match_id", matchID),
		)
	}
}

// RecordSnapshot records an omniscient snapshot if recording is enabled.
func (rr *ReplayRecorder) RecordSnapshot(matchID string, snap *snapshot.Snapshot) {
	rr.mu.RLock()
	enabled := rr.enabled[matchID]
	replay := rr.replays[matchID]
	rr.mu.RUnlock()

	if !enabled || replay == nil {
		return
	}

	replay.RecordSnapshot(snap)

	if rr.logger != nil {
		rr.logger.Debug("recorded replay snapshot",
			zap.String("match_id", matchID),
			zap.Int64("seq", snap.Seq),
		)
	}
}

// GetReplay returns the in-memory replay of a match.
func (rr *ReplayRecorder) GetReplay(matchID string) (*Replay, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	replay, exists := rr.replays[matchID]
	return replay, exists
}

// SaveReplay writes a replay to disk and drops it from memory.
func (rr *ReplayRecorder) SaveReplay(matchID string) error {
	rr.mu.Lock()
	replay, exists := rr.replays[matchID]
	if !exists {
		rr.mu.Unlock()
		return fmt.Errorf("no replay found for match %s", matchID)
	}
	delete(rr.replays, matchID)
	delete(rr.enabled, matchID)
	rr.mu.Unlock()

	if err := replay.SaveToFile(rr.saveDir); err != nil {
		return fmt.Errorf("failed to save replay: %w", err)
	}

	if rr.logger != nil {
		rr.logger.Info("saved replay to disk",
			zap.String("match_id", matchID),
			zap.Int("snapshot_count", replay.Size()),
			zap.String("directory", rr.saveDir),
		)
	}

	return nil
}

// LoadReplay reads a saved replay from the recorder's directory.
func (rr *ReplayRecorder) LoadReplay(matchID string) (*Replay, error) {
	replay, err := LoadReplayFromFile(rr.saveDir, matchID)
	if err != nil {
		return nil, err
	}

	if rr.logger != nil {
		rr.logger.Info("loaded replay from disk",
			zap.String("match_id", matchID),
			zap.Int("snapshot_count", replay.Size()),
		)
	}

	return replay, nil
}

// ClearReplay drops a replay without saving it.
func (rr *ReplayRecorder) ClearReplay(matchID string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	delete(rr.replays, matchID)
	delete(rr.enabled, matchID)

	if rr.logger != nil {
		rr.logger.Debug("cleared replay from memory",
			zap.String("match_id", matchID),
		)
	}
}

// IsRecording reports whether a match is being recorded.
func (rr *ReplayRecorder) IsRecording(matchID string) bool {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	return rr.enabled[matchID]
}
