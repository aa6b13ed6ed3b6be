// Package repository archives finished matches.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("match record not found")

// MatchRecord is the archived form of a finished match.
type MatchRecord struct {
	ID        string
	Players   []string
	Winner    string
	Reason    string
	Turns     int
	Checksum  string
	StartedAt time.Time
	EndedAt   time.Time
	// Snapshots is the omniscient log; folding it yields the final graph.
	Snapshots []*snapshot.Snapshot
}

// MatchStore persists match records.
type MatchStore interface {
	SaveMatch(ctx context.Context, rec *MatchRecord) error
	GetMatch(ctx context.Context, id string) (*MatchRecord, error)
	// ListByPlayer returns the records a player took part in, most recent first.
	ListByPlayer(ctx context.Context, playerID string, limit int) ([]*MatchRecord, error)
	Close() error
}

func validate(rec *MatchRecord) error {
	if rec == nil {
		return fmt.Errorf("match record is required")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("match id is required")
	}
	if len(rec.Players) == 0 {
		return fmt.Errorf("match %s has no players", rec.ID)
	}
	if rec.EndedAt.Before(rec.StartedAt) {
		return fmt.Errorf("match %s ends before it starts", rec.ID)
	}
	return nil
}

func encodeSnapshots(snaps []*snapshot.Snapshot) ([]byte, error) {
	if snaps == nil {
		snaps = []*snapshot.Snapshot{}
	}
	raw, err := json.Marshal(snaps)
	if err != nil {
		return nil, fmt.Errorf("encode snapshots: %w", err)
	}
	return raw, nil
}

func decodeSnapshots(raw []byte) ([]*snapshot.Snapshot, error) {
	var snaps []*snapshot.Snapshot
	if len(raw) == 0 {
		return snaps, nil
	}
	if err := json.Unmarshal(raw, &snaps); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}
	return snaps, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}
