package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS matches (
	id         TEXT PRIMARY KEY,
	winner     TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	turns      INTEGER NOT NULL DEFAULT 0,
	checksum   TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	ended_at   INTEGER NOT NULL,
	snapshots  BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS match_players (
	match_id  TEXT NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
	seat      INTEGER NOT NULL,
	player_id TEXT NOT NULL,
	PRIMARY KEY (match_id, seat)
);
CREATE INDEX IF NOT EXISTS match_players_player_idx ON match_players (player_id);
`

// SQLiteStore keeps match records in an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a private
// in-memory database.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Info("sqlite match store ready", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// SaveMatch inserts or replaces a record.
func (s *SQLiteStore) SaveMatch(ctx context.Context, rec *MatchRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(rec); err != nil {
		return err
	}
	snaps, err := encodeSnapshots(rec.Snapshots)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM match_players WHERE match_id = ?`,
		`DELETE FROM matches WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, rec.ID); err != nil {
			return fmt.Errorf("replace match %s: %w", rec.ID, err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO matches (id, winner, reason, turns, checksum, started_at, ended_at, snapshots)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Winner, rec.Reason, rec.Turns, rec.Checksum,
		toMillis(rec.StartedAt), toMillis(rec.EndedAt), snaps,
	)
	if err != nil {
		return fmt.Errorf("insert match %s: %w", rec.ID, err)
	}
	for seat, player := range rec.Players {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO match_players (match_id, seat, player_id) VALUES (?, ?, ?)`,
			rec.ID, seat, player); err != nil {
			return fmt.Errorf("insert player %s of %s: %w", player, rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit match %s: %w", rec.ID, err)
	}

	s.logger.Debug("archived match",
		zap.String("match_id", rec.ID),
		zap.Int("snapshots", len(rec.Snapshots)),
	)
	return nil
}

// GetMatch loads a record by id.
func (s *SQLiteStore) GetMatch(ctx context.Context, id string) (*MatchRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, winner, reason, turns, checksum, started_at, ended_at, snapshots
		 FROM matches WHERE id = ?`, id)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get match %s: %w", id, err)
	}
	if err := s.loadPlayers(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByPlayer returns the most recent records of a player.
func (s *SQLiteStore) ListByPlayer(ctx context.Context, playerID string, limit int) ([]*MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.winner, m.reason, m.turns, m.checksum, m.started_at, m.ended_at, m.snapshots
		 FROM matches m JOIN match_players p ON p.match_id = m.id
		 WHERE p.player_id = ?
		 ORDER BY m.ended_at DESC LIMIT ?`, playerID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list matches of %s: %w", playerID, err)
	}
	var out []*MatchRecord
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, rec := range out {
		if err := s.loadPlayers(ctx, rec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) loadPlayers(ctx context.Context, rec *MatchRecord) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_id FROM match_players WHERE match_id = ? ORDER BY seat`, rec.ID)
	if err != nil {
		return fmt.Errorf("load players of %s: %w", rec.ID, err)
	}
	defer rows.Close()
	rec.Players = nil
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan player: %w", err)
		}
		rec.Players = append(rec.Players, id)
	}
	return rows.Err()
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*MatchRecord, error) {
	var (
		rec            MatchRecord
		started, ended int64
		snaps          []byte
	)
	if err := row.Scan(&rec.ID, &rec.Winner, &rec.Reason, &rec.Turns, &rec.Checksum,
		&started, &ended, &snaps); err != nil {
		return nil, err
	}
	decoded, err := decodeSnapshots(snaps)
	if err != nil {
		return nil, err
	}
	rec.StartedAt = fromMillis(started)
	rec.EndedAt = fromMillis(ended)
	rec.Snapshots = decoded
	return &rec, nil
}
