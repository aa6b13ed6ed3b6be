package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS matches (
	id         TEXT PRIMARY KEY,
	players    TEXT[] NOT NULL,
	winner     TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	turns      INTEGER NOT NULL DEFAULT 0,
	checksum   TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ NOT NULL,
	snapshots  JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS matches_players_idx ON matches USING GIN (players);
CREATE INDEX IF NOT EXISTS matches_ended_at_idx ON matches (ended_at DESC);
`

// PostgresStore keeps match records in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgres connects to dsn and creates the schema if needed.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Info("postgres match store ready", zap.Int32("max_conns", cfg.MaxConns))
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// SaveMatch inserts or replaces a record.
func (s *PostgresStore) SaveMatch(ctx context.Context, rec *MatchRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	snaps, err := encodeSnapshots(rec.Snapshots)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO matches (id, players, winner, reason, turns, checksum, started_at, ended_at, snapshots)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   players = EXCLUDED.players,
		   winner = EXCLUDED.winner,
		   reason = EXCLUDED.reason,
		   turns = EXCLUDED.turns,
		   checksum = EXCLUDED.checksum,
		   started_at = EXCLUDED.started_at,
		   ended_at = EXCLUDED.ended_at,
		   snapshots = EXCLUDED.snapshots`,
		rec.ID, rec.Players, rec.Winner, rec.Reason, rec.Turns, rec.Checksum,
		rec.StartedAt.UTC(), rec.EndedAt.UTC(), snaps,
	)
	if err != nil {
		return fmt.Errorf("insert match %s: %w", rec.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit match %s: %w", rec.ID, err)
	}

	s.logger.Debug("archived match",
		zap.String("match_id", rec.ID),
		zap.Int("snapshots", len(rec.Snapshots)),
	)
	return nil
}

// GetMatch loads a record by id.
func (s *PostgresStore) GetMatch(ctx context.Context, id string) (*MatchRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, players, winner, reason, turns, checksum, started_at, ended_at, snapshots
		 FROM matches WHERE id = $1`, id)
	rec, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get match %s: %w", id, err)
	}
	return rec, nil
}

// ListByPlayer returns the most recent records of a player.
func (s *PostgresStore) ListByPlayer(ctx context.Context, playerID string, limit int) ([]*MatchRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, players, winner, reason, turns, checksum, started_at, ended_at, snapshots
		 FROM matches WHERE $1 = ANY(players)
		 ORDER BY ended_at DESC LIMIT $2`, playerID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list matches of %s: %w", playerID, err)
	}
	defer rows.Close()

	var out []*MatchRecord
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func scanPostgres(row pgx.Row) (*MatchRecord, error) {
	var (
		rec   MatchRecord
		snaps []byte
	)
	if err := row.Scan(&rec.ID, &rec.Players, &rec.Winner, &rec.Reason, &rec.Turns,
		&rec.Checksum, &rec.StartedAt, &rec.EndedAt, &snaps); err != nil {
		return nil, err
	}
	decoded, err := decodeSnapshots(snaps)
	if err != nil {
		return nil, err
	}
	rec.Snapshots = decoded
	rec.StartedAt = rec.StartedAt.UTC()
	rec.EndedAt = rec.EndedAt.UTC()
	return &rec, nil
}
