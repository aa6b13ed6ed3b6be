package repository

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func record(id string, ended time.Time, players ...string) *MatchRecord {
	return &MatchRecord{
		ID:        id,
		Players:   players,
		Winner:    players[0],
		Reason:    "general_destroyed",
		Turns:     7,
		Checksum:  "abc123",
		StartedAt: ended.Add(-10 * time.Minute),
		EndedAt:   ended,
		Snapshots: []*snapshot.Snapshot{{
			Seq:      0,
			Kind:     snapshot.KindDiff,
			Entities: snapshot.Graph{"match": json.RawMessage(`{"turn":1}`)},
			Added:    []string{"match"},
		}},
	}
}

func TestSQLiteSaveAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ended := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveMatch(ctx, record("m1", ended, "alice", "bob")))

	got, err := store.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.Players)
	assert.Equal(t, "alice", got.Winner)
	assert.Equal(t, 7, got.Turns)
	assert.True(t, got.EndedAt.Equal(ended))
	require.Len(t, got.Snapshots, 1)
	assert.JSONEq(t, `{"turn":1}`, string(got.Snapshots[0].Entities["match"]))
}

func TestSQLiteSaveReplaces(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ended := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveMatch(ctx, record("m1", ended, "alice", "bob")))
	rec := record("m1", ended, "bob", "alice")
	rec.Turns = 9
	require.NoError(t, store.SaveMatch(ctx, rec))

	got, err := store.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Turns)
	assert.Equal(t, []string{"bob", "alice"}, got.Players)
}

func TestSQLiteGetMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetMatch(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteListByPlayer(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveMatch(ctx, record("m1", base, "alice", "bob")))
	require.NoError(t, store.SaveMatch(ctx, record("m2", base.Add(time.Hour), "carol", "alice")))
	require.NoError(t, store.SaveMatch(ctx, record("m3", base.Add(2*time.Hour), "bob", "carol")))

	got, err := store.ListByPlayer(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)

	got, err = store.ListByPlayer(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m2", got[0].ID)
}

func TestSQLiteRejectsInvalidRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.SaveMatch(ctx, &MatchRecord{}))
	assert.Error(t, store.SaveMatch(ctx, &MatchRecord{ID: "x"}))
}

func TestSQLiteFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matches.db")
	ctx := context.Background()

	store, err := OpenSQLite(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.SaveMatch(ctx, record("m1", time.Now(), "alice", "bob")))
	require.NoError(t, store.Close())

	store, err = OpenSQLite(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()
	got, err := store.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
}
