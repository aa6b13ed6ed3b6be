package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Set TACTICS_TEST_POSTGRES_DSN to run against a real server.
const postgresDSNEnv = "TACTICS_TEST_POSTGRES_DSN"

func TestOpenPostgresRejectsBadDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "postgres://tactics@localhost:5432/tactics?pool_max_conns=lots", 0, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}
	ctx := context.Background()
	store, err := OpenPostgres(ctx, dsn, 2, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	suffix := fmt.Sprint(time.Now().UnixNano())
	alice, bob := "alice-"+suffix, "bob-"+suffix
	base := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.SaveMatch(ctx, record("pg1-"+suffix, base, alice, bob)))
	require.NoError(t, store.SaveMatch(ctx, record("pg2-"+suffix, base.Add(time.Minute), bob, alice)))

	got, err := store.GetMatch(ctx, "pg1-"+suffix)
	require.NoError(t, err)
	assert.Equal(t, []string{alice, bob}, got.Players)
	require.Len(t, got.Snapshots, 1)

	list, err := store.ListByPlayer(ctx, alice, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "pg2-"+suffix, list[0].ID)

	_, err = store.GetMatch(ctx, "missing-"+suffix)
	assert.ErrorIs(t, err, ErrNotFound)
}
