package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/duelforge/tactics-server-go/internal/game"
	"github.com/duelforge/tactics-server-go/internal/server"
)

func TestGRPCAdapterDrivesController(t *testing.T) {
	logger := zaptest.NewLogger(t)
	e, id := startMatch(t)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	server.RegisterMatchService(srv, server.NewMatchServer(e, nil, game.DefaultConfig(), logger))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	rpc := server.NewMatchServiceClient(conn)
	alice := NewController(NewGRPCAdapter(rpc, id, "alice", logger), nil, logger)
	bob := NewController(NewGRPCAdapter(rpc, id, "bob", logger), nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go alice.Run(ctx)
	go bob.Run(ctx)

	require.Eventually(t, func() bool { return alice.LastSeq() >= 0 && bob.LastSeq() >= 0 }, 2*time.Second, 10*time.Millisecond)
	mulligan(t, alice, "alice")
	mulligan(t, bob, "bob")

	for viewer, c := range map[string]*Controller{"alice": alice, "bob": bob} {
		cur, err := e.Current(id, viewer)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return c.LastSeq() == cur.Seq }, 2*time.Second, 10*time.Millisecond, viewer)
		assert.True(t, c.Graph().Equal(cur.Entities), viewer)
	}
	assert.False(t, alice.Graph().Equal(bob.Graph()), "hands are redacted per viewer")
}

func TestStaticAdapterIsReadOnly(t *testing.T) {
	_, err := staticAdapter(nil).Dispatch(context.Background(), game.Command{Type: game.CmdEndTurn})
	assert.ErrorIs(t, err, errReadOnly)
}
