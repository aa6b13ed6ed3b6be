package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestChainRunsInterceptorsInOrder(t *testing.T) {
	var order []string
	record := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			order = append(order, name+">")
			resp, err := handler(ctx, req)
			order = append(order, "<"+name)
			return resp, err
		}
	}

	chain := ChainUnaryInterceptors(record("a"), record("b"))
	resp, err := chain(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(_ context.Context, req any) (any, error) {
			order = append(order, "handler")
			return req, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "req", resp)
	assert.Equal(t, []string{"a>", "b>", "handler", "<b", "<a"}, order)
}

func TestRecoveryInterceptor(t *testing.T) {
	logger := zaptest.NewLogger(t)
	chain := ChainUnaryInterceptors(RecoveryInterceptor(logger), LoggingInterceptor(logger))

	_, err := chain(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Boom"},
		func(context.Context, any) (any, error) { panic("boom") })
	assert.Equal(t, codes.Internal, status.Code(err))

	_, err = chain(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/NotFound"},
		func(context.Context, any) (any, error) { return nil, status.Error(codes.NotFound, "gone") })
	assert.Equal(t, codes.NotFound, status.Code(err), "errors pass through untouched")
}

func TestStreamRecoveryInterceptor(t *testing.T) {
	logger := zaptest.NewLogger(t)
	chain := ChainStreamInterceptors(StreamRecoveryInterceptor(logger), StreamLoggingInterceptor(logger))

	err := chain(nil, nil, &grpc.StreamServerInfo{FullMethod: "/x/Stream"},
		func(any, grpc.ServerStream) error { panic("boom") })
	assert.Equal(t, codes.Internal, status.Code(err))
}
