package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/duelforge/tactics-server-go/internal/cards"
	"github.com/duelforge/tactics-server-go/internal/config"
	"github.com/duelforge/tactics-server-go/internal/game"
	"github.com/duelforge/tactics-server-go/internal/matchmaking"
	"github.com/duelforge/tactics-server-go/internal/repository"
	"github.com/duelforge/tactics-server-go/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the match server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger, err := initLogger(cfg.Logging)
		if err != nil {
			return err
		}
		defer logger.Sync()

		return serve(cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (repository.MatchStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return repository.OpenSQLite(cfg.DSN, logger)
	case config.DriverPostgres:
		return repository.OpenPostgres(ctx, cfg.DSN, int32(cfg.MaxConns), logger)
	default:
		return nil, nil
	}
}

func newQueue(cfg config.MatchmakingConfig, rules game.Config, engine *game.Engine, logger *zap.Logger) *matchmaking.Queue {
	var strategy matchmaking.Strategy = matchmaking.FIFOStrategy{}
	if cfg.Strategy == config.StrategyRating {
		strategy = matchmaking.RatingStrategy{MaxGap: cfg.MaxGap, Patience: cfg.Patience}
	}
	return matchmaking.NewQueue(strategy, func(_ context.Context, first, second *matchmaking.Ticket) (string, error) {
		return engine.StartMatch(rules, []game.Roster{first.Roster, second.Roster})
	}, logger)
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting tactics server",
		zap.String("version", Version),
		zap.String("config", configPath),
	)

	// Create context that listens for termination signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	catalog, err := cards.LoadCatalog(cfg.Cards.Path)
	if err != nil {
		return fmt.Errorf("failed to load cards: %w", err)
	}
	logger.Info("card catalog loaded", zap.String("path", cfg.Cards.Path))

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open match archive: %w", err)
	}
	var opts []game.EngineOption
	if store != nil {
		defer store.Close()
		opts = append(opts, game.WithMatchStore(store))
		logger.Info("match archive opened", zap.String("driver", cfg.Database.Driver))
	}
	if cfg.Replay.Enabled {
		opts = append(opts, game.WithReplayRecorder(game.NewReplayRecorder(logger, cfg.Replay.Directory)))
		logger.Info("replay recording enabled", zap.String("directory", cfg.Replay.Directory))
	}
	opts = append(opts, game.WithTurnTimeout(cfg.Game.TurnTimeout))

	rules := cfg.Game.Rules()
	engine := game.NewEngine(catalog, logger, opts...)
	defer engine.Close()

	var queue *matchmaking.Queue
	if cfg.Matchmaking.Enabled {
		queue = newQueue(cfg.Matchmaking, rules, engine, logger)
		engine.SetNotificationHandler(func(n game.GameNotification) {
			if n.Type != game.NotifyGameEnded {
				return
			}
			if _, ok := queue.Pairing(n.MatchID); !ok {
				return
			}
			if err := queue.RecordResult(n.MatchID, n.PlayerID); err != nil {
				logger.Warn("failed to record match result",
					zap.String("match_id", n.MatchID),
					zap.Error(err),
				)
			}
		})
		go queue.Run(ctx, cfg.Matchmaking.Interval)
		logger.Info("matchmaking enabled",
			zap.String("strategy", cfg.Matchmaking.Strategy),
			zap.Duration("interval", cfg.Matchmaking.Interval),
		)
	}

	var serverOpts []server.MatchServerOption
	if store != nil {
		serverOpts = append(serverOpts, server.WithHistory(store))
	}
	matchServer := server.NewMatchServer(engine, queue, rules, logger, serverOpts...)

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.ChainUnaryInterceptors(
			server.RecoveryInterceptor(logger),
			server.LoggingInterceptor(logger),
		)),
		grpc.StreamInterceptor(server.ChainStreamInterceptors(
			server.StreamRecoveryInterceptor(logger),
			server.StreamLoggingInterceptor(logger),
		)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.MaxConcurrentStreams(uint32(cfg.Server.GRPC.MaxConcurrentStreams)),
	)
	server.RegisterMatchService(grpcServer, matchServer)
	healthServer := server.RegisterHealth(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPC.Address, err)
	}

	go func() {
		logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			logger.Error("gRPC server error", zap.Error(serveErr))
		}
	}()

	if cfg.Server.WebSocket.Address != "" {
		go func() {
			if wsErr := server.StartWebSocketServer(ctx, cfg.Server.WebSocket, engine, logger); wsErr != nil {
				logger.Error("WebSocket server error", zap.Error(wsErr))
			}
		}()
	}

	logger.Info("tactics server initialized",
		zap.String("version", Version),
		zap.String("grpc_address", cfg.Server.GRPC.Address),
		zap.String("websocket_address", cfg.Server.WebSocket.Address),
	)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	healthServer.Shutdown()
	matchServer.Shutdown()
	cancel()
	grpcServer.GracefulStop()

	logger.Info("tactics server stopped")
	return nil
}
