package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/duelforge/tactics-server-go/internal/game"
)

// Config is the server configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Game        GameConfig        `mapstructure:"game"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Replay      ReplayConfig      `mapstructure:"replay"`
	Cards       CardsConfig       `mapstructure:"cards"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
}

// ServerConfig holds the network listeners.
type ServerConfig struct {
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// GRPCConfig configures the gRPC listener.
type GRPCConfig struct {
	Address              string `mapstructure:"address"`
	MaxConcurrentStreams int    `mapstructure:"max_concurrent_streams"`
}

// WebSocketConfig configures the snapshot push listener. An empty address disables it.
type WebSocketConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig selects the zap level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GameConfig holds the default rule set for new matches.
type GameConfig struct {
	BoardWidth        int           `mapstructure:"board_width"`
	BoardHeight       int           `mapstructure:"board_height"`
	StartingHand      int           `mapstructure:"starting_hand"`
	MaxHand           int           `mapstructure:"max_hand"`
	MulliganMax       int           `mapstructure:"mulligan_max"`
	MaxMana           int           `mapstructure:"max_mana"`
	MaxEventDepth     int           `mapstructure:"max_event_depth"`
	SnapshotRetention int           `mapstructure:"snapshot_retention"`
	TurnTimeout       time.Duration `mapstructure:"turn_timeout"`
}

// DatabaseConfig selects the match archive.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ReplayConfig controls replay recording.
type ReplayConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
}

// CardsConfig points at the card definitions.
type CardsConfig struct {
	Path string `mapstructure:"path"`
}

// MatchmakingConfig controls the matchmaking queue.
type MatchmakingConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Strategy string        `mapstructure:"strategy"`
	Interval time.Duration `mapstructure:"interval"`
	MaxGap   int           `mapstructure:"max_gap"`
	Patience int           `mapstructure:"patience"`
}

// Matchmaking strategies.
const (
	StrategyFIFO   = "fifo"
	StrategyRating = "rating"
)

// Database drivers.
const (
	DriverNone     = "none"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// EnvPrefix prefixes environment overrides, e.g. TACTICS_SERVER_GRPC_ADDRESS.
const EnvPrefix = "TACTICS"

func setDefaults(v *viper.Viper) {
	rules := game.DefaultConfig()

	v.SetDefault("server.grpc.address", ":50051")
	v.SetDefault("server.grpc.max_concurrent_streams", 1000)
	v.SetDefault("server.websocket.address", ":8080")
	v.SetDefault("server.websocket.allowed_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("game.board_width", rules.BoardWidth)
	v.SetDefault("game.board_height", rules.BoardHeight)
	v.SetDefault("game.starting_hand", rules.StartingHand)
	v.SetDefault("game.max_hand", rules.MaxHand)
	v.SetDefault("game.mulligan_max", rules.MulliganMax)
	v.SetDefault("game.max_mana", rules.MaxMana)
	v.SetDefault("game.max_event_depth", rules.MaxEventDepth)
	v.SetDefault("game.snapshot_retention", rules.SnapshotRetention)
	v.SetDefault("game.turn_timeout", 90*time.Second)

	v.SetDefault("database.driver", DriverNone)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("replay.enabled", false)
	v.SetDefault("replay.directory", "replays")

	v.SetDefault("cards.path", "config/cards.yaml")

	v.SetDefault("matchmaking.enabled", true)
	v.SetDefault("matchmaking.strategy", StrategyFIFO)
	v.SetDefault("matchmaking.interval", 2*time.Second)
	v.SetDefault("matchmaking.max_gap", 3)
	v.SetDefault("matchmaking.patience", 5)
}

// Load reads the configuration file at path and applies environment overrides. A
// missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.GRPC.Address == "" {
		return fmt.Errorf("server.grpc.address is required")
	}
	if c.Server.GRPC.MaxConcurrentStreams < 0 {
		return fmt.Errorf("server.grpc.max_concurrent_streams must not be negative")
	}
	switch c.Database.Driver {
	case DriverNone:
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Replay.Enabled && c.Replay.Directory == "" {
		return fmt.Errorf("replay.directory is required when replays are enabled")
	}
	if c.Game.TurnTimeout < 0 {
		return fmt.Errorf("game.turn_timeout must not be negative")
	}
	if c.Matchmaking.Enabled {
		if c.Matchmaking.Strategy != StrategyFIFO && c.Matchmaking.Strategy != StrategyRating {
			return fmt.Errorf("unknown matchmaking.strategy %q", c.Matchmaking.Strategy)
		}
		if c.Matchmaking.Interval <= 0 {
			return fmt.Errorf("matchmaking.interval must be positive")
		}
	}
	if err := c.Game.Rules().Validate(); err != nil {
		return fmt.Errorf("game: %w", err)
	}
	return nil
}

// Rules converts the game section into the engine's rule set.
func (g GameConfig) Rules() game.Config {
	cfg := game.DefaultConfig()
	cfg.BoardWidth = g.BoardWidth
	cfg.BoardHeight = g.BoardHeight
	cfg.StartingHand = g.StartingHand
	cfg.MaxHand = g.MaxHand
	cfg.MulliganMax = g.MulliganMax
	cfg.MaxMana = g.MaxMana
	cfg.MaxEventDepth = g.MaxEventDepth
	cfg.SnapshotRetention = g.SnapshotRetention
	return cfg
}
