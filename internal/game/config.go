package game

import (
	"fmt"

	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

// Config holds the rule parameters of a match.
type Config struct {
	BoardWidth        int
	BoardHeight       int
	StartingHand      int
	MaxHand           int
	MulliganMax       int
	StartingMana      int
	MaxMana           int
	MaxEventDepth     int
	SnapshotRetention int
	Seed              uint64
	GeneralAttack     int
	GeneralHealth     int
}

// DefaultConfig returns the standard rule set.
func DefaultConfig() Config {
	return Config{
		BoardWidth:        9,
		BoardHeight:       5,
		StartingHand:      5,
		MaxHand:           6,
		MulliganMax:       2,
		StartingMana:      2,
		MaxMana:           9,
		MaxEventDepth:     64,
		SnapshotRetention: snapshot.DefaultRetention,
		GeneralAttack:     2,
		GeneralHealth:     25,
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	if c.BoardWidth < 3 || c.BoardHeight < 1 {
		return fmt.Errorf("board must be at least 3x1, got %dx%d", c.BoardWidth, c.BoardHeight)
	}
	if c.MaxHand < 1 {
		return fmt.Errorf("max hand must be positive, got %d", c.MaxHand)
	}
	if c.StartingHand < 0 || c.StartingHand > c.MaxHand {
		return fmt.Errorf("starting hand %d outside [0, %d]", c.StartingHand, c.MaxHand)
	}
	if c.MulliganMax < 0 {
		return fmt.Errorf("mulligan max must not be negative")
	}
	if c.MaxMana < c.StartingMana || c.StartingMana < 0 {
		return fmt.Errorf("mana range [%d, %d] is invalid", c.StartingMana, c.MaxMana)
	}
	if c.GeneralHealth < 1 {
		return fmt.Errorf("general health must be positive")
	}
	return nil
}

// Roster is one player's entry into a match.
type Roster struct {
	PlayerID string   `json:"playerId" yaml:"player_id"`
	General  string   `json:"general" yaml:"general"`
	Deck     []string `json:"deck" yaml:"deck"`
}
