package game

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

const checksumVersion = 1

// SerializationChecksum identifies an omniscient entity graph at a sequence id. Two
// replicas that agree on the checksum agree on every entity.
type SerializationChecksum struct {
	Hash    string `json:"hash"`
	Seq     int64  `json:"seq"`
	Version int    `json:"version"`
}

// ComputeChecksum hashes the canonical form of graph.
func ComputeChecksum(graph snapshot.Graph, seq int64) (*SerializationChecksum, error) {
	canonical, err := graph.Canonical()
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize graph: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return &SerializationChecksum{
		Hash:    hex.EncodeToString(sum[:]),
		Seq:     seq,
		Version: checksumVersion,
	}, nil
}

// VerifyChecksum reports whether graph hashes to want.
func VerifyChecksum(graph snapshot.Graph, want *SerializationChecksum) (bool, error) {
	if want.Version != checksumVersion {
		return false, fmt.Errorf("unsupported checksum version: %d", want.Version)
	}
	got, err := ComputeChecksum(graph, want.Seq)
	if err != nil {
		return false, err
	}
	return got.Hash == want.Hash, nil
}
