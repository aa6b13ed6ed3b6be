package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

func TestChecksumIgnoresInsertionOrder(t *testing.T) {
	a := snapshot.Graph{}
	a["unit-1"] = json.RawMessage(`{"attack":2}`)
	a["match"] = json.RawMessage(`{"turn":3}`)

	b := snapshot.Graph{}
	b["match"] = json.RawMessage(`{"turn":3}`)
	b["unit-1"] = json.RawMessage(`{"attack":2}`)

	sa, err := ComputeChecksum(a, 4)
	require.NoError(t, err)
	sb, err := ComputeChecksum(b, 4)
	require.NoError(t, err)
	assert.Equal(t, sa.Hash, sb.Hash)
	assert.Len(t, sa.Hash, 64)
	assert.Equal(t, int64(4), sa.Seq)

	b["unit-1"] = json.RawMessage(`{"attack":3}`)
	sc, err := ComputeChecksum(b, 4)
	require.NoError(t, err)
	assert.NotEqual(t, sa.Hash, sc.Hash)
}

func TestVerifyChecksum(t *testing.T) {
	g := snapshot.Graph{"match": json.RawMessage(`{"turn":1}`)}
	sum, err := ComputeChecksum(g, 0)
	require.NoError(t, err)

	ok, err := VerifyChecksum(g, sum)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyChecksum(snapshot.Graph{}, sum)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyChecksum(g, &SerializationChecksum{Hash: sum.Hash, Version: 99})
	assert.Error(t, err)
}

func TestMatchChecksumMatchesFoldedHistory(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)
	accept(t, m, CmdEndTurn, alice, nil)

	sum, err := m.Checksum()
	require.NoError(t, err)
	assert.Equal(t, m.lastSeq(), sum.Seq)

	var folded snapshot.Graph
	for _, snap := range m.History() {
		folded = folded.Apply(snap)
	}
	ok, err := VerifyChecksum(folded, sum)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdenticalMatchesAgreeOnChecksum(t *testing.T) {
	play := func() *SerializationChecksum {
		m := newTestMatch(t)
		startMain(t, m)
		accept(t, m, CmdUseResourceAction, alice, nil)
		accept(t, m, CmdEndTurn, alice, nil)
		sum, err := m.Checksum()
		require.NoError(t, err)
		return sum
	}
	assert.Equal(t, play().Hash, play().Hash)
}
