package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duelforge/tactics-server-go/internal/game/rules"
)

func entity(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestDiffReportsChangedAddedRemoved(t *testing.T) {
	prev := Graph{
		"a": entity(t, map[string]int{"hp": 3}),
		"b": entity(t, map[string]int{"hp": 2}),
		"c": entity(t, map[string]int{"hp": 1}),
	}
	next := Graph{
		"a": entity(t, map[string]int{"hp": 3}),
		"b": entity(t, map[string]int{"hp": 1}),
		"d": entity(t, map[string]int{"hp": 5}),
	}

	changed, added, removed := Diff(prev, next)
	assert.Equal(t, []string{"b", "d"}, changed.IDs())
	assert.Equal(t, []string{"d"}, added)
	assert.Equal(t, []string{"c"}, removed)

	applied := prev.Clone().Apply(&Snapshot{Kind: KindDiff, Entities: changed, Added: added, Removed: removed})
	assert.True(t, applied.Equal(next))
}

func TestApplyStateReplacesGraph(t *testing.T) {
	g := Graph{"old": entity(t, 1)}
	state := &Snapshot{Kind: KindState, Entities: Graph{"new": entity(t, 2)}}
	got := g.Apply(state)
	assert.Equal(t, []string{"new"}, got.IDs())
}

func TestStreamFirstEmissionIsDiffFromEmpty(t *testing.T) {
	s := NewStream("alice", 4)
	assert.Equal(t, int64(-1), s.LastSeq())

	snap := s.Publish(Graph{"x": entity(t, 1)}, nil)
	assert.Equal(t, int64(0), snap.Seq)
	assert.Equal(t, KindDiff, snap.Kind)
	assert.Equal(t, []string{"x"}, snap.Added)

	var replayed Graph
	replayed = replayed.Apply(snap)
	assert.True(t, replayed.Equal(s.State().Entities))
}

func TestStreamSequenceIsGapless(t *testing.T) {
	s := NewStream(Omniscient, 16)
	for i := 0; i < 5; i++ {
		snap := s.Publish(Graph{"n": entity(t, i)}, []rules.Event{{Seq: int64(i), Type: rules.EventTurnStarted}})
		assert.Equal(t, int64(i), snap.Seq)
	}

	got := s.Since(1)
	require.Len(t, got, 3)
	for i, snap := range got {
		assert.Equal(t, int64(i+2), snap.Seq)
		assert.Equal(t, KindDiff, snap.Kind)
	}
	assert.Nil(t, s.Since(4))
}

func TestStreamSinceFallsBackToStateOutsideRetention(t *testing.T) {
	s := NewStream("bob", 2)
	for i := 0; i < 6; i++ {
		s.Publish(Graph{"n": entity(t, i), "fixed": entity(t, "x")}, nil)
	}

	got := s.Since(1)
	require.Len(t, got, 1)
	assert.Equal(t, KindState, got[0].Kind)
	assert.Equal(t, int64(5), got[0].Seq)
	assert.Equal(t, []string{"fixed", "n"}, got[0].Entities.IDs())

	got = s.Since(3)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].Seq)

	got = s.Since(-1)
	require.Len(t, got, 1)
	assert.Equal(t, KindState, got[0].Kind)
}

func TestReplayingDiffsMatchesState(t *testing.T) {
	s := NewStream(Omniscient, 64)
	var client Graph
	graphs := []Graph{
		{"a": entity(t, 1)},
		{"a": entity(t, 2), "b": entity(t, 1)},
		{"b": entity(t, 1)},
		{"b": entity(t, 3), "c": entity(t, 0)},
	}
	for _, g := range graphs {
		client = client.Apply(s.Publish(g, nil))
		assert.True(t, client.Equal(g))
	}
	assert.True(t, client.Equal(s.State().Entities))
}

func TestSubscribersReceiveAfterAllStreamsPublish(t *testing.T) {
	p := NewPublisher(8, Omniscient, "alice", "bob")
	aliceStream, err := p.Stream("alice")
	require.NoError(t, err)
	bobStream, err := p.Stream("bob")
	require.NoError(t, err)

	var bobSeqAtAlice int64 = -2
	aliceStream.Subscribe(func(s *Snapshot) {
		bobSeqAtAlice = bobStream.LastSeq()
	})
	var received []int64
	_, cancel := bobStream.Subscribe(func(s *Snapshot) { received = append(received, s.Seq) })

	build := func(viewer string) (View, error) {
		return View{Graph: Graph{"owner": entity(t, viewer)}}, nil
	}
	out, err := p.Publish(build)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, int64(0), bobSeqAtAlice)

	cancel()
	_, err = p.Publish(build)
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, received)
	assert.Equal(t, 1, aliceStream.SubscriberCount())
	assert.Equal(t, 0, bobStream.SubscriberCount())

	_, err = p.Stream("carol")
	assert.Error(t, err)
}
