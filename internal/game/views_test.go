package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duelforge/tactics-server-go/internal/game/rules"
	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

func playerView(t *testing.T, snap *snapshot.Snapshot, playerID string) PlayerView {
	t.Helper()
	var view PlayerView
	require.NoError(t, json.Unmarshal(snap.Entities[PlayerEntityID(playerID)], &view))
	return view
}

func TestViewersSeeOnlyTheirOwnHand(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)
	aliceHand := handOf(m, alice)
	bobHand := handOf(m, bob)

	own, err := m.Current(alice)
	require.NoError(t, err)
	assert.Equal(t, aliceHand, playerView(t, own, alice).Hand)
	assert.Empty(t, playerView(t, own, alice).Deck)
	assert.Empty(t, playerView(t, own, bob).Hand)
	assert.Equal(t, len(bobHand), playerView(t, own, bob).HandCount)
	for _, id := range aliceHand {
		assert.Contains(t, own.Entities, id)
	}
	for _, id := range bobHand {
		assert.NotContains(t, own.Entities, id)
	}

	spectator, err := m.Current(snapshot.Spectator)
	require.NoError(t, err)
	assert.Empty(t, playerView(t, spectator, alice).Hand)
	assert.Empty(t, playerView(t, spectator, bob).Hand)
	for _, id := range append(aliceHand, bobHand...) {
		assert.NotContains(t, spectator.Entities, id)
	}

	omni, err := m.Current(snapshot.Omniscient)
	require.NoError(t, err)
	assert.Equal(t, bobHand, playerView(t, omni, bob).Hand)
	assert.NotEmpty(t, playerView(t, omni, bob).Deck)

	_, err = m.Current("mallory")
	assert.Error(t, err)
}

func TestDiscardedCardsArePublic(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)
	card := handOf(m, bob)[0]
	arrange(t, m, func(s *State) {
		require.NoError(t, s.DiscardCard(bob, card, ""))
	})

	for _, viewer := range []string{alice, snapshot.Spectator} {
		cur, err := m.Current(viewer)
		require.NoError(t, err)
		assert.Contains(t, cur.Entities, card, viewer)
		assert.Equal(t, []string{card}, playerView(t, cur, bob).Discard)
	}
}

func TestEventsHideOpponentCardIDs(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)
	before := m.lastSeq()

	accept(t, m, CmdEndTurn, alice, nil)

	drawn := func(viewer string) rules.Event {
		snaps, err := m.Sync(viewer, before)
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		for _, e := range snaps[0].Events {
			if e.Type == rules.EventCardDrawn {
				return e
			}
		}
		t.Fatalf("no draw event for %s", viewer)
		return rules.Event{}
	}
	bobHand := handOf(m, bob)
	newest := bobHand[len(bobHand)-1]

	assert.Equal(t, newest, drawn(bob).TargetID)
	assert.Equal(t, newest, drawn(snapshot.Omniscient).TargetID)
	assert.Empty(t, drawn(alice).TargetID)
	assert.Empty(t, drawn(snapshot.Spectator).TargetID)
	assert.Equal(t, bob, drawn(alice).PlayerID)
}

func TestViewerStreamsShareSequenceIDs(t *testing.T) {
	m := newTestMatch(t)
	startMain(t, m)
	accept(t, m, CmdEndTurn, alice, nil)

	want := m.lastSeq()
	for _, viewer := range []string{alice, bob, snapshot.Spectator} {
		cur, err := m.Current(viewer)
		require.NoError(t, err)
		assert.Equal(t, want, cur.Seq, viewer)
		assert.Equal(t, snapshot.KindState, cur.Kind)
	}
}
