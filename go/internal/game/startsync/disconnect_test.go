package startsync

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisconnectShrinksExpectedSet(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewCoordinator(clock, newFakeSender(), &recordingSink{}, nil, testConfig())

	_, err := c.Begin(ctx, "room-1", []string{"alice", "bob", "carol"}, 3, nil)
	require.NoError(t, err)

	c.HandlePlayerLeft(ctx, "room-1", "carol")

	view, ok := c.Get("room-1")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, view.Expected)
	assert.Equal(t, StateActive, view.State)
}

func TestDisconnectOfLastMissingPlayerCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{}
	c := NewCoordinator(clock, newFakeSender(), sink, nil, testConfig())

	result, err := c.Begin(ctx, "room-1", []string{"alice", "bob", "carol"}, 3, nil)
	require.NoError(t, err)

	c.RecordAck(ctx, "room-1", "alice", result.SequenceID)
	c.RecordAck(ctx, "room-1", "bob", result.SequenceID)

	// Everyone still connected has acknowledged: no reason to wait out
	// the timeout.
	c.HandlePlayerLeft(ctx, "room-1", "carol")

	require.Equal(t, 1, sink.count())
	rec, _ := sink.last()
	assert.Equal(t, ReasonDisconnectQuorum, rec.Reason)
	assert.Equal(t, 2, rec.ExpectedCount)
	assert.Equal(t, 2, rec.AckedCount)
	assert.True(t, rec.Completed())
	assert.Equal(t, 0, c.PendingTimers("room-1"))
}

func TestDisconnectEmptyingLobbyCancels(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{}
	c := NewCoordinator(clock, newFakeSender(), sink, nil, testConfig())

	_, err := c.Begin(ctx, "room-1", []string{"alice"}, 3, nil)
	require.NoError(t, err)

	c.HandlePlayerLeft(ctx, "room-1", "alice")

	require.Equal(t, 1, sink.count())
	rec, _ := sink.last()
	assert.Equal(t, ReasonEmptyLobby, rec.Reason)
	assert.False(t, rec.Completed(), "an emptied lobby cancels rather than starts")
	assert.Equal(t, 0, c.ActiveSequences())
}

func TestDisconnectIgnoresUnknownPlayerAndSession(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{}
	c := NewCoordinator(clock, newFakeSender(), sink, nil, testConfig())

	// No active sequence at all.
	c.HandlePlayerLeft(ctx, "room-1", "alice")
	assert.Equal(t, 0, sink.count())

	_, err := c.Begin(ctx, "room-1", []string{"alice", "bob"}, 3, nil)
	require.NoError(t, err)

	// A spectator leaving is not a quorum event.
	c.HandlePlayerLeft(ctx, "room-1", "mallory")

	view, ok := c.Get("room-1")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, view.Expected)
}

func TestDisconnectAfterCompletionIsNoOp(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{}
	c := NewCoordinator(clock, newFakeSender(), sink, nil, testConfig())

	result, err := c.Begin(ctx, "room-1", []string{"alice", "bob"}, 3, nil)
	require.NoError(t, err)

	c.RecordAck(ctx, "room-1", "alice", result.SequenceID)
	c.RecordAck(ctx, "room-1", "bob", result.SequenceID)
	require.Equal(t, 1, sink.count())

	c.HandlePlayerLeft(ctx, "room-1", "alice")
	assert.Equal(t, 1, sink.count())
}
