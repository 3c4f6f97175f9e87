package startsync

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutForcesDegradedStart(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{}
	cfg := testConfig()
	c := NewCoordinator(clock, newFakeSender(), sink, nil, cfg)

	result, err := c.Begin(ctx, "room-1", []string{"alice", "bob", "carol"}, 3, nil)
	require.NoError(t, err)

	c.RecordAck(ctx, "room-1", "alice", result.SequenceID)

	clock.Advance(cfg.AckTimeout)
	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, waitFor, tick)

	rec, _ := sink.last()
	assert.Equal(t, ReasonTimeout, rec.Reason)
	assert.Equal(t, 1, rec.AckedCount)
	assert.Equal(t, 3, rec.ExpectedCount)
	assert.Equal(t, []string{"bob", "carol"}, rec.MissingPlayers)
	assert.Equal(t, cfg.AckTimeout, rec.WaitTime)
	assert.True(t, rec.Completed(), "timeout still starts the game")

	assert.Equal(t, 0, c.PendingTimers("room-1"))
	_, active := c.Get("room-1")
	assert.False(t, active)
}

func TestQuorumJustBeforeDeadlineSuppressesTimeout(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{}
	cfg := testConfig()
	c := NewCoordinator(clock, newFakeSender(), sink, nil, cfg)

	result, err := c.Begin(ctx, "room-1", []string{"alice", "bob"}, 3, nil)
	require.NoError(t, err)

	clock.Advance(cfg.AckTimeout - time.Millisecond)

	c.RecordAck(ctx, "room-1", "alice", result.SequenceID)
	ack := c.RecordAck(ctx, "room-1", "bob", result.SequenceID)
	require.Equal(t, AckQuorum, ack.Status)
	assert.Equal(t, cfg.AckTimeout-time.Millisecond, ack.WaitTime)

	// Crossing the deadline must not fire the cancelled guard.
	clock.Advance(10 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	require.Equal(t, 1, sink.count(), "quorum and timeout must not both fire")
	rec, _ := sink.last()
	assert.Equal(t, ReasonQuorum, rec.Reason)
}

func TestTimeoutDoesNotFireForSupersededAttempt(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{}
	cfg := testConfig()
	c := NewCoordinator(clock, newFakeSender(), sink, nil, cfg)

	_, err := c.Begin(ctx, "room-1", []string{"alice"}, 3, nil)
	require.NoError(t, err)

	clock.Advance(cfg.AckTimeout / 2)

	// Supersede half way through; the old guard is stopped, the new one
	// starts its full deadline over.
	_, err = c.Begin(ctx, "room-1", []string{"alice"}, 3, nil)
	require.NoError(t, err)
	require.Equal(t, 1, sink.count()) // superseded outcome

	clock.Advance(cfg.AckTimeout / 2)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, sink.count(), "old guard must not fire after supersede")

	clock.Advance(cfg.AckTimeout / 2)
	require.Eventually(t, func() bool {
		return sink.count() == 2
	}, waitFor, tick)
	rec, _ := sink.last()
	assert.Equal(t, ReasonTimeout, rec.Reason)
}
