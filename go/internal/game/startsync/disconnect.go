package startsync

import (
	"context"

	"github.com/rs/zerolog/log"
)

// HandlePlayerLeft removes a departing player from the session's active
// sequence and re-evaluates quorum. A disconnect can short-circuit the
// countdown: if everyone still connected has already acknowledged, the
// session starts immediately rather than waiting out the timeout. If the
// departure empties the lobby the sequence is cancelled, not completed -
// there is no one left to play for.
//
// No-op when the session has no active sequence.
func (c *Coordinator) HandlePlayerLeft(ctx context.Context, sessionID, playerID string) {
	c.mu.Lock()

	seq, ok := c.sequences[sessionID]
	if !ok || seq.state != StateActive {
		c.mu.Unlock()
		return
	}
	if _, expected := seq.expected[playerID]; !expected {
		c.mu.Unlock()
		return
	}

	delete(seq.expected, playerID)
	delete(seq.acked, playerID)
	delete(seq.unresponsive, playerID)
	delete(seq.retryAttempts, playerID)
	c.cancelPlayerRetryLocked(seq, playerID)

	log.Info().
		Str("session_id", sessionID).
		Str("player_id", playerID).
		Int("remaining", len(seq.expected)).
		Msg("player left during start sequence")

	if len(seq.expected) == 0 {
		rec := c.completeLocked(seq, ReasonEmptyLobby)
		c.mu.Unlock()

		log.Info().
			Str("session_id", sessionID).
			Msg("lobby emptied during start sequence, cancelling")

		c.emitFinished(ctx, rec)
		return
	}

	if seq.quorumReached() {
		rec := c.completeLocked(seq, ReasonDisconnectQuorum)
		c.mu.Unlock()

		log.Info().
			Str("session_id", sessionID).
			Int("players", rec.ExpectedCount).
			Dur("wait_time", rec.WaitTime).
			Msg("remaining players all acknowledged, starting after disconnect")

		c.emitFinished(ctx, rec)
		return
	}

	c.mu.Unlock()
}
