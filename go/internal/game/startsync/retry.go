package startsync

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Retry scheduling for players whose start signal failed to deliver.
//
// Each unresponsive player carries at most one in-flight timer; its handle
// lives in the sequence's pendingTimers map so a sequence-level cancellation
// reliably stops every retry. This is the principal leak-prevention
// invariant of the subsystem: no timer survives its sequence.

// ReportDeliveryFailure marks a player as unresponsive and starts the
// backoff schedule for them. Transports that broadcast on their own call
// this for every player whose send failed; Begin calls it internally for
// the initial dispatch.
func (c *Coordinator) ReportDeliveryFailure(sessionID string, sequenceID uuid.UUID, playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq, ok := c.sequences[sessionID]
	if !ok || seq.id != sequenceID || seq.state != StateActive {
		return
	}
	if _, expected := seq.expected[playerID]; !expected {
		return
	}
	if _, acked := seq.acked[playerID]; acked {
		return
	}
	c.markUnresponsiveLocked(seq, playerID)
}

// markUnresponsiveLocked flags a player and schedules their first resend.
// Caller holds the lock.
func (c *Coordinator) markUnresponsiveLocked(seq *sequence, playerID string) {
	if _, pending := seq.retryTimers[playerID]; pending {
		return
	}
	seq.unresponsive[playerID] = struct{}{}
	c.scheduleRetryLocked(seq, playerID, 1)
}

// scheduleRetryLocked arms the timer for the given resend attempt
// (1-based into cfg.RetryDelays). Caller holds the lock.
func (c *Coordinator) scheduleRetryLocked(seq *sequence, playerID string, attempt int) {
	if attempt > len(c.cfg.RetryDelays) {
		return
	}
	delay := c.cfg.RetryDelays[attempt-1]

	timerID := uuid.New()
	sessionID := seq.sessionID
	seqID := seq.id
	timer := c.clock.AfterFunc(delay, func() {
		c.retryFired(sessionID, seqID, playerID, timerID, attempt)
	})
	seq.pendingTimers[timerID] = timer
	seq.retryTimers[playerID] = timerID

	log.Debug().
		Str("session_id", sessionID).
		Str("player_id", playerID).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("resend attempt scheduled")
}

// retryFired runs one resend attempt. Before sending it re-checks the
// sequence is still the active attempt, the player is still expected and
// has not acknowledged; any failed check drops the attempt and the rest of
// the player's schedule.
func (c *Coordinator) retryFired(sessionID string, seqID uuid.UUID, playerID string, timerID uuid.UUID, attempt int) {
	c.mu.Lock()
	seq, frame, ok := c.claimRetryLocked(sessionID, seqID, playerID, timerID)
	if !ok {
		c.mu.Unlock()
		return
	}
	seq.retryAttempts[playerID] = attempt
	c.mu.Unlock()

	delivered := c.sender.Send(sessionID, playerID, frame)

	if delivered {
		// Delivered, but only an ack pauses the player's unresponsive
		// status for good; the timeout guard still covers silence.
		log.Debug().
			Str("session_id", sessionID).
			Str("player_id", playerID).
			Int("attempt", attempt).
			Msg("resend delivered, awaiting ack")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seq, ok = c.validRetryTargetLocked(sessionID, seqID, playerID)
	if !ok {
		return
	}
	if attempt >= len(c.cfg.RetryDelays) {
		log.Warn().
			Str("session_id", sessionID).
			Str("player_id", playerID).
			Int("attempts", attempt).
			Msg("resend attempts exhausted, leaving player to the timeout guard")
		return
	}
	c.scheduleRetryLocked(seq, playerID, attempt+1)
}

// claimRetryLocked validates a fired retry timer and unregisters its
// handle. Returns the sequence and the frame to resend, or ok=false when
// the attempt must be silently skipped. Caller holds the lock.
func (c *Coordinator) claimRetryLocked(sessionID string, seqID uuid.UUID, playerID string, timerID uuid.UUID) (*sequence, []byte, bool) {
	seq, ok := c.sequences[sessionID]
	if !ok || seq.id != seqID {
		return nil, nil, false
	}
	delete(seq.pendingTimers, timerID)
	if seq.retryTimers[playerID] == timerID {
		delete(seq.retryTimers, playerID)
	}
	if seq.state != StateActive {
		return nil, nil, false
	}
	if _, expected := seq.expected[playerID]; !expected {
		return nil, nil, false
	}
	if _, acked := seq.acked[playerID]; acked {
		return nil, nil, false
	}
	return seq, seq.startFrame, true
}

// validRetryTargetLocked re-checks the preconditions after a send attempt
// released the lock. Caller holds the lock.
func (c *Coordinator) validRetryTargetLocked(sessionID string, seqID uuid.UUID, playerID string) (*sequence, bool) {
	seq, ok := c.sequences[sessionID]
	if !ok || seq.id != seqID || seq.state != StateActive {
		return nil, false
	}
	if _, expected := seq.expected[playerID]; !expected {
		return nil, false
	}
	if _, acked := seq.acked[playerID]; acked {
		return nil, false
	}
	return seq, true
}

// cancelPlayerRetryLocked stops the player's in-flight retry timer, if any.
// Caller holds the lock.
func (c *Coordinator) cancelPlayerRetryLocked(seq *sequence, playerID string) {
	timerID, ok := seq.retryTimers[playerID]
	if !ok {
		return
	}
	if timer, exists := seq.pendingTimers[timerID]; exists {
		timer.Stop()
		delete(seq.pendingTimers, timerID)
	}
	delete(seq.retryTimers, playerID)
}
