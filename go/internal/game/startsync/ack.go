package startsync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AckStatus classifies what an acknowledgment did to the sequence.
type AckStatus string

const (
	// AckRejected means the ack was invalid and discarded.
	AckRejected AckStatus = "rejected"
	// AckDuplicate means the player had already acknowledged. Idempotent
	// no-op, not an error.
	AckDuplicate AckStatus = "duplicate"
	// AckLate means the ack matched a sequence that already finished.
	// Informational only; no state changed.
	AckLate AckStatus = "late"
	// AckProgress means the ack was recorded but quorum is not yet reached.
	AckProgress AckStatus = "progress"
	// AckQuorum means this ack completed the sequence.
	AckQuorum AckStatus = "quorum"
)

// RejectReason explains an AckRejected result.
type RejectReason string

const (
	RejectNoActiveSequence RejectReason = "no-active-sequence"
	RejectSequenceEnded    RejectReason = "sequence-ended"
	RejectStaleSequenceID  RejectReason = "stale-sequence-id"
	RejectNotExpected      RejectReason = "not-expected"
)

// AckResult is the typed outcome of RecordAck, returned synchronously so
// the ack path needs no completion callback.
type AckResult struct {
	Status        AckStatus     `json:"status"`
	Reason        RejectReason  `json:"reason,omitempty"`
	AckedCount    int           `json:"acked_count,omitempty"`
	ExpectedCount int           `json:"expected_count,omitempty"`
	WaitTime      time.Duration `json:"wait_time,omitempty"`
}

// RecordAck validates and records a player's acknowledgment of the start
// signal. Late, duplicate and stale acks are observed and discarded, never
// applied. When the ack closes the quorum the sequence completes exactly
// once, inside this call.
func (c *Coordinator) RecordAck(ctx context.Context, sessionID, playerID string, sequenceID uuid.UUID) AckResult {
	c.mu.Lock()

	seq, ok := c.sequences[sessionID]
	if !ok {
		lastID, ended := c.lastEnded[sessionID]
		c.mu.Unlock()
		if ended && lastID == sequenceID {
			log.Debug().
				Str("session_id", sessionID).
				Str("player_id", playerID).
				Str("sequence_id", sequenceID.String()).
				Msg("ack arrived after sequence finished")
			return AckResult{Status: AckLate}
		}
		log.Debug().
			Str("session_id", sessionID).
			Str("player_id", playerID).
			Msg("ack rejected: no active sequence")
		return AckResult{Status: AckRejected, Reason: RejectNoActiveSequence}
	}

	if seq.state != StateActive {
		c.mu.Unlock()
		log.Debug().
			Str("session_id", sessionID).
			Str("player_id", playerID).
			Msg("ack rejected: sequence ended")
		return AckResult{Status: AckRejected, Reason: RejectSequenceEnded}
	}

	if seq.id != sequenceID {
		c.mu.Unlock()
		log.Debug().
			Str("session_id", sessionID).
			Str("player_id", playerID).
			Str("got_sequence_id", sequenceID.String()).
			Str("want_sequence_id", seq.id.String()).
			Msg("ack rejected: stale sequence id")
		return AckResult{Status: AckRejected, Reason: RejectStaleSequenceID}
	}

	if _, expected := seq.expected[playerID]; !expected {
		c.mu.Unlock()
		log.Debug().
			Str("session_id", sessionID).
			Str("player_id", playerID).
			Msg("ack rejected: player not expected")
		return AckResult{Status: AckRejected, Reason: RejectNotExpected}
	}

	if _, already := seq.acked[playerID]; already {
		result := AckResult{
			Status:        AckDuplicate,
			AckedCount:    len(seq.acked),
			ExpectedCount: len(seq.expected),
		}
		c.mu.Unlock()
		return result
	}

	seq.acked[playerID] = struct{}{}
	delete(seq.unresponsive, playerID)
	c.cancelPlayerRetryLocked(seq, playerID)

	if seq.quorumReached() {
		rec := c.completeLocked(seq, ReasonQuorum)
		c.mu.Unlock()

		log.Info().
			Str("session_id", sessionID).
			Str("sequence_id", sequenceID.String()).
			Int("players", rec.ExpectedCount).
			Dur("wait_time", rec.WaitTime).
			Msg("all players acknowledged, quorum reached")

		c.emitFinished(ctx, rec)

		return AckResult{
			Status:        AckQuorum,
			AckedCount:    rec.AckedCount,
			ExpectedCount: rec.ExpectedCount,
			WaitTime:      rec.WaitTime,
		}
	}

	result := AckResult{
		Status:        AckProgress,
		AckedCount:    len(seq.acked),
		ExpectedCount: len(seq.expected),
	}
	c.mu.Unlock()

	log.Debug().
		Str("session_id", sessionID).
		Str("player_id", playerID).
		Int("acked", result.AckedCount).
		Int("expected", result.ExpectedCount).
		Msg("ack recorded")

	return result
}
