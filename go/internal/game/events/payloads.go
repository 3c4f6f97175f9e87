package events

import (
	"encoding/json"
	"time"
)

// Event payload types shared between the startsync and gateway packages.

// EventType identifies a sync lifecycle event on the bus.
type EventType string

const (
	EventTypeSyncStarted   EventType = "SyncStarted"
	EventTypeSyncCompleted EventType = "SyncCompleted"
	EventTypeSyncCancelled EventType = "SyncCancelled"
)

// Envelope is the wire format for every event published to the bus.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType EventType       `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// SyncStartedPayload is the payload for a SyncStarted event.
type SyncStartedPayload struct {
	SessionID        string    `json:"session_id"`
	SequenceID       string    `json:"sequence_id"`
	Players          []string  `json:"players"`
	CountdownSeconds int       `json:"countdown_seconds"`
	StartedAt        time.Time `json:"started_at"`
}

// SyncCompletedPayload is the payload for a SyncCompleted event.
type SyncCompletedPayload struct {
	SessionID        string    `json:"session_id"`
	SequenceID       string    `json:"sequence_id"`
	Reason           string    `json:"reason"`
	AckedCount       int       `json:"acked_count"`
	ExpectedCount    int       `json:"expected_count"`
	MissingPlayers   []string  `json:"missing_players,omitempty"`
	WaitMs           int64     `json:"wait_ms"`
	CountdownSeconds int       `json:"countdown_seconds"`
	CompletedAt      time.Time `json:"completed_at"`
}

// SyncCancelledPayload is the payload for a SyncCancelled event.
type SyncCancelledPayload struct {
	SessionID   string    `json:"session_id"`
	SequenceID  string    `json:"sequence_id"`
	AckedCount  int       `json:"acked_count"`
	CancelledAt time.Time `json:"cancelled_at"`
}
