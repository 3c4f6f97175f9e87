package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wordrush/wordrush/go/internal/game/events"
	"github.com/wordrush/wordrush/go/internal/game/startsync"
)

// GameEvent is the server→client wire envelope for everything broadcast to
// a room's websockets (sync lifecycle, ack progress).
type GameEvent struct {
	ID        string          `json:"id"`         // Event UUID
	SessionID string          `json:"session_id"` // Game session
	Type      EventType       `json:"type"`       // Event type
	Timestamp time.Time       `json:"timestamp"`  // Event creation time
	Data      json.RawMessage `json:"data"`       // Event-specific payload
}

// EventType is the type tag of a GameEvent.
type EventType string

const (
	EventTypeSyncStarted   EventType = "SyncStarted"
	EventTypeSyncCompleted EventType = "SyncCompleted"
	EventTypeSyncCancelled EventType = "SyncCancelled"
	EventTypeSyncProgress  EventType = "SyncProgress"
)

// ClientMessage is the participant→server wire shape. Today the only
// message clients send is the start acknowledgment.
type ClientMessage struct {
	Type       string `json:"type"`
	SequenceID string `json:"sequenceId"`
}

const clientMessageStartAck = "startAck"

// SyncProgressPayload is broadcast to the room as acks arrive.
type SyncProgressPayload struct {
	SequenceID    string `json:"sequence_id"`
	AckedCount    int    `json:"acked_count"`
	ExpectedCount int    `json:"expected_count"`
}

// outcomeEvent maps a finished sequence's record to the websocket wire
// format: SyncCompleted when the session started, SyncCancelled otherwise.
func outcomeEvent(rec startsync.OutcomeRecord) (*GameEvent, error) {
	var (
		eventType EventType
		payload   []byte
		err       error
	)
	if rec.Completed() {
		eventType = EventTypeSyncCompleted
		payload, err = json.Marshal(events.SyncCompletedPayload{
			SessionID:        rec.SessionID,
			SequenceID:       rec.SequenceID.String(),
			Reason:           string(rec.Reason),
			AckedCount:       rec.AckedCount,
			ExpectedCount:    rec.ExpectedCount,
			MissingPlayers:   rec.MissingPlayers,
			WaitMs:           rec.WaitTime.Milliseconds(),
			CountdownSeconds: rec.CountdownSeconds,
			CompletedAt:      rec.CompletedAt,
		})
	} else {
		eventType = EventTypeSyncCancelled
		payload, err = json.Marshal(events.SyncCancelledPayload{
			SessionID:   rec.SessionID,
			SequenceID:  rec.SequenceID.String(),
			AckedCount:  rec.AckedCount,
			CancelledAt: rec.CompletedAt,
		})
	}
	if err != nil {
		return nil, err
	}

	return &GameEvent{
		ID:        uuid.New().String(),
		SessionID: rec.SessionID,
		Type:      eventType,
		Timestamp: rec.CompletedAt,
		Data:      payload,
	}, nil
}

// ParseEventPayload decodes a GameEvent's data into its payload struct.
func ParseEventPayload(event *GameEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeSyncStarted:
		var payload events.SyncStartedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSyncCompleted:
		var payload events.SyncCompletedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSyncCancelled:
		var payload events.SyncCancelledPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSyncProgress:
		var payload SyncProgressPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
