package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordrush/wordrush/go/internal/game/events"
)

func TestConvertToGameEvent(t *testing.T) {
	now := time.Now().UTC()
	payload, err := json.Marshal(events.SyncCompletedPayload{
		SessionID:     "room-1",
		SequenceID:    "seq-1",
		Reason:        "quorum",
		AckedCount:    4,
		ExpectedCount: 4,
		WaitMs:        1200,
		CompletedAt:   now,
	})
	require.NoError(t, err)

	envelope := events.Envelope{
		EventID:   "evt-1",
		EventType: events.EventTypeSyncCompleted,
		SessionID: "room-1",
		Timestamp: now,
		Payload:   payload,
	}

	wsEvent, err := convertToGameEvent(envelope)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", wsEvent.ID)
	assert.Equal(t, "room-1", wsEvent.SessionID)
	assert.Equal(t, EventTypeSyncCompleted, wsEvent.Type)
	assert.Equal(t, now, wsEvent.Timestamp)

	parsed, err := ParseEventPayload(wsEvent)
	require.NoError(t, err)
	completed, ok := parsed.(events.SyncCompletedPayload)
	require.True(t, ok)
	assert.Equal(t, "quorum", completed.Reason)
	assert.Equal(t, 4, completed.AckedCount)
	assert.Equal(t, int64(1200), completed.WaitMs)
}

func TestConvertToGameEventMapsAllLifecycleTypes(t *testing.T) {
	cases := map[events.EventType]EventType{
		events.EventTypeSyncStarted:   EventTypeSyncStarted,
		events.EventTypeSyncCompleted: EventTypeSyncCompleted,
		events.EventTypeSyncCancelled: EventTypeSyncCancelled,
	}
	for busType, wsType := range cases {
		wsEvent, err := convertToGameEvent(events.Envelope{
			EventID:   "evt",
			EventType: busType,
			SessionID: "room-1",
			Payload:   json.RawMessage(`{}`),
		})
		require.NoError(t, err)
		assert.Equal(t, wsType, wsEvent.Type)
	}
}

func TestConvertToGameEventRejectsUnknownType(t *testing.T) {
	_, err := convertToGameEvent(events.Envelope{
		EventID:   "evt",
		EventType: "WordScored",
		SessionID: "room-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}

func TestParseEventPayloadStarted(t *testing.T) {
	payload, err := json.Marshal(events.SyncStartedPayload{
		SessionID:        "room-1",
		SequenceID:       "seq-1",
		Players:          []string{"alice", "bob"},
		CountdownSeconds: 3,
	})
	require.NoError(t, err)

	parsed, err := ParseEventPayload(&GameEvent{Type: EventTypeSyncStarted, Data: payload})
	require.NoError(t, err)
	started, ok := parsed.(events.SyncStartedPayload)
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, started.Players)
	assert.Equal(t, 3, started.CountdownSeconds)
}

func TestParseEventPayloadUnknownType(t *testing.T) {
	parsed, err := ParseEventPayload(&GameEvent{Type: "mystery", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Nil(t, parsed)
}
