package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	payload, err := json.Marshal(SyncStartedPayload{
		SessionID:        "room-1",
		SequenceID:       "seq-1",
		Players:          []string{"alice", "bob"},
		CountdownSeconds: 3,
		StartedAt:        now,
	})
	require.NoError(t, err)

	envelope := Envelope{
		EventID:   uuid.New().String(),
		EventType: EventTypeSyncStarted,
		SessionID: "room-1",
		Timestamp: now,
		Payload:   payload,
	}

	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, envelope.EventID, decoded.EventID)
	assert.Equal(t, EventTypeSyncStarted, decoded.EventType)
	assert.Equal(t, "room-1", decoded.SessionID)
	assert.True(t, envelope.Timestamp.Equal(decoded.Timestamp))

	var started SyncStartedPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &started))
	assert.Equal(t, []string{"alice", "bob"}, started.Players)
}

func TestLoggingPublisher(t *testing.T) {
	p := NewLoggingPublisher()
	err := p.Publish(context.Background(), Event{
		ID:        uuid.New(),
		Type:      EventTypeSyncCompleted,
		SessionID: "room-1",
		Payload:   json.RawMessage(`{"reason":"quorum"}`),
		CreatedAt: time.Now(),
	})
	assert.NoError(t, err)
}
