package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	// StreamName is the JetStream stream that carries all game events.
	StreamName = "GAME_EVENTS"
	// SubjectPrefix is the subject root for sync lifecycle events.
	SubjectPrefix = "game.sync"

	publishTimeout = 5 * time.Second
)

// Event is a sync lifecycle event handed to a Publisher. The payload is
// pre-marshaled by the emitter so publishers stay format-agnostic.
type Event struct {
	ID        uuid.UUID
	Type      EventType
	SessionID string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Publisher pushes sync lifecycle events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Connect dials NATS and returns a JetStream context, wiring reconnect and
// error handlers into the log.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return nc, js, nil
}

// JetStreamPublisher publishes events to the GAME_EVENTS stream.
type JetStreamPublisher struct {
	js      jetstream.JetStream
	subject string
}

// NewJetStreamPublisher ensures the stream exists and returns a publisher
// bound to it.
func NewJetStreamPublisher(ctx context.Context, js jetstream.JetStream) (*JetStreamPublisher, error) {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "wordrush game lifecycle events",
		Subjects:    []string{SubjectPrefix + ".>"},
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &JetStreamPublisher{
		js:      js,
		subject: SubjectPrefix,
	}, nil
}

// Publish marshals the event envelope and publishes it to
// game.sync.<EventType>.
func (p *JetStreamPublisher) Publish(ctx context.Context, event Event) error {
	subject := fmt.Sprintf("%s.%s", p.subject, event.Type)

	envelope := Envelope{
		EventID:   event.ID.String(),
		EventType: event.Type,
		SessionID: event.SessionID,
		Timestamp: event.CreatedAt,
		Payload:   event.Payload,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if _, err := p.js.Publish(pubCtx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("session_id", event.SessionID).
		Str("subject", subject).
		Msg("event published")

	return nil
}

// LoggingPublisher writes events to the log instead of a bus. Used in dev
// mode when no NATS server is running.
type LoggingPublisher struct{}

func NewLoggingPublisher() *LoggingPublisher {
	return &LoggingPublisher{}
}

func (p *LoggingPublisher) Publish(ctx context.Context, event Event) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("session_id", event.SessionID).
		RawJSON("payload", event.Payload).
		Msg("publishing event")
	return nil
}
