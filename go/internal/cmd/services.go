package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/wordrush/wordrush/go/internal/game/events"
	"github.com/wordrush/wordrush/go/internal/game/gateway"
	"github.com/wordrush/wordrush/go/internal/game/monitor"
	"github.com/wordrush/wordrush/go/internal/game/startsync"
)

// Services holds every long-lived component of the game server.
type Services struct {
	ConnectionManager *gateway.ConnectionManager
	Coordinator       *startsync.Coordinator
	Monitor           *monitor.Monitor
	WSHandler         *gateway.WebSocketHandler
	StartHandler      *gateway.StartHandler
	EventConsumer     *gateway.EventConsumer

	natsConn *nats.Conn
}

// setupServices wires the dependency chain. The connection manager is both
// the coordinator's transport (Send) and its roster provider; the ack sink
// is wired back after the coordinator exists.
func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	clock := clockwork.NewRealClock()

	connectionManager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), nil)

	var (
		publisher events.Publisher
		natsConn  *nats.Conn
	)
	if cfg.NATS.Enabled {
		nc, js, err := events.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("connect event bus: %w", err)
		}
		jsPublisher, err := events.NewJetStreamPublisher(ctx, js)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create publisher: %w", err)
		}
		publisher = jsPublisher
		natsConn = nc
		log.Info().Str("nats_url", cfg.NATS.URL).Msg("publishing sync events to JetStream")
	} else {
		publisher = events.NewLoggingPublisher()
		log.Info().Msg("NATS disabled, logging sync events")
	}

	syncMonitor := monitor.New(clock, cfg.monitorConfig())

	coordinator := startsync.NewCoordinator(clock, connectionManager, syncMonitor, publisher, cfg.syncConfig())
	connectionManager.SetAckSink(coordinator)

	if !cfg.NATS.Enabled {
		// Without the bus there is no JetStream consumer to re-broadcast
		// lifecycle events, so timeout/disconnect/cancel completions must
		// reach the room sockets directly.
		coordinator.OnFinished = connectionManager.BroadcastOutcome
	}

	services := &Services{
		ConnectionManager: connectionManager,
		Coordinator:       coordinator,
		Monitor:           syncMonitor,
		WSHandler:         gateway.NewWebSocketHandler(connectionManager),
		StartHandler:      gateway.NewStartHandler(coordinator, connectionManager, cfg.defaultCountdown()),
		natsConn:          natsConn,
	}

	if cfg.NATS.Enabled {
		consumerCfg := gateway.DefaultJetStreamConsumerConfig()
		consumerCfg.URL = cfg.NATS.URL
		consumer, err := gateway.NewEventConsumer(connectionManager, consumerCfg)
		if err != nil {
			natsConn.Close()
			return nil, fmt.Errorf("create event consumer: %w", err)
		}
		services.EventConsumer = consumer
	}

	return services, nil
}

// Close releases the services' external connections.
func (s *Services) Close() {
	if s.EventConsumer != nil {
		if err := s.EventConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event consumer")
		}
	}
	if s.natsConn != nil {
		s.natsConn.Close()
	}
}
