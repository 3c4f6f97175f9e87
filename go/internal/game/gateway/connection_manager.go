package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wordrush/wordrush/go/internal/game/startsync"
)

// AckSink routes client start acknowledgments and departures into the
// synchronization coordinator. *startsync.Coordinator satisfies it.
type AckSink interface {
	RecordAck(ctx context.Context, sessionID, playerID string, sequenceID uuid.UUID) startsync.AckResult
	HandlePlayerLeft(ctx context.Context, sessionID, playerID string)
}

// ConnectionManager manages the websocket connections of every game room.
// It is the transport behind the start sequence: the coordinator's Sender
// and roster provider, and the intake for startAck replies.
type ConnectionManager struct {
	// Connection pools organized by session ID, with a per-player index
	// for targeted delivery.
	rooms   map[string]map[*Connection]bool
	players map[string]map[string]*Connection
	mu      sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	ackSink AckSink

	broadcastCh chan BroadcastMessage
}

// Connection represents one player's websocket in a room.
type Connection struct {
	ID        string
	PlayerID  string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents an event to fan out to a room.
type BroadcastMessage struct {
	SessionID string
	Event     *GameEvent
	PlayerID  string // Optional: if set, only send to this player
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024, // acks and pings only
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a websocket connection manager. ackSink may
// be set later via SetAckSink when wiring has a construction cycle.
func NewConnectionManager(config ConnectionConfig, ackSink AckSink) *ConnectionManager {
	return &ConnectionManager{
		rooms:   make(map[string]map[*Connection]bool),
		players: make(map[string]map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		ackSink:     ackSink,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// SetAckSink wires the coordinator after construction.
func (cm *ConnectionManager) SetAckSink(sink AckSink) {
	cm.ackSink = sink
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a room websocket.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, playerID, sessionID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		SessionID:   sessionID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("player_id", playerID).
		Str("session_id", sessionID).
		Msg("websocket connection established")

	return nil
}

// registerConnection adds a connection to its room, replacing any previous
// socket the same player held there.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()

	var replaced *Connection
	if cm.rooms[conn.SessionID] == nil {
		cm.rooms[conn.SessionID] = make(map[*Connection]bool)
		cm.players[conn.SessionID] = make(map[string]*Connection)
	}
	if prev, ok := cm.players[conn.SessionID][conn.PlayerID]; ok {
		replaced = prev
		delete(cm.rooms[conn.SessionID], prev)
		close(prev.Send)
	}
	cm.rooms[conn.SessionID][conn] = true
	cm.players[conn.SessionID][conn.PlayerID] = conn

	total := len(cm.rooms[conn.SessionID])
	cm.mu.Unlock()

	if replaced != nil {
		replaced.Conn.Close()
		log.Debug().
			Str("player_id", conn.PlayerID).
			Str("session_id", conn.SessionID).
			Msg("replaced existing connection for player")
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Int("total_connections", total).
		Msg("connection registered")
}

// unregisterConnection removes a connection and reports the departure to
// the coordinator so an in-flight start sequence can shrink its quorum.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()

	removed := false
	if connections, exists := cm.rooms[conn.SessionID]; exists {
		if _, exists := connections[conn]; exists {
			removed = true
			delete(connections, conn)
			close(conn.Send)

			// The player index may already point at a replacement socket.
			if cm.players[conn.SessionID][conn.PlayerID] == conn {
				delete(cm.players[conn.SessionID], conn.PlayerID)
			}

			// Clean up empty room pools
			if len(connections) == 0 {
				delete(cm.rooms, conn.SessionID)
				delete(cm.players, conn.SessionID)
			}
		}
	}
	cm.mu.Unlock()

	if !removed {
		return
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("player_id", conn.PlayerID).
		Str("session_id", conn.SessionID).
		Msg("connection unregistered")

	if cm.ackSink != nil {
		cm.ackSink.HandlePlayerLeft(context.Background(), conn.SessionID, conn.PlayerID)
	}
}

// Send delivers a payload to one player's socket, reporting immediate
// success. False means the player has no connection or their send buffer
// is full; the caller's retry schedule takes it from there. Implements
// startsync.Sender.
func (cm *ConnectionManager) Send(sessionID, playerID string, payload []byte) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conn, ok := cm.players[sessionID][playerID]
	if !ok {
		return false
	}

	// The send stays under the read lock: register/unregister close the
	// Send channel under the write lock, so the channel cannot close
	// mid-send here.
	select {
	case conn.Send <- payload:
		return true
	default:
		log.Warn().
			Str("player_id", playerID).
			Str("session_id", sessionID).
			Msg("player send buffer full, delivery failed")
		return false
	}
}

// ConnectedPlayers returns the ids of every player currently connected to
// the room, sorted. This is the roster snapshot that seeds a start
// sequence's expected set.
func (cm *ConnectionManager) ConnectedPlayers(sessionID string) []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	players := make([]string, 0, len(cm.players[sessionID]))
	for playerID := range cm.players[sessionID] {
		players = append(players, playerID)
	}
	sort.Strings(players)
	return players
}

// BroadcastOutcome fans a finished sequence out to the room's sockets.
// This is the local delivery path for completions no ack triggered
// (timeout, disconnect-quorum, cancellation); wiring hangs it on the
// coordinator's OnFinished hook when no event bus covers the fan-out.
func (cm *ConnectionManager) BroadcastOutcome(rec startsync.OutcomeRecord) {
	event, err := outcomeEvent(rec)
	if err != nil {
		log.Error().
			Err(err).
			Str("session_id", rec.SessionID).
			Msg("failed to build sync outcome event")
		return
	}
	cm.BroadcastToRoom(rec.SessionID, event)
}

// BroadcastToRoom sends an event to every connection in a room.
func (cm *ConnectionManager) BroadcastToRoom(sessionID string, event *GameEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{SessionID: sessionID, Event: event}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToPlayer sends an event to one player in a room.
func (cm *ConnectionManager) BroadcastToPlayer(sessionID, playerID string, event *GameEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{SessionID: sessionID, Event: event, PlayerID: playerID}:
	default:
		log.Warn().
			Str("session_id", sessionID).
			Str("player_id", playerID).
			Msg("broadcast channel full, dropping player message")
	}
}

// handleBroadcast processes a broadcast message.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.rooms[message.SessionID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot connections to avoid holding the lock during delivery
	var targets []*Connection
	for conn := range connections {
		if message.PlayerID != "" && conn.PlayerID != message.PlayerID {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- eventData:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("player_id", conn.PlayerID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("session_id", message.SessionID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// GetConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) GetConnectionStats() (total int, rooms int, perRoom map[string]int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	perRoom = make(map[string]int)
	for sessionID, connections := range cm.rooms {
		count := len(connections)
		total += count
		perRoom[sessionID] = count
	}
	return total, len(cm.rooms), perRoom
}

// writePump handles sending messages to the websocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the websocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes messages received from the client. Malformed
// input is logged at debug level and dropped, never surfaced as an error.
func (c *Connection) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().
			Str("connection_id", c.ID).
			Str("player_id", c.PlayerID).
			Err(err).
			Msg("dropping malformed client message")
		return
	}

	switch msg.Type {
	case clientMessageStartAck:
		c.handleStartAck(msg)
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("player_id", c.PlayerID).
			Str("type", msg.Type).
			Msg("ignoring unknown client message type")
	}
}

// handleStartAck routes a start acknowledgment into the coordinator and
// fans the resulting progress out to the room.
func (c *Connection) handleStartAck(msg ClientMessage) {
	if c.Manager.ackSink == nil {
		return
	}

	sequenceID, err := uuid.Parse(msg.SequenceID)
	if err != nil {
		log.Debug().
			Str("connection_id", c.ID).
			Str("player_id", c.PlayerID).
			Str("sequence_id", msg.SequenceID).
			Msg("dropping startAck with malformed sequence id")
		return
	}

	result := c.Manager.ackSink.RecordAck(context.Background(), c.SessionID, c.PlayerID, sequenceID)

	switch result.Status {
	case startsync.AckProgress, startsync.AckQuorum:
		payload, err := json.Marshal(SyncProgressPayload{
			SequenceID:    msg.SequenceID,
			AckedCount:    result.AckedCount,
			ExpectedCount: result.ExpectedCount,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal sync progress payload")
			return
		}
		c.Manager.BroadcastToRoom(c.SessionID, &GameEvent{
			ID:        uuid.New().String(),
			SessionID: c.SessionID,
			Type:      EventTypeSyncProgress,
			Timestamp: time.Now(),
			Data:      payload,
		})
	default:
		// Duplicate, late and rejected acks are observed and discarded.
		log.Debug().
			Str("player_id", c.PlayerID).
			Str("session_id", c.SessionID).
			Str("status", string(result.Status)).
			Str("reason", string(result.Reason)).
			Msg("startAck not applied")
	}
}
