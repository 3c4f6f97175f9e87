package startsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/wordrush/wordrush/go/internal/game/events"
)

var (
	// ErrNoPlayers is returned by Begin when the roster snapshot is empty.
	ErrNoPlayers = errors.New("startsync: no players to synchronize")
)

// Sender is the transport delivery primitive. Send reports immediate
// delivery success; it must not block on slow peers.
type Sender interface {
	Send(sessionID, playerID string, payload []byte) bool
}

// OutcomeSink consumes the record of every finished sequence. The monitor
// implements this; it never mutates Coordinator state back.
type OutcomeSink interface {
	Record(rec OutcomeRecord)
}

// Config tunes the synchronization timers.
type Config struct {
	// AckTimeout is the sequence-level deadline: if quorum is not reached
	// within it, the session starts degraded with whoever is ready.
	AckTimeout time.Duration
	// RetryDelays is the bounded backoff schedule for players whose start
	// signal failed to deliver. One resend attempt per entry.
	RetryDelays []time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		AckTimeout:  5 * time.Second,
		RetryDelays: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond},
	}
}

// BeginResult is returned by Begin: the fresh sequence id plus the players
// whose initial delivery failed and are now under retry.
type BeginResult struct {
	SequenceID       uuid.UUID `json:"sequence_id"`
	FailedDeliveries []string  `json:"failed_deliveries,omitempty"`
}

// Coordinator owns every active start sequence, keyed by session id, and
// enforces at most one active sequence per session. It is the registry,
// acknowledgment tracker, retry scheduler, timeout guard and disconnect
// handler of the lobby→running transition.
//
// One mutex serializes every mutating entry point (Begin, End, RecordAck,
// HandlePlayerLeft and timer fires); every timer callback re-validates
// state == StateActive and its own handle before mutating, so a fire that
// lost the race against a terminal transition is a safe no-op.
type Coordinator struct {
	mu        sync.Mutex
	sequences map[string]*sequence
	// lastEnded remembers the most recent sequence id per session so a
	// straggler ack for a just-finished attempt classifies as late rather
	// than unknown.
	lastEnded map[string]uuid.UUID

	clock     clockwork.Clock
	sender    Sender
	sink      OutcomeSink
	publisher events.Publisher
	cfg       Config

	// OnFinished, when set, is invoked outside the lock with the outcome
	// of every finished sequence. Used by wiring to trigger the countdown
	// broadcast.
	OnFinished func(rec OutcomeRecord)
}

// NewCoordinator wires a coordinator. sink and publisher may be nil in
// tests; clock should be clockwork.NewRealClock() in production and a
// FakeClock in tests.
func NewCoordinator(clock clockwork.Clock, sender Sender, sink OutcomeSink, publisher events.Publisher, cfg Config) *Coordinator {
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = DefaultConfig().RetryDelays
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultConfig().AckTimeout
	}
	return &Coordinator{
		sequences: make(map[string]*sequence),
		lastEnded: make(map[string]uuid.UUID),
		clock:     clock,
		sender:    sender,
		sink:      sink,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Begin starts a new synchronization sequence for a session. Any existing
// active sequence for the same session is force-cancelled first (reason
// superseded, all its timers stopped). The start signal is dispatched to
// every player; failed deliveries go straight to the retry scheduler.
func (c *Coordinator) Begin(ctx context.Context, sessionID string, players []string, countdownSeconds int, gamePayload json.RawMessage) (BeginResult, error) {
	if len(players) == 0 {
		return BeginResult{}, ErrNoPlayers
	}

	c.mu.Lock()

	var superseded *OutcomeRecord
	if prev, ok := c.sequences[sessionID]; ok {
		rec := c.completeLocked(prev, ReasonSuperseded)
		superseded = &rec
		log.Info().
			Str("session_id", sessionID).
			Str("sequence_id", prev.id.String()).
			Msg("superseding active sequence")
	}

	seq := newSequence(sessionID, players, countdownSeconds, c.clock.Now())

	frame, err := json.Marshal(StartSignal{
		Type:             "start",
		SequenceID:       seq.id,
		CountdownSeconds: countdownSeconds,
		Game:             gamePayload,
	})
	if err != nil {
		c.mu.Unlock()
		return BeginResult{}, fmt.Errorf("marshal start signal: %w", err)
	}
	seq.startFrame = frame
	c.sequences[sessionID] = seq

	// Arm the timeout guard: the single fallback timer that guarantees the
	// game starts even under total silence from some clients.
	c.armGuardLocked(seq)

	seqID := seq.id
	c.mu.Unlock()

	if superseded != nil {
		c.emitFinished(ctx, *superseded)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("sequence_id", seqID.String()).
		Int("players", len(players)).
		Int("countdown_seconds", countdownSeconds).
		Msg("start sequence created")

	// Initial broadcast. Sends happen outside the lock; the bookkeeping
	// below re-validates the sequence is still the current attempt.
	var failed []string
	for _, playerID := range players {
		if !c.sender.Send(sessionID, playerID, frame) {
			failed = append(failed, playerID)
		}
	}

	if len(failed) > 0 {
		c.mu.Lock()
		if cur, ok := c.sequences[sessionID]; ok && cur.id == seqID && cur.state == StateActive {
			for _, playerID := range failed {
				c.markUnresponsiveLocked(cur, playerID)
			}
		}
		c.mu.Unlock()

		log.Warn().
			Str("session_id", sessionID).
			Str("sequence_id", seqID.String()).
			Strs("players", failed).
			Msg("initial start signal delivery failed, retrying")
	}

	c.publishStarted(ctx, sessionID, seqID, players, countdownSeconds)

	return BeginResult{SequenceID: seqID, FailedDeliveries: failed}, nil
}

// Get returns a snapshot of the session's active sequence, if any.
func (c *Coordinator) Get(sessionID string) (SequenceView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq, ok := c.sequences[sessionID]
	if !ok {
		return SequenceView{}, false
	}
	return seq.snapshot(), true
}

// End terminates the session's active sequence with the given reason.
// Idempotent: ending a session with no active sequence is a no-op.
func (c *Coordinator) End(ctx context.Context, sessionID string, reason CompletionReason) {
	c.mu.Lock()
	seq, ok := c.sequences[sessionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	rec := c.completeLocked(seq, reason)
	c.mu.Unlock()

	c.emitFinished(ctx, rec)
}

// Cancel is End with reason cancelled.
func (c *Coordinator) Cancel(ctx context.Context, sessionID string) {
	c.End(ctx, sessionID, ReasonCancelled)
}

// Shutdown cancels every active sequence. Called on server shutdown so no
// timer outlives the process's serving state.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	records := make([]OutcomeRecord, 0, len(c.sequences))
	for _, seq := range c.sequences {
		records = append(records, c.completeLocked(seq, ReasonCancelled))
	}
	c.mu.Unlock()

	for _, rec := range records {
		c.emitFinished(ctx, rec)
	}

	if len(records) > 0 {
		log.Info().Int("cancelled", len(records)).Msg("coordinator shut down, active sequences cancelled")
	}
}

// PendingTimers reports how many scheduled-but-unfired timers the session's
// sequence currently owns. Zero after any terminal transition; tests use
// this to assert the no-leaked-timer invariant.
func (c *Coordinator) PendingTimers(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq, ok := c.sequences[sessionID]
	if !ok {
		return 0
	}
	return len(seq.pendingTimers)
}

// ActiveSequences reports the number of sessions currently synchronizing.
func (c *Coordinator) ActiveSequences() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sequences)
}

// armGuardLocked schedules the timeout guard. Caller holds the lock.
func (c *Coordinator) armGuardLocked(seq *sequence) {
	timerID := uuid.New()
	sessionID := seq.sessionID
	seqID := seq.id
	timer := c.clock.AfterFunc(c.cfg.AckTimeout, func() {
		c.guardFired(sessionID, seqID, timerID)
	})
	seq.pendingTimers[timerID] = timer
}

// guardFired is the timeout guard callback. If the sequence already reached
// a terminal state this is a no-op; otherwise the session starts degraded
// with whoever acknowledged.
func (c *Coordinator) guardFired(sessionID string, seqID, timerID uuid.UUID) {
	c.mu.Lock()
	seq, ok := c.sequences[sessionID]
	if !ok || seq.id != seqID || seq.state != StateActive {
		c.mu.Unlock()
		log.Debug().
			Str("session_id", sessionID).
			Str("sequence_id", seqID.String()).
			Msg("timeout guard fired after terminal transition, ignoring")
		return
	}
	delete(seq.pendingTimers, timerID)
	rec := c.completeLocked(seq, ReasonTimeout)
	c.mu.Unlock()

	log.Warn().
		Str("session_id", sessionID).
		Str("sequence_id", seqID.String()).
		Int("acked", rec.AckedCount).
		Int("expected", rec.ExpectedCount).
		Strs("missing", rec.MissingPlayers).
		Msg("ack timeout reached, starting degraded")

	c.emitFinished(context.Background(), rec)
}

// completeLocked performs the terminal transition: cancels every pending
// timer, stamps the terminal state, snapshots the outcome and removes the
// sequence from the registry. Caller holds the lock. The returned record
// must be handed to emitFinished after the lock is released.
func (c *Coordinator) completeLocked(seq *sequence, reason CompletionReason) OutcomeRecord {
	for id, timer := range seq.pendingTimers {
		timer.Stop()
		delete(seq.pendingTimers, id)
	}
	seq.retryTimers = make(map[string]uuid.UUID)

	if reason.completed() {
		seq.state = StateCompleted
	} else {
		seq.state = StateCancelled
	}
	seq.reason = reason
	seq.completedAt = c.clock.Now()

	delete(c.sequences, seq.sessionID)
	c.lastEnded[seq.sessionID] = seq.id

	return OutcomeRecord{
		SessionID:        seq.sessionID,
		SequenceID:       seq.id,
		ExpectedCount:    len(seq.expected),
		AckedCount:       len(seq.acked),
		MissingPlayers:   seq.missingPlayers(),
		WaitTime:         seq.completedAt.Sub(seq.createdAt),
		Reason:           reason,
		CountdownSeconds: seq.countdownSeconds,
		CompletedAt:      seq.completedAt,
	}
}

// emitFinished distributes a finished sequence's record: monitor sink,
// event bus, and the wiring hook. Must be called without the lock held.
func (c *Coordinator) emitFinished(ctx context.Context, rec OutcomeRecord) {
	if c.sink != nil {
		c.sink.Record(rec)
	}

	c.publishFinished(ctx, rec)

	if c.OnFinished != nil {
		c.OnFinished(rec)
	}
}

func (c *Coordinator) publishStarted(ctx context.Context, sessionID string, seqID uuid.UUID, players []string, countdownSeconds int) {
	if c.publisher == nil {
		return
	}

	now := c.clock.Now()
	payload, err := json.Marshal(events.SyncStartedPayload{
		SessionID:        sessionID,
		SequenceID:       seqID.String(),
		Players:          players,
		CountdownSeconds: countdownSeconds,
		StartedAt:        now,
	})
	if err != nil {
		log.Error().Err(err).Msg("marshal SyncStarted payload")
		return
	}

	event := events.Event{
		ID:        uuid.New(),
		Type:      events.EventTypeSyncStarted,
		SessionID: sessionID,
		Payload:   payload,
		CreatedAt: now,
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("publish SyncStarted failed")
	}
}

func (c *Coordinator) publishFinished(ctx context.Context, rec OutcomeRecord) {
	if c.publisher == nil {
		return
	}

	var (
		eventType events.EventType
		payload   []byte
		err       error
	)
	if rec.Completed() {
		eventType = events.EventTypeSyncCompleted
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
		eventType = events.EventTypeSyncCancelled
		payload, err = json.Marshal(events.SyncCancelledPayload{
			SessionID:   rec.SessionID,
			SequenceID:  rec.SequenceID.String(),
			AckedCount:  rec.AckedCount,
			CancelledAt: rec.CompletedAt,
		})
	}
	if err != nil {
		log.Error().Err(err).Msg("marshal sync outcome payload")
		return
	}

	event := events.Event{
		ID:        uuid.New(),
		Type:      eventType,
		SessionID: rec.SessionID,
		Payload:   payload,
		CreatedAt: rec.CompletedAt,
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("session_id", rec.SessionID).
			Str("event_type", string(eventType)).
			Msg("publish sync outcome failed")
	}
}
