package startsync

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// State is the lifecycle state of a sequence. Once a sequence leaves
// StateActive no further mutation is permitted.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// CompletionReason records how a sequence reached its terminal state.
type CompletionReason string

const (
	ReasonQuorum           CompletionReason = "quorum"
	ReasonTimeout          CompletionReason = "timeout"
	ReasonDisconnectQuorum CompletionReason = "disconnect-quorum"
	ReasonCancelled        CompletionReason = "cancelled"
	ReasonSuperseded       CompletionReason = "superseded"
	ReasonEmptyLobby       CompletionReason = "cancelled-empty"
)

// completed reports whether the reason counts as a start (the countdown
// runs) as opposed to a cancellation.
func (r CompletionReason) completed() bool {
	switch r {
	case ReasonQuorum, ReasonTimeout, ReasonDisconnectQuorum:
		return true
	default:
		return false
	}
}

// StartSignal is the server→player wire message that opens a sequence.
// Game is an opaque payload supplied by the caller of Begin (board, words,
// scoring rules - none of which this package interprets).
type StartSignal struct {
	Type             string          `json:"type"`
	SequenceID       uuid.UUID       `json:"sequenceId"`
	CountdownSeconds int             `json:"countdownSeconds"`
	Game             json.RawMessage `json:"game,omitempty"`
}

// sequence is one attempt to synchronize all players of a session before
// the shared countdown begins. All fields are guarded by the Coordinator
// mutex; nothing outside this package ever holds a *sequence.
type sequence struct {
	id               uuid.UUID
	sessionID        string
	countdownSeconds int
	createdAt        time.Time

	expected     map[string]struct{}
	acked        map[string]struct{}
	unresponsive map[string]struct{}

	// retryAttempts counts resend attempts actually issued per player.
	retryAttempts map[string]int
	// retryTimers maps a player to the handle of its in-flight retry timer
	// so an ack or disconnect can cancel exactly that timer.
	retryTimers map[string]uuid.UUID

	// pendingTimers holds every scheduled-but-not-yet-fired timer owned by
	// this sequence (timeout guard + retries). Cancelling a sequence stops
	// every handle in here before the sequence is discarded.
	pendingTimers map[uuid.UUID]clockwork.Timer

	// startFrame is the marshaled StartSignal, kept so retries resend the
	// exact frame the initial broadcast carried.
	startFrame []byte

	state       State
	completedAt time.Time
	reason      CompletionReason
}

func newSequence(sessionID string, players []string, countdownSeconds int, now time.Time) *sequence {
	seq := &sequence{
		id:               uuid.New(),
		sessionID:        sessionID,
		countdownSeconds: countdownSeconds,
		createdAt:        now,
		expected:         make(map[string]struct{}, len(players)),
		acked:            make(map[string]struct{}, len(players)),
		unresponsive:     make(map[string]struct{}),
		retryAttempts:    make(map[string]int),
		retryTimers:      make(map[string]uuid.UUID),
		pendingTimers:    make(map[uuid.UUID]clockwork.Timer),
		state:            StateActive,
	}
	for _, p := range players {
		seq.expected[p] = struct{}{}
	}
	return seq
}

// quorumReached is set equality on size: acked is enforced as a subset of
// expected, so equal size implies equality.
func (s *sequence) quorumReached() bool {
	return len(s.expected) > 0 && len(s.acked) == len(s.expected)
}

// missingPlayers returns expected − acked, sorted for stable output.
func (s *sequence) missingPlayers() []string {
	missing := make([]string, 0)
	for p := range s.expected {
		if _, ok := s.acked[p]; !ok {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)
	return missing
}

// OutcomeRecord is the immutable snapshot of a finished sequence handed to
// the monitor and the event publisher. Never mutated after creation.
type OutcomeRecord struct {
	SessionID        string           `json:"session_id"`
	SequenceID       uuid.UUID        `json:"sequence_id"`
	ExpectedCount    int              `json:"expected_count"`
	AckedCount       int              `json:"acked_count"`
	MissingPlayers   []string         `json:"missing_players,omitempty"`
	WaitTime         time.Duration    `json:"wait_time"`
	Reason           CompletionReason `json:"reason"`
	CountdownSeconds int              `json:"countdown_seconds"`
	CompletedAt      time.Time        `json:"completed_at"`
}

// Completed reports whether the session actually started (quorum, timeout
// or disconnect-quorum) rather than being cancelled.
func (r OutcomeRecord) Completed() bool {
	return r.Reason.completed()
}

// SequenceView is a read-only snapshot of an active sequence, safe to hold
// after the Coordinator lock is released.
type SequenceView struct {
	SequenceID       uuid.UUID        `json:"sequence_id"`
	SessionID        string           `json:"session_id"`
	CountdownSeconds int              `json:"countdown_seconds"`
	CreatedAt        time.Time        `json:"created_at"`
	Expected         []string         `json:"expected"`
	Acked            []string         `json:"acked"`
	Unresponsive     []string         `json:"unresponsive"`
	RetryAttempts    map[string]int   `json:"retry_attempts"`
	PendingTimers    int              `json:"pending_timers"`
	State            State            `json:"state"`
}

func (s *sequence) snapshot() SequenceView {
	view := SequenceView{
		SequenceID:       s.id,
		SessionID:        s.sessionID,
		CountdownSeconds: s.countdownSeconds,
		CreatedAt:        s.createdAt,
		Expected:         sortedKeys(s.expected),
		Acked:            sortedKeys(s.acked),
		Unresponsive:     sortedKeys(s.unresponsive),
		RetryAttempts:    make(map[string]int, len(s.retryAttempts)),
		PendingTimers:    len(s.pendingTimers),
		State:            s.state,
	}
	for p, n := range s.retryAttempts {
		view.RetryAttempts[p] = n
	}
	return view
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
