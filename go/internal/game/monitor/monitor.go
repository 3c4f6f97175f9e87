package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/wordrush/wordrush/go/internal/game/startsync"
)

// Classification buckets a finished sequence by how many players made it.
type Classification string

const (
	ClassSuccess Classification = "success" // everyone acknowledged
	ClassPartial Classification = "partial" // some but not all
	ClassFailure Classification = "failure" // nobody acknowledged
)

// Classify applies the ack-count rule to an outcome record.
func Classify(rec startsync.OutcomeRecord) Classification {
	switch {
	case rec.AckedCount == 0:
		return ClassFailure
	case rec.AckedCount < rec.ExpectedCount:
		return ClassPartial
	default:
		return ClassSuccess
	}
}

// ackRateBuckets are the histogram bucket labels, lowest first.
var ackRateBuckets = []string{"0%", "1-25%", "26-50%", "51-75%", "76-99%", "100%"}

func ackRateBucket(acked, expected int) string {
	if expected == 0 || acked == 0 {
		return ackRateBuckets[0]
	}
	rate := float64(acked) / float64(expected)
	switch {
	case rate >= 1:
		return ackRateBuckets[5]
	case rate > 0.75:
		return ackRateBuckets[4]
	case rate > 0.50:
		return ackRateBuckets[3]
	case rate > 0.25:
		return ackRateBuckets[2]
	default:
		return ackRateBuckets[1]
	}
}

// Config tunes the monitor's window and pattern thresholds.
type Config struct {
	// WindowSize bounds the rolling window of retained outcome records.
	WindowSize int
	// LargeLobbySize is the expected-count threshold above which a low ack
	// rate counts as the large-lobby pattern.
	LargeLobbySize int
	// LowAckRate is the ack-rate threshold for the large-lobby pattern.
	LowAckRate float64
	// ChronicAbsences is how many times a player must go missing before
	// they count as a chronic absentee.
	ChronicAbsences int
	// SessionFailureWindow and SessionFailureCount define the sliding
	// window for the repeated-session-failure pattern.
	SessionFailureWindow time.Duration
	SessionFailureCount  int
	// MinSamples is how many completed sequences CheckHealth needs before
	// it reports anything other than healthy.
	MinSamples int
	// DegradedSuccessRate and UnhealthySuccessRate are the health verdict
	// thresholds on the windowed success rate.
	DegradedSuccessRate  float64
	UnhealthySuccessRate float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		WindowSize:           100,
		LargeLobbySize:       6,
		LowAckRate:           0.5,
		ChronicAbsences:      3,
		SessionFailureWindow: 10 * time.Minute,
		SessionFailureCount:  3,
		MinSamples:           5,
		DegradedSuccessRate:  0.9,
		UnhealthySuccessRate: 0.5,
	}
}

// PatternCount is one named failure pattern and how often it was seen.
type PatternCount struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// Stats is the aggregate view served on the debug surface.
type Stats struct {
	TotalSequences     int            `json:"total_sequences"`
	Successes          int            `json:"successes"`
	Partials           int            `json:"partials"`
	Failures           int            `json:"failures"`
	Cancelled          int            `json:"cancelled"`
	SuccessRate        float64        `json:"success_rate"`
	AverageWaitTimeMs  int64          `json:"average_wait_time_ms"`
	MinWaitTimeMs      int64          `json:"min_wait_time_ms"`
	MaxWaitTimeMs      int64          `json:"max_wait_time_ms"`
	AckRateHistogram   map[string]int `json:"ack_rate_histogram"`
	TopFailurePatterns []PatternCount `json:"top_failure_patterns"`
}

// Monitor consumes outcome records from the coordinator, classifies them,
// keeps rolling aggregates and detects recurring failure patterns. It is
// read-only with respect to the coordinator: records only flow in.
type Monitor struct {
	mu    sync.Mutex
	clock clockwork.Clock
	cfg   Config

	window []startsync.OutcomeRecord

	completed int
	successes int
	partials  int
	failures  int
	cancelled int

	waitTotal time.Duration
	waitMin   time.Duration
	waitMax   time.Duration

	histogram map[string]int
	patterns  *patternDetector
}

// New creates a monitor. The clock drives the sliding pattern windows; use
// a fake clock in tests.
func New(clock clockwork.Clock, cfg Config) *Monitor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	return &Monitor{
		clock:     clock,
		cfg:       cfg,
		histogram: make(map[string]int),
		patterns:  newPatternDetector(cfg),
	}
}

// Record ingests one finished sequence. Implements startsync.OutcomeSink.
func (m *Monitor) Record(rec startsync.OutcomeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !rec.Completed() {
		// Cancellations (explicit, superseded, emptied lobby) are counted
		// but excluded from the success-rate math: nothing was attempted
		// to completion.
		m.cancelled++
		return
	}

	m.window = append(m.window, rec)
	if len(m.window) > m.cfg.WindowSize {
		m.window = m.window[1:]
	}

	m.completed++
	class := Classify(rec)
	switch class {
	case ClassSuccess:
		m.successes++
	case ClassPartial:
		m.partials++
	case ClassFailure:
		m.failures++
	}

	m.waitTotal += rec.WaitTime
	if m.completed == 1 || rec.WaitTime < m.waitMin {
		m.waitMin = rec.WaitTime
	}
	if rec.WaitTime > m.waitMax {
		m.waitMax = rec.WaitTime
	}
	m.histogram[ackRateBucket(rec.AckedCount, rec.ExpectedCount)]++

	m.patterns.observe(rec, class, m.clock.Now())

	log.Debug().
		Str("session_id", rec.SessionID).
		Str("classification", string(class)).
		Str("reason", string(rec.Reason)).
		Int("acked", rec.AckedCount).
		Int("expected", rec.ExpectedCount).
		Msg("sync outcome recorded")
}

// Stats returns the aggregate view.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		TotalSequences:     m.completed,
		Successes:          m.successes,
		Partials:           m.partials,
		Failures:           m.failures,
		Cancelled:          m.cancelled,
		AckRateHistogram:   make(map[string]int, len(m.histogram)),
		TopFailurePatterns: m.patterns.top(5),
	}
	for bucket, n := range m.histogram {
		stats.AckRateHistogram[bucket] = n
	}
	if m.completed > 0 {
		stats.SuccessRate = float64(m.successes) / float64(m.completed)
		stats.AverageWaitTimeMs = (m.waitTotal / time.Duration(m.completed)).Milliseconds()
		stats.MinWaitTimeMs = m.waitMin.Milliseconds()
		stats.MaxWaitTimeMs = m.waitMax.Milliseconds()
	}
	return stats
}

// RecentFailures returns the newest non-success records in the window,
// newest first, capped at limit.
func (m *Monitor) RecentFailures(limit int) []startsync.OutcomeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	failures := make([]startsync.OutcomeRecord, 0, limit)
	for i := len(m.window) - 1; i >= 0 && len(failures) < limit; i-- {
		if Classify(m.window[i]) != ClassSuccess {
			failures = append(failures, m.window[i])
		}
	}
	return failures
}

// windowedSuccessRate computes the success rate over the rolling window.
// Caller holds the lock.
func (m *Monitor) windowedSuccessRate() float64 {
	if len(m.window) == 0 {
		return 1
	}
	successes := 0
	for _, rec := range m.window {
		if Classify(rec) == ClassSuccess {
			successes++
		}
	}
	return float64(successes) / float64(len(m.window))
}

// chronicAbsentees returns players missing from at least the configured
// number of completed sequences, sorted. Caller holds the lock.
func (m *Monitor) chronicAbsentees() []string {
	players := make([]string, 0)
	for player, n := range m.patterns.absences {
		if n >= m.cfg.ChronicAbsences {
			players = append(players, player)
		}
	}
	sort.Strings(players)
	return players
}
