package monitor

import (
	"sort"
	"time"

	"github.com/wordrush/wordrush/go/internal/game/startsync"
)

// Named failure patterns the detector counts.
const (
	PatternLargeLobbyLowAck       = "large_lobby_low_ack"
	PatternCompleteFailure        = "complete_failure"
	PatternChronicAbsentee        = "chronic_absentee"
	PatternTimeoutWait            = "timeout_band_wait"
	PatternRepeatedSessionFailure = "repeated_session_failure"
)

// patternDetector keeps the named counters behind the monitor. Not safe for
// concurrent use on its own; the Monitor mutex guards it.
type patternDetector struct {
	cfg      Config
	counters map[string]int
	// absences counts how many completed sequences each player was missing
	// from.
	absences map[string]int
	// sessionFailures keeps per-session timestamps of recent non-success
	// outcomes, pruned to the sliding window.
	sessionFailures map[string][]time.Time
}

func newPatternDetector(cfg Config) *patternDetector {
	return &patternDetector{
		cfg:             cfg,
		counters:        make(map[string]int),
		absences:        make(map[string]int),
		sessionFailures: make(map[string][]time.Time),
	}
}

func (d *patternDetector) observe(rec startsync.OutcomeRecord, class Classification, now time.Time) {
	if class == ClassFailure {
		d.counters[PatternCompleteFailure]++
	}

	if rec.ExpectedCount >= d.cfg.LargeLobbySize && rec.ExpectedCount > 0 {
		rate := float64(rec.AckedCount) / float64(rec.ExpectedCount)
		if rate < d.cfg.LowAckRate {
			d.counters[PatternLargeLobbyLowAck]++
		}
	}

	if rec.Reason == startsync.ReasonTimeout {
		d.counters[PatternTimeoutWait]++
	}

	for _, player := range rec.MissingPlayers {
		d.absences[player]++
		if d.absences[player] == d.cfg.ChronicAbsences {
			d.counters[PatternChronicAbsentee]++
		}
	}

	if class != ClassSuccess {
		d.recordSessionFailure(rec.SessionID, now)
	}
}

// recordSessionFailure appends a failure timestamp for the session, prunes
// entries older than the sliding window, and bumps the repeated-failure
// counter when the session crosses the threshold.
func (d *patternDetector) recordSessionFailure(sessionID string, now time.Time) {
	cutoff := now.Add(-d.cfg.SessionFailureWindow)
	recent := d.sessionFailures[sessionID][:0]
	for _, t := range d.sessionFailures[sessionID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	d.sessionFailures[sessionID] = recent

	if len(recent) == d.cfg.SessionFailureCount {
		d.counters[PatternRepeatedSessionFailure]++
	}
}

// top returns the n most frequent patterns, highest count first, tied
// patterns in name order for stable output.
func (d *patternDetector) top(n int) []PatternCount {
	out := make([]PatternCount, 0, len(d.counters))
	for pattern, count := range d.counters {
		out = append(out, PatternCount{Pattern: pattern, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Pattern < out[j].Pattern
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// count returns a single pattern counter.
func (d *patternDetector) count(pattern string) int {
	return d.counters[pattern]
}
