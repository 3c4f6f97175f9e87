package startsync

import (
	"sync"
	"time"
)

// fakeSender records every delivery attempt and fails the players it is
// told to fail.
type fakeSender struct {
	mu      sync.Mutex
	failing map[string]bool
	sends   map[string]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		failing: make(map[string]bool),
		sends:   make(map[string]int),
	}
}

func (s *fakeSender) Send(sessionID, playerID string, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends[playerID]++
	return !s.failing[playerID]
}

func (s *fakeSender) failPlayer(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[playerID] = true
}

func (s *fakeSender) restorePlayer(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failing, playerID)
}

func (s *fakeSender) sendCount(playerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends[playerID]
}

// recordingSink captures outcome records handed to the monitor side.
type recordingSink struct {
	mu      sync.Mutex
	records []OutcomeRecord
}

func (r *recordingSink) Record(rec OutcomeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *recordingSink) last() (OutcomeRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return OutcomeRecord{}, false
	}
	return r.records[len(r.records)-1], true
}

func testConfig() Config {
	return Config{
		AckTimeout:  3 * time.Second,
		RetryDelays: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond},
	}
}

const waitFor = 2 * time.Second

const tick = time.Millisecond
