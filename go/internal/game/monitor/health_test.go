package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordrush/wordrush/go/internal/game/startsync"
)

func TestCheckHealthNeedsSamples(t *testing.T) {
	m := New(clockwork.NewFakeClock(), DefaultConfig())

	// Two complete failures, but below the sample floor the verdict stays
	// healthy rather than alarming on noise.
	m.Record(record("room-1", 0, 2, startsync.ReasonTimeout, time.Second, "a", "b"))
	m.Record(record("room-1", 0, 2, startsync.ReasonTimeout, time.Second, "a", "b"))

	report := m.CheckHealth()
	assert.Equal(t, StatusHealthy, report.Status)
}

func TestCheckHealthHealthy(t *testing.T) {
	m := New(clockwork.NewFakeClock(), DefaultConfig())

	for i := 0; i < 10; i++ {
		m.Record(record("room-1", 3, 3, startsync.ReasonQuorum, 20*time.Millisecond))
	}

	report := m.CheckHealth()
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Empty(t, report.Issues)
}

func TestCheckHealthDegradedOnSuccessRate(t *testing.T) {
	m := New(clockwork.NewFakeClock(), DefaultConfig())

	for i := 0; i < 8; i++ {
		m.Record(record("room-1", 3, 3, startsync.ReasonQuorum, 20*time.Millisecond))
	}
	// 8/10 success rate: below 0.9, above 0.5. The partials miss different
	// players so no chronic absentee fires.
	m.Record(record("room-2", 2, 3, startsync.ReasonTimeout, 3*time.Second, "p-a"))
	m.Record(record("room-3", 2, 3, startsync.ReasonTimeout, 3*time.Second, "p-b"))

	report := m.CheckHealth()
	assert.Equal(t, StatusDegraded, report.Status)
	assert.NotEmpty(t, report.Issues)
	assert.NotEmpty(t, report.Recommendations)
}

func TestCheckHealthUnhealthyOnLowSuccessRate(t *testing.T) {
	m := New(clockwork.NewFakeClock(), DefaultConfig())

	for i := 0; i < 3; i++ {
		m.Record(record("room-1", 3, 3, startsync.ReasonQuorum, 20*time.Millisecond))
	}
	for i := 0; i < 7; i++ {
		m.Record(record("room-2", 1, 3, startsync.ReasonTimeout, 3*time.Second, "p-a", "p-b"))
	}

	report := m.CheckHealth()
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestHealthEndpointServesVerdict(t *testing.T) {
	m := New(clockwork.NewFakeClock(), DefaultConfig())

	for i := 0; i < 3; i++ {
		m.Record(record("room-1", 3, 3, startsync.ReasonQuorum, 20*time.Millisecond))
	}
	for i := 0; i < 7; i++ {
		m.Record(record("room-2", 0, 3, startsync.ReasonTimeout, 3*time.Second, "a", "b", "c"))
	}

	recorder := httptest.NewRecorder()
	m.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health/startsync", nil))

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.NotEmpty(t, report.Issues)
}

func TestStatsEndpoint(t *testing.T) {
	m := New(clockwork.NewFakeClock(), DefaultConfig())
	m.Record(record("room-1", 3, 3, startsync.ReasonQuorum, 20*time.Millisecond))

	recorder := httptest.NewRecorder()
	m.HandleStats(recorder, httptest.NewRequest(http.MethodGet, "/startsync/stats", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	var stats Stats
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalSequences)
	assert.InDelta(t, 1.0, stats.SuccessRate, 0.001)
}

func TestRecentFailuresEndpointValidatesLimit(t *testing.T) {
	m := New(clockwork.NewFakeClock(), DefaultConfig())

	recorder := httptest.NewRecorder()
	m.HandleRecentFailures(recorder, httptest.NewRequest(http.MethodGet, "/startsync/failures?limit=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = httptest.NewRecorder()
	m.HandleRecentFailures(recorder, httptest.NewRequest(http.MethodGet, "/startsync/failures?limit=5", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestMetricsExport(t *testing.T) {
	m := New(clockwork.NewFakeClock(), DefaultConfig())

	m.Record(record("room-1", 3, 3, startsync.ReasonQuorum, 20*time.Millisecond))
	m.Record(record("room-2", 0, 2, startsync.ReasonTimeout, 3*time.Second, "a", "b"))

	out := m.Export()
	assert.Contains(t, out, "startsync_sequences_total 2")
	assert.Contains(t, out, "startsync_sequences_success_total 1")
	assert.Contains(t, out, "startsync_sequences_failure_total 1")
	assert.Contains(t, out, "startsync_pattern_complete_failure 1")
	assert.True(t, strings.HasPrefix(out, "# HELP"))
}
