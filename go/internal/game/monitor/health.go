package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// HealthStatus is the verdict derived from the rolling window.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthReport is the debug-surface view of the verdict plus what to do
// about it.
type HealthReport struct {
	Status          HealthStatus `json:"status"`
	Issues          []string     `json:"issues"`
	Recommendations []string     `json:"recommendations"`
}

// CheckHealth derives the health verdict from the windowed success rate and
// the failure-pattern counters.
func (m *Monitor) CheckHealth() HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := HealthReport{
		Status:          StatusHealthy,
		Issues:          []string{},
		Recommendations: []string{},
	}

	if m.completed < m.cfg.MinSamples {
		return report
	}

	rate := m.windowedSuccessRate()
	if rate < m.cfg.UnhealthySuccessRate {
		report.Status = StatusUnhealthy
		report.Issues = append(report.Issues, fmt.Sprintf("success rate %.0f%% below %.0f%%", rate*100, m.cfg.UnhealthySuccessRate*100))
		report.Recommendations = append(report.Recommendations, "check transport delivery and client connectivity")
	} else if rate < m.cfg.DegradedSuccessRate {
		report.Status = StatusDegraded
		report.Issues = append(report.Issues, fmt.Sprintf("success rate %.0f%% below %.0f%%", rate*100, m.cfg.DegradedSuccessRate*100))
		report.Recommendations = append(report.Recommendations, "inspect recent failures for a common missing player or session")
	}

	if n := m.patterns.count(PatternCompleteFailure); n > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d sequences completed with zero acks", n))
		report.Recommendations = append(report.Recommendations, "verify the start signal reaches clients at all")
		if report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
	}

	if absentees := m.chronicAbsentees(); len(absentees) > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("chronically absent players: %v", absentees))
		report.Recommendations = append(report.Recommendations, "these players repeatedly miss the start signal; check their connections")
		if report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
	}

	if n := m.patterns.count(PatternRepeatedSessionFailure); n > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d sessions failed repeatedly within %s", n, m.cfg.SessionFailureWindow))
		report.Recommendations = append(report.Recommendations, "inspect those sessions' rosters for stuck clients")
		if report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
	}

	return report
}

// ServeHTTP serves the health verdict as JSON. Unhealthy maps to 503 so
// orchestration probes pick it up.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := m.CheckHealth()

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		log.Error().Err(err).Msg("failed to write health response")
	}
}

// HandleStats serves the aggregate statistics as JSON.
func (m *Monitor) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to write stats response")
	}
}

// HandleRecentFailures serves the newest non-success outcomes as JSON.
// Accepts ?limit=, default 10.
func (m *Monitor) HandleRecentFailures(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.RecentFailures(limit)); err != nil {
		log.Error().Err(err).Msg("failed to write recent failures response")
	}
}

// Export renders the monitor's gauges and counters in Prometheus text
// format for the /debug/syncmetrics endpoint.
func (m *Monitor) Export() string {
	stats := m.Stats()
	report := m.CheckHealth()

	healthy := 0
	if report.Status == StatusHealthy {
		healthy = 1
	}

	out := fmt.Sprintf(`# HELP startsync_healthy Whether the start synchronizer is healthy
# TYPE startsync_healthy gauge
startsync_healthy %d

# HELP startsync_sequences_total Total number of completed sequences
# TYPE startsync_sequences_total counter
startsync_sequences_total %d

# HELP startsync_sequences_success_total Sequences where every player acknowledged
# TYPE startsync_sequences_success_total counter
startsync_sequences_success_total %d

# HELP startsync_sequences_partial_total Sequences that started with some players missing
# TYPE startsync_sequences_partial_total counter
startsync_sequences_partial_total %d

# HELP startsync_sequences_failure_total Sequences that started with zero acknowledgments
# TYPE startsync_sequences_failure_total counter
startsync_sequences_failure_total %d

# HELP startsync_sequences_cancelled_total Sequences cancelled before completion
# TYPE startsync_sequences_cancelled_total counter
startsync_sequences_cancelled_total %d

# HELP startsync_wait_time_average_ms Average time to quorum or timeout
# TYPE startsync_wait_time_average_ms gauge
startsync_wait_time_average_ms %d
`,
		healthy,
		stats.TotalSequences,
		stats.Successes,
		stats.Partials,
		stats.Failures,
		stats.Cancelled,
		stats.AverageWaitTimeMs,
	)

	for _, pc := range stats.TopFailurePatterns {
		out += fmt.Sprintf("\n# HELP startsync_pattern_%s Occurrences of the %s failure pattern\n# TYPE startsync_pattern_%s counter\nstartsync_pattern_%s %d\n",
			pc.Pattern, pc.Pattern, pc.Pattern, pc.Pattern, pc.Count)
	}

	return out
}

// HandleMetrics serves Export over HTTP.
func (m *Monitor) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if _, err := w.Write([]byte(m.Export())); err != nil {
		log.Error().Err(err).Msg("failed to write metrics response")
	}
}
