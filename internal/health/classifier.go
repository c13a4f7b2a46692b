// Package health derives liveness and health classifications from instance
// timestamps and counters. Everything here is a pure function over a snapshot
// plus "now", so the same code serves write-time recomputation and read-time
// classification.
package health

import (
	"math"
	"time"

	"github.com/soaska/botpulse/internal/model"
)

// Quality issue tags.
const (
	IssueFrequentReconnections = "frequent_reconnections"
	IssueShortSessions         = "short_sessions"
	IssueIPInstability         = "ip_instability"
	IssueStable                = "stable"
)

const (
	// Reconnection churn: this many connections or more within the first
	// hour of an instance's life flags frequent_reconnections.
	reconnectionCountThreshold = 5
	reconnectionWindow         = time.Hour

	shortSessionSeconds   = 30.0
	healthySessionSeconds = 60.0

	// Closed sessions shorter than this count as failed connections in the
	// dataset session metrics.
	failedSessionSeconds = 10.0

	penaltyFrequentReconnections = 30
	penaltyShortSessions         = 20
	penaltyIPInstability         = 15
	penaltyDisconnectRate        = 20
	penaltyShortAvgMax           = 15.0

	disconnectRateThreshold = 0.3

	attentionScore = 70
)

// Windows holds the configured liveness thresholds.
type Windows struct {
	// Active is how long after the last activity a connected instance still
	// counts as active.
	Active time.Duration `yaml:"active"`
	// Heartbeat additionally requires a heartbeat within this window.
	// Zero disables the heartbeat check.
	Heartbeat time.Duration `yaml:"heartbeat"`
	// RecentDisconnect bounds the "recently disconnected" report window.
	RecentDisconnect time.Duration `yaml:"recent_disconnect"`
}

// DefaultWindows returns the standard minutes-scale liveness thresholds.
func DefaultWindows() Windows {
	return Windows{
		Active:           30 * time.Minute,
		Heartbeat:        0,
		RecentDisconnect: 24 * time.Hour,
	}
}

// IsActive reports whether the instance counts as active at now. An explicit
// connected status is necessary but not sufficient: a silent instance falls
// out of the active window without any disconnect event.
func IsActive(inst *model.Instance, now time.Time, w Windows) bool {
	if inst.Status != model.StatusConnected {
		return false
	}
	if now.Sub(inst.LastActive) >= w.Active {
		return false
	}
	if w.Heartbeat > 0 && now.Sub(inst.LastHeartbeat) >= w.Heartbeat {
		return false
	}
	return true
}

// IsRecentlyDisconnected reports whether the instance was active within the
// hours-scale recent-disconnect window.
func IsRecentlyDisconnected(inst *model.Instance, now time.Time, w Windows) bool {
	return now.Sub(inst.LastActive) < w.RecentDisconnect
}

// QualityIssues computes the issue tag set for an instance. An instance with
// no issues carries the singleton "stable" tag.
func QualityIssues(inst *model.Instance, now time.Time) []string {
	var issues []string
	if inst.ConnectionCount >= reconnectionCountThreshold && now.Sub(inst.FirstSeen) < reconnectionWindow {
		issues = append(issues, IssueFrequentReconnections)
	}
	if inst.AvgSessionSeconds > 0 && inst.AvgSessionSeconds < shortSessionSeconds {
		issues = append(issues, IssueShortSessions)
	}
	if len(inst.IPHistory) > 1 {
		issues = append(issues, IssueIPInstability)
	}
	if len(issues) == 0 {
		issues = []string{IssueStable}
	}
	return issues
}

// Score computes the 0-100 composite health score from the instance's
// counters and the issue tags present at now.
func Score(inst *model.Instance, now time.Time) int {
	score := 100.0
	for _, issue := range QualityIssues(inst, now) {
		switch issue {
		case IssueFrequentReconnections:
			score -= penaltyFrequentReconnections
		case IssueShortSessions:
			score -= penaltyShortSessions
		case IssueIPInstability:
			score -= penaltyIPInstability
		}
	}
	if inst.ConnectionCount > 0 {
		rate := float64(inst.DisconnectionCount) / float64(inst.ConnectionCount)
		if rate > disconnectRateThreshold {
			score -= penaltyDisconnectRate
		}
	}
	if inst.AvgSessionSeconds > 0 && inst.AvgSessionSeconds < healthySessionSeconds {
		shortfall := (healthySessionSeconds - inst.AvgSessionSeconds) / healthySessionSeconds
		score -= penaltyShortAvgMax * shortfall
	}
	return clampScore(score)
}

// Recommendations maps issue tags to remediation text. A score below 70 adds
// a generic attention message; a clean instance gets a single all-clear line.
func Recommendations(issues []string, score int) []string {
	var out []string
	for _, issue := range issues {
		switch issue {
		case IssueFrequentReconnections:
			out = append(out, "Instance reconnects unusually often; check network stability and supervisor restart policy")
		case IssueShortSessions:
			out = append(out, "Sessions end quickly; inspect the client for crash loops")
		case IssueIPInstability:
			out = append(out, "Instance address changes between sessions; pin the deployment or review NAT setup")
		}
	}
	if score < attentionScore {
		out = append(out, "Instance needs attention: composite health score below 70")
	}
	if len(out) == 0 {
		out = []string{"No issues detected"}
	}
	return out
}

// RecomputeInstance refreshes the cached derived fields on an instance.
// Called inside connect and disconnect, the only events that change session
// or connection shape.
func RecomputeInstance(inst *model.Instance, now time.Time) {
	inst.AvgSessionSeconds = mean(inst.ClosedDurations())
	inst.QualityIssues = QualityIssues(inst, now)
	inst.HealthScore = Score(inst, now)
}

// SessionMetricsFor recomputes the dataset session metrics from every closed
// session across all instances.
func SessionMetricsFor(ds *model.Dataset) model.SessionMetrics {
	var m model.SessionMetrics
	var sum float64
	var n int
	for _, inst := range ds.Instances {
		for _, d := range inst.ClosedDurations() {
			if n == 0 || d < m.MinSeconds {
				m.MinSeconds = d
			}
			if d > m.MaxSeconds {
				m.MaxSeconds = d
			}
			if d < failedSessionSeconds {
				m.FailedConnections++
			}
			sum += d
			n++
		}
	}
	if n > 0 {
		m.AvgSeconds = sum / float64(n)
	}
	return m
}

// QualityMetricsFor recomputes the dataset-wide quality scores. Per-instance
// cached health scores are trusted here; RecomputeInstance keeps them fresh.
func QualityMetricsFor(ds *model.Dataset) model.QualityMetrics {
	stats := ds.Statistics
	m := model.QualityMetrics{
		StabilityScore:    100,
		HealthScore:       100,
		ConnectionQuality: 100,
	}
	if stats.TotalConnections > 0 {
		failed := float64(stats.SessionMetrics.FailedConnections)
		m.StabilityScore = clampScore(100 * (1 - failed/float64(stats.TotalConnections)))
		abnormal := float64(stats.AbnormalDisconnects)
		m.ConnectionQuality = clampScore(100 * (1 - abnormal/float64(stats.TotalConnections)))
	}
	if len(ds.Instances) > 0 {
		sum := 0
		for _, inst := range ds.Instances {
			sum += inst.HealthScore
		}
		m.HealthScore = clampScore(float64(sum) / float64(len(ds.Instances)))
	}
	return m
}

// AbnormalReason reports whether a disconnect reason counts against
// connection quality. Clean shutdowns do not.
func AbnormalReason(reason string) bool {
	switch reason {
	case "", "normal", "shutdown", "client_request", "logout":
		return false
	}
	return true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clampScore(v float64) int {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return int(math.Round(v))
}
