package model

import (
	"encoding/json"
	"time"
)

// DailyCounters holds per-day event counts, keyed by date in Statistics.Daily.
type DailyCounters struct {
	Connections    int64 `json:"connections"`
	Disconnections int64 `json:"disconnections"`
	Messages       int64 `json:"messages"`
}

// SessionMetrics is recomputed from the full corpus of closed sessions across
// all instances on every connect/disconnect.
type SessionMetrics struct {
	AvgSeconds        float64 `json:"avg_seconds"`
	MinSeconds        float64 `json:"min_seconds"`
	MaxSeconds        float64 `json:"max_seconds"`
	FailedConnections int64   `json:"failed_connections"`
}

// QualityMetrics are dataset-wide scores in [0,100].
type QualityMetrics struct {
	StabilityScore    int `json:"stability_score"`
	HealthScore       int `json:"health_score"`
	ConnectionQuality int `json:"connection_quality"`
}

// SystemInfoRecord is a timestamped copy of a system-info report, kept in the
// global breakdown map keyed by instance id.
type SystemInfoRecord struct {
	ReportedAt time.Time       `json:"reported_at"`
	Info       json.RawMessage `json:"info"`
}

// Statistics is the singleton dataset-wide aggregate. The counters are
// monotonic; current_connections is recomputed from the instance set on every
// mutating event rather than incremented, so it cannot drift; peak_connections
// only ever ratchets upward.
type Statistics struct {
	TotalConnections    int64 `json:"total_connections"`
	Disconnections      int64 `json:"disconnections"`
	Reconnections       int64 `json:"reconnections"`
	TotalMessages       int64 `json:"total_messages"`
	Heartbeats          int64 `json:"heartbeats"`
	AbnormalDisconnects int64 `json:"abnormal_disconnects"`

	CurrentConnections int `json:"current_connections"`
	PeakConnections    int `json:"peak_connections"`

	// Breakdown maps grow without bound; see DESIGN.md.
	Daily          map[string]*DailyCounters   `json:"daily,omitempty"`
	UserAgents     map[string]int64            `json:"user_agents,omitempty"`
	MessagesByType map[string]int64            `json:"messages_by_type,omitempty"`
	GroupEvents    map[string]int64            `json:"group_events,omitempty"`
	StatusUpdates  map[string]int64            `json:"status_updates,omitempty"`
	Reactions      map[string]int64            `json:"reactions,omitempty"`
	Errors         map[string]int64            `json:"errors,omitempty"`
	Countries      map[string]int64            `json:"countries,omitempty"`
	SystemInfo     map[string]SystemInfoRecord `json:"system_info,omitempty"`

	SessionMetrics SessionMetrics `json:"session_metrics"`
	QualityMetrics QualityMetrics `json:"quality_metrics"`
}

// NewStatistics returns zeroed statistics with neutral quality scores.
func NewStatistics() *Statistics {
	return &Statistics{
		Daily:          map[string]*DailyCounters{},
		UserAgents:     map[string]int64{},
		MessagesByType: map[string]int64{},
		GroupEvents:    map[string]int64{},
		StatusUpdates:  map[string]int64{},
		Reactions:      map[string]int64{},
		Errors:         map[string]int64{},
		Countries:      map[string]int64{},
		SystemInfo:     map[string]SystemInfoRecord{},
		QualityMetrics: QualityMetrics{
			StabilityScore:    100,
			HealthScore:       100,
			ConnectionQuality: 100,
		},
	}
}

// DayFor bucketizes a timestamp into the daily breakdown key, creating the
// bucket on first use.
func (s *Statistics) DayFor(now time.Time) *DailyCounters {
	if s.Daily == nil {
		s.Daily = map[string]*DailyCounters{}
	}
	key := now.UTC().Format("2006-01-02")
	day, ok := s.Daily[key]
	if !ok {
		day = &DailyCounters{}
		s.Daily[key] = day
	}
	return day
}

// ensureMaps backfills nil breakdown maps after JSON decoding of documents
// written by older versions.
func (s *Statistics) ensureMaps() {
	if s.Daily == nil {
		s.Daily = map[string]*DailyCounters{}
	}
	if s.UserAgents == nil {
		s.UserAgents = map[string]int64{}
	}
	if s.MessagesByType == nil {
		s.MessagesByType = map[string]int64{}
	}
	if s.GroupEvents == nil {
		s.GroupEvents = map[string]int64{}
	}
	if s.StatusUpdates == nil {
		s.StatusUpdates = map[string]int64{}
	}
	if s.Reactions == nil {
		s.Reactions = map[string]int64{}
	}
	if s.Errors == nil {
		s.Errors = map[string]int64{}
	}
	if s.Countries == nil {
		s.Countries = map[string]int64{}
	}
	if s.SystemInfo == nil {
		s.SystemInfo = map[string]SystemInfoRecord{}
	}
}
