// Package report assembles response payloads from the current dataset
// without mutating stored state. Every view reclassifies instances and users
// against "now" at query time: the explicit status field alone cannot capture
// timeout-based inactivity.
package report

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/soaska/botpulse/internal/health"
	"github.com/soaska/botpulse/internal/model"
	"github.com/soaska/botpulse/internal/store"
)

// errorFeedCap bounds the synthetic error feed.
const errorFeedCap = 50

// PeakRatchet is the sole tolerated write-back from the read path: an
// opportunistic update of the peak-connections ratchet.
type PeakRatchet interface {
	RatchetPeak()
}

// Projector builds read-model views over dataset snapshots.
type Projector struct {
	store   store.DatasetStore
	windows health.Windows
	ratchet PeakRatchet
	log     zerolog.Logger
	now     func() time.Time
}

// Option customises a Projector.
type Option func(*Projector)

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Projector) { p.now = now }
}

// WithRatchet enables the opportunistic peak write-back on stats reads.
func WithRatchet(r PeakRatchet) Option {
	return func(p *Projector) { p.ratchet = r }
}

// WithLogger sets the projector logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Projector) { p.log = log }
}

// New creates a Projector reading from the given store.
func New(ds store.DatasetStore, windows health.Windows, opts ...Option) *Projector {
	p := &Projector{
		store:   ds,
		windows: windows,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// snapshot loads the dataset for reading. Load errors degrade to the default
// dataset the store already returned; queries tolerate staleness.
func (p *Projector) snapshot() *model.Dataset {
	ds, err := p.store.Load()
	if err != nil {
		p.log.Warn().Err(err).Msg("stats read degraded to default dataset")
	}
	return ds
}

// StatsView is the dataset-wide statistics payload.
type StatsView struct {
	Timestamp time.Time `json:"timestamp"`

	TotalInstances    int `json:"total_instances"`
	ActiveInstances   int `json:"active_instances"`
	InactiveInstances int `json:"inactive_instances"`
	TotalUsers        int `json:"total_users"`
	ActiveUsers       int `json:"active_users"`

	CurrentConnections int `json:"current_connections"`
	PeakConnections    int `json:"peak_connections"`

	TotalConnections int64 `json:"total_connections"`
	Disconnections   int64 `json:"disconnections"`
	Reconnections    int64 `json:"reconnections"`
	TotalMessages    int64 `json:"total_messages"`
	Heartbeats       int64 `json:"heartbeats"`

	SessionMetrics model.SessionMetrics `json:"session_metrics"`
	QualityMetrics model.QualityMetrics `json:"quality_metrics"`

	Daily          map[string]*model.DailyCounters `json:"daily,omitempty"`
	UserAgents     map[string]int64                `json:"user_agents,omitempty"`
	MessagesByType map[string]int64                `json:"messages_by_type,omitempty"`
	GroupEvents    map[string]int64                `json:"group_events,omitempty"`
	StatusUpdates  map[string]int64                `json:"status_updates,omitempty"`
	Reactions      map[string]int64                `json:"reactions,omitempty"`
	Countries      map[string]int64                `json:"countries,omitempty"`
}

// Stats builds the statistics view. When the live connected count exceeds the
// stored peak, the ratchet write-back is triggered; the returned view already
// reflects the ratcheted value.
func (p *Projector) Stats() *StatsView {
	ds := p.snapshot()
	now := p.now()
	stats := ds.Statistics

	view := &StatsView{
		Timestamp:          now,
		TotalInstances:     len(ds.Instances),
		TotalUsers:         len(ds.Users),
		CurrentConnections: ds.ConnectedCount(),
		PeakConnections:    stats.PeakConnections,
		TotalConnections:   stats.TotalConnections,
		Disconnections:     stats.Disconnections,
		Reconnections:      stats.Reconnections,
		TotalMessages:      stats.TotalMessages,
		Heartbeats:         stats.Heartbeats,
		SessionMetrics:     stats.SessionMetrics,
		QualityMetrics:     stats.QualityMetrics,
		Daily:              stats.Daily,
		UserAgents:         stats.UserAgents,
		MessagesByType:     stats.MessagesByType,
		GroupEvents:        stats.GroupEvents,
		StatusUpdates:      stats.StatusUpdates,
		Reactions:          stats.Reactions,
		Countries:          stats.Countries,
	}

	for _, inst := range ds.Instances {
		if health.IsActive(inst, now, p.windows) {
			view.ActiveInstances++
		}
	}
	view.InactiveInstances = view.TotalInstances - view.ActiveInstances

	for _, u := range ds.Users {
		if now.Sub(u.LastActive) < p.windows.Active {
			view.ActiveUsers++
		}
	}

	if view.CurrentConnections > view.PeakConnections {
		view.PeakConnections = view.CurrentConnections
		if p.ratchet != nil {
			p.ratchet.RatchetPeak()
		}
	}
	return view
}

// InstanceView is one instance in a listing.
type InstanceView struct {
	ID                 string                `json:"id"`
	UserID             string                `json:"user_id,omitempty"`
	Status             model.Status          `json:"status"`
	Active             bool                  `json:"active"`
	FirstSeen          time.Time             `json:"first_seen"`
	LastActive         time.Time             `json:"last_active"`
	LastHeartbeat      time.Time             `json:"last_heartbeat"`
	UserAgent          string                `json:"user_agent,omitempty"`
	Country            string                `json:"country,omitempty"`
	ConnectionCount    int64                 `json:"connection_count"`
	DisconnectionCount int64                 `json:"disconnection_count"`
	AvgSessionSeconds  float64               `json:"avg_session_seconds"`
	HealthScore        int                   `json:"health_score"`
	QualityIssues      []string              `json:"quality_issues,omitempty"`
	SessionCount       int                   `json:"session_count"`
	LastDisconnect     *model.DisconnectInfo `json:"last_disconnect,omitempty"`
}

// InstancesView partitions the instance listing by live classification.
type InstancesView struct {
	Timestamp time.Time      `json:"timestamp"`
	Total     int            `json:"total"`
	Active    int            `json:"active"`
	Inactive  int            `json:"inactive"`
	Instances []InstanceView `json:"instances"`
}

// Instances builds the instance listing, sorted most recently active first.
func (p *Projector) Instances() *InstancesView {
	ds := p.snapshot()
	now := p.now()

	view := &InstancesView{
		Timestamp: now,
		Total:     len(ds.Instances),
		Instances: make([]InstanceView, 0, len(ds.Instances)),
	}
	for _, inst := range ds.Instances {
		active := health.IsActive(inst, now, p.windows)
		if active {
			view.Active++
		}
		view.Instances = append(view.Instances, InstanceView{
			ID:                 inst.ID,
			UserID:             inst.UserID,
			Status:             inst.Status,
			Active:             active,
			FirstSeen:          inst.FirstSeen,
			LastActive:         inst.LastActive,
			LastHeartbeat:      inst.LastHeartbeat,
			UserAgent:          inst.UserAgent,
			Country:            inst.Country,
			ConnectionCount:    inst.ConnectionCount,
			DisconnectionCount: inst.DisconnectionCount,
			AvgSessionSeconds:  inst.AvgSessionSeconds,
			HealthScore:        inst.HealthScore,
			QualityIssues:      inst.QualityIssues,
			SessionCount:       len(inst.Sessions),
			LastDisconnect:     inst.LastDisconnect,
		})
	}
	view.Inactive = view.Total - view.Active

	sort.Slice(view.Instances, func(i, j int) bool {
		return view.Instances[i].LastActive.After(view.Instances[j].LastActive)
	})
	return view
}

// UserView is one user in a listing.
type UserView struct {
	ID             string    `json:"id"`
	FirstSeen      time.Time `json:"first_seen"`
	LastActive     time.Time `json:"last_active"`
	Active         bool      `json:"active"`
	InstanceCount  int       `json:"instance_count"`
	TotalMessages  int64     `json:"total_messages"`
	TotalReactions int64     `json:"total_reactions"`
}

// UsersView is the user listing.
type UsersView struct {
	Timestamp time.Time  `json:"timestamp"`
	Total     int        `json:"total"`
	Active    int        `json:"active"`
	Users     []UserView `json:"users"`
}

// Users builds the user listing, sorted most recently active first.
func (p *Projector) Users() *UsersView {
	ds := p.snapshot()
	now := p.now()

	view := &UsersView{
		Timestamp: now,
		Total:     len(ds.Users),
		Users:     make([]UserView, 0, len(ds.Users)),
	}
	for _, u := range ds.Users {
		active := now.Sub(u.LastActive) < p.windows.Active
		if active {
			view.Active++
		}
		view.Users = append(view.Users, UserView{
			ID:             u.ID,
			FirstSeen:      u.FirstSeen,
			LastActive:     u.LastActive,
			Active:         active,
			InstanceCount:  len(u.Instances),
			TotalMessages:  u.TotalMessages,
			TotalReactions: u.TotalReactions,
		})
	}
	sort.Slice(view.Users, func(i, j int) bool {
		return view.Users[i].LastActive.After(view.Users[j].LastActive)
	})
	return view
}

// InstanceHealth is the per-instance slice of the health summary.
type InstanceHealth struct {
	ID                   string   `json:"id"`
	HealthScore          int      `json:"health_score"`
	QualityIssues        []string `json:"quality_issues"`
	Recommendations      []string `json:"recommendations"`
	Active               bool     `json:"active"`
	RecentlyDisconnected bool     `json:"recently_disconnected"`
}

// HealthSummary is the fleet health payload.
type HealthSummary struct {
	Timestamp            time.Time            `json:"timestamp"`
	QualityMetrics       model.QualityMetrics `json:"quality_metrics"`
	ActiveInstances      int                  `json:"active_instances"`
	RecentlyDisconnected int                  `json:"recently_disconnected"`
	Instances            []InstanceHealth     `json:"instances"`
}

// Health builds the health summary, reclassifying every instance against now
// and attaching remediation recommendations, worst health first.
func (p *Projector) Health() *HealthSummary {
	ds := p.snapshot()
	now := p.now()

	summary := &HealthSummary{
		Timestamp:      now,
		QualityMetrics: health.QualityMetricsFor(ds),
		Instances:      make([]InstanceHealth, 0, len(ds.Instances)),
	}
	for _, inst := range ds.Instances {
		issues := health.QualityIssues(inst, now)
		score := health.Score(inst, now)
		active := health.IsActive(inst, now, p.windows)
		recent := !active && inst.Status == model.StatusDisconnected &&
			health.IsRecentlyDisconnected(inst, now, p.windows)
		if active {
			summary.ActiveInstances++
		}
		if recent {
			summary.RecentlyDisconnected++
		}
		summary.Instances = append(summary.Instances, InstanceHealth{
			ID:                   inst.ID,
			HealthScore:          score,
			QualityIssues:        issues,
			Recommendations:      health.Recommendations(issues, score),
			Active:               active,
			RecentlyDisconnected: recent,
		})
	}
	sort.Slice(summary.Instances, func(i, j int) bool {
		if summary.Instances[i].HealthScore != summary.Instances[j].HealthScore {
			return summary.Instances[i].HealthScore < summary.Instances[j].HealthScore
		}
		return summary.Instances[i].ID < summary.Instances[j].ID
	})
	return summary
}

// ErrorEntry is one item of the synthetic error feed. Entries derived from
// disconnects carry a timestamp and instance id; entries derived from the
// error-type breakdown carry only the type and occurrence count.
type ErrorEntry struct {
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	InstanceID string     `json:"instance_id,omitempty"`
	Error      string     `json:"error"`
	Count      int64      `json:"count,omitempty"`
}

// ErrorsView is the bounded error feed.
type ErrorsView struct {
	Timestamp time.Time    `json:"timestamp"`
	Total     int          `json:"total"`
	Errors    []ErrorEntry `json:"errors"`
}

// Errors builds the error feed: abnormal last-disconnect reasons most recent
// first, then the error-type breakdown, capped at 50 entries.
func (p *Projector) Errors() *ErrorsView {
	ds := p.snapshot()
	now := p.now()

	var feed []ErrorEntry
	for _, inst := range ds.Instances {
		if inst.LastDisconnect == nil || !health.AbnormalReason(inst.LastDisconnect.Reason) {
			continue
		}
		ts := inst.LastDisconnect.Timestamp
		feed = append(feed, ErrorEntry{
			Timestamp:  &ts,
			InstanceID: inst.ID,
			Error:      inst.LastDisconnect.Reason,
		})
	}
	sort.Slice(feed, func(i, j int) bool {
		return feed[i].Timestamp.After(*feed[j].Timestamp)
	})

	types := make([]string, 0, len(ds.Statistics.Errors))
	for errType := range ds.Statistics.Errors {
		types = append(types, errType)
	}
	sort.Strings(types)
	for _, errType := range types {
		feed = append(feed, ErrorEntry{
			Error: errType,
			Count: ds.Statistics.Errors[errType],
		})
	}

	if len(feed) > errorFeedCap {
		feed = feed[:errorFeedCap]
	}
	return &ErrorsView{
		Timestamp: now,
		Total:     len(feed),
		Errors:    feed,
	}
}
