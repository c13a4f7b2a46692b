package model

import (
	"encoding/json"
	"time"
)

// Status is the explicit connection state of an instance. It is set by
// connect/disconnect events and is not derived from timestamps.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Session is one contiguous connected interval for an instance. A session
// with a nil End is still open.
type Session struct {
	Start            time.Time  `json:"start"`
	End              *time.Time `json:"end,omitempty"`
	DurationSeconds  float64    `json:"duration_seconds,omitempty"`
	IP               string     `json:"ip,omitempty"`
	UserAgent        string     `json:"user_agent,omitempty"`
	DisconnectReason string     `json:"disconnect_reason,omitempty"`
}

// DisconnectInfo records the most recent disconnect of an instance.
type DisconnectInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Instance is one reporting bot client process, identified by a stable id
// across reconnects.
type Instance struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id,omitempty"`
	FirstSeen          time.Time       `json:"first_seen"`
	LastActive         time.Time       `json:"last_active"`
	LastHeartbeat      time.Time       `json:"last_heartbeat"`
	Status             Status          `json:"status"`
	UserAgent          string          `json:"user_agent,omitempty"`
	IPAddress          string          `json:"ip_address,omitempty"`
	IPHistory          []string        `json:"ip_history,omitempty"`
	Country            string          `json:"country,omitempty"`
	ConnectionCount    int64           `json:"connection_count"`
	DisconnectionCount int64           `json:"disconnection_count"`
	Sessions           []Session       `json:"sessions,omitempty"`

	// Cached derived fields, recomputed on every connect/disconnect.
	// Never trusted as ground truth without recomputation.
	AvgSessionSeconds float64  `json:"avg_session_seconds"`
	HealthScore       int      `json:"health_score"`
	QualityIssues     []string `json:"quality_issues,omitempty"`

	LastDisconnect *DisconnectInfo `json:"last_disconnect,omitempty"`
	SystemInfo     json.RawMessage `json:"system_info,omitempty"`
}

// NewInstance creates an instance in the connected state with one open session.
func NewInstance(id, userID, userAgent, ip string, now time.Time) *Instance {
	inst := &Instance{
		ID:              id,
		UserID:          userID,
		FirstSeen:       now,
		LastActive:      now,
		LastHeartbeat:   now,
		Status:          StatusConnected,
		UserAgent:       userAgent,
		ConnectionCount: 1,
		HealthScore:     100,
	}
	inst.RecordIP(ip)
	inst.OpenSession(now, ip, userAgent)
	return inst
}

// CurrentSession returns the open session, or nil if the instance has none.
func (i *Instance) CurrentSession() *Session {
	if len(i.Sessions) == 0 {
		return nil
	}
	last := &i.Sessions[len(i.Sessions)-1]
	if last.End == nil {
		return last
	}
	return nil
}

// OpenSession appends a new open session. Callers must close any previous
// session first; an already-open session is left untouched.
func (i *Instance) OpenSession(now time.Time, ip, userAgent string) {
	if i.CurrentSession() != nil {
		return
	}
	i.Sessions = append(i.Sessions, Session{
		Start:     now,
		IP:        ip,
		UserAgent: userAgent,
	})
}

// CloseSession closes the open session, stamping its end, duration and
// disconnect reason. It is a no-op when no session is open.
func (i *Instance) CloseSession(now time.Time, reason string) *Session {
	s := i.CurrentSession()
	if s == nil {
		return nil
	}
	end := now
	s.End = &end
	d := now.Sub(s.Start)
	if d < 0 {
		d = 0
	}
	s.DurationSeconds = d.Seconds()
	s.DisconnectReason = reason
	return s
}

// Touch advances last_active. Timestamps never move backwards.
func (i *Instance) Touch(now time.Time) {
	if now.After(i.LastActive) {
		i.LastActive = now
	}
}

// TouchHeartbeat advances last_heartbeat and last_active.
func (i *Instance) TouchHeartbeat(now time.Time) {
	if now.After(i.LastHeartbeat) {
		i.LastHeartbeat = now
	}
	i.Touch(now)
}

// RecordIP sets the current IP and appends it to the append-only IP history
// if not already present. Empty IPs are ignored.
func (i *Instance) RecordIP(ip string) {
	if ip == "" {
		return
	}
	i.IPAddress = ip
	for _, seen := range i.IPHistory {
		if seen == ip {
			return
		}
	}
	i.IPHistory = append(i.IPHistory, ip)
}

// ClosedDurations returns the durations in seconds of all closed sessions.
func (i *Instance) ClosedDurations() []float64 {
	var out []float64
	for idx := range i.Sessions {
		if i.Sessions[idx].End != nil {
			out = append(out, i.Sessions[idx].DurationSeconds)
		}
	}
	return out
}
