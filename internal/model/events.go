package model

import "encoding/json"

// Track event types understood by the collector. Unrecognized types still
// refresh activity timestamps but update no counters.
const (
	EventMessage      = "message"
	EventGroupUpdate  = "group_update"
	EventStatusUpdate = "status_update"
	EventReaction     = "message_reaction"
	EventHeartbeat    = "heartbeat"
)

// ConnectEvent reports a bot instance coming online. InstanceID is optional;
// the collector resolves or mints one.
type ConnectEvent struct {
	UserID     string `json:"user_id"`
	UserAgent  string `json:"user_agent,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	IP         string `json:"-"`
}

// ConnectResult is returned to the reporting instance.
type ConnectResult struct {
	InstanceID   string `json:"instance_id"`
	Reconnection bool   `json:"is_reconnection"`
}

// DisconnectEvent reports an instance going offline.
type DisconnectEvent struct {
	InstanceID string `json:"instance_id"`
	Reason     string `json:"reason,omitempty"`
}

// HeartbeatEvent is a keep-alive ping from a connected instance.
type HeartbeatEvent struct {
	InstanceID string `json:"instance_id"`
}

// TrackEvent carries activity telemetry. A message-type event may arrive from
// a user that never connected; the user record is created on the fly.
type TrackEvent struct {
	InstanceID string          `json:"instance_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// SystemInfoEvent carries an opaque system report from an instance.
type SystemInfoEvent struct {
	InstanceID string          `json:"instance_id"`
	Info       json.RawMessage `json:"info"`
}

// TrackPayload is the subset of the track payload the collector inspects for
// breakdown keys. The rest stays opaque.
type TrackPayload struct {
	MessageType string `json:"message_type,omitempty"`
	GroupEvent  string `json:"group_event,omitempty"`
	Status      string `json:"status,omitempty"`
	Reaction    string `json:"reaction,omitempty"`
	Error       string `json:"error,omitempty"`
}
