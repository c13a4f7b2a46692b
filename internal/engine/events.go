package engine

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/soaska/botpulse/internal/health"
	"github.com/soaska/botpulse/internal/metrics"
	"github.com/soaska/botpulse/internal/model"
)

func newInstanceID() string {
	return uuid.NewString()
}

// Connect processes a connect event. The instance id is resolved in this
// order: a caller-supplied id not already owned by a different user, then the
// identity registry's last-issued id for the user, then a freshly minted id.
func (c *Collector) Connect(ev model.ConnectEvent) model.ConnectResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds := c.load()
	now := c.now()
	stats := ds.Statistics

	id := c.resolveInstanceID(ds, ev)
	inst := ds.Instance(id)
	reconnection := false

	switch {
	case inst == nil:
		inst = model.NewInstance(id, ev.UserID, ev.UserAgent, ev.IP, now)
		if c.geo != nil && ev.IP != "" {
			if country := c.geo.Country(ev.IP); country != "" {
				inst.Country = country
				stats.Countries[country]++
			}
		}
		ds.Instances[id] = inst
		stats.TotalConnections++
		stats.DayFor(now).Connections++
		if ev.UserAgent != "" {
			stats.UserAgents[ev.UserAgent]++
		}

	case inst.Status == model.StatusDisconnected:
		// Previous session was already closed at disconnect time.
		reconnection = true
		inst.Status = model.StatusConnected
		inst.TouchHeartbeat(now)
		inst.RecordIP(ev.IP)
		if ev.UserAgent != "" {
			inst.UserAgent = ev.UserAgent
			stats.UserAgents[ev.UserAgent]++
		}
		inst.OpenSession(now, ev.IP, ev.UserAgent)
		inst.ConnectionCount++
		stats.Reconnections++
		stats.DayFor(now).Connections++

	default:
		// Duplicate connect from an already-connected instance is treated
		// as a heartbeat: refresh timestamps, change no counters.
		inst.TouchHeartbeat(now)
	}

	user := ds.EnsureUser(ev.UserID, now)
	user.Touch(now)
	user.AddInstance(id)

	if err := c.registry.Assign(ev.UserID, id); err != nil {
		c.log.Warn().Err(err).Str("user_id", ev.UserID).Msg("failed to persist identity registry")
	}

	health.RecomputeInstance(inst, now)
	refreshConnectionCounts(ds)
	refreshDatasetMetrics(ds)
	c.save(ds)

	metrics.EventsReceived.WithLabelValues("connect").Inc()
	return model.ConnectResult{InstanceID: id, Reconnection: reconnection}
}

func (c *Collector) resolveInstanceID(ds *model.Dataset, ev model.ConnectEvent) string {
	if ev.InstanceID != "" {
		existing := ds.Instance(ev.InstanceID)
		if existing == nil || existing.UserID == ev.UserID {
			return ev.InstanceID
		}
		// Supplied id is already tracked as a different identity.
		c.diag.Append(fmt.Sprintf("connect from user %s supplied foreign instance id %s", ev.UserID, ev.InstanceID), ev.IP, "")
	}
	if id, ok := c.registry.Resolve(ev.UserID); ok && id != "" {
		return id
	}
	return c.mintID()
}

// Heartbeat refreshes liveness timestamps. Unknown instance ids are a silent
// no-op; heartbeats never change status or session state.
func (c *Collector) Heartbeat(ev model.HeartbeatEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds := c.load()
	inst := ds.Instance(ev.InstanceID)
	if inst == nil {
		c.diag.Append(fmt.Sprintf("heartbeat for unknown instance %s", ev.InstanceID), "", "")
		return
	}

	inst.TouchHeartbeat(c.now())
	ds.Statistics.Heartbeats++
	refreshConnectionCounts(ds)
	c.save(ds)

	metrics.EventsReceived.WithLabelValues("heartbeat").Inc()
}

// Disconnect closes the current session and flips the instance to the
// disconnected state. Unknown ids and duplicate disconnects are no-ops.
func (c *Collector) Disconnect(ev model.DisconnectEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds := c.load()
	inst := ds.Instance(ev.InstanceID)
	if inst == nil {
		c.diag.Append(fmt.Sprintf("disconnect for unknown instance %s", ev.InstanceID), "", "")
		return
	}
	if inst.Status == model.StatusDisconnected {
		c.diag.Append(fmt.Sprintf("duplicate disconnect for instance %s", ev.InstanceID), "", "")
		return
	}

	now := c.now()
	stats := ds.Statistics

	inst.CloseSession(now, ev.Reason)
	inst.Status = model.StatusDisconnected
	inst.Touch(now)
	inst.DisconnectionCount++
	inst.LastDisconnect = &model.DisconnectInfo{Timestamp: now, Reason: ev.Reason}

	stats.Disconnections++
	stats.DayFor(now).Disconnections++
	if health.AbnormalReason(ev.Reason) {
		stats.AbnormalDisconnects++
		stats.Errors[ev.Reason]++
	}

	health.RecomputeInstance(inst, now)
	refreshConnectionCounts(ds)
	refreshDatasetMetrics(ds)
	c.save(ds)

	metrics.EventsReceived.WithLabelValues("disconnect").Inc()
}

// Track dispatches an activity event by type into the breakdown counters.
// Activity timestamps are refreshed first regardless of event kind; an
// unrecognized type still counts as activity. A message-type event from an
// unknown user creates the user record, but never an instance.
func (c *Collector) Track(ev model.TrackEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds := c.load()
	now := c.now()
	stats := ds.Statistics

	inst := ds.Instance(ev.InstanceID)
	if inst != nil {
		inst.Touch(now)
	}

	user := ds.User(ev.UserID)
	if user == nil && ev.UserID != "" && messageKind(ev.EventType) {
		user = ds.EnsureUser(ev.UserID, now)
	}
	if user != nil {
		user.Touch(now)
	}

	if inst == nil && user == nil {
		c.diag.Append(fmt.Sprintf("track event %q references no known instance or user", ev.EventType), "", "")
		return
	}

	var payload model.TrackPayload
	if len(ev.Payload) > 0 {
		// Malformed payloads still count as activity.
		_ = json.Unmarshal(ev.Payload, &payload)
	}

	switch ev.EventType {
	case model.EventMessage:
		stats.TotalMessages++
		stats.DayFor(now).Messages++
		stats.MessagesByType[breakdownKey(payload.MessageType, "text")]++
		if user != nil {
			user.TotalMessages++
		}
	case model.EventGroupUpdate:
		stats.GroupEvents[breakdownKey(payload.GroupEvent, "unknown")]++
	case model.EventStatusUpdate:
		stats.StatusUpdates[breakdownKey(payload.Status, "unknown")]++
	case model.EventReaction:
		stats.Reactions[breakdownKey(payload.Reaction, "unknown")]++
		if user != nil {
			user.TotalReactions++
		}
	case model.EventHeartbeat:
		if inst != nil {
			inst.TouchHeartbeat(now)
			stats.Heartbeats++
		}
	default:
		// Accepted and ignored for counters.
	}

	if payload.Error != "" {
		stats.Errors[payload.Error]++
	}

	refreshConnectionCounts(ds)
	c.save(ds)

	metrics.EventsReceived.WithLabelValues("track").Inc()
}

// SystemInfo stores the latest system report verbatim on the instance and a
// timestamped copy in the global breakdown. Unknown ids are a no-op.
func (c *Collector) SystemInfo(ev model.SystemInfoEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds := c.load()
	inst := ds.Instance(ev.InstanceID)
	if inst == nil {
		c.diag.Append(fmt.Sprintf("system info for unknown instance %s", ev.InstanceID), "", "")
		return
	}

	now := c.now()
	inst.SystemInfo = ev.Info
	inst.TouchHeartbeat(now)
	ds.Statistics.SystemInfo[ev.InstanceID] = model.SystemInfoRecord{
		ReportedAt: now,
		Info:       ev.Info,
	}

	refreshConnectionCounts(ds)
	c.save(ds)

	metrics.EventsReceived.WithLabelValues("system_info").Inc()
}

func messageKind(eventType string) bool {
	return eventType == model.EventMessage || eventType == model.EventReaction
}

func breakdownKey(key, fallback string) string {
	if key == "" {
		return fallback
	}
	return key
}
