package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/soaska/botpulse/internal/model"
	"github.com/soaska/botpulse/internal/report"
)

// handleConnect ingests a connect event and returns the resolved instance id.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var ev model.ConnectEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.respondError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ev.UserID == "" {
		s.respondError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	ev.IP = s.clientIP(r)

	result := s.collector.Connect(ev)
	s.respondJSON(w, result, http.StatusOK)
}

// handleDisconnect ingests a disconnect event. Unknown instance ids are a
// no-op, not an error.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var ev model.DisconnectEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.respondError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ev.InstanceID == "" {
		s.respondError(w, "instance_id is required", http.StatusBadRequest)
		return
	}

	s.collector.Disconnect(ev)
	s.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var ev model.HeartbeatEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.respondError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ev.InstanceID == "" {
		s.respondError(w, "instance_id is required", http.StatusBadRequest)
		return
	}

	s.collector.Heartbeat(ev)
	s.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var ev model.TrackEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.respondError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ev.EventType == "" {
		s.respondError(w, "event_type is required", http.StatusBadRequest)
		return
	}
	if ev.InstanceID == "" && ev.UserID == "" {
		s.respondError(w, "instance_id or user_id is required", http.StatusBadRequest)
		return
	}

	s.collector.Track(ev)
	s.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	var ev model.SystemInfoEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.respondError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ev.InstanceID == "" {
		s.respondError(w, "instance_id is required", http.StatusBadRequest)
		return
	}
	if len(ev.Info) == 0 {
		s.respondError(w, "info is required", http.StatusBadRequest)
		return
	}

	s.collector.SystemInfo(ev)
	s.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var cached report.StatsView
	if s.cache.GetView(r.Context(), "stats", &cached) {
		s.respondJSON(w, &cached, http.StatusOK)
		return
	}

	view := s.projector.Stats()
	s.cache.PutView(r.Context(), "stats", view)
	s.respondJSON(w, view, http.StatusOK)
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	var cached report.InstancesView
	if s.cache.GetView(r.Context(), "instances", &cached) {
		s.respondJSON(w, &cached, http.StatusOK)
		return
	}

	view := s.projector.Instances()
	s.cache.PutView(r.Context(), "instances", view)
	s.respondJSON(w, view, http.StatusOK)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	var cached report.UsersView
	if s.cache.GetView(r.Context(), "users", &cached) {
		s.respondJSON(w, &cached, http.StatusOK)
		return
	}

	view := s.projector.Users()
	s.cache.PutView(r.Context(), "users", view)
	s.respondJSON(w, view, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var cached report.HealthSummary
	if s.cache.GetView(r.Context(), "health", &cached) {
		s.respondJSON(w, &cached, http.StatusOK)
		return
	}

	view := s.projector.Health()
	s.cache.PutView(r.Context(), "health", view)
	s.respondJSON(w, view, http.StatusOK)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	view := s.projector.Errors()
	s.respondJSON(w, view, http.StatusOK)
}

// handleDiagnostics returns recent diagnostic log entries. Admin only.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.diagnostics == nil {
		s.respondError(w, "diagnostics disabled", http.StatusNotFound)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	entries, err := s.diagnostics.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to query diagnostics")
		s.respondError(w, "failed to query diagnostics", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, map[string]interface{}{"entries": entries}, http.StatusOK)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}, http.StatusOK)
}
