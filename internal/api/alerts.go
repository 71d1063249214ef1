package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleetwatch/internal/alert"
	"github.com/nerrad567/fleetwatch/internal/bus"
)

// bulkAcknowledgeRequest is the request body for POST /alerts/bulk/acknowledge.
type bulkAcknowledgeRequest struct {
	AlertIDs []string `json:"alertIds"`
}

// handleListAlerts returns alerts newest first, filtered by
// ?acknowledged=, ?severity=, ?deviceId= and ?limit=.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter alert.Filter

	if raw := q.Get("acknowledged"); raw != "" {
		ack, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "acknowledged must be true or false")
			return
		}
		filter.Acknowledged = &ack
	}
	if raw := q.Get("severity"); raw != "" {
		sev, ok := alert.ParseSeverity(raw)
		if !ok {
			writeBadRequest(w, "severity must be one of INFO, WARNING, ERROR, CRITICAL")
			return
		}
		filter.Severity = sev
	}
	filter.DeviceID = q.Get("deviceId")

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	filter.Limit = limit

	alerts, err := s.alerts.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleGetAlert returns one alert.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.alerts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleAcknowledgeAlert records the caller as the acknowledger.
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.alerts.Acknowledge(r.Context(), chi.URLParam(r, "id"), userIDFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.announce(bus.EventAlertAcknowledged, a)
	writeJSON(w, http.StatusOK, a)
}

// handleBulkAcknowledge acknowledges several alerts at once. Unknown ids
// are skipped; count reports how many rows were updated.
func (s *Server) handleBulkAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req bulkAcknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.AlertIDs) == 0 {
		writeBadRequest(w, "alertIds must not be empty")
		return
	}

	count, err := s.alerts.BulkAcknowledge(r.Context(), req.AlertIDs, userIDFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.announce(bus.EventAlertsBulkAcknowledge, map[string]any{"alertIds": req.AlertIDs})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Alerts acknowledged",
		"count":   count,
	})
}

// handleDeleteAlert removes an alert.
func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
