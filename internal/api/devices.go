package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleetwatch/internal/bus"
	"github.com/nerrad567/fleetwatch/internal/command"
	"github.com/nerrad567/fleetwatch/internal/device"
	"github.com/nerrad567/fleetwatch/internal/telemetry"
)

// createDeviceRequest is the request body for POST /devices.
type createDeviceRequest struct {
	DeviceID    string          `json:"deviceId"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Location    device.Location `json:"location"`
	Tags        []string        `json:"tags,omitempty"`
	GroupID     string          `json:"groupId,omitempty"`
}

// sendCommandRequest is the request body for POST /devices/{id}/commands.
type sendCommandRequest struct {
	Command string         `json:"command"`
	Payload map[string]any `json:"payload,omitempty"`
}

// bulkRebootRequest is the request body for POST /devices/bulk/reboot.
type bulkRebootRequest struct {
	DeviceIDs []string `json:"deviceIds"`
}

// commandAccepted is the response for single-device command endpoints.
type commandAccepted struct {
	Message   string `json:"message"`
	CommandID string `json:"commandId"`
}

// screenshotResponse is the response for GET /devices/{id}/screenshot.
// LatestScreenshot is the newest completed capture and null before the
// device has delivered one.
type screenshotResponse struct {
	Message          string           `json:"message"`
	CommandID        string           `json:"commandId"`
	LatestScreenshot *command.Command `json:"latestScreenshot"`
}

// handleListDevices returns devices, optionally filtered by ?status=,
// ?search= and ?groupId=.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := device.Filter{Search: q.Get("search"), GroupID: q.Get("groupId")}
	if raw := q.Get("status"); raw != "" {
		filter.Status = device.Status(strings.ToUpper(raw))
		if !filter.Status.Valid() {
			writeBadRequest(w, "invalid status filter: "+raw)
			return
		}
	}

	devices, err := s.devices.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleCreateDevice registers a device. New devices always start PENDING.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d := &device.Device{
		DeviceID:    req.DeviceID,
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Tags:        req.Tags,
		GroupID:     req.GroupID,
	}
	if err := s.devices.Create(r.Context(), d); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.announce(bus.EventDeviceCreated, d)
	writeJSON(w, http.StatusCreated, d)
}

// handleGetDevice returns a single device by internal id.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleUpdateDevice applies a partial update to the operator-editable fields.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var patch device.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.devices.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.announce(bus.EventDeviceUpdated, d)
	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice removes a device and everything recorded for it.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.devices.Delete(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.announce(bus.EventDeviceDeleted, map[string]string{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

// handleSendCommand dispatches an arbitrary command to a device. The
// command is stored even when the broker is unreachable.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req sendCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeBadRequest(w, "command is required")
		return
	}

	d, err := s.devices.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	cmd, err := s.dispatcher.Dispatch(r.Context(), d, req.Command, req.Payload, userIDFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, commandAccepted{Message: "Command sent", CommandID: cmd.ID})
}

// handleRebootDevice dispatches a reboot and marks the device REBOOTING.
func (s *Server) handleRebootDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	cmd, err := s.dispatcher.Reboot(r.Context(), d, userIDFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, commandAccepted{Message: "Reboot command sent", CommandID: cmd.ID})
}

// handleScreenshot asks the device for a new capture and returns the
// latest one already received.
func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	requested, latest, err := s.dispatcher.Screenshot(r.Context(), d, userIDFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, screenshotResponse{
		Message:          "Screenshot requested",
		CommandID:        requested.ID,
		LatestScreenshot: latest,
	})
}

// handleBulkReboot reboots every listed device. Unknown ids are reported
// per device rather than failing the request.
func (s *Server) handleBulkReboot(w http.ResponseWriter, r *http.Request) {
	var req bulkRebootRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.DeviceIDs) == 0 {
		writeBadRequest(w, "deviceIds must not be empty")
		return
	}

	results, err := s.dispatcher.BulkReboot(r.Context(), req.DeviceIDs, userIDFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Bulk reboot initiated",
		"results": results,
	})
}

// handleDeviceMetrics returns metric samples for ?period= (default 24h),
// oldest first.
func (s *Server) handleDeviceMetrics(w http.ResponseWriter, r *http.Request) {
	window, err := telemetry.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeBadRequest(w, "period must be one of 1h, 6h, 24h, 7d, 30d")
		return
	}

	d, err := s.devices.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	samples, err := s.telemetry.ListMetrics(r.Context(), d.ID, s.clock.Now().Add(-window))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// handleDeviceLogs returns the newest log lines, filtered by ?level=.
func (s *Server) handleDeviceLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	d, err := s.devices.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	entries, err := s.telemetry.ListLogs(r.Context(), d.ID, telemetry.LogFilter{
		Level: r.URL.Query().Get("level"),
		Limit: limit,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleDeviceEvents returns the newest events, filtered by ?type=.
func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	d, err := s.devices.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	events, err := s.telemetry.ListEvents(r.Context(), d.ID, telemetry.EventFilter{
		EventType: r.URL.Query().Get("type"),
		Limit:     limit,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleDeviceCommands returns the device's command history, newest first.
func (s *Server) handleDeviceCommands(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	d, err := s.devices.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	cmds, err := s.commands.ListByDevice(r.Context(), d.ID, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmds)
}

// parseLimit reads ?limit=. Zero (absent) means the repository default.
// It writes a 400 and returns false for a malformed value.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		writeBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}

// announce publishes a fleet-wide event for a REST mutation.
func (s *Server) announce(name string, payload any) {
	s.bus.Publish(bus.Event{
		Name:      name,
		Scope:     bus.All(),
		Payload:   payload,
		Timestamp: s.clock.Now(),
	})
}
