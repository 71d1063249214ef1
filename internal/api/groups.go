package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleetwatch/internal/device"
)

// createGroupRequest is the request body for POST /groups.
type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ParentID    string `json:"parentId,omitempty"`
}

// groupDetail is the response for GET /groups/{id}.
type groupDetail struct {
	*device.Group
	Parent   *device.Group   `json:"parent,omitempty"`
	Children []device.Group  `json:"children"`
	Devices  []device.Device `json:"devices"`
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.List(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	g := &device.Group{
		Name:        req.Name,
		Description: req.Description,
		ParentID:    req.ParentID,
	}
	if err := s.groups.Create(r.Context(), g); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// handleGetGroup returns a group with its parent, direct children and
// member devices.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	g, err := s.groups.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	detail := groupDetail{Group: g}
	if g.ParentID != "" {
		if detail.Parent, err = s.groups.GetByID(ctx, g.ParentID); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	if detail.Children, err = s.groups.Children(ctx, g.ID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if detail.Devices, err = s.devices.List(ctx, device.Filter{GroupID: g.ID}); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var patch device.GroupPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	g, err := s.groups.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleDeleteGroup removes a group. Its devices and child groups are kept
// and detached.
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.groups.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
