package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ppmcore/internal/audit"
	"ppmcore/internal/store"
)

type roleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	role := &store.RoleRow{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		Active:      true,
	}
	if err := s.svc.Authz.CreateRole(r.Context(), role); err != nil {
		writeError(w, err)
		return
	}
	s.svc.Audit.Record(r.Context(), audit.EventRoleChange, id.UserID, "role", role.ID,
		map[string]interface{}{"action": "create", "name": role.Name})
	writeJSON(w, http.StatusCreated, role)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	roleID := chi.URLParam(r, "roleID")

	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	role := &store.RoleRow{
		ID:          roleID,
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		Active:      true,
	}
	if err := s.svc.Authz.UpdateRole(r.Context(), role); err != nil {
		writeError(w, err)
		return
	}
	s.svc.Audit.Record(r.Context(), audit.EventRoleChange, id.UserID, "role", roleID,
		map[string]interface{}{"action": "update"})
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	roleID := chi.URLParam(r, "roleID")

	if err := s.svc.Authz.DeleteRole(r.Context(), roleID); err != nil {
		writeError(w, err)
		return
	}
	s.svc.Audit.Record(r.Context(), audit.EventRoleChange, id.UserID, "role", roleID,
		map[string]interface{}{"action": "delete"})
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted"})
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	s.changeAssignment(w, r, "assign")
}

func (s *Server) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	s.changeAssignment(w, r, "remove")
}

func (s *Server) changeAssignment(w http.ResponseWriter, r *http.Request, action string) {
	id, _ := identityFrom(r.Context())
	roleID := chi.URLParam(r, "roleID")

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var err error
	if action == "assign" {
		err = s.svc.Authz.AssignRole(r.Context(), req.UserID, roleID)
	} else {
		err = s.svc.Authz.RemoveRole(r.Context(), req.UserID, roleID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.svc.Audit.Record(r.Context(), audit.EventRoleChange, id.UserID, "user", req.UserID,
		map[string]interface{}{"action": action, "role_id": roleID})
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	events, err := s.svc.Audit.Events(r.Context(), q.Get("event_type"), q.Get("entity_id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
