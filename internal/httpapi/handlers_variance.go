package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ppmcore/internal/audit"
)

const dashboardCacheKey = "dashboard:snapshot"

// handleDashboard serves the cross-project variance snapshot. Snapshots are
// cached briefly; the dashboard is read far more often than facts change.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.cache != nil {
		if v, ok := s.cache.Get(dashboardCacheKey); ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	result, err := s.svc.Variance.CalculateAll(r.Context(), s.orgID, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.cache != nil {
		s.cache.Set(dashboardCacheKey, result, s.cfg.GetDashboardTTL())
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVarianceSummary(w http.ResponseWriter, r *http.Request) {
	fact, err := s.svc.Variance.ProjectSummary(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fact)
}

func (s *Server) handleVarianceWBS(w http.ResponseWriter, r *http.Request) {
	facts, err := s.svc.Variance.WBSDetails(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"wbs": facts})
}

func (s *Server) handleVarianceTrends(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	points, err := s.svc.Variance.Trends(r.Context(), chi.URLParam(r, "projectID"), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trends": points})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.svc.Variance.ListAlerts(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

func (s *Server) handleCheckThresholds(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectIDs []string `json:"project_ids"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	alerts, err := s.svc.Variance.CheckThresholds(r.Context(), s.orgID, req.ProjectIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	s.transitionAlert(w, r, "acknowledge")
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	s.transitionAlert(w, r, "resolve")
}

func (s *Server) transitionAlert(w http.ResponseWriter, r *http.Request, action string) {
	id, _ := identityFrom(r.Context())
	alertID := chi.URLParam(r, "alertID")

	var err error
	if action == "acknowledge" {
		err = s.svc.Variance.AcknowledgeAlert(r.Context(), alertID, id.UserID)
	} else {
		err = s.svc.Variance.ResolveAlert(r.Context(), alertID, id.UserID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.svc.Audit.Record(r.Context(), audit.EventAlertAction, id.UserID, "alert", alertID,
		map[string]interface{}{"action": action})
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}
