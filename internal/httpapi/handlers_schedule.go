package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ppmcore/internal/apperr"
	"ppmcore/internal/schedule"
	"ppmcore/internal/types"
)

func parseDatePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.Validation("date", "date must be YYYY-MM-DD or RFC3339")
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"project_id"`
		Name      string `json:"name"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	start, err := parseDatePtr(req.StartDate)
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseDatePtr(req.EndDate)
	if err != nil {
		writeError(w, err)
		return
	}

	sc := &types.Schedule{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		Name:      req.Name,
		StartDate: start,
		EndDate:   end,
	}
	if err := s.svc.Schedule.CreateSchedule(r.Context(), sc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleSetBaseline(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Schedule.SetBaseline(r.Context(), chi.URLParam(r, "scheduleID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "baselined"})
}

func (s *Server) handleScheduleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.Schedule.Metrics(r.Context(), chi.URLParam(r, "scheduleID"), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleScheduleHealth(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.svc.Schedule.Tasks(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"health":     schedule.ScheduleHealth(tasks),
		"task_count": len(tasks),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.svc.Schedule.Tasks(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID      string  `json:"parent_id"`
		WBSCode       string  `json:"wbs_code"`
		Name          string  `json:"name"`
		StartDate     string  `json:"start_date"`
		EndDate       string  `json:"end_date"`
		PlannedEffort float64 `json:"planned_effort"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	start, err := parseDatePtr(req.StartDate)
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseDatePtr(req.EndDate)
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := s.svc.Schedule.CreateTask(r.Context(), &types.Task{
		ScheduleID:       chi.URLParam(r, "scheduleID"),
		ParentID:         req.ParentID,
		WBSCode:          req.WBSCode,
		Name:             req.Name,
		PlannedStartDate: start,
		PlannedEndDate:   end,
		PlannedEffort:    req.PlannedEffort,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleTaskProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProgressPct     int     `json:"progress_pct"`
		Status          string  `json:"status"`
		ActualEffort    float64 `json:"actual_effort"`
		RemainingEffort float64 `json:"remaining_effort"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	task, err := s.svc.Schedule.UpdateProgress(r.Context(), chi.URLParam(r, "taskID"),
		req.ProgressPct, types.TaskStatus(req.Status), req.ActualEffort, req.RemainingEffort)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Schedule.DeleteTask(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted"})
}

func (s *Server) handleCreateWBS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID              string `json:"project_id"`
		ParentID               string `json:"parent_id"`
		Code                   string `json:"code"`
		Name                   string `json:"name"`
		WorkPackageManager     string `json:"work_package_manager"`
		DeliverableDescription string `json:"deliverable_description"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	el, err := s.svc.Schedule.CreateWBSElement(r.Context(), &types.WBSElement{
		ProjectID:              req.ProjectID,
		ParentID:               req.ParentID,
		Code:                   req.Code,
		Name:                   req.Name,
		WorkPackageManager:     req.WorkPackageManager,
		DeliverableDescription: req.DeliverableDescription,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, el)
}

func (s *Server) handleMoveWBS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewParentID string `json:"new_parent_id"`
		Position    int    `json:"position"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := s.svc.Schedule.MoveWBSElement(r.Context(), chi.URLParam(r, "elementID"),
		req.NewParentID, req.Position)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "moved"})
}

func (s *Server) handleDeleteWBS(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Schedule.DeleteWBSElement(r.Context(), chi.URLParam(r, "elementID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted"})
}

func (s *Server) handleWBSTree(w http.ResponseWriter, r *http.Request) {
	elements, err := s.svc.Schedule.WBSTree(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"elements": elements})
}

func (s *Server) handleValidateWBS(w http.ResponseWriter, r *http.Request) {
	issues, err := s.svc.Schedule.ValidateStructure(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issues": issues,
		"valid":  countErrors(issues) == 0,
	})
}

func countErrors(issues []schedule.StructureIssue) int {
	n := 0
	for _, issue := range issues {
		if issue.Severity == "error" {
			n++
		}
	}
	return n
}
