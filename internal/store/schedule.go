package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ppmcore/internal/types"
)

// =============================================================================
// SCHEDULES
// =============================================================================

// CreateSchedule inserts a schedule row.
func (s *PPMStore) CreateSchedule(ctx context.Context, sc *types.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.Status == "" {
		sc.Status = "active"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, project_id, name, start_date, end_date, baseline_start_date, baseline_end_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.ProjectID, sc.Name, sc.StartDate, sc.EndDate,
		sc.BaselineStartDate, sc.BaselineEndDate, sc.Status)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// GetSchedule fetches one schedule by id.
func (s *PPMStore) GetSchedule(ctx context.Context, id string) (*types.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanScheduleRow(s.db.QueryRowContext(ctx, scheduleSelect+" WHERE id = ?", id))
}

// GetScheduleByProject fetches the most recently created schedule of a project.
func (s *PPMStore) GetScheduleByProject(ctx context.Context, projectID string) (*types.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanScheduleRow(s.db.QueryRowContext(ctx,
		scheduleSelect+" WHERE project_id = ? ORDER BY created_at DESC LIMIT 1", projectID))
}

const scheduleSelect = `
	SELECT id, project_id, name, start_date, end_date,
	       baseline_start_date, baseline_end_date, COALESCE(status, 'active'),
	       created_at, updated_at
	FROM schedules`

func (s *PPMStore) scanScheduleRow(row rowScanner) (*types.Schedule, error) {
	var sc types.Schedule
	var start, end, bStart, bEnd sql.NullTime
	err := row.Scan(&sc.ID, &sc.ProjectID, &sc.Name, &start, &end,
		&bStart, &bEnd, &sc.Status, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sc.StartDate = timePtr(start)
	sc.EndDate = timePtr(end)
	sc.BaselineStartDate = timePtr(bStart)
	sc.BaselineEndDate = timePtr(bEnd)
	return &sc, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if t.Valid {
		return &t.Time
	}
	return nil
}

// SetScheduleBaseline copies the current planned window into the baseline
// columns of the schedule and all its tasks.
func (s *PPMStore) SetScheduleBaseline(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin baseline: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE schedules SET baseline_start_date = start_date, baseline_end_date = end_date,
		updated_at = CURRENT_TIMESTAMP WHERE id = ?`, scheduleID); err != nil {
		return fmt.Errorf("failed to baseline schedule: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET baseline_start_date = planned_start_date, baseline_end_date = planned_end_date,
		updated_at = CURRENT_TIMESTAMP WHERE schedule_id = ?`, scheduleID); err != nil {
		return fmt.Errorf("failed to baseline tasks: %w", err)
	}
	return tx.Commit()
}

// =============================================================================
// TASKS
// =============================================================================

// CreateTask inserts a task. The (schedule_id, wbs_code) pair is unique;
// a duplicate surfaces as a unique violation for the caller to map.
func (s *PPMStore) CreateTask(ctx context.Context, t *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = types.TaskNotStarted
	}
	deliverables, _ := json.Marshal(t.Deliverables)
	criteria, _ := json.Marshal(t.AcceptanceCriteria)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, schedule_id, parent_id, wbs_code, name,
			planned_start_date, planned_end_date, actual_start_date, actual_end_date,
			baseline_start_date, baseline_end_date, duration_days, progress_pct, status,
			planned_effort, actual_effort, remaining_effort, critical, total_float, free_float,
			deliverables, acceptance_criteria)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ScheduleID, nullStr(t.ParentID), t.WBSCode, t.Name,
		t.PlannedStartDate, t.PlannedEndDate, t.ActualStartDate, t.ActualEndDate,
		t.BaselineStartDate, t.BaselineEndDate, t.DurationDays, t.ProgressPct, string(t.Status),
		t.PlannedEffort, t.ActualEffort, t.RemainingEffort, boolToInt(t.Critical),
		t.TotalFloat, t.FreeFloat, string(deliverables), string(criteria))
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

const taskSelect = `
	SELECT id, schedule_id, COALESCE(parent_id, ''), wbs_code, name,
	       planned_start_date, planned_end_date, actual_start_date, actual_end_date,
	       baseline_start_date, baseline_end_date, duration_days, progress_pct, status,
	       planned_effort, actual_effort, remaining_effort, critical, total_float, free_float,
	       COALESCE(deliverables, '[]'), COALESCE(acceptance_criteria, '[]'),
	       created_at, updated_at
	FROM tasks`

func scanTask(row rowScanner) (*types.Task, error) {
	var t types.Task
	var status, deliverables, criteria string
	var critical int
	var pStart, pEnd, aStart, aEnd, bStart, bEnd sql.NullTime
	err := row.Scan(&t.ID, &t.ScheduleID, &t.ParentID, &t.WBSCode, &t.Name,
		&pStart, &pEnd, &aStart, &aEnd, &bStart, &bEnd,
		&t.DurationDays, &t.ProgressPct, &status,
		&t.PlannedEffort, &t.ActualEffort, &t.RemainingEffort, &critical,
		&t.TotalFloat, &t.FreeFloat, &deliverables, &criteria,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = types.TaskStatus(status)
	t.Critical = critical != 0
	t.PlannedStartDate = timePtr(pStart)
	t.PlannedEndDate = timePtr(pEnd)
	t.ActualStartDate = timePtr(aStart)
	t.ActualEndDate = timePtr(aEnd)
	t.BaselineStartDate = timePtr(bStart)
	t.BaselineEndDate = timePtr(bEnd)
	_ = json.Unmarshal([]byte(deliverables), &t.Deliverables)
	_ = json.Unmarshal([]byte(criteria), &t.AcceptanceCriteria)
	return &t, nil
}

// GetTask fetches one task by id.
func (s *PPMStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanTask(s.db.QueryRowContext(ctx, taskSelect+" WHERE id = ?", id))
}

// ListTasks returns every task of a schedule ordered by WBS code.
func (s *PPMStore) ListTasks(ctx context.Context, scheduleID string) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, taskSelect+" WHERE schedule_id = ? ORDER BY wbs_code", scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTaskProgress writes progress, effort and status in one statement.
// Status transition legality is the caller's concern.
func (s *PPMStore) UpdateTaskProgress(ctx context.Context, t *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET progress_pct = ?, status = ?, actual_effort = ?, remaining_effort = ?,
			actual_start_date = ?, actual_end_date = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		t.ProgressPct, string(t.Status), t.ActualEffort, t.RemainingEffort,
		t.ActualStartDate, t.ActualEndDate, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	return nil
}

// UpdateTaskSchedule rewrites the planned window, duration and float values
// after a recalculation pass.
func (s *PPMStore) UpdateTaskSchedule(ctx context.Context, t *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET planned_start_date = ?, planned_end_date = ?, duration_days = ?,
			critical = ?, total_float = ?, free_float = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		t.PlannedStartDate, t.PlannedEndDate, t.DurationDays,
		boolToInt(t.Critical), t.TotalFloat, t.FreeFloat, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task schedule: %w", err)
	}
	return nil
}

// DeleteTask removes a task row.
func (s *PPMStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// =============================================================================
// WBS ELEMENTS
// =============================================================================

// CreateWBSElement inserts a WBS node. (project_id, code) is unique.
func (s *PPMStore) CreateWBSElement(ctx context.Context, w *types.WBSElement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wbs_elements (id, project_id, parent_id, code, name, level_number, sort_order,
			work_package_manager, deliverable_description, acceptance_criteria)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.ProjectID, nullStr(w.ParentID), w.Code, w.Name, w.LevelNumber, w.SortOrder,
		w.WorkPackageManager, w.DeliverableDescription, w.AcceptanceCriteria)
	if err != nil {
		return fmt.Errorf("failed to create wbs element: %w", err)
	}
	return nil
}

const wbsSelect = `
	SELECT id, project_id, COALESCE(parent_id, ''), code, name, level_number, sort_order,
	       COALESCE(work_package_manager, ''), COALESCE(deliverable_description, ''),
	       COALESCE(acceptance_criteria, ''), created_at, updated_at
	FROM wbs_elements`

func scanWBS(row rowScanner) (*types.WBSElement, error) {
	var w types.WBSElement
	err := row.Scan(&w.ID, &w.ProjectID, &w.ParentID, &w.Code, &w.Name,
		&w.LevelNumber, &w.SortOrder, &w.WorkPackageManager,
		&w.DeliverableDescription, &w.AcceptanceCriteria, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWBSElement fetches one WBS node by id.
func (s *PPMStore) GetWBSElement(ctx context.Context, id string) (*types.WBSElement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanWBS(s.db.QueryRowContext(ctx, wbsSelect+" WHERE id = ?", id))
}

// ListWBSElements returns all WBS nodes of a project ordered by level then
// sibling order, which reconstructs the tree top-down.
func (s *PPMStore) ListWBSElements(ctx context.Context, projectID string) ([]*types.WBSElement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		wbsSelect+" WHERE project_id = ? ORDER BY level_number, sort_order", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wbs elements: %w", err)
	}
	defer rows.Close()

	var out []*types.WBSElement
	for rows.Next() {
		w, err := scanWBS(rows)
		if err != nil {
			continue
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// NextWBSSortOrder returns max(sort_order)+1 among the children of a parent
// (empty parentID means root level).
func (s *PPMStore) NextWBSSortOrder(ctx context.Context, projectID, parentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var query string
	var args []interface{}
	if parentID == "" {
		query = "SELECT COALESCE(MAX(sort_order), -1) + 1 FROM wbs_elements WHERE project_id = ? AND parent_id IS NULL"
		args = []interface{}{projectID}
	} else {
		query = "SELECT COALESCE(MAX(sort_order), -1) + 1 FROM wbs_elements WHERE project_id = ? AND parent_id = ?"
		args = []interface{}{projectID, parentID}
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to compute sort order: %w", err)
	}
	return n, nil
}

// MoveWBSElement reparents a node and updates its level and sibling order.
// Cycle detection happens before this call.
func (s *PPMStore) MoveWBSElement(ctx context.Context, id, newParentID string, level, sortOrder int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE wbs_elements SET parent_id = ?, level_number = ?, sort_order = ?,
		updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		nullStr(newParentID), level, sortOrder, id)
	if err != nil {
		return fmt.Errorf("failed to move wbs element: %w", err)
	}
	return nil
}

// UpdateWBSLevel rewrites just the level of a node, used when a subtree is
// shifted under a new parent.
func (s *PPMStore) UpdateWBSLevel(ctx context.Context, id string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE wbs_elements SET level_number = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", level, id)
	if err != nil {
		return fmt.Errorf("failed to update wbs level: %w", err)
	}
	return nil
}

// DeleteWBSElement removes one node. Children handling is the caller's concern.
func (s *PPMStore) DeleteWBSElement(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM wbs_elements WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete wbs element: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// nullStr maps "" to NULL so parent_id IS NULL queries work for roots.
func nullStr(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
