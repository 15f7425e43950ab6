// Package schedule implements the task and WBS core: task lifecycle with a
// fixed status graph, effort-weighted progress rollup, WBS tree moves with
// cycle refusal, structure validation, and contract-level earned value.
package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"ppmcore/internal/apperr"
	"ppmcore/internal/logging"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

// Service carries all schedule operations.
type Service struct {
	store *store.PPMStore
}

// New builds a schedule Service.
func New(st *store.PPMStore) *Service {
	return &Service{store: st}
}

// CreateSchedule inserts a schedule for a project.
func (s *Service) CreateSchedule(ctx context.Context, sc *types.Schedule) error {
	if sc.ProjectID == "" {
		return apperr.Validation("project_id", "project id is required")
	}
	if sc.Name == "" {
		return apperr.Validation("name", "schedule name is required")
	}
	return s.store.CreateSchedule(ctx, sc)
}

// SetBaseline copies the current plan into the baseline columns of the
// schedule and every task.
func (s *Service) SetBaseline(ctx context.Context, scheduleID string) error {
	if _, err := s.store.GetSchedule(ctx, scheduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("schedule", scheduleID)
		}
		return err
	}
	if err := s.store.SetScheduleBaseline(ctx, scheduleID); err != nil {
		return err
	}
	logging.Schedule("baseline set for schedule %s", scheduleID)
	return nil
}

// CreateTask validates and inserts a task. When duration is unspecified it
// is derived from the planned window (end - start + 1, inclusive).
func (s *Service) CreateTask(ctx context.Context, t *types.Task) (*types.Task, error) {
	if t.Name == "" {
		return nil, apperr.Validation("name", "task name is required")
	}
	if t.WBSCode == "" {
		return nil, apperr.Validation("wbs_code", "wbs code is required")
	}

	if _, err := s.store.GetSchedule(ctx, t.ScheduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("schedule", t.ScheduleID)
		}
		return nil, err
	}

	if t.ParentID != "" {
		parent, err := s.store.GetTask(ctx, t.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, apperr.NotFound("task", t.ParentID)
			}
			return nil, err
		}
		if parent.ScheduleID != t.ScheduleID {
			return nil, apperr.Validation("parent_id", "parent task belongs to a different schedule")
		}
	}

	if t.DurationDays == 0 && t.PlannedStartDate != nil && t.PlannedEndDate != nil {
		days := int(t.PlannedEndDate.Sub(*t.PlannedStartDate).Hours()/24) + 1
		if days < 1 {
			return nil, apperr.Validation("planned_end_date", "planned end precedes planned start")
		}
		t.DurationDays = days
	}

	if err := s.store.CreateTask(ctx, t); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apperr.Conflict(fmt.Sprintf("wbs code %s already exists in schedule", t.WBSCode))
		}
		return nil, err
	}
	logging.ScheduleDebug("task created: %s (%s)", t.ID, t.WBSCode)
	return t, nil
}

// UpdateProgress applies a progress/status change and triggers the rollup
// chain. Status changes are validated against the fixed transition graph;
// actual dates auto-fill on in_progress and completed.
func (s *Service) UpdateProgress(ctx context.Context, taskID string, progressPct int, newStatus types.TaskStatus, actualEffort, remainingEffort float64) (*types.Task, error) {
	if progressPct < 0 || progressPct > 100 {
		return nil, apperr.Validation("progress_pct", "progress must be in 0..100")
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("task", taskID)
		}
		return nil, err
	}

	if newStatus != "" && newStatus != t.Status {
		if !types.CanTransitionTask(t.Status, newStatus) {
			return nil, apperr.Conflict(fmt.Sprintf("illegal task transition %s -> %s", t.Status, newStatus))
		}
		now := time.Now().UTC()
		switch newStatus {
		case types.TaskInProgress:
			if t.ActualStartDate == nil {
				t.ActualStartDate = &now
			}
		case types.TaskCompleted:
			if t.ActualStartDate == nil {
				t.ActualStartDate = &now
			}
			t.ActualEndDate = &now
			progressPct = 100
		}
		t.Status = newStatus
	}

	t.ProgressPct = progressPct
	if actualEffort > 0 {
		t.ActualEffort = actualEffort
	}
	if remainingEffort >= 0 {
		t.RemainingEffort = remainingEffort
	}

	if err := s.store.UpdateTaskProgress(ctx, t); err != nil {
		return nil, err
	}

	if err := s.rollupFrom(ctx, t); err != nil {
		logging.Get(logging.CategorySchedule).Warn("progress rollup failed for task %s: %v", taskID, err)
	}
	return t, nil
}

// rollupFrom recomputes each ancestor's progress as the effort-weighted
// mean of its children and propagates up the parent chain.
func (s *Service) rollupFrom(ctx context.Context, t *types.Task) error {
	tasks, err := s.store.ListTasks(ctx, t.ScheduleID)
	if err != nil {
		return err
	}

	byID := make(map[string]*types.Task, len(tasks))
	children := make(map[string][]*types.Task)
	for _, task := range tasks {
		byID[task.ID] = task
		if task.ParentID != "" {
			children[task.ParentID] = append(children[task.ParentID], task)
		}
	}

	for parentID := t.ParentID; parentID != ""; {
		parent, ok := byID[parentID]
		if !ok {
			break
		}
		rolled := WeightedProgress(children[parentID])
		if rolled != parent.ProgressPct {
			parent.ProgressPct = rolled
			if err := s.store.UpdateTaskProgress(ctx, parent); err != nil {
				return err
			}
			logging.ScheduleDebug("rolled up progress %d%% to task %s", rolled, parentID)
		}
		parentID = parent.ParentID
	}
	return nil
}

// WeightedProgress computes Σ(progress × effort) / Σ(effort) over the given
// tasks, rounded to the nearest integer. A missing effort weighs 1.
func WeightedProgress(tasks []*types.Task) int {
	if len(tasks) == 0 {
		return 0
	}
	var weighted, total float64
	for _, t := range tasks {
		effort := t.PlannedEffort
		if effort <= 0 {
			effort = 1
		}
		weighted += float64(t.ProgressPct) * effort
		total += effort
	}
	return int(math.Round(weighted / total))
}

// DeleteTask removes a leaf task and re-rolls its parent chain.
func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("task", taskID)
		}
		return err
	}

	tasks, err := s.store.ListTasks(ctx, t.ScheduleID)
	if err != nil {
		return err
	}
	for _, other := range tasks {
		if other.ParentID == taskID {
			return apperr.Conflict("task has children; delete or move them first")
		}
	}

	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	if t.ParentID != "" {
		if err := s.rollupFrom(ctx, t); err != nil {
			logging.Get(logging.CategorySchedule).Warn("rollup after delete failed: %v", err)
		}
	}
	return nil
}

// Tasks lists the tasks of a schedule in WBS order.
func (s *Service) Tasks(ctx context.Context, scheduleID string) ([]*types.Task, error) {
	return s.store.ListTasks(ctx, scheduleID)
}

// Health thresholds over completed and on-hold percentages.
const (
	onHoldYellowPct = 15.0
	onHoldRedPct    = 30.0
)

// ScheduleHealth derives a traffic-light health from the task state mix:
// a fully completed schedule is green; otherwise a heavy on-hold share
// turns it red, a moderate share yellow.
func ScheduleHealth(tasks []*types.Task) types.HealthStatus {
	if len(tasks) == 0 {
		return types.HealthGreen
	}
	var completed, onHold int
	for _, t := range tasks {
		switch t.Status {
		case types.TaskCompleted:
			completed++
		case types.TaskOnHold:
			onHold++
		}
	}
	if completed == len(tasks) {
		return types.HealthGreen
	}
	onHoldPct := float64(onHold) / float64(len(tasks)) * 100

	switch {
	case onHoldPct >= onHoldRedPct:
		return types.HealthRed
	case onHoldPct >= onHoldYellowPct:
		return types.HealthYellow
	default:
		return types.HealthGreen
	}
}
