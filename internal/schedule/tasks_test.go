package schedule

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppmcore/internal/apperr"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

func newTestService(t *testing.T) (*Service, *store.PPMStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func seedSchedule(t *testing.T, svc *Service) *types.Schedule {
	t.Helper()
	sc := &types.Schedule{ProjectID: "proj-1", Name: "Phase 1"}
	require.NoError(t, svc.CreateSchedule(context.Background(), sc))
	return sc
}

func mkTask(t *testing.T, svc *Service, scheduleID, parentID, code string, effort float64) *types.Task {
	t.Helper()
	task, err := svc.CreateTask(context.Background(), &types.Task{
		ScheduleID: scheduleID, ParentID: parentID, WBSCode: code,
		Name: "Task " + code, PlannedEffort: effort,
	})
	require.NoError(t, err)
	return task
}

func TestCreateTaskDerivesDuration(t *testing.T) {
	svc, _ := newTestService(t)
	sc := seedSchedule(t, svc)

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	task, err := svc.CreateTask(context.Background(), &types.Task{
		ScheduleID: sc.ID, WBSCode: "1.1", Name: "Build",
		PlannedStartDate: &start, PlannedEndDate: &end,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, task.DurationDays, "inclusive day count")
}

func TestCreateTaskDuplicateWBSCode(t *testing.T) {
	svc, _ := newTestService(t)
	sc := seedSchedule(t, svc)

	mkTask(t, svc, sc.ID, "", "1.1", 0)
	_, err := svc.CreateTask(context.Background(), &types.Task{
		ScheduleID: sc.ID, WBSCode: "1.1", Name: "Duplicate",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryConflict, apperr.CategoryOf(err))
}

func TestCreateTaskParentFromOtherSchedule(t *testing.T) {
	svc, _ := newTestService(t)
	sc1 := seedSchedule(t, svc)
	sc2 := &types.Schedule{ProjectID: "proj-2", Name: "Other"}
	require.NoError(t, svc.CreateSchedule(context.Background(), sc2))

	parent := mkTask(t, svc, sc1.ID, "", "1", 0)
	_, err := svc.CreateTask(context.Background(), &types.Task{
		ScheduleID: sc2.ID, ParentID: parent.ID, WBSCode: "1.1", Name: "Cross",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryValidation, apperr.CategoryOf(err))
}

func TestStatusTransitionGraph(t *testing.T) {
	svc, _ := newTestService(t)
	sc := seedSchedule(t, svc)
	task := mkTask(t, svc, sc.ID, "", "1", 0)
	ctx := context.Background()

	// not_started -> completed is illegal
	_, err := svc.UpdateProgress(ctx, task.ID, 50, types.TaskCompleted, 0, -1)
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryConflict, apperr.CategoryOf(err))

	updated, err := svc.UpdateProgress(ctx, task.ID, 30, types.TaskInProgress, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, updated.Status)
	require.NotNil(t, updated.ActualStartDate, "actual start auto-fills on in_progress")

	updated, err = svc.UpdateProgress(ctx, task.ID, 80, types.TaskCompleted, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 100, updated.ProgressPct, "completion forces progress to 100")
	require.NotNil(t, updated.ActualEndDate)
}

func TestProgressRollupEffortWeighted(t *testing.T) {
	svc, st := newTestService(t)
	sc := seedSchedule(t, svc)
	ctx := context.Background()

	parent := mkTask(t, svc, sc.ID, "", "1", 0)
	a := mkTask(t, svc, sc.ID, parent.ID, "1.1", 3)
	b := mkTask(t, svc, sc.ID, parent.ID, "1.2", 1)

	_, err := svc.UpdateProgress(ctx, a.ID, 100, types.TaskInProgress, 0, -1)
	require.NoError(t, err)
	_, err = svc.UpdateProgress(ctx, b.ID, 20, types.TaskInProgress, 0, -1)
	require.NoError(t, err)

	got, err := st.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	// (100*3 + 20*1) / 4 = 80
	assert.Equal(t, 80, got.ProgressPct)
}

func TestProgressRollupPropagatesUpChain(t *testing.T) {
	svc, st := newTestService(t)
	sc := seedSchedule(t, svc)
	ctx := context.Background()

	root := mkTask(t, svc, sc.ID, "", "1", 0)
	mid := mkTask(t, svc, sc.ID, root.ID, "1.1", 0)
	leaf := mkTask(t, svc, sc.ID, mid.ID, "1.1.1", 0)

	_, err := svc.UpdateProgress(ctx, leaf.ID, 60, types.TaskInProgress, 0, -1)
	require.NoError(t, err)

	gotMid, err := st.GetTask(ctx, mid.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, gotMid.ProgressPct)

	gotRoot, err := st.GetTask(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, gotRoot.ProgressPct)
}

func TestWeightedProgressMissingEffortDefaultsToOne(t *testing.T) {
	tasks := []*types.Task{
		{ProgressPct: 90, PlannedEffort: 0}, // weight 1
		{ProgressPct: 10, PlannedEffort: 0}, // weight 1
	}
	assert.Equal(t, 50, WeightedProgress(tasks))

	weighted := []*types.Task{
		{ProgressPct: 100, PlannedEffort: 2},
		{ProgressPct: 0, PlannedEffort: 0}, // weight 1
	}
	// (200 + 0) / 3 = 66.67 -> 67
	assert.Equal(t, 67, WeightedProgress(weighted))
}

func TestDeleteTaskWithChildrenRefused(t *testing.T) {
	svc, _ := newTestService(t)
	sc := seedSchedule(t, svc)

	parent := mkTask(t, svc, sc.ID, "", "1", 0)
	mkTask(t, svc, sc.ID, parent.ID, "1.1", 0)

	err := svc.DeleteTask(context.Background(), parent.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryConflict, apperr.CategoryOf(err))
}

func TestScheduleHealthThresholds(t *testing.T) {
	mk := func(statuses ...types.TaskStatus) []*types.Task {
		out := make([]*types.Task, len(statuses))
		for i, st := range statuses {
			out[i] = &types.Task{Status: st}
		}
		return out
	}

	assert.Equal(t, types.HealthGreen, ScheduleHealth(nil))
	assert.Equal(t, types.HealthGreen, ScheduleHealth(mk(
		types.TaskInProgress, types.TaskInProgress, types.TaskNotStarted, types.TaskCompleted,
		types.TaskInProgress, types.TaskInProgress, types.TaskNotStarted, types.TaskCompleted)))

	// 2 of 10 on hold = 20% -> yellow
	assert.Equal(t, types.HealthYellow, ScheduleHealth(mk(
		types.TaskOnHold, types.TaskOnHold, types.TaskInProgress, types.TaskInProgress,
		types.TaskInProgress, types.TaskInProgress, types.TaskInProgress, types.TaskInProgress,
		types.TaskInProgress, types.TaskInProgress)))

	// 2 of 4 on hold = 50% -> red
	assert.Equal(t, types.HealthRed, ScheduleHealth(mk(
		types.TaskOnHold, types.TaskOnHold, types.TaskInProgress, types.TaskInProgress)))

	// fully completed is always green
	assert.Equal(t, types.HealthGreen, ScheduleHealth(mk(types.TaskCompleted, types.TaskCompleted)))
}

func TestBaselineAndMetrics(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC)
	sc := &types.Schedule{ProjectID: "proj-1", Name: "Phase 1", StartDate: &start, EndDate: &end}
	require.NoError(t, svc.CreateSchedule(ctx, sc))
	require.NoError(t, svc.SetBaseline(ctx, sc.ID))

	task := mkTask(t, svc, sc.ID, "", "1", 0)
	_, err := svc.UpdateProgress(ctx, task.ID, 50, types.TaskInProgress, 0, -1)
	require.NoError(t, err)

	// halfway through a 20-day window with 50% done: on plan
	now := start.AddDate(0, 0, 10)
	m, err := svc.Metrics(ctx, sc.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 50.0, m.PercentComplete)
	assert.Equal(t, 50.0, m.PlannedPct)
	assert.Equal(t, 1.0, m.SPI)
	assert.Equal(t, 0, m.ScheduleVarianceDays)

	// three-quarters through with 50% done: behind
	now = start.AddDate(0, 0, 15)
	m, err = svc.Metrics(ctx, sc.ID, now)
	require.NoError(t, err)
	assert.Less(t, m.SPI, 1.0)
	assert.Negative(t, m.ScheduleVarianceDays)
}

func TestMetricsUnknownSchedule(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Metrics(context.Background(), "missing", time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryNotFound, apperr.CategoryOf(err))
}
