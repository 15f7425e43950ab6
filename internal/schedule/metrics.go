package schedule

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"ppmcore/internal/apperr"
	"ppmcore/internal/types"
)

// Metrics computes contract-level earned-value outputs for a schedule:
// SPI, schedule variance in days, and percent complete against the plan.
// Baseline dates anchor the plan; without a baseline the planned window of
// the schedule is used.
func (s *Service) Metrics(ctx context.Context, scheduleID string, now time.Time) (*types.ScheduleMetrics, error) {
	sc, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("schedule", scheduleID)
		}
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	start, end := sc.BaselineStartDate, sc.BaselineEndDate
	if start == nil || end == nil {
		start, end = sc.StartDate, sc.EndDate
	}

	m := &types.ScheduleMetrics{SPI: 1, Health: ScheduleHealth(tasks)}
	m.PercentComplete = overallProgress(tasks)

	if start == nil || end == nil || !end.After(*start) {
		// no usable plan window; report progress only
		m.PlannedPct = m.PercentComplete
		return m, nil
	}

	totalDays := end.Sub(*start).Hours() / 24
	elapsedDays := now.Sub(*start).Hours() / 24
	plannedPct := elapsedDays / totalDays * 100
	if plannedPct < 0 {
		plannedPct = 0
	}
	if plannedPct > 100 {
		plannedPct = 100
	}
	m.PlannedPct = round1(plannedPct)

	if plannedPct > 0 {
		m.SPI = round2(m.PercentComplete / plannedPct)
	}

	// variance in days: how far ahead (+) or behind (-) the plan the actual
	// progress sits on the baseline timeline
	m.ScheduleVarianceDays = int(math.Round((m.PercentComplete - plannedPct) / 100 * totalDays))
	return m, nil
}

// overallProgress is the effort-weighted progress across root tasks; child
// progress is already rolled up into parents.
func overallProgress(tasks []*types.Task) float64 {
	var roots []*types.Task
	for _, t := range tasks {
		if t.ParentID == "" {
			roots = append(roots, t)
		}
	}
	if len(roots) == 0 {
		roots = tasks
	}
	if len(roots) == 0 {
		return 0
	}
	var weighted, total float64
	for _, t := range roots {
		effort := t.PlannedEffort
		if effort <= 0 {
			effort = 1
		}
		weighted += float64(t.ProgressPct) * effort
		total += effort
	}
	return round1(weighted / total)
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
func round2(x float64) float64 { return math.Round(x*100) / 100 }
