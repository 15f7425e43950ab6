package types

import "time"

// =============================================================================
// SCHEDULE / TASK / WBS
// =============================================================================

// Schedule groups hierarchical tasks for one project.
type Schedule struct {
	ID                string
	ProjectID         string
	Name              string
	StartDate         *time.Time
	EndDate           *time.Time
	BaselineStartDate *time.Time
	BaselineEndDate   *time.Time
	Status            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TaskStatus enumerates the task state machine.
type TaskStatus string

const (
	TaskNotStarted TaskStatus = "not_started"
	TaskInProgress TaskStatus = "in_progress"
	TaskOnHold     TaskStatus = "on_hold"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// taskTransitions encodes the fixed status graph. Absent entries are illegal.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskNotStarted: {TaskInProgress, TaskOnHold, TaskCancelled},
	TaskInProgress: {TaskOnHold, TaskCompleted, TaskCancelled},
	TaskOnHold:     {TaskInProgress, TaskCancelled},
	TaskCompleted:  {TaskInProgress},
	TaskCancelled:  {TaskNotStarted, TaskInProgress},
}

// CanTransitionTask reports whether a task status change is legal.
func CanTransitionTask(from, to TaskStatus) bool {
	if from == to {
		return false
	}
	for _, t := range taskTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Task is one node of a schedule's work hierarchy. WBSCode is unique within
// its schedule; the parent chain never cycles.
type Task struct {
	ID                 string
	ScheduleID         string
	ParentID           string // empty for root tasks
	WBSCode            string
	Name               string
	PlannedStartDate   *time.Time
	PlannedEndDate     *time.Time
	ActualStartDate    *time.Time
	ActualEndDate      *time.Time
	BaselineStartDate  *time.Time
	BaselineEndDate    *time.Time
	DurationDays       int
	ProgressPct        int // 0..100
	Status             TaskStatus
	PlannedEffort      float64
	ActualEffort       float64
	RemainingEffort    float64
	Critical           bool
	TotalFloat         float64
	FreeFloat          float64
	Deliverables       []string
	AcceptanceCriteria []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// WBSElement is a hierarchical work-breakdown node.
// Level = parent.Level + 1 (root = 1); SortOrder is unique among siblings.
type WBSElement struct {
	ID                     string
	ProjectID              string
	ParentID               string
	Code                   string
	Name                   string
	LevelNumber            int
	SortOrder              int
	WorkPackageManager     string
	DeliverableDescription string
	AcceptanceCriteria     string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ScheduleMetrics carries contract-level earned-value outputs.
type ScheduleMetrics struct {
	SPI                  float64      `json:"spi"`
	ScheduleVarianceDays int          `json:"schedule_variance_days"`
	PercentComplete      float64      `json:"percent_complete"`
	PlannedPct           float64      `json:"planned_pct"`
	Health               HealthStatus `json:"health"`
}
