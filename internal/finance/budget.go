// Package finance derives budget summaries from financial facts: per-project
// budget variance, comprehensive cross-project reports with projections and
// risk indicators, fixed-table currency conversion, and budget threshold
// checks.
package finance

import (
	"context"
	"fmt"
	"math"
	"sort"

	"ppmcore/internal/apperr"
	"ppmcore/internal/logging"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

// Budget status boundaries as percentages of budget variance.
const budgetBandPct = 10.0

// BudgetStatus classifies a project's spend against its budget.
type BudgetStatus string

const (
	OnBudget    BudgetStatus = "on_budget"
	UnderBudget BudgetStatus = "under_budget"
	OverBudget  BudgetStatus = "over_budget"
)

// BudgetVariance is the per-project budget summary.
type BudgetVariance struct {
	ProjectID      string       `json:"project_id"`
	ProjectName    string       `json:"project_name"`
	BudgetAmount   float64      `json:"budget_amount"`
	ActualCost     float64      `json:"actual_cost"`
	VarianceAmount float64      `json:"variance_amount"`
	VariancePct    float64      `json:"variance_percentage"`
	UtilizationPct float64      `json:"utilization_percentage"`
	Status         BudgetStatus `json:"status"`
}

// Service carries all budget and reporting operations.
type Service struct {
	store *store.PPMStore
}

// New builds a finance Service.
func New(st *store.PPMStore) *Service {
	return &Service{store: st}
}

// ProjectBudgetVariance computes the budget summary of one project. Actual
// cost comes from the actuals facts, not the cached project column.
func (s *Service) ProjectBudgetVariance(ctx context.Context, projectID string) (*BudgetVariance, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, apperr.NotFound("project", projectID).WithCause(err)
	}
	totals, err := s.store.ProjectFinancialTotals(ctx, []string{projectID})
	if err != nil {
		return nil, err
	}

	actual := 0.0
	if t, ok := totals[projectID]; ok {
		actual = t.TotalActual
	}
	return computeBudgetVariance(p, actual), nil
}

func computeBudgetVariance(p *types.Project, actual float64) *BudgetVariance {
	bv := &BudgetVariance{
		ProjectID:    p.ID,
		ProjectName:  p.Name,
		BudgetAmount: p.Budget,
		ActualCost:   round2(actual),
	}
	bv.VarianceAmount = round2(actual - p.Budget)

	if p.Budget > 0 {
		bv.VariancePct = round2((actual - p.Budget) / p.Budget * 100)
		bv.UtilizationPct = round2(actual / p.Budget * 100)
	} else if actual > 0 {
		// spend without a budget counts as fully over
		bv.VariancePct = 100
		bv.UtilizationPct = 100
	}

	switch {
	case bv.VariancePct > budgetBandPct:
		bv.Status = OverBudget
	case bv.VariancePct < -budgetBandPct:
		bv.Status = UnderBudget
	default:
		bv.Status = OnBudget
	}
	return bv
}

// RiskIndicators counts projects in concerning budget states.
type RiskIndicators struct {
	OverBudget int `json:"over_budget"` // variance% > 10
	AtRisk     int `json:"at_risk"`     // utilization > 80%
	Critical   int `json:"critical"`    // variance% > 20
}

// Projection is a linear 6-month spend forecast from current burn rate.
type Projection struct {
	Months          int     `json:"months"`
	MonthlyBurnRate float64 `json:"monthly_burn_rate"`
	ProjectedSpend  float64 `json:"projected_spend"`
	ProjectedTotal  float64 `json:"projected_total"`
}

// Report aggregates budget state across projects.
type Report struct {
	Currency      string             `json:"currency"`
	TotalBudget   float64            `json:"total_budget"`
	TotalActual   float64            `json:"total_actual"`
	TotalVariance float64            `json:"total_variance"`
	Projects      []*BudgetVariance  `json:"projects"`
	CategorySpend map[string]float64 `json:"category_spend"`
	Risk          RiskIndicators     `json:"risk_indicators"`
	Projection    *Projection        `json:"projection,omitempty"`
}

// projectionMonths fixes the forecast horizon.
const projectionMonths = 6

// ComprehensiveReport aggregates across all projects, or a single one when
// projectID is set. Amounts are converted into the requested currency.
// includeTrends adds the linear projection.
func (s *Service) ComprehensiveReport(ctx context.Context, projectID, currency string, includeTrends bool) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryFinance, "comprehensive report")
	defer timer.Stop()

	if currency == "" {
		currency = "USD"
	}
	rate, err := Rate("USD", currency)
	if err != nil {
		return nil, err
	}

	var ids []string
	if projectID != "" {
		ids = []string{projectID}
	}
	projects, err := s.store.ListProjects(ctx, ids...)
	if err != nil {
		return nil, err
	}
	totals, err := s.store.ProjectFinancialTotals(ctx, ids)
	if err != nil {
		return nil, err
	}
	categories, err := s.store.CategorySpend(ctx, ids)
	if err != nil {
		return nil, err
	}

	report := &Report{Currency: currency, CategorySpend: make(map[string]float64, len(categories))}
	for cat, amount := range categories {
		report.CategorySpend[cat] = round2(amount * rate)
	}

	for _, p := range projects {
		actual := 0.0
		if t, ok := totals[p.ID]; ok {
			actual = t.TotalActual
		}
		bv := computeBudgetVariance(p, actual)
		bv.BudgetAmount = round2(bv.BudgetAmount * rate)
		bv.ActualCost = round2(bv.ActualCost * rate)
		bv.VarianceAmount = round2(bv.VarianceAmount * rate)
		report.Projects = append(report.Projects, bv)

		report.TotalBudget += bv.BudgetAmount
		report.TotalActual += bv.ActualCost

		if bv.VariancePct > budgetBandPct {
			report.Risk.OverBudget++
		}
		if bv.UtilizationPct > 80 {
			report.Risk.AtRisk++
		}
		if bv.VariancePct > 20 {
			report.Risk.Critical++
		}
	}
	sort.Slice(report.Projects, func(i, j int) bool {
		return report.Projects[i].ProjectID < report.Projects[j].ProjectID
	})
	report.TotalBudget = round2(report.TotalBudget)
	report.TotalActual = round2(report.TotalActual)
	report.TotalVariance = round2(report.TotalActual - report.TotalBudget)

	if includeTrends {
		report.Projection = projectSpend(report)
	}
	return report, nil
}

// projectSpend extrapolates the current burn linearly over the horizon,
// adjusted by the aggregate variance: portfolios already over budget
// project proportionally hotter.
func projectSpend(r *Report) *Projection {
	if r.TotalActual <= 0 {
		return &Projection{Months: projectionMonths}
	}
	burn := r.TotalActual / float64(projectionMonths)
	adjustment := 1.0
	if r.TotalBudget > 0 {
		variancePct := (r.TotalActual - r.TotalBudget) / r.TotalBudget
		adjustment += variancePct
		if adjustment < 0.1 {
			adjustment = 0.1
		}
	}
	projected := burn * float64(projectionMonths) * adjustment
	return &Projection{
		Months:          projectionMonths,
		MonthlyBurnRate: round2(burn * adjustment),
		ProjectedSpend:  round2(projected),
		ProjectedTotal:  round2(r.TotalActual + projected),
	}
}

// Budget threshold levels emitted by CheckBudgetThresholds.
type ThresholdLevel string

const (
	ThresholdWarning  ThresholdLevel = "warning"  // utilization >= 80%
	ThresholdCritical ThresholdLevel = "critical" // utilization >= 95%
	ThresholdOverrun  ThresholdLevel = "overrun"  // utilization > 100%
)

// BudgetAlert is one structured threshold finding.
type BudgetAlert struct {
	ProjectID      string         `json:"project_id"`
	Level          ThresholdLevel `json:"level"`
	UtilizationPct float64        `json:"utilization_percentage"`
	Message        string         `json:"message"`
}

const (
	warningUtilizationPct  = 80.0
	criticalUtilizationPct = 95.0
)

// CheckBudgetThresholds evaluates one project's utilization against the
// fixed alert ladder and returns the highest crossed level, or nil.
func (s *Service) CheckBudgetThresholds(ctx context.Context, projectID string) (*BudgetAlert, error) {
	bv, err := s.ProjectBudgetVariance(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var level ThresholdLevel
	switch {
	case bv.UtilizationPct > 100:
		level = ThresholdOverrun
	case bv.UtilizationPct >= criticalUtilizationPct:
		level = ThresholdCritical
	case bv.UtilizationPct >= warningUtilizationPct:
		level = ThresholdWarning
	default:
		return nil, nil
	}

	alert := &BudgetAlert{
		ProjectID:      projectID,
		Level:          level,
		UtilizationPct: bv.UtilizationPct,
		Message: fmt.Sprintf("project %s has used %.1f%% of its budget (%s)",
			bv.ProjectName, bv.UtilizationPct, level),
	}
	logging.Finance("budget threshold %s: project=%s utilization=%.1f%%", level, projectID, bv.UtilizationPct)
	return alert, nil
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
