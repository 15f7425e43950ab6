// Package variance computes commitment-vs-actual variances from stored
// financial facts and evaluates threshold rules into alerts.
package variance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"ppmcore/internal/apperr"
	"ppmcore/internal/logging"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

// Status boundaries: within +/-5% of planned counts as "on", inclusive.
const onTrackBandPct = 5.0

// Engine derives variance facts and alerts.
type Engine struct {
	store *store.PPMStore
}

// New returns a variance engine over the store.
func New(st *store.PPMStore) *Engine {
	return &Engine{store: st}
}

// Result carries a full recompute: per-project summaries plus per-project
// errors. One failing project never blocks the others.
type Result struct {
	Projects   []*types.VarianceFact `json:"projects"`
	Errors     map[string]string     `json:"errors,omitempty"`
	ComputedAt time.Time             `json:"computed_at"`
}

// CalculateAll recomputes variance facts for one organization's projects
// (every project of the organization with financial facts when ids is empty;
// an empty orgID skips the organization filter). Facts whose project row is
// gone cannot be attributed to an organization and are always reported,
// carrying an error entry.
func (e *Engine) CalculateAll(ctx context.Context, orgID string, projectIDs []string) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryVariance, "CalculateAll")
	defer timer.StopWithInfo()

	totals, err := e.store.ProjectFinancialTotals(ctx, projectIDs)
	if err != nil {
		return nil, apperr.Dependency("store", err)
	}
	orgs, err := e.store.ProjectOrganizations(ctx)
	if err != nil {
		return nil, apperr.Dependency("store", err)
	}

	res := &Result{ComputedAt: time.Now().UTC(), Errors: make(map[string]string)}
	for projectID, t := range totals {
		if org, known := orgs[projectID]; known && orgID != "" && org != orgID {
			continue
		}
		fact := computeFact(projectID, "", t.TotalCommitment, t.TotalActual)

		p, err := e.store.GetProject(ctx, projectID)
		if err != nil {
			// Financial facts can reference projects deleted since import;
			// report and keep computing the rest.
			res.Errors[projectID] = fmt.Sprintf("failed to load project: %v", err)
		} else {
			fact.ProjectName = p.Name
		}
		res.Projects = append(res.Projects, fact)
	}
	sort.Slice(res.Projects, func(i, j int) bool { return res.Projects[i].ProjectID < res.Projects[j].ProjectID })

	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	logging.Variance("Computed variance for %d projects (%d errors)", len(res.Projects), len(res.Errors))
	return res, nil
}

// ProjectSummary returns the project-level variance fact for one project.
func (e *Engine) ProjectSummary(ctx context.Context, projectID string) (*types.VarianceFact, error) {
	p, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, apperr.NotFound("project", projectID).WithCause(err)
	}
	totals, err := e.store.ProjectFinancialTotals(ctx, []string{projectID})
	if err != nil {
		return nil, apperr.Dependency("store", err)
	}

	t, ok := totals[projectID]
	if !ok {
		t = &store.FinancialTotals{ProjectID: projectID}
	}
	fact := computeFact(projectID, "", t.TotalCommitment, t.TotalActual)
	fact.ProjectName = p.Name
	return fact, nil
}

// WBSDetails returns per-WBS variance facts for one project, ordered by code.
func (e *Engine) WBSDetails(ctx context.Context, projectID string) ([]*types.VarianceFact, error) {
	totals, err := e.store.WBSFinancialTotals(ctx, projectID)
	if err != nil {
		return nil, apperr.Dependency("store", err)
	}

	var out []*types.VarianceFact
	for wbs, t := range totals {
		out = append(out, computeFact(projectID, wbs, t.TotalCommitment, t.TotalActual))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WBSElement < out[j].WBSElement })
	return out, nil
}

// TrendPoint is one day of actual spend.
type TrendPoint struct {
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
}

// Trends returns daily actual totals over the trailing window.
func (e *Engine) Trends(ctx context.Context, projectID string, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	daily, err := e.store.ActualTotalsSince(ctx, projectID, since)
	if err != nil {
		return nil, apperr.Dependency("store", err)
	}

	out := make([]TrendPoint, 0, len(daily))
	for day, amount := range daily {
		out = append(out, TrendPoint{Date: day, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// computeFact derives a variance fact from totals. variance% rounds to two
// decimals; a zero planned amount yields 0% with status driven by actuals.
func computeFact(projectID, wbs string, commitment, actual float64) *types.VarianceFact {
	fact := &types.VarianceFact{
		ProjectID:       projectID,
		WBSElement:      wbs,
		TotalCommitment: commitment,
		TotalActual:     actual,
		Variance:        actual - commitment,
		ComputedAt:      time.Now().UTC(),
	}
	if commitment > 0 {
		fact.VariancePct = round2((actual - commitment) / commitment * 100)
	}
	fact.Status = classify(fact.VariancePct, commitment, actual)
	return fact
}

func classify(variancePct, commitment, actual float64) types.VarianceStatus {
	if commitment <= 0 {
		if actual > 0 {
			return types.VarianceOver
		}
		return types.VarianceOn
	}
	switch {
	case variancePct < -onTrackBandPct:
		return types.VarianceUnder
	case variancePct > onTrackBandPct:
		return types.VarianceOver
	default:
		return types.VarianceOn
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
