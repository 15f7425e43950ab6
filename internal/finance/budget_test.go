package finance

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppmcore/internal/apperr"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

func newTestService(t *testing.T) (*Service, *store.PPMStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "finance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func seedBudgetProject(t *testing.T, st *store.PPMStore, name string, budget, actual float64) string {
	t.Helper()
	ctx := context.Background()
	p, err := st.CreateProject(ctx, &types.Project{
		PortfolioID: "pf-1", Name: name, Budget: budget,
		Status: types.ProjectActive, Health: types.HealthGreen,
	})
	require.NoError(t, err)
	if actual > 0 {
		require.NoError(t, st.InsertActualsBatch(ctx, []*types.ActualRecord{{
			FIDocNo: "FI-" + name, ProjectID: p.ID, Amount: actual, Currency: "USD",
		}}))
	}
	return p.ID
}

func TestBudgetVarianceStatusBands(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		budget float64
		actual float64
		status BudgetStatus
	}{
		{"exact", 1000, 1000, OnBudget},
		{"plus-ten", 1000, 1100, OnBudget}, // +10% inclusive
		{"over", 1000, 1101, OverBudget},   // > +10%
		{"minus-ten", 1000, 900, OnBudget}, // -10% inclusive
		{"under", 1000, 899, UnderBudget},  // < -10%
	}
	for _, tc := range cases {
		id := seedBudgetProject(t, st, tc.name, tc.budget, tc.actual)
		bv, err := svc.ProjectBudgetVariance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, tc.status, bv.Status, tc.name)
	}
}

func TestBudgetVarianceArithmetic(t *testing.T) {
	svc, st := newTestService(t)

	id := seedBudgetProject(t, st, "arith", 2000, 1500)
	bv, err := svc.ProjectBudgetVariance(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, -500.0, bv.VarianceAmount)
	assert.Equal(t, -25.0, bv.VariancePct)
	assert.Equal(t, 75.0, bv.UtilizationPct)
	assert.Equal(t, UnderBudget, bv.Status)
}

func TestComprehensiveReportAggregates(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seedBudgetProject(t, st, "alpha", 1000, 500)
	seedBudgetProject(t, st, "beta", 1000, 1300) // over and critical
	seedBudgetProject(t, st, "gamma", 1000, 900) // at risk (90% utilization)

	report, err := svc.ComprehensiveReport(ctx, "", "USD", false)
	require.NoError(t, err)

	assert.Equal(t, 3000.0, report.TotalBudget)
	assert.Equal(t, 2700.0, report.TotalActual)
	assert.Equal(t, -300.0, report.TotalVariance)
	assert.Len(t, report.Projects, 3)

	assert.Equal(t, 1, report.Risk.OverBudget)
	assert.Equal(t, 2, report.Risk.AtRisk, "beta at 130%% and gamma at 90%%")
	assert.Equal(t, 1, report.Risk.Critical)
	assert.Nil(t, report.Projection)
}

func TestComprehensiveReportProjection(t *testing.T) {
	svc, st := newTestService(t)

	seedBudgetProject(t, st, "alpha", 1200, 600)
	report, err := svc.ComprehensiveReport(context.Background(), "", "USD", true)
	require.NoError(t, err)

	require.NotNil(t, report.Projection)
	assert.Equal(t, 6, report.Projection.Months)
	assert.Greater(t, report.Projection.ProjectedTotal, report.TotalActual)
}

func TestComprehensiveReportCurrencyConversion(t *testing.T) {
	svc, st := newTestService(t)

	seedBudgetProject(t, st, "alpha", 1000, 500)
	report, err := svc.ComprehensiveReport(context.Background(), "", "EUR", false)
	require.NoError(t, err)

	assert.Equal(t, "EUR", report.Currency)
	assert.Equal(t, 920.0, report.TotalBudget)
	assert.Equal(t, 460.0, report.TotalActual)
}

func TestCategorySpendInReport(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	id := seedBudgetProject(t, st, "alpha", 1000, 0)
	require.NoError(t, st.AddFinancialEntry(ctx, id, "hardware", 300, "USD", "servers"))
	require.NoError(t, st.AddFinancialEntry(ctx, id, "hardware", 200, "USD", "disks"))
	require.NoError(t, st.AddFinancialEntry(ctx, id, "services", 100, "USD", "consulting"))

	report, err := svc.ComprehensiveReport(ctx, "", "USD", false)
	require.NoError(t, err)

	assert.Equal(t, 500.0, report.CategorySpend["hardware"])
	assert.Equal(t, 100.0, report.CategorySpend["services"])
}

func TestCheckBudgetThresholdLadder(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		actual float64
		level  ThresholdLevel
	}{
		{"calm", 500, ""},
		{"warning", 850, ThresholdWarning},
		{"critical", 960, ThresholdCritical},
		{"overrun", 1200, ThresholdOverrun},
	}
	for _, tc := range cases {
		id := seedBudgetProject(t, st, tc.name, 1000, tc.actual)
		alert, err := svc.CheckBudgetThresholds(ctx, id)
		require.NoError(t, err)
		if tc.level == "" {
			assert.Nil(t, alert, tc.name)
			continue
		}
		require.NotNil(t, alert, tc.name)
		assert.Equal(t, tc.level, alert.Level)
	}
}

func TestBudgetVarianceUnknownProject(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ProjectBudgetVariance(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryNotFound, apperr.CategoryOf(err))
}
