package variance

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

func newTestEngine(t *testing.T) (*Engine, *store.PPMStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "variance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func seedProject(t *testing.T, st *store.PPMStore, name string, commitment, actual float64) string {
	t.Helper()
	ctx := context.Background()
	p, err := st.CreateProject(ctx, &types.Project{
		PortfolioID: "pf-1", Name: name,
		Status: types.ProjectActive, Health: types.HealthGreen,
	})
	require.NoError(t, err)

	if commitment > 0 {
		require.NoError(t, st.InsertCommitmentsBatch(ctx, []*types.CommitmentRecord{{
			PONumber: "PO-" + name, POLineNr: 1, ProjectID: p.ID,
			ProjectNr: name, WBSElement: name + ".01", PONetAmount: commitment, Currency: "USD",
		}}))
	}
	if actual > 0 {
		require.NoError(t, st.InsertActualsBatch(ctx, []*types.ActualRecord{{
			FIDocNo: "FI-" + name, ProjectID: p.ID,
			ProjectNr: name, WBSElement: name + ".01", Amount: actual, Currency: "USD",
		}}))
	}
	return p.ID
}

func TestVarianceBoundaryInclusiveTowardOn(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	onID := seedProject(t, st, "on-track", 100, 105)
	fact, err := e.ProjectSummary(ctx, onID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, fact.VariancePct)
	assert.Equal(t, types.VarianceOn, fact.Status, "+5%% exactly is still on track")

	overID := seedProject(t, st, "over", 100, 105.01)
	fact, err = e.ProjectSummary(ctx, overID)
	require.NoError(t, err)
	assert.Equal(t, 5.01, fact.VariancePct)
	assert.Equal(t, types.VarianceOver, fact.Status)

	underID := seedProject(t, st, "under", 100, 94.99)
	fact, err = e.ProjectSummary(ctx, underID)
	require.NoError(t, err)
	assert.Equal(t, types.VarianceUnder, fact.Status)
}

func TestVarianceArithmetic(t *testing.T) {
	e, st := newTestEngine(t)

	id := seedProject(t, st, "arith", 300, 250)
	fact, err := e.ProjectSummary(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, -50.0, fact.Variance)
	assert.Equal(t, -16.67, fact.VariancePct, "rounded to two decimals")
	assert.Equal(t, types.VarianceUnder, fact.Status)
}

func TestVarianceZeroCommitment(t *testing.T) {
	e, st := newTestEngine(t)

	id := seedProject(t, st, "no-plan", 0, 50)
	fact, err := e.ProjectSummary(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, 0.0, fact.VariancePct)
	assert.Equal(t, types.VarianceOver, fact.Status, "spend without a plan is over")
}

func TestCalculateAllIsolatesFailures(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	goodID := seedProject(t, st, "good", 100, 90)
	orphanID := seedProject(t, st, "orphan", 100, 200)
	require.NoError(t, st.DeleteProject(ctx, orphanID))

	res, err := e.CalculateAll(ctx, "default", nil)
	require.NoError(t, err)

	assert.Len(t, res.Projects, 2, "facts are computed even when the project row is gone")
	assert.Contains(t, res.Errors, orphanID)

	var good *types.VarianceFact
	for _, f := range res.Projects {
		if f.ProjectID == goodID {
			good = f
		}
	}
	require.NotNil(t, good)
	assert.Equal(t, "good", good.ProjectName)
}

func TestCalculateAllScopedToOrganization(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, st.CreatePortfolio(ctx, &types.Portfolio{
		ID: "pf-eu", OrganizationID: "org-eu", Name: "EU Portfolio",
	}))
	eu, err := st.CreateProject(ctx, &types.Project{
		PortfolioID: "pf-eu", Name: "eu-project",
		Status: types.ProjectActive, Health: types.HealthGreen,
	})
	require.NoError(t, err)
	require.NoError(t, st.InsertActualsBatch(ctx, []*types.ActualRecord{{
		FIDocNo: "FI-eu", ProjectID: eu.ID, Amount: 10, Currency: "EUR",
	}}))

	// seeded portfolio has no row, so this project falls to the default org
	defID := seedProject(t, st, "default-project", 100, 90)

	res, err := e.CalculateAll(ctx, "default", nil)
	require.NoError(t, err)
	require.Len(t, res.Projects, 1)
	assert.Equal(t, defID, res.Projects[0].ProjectID)

	res, err = e.CalculateAll(ctx, "org-eu", nil)
	require.NoError(t, err)
	require.Len(t, res.Projects, 1)
	assert.Equal(t, eu.ID, res.Projects[0].ProjectID)
}

func TestWBSDetails(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	id := seedProject(t, st, "multi", 100, 80)
	require.NoError(t, st.InsertActualsBatch(ctx, []*types.ActualRecord{{
		FIDocNo: "FI-multi-2", ProjectID: id, WBSElement: "multi.02", Amount: 40, Currency: "USD",
	}}))

	facts, err := e.WBSDetails(ctx, id)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "multi.01", facts[0].WBSElement)
	assert.Equal(t, "multi.02", facts[1].WBSElement)
	assert.Equal(t, 40.0, facts[1].TotalActual)
	assert.Equal(t, 0.0, facts[1].TotalCommitment)
}

func TestInitializeDefaultRulesIdempotent(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InitializeDefaultRules(ctx, "default"))
	require.NoError(t, e.InitializeDefaultRules(ctx, "default"))

	n, err := st.CountThresholdRules(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestCheckThresholdsCreatesOneAlertPerMatchingRule(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InitializeDefaultRules(ctx, "default"))
	id := seedProject(t, st, "hot", 100, 115) // +15%: crosses info(5) and medium(10)

	alerts, err := e.CheckThresholds(ctx, "default", []string{id})
	require.NoError(t, err)
	assert.Len(t, alerts, 2)

	severities := map[types.AlertSeverity]bool{}
	for _, a := range alerts {
		severities[a.Severity] = true
		assert.Equal(t, types.AlertNew, a.Status)
		assert.Equal(t, 15.0, a.VariancePct)
	}
	assert.True(t, severities[types.SeverityInfo])
	assert.True(t, severities[types.SeverityMedium])
}

func TestCheckThresholdsCooldownSuppressesRepeats(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InitializeDefaultRules(ctx, "default"))
	id := seedProject(t, st, "hot", 100, 115)

	first, err := e.CheckThresholds(ctx, "default", []string{id})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := e.CheckThresholds(ctx, "default", []string{id})
	require.NoError(t, err)
	assert.Empty(t, second, "active alerts within cooldown suppress new ones")

	stored, err := st.ListAlerts(ctx, id)
	require.NoError(t, err)
	assert.Len(t, stored, len(first))
}

func TestAlertLifecycle(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InitializeDefaultRules(ctx, "default"))
	id := seedProject(t, st, "hot", 100, 160)
	alerts, err := e.CheckThresholds(ctx, "default", []string{id})
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	alertID := alerts[0].ID

	// resolve before acknowledge is a conflict
	err = e.ResolveAlert(ctx, alertID, "user-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryConflict, apperr.CategoryOf(err))

	require.NoError(t, e.AcknowledgeAlert(ctx, alertID, "user-1"))

	// acknowledging twice is a conflict (monotonic chain)
	err = e.AcknowledgeAlert(ctx, alertID, "user-2")
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryConflict, apperr.CategoryOf(err))

	require.NoError(t, e.ResolveAlert(ctx, alertID, "user-2"))

	a, err := st.GetAlert(ctx, alertID)
	require.NoError(t, err)
	assert.Equal(t, types.AlertResolved, a.Status)
	assert.Equal(t, "user-1", a.AcknowledgedBy)
	assert.Equal(t, "user-2", a.ResolvedBy)
	require.NotNil(t, a.AcknowledgedAt)
	require.NotNil(t, a.ResolvedAt)
	assert.False(t, a.ResolvedAt.Before(*a.AcknowledgedAt))
}

func TestTrends(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	id := seedProject(t, st, "trend", 0, 0)
	now := time.Now().UTC()
	yesterday := now.AddDate(0, 0, -1)
	require.NoError(t, st.InsertActualsBatch(ctx, []*types.ActualRecord{
		{FIDocNo: "T1", ProjectID: id, Amount: 10, Currency: "USD", PostingDate: &yesterday},
		{FIDocNo: "T2", ProjectID: id, Amount: 20, Currency: "USD", PostingDate: &yesterday},
		{FIDocNo: "T3", ProjectID: id, Amount: 5, Currency: "USD", PostingDate: &now},
	}))

	points, err := e.Trends(ctx, id, 7)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 30.0, points[0].Amount)
	assert.Equal(t, 5.0, points[1].Amount)
}
