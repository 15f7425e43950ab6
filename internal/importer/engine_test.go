package importer

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ppmcore/internal/config"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

// The validation phase fans out to a bounded worker pool; leaked workers
// would show up here.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestEngine(t *testing.T) (*Engine, *store.PPMStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.DefaultPortfolioID = "portfolio-default"
	return New(st, cfg), st
}

func actualRow(docNo, projectNr, amount string) RawRow {
	return RawRow{
		"fi_doc_no":    docNo,
		"project_nr":   projectNr,
		"wbs_element":  projectNr + ".01",
		"vendor":       "ACME Corp",
		"amount":       amount,
		"currency":     "EUR",
		"posting_date": "2026-03-15",
	}
}

func TestImportActualsHappyPath(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	rows := []RawRow{
		actualRow("A1", "SAP-100", "100.50"),
		actualRow("A2", "SAP-200", "200.00"),
		actualRow("A3", "SAP-300", "1,300.25"),
	}
	res, err := e.ImportActuals(ctx, rows, Options{UserID: "user-1", Anonymize: true})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.SuccessCount)
	assert.Equal(t, 0, res.DuplicateCount)
	assert.Equal(t, 0, res.ErrorCount)
	assert.Equal(t, types.ImportCompleted, res.Status)

	projects, err := st.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 3, "distinct project numbers auto-create distinct projects")

	audit, err := st.GetImportAudit(ctx, res.ImportID)
	require.NoError(t, err)
	assert.Equal(t, types.ImportCompleted, audit.Status)
	assert.Equal(t, "user-1", audit.UserID)
}

func TestImportActualsInBatchDuplicate(t *testing.T) {
	e, _ := newTestEngine(t)

	rows := []RawRow{
		actualRow("A1", "SAP-100", "100"),
		actualRow("A1", "SAP-100", "100"),
		actualRow("A2", "SAP-200", "200"),
	}
	res, err := e.ImportActuals(context.Background(), rows, Options{UserID: "user-1", Anonymize: true})
	require.NoError(t, err)

	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.DuplicateCount)
	assert.Equal(t, 0, res.ErrorCount)
}

func TestReimportIsAllDuplicates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	rows := []RawRow{
		actualRow("A1", "SAP-100", "100"),
		actualRow("A2", "SAP-200", "200"),
	}
	first, err := e.ImportActuals(ctx, rows, Options{UserID: "user-1", Anonymize: true})
	require.NoError(t, err)
	assert.Equal(t, 2, first.SuccessCount)

	second, err := e.ImportActuals(ctx, rows, Options{UserID: "user-1", Anonymize: true})
	require.NoError(t, err)
	assert.Equal(t, 0, second.SuccessCount)
	assert.Equal(t, 2, second.DuplicateCount)
	assert.Equal(t, 0, second.ErrorCount)
}

func commitmentRow(poNumber string, line int) RawRow {
	return RawRow{
		"po_number":     poNumber,
		"po_line_nr":    fmt.Sprintf("%d", line),
		"project_nr":    "SAP-100",
		"vendor":        "ACME Corp",
		"po_net_amount": "500.00",
		"currency":      "EUR",
	}
}

func TestImportCommitmentsCompositeKeyDedupe(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// Store already contains (PO100, 1).
	seed, err := e.ImportCommitments(ctx, []RawRow{commitmentRow("PO100", 1)}, Options{UserID: "user-1"})
	require.NoError(t, err)
	require.Equal(t, 1, seed.SuccessCount)

	res, err := e.ImportCommitments(ctx, []RawRow{
		commitmentRow("PO100", 1),
		commitmentRow("PO100", 2),
	}, Options{UserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.SuccessCount, "line 2 is new")
	assert.Equal(t, 1, res.DuplicateCount, "line 1 already stored")
	assert.Equal(t, 0, res.ErrorCount)
}

func TestValidationErrorCap(t *testing.T) {
	e, _ := newTestEngine(t)

	rows := make([]RawRow, 200)
	for i := range rows {
		rows[i] = actualRow(fmt.Sprintf("A%d", i), "SAP-100", "not-a-number")
	}
	res, err := e.ImportActuals(context.Background(), rows, Options{UserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 0, res.DuplicateCount)
	assert.Equal(t, 200, res.ErrorCount, "error count reflects affected rows, not collected errors")
	assert.Len(t, res.Errors, 51, "50 individual errors plus one aggregate marker")
	assert.Contains(t, res.Errors[50].Error, "more errors")
	assert.Equal(t, types.ImportFailed, res.Status)
	assert.False(t, res.Success)
}

func TestPartialImportMixedRows(t *testing.T) {
	e, _ := newTestEngine(t)

	rows := []RawRow{
		actualRow("A1", "SAP-100", "100"),
		actualRow("A2", "SAP-200", "bad"),
		actualRow("A3", "SAP-300", "300"),
	}
	res, err := e.ImportActuals(context.Background(), rows, Options{UserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.SuccessCount, "a malformed row never blocks valid rows behind it")
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, types.ImportPartial, res.Status)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Errors[0].Row, "row indexes are 1-based")
	assert.Equal(t, "amount", res.Errors[0].Field)
}

func TestImportTotalsInvariant(t *testing.T) {
	e, _ := newTestEngine(t)

	rows := []RawRow{
		actualRow("A1", "SAP-100", "100"),
		actualRow("A1", "SAP-100", "100"), // duplicate
		actualRow("A2", "SAP-200", "bad"), // validation error
		actualRow("A3", "SAP-300", "300"),
		{"fi_doc_no": "", "amount": "bad"}, // two field errors, one affected row
	}
	res, err := e.ImportActuals(context.Background(), rows, Options{UserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, res.Total, res.SuccessCount+res.DuplicateCount+res.ErrorCount)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.DuplicateCount)
	assert.Equal(t, 2, res.ErrorCount)
}

func TestMissingRequiredFields(t *testing.T) {
	e, _ := newTestEngine(t)

	res, err := e.ImportActuals(context.Background(), []RawRow{
		{"amount": "100", "project_nr": "SAP-100"},
	}, Options{UserID: "user-1"})
	require.NoError(t, err)

	require.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, "fi_doc_no", res.Errors[0].Field)
}

func TestFailedImportStillAudited(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	// Break the dedupe query while the context is still live.
	_, err := st.DB().ExecContext(ctx, "DROP TABLE actuals")
	require.NoError(t, err)

	_, err = e.ImportActuals(ctx, []RawRow{actualRow("A1", "SAP-100", "100")},
		Options{UserID: "user-1"})
	require.Error(t, err)

	entries, err := st.ListImportAudits(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "an aborted import still leaves its audit entry")
	assert.Equal(t, types.ImportFailed, entries[0].Status)
	assert.Equal(t, 1, entries[0].Total)
	assert.Equal(t, 1, entries[0].ErrorCount)
	require.NotEmpty(t, entries[0].Errors)
	assert.Contains(t, entries[0].Errors[0].Error, "duplicate detection failed")
}

func TestAnonymizedImportScrubsErrorValues(t *testing.T) {
	e, _ := newTestEngine(t)

	res, err := e.ImportActuals(context.Background(),
		[]RawRow{actualRow("A1", "Confidential GmbH", "not-a-number")},
		Options{UserID: "user-1", Anonymize: true})
	require.NoError(t, err)

	require.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, "amount", res.Errors[0].Field)
	assert.Empty(t, res.Errors[0].Value, "errors from an anonymized import carry no source values")
}

func TestAnonymizationAppliedBeforeInsert(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ImportActuals(ctx, []RawRow{actualRow("A1", "SAP-100", "100")},
		Options{UserID: "user-1", Anonymize: true})
	require.NoError(t, err)

	projects, err := st.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "P0001", projects[0].Name, "stored project name is the pseudonym")
}

func TestAnonymizationDisabledKeepsOriginals(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ImportActuals(ctx, []RawRow{actualRow("A1", "SAP-100", "100")},
		Options{UserID: "user-1", Anonymize: false})
	require.NoError(t, err)

	projects, err := st.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "SAP-100", projects[0].Name)
}

func TestImportDeadlineReturnsPartialTotals(t *testing.T) {
	e, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // expired before phase 4

	res, err := e.ImportActuals(ctx, []RawRow{actualRow("A1", "SAP-100", "100")},
		Options{UserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, "timeout", res.Errors[0].Field)
	assert.Equal(t, res.Total, res.SuccessCount+res.DuplicateCount+res.ErrorCount)
}
