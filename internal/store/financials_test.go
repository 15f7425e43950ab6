package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppmcore/internal/types"
)

func newFinancialsStore(t *testing.T) *PPMStore {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "financials.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestExistingFIDocNosLargeKeySet(t *testing.T) {
	st := newFinancialsStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertActualsBatch(ctx, []*types.ActualRecord{
		{FIDocNo: "FI-000042", Amount: 1, Currency: "USD"},
		{FIDocNo: "FI-099999", Amount: 2, Currency: "USD"},
	}))

	// Well past the per-statement bind variable cap; must span chunks.
	docNos := make([]string, 100000)
	for i := range docNos {
		docNos[i] = fmt.Sprintf("FI-%06d", i)
	}

	existing, err := st.ExistingFIDocNos(ctx, docNos)
	require.NoError(t, err)
	assert.Len(t, existing, 2)
	assert.True(t, existing["FI-000042"])
	assert.True(t, existing["FI-099999"])
}

func TestExistingPOLinesLargeKeySet(t *testing.T) {
	st := newFinancialsStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertCommitmentsBatch(ctx, []*types.CommitmentRecord{
		{PONumber: "PO-000007", POLineNr: 1, PONetAmount: 100, Currency: "USD"},
		{PONumber: "PO-000007", POLineNr: 2, PONetAmount: 200, Currency: "USD"},
		{PONumber: "PO-049999", POLineNr: 1, PONetAmount: 300, Currency: "USD"},
	}))

	poNumbers := make([]string, 50000)
	for i := range poNumbers {
		poNumbers[i] = fmt.Sprintf("PO-%06d", i)
	}

	existing, err := st.ExistingPOLines(ctx, poNumbers)
	require.NoError(t, err)
	assert.Len(t, existing, 3)
	assert.True(t, existing[POLineKey{PONumber: "PO-000007", POLineNr: 2}])
	assert.True(t, existing[POLineKey{PONumber: "PO-049999", POLineNr: 1}])
}
