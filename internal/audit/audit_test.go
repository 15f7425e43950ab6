package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

func newTestService(t *testing.T) (*Service, *store.PPMStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func TestRecordAndRead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.Record(ctx, EventRoleChange, "admin-1", "user", "user-1", map[string]interface{}{"role": "viewer"})
	svc.Record(ctx, EventAdminAction, "admin-1", "role", "role-1", nil)

	events, err := svc.Events(ctx, "", "", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	roleEvents, err := svc.Events(ctx, EventRoleChange, "", 10)
	require.NoError(t, err)
	require.Len(t, roleEvents, 1)
	assert.Equal(t, "user-1", roleEvents[0].EntityID)
	assert.Equal(t, "viewer", roleEvents[0].Detail["role"])
}

func TestRecordSwallowsFailures(t *testing.T) {
	svc, st := newTestService(t)
	require.NoError(t, st.Close())

	// closed store: the write fails internally but never panics or returns
	svc.Record(context.Background(), EventAdminAction, "admin-1", "role", "role-1", nil)
}

func TestStatistics(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, st.AppendImportAudit(ctx, &types.ImportAuditEntry{
		ImportID: "imp-1", UserID: "u1", ImportType: types.ImportActuals,
		Total: 10, SuccessCount: 8, DuplicateCount: 1, ErrorCount: 1,
		Status: types.ImportCompleted, StartedAt: now, FinishedAt: now,
	}))
	require.NoError(t, st.AppendImportAudit(ctx, &types.ImportAuditEntry{
		ImportID: "imp-2", UserID: "u2", ImportType: types.ImportCommitments,
		Total: 5, SuccessCount: 0, DuplicateCount: 0, ErrorCount: 5,
		Status: types.ImportFailed, StartedAt: now, FinishedAt: now,
	}))

	stats, err := svc.Statistics(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Runs)
	assert.Equal(t, 15, stats.TotalRows)
	assert.Equal(t, 8, stats.SuccessRows)
	assert.Equal(t, 1, stats.ByStatus[string(types.ImportCompleted)])
	assert.Equal(t, 1, stats.ByStatus[string(types.ImportFailed)])

	history, err := svc.ImportHistory(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "imp-1", history[0].ImportID)
}
