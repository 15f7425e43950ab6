package linker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

func newTestStore(t *testing.T) *store.PPMStore {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestGetOrCreateIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	l := New(st, "portfolio-1")

	id1, err := l.GetOrCreate(ctx, "P0001", "P0001.01")
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	for i := 0; i < 5; i++ {
		id, err := l.GetOrCreate(ctx, "P0001", "P0001.01")
		require.NoError(t, err)
		assert.Equal(t, id1, id)
	}

	projects, err := st.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1, "repeated calls must create at most one project row")
}

func TestGetOrCreateSetsAutoCreatedFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	l := New(st, "portfolio-1")

	id, err := l.GetOrCreate(ctx, "P0002", "P0002.03")
	require.NoError(t, err)

	p, err := st.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "P0002", p.Name)
	assert.Equal(t, "portfolio-1", p.PortfolioID)
	assert.Equal(t, types.ProjectActive, p.Status)
	assert.Equal(t, types.HealthGreen, p.Health)
	assert.Contains(t, p.Description, "P0002.03")
}

func TestGetOrCreateWithoutWBS(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	l := New(st, "portfolio-1")

	id, err := l.GetOrCreate(ctx, "P0003", "")
	require.NoError(t, err)

	p, err := st.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, p.Description)
}

func TestGetOrCreateEmptyProjectNr(t *testing.T) {
	st := newTestStore(t)
	l := New(st, "portfolio-1")

	_, err := l.GetOrCreate(context.Background(), "", "")
	assert.Error(t, err)
}

func TestPreloadAvoidsStoreLookups(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Existing project created by an earlier import session.
	created, err := st.CreateProject(ctx, &types.Project{
		PortfolioID: "portfolio-1",
		Name:        "P0001",
		Status:      types.ProjectActive,
		Health:      types.HealthGreen,
	})
	require.NoError(t, err)

	l := New(st, "portfolio-1")
	require.NoError(t, l.Preload(ctx))
	assert.Equal(t, 1, l.CacheSize())

	id, err := l.GetOrCreate(ctx, "P0001", "")
	require.NoError(t, err)
	assert.Equal(t, created.ID, id)
}

func TestGetOrCreateRecreatesAfterDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	l := New(st, "portfolio-1")
	id, err := l.GetOrCreate(ctx, "P0010", "")
	require.NoError(t, err)
	require.NoError(t, st.DeleteProject(ctx, id))

	// Fresh session, cache miss: the lookup reports no rows (not a hard
	// store failure) and the project is recreated.
	l2 := New(st, "portfolio-1")
	id2, err := l2.GetOrCreate(ctx, "P0010", "")
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestConcurrentCreateConvergesOnOneRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Two linkers simulate two concurrent import sessions racing on the
	// same project number. The unique name constraint makes create
	// best-effort with a refetch on conflict.
	l1 := New(st, "portfolio-1")
	l2 := New(st, "portfolio-1")

	id1, err := l1.GetOrCreate(ctx, "P0009", "")
	require.NoError(t, err)
	id2, err := l2.GetOrCreate(ctx, "P0009", "")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	projects, err := st.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}
