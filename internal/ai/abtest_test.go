package ai

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppmcore/internal/apperr"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

func newABService(t *testing.T) (*ABTestService, *store.PPMStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewABTestService(st), st
}

func TestAssignVariantDeterministic(t *testing.T) {
	test := &types.ABTest{ID: "test-1", ModelA: "model-a", ModelB: "model-b", TrafficSplit: 0.5}

	first := AssignVariant(test, "user-1")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, AssignVariant(test, "user-1"), "assignment is stable per (test, user)")
	}
}

func TestAssignVariantRespectsSplit(t *testing.T) {
	all := &types.ABTest{ID: "test-1", ModelA: "model-a", ModelB: "model-b", TrafficSplit: 1.0}
	none := &types.ABTest{ID: "test-1", ModelA: "model-a", ModelB: "model-b", TrafficSplit: 0.0}

	for i := 0; i < 50; i++ {
		user := fmt.Sprintf("user-%d", i)
		assert.Equal(t, "model-a", AssignVariant(all, user))
		assert.Equal(t, "model-b", AssignVariant(none, user))
	}
}

func TestAssignVariantSplitsTraffic(t *testing.T) {
	test := &types.ABTest{ID: "test-split", ModelA: "model-a", ModelB: "model-b", TrafficSplit: 0.5}

	countA := 0
	for i := 0; i < 1000; i++ {
		if AssignVariant(test, fmt.Sprintf("user-%d", i)) == "model-a" {
			countA++
		}
	}
	assert.InDelta(t, 500, countA, 100, "roughly half the users land on A")
}

func TestABTestLifecycle(t *testing.T) {
	svc, _ := newABService(t)
	ctx := context.Background()

	test := &types.ABTest{ModelA: "model-a", ModelB: "model-b", OperationType: ragOperation, TrafficSplit: 0.5}
	require.NoError(t, svc.Create(ctx, test))

	// completing a draft is a conflict
	err := svc.Complete(ctx, test.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryConflict, apperr.CategoryOf(err))

	require.NoError(t, svc.Start(ctx, test.ID))

	// starting twice is a conflict
	err = svc.Start(ctx, test.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryConflict, apperr.CategoryOf(err))

	require.NoError(t, svc.Complete(ctx, test.ID))
}

func TestModelForUserWithoutActiveTest(t *testing.T) {
	svc, _ := newABService(t)

	model, err := svc.ModelForUser(context.Background(), ragOperation, "user-1", "fallback-model")
	require.NoError(t, err)
	assert.Equal(t, "fallback-model", model)
}

func TestModelForUserWithActiveTest(t *testing.T) {
	svc, _ := newABService(t)
	ctx := context.Background()

	test := &types.ABTest{ModelA: "model-a", ModelB: "model-b", OperationType: ragOperation, TrafficSplit: 1.0}
	require.NoError(t, svc.Create(ctx, test))
	require.NoError(t, svc.Start(ctx, test.ID))

	model, err := svc.ModelForUser(ctx, ragOperation, "user-1", "fallback-model")
	require.NoError(t, err)
	assert.Equal(t, "model-a", model, "split 1.0 routes everyone to A")
}

func TestCreateRejectsBadSplit(t *testing.T) {
	svc, _ := newABService(t)

	err := svc.Create(context.Background(), &types.ABTest{ModelA: "a", ModelB: "b", TrafficSplit: 1.5})
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryValidation, apperr.CategoryOf(err))
}

func TestResultsComparesArms(t *testing.T) {
	svc, st := newABService(t)
	ctx := context.Background()

	test := &types.ABTest{ModelA: "model-a", ModelB: "model-b", OperationType: ragOperation, TrafficSplit: 0.5}
	require.NoError(t, svc.Create(ctx, test))
	require.NoError(t, svc.Start(ctx, test.ID))

	for i := 0; i < 40; i++ {
		require.NoError(t, st.AppendAIOperation(ctx, &types.AIOperation{
			ModelID: "model-a", Type: ragOperation, UserID: "u",
			Confidence: 0.8, Success: true,
		}))
		require.NoError(t, st.AppendAIOperation(ctx, &types.AIOperation{
			ModelID: "model-b", Type: ragOperation, UserID: "u",
			Confidence: 0.5, Success: i%2 == 0,
		}))
	}

	res, err := svc.Results(ctx, test.ID)
	require.NoError(t, err)
	require.NotNil(t, res.A)
	require.NotNil(t, res.B)
	assert.Equal(t, 40, res.A.Operations)
	assert.Equal(t, 1.0, res.A.SuccessRate)
	assert.InDelta(t, 0.5, res.B.SuccessRate, 0.01)
	assert.Equal(t, 80, res.SampleSize)
	assert.True(t, res.Significant, "100%% vs 50%% success over 40 samples each")
}
