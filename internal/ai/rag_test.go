package ai

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppmcore/internal/apperr"
	"ppmcore/internal/cache"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

// fakeEngine maps known substrings onto fixed unit vectors so similarity is
// controllable from test input.
type fakeEngine struct {
	fail bool
}

func (f *fakeEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding endpoint unreachable")
	}
	vec := make([]float32, 8)
	switch {
	case strings.Contains(strings.ToLower(text), "migration"):
		vec[0] = 1
	case strings.Contains(strings.ToLower(text), "staffing"):
		vec[1] = 1
	default:
		vec[2] = 1
	}
	return vec, nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEngine) Dimensions() int { return 8 }
func (f *fakeEngine) Name() string    { return "fake:test" }

type fakeChat struct {
	response string
	fail     bool
	calls    int
}

func (f *fakeChat) Complete(_ context.Context, _, _ string) (*Completion, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("model endpoint unreachable")
	}
	return &Completion{Text: f.response, InputTokens: 100, OutputTokens: 50}, nil
}

func (f *fakeChat) ModelID() string { return "fake-model" }

func newRAGFixture(t *testing.T, chat *fakeChat) (*RAGService, *store.PPMStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "rag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := NewRAGService(st, &fakeEngine{}, chat, cache.New(100, nil), 5*time.Minute, 10*time.Minute)
	return svc, st
}

func seedIndexedProject(t *testing.T, st *store.PPMStore, name, description string) {
	t.Helper()
	ctx := context.Background()
	p, err := st.CreateProject(ctx, &types.Project{
		PortfolioID: "pf-1", Name: name, Description: description,
		Status: types.ProjectActive, Health: types.HealthGreen,
	})
	require.NoError(t, err)

	ix := NewIndexer(st, &fakeEngine{})
	require.NoError(t, ix.IndexProject(ctx, p))
}

func TestRAGQueryHappyPath(t *testing.T) {
	chat := &fakeChat{response: "The migration project is active and healthy."}
	svc, st := newRAGFixture(t, chat)
	ctx := context.Background()

	seedIndexedProject(t, st, "Datacenter Migration", "migration of workloads")
	seedIndexedProject(t, st, "Team Staffing", "staffing ramp-up")

	resp, err := svc.Query(ctx, "how is the migration going?", "user-1", "")
	require.NoError(t, err)

	assert.Equal(t, chat.response, resp.Response)
	assert.NotEmpty(t, resp.ConversationID)
	assert.NotEmpty(t, resp.OperationID)
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, ContentProject, resp.Sources[0].ContentType)

	// operation logged
	exists, err := st.HasAIOperation(ctx, resp.OperationID)
	require.NoError(t, err)
	assert.True(t, exists)

	// conversation persisted
	history, err := svc.History(ctx, resp.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "how is the migration going?", history[0].Query)
}

func TestRAGConfidenceBounds(t *testing.T) {
	hits := []types.SearchHit{{Similarity: 0.9}, {Similarity: 0.7}}

	c := ragConfidence(strings.Repeat("x", 500), hits)
	assert.InDelta(t, 0.7*0.8+0.3, c, 1e-9)
	assert.GreaterOrEqual(t, c, 0.0)
	assert.LessOrEqual(t, c, 1.0)

	assert.Equal(t, 0.3, ragConfidence("anything", nil), "no sources pins confidence at 0.3")

	// short responses weaken the length factor
	short := ragConfidence("ok", hits)
	assert.Less(t, short, c)
}

func TestRAGQueryCachesResponse(t *testing.T) {
	chat := &fakeChat{response: "cached answer"}
	svc, st := newRAGFixture(t, chat)
	ctx := context.Background()

	seedIndexedProject(t, st, "Migration", "migration work")

	first, err := svc.Query(ctx, "migration status?", "user-1", "conv-1")
	require.NoError(t, err)
	second, err := svc.Query(ctx, "migration status?", "user-1", "conv-1")
	require.NoError(t, err)

	assert.Equal(t, 1, chat.calls, "second call served from cache")
	assert.Equal(t, first.OperationID, second.OperationID)

	// a different user misses the cache
	_, err = svc.Query(ctx, "migration status?", "user-2", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, chat.calls)
}

func TestRAGQueryModelFailure(t *testing.T) {
	chat := &fakeChat{fail: true}
	svc, st := newRAGFixture(t, chat)
	ctx := context.Background()

	seedIndexedProject(t, st, "Migration", "migration work")

	_, err := svc.Query(ctx, "migration status?", "user-1", "")
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryDependency, apperr.CategoryOf(err))

	// the failed call still leaves an operation record
	perf, err := NewFeedbackService(st).Performance(ctx, ragOperation, 1)
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, 0.0, perf[0].SuccessRate)
}

func TestRAGQueryEmptyQuery(t *testing.T) {
	svc, _ := newRAGFixture(t, &fakeChat{response: "x"})

	_, err := svc.Query(context.Background(), "   ", "user-1", "")
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryValidation, apperr.CategoryOf(err))
}

func TestFeedbackRequiresExistingOperation(t *testing.T) {
	chat := &fakeChat{response: "answer"}
	svc, st := newRAGFixture(t, chat)
	ctx := context.Background()
	fb := NewFeedbackService(st)

	err := fb.Submit(ctx, &types.Feedback{OperationID: "missing", UserID: "u", Rating: 4})
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryNotFound, apperr.CategoryOf(err))

	seedIndexedProject(t, st, "Migration", "migration work")
	resp, err := svc.Query(ctx, "migration?", "user-1", "")
	require.NoError(t, err)

	require.NoError(t, fb.Submit(ctx, &types.Feedback{
		OperationID: resp.OperationID, UserID: "user-1", Rating: 5, FeedbackType: "helpful",
	}))

	err = fb.Submit(ctx, &types.Feedback{OperationID: resp.OperationID, UserID: "user-1", Rating: 9})
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryValidation, apperr.CategoryOf(err))
}

func TestIndexerRemoveCleansEmbedding(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "ix.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	ix := NewIndexer(st, &fakeEngine{})
	p, err := st.CreateProject(ctx, &types.Project{
		PortfolioID: "pf-1", Name: "Migration", Status: types.ProjectActive, Health: types.HealthGreen,
	})
	require.NoError(t, err)
	require.NoError(t, ix.IndexProject(ctx, p))

	queryVec, _ := (&fakeEngine{}).Embed(ctx, "migration")
	hits, err := st.SearchEmbeddings(ctx, queryVec, []string{ContentProject}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	require.NoError(t, ix.Remove(ctx, ContentProject, p.ID))
	hits, err = st.SearchEmbeddings(ctx, queryVec, []string{ContentProject}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestReindexProjects(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "reix.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	for _, name := range []string{"Migration", "Staffing", "Rollout"} {
		_, err := st.CreateProject(ctx, &types.Project{
			PortfolioID: "pf-1", Name: name, Status: types.ProjectActive, Health: types.HealthGreen,
		})
		require.NoError(t, err)
	}

	ix := NewIndexer(st, &fakeEngine{})
	n, err := ix.ReindexProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
