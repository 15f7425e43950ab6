package helpchat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppmcore/internal/ai"
	"ppmcore/internal/apperr"
	"ppmcore/internal/cache"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

type fakeEngine struct{}

func (f *fakeEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	if strings.Contains(strings.ToLower(text), "budget") {
		vec[0] = 1
	} else {
		vec[1] = 1
	}
	return vec, nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEngine) Dimensions() int { return 8 }
func (f *fakeEngine) Name() string    { return "fake:test" }

type fakeChat struct {
	response    string
	fail        bool
	calls       int
	lastUserMsg string
}

func (f *fakeChat) Complete(_ context.Context, _, userPrompt string) (*ai.Completion, error) {
	f.calls++
	f.lastUserMsg = userPrompt
	if f.fail {
		return nil, errors.New("model endpoint unreachable")
	}
	return &ai.Completion{Text: f.response, InputTokens: 80, OutputTokens: 40}, nil
}

func (f *fakeChat) ModelID() string { return "fake-model" }

// fakeTranslator tags translated text so tests can see which direction ran.
type fakeTranslator struct{}

func (fakeTranslator) Detect(_ context.Context, _ string) (string, error) { return "es", nil }

func (fakeTranslator) Translate(_ context.Context, text, fromLang, toLang string) (string, error) {
	return "[" + fromLang + ">" + toLang + "] " + text, nil
}

func newHelpFixture(t *testing.T, chat *fakeChat, translator Translator) (*Service, *store.PPMStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "help.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := New(st, &fakeEngine{}, chat, cache.New(100, nil), translator, 5*time.Minute, 10*time.Minute)
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
	require.NoError(t, ai.NewIndexer(st, &fakeEngine{}).IndexProject(ctx, p))
}

func TestAskHappyPath(t *testing.T) {
	chat := &fakeChat{response: "Open the finance tab to see budget variance."}
	svc, st := newHelpFixture(t, chat, nil)
	ctx := context.Background()

	seedIndexedProject(t, st, "Budget Tracker", "budget reporting project")

	resp, err := svc.Ask(ctx, Request{Query: "where do I see budget variance?", UserID: "user-1", PageRoute: "/dashboard"})
	require.NoError(t, err)

	assert.Equal(t, chat.response, resp.Response)
	assert.False(t, resp.Degraded)
	assert.Equal(t, "en", resp.Language)
	assert.NotEmpty(t, resp.Sources)
	assert.NotEmpty(t, resp.OperationID)

	exists, err := st.HasAIOperation(ctx, resp.OperationID)
	require.NoError(t, err)
	assert.True(t, exists)

	// one analytics event per query
	events, err := st.ListAuditEvents(ctx, "help_query", "", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "user-1", events[0].ActorID)
}

func TestAskCacheKeyedByContextAndLanguage(t *testing.T) {
	chat := &fakeChat{response: "answer"}
	svc, _ := newHelpFixture(t, chat, fakeTranslator{})
	ctx := context.Background()

	base := Request{Query: "how do imports work?", UserID: "user-1", PageRoute: "/imports"}

	_, err := svc.Ask(ctx, base)
	require.NoError(t, err)
	_, err = svc.Ask(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, chat.calls, "repeat question served from cache")

	other := base
	other.PageRoute = "/dashboard"
	_, err = svc.Ask(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 2, chat.calls, "different page context misses the cache")

	translated := base
	translated.Language = "es"
	_, err = svc.Ask(ctx, translated)
	require.NoError(t, err)
	assert.Equal(t, 3, chat.calls, "different language misses the cache")
}

func TestAskFallsBackOnModelFailure(t *testing.T) {
	chat := &fakeChat{fail: true}
	svc, _ := newHelpFixture(t, chat, nil)

	resp, err := svc.Ask(context.Background(), Request{Query: "help?", UserID: "user-1"})
	require.NoError(t, err, "model failure degrades instead of erroring")

	assert.True(t, resp.Degraded)
	assert.NotEmpty(t, resp.Suggestions)
	assert.Empty(t, resp.OperationID)

	// degraded answers are not cached; recovery serves a real answer
	chat.fail = false
	chat.response = "recovered"
	resp, err = svc.Ask(context.Background(), Request{Query: "help?", UserID: "user-1"})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	assert.Equal(t, "recovered", resp.Response)
}

func TestAskDegradedMode(t *testing.T) {
	chat := &fakeChat{response: "never called"}
	svc, _ := newHelpFixture(t, chat, nil)
	svc.SetDegraded(true)

	resp, err := svc.Ask(context.Background(), Request{Query: "anything", UserID: "user-1"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, 0, chat.calls)
}

func TestAskEmptyQuery(t *testing.T) {
	svc, _ := newHelpFixture(t, &fakeChat{}, nil)

	_, err := svc.Ask(context.Background(), Request{Query: "  ", UserID: "user-1"})
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryValidation, apperr.CategoryOf(err))
}

func TestAskTranslatesQueryAndAnswer(t *testing.T) {
	chat := &fakeChat{response: "english answer"}
	svc, _ := newHelpFixture(t, chat, fakeTranslator{})

	resp, err := svc.Ask(context.Background(), Request{
		Query: "¿dónde está el presupuesto?", UserID: "user-1", Language: "es",
	})
	require.NoError(t, err)

	assert.Contains(t, chat.lastUserMsg, "[es>en]", "query translated to english before the model call")
	assert.True(t, strings.HasPrefix(resp.Response, "[en>es]"), "answer translated back")
	assert.Equal(t, "es", resp.Language)
}

func TestHelpFeedback(t *testing.T) {
	chat := &fakeChat{response: "answer"}
	svc, st := newHelpFixture(t, chat, nil)
	ctx := context.Background()

	resp, err := svc.Ask(ctx, Request{Query: "budget help", UserID: "user-1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.OperationID)

	err = svc.Feedback(ctx, &types.Feedback{OperationID: "missing", UserID: "user-1", Rating: 4})
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryNotFound, apperr.CategoryOf(err))

	require.NoError(t, svc.Feedback(ctx, &types.Feedback{
		OperationID: resp.OperationID, UserID: "user-1", Rating: 5, FeedbackType: "helpful",
	}))

	events, err := st.ListAuditEvents(ctx, "help_feedback", "", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	err = svc.Feedback(ctx, &types.Feedback{OperationID: resp.OperationID, UserID: "user-1", Rating: 0})
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryValidation, apperr.CategoryOf(err))
}
