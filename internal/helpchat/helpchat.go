// Package helpchat answers contextual help questions: a retrieval-augmented
// variant specialized to in-app guidance, with cached responses, a degraded
// fallback path, a translation contract, proactive tips and usage analytics.
package helpchat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ppmcore/internal/ai"
	"ppmcore/internal/apperr"
	"ppmcore/internal/cache"
	"ppmcore/internal/logging"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

const helpOperation = "help_query"

// Request is one contextual help question.
type Request struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	PageRoute string `json:"context"`  // where in the app the user is
	Language  string `json:"language"` // BCP 47-ish tag; "" means "en"
}

// Response is the help answer with provenance.
type Response struct {
	Response    string            `json:"response"`
	Sources     []types.SearchHit `json:"sources,omitempty"`
	Confidence  float64           `json:"confidence"`
	Language    string            `json:"language"`
	Degraded    bool              `json:"degraded"`
	Suggestions []string          `json:"suggested_actions,omitempty"`
	OperationID string            `json:"operation_id,omitempty"`
}

// Translator converts help text between languages. Detection returns a
// language tag; implementations outside the core do the actual work.
type Translator interface {
	Detect(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, fromLang, toLang string) (string, error)
}

// Service answers help questions.
type Service struct {
	store      *store.PPMStore
	engine     ai.EmbeddingEngine
	chat       ai.ChatClient
	cache      *cache.Cache
	translator Translator // nil disables translation

	minTTL time.Duration
	maxTTL time.Duration

	// degraded forces the fallback path; set by health monitoring
	degraded bool
}

// New wires the help-chat service. translator may be nil.
func New(st *store.PPMStore, engine ai.EmbeddingEngine, chat ai.ChatClient, c *cache.Cache, translator Translator, minTTL, maxTTL time.Duration) *Service {
	if minTTL <= 0 {
		minTTL = 5 * time.Minute
	}
	if maxTTL < minTTL {
		maxTTL = 2 * minTTL
	}
	return &Service{
		store: st, engine: engine, chat: chat, cache: c,
		translator: translator, minTTL: minTTL, maxTTL: maxTTL,
	}
}

// SetDegraded toggles the fallback path.
func (s *Service) SetDegraded(on bool) { s.degraded = on }

// Ask answers one help question. Cached responses are keyed by query, user,
// page context and language; AI failures degrade to the canned fallback
// instead of erroring.
func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperr.Validation("query", "query must not be empty")
	}
	if req.Language == "" {
		req.Language = "en"
	}

	key := helpCacheKey(req)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			if resp, ok := v.(*Response); ok {
				s.track(ctx, "help_query", req.UserID, map[string]interface{}{
					"query": req.Query, "cached": true,
				})
				return resp, nil
			}
		}
	}

	var resp *Response
	if s.degraded {
		resp = s.fallback(req)
	} else {
		answered, err := s.answer(ctx, req)
		if err != nil {
			logging.Get(logging.CategoryAI).Warn("help query degraded to fallback: %v", err)
			answered = s.fallback(req)
		}
		resp = answered
	}

	if s.cache != nil && !resp.Degraded {
		ttl := s.minTTL + time.Duration(resp.Confidence*float64(s.maxTTL-s.minTTL))
		s.cache.Set(key, resp, ttl)
	}
	s.track(ctx, "help_query", req.UserID, map[string]interface{}{
		"query": req.Query, "degraded": resp.Degraded, "confidence": resp.Confidence,
	})
	return resp, nil
}

func (s *Service) answer(ctx context.Context, req Request) (*Response, error) {
	query := req.Query
	if s.translator != nil && req.Language != "en" {
		translated, err := s.translator.Translate(ctx, query, req.Language, "en")
		if err != nil {
			return nil, fmt.Errorf("query translation failed: %w", err)
		}
		query = translated
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	sources, err := s.store.SearchEmbeddings(ctx, queryVec,
		[]string{ai.ContentProject, ai.ContentPortfolio, ai.ContentResource}, 5)
	if err != nil {
		sources = nil
	}

	systemPrompt := "You are an in-app help assistant for a project portfolio " +
		"management tool. Answer the user's question about how to use the " +
		"application. Be brief and action-oriented. The user is currently on: " +
		defaultRoute(req.PageRoute)

	var b strings.Builder
	if len(sources) > 0 {
		b.WriteString("Relevant workspace content:\n")
		for i, src := range sources {
			fmt.Fprintf(&b, "%d. %s\n", i+1, src.ContentText)
		}
		b.WriteString("\n")
	}
	b.WriteString("Question: " + query)

	started := time.Now()
	completion, err := s.chat.Complete(ctx, systemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	answer := completion.Text
	if s.translator != nil && req.Language != "en" {
		translated, terr := s.translator.Translate(ctx, answer, "en", req.Language)
		if terr != nil {
			logging.Get(logging.CategoryAI).Warn("answer translation failed, returning english: %v", terr)
		} else {
			answer = translated
		}
	}

	confidence := helpConfidence(answer, sources)
	opID := uuid.NewString()
	op := &types.AIOperation{
		OperationID: opID, ModelID: s.chat.ModelID(), Type: helpOperation,
		UserID: req.UserID, Input: req.Query, Output: answer,
		Confidence: confidence, ResponseTime: time.Since(started),
		InputTokens: completion.InputTokens, OutputTokens: completion.OutputTokens,
		Success: true,
	}
	if err := s.store.AppendAIOperation(context.WithoutCancel(ctx), op); err != nil {
		logging.Get(logging.CategoryAI).Error("failed to log help operation: %v", err)
		opID = ""
	}

	return &Response{
		Response:    answer,
		Sources:     sources,
		Confidence:  confidence,
		Language:    req.Language,
		OperationID: opID,
	}, nil
}

// fallback is the canned degraded-mode answer with suggested actions.
func (s *Service) fallback(req Request) *Response {
	return &Response{
		Response: "Help is temporarily limited. Here are some things you can try in the meantime.",
		Suggestions: []string{
			"Check the dashboard for current project status",
			"Review recent imports under the import history",
			"Contact your portfolio administrator for urgent questions",
		},
		Confidence: 0.1,
		Language:   req.Language,
		Degraded:   true,
	}
}

// Feedback records a rating on a previous help answer and tracks the
// analytics event. The referenced operation must exist.
func (s *Service) Feedback(ctx context.Context, f *types.Feedback) error {
	if f.Rating < 1 || f.Rating > 5 {
		return apperr.Validation("rating", "rating must be between 1 and 5")
	}
	if f.OperationID == "" {
		return apperr.Validation("operation_id", "operation id is required")
	}
	exists, err := s.store.HasAIOperation(ctx, f.OperationID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("ai_operation", f.OperationID)
	}
	if err := s.store.AppendFeedback(ctx, f); err != nil {
		return err
	}
	s.track(ctx, "help_feedback", f.UserID, map[string]interface{}{
		"operation_id": f.OperationID, "rating": f.Rating,
	})
	return nil
}

// helpConfidence mirrors the RAG scoring: source similarity dominates,
// response length saturates at 500 chars.
func helpConfidence(response string, sources []types.SearchHit) float64 {
	if len(sources) == 0 {
		return 0.3
	}
	var sum float64
	for _, s := range sources {
		sum += s.Similarity
	}
	mean := sum / float64(len(sources))
	lengthFactor := float64(len(response)) / 500.0
	if lengthFactor > 1 {
		lengthFactor = 1
	}
	c := 0.7*mean + 0.3*lengthFactor
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

func helpCacheKey(req Request) string {
	sum := sha256.Sum256([]byte(req.Query + "\x00" + req.PageRoute + "\x00" + req.Language))
	return "help:" + req.UserID + ":" + hex.EncodeToString(sum[:16])
}

func defaultRoute(route string) string {
	if route == "" {
		return "the main dashboard"
	}
	return route
}

// track appends one analytics event; failures are swallowed.
func (s *Service) track(ctx context.Context, eventType, userID string, detail map[string]interface{}) {
	err := s.store.AppendAuditEvent(context.WithoutCancel(ctx), &store.AuditEvent{
		EventType: eventType,
		ActorID:   userID,
		Detail:    detail,
	})
	if err != nil {
		logging.Get(logging.CategoryAI).Warn("help analytics write failed: %v", err)
	}
}
