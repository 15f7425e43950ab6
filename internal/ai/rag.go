package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ppmcore/internal/apperr"
	"ppmcore/internal/cache"
	"ppmcore/internal/logging"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

const (
	ragSearchLimit = 5
	ragOperation   = "rag_query"
)

// ragSearchTypes is the content scope of every RAG retrieval.
var ragSearchTypes = []string{ContentProject, ContentPortfolio, ContentResource}

// RAGService answers user questions grounded in indexed portfolio content.
type RAGService struct {
	store  *store.PPMStore
	engine EmbeddingEngine
	chat   ChatClient
	cache  *cache.Cache

	minTTL time.Duration
	maxTTL time.Duration
}

// NewRAGService wires the retrieval pipeline. cache may be nil to disable
// response caching.
func NewRAGService(st *store.PPMStore, engine EmbeddingEngine, chat ChatClient, c *cache.Cache, minTTL, maxTTL time.Duration) *RAGService {
	if minTTL <= 0 {
		minTTL = 5 * time.Minute
	}
	if maxTTL < minTTL {
		maxTTL = 2 * minTTL
	}
	return &RAGService{store: st, engine: engine, chat: chat, cache: c, minTTL: minTTL, maxTTL: maxTTL}
}

// Query runs the full RAG pipeline: retrieve, prompt, complete, persist.
// conversationID may be empty; a fresh id is assigned.
func (r *RAGService) Query(ctx context.Context, query, userID, conversationID string) (*types.RAGResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation("query", "query must not be empty")
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	if cached := r.cachedResponse(query, userID, conversationID); cached != nil {
		logging.AIDebug("rag cache hit for user %s", userID)
		return cached, nil
	}

	timer := logging.StartTimer(logging.CategoryAI, "rag query")
	started := time.Now()

	queryVec, err := r.engine.Embed(ctx, query)
	if err != nil {
		r.logOperation(ctx, userID, query, "", 0, time.Since(started), nil, err)
		timer.Stop()
		return nil, apperr.Dependency("ai", err)
	}

	sources, err := r.store.SearchEmbeddings(ctx, queryVec, ragSearchTypes, ragSearchLimit)
	if err != nil {
		logging.Get(logging.CategoryAI).Warn("rag search failed, continuing without sources: %v", err)
		sources = nil
	}

	systemPrompt, userPrompt, err := r.buildPrompts(ctx, query, sources)
	if err != nil {
		return nil, err
	}

	completion, err := r.chat.Complete(ctx, systemPrompt, userPrompt)
	elapsed := time.Since(started)
	if err != nil {
		r.logOperation(ctx, userID, query, "", 0, elapsed, nil, err)
		timer.Stop()
		return nil, apperr.Dependency("ai", err)
	}
	timer.Stop()

	confidence := ragConfidence(completion.Text, sources)
	opID := r.logOperation(ctx, userID, query, completion.Text, confidence, elapsed, completion, nil)

	r.persistTurn(ctx, &types.ConversationEntry{
		UserID:         userID,
		ConversationID: conversationID,
		Query:          query,
		Response:       completion.Text,
		Sources:        sources,
		Confidence:     confidence,
		OperationID:    opID,
	})

	resp := &types.RAGResponse{
		Response:       completion.Text,
		Sources:        sources,
		Confidence:     confidence,
		ConversationID: conversationID,
		ResponseTimeMS: elapsed.Milliseconds(),
		OperationID:    opID,
	}
	r.cacheResponse(query, userID, conversationID, resp)
	return resp, nil
}

// History returns the last turns of a conversation in chronological order.
func (r *RAGService) History(ctx context.Context, conversationID string, limit int) ([]*types.ConversationEntry, error) {
	return r.store.ConversationHistory(ctx, conversationID, limit)
}

// buildPrompts assembles the contract-stable system and user prompts. The
// context block carries retrieved sources plus deterministic entity counts.
func (r *RAGService) buildPrompts(ctx context.Context, query string, sources []types.SearchHit) (string, string, error) {
	projects, portfolios, resources, err := r.store.CountEntities(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to count entities: %w", err)
	}

	var b strings.Builder
	b.WriteString("Current portfolio data:\n")
	fmt.Fprintf(&b, "- %d projects, %d portfolios, %d resources\n", projects, portfolios, resources)
	if len(sources) > 0 {
		b.WriteString("\nRelevant content:\n")
		for i, s := range sources {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, s.ContentType, s.ContentText)
		}
	}

	systemPrompt := "You are a project portfolio management assistant. " +
		"Answer using only the provided portfolio data. " +
		"When the data does not contain the answer, say so explicitly. " +
		"Keep answers concise and cite concrete numbers from the context."

	userPrompt := b.String() + "\nQuestion: " + query
	return systemPrompt, userPrompt, nil
}

// ragConfidence scores a response: 0.7 weighted on mean source similarity,
// 0.3 on response length saturation at 500 chars, clamped to [0, 1].
// Responses without sources score a flat 0.3.
func ragConfidence(response string, sources []types.SearchHit) float64 {
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

// logOperation appends the operation record. Returns the operation id; an
// empty id means the append itself failed (logged, never propagated).
func (r *RAGService) logOperation(ctx context.Context, userID, input, output string, confidence float64, elapsed time.Duration, completion *Completion, callErr error) string {
	op := &types.AIOperation{
		OperationID:  uuid.NewString(),
		ModelID:      r.chat.ModelID(),
		Type:         ragOperation,
		UserID:       userID,
		Input:        input,
		Output:       output,
		Confidence:   confidence,
		ResponseTime: elapsed,
		Success:      callErr == nil,
	}
	if completion != nil {
		op.InputTokens = completion.InputTokens
		op.OutputTokens = completion.OutputTokens
	}
	if callErr != nil {
		op.ErrorMessage = callErr.Error()
	}

	if err := r.store.AppendAIOperation(context.WithoutCancel(ctx), op); err != nil {
		logging.Get(logging.CategoryAI).Error("failed to log ai operation: %v", err)
		return ""
	}
	return op.OperationID
}

func (r *RAGService) persistTurn(ctx context.Context, e *types.ConversationEntry) {
	if err := r.store.AppendConversation(context.WithoutCancel(ctx), e); err != nil {
		logging.Get(logging.CategoryAI).Error("failed to persist conversation turn: %v", err)
	}
}

// ragCacheKey hashes the query so arbitrary text stays a valid cache key.
func ragCacheKey(query, userID, conversationID string) string {
	sum := sha256.Sum256([]byte(query + "\x00" + conversationID))
	return "rag:" + userID + ":" + hex.EncodeToString(sum[:16])
}

func (r *RAGService) cachedResponse(query, userID, conversationID string) *types.RAGResponse {
	if r.cache == nil {
		return nil
	}
	if v, ok := r.cache.Get(ragCacheKey(query, userID, conversationID)); ok {
		if resp, ok := v.(*types.RAGResponse); ok {
			return resp
		}
	}
	return nil
}

// cacheResponse stores the answer with a confidence-scaled TTL: confident
// answers live toward maxTTL, weak ones toward minTTL.
func (r *RAGService) cacheResponse(query, userID, conversationID string, resp *types.RAGResponse) {
	if r.cache == nil {
		return
	}
	ttl := r.minTTL + time.Duration(resp.Confidence*float64(r.maxTTL-r.minTTL))
	r.cache.Set(ragCacheKey(query, userID, conversationID), resp, ttl)
}
