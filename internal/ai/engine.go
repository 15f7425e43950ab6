// Package ai implements the retrieval-augmented query path: embedding
// generation, content indexing, similarity search, response validation,
// operation logging, feedback capture, and A/B routing.
//
// Model call-outs are pluggable. Failures surface as dependency errors at
// the operation boundary; the AI path is never in the critical path of
// business invariants.
package ai

import (
	"context"
	"fmt"

	"ppmcore/internal/config"
	"ppmcore/internal/logging"
)

// EmbeddingEngine generates vector embeddings for text.
type EmbeddingEngine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// ChatClient produces a completion for a system + user prompt pair.
// Implementations pin temperature and output length; callers only supply
// prompt content.
type ChatClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)
	ModelID() string
}

// Completion is one chat-model response with token accounting.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Completion parameters fixed across every RAG call. Low temperature keeps
// answers grounded in the retrieved context.
const (
	chatTemperature     = 0.1
	chatMaxOutputTokens = 1000
)

// NewEmbeddingEngine creates an embedding engine from configuration.
func NewEmbeddingEngine(cfg config.AIConfig) (EmbeddingEngine, error) {
	logging.AI("creating embedding engine: provider=%s model=%s", cfg.Provider, cfg.EmbeddingModel)

	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.EmbeddingModel)
	case "genai", "":
		return NewGenAIEngine(cfg.APIKey, cfg.BaseURL, cfg.EmbeddingModel)
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s (use 'genai' or 'ollama')", cfg.Provider)
	}
}

// NewChatClient creates a chat-completion client from configuration. The
// provider is shared with the embedding engine.
func NewChatClient(cfg config.AIConfig) (ChatClient, error) {
	logging.AI("creating chat client: provider=%s model=%s", cfg.Provider, cfg.ChatModel)

	switch cfg.Provider {
	case "ollama":
		return NewOllamaChat(cfg.OllamaEndpoint, cfg.ChatModel)
	case "genai", "":
		return NewGenAIChat(cfg.APIKey, cfg.BaseURL, cfg.ChatModel)
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s (use 'genai' or 'ollama')", cfg.Provider)
	}
}
