package types

import "time"

// =============================================================================
// AI SUBSYSTEM TYPES
// =============================================================================

// EmbeddingRecord is keyed by (ContentType, ContentID); the vector dimension
// is fixed per embedding engine.
type EmbeddingRecord struct {
	ContentType string
	ContentID   string
	ContentText string
	Vector      []float32
	Metadata    map[string]interface{}
	UpdatedAt   time.Time
}

// SearchHit is one similarity-search result, ordered by Similarity descending.
type SearchHit struct {
	ContentType string                 `json:"content_type"`
	ContentID   string                 `json:"content_id"`
	ContentText string                 `json:"content_text"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Similarity  float64                `json:"similarity"`
}

// AIOperation is one append-only record per model call.
type AIOperation struct {
	OperationID  string
	ModelID      string
	Type         string
	UserID       string
	Input        string
	Output       string
	Confidence   float64
	ResponseTime time.Duration
	InputTokens  int
	OutputTokens int
	Success      bool
	ErrorMessage string
	Metadata     map[string]interface{}
	CreatedAt    time.Time
}

// Feedback is an append-only user rating of an AI operation. Rating is 1..5.
type Feedback struct {
	OperationID  string
	UserID       string
	Rating       int
	FeedbackType string
	Text         string
	CreatedAt    time.Time
}

// ABTestStatus is the lifecycle of an A/B test.
type ABTestStatus string

const (
	ABTestDraft     ABTestStatus = "draft"
	ABTestActive    ABTestStatus = "active"
	ABTestCompleted ABTestStatus = "completed"
)

// ABTest routes traffic between two models deterministically.
// Assignment: hash(test id, user id) < split -> A, else B.
type ABTest struct {
	ID            string
	ModelA        string
	ModelB        string
	OperationType string
	TrafficSplit  float64 // 0..1 fraction routed to A
	Duration      time.Duration
	Metrics       []string
	StartedAt     *time.Time
	EndedAt       *time.Time
	Status        ABTestStatus
	CreatedAt     time.Time
}

// RAGResponse is the result of a retrieval-augmented query.
// Confidence is always in [0, 1]; 0.3 when Sources is empty.
type RAGResponse struct {
	Response       string      `json:"response"`
	Sources        []SearchHit `json:"sources"`
	Confidence     float64     `json:"confidence"`
	ConversationID string      `json:"conversation_id"`
	ResponseTimeMS int64       `json:"response_time_ms"`
	OperationID    string      `json:"operation_id"`
}

// ConversationEntry persists one turn of a RAG conversation.
type ConversationEntry struct {
	UserID         string
	ConversationID string
	Query          string
	Response       string
	Sources        []SearchHit
	Confidence     float64
	OperationID    string
	CreatedAt      time.Time
}

// ValidationReport is the output of the response hallucination validator.
// SourceCoverage = verified claims / total claims.
type ValidationReport struct {
	IsValid        bool     `json:"is_valid"`
	Confidence     float64  `json:"confidence"`
	Issues         []string `json:"issues"`
	SourceCoverage float64  `json:"source_coverage"`
}
