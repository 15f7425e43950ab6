package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ppmcore/internal/types"
)

// =============================================================================
// AI OPERATION LOG
// =============================================================================

// AppendAIOperation writes one append-only row per model call.
func (s *PPMStore) AppendAIOperation(ctx context.Context, op *types.AIOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op.OperationID == "" {
		op.OperationID = uuid.NewString()
	}
	meta, _ := json.Marshal(op.Metadata)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_operation_logs (operation_id, model_id, operation_type, user_id, input, output,
			confidence, response_time_ms, input_tokens, output_tokens, success, error_message, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.OperationID, op.ModelID, op.Type, op.UserID, op.Input, op.Output,
		op.Confidence, op.ResponseTime.Milliseconds(), op.InputTokens, op.OutputTokens,
		boolToInt(op.Success), op.ErrorMessage, string(meta))
	if err != nil {
		return fmt.Errorf("failed to append ai operation: %w", err)
	}
	return nil
}

// HasAIOperation reports whether an operation id exists. Feedback submission
// checks this before accepting a rating.
func (s *PPMStore) HasAIOperation(ctx context.Context, operationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ai_operation_logs WHERE operation_id = ?", operationID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check ai operation: %w", err)
	}
	return n > 0, nil
}

// ModelPerformance aggregates a model's operation log over a window.
type ModelPerformance struct {
	ModelID       string  `json:"model_id"`
	Operations    int     `json:"operations"`
	SuccessRate   float64 `json:"success_rate"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	AvgRating     float64 `json:"avg_rating"`
	FeedbackCount int     `json:"feedback_count"`
}

// ModelPerformanceSince aggregates per-model success rate, confidence, latency
// and user ratings since the cutoff, optionally filtered by operation type.
func (s *PPMStore) ModelPerformanceSince(ctx context.Context, operationType string, since time.Time) ([]*ModelPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT o.model_id,
		       COUNT(*),
		       AVG(o.success),
		       AVG(o.confidence),
		       AVG(o.response_time_ms),
		       COALESCE(AVG(f.rating), 0),
		       COUNT(f.rating)
		FROM ai_operation_logs o
		LEFT JOIN ai_feedback f ON f.operation_id = o.operation_id
		WHERE o.created_at >= ?`
	args := []interface{}{since}
	if operationType != "" {
		query += " AND o.operation_type = ?"
		args = append(args, operationType)
	}
	query += " GROUP BY o.model_id ORDER BY o.model_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate model performance: %w", err)
	}
	defer rows.Close()

	var out []*ModelPerformance
	for rows.Next() {
		var p ModelPerformance
		if err := rows.Scan(&p.ModelID, &p.Operations, &p.SuccessRate, &p.AvgConfidence,
			&p.AvgLatencyMS, &p.AvgRating, &p.FeedbackCount); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// =============================================================================
// FEEDBACK
// =============================================================================

// AppendFeedback stores one user rating. Append-only; repeated feedback from
// one user on one operation creates additional rows.
func (s *PPMStore) AppendFeedback(ctx context.Context, f *types.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_feedback (operation_id, user_id, rating, feedback_type, text)
		VALUES (?, ?, ?, ?, ?)`,
		f.OperationID, f.UserID, f.Rating, f.FeedbackType, f.Text)
	if err != nil {
		return fmt.Errorf("failed to append feedback: %w", err)
	}
	return nil
}

// FeedbackSummary averages ratings per feedback type since the cutoff.
func (s *PPMStore) FeedbackSummary(ctx context.Context, since time.Time) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(feedback_type, ''), AVG(rating)
		FROM ai_feedback WHERE created_at >= ? GROUP BY feedback_type`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize feedback: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var t string
		var avg float64
		if err := rows.Scan(&t, &avg); err != nil {
			continue
		}
		out[t] = avg
	}
	return out, rows.Err()
}

// =============================================================================
// A/B TESTS
// =============================================================================

// CreateABTest inserts a test in draft state.
func (s *PPMStore) CreateABTest(ctx context.Context, t *types.ABTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = types.ABTestDraft
	}
	metrics, _ := json.Marshal(t.Metrics)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ab_tests (id, model_a, model_b, operation_type, traffic_split, duration_seconds, metrics, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ModelA, t.ModelB, t.OperationType, t.TrafficSplit,
		int(t.Duration.Seconds()), string(metrics), string(t.Status))
	if err != nil {
		return fmt.Errorf("failed to create ab test: %w", err)
	}
	return nil
}

const abTestSelect = `
	SELECT id, model_a, model_b, operation_type, traffic_split, duration_seconds,
	       COALESCE(metrics, '[]'), started_at, ended_at, status, created_at
	FROM ab_tests`

func scanABTest(row rowScanner) (*types.ABTest, error) {
	var t types.ABTest
	var metrics, status string
	var durationSecs int
	var started, ended sql.NullTime
	err := row.Scan(&t.ID, &t.ModelA, &t.ModelB, &t.OperationType, &t.TrafficSplit,
		&durationSecs, &metrics, &started, &ended, &status, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(metrics), &t.Metrics)
	t.Duration = time.Duration(durationSecs) * time.Second
	t.StartedAt = timePtr(started)
	t.EndedAt = timePtr(ended)
	t.Status = types.ABTestStatus(status)
	return &t, nil
}

// GetABTest fetches one test by id.
func (s *PPMStore) GetABTest(ctx context.Context, id string) (*types.ABTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanABTest(s.db.QueryRowContext(ctx, abTestSelect+" WHERE id = ?", id))
}

// ActiveABTest returns the newest active test for an operation type, or nil.
func (s *PPMStore) ActiveABTest(ctx context.Context, operationType string) (*types.ABTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := scanABTest(s.db.QueryRowContext(ctx,
		abTestSelect+" WHERE operation_type = ? AND status = 'active' ORDER BY started_at DESC LIMIT 1",
		operationType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// TransitionABTest moves a test along draft -> active -> completed with an
// optimistic guard on the current status. Returns false on a guard miss.
func (s *PPMStore) TransitionABTest(ctx context.Context, id string, from, to types.ABTestStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var res sql.Result
	var err error
	switch to {
	case types.ABTestActive:
		res, err = s.db.ExecContext(ctx,
			"UPDATE ab_tests SET status = ?, started_at = ? WHERE id = ? AND status = ?",
			string(to), now, id, string(from))
	case types.ABTestCompleted:
		res, err = s.db.ExecContext(ctx,
			"UPDATE ab_tests SET status = ?, ended_at = ? WHERE id = ? AND status = ?",
			string(to), now, id, string(from))
	default:
		return false, fmt.Errorf("unsupported ab test transition to %s", to)
	}
	if err != nil {
		return false, fmt.Errorf("failed to transition ab test: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// AppendConversation persists one RAG turn.
func (s *PPMStore) AppendConversation(ctx context.Context, e *types.ConversationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sources, _ := json.Marshal(e.Sources)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, conversation_id, query, response, sources, confidence, operation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.ConversationID, e.Query, e.Response, string(sources), e.Confidence, e.OperationID)
	if err != nil {
		return fmt.Errorf("failed to append conversation: %w", err)
	}
	return nil
}

// ConversationHistory returns the last n turns of a conversation in
// chronological order.
func (s *PPMStore) ConversationHistory(ctx context.Context, conversationID string, limit int) ([]*types.ConversationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, conversation_id, query, COALESCE(response, ''),
		       COALESCE(sources, '[]'), confidence, COALESCE(operation_id, ''), created_at
		FROM conversations WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation history: %w", err)
	}
	defer rows.Close()

	var out []*types.ConversationEntry
	for rows.Next() {
		var e types.ConversationEntry
		var sources string
		if err := rows.Scan(&e.UserID, &e.ConversationID, &e.Query, &e.Response,
			&sources, &e.Confidence, &e.OperationID, &e.CreatedAt); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(sources), &e.Sources)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// =============================================================================
// DISMISSED TIPS
// =============================================================================

// DismissTip records that a user dismissed a proactive tip. Repeated
// dismissals are idempotent.
func (s *PPMStore) DismissTip(ctx context.Context, userID, tipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO dismissed_tips (user_id, tip_id) VALUES (?, ?)`,
		userID, tipID)
	if err != nil {
		return fmt.Errorf("failed to dismiss tip: %w", err)
	}
	return nil
}

// DismissedTips returns the set of tip ids the user has dismissed.
func (s *PPMStore) DismissedTips(ctx context.Context, userID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT tip_id FROM dismissed_tips WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read dismissed tips: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		out[id] = true
	}
	return out, rows.Err()
}
