package ai

import (
	"context"
	"time"

	"ppmcore/internal/apperr"
	"ppmcore/internal/logging"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

// FeedbackService captures user ratings of AI operations and exposes
// performance summaries over the operation log.
type FeedbackService struct {
	store *store.PPMStore
}

// NewFeedbackService builds the service.
func NewFeedbackService(st *store.PPMStore) *FeedbackService {
	return &FeedbackService{store: st}
}

// Submit records one rating. The referenced operation must exist; ratings
// are append-only, so repeated submissions accumulate.
func (s *FeedbackService) Submit(ctx context.Context, f *types.Feedback) error {
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
	logging.AIDebug("feedback recorded: op=%s rating=%d", f.OperationID, f.Rating)
	return nil
}

// Performance aggregates per-model metrics over the last `days` days,
// optionally filtered by operation type.
func (s *FeedbackService) Performance(ctx context.Context, operationType string, days int) ([]*store.ModelPerformance, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	return s.store.ModelPerformanceSince(ctx, operationType, since)
}

// Summary averages ratings per feedback type over the last `days` days.
func (s *FeedbackService) Summary(ctx context.Context, days int) (map[string]float64, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	return s.store.FeedbackSummary(ctx, since)
}
