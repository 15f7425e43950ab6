package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"ppmcore/internal/apperr"
	"ppmcore/internal/logging"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

// ABTestService routes traffic between two models and compares outcomes.
type ABTestService struct {
	store *store.PPMStore
}

// NewABTestService builds the service.
func NewABTestService(st *store.PPMStore) *ABTestService {
	return &ABTestService{store: st}
}

// Create registers a draft test.
func (s *ABTestService) Create(ctx context.Context, t *types.ABTest) error {
	if t.ModelA == "" || t.ModelB == "" {
		return apperr.Validation("models", "both model ids are required")
	}
	if t.TrafficSplit < 0 || t.TrafficSplit > 1 {
		return apperr.Validation("traffic_split", "traffic split must be in [0, 1]")
	}
	if err := s.store.CreateABTest(ctx, t); err != nil {
		return err
	}
	logging.AI("ab test created: %s (%s vs %s, split %.2f)", t.ID, t.ModelA, t.ModelB, t.TrafficSplit)
	return nil
}

// Start activates a draft test.
func (s *ABTestService) Start(ctx context.Context, testID string) error {
	ok, err := s.store.TransitionABTest(ctx, testID, types.ABTestDraft, types.ABTestActive)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("ab test is not in draft state")
	}
	return nil
}

// Complete ends an active test.
func (s *ABTestService) Complete(ctx context.Context, testID string) error {
	ok, err := s.store.TransitionABTest(ctx, testID, types.ABTestActive, types.ABTestCompleted)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("ab test is not active")
	}
	return nil
}

// AssignVariant deterministically maps (test, user) onto model A or B.
// The same pair always yields the same model.
func AssignVariant(test *types.ABTest, userID string) string {
	h := fnv.New32a()
	h.Write([]byte(test.ID))
	h.Write([]byte(userID))
	fraction := float64(h.Sum32()%10000) / 10000.0
	if fraction < test.TrafficSplit {
		return test.ModelA
	}
	return test.ModelB
}

// ModelForUser resolves the model a user should hit for an operation type.
// Without an active test, the fallback model is used.
func (s *ABTestService) ModelForUser(ctx context.Context, operationType, userID, fallbackModel string) (string, error) {
	test, err := s.store.ActiveABTest(ctx, operationType)
	if err != nil {
		return "", fmt.Errorf("failed to look up active ab test: %w", err)
	}
	if test == nil {
		return fallbackModel, nil
	}
	return AssignVariant(test, userID), nil
}

// VariantMetrics summarizes one arm of a test.
type VariantMetrics struct {
	ModelID       string  `json:"model_id"`
	Operations    int     `json:"operations"`
	SuccessRate   float64 `json:"success_rate"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	AvgConfidence float64 `json:"avg_confidence"`
	Satisfaction  float64 `json:"satisfaction"` // avg feedback rating
}

// ABTestResults compares the two arms of a test.
type ABTestResults struct {
	TestID      string          `json:"test_id"`
	A           *VariantMetrics `json:"a"`
	B           *VariantMetrics `json:"b"`
	Significant bool            `json:"significant"`
	SampleSize  int             `json:"sample_size"`
}

// minSamplesPerArm gates significance; below this the comparison is noise.
const minSamplesPerArm = 30

// Results aggregates the operation log over the test window and compares
// both arms.
func (s *ABTestService) Results(ctx context.Context, testID string) (*ABTestResults, error) {
	test, err := s.store.GetABTest(ctx, testID)
	if err != nil {
		return nil, apperr.NotFound("ab_test", testID).WithCause(err)
	}

	since := test.CreatedAt
	if test.StartedAt != nil {
		since = *test.StartedAt
	}
	// stored timestamps have second precision; pad so operations logged in
	// the starting second are not missed
	since = since.Add(-time.Second)

	perf, err := s.store.ModelPerformanceSince(ctx, test.OperationType, since)
	if err != nil {
		return nil, err
	}

	results := &ABTestResults{TestID: testID}
	for _, p := range perf {
		m := &VariantMetrics{
			ModelID:       p.ModelID,
			Operations:    p.Operations,
			SuccessRate:   p.SuccessRate,
			AvgLatencyMS:  p.AvgLatencyMS,
			AvgConfidence: p.AvgConfidence,
			Satisfaction:  p.AvgRating,
		}
		switch p.ModelID {
		case test.ModelA:
			results.A = m
		case test.ModelB:
			results.B = m
		}
	}

	if results.A != nil && results.B != nil {
		results.SampleSize = results.A.Operations + results.B.Operations
		results.Significant = significantDifference(results.A, results.B)
	}
	return results, nil
}

// significantDifference applies a two-proportion z-test on success rates at
// the 95% level, requiring a minimum sample per arm.
func significantDifference(a, b *VariantMetrics) bool {
	if a.Operations < minSamplesPerArm || b.Operations < minSamplesPerArm {
		return false
	}
	na, nb := float64(a.Operations), float64(b.Operations)
	pooled := (a.SuccessRate*na + b.SuccessRate*nb) / (na + nb)
	se := math.Sqrt(pooled * (1 - pooled) * (1/na + 1/nb))
	if se == 0 {
		return a.SuccessRate != b.SuccessRate
	}
	z := math.Abs(a.SuccessRate-b.SuccessRate) / se
	return z >= 1.96
}

// Window reports the configured duration left on an active test, zero when
// the test has run past its duration.
func Window(test *types.ABTest, now time.Time) time.Duration {
	if test.StartedAt == nil || test.Duration <= 0 {
		return 0
	}
	remaining := test.Duration - now.Sub(*test.StartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
