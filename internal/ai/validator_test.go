package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppmcore/internal/types"
)

func sourceHit(text string) types.SearchHit {
	return types.SearchHit{ContentType: ContentProject, ContentText: text, Similarity: 0.9}
}

func TestValidatorDetectsNumericContradiction(t *testing.T) {
	sources := []types.SearchHit{
		sourceHit("Project Alpha. Description: migration effort. Budget: 150000."),
	}

	report := ValidateResponse("The total budget for project Alpha is $100,000.", sources)

	assert.False(t, report.IsValid)
	require.NotEmpty(t, report.Issues)
	assert.Contains(t, report.Issues[0], "contradiction")
}

func TestValidatorAcceptsConsistentNumbers(t *testing.T) {
	sources := []types.SearchHit{
		sourceHit("Project Alpha. Description: migration effort. Budget: 150000."),
	}

	report := ValidateResponse("The total budget for project Alpha is $150,000.", sources)

	assert.True(t, report.IsValid)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 1.0, report.SourceCoverage)
}

func TestValidatorToleratesSmallDivergence(t *testing.T) {
	sources := []types.SearchHit{
		sourceHit("Project Alpha budget total is 100."),
	}

	// 20% off stays below the 30% contradiction limit
	report := ValidateResponse("The budget total for project Alpha is 120.", sources)
	assert.Empty(t, report.Issues)
}

func TestValidatorFlagsUnsupportedClaims(t *testing.T) {
	sources := []types.SearchHit{
		sourceHit("Resource pool staffing overview."),
	}

	report := ValidateResponse("The datacenter migration budget deadline is next quarter.", sources)

	assert.False(t, report.IsValid)
	require.NotEmpty(t, report.Issues)
	assert.Contains(t, report.Issues[0], "not supported")
}

func TestValidatorClaimsWithoutSources(t *testing.T) {
	report := ValidateResponse("The total number of projects is 12.", nil)

	assert.False(t, report.IsValid)
	assert.Equal(t, 0.0, report.SourceCoverage)
	require.NotEmpty(t, report.Issues)
}

func TestValidatorNoClaimsIsValid(t *testing.T) {
	report := ValidateResponse("Hello! How can I help you today?", nil)

	assert.True(t, report.IsValid)
	assert.Equal(t, 1.0, report.SourceCoverage)
	assert.Empty(t, report.Issues)
}

func TestExtractNumbersNormalization(t *testing.T) {
	nums := extractNumbers("spend was $1,234.56 or about 15% of €2,000")
	assert.Equal(t, []float64{1234.56, 15, 2000}, nums)
}
