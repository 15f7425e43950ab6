package ai

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"ppmcore/internal/types"
)

// domainVocabulary marks sentences that carry verifiable claims. A sentence
// with none of these words is treated as filler and skipped.
var domainVocabulary = []string{
	"total", "number", "count", "budget", "cost", "spend", "spent",
	"amount", "deadline", "date", "variance", "percent", "project",
	"portfolio", "resource", "schedule", "milestone", "utilization",
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+\s+`)
	numberPattern = regexp.MustCompile(`[-+]?[$€£]?\d[\d,]*\.?\d*%?`)
	wordPattern   = regexp.MustCompile(`[a-zA-Z]{3,}`)
)

// numericDivergenceLimit is the relative difference at which a claimed
// number contradicts a source number on the same topic.
const numericDivergenceLimit = 0.30

// ValidateResponse cross-references a model response against its retrieval
// sources. Claims are sentences containing domain vocabulary; each is
// checked for word overlap and numeric consistency with the sources.
func ValidateResponse(response string, sources []types.SearchHit) *types.ValidationReport {
	report := &types.ValidationReport{IsValid: true, Confidence: 1.0}

	claims := extractClaims(response)
	if len(claims) == 0 {
		// nothing verifiable; trust the response as-is
		report.SourceCoverage = 1.0
		return report
	}
	if len(sources) == 0 {
		report.IsValid = false
		report.Confidence = 0.3
		report.SourceCoverage = 0
		report.Issues = append(report.Issues, "response makes claims but no sources were retrieved")
		return report
	}

	sourceWords := make(map[string]bool)
	var sourceNumbers []float64
	for _, s := range sources {
		for _, w := range wordPattern.FindAllString(strings.ToLower(s.ContentText), -1) {
			sourceWords[w] = true
		}
		sourceNumbers = append(sourceNumbers, extractNumbers(s.ContentText)...)
	}

	verified := 0
	for _, claim := range claims {
		overlap := wordOverlap(claim, sourceWords)
		claimNumbers := extractNumbers(claim)

		if contradiction := findContradiction(claimNumbers, sourceNumbers, overlap); contradiction != "" {
			report.Issues = append(report.Issues, contradiction+": "+truncateClaim(claim))
			continue
		}
		if overlap >= 0.3 {
			verified++
		} else {
			report.Issues = append(report.Issues, "claim not supported by sources: "+truncateClaim(claim))
		}
	}

	report.SourceCoverage = float64(verified) / float64(len(claims))
	report.Confidence = report.SourceCoverage
	if report.Confidence < 0.6 {
		report.IsValid = false
	}
	return report
}

// extractClaims splits a response into sentences and keeps those containing
// domain vocabulary.
func extractClaims(response string) []string {
	var claims []string
	for _, sentence := range sentenceSplit.Split(response, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		lower := strings.ToLower(sentence)
		for _, word := range domainVocabulary {
			if strings.Contains(lower, word) {
				claims = append(claims, sentence)
				break
			}
		}
	}
	return claims
}

// extractNumbers pulls every numeric value from text, stripping currency
// symbols, thousands separators and percent signs.
func extractNumbers(text string) []float64 {
	var out []float64
	for _, m := range numberPattern.FindAllString(text, -1) {
		cleaned := strings.NewReplacer("$", "", "€", "", "£", "", ",", "", "%", "").Replace(m)
		v, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// wordOverlap measures what fraction of a claim's significant words appear
// in the source corpus.
func wordOverlap(claim string, sourceWords map[string]bool) float64 {
	words := wordPattern.FindAllString(strings.ToLower(claim), -1)
	if len(words) == 0 {
		return 0
	}
	matched := 0
	for _, w := range words {
		if sourceWords[w] {
			matched++
		}
	}
	return float64(matched) / float64(len(words))
}

// findContradiction flags a claimed number whose value diverges from every
// topically-overlapping source number by 30% or more. Topical overlap is a
// prerequisite: unrelated numbers never contradict.
func findContradiction(claimNumbers, sourceNumbers []float64, overlap float64) string {
	if overlap < 0.2 || len(claimNumbers) == 0 || len(sourceNumbers) == 0 {
		return ""
	}
	for _, cn := range claimNumbers {
		if cn == 0 {
			continue
		}
		closest := math.Inf(1)
		for _, sn := range sourceNumbers {
			if d := relativeDiff(cn, sn); d < closest {
				closest = d
			}
		}
		if closest >= numericDivergenceLimit {
			return "numeric contradiction with sources"
		}
	}
	return ""
}

func relativeDiff(a, b float64) float64 {
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return 0
	}
	return math.Abs(a-b) / larger
}

func truncateClaim(claim string) string {
	if len(claim) > 80 {
		return claim[:77] + "..."
	}
	return claim
}
