// Package quality scores generated content against heuristic metrics.
package quality

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/metrics"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/policy"
)

const (
	// DefaultThreshold is the minimum overall score for valid output
	DefaultThreshold = 0.85
	// DefaultMinLength is the character count that earns full length credit
	DefaultMinLength = 100

	accuracyPlaceholder = 0.9
	historySize         = 100
)

var professionalTerms = []string{
	"project", "management", "stakeholder", "deliverable",
	"milestone", "objective", "strategy", "implementation",
}

// Context carries request-specific hints for scoring
type Context struct {
	MinLength    int      `json:"min_length,omitempty"`
	KeyTerms     []string `json:"key_terms,omitempty"`
	TemplateType string   `json:"template_type,omitempty"`
	Industry     string   `json:"industry,omitempty"`
}

// Scores is a quality score set. Overall is the mean of the other five.
type Scores struct {
	Completeness    float64 `json:"completeness"`
	Accuracy        float64 `json:"accuracy"`
	Relevance       float64 `json:"relevance"`
	Professionalism float64 `json:"professionalism"`
	Clarity         float64 `json:"clarity"`
	Overall         float64 `json:"overall"`
}

// Map returns the scores keyed by metric name
func (s Scores) Map() map[string]float64 {
	return map[string]float64{
		"completeness":    s.Completeness,
		"accuracy":        s.Accuracy,
		"relevance":       s.Relevance,
		"professionalism": s.Professionalism,
		"clarity":         s.Clarity,
		"overall":         s.Overall,
	}
}

type assessment struct {
	at     time.Time
	scores Scores
}

// Scorer assesses output quality and remembers recent assessments
type Scorer struct {
	policies policy.Source
	recorder audit.Recorder
	now      func() time.Time

	mu      sync.Mutex
	history []assessment
	total   int
}

// NewScorer creates a Scorer that reads min_quality_score from policies on
// every call. A nil source means the default policy.
func NewScorer(policies policy.Source, recorder audit.Recorder) *Scorer {
	if policies == nil {
		policies = policy.Static(nil)
	}
	return &Scorer{
		policies: policies,
		recorder: recorder,
		now:      time.Now,
	}
}

// Threshold returns the current minimum overall score. A missing or
// non-positive value uses DefaultThreshold.
func (s *Scorer) Threshold() float64 {
	if p := s.policies.Current(); p != nil && p.Thresholds.MinQualityScore > 0 {
		return p.Thresholds.MinQualityScore
	}
	return DefaultThreshold
}

// Assess computes the score set for text and records it in the history
func (s *Scorer) Assess(text string, ctx Context) Scores {
	scores := Scores{
		Completeness:    completeness(text, ctx.MinLength),
		Accuracy:        accuracyPlaceholder,
		Relevance:       relevance(text, ctx.KeyTerms),
		Professionalism: professionalism(text),
		Clarity:         clarity(text),
	}
	scores.Overall = (scores.Completeness + scores.Accuracy + scores.Relevance +
		scores.Professionalism + scores.Clarity) / 5

	s.mu.Lock()
	s.history = append(s.history, assessment{at: s.now(), scores: scores})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.total++
	s.mu.Unlock()

	metrics.RecordQuality(scores.Overall)
	return scores
}

// Validate reports whether the overall score meets the threshold
func (s *Scorer) Validate(text string, ctx Context) (bool, Scores) {
	scores := s.Assess(text, ctx)
	ok := scores.Overall >= s.Threshold()

	if !ok && s.recorder != nil {
		s.recorder.Log(audit.EventQualityThreshold, map[string]interface{}{"scores": scores.Map()})
	}
	return ok, scores
}

// FailureMessage formats the rejection for a score below threshold
func FailureMessage(overall float64) string {
	return fmt.Sprintf("Quality threshold not met: %.2f", overall)
}

// Stats summarizes recent assessments
type Stats struct {
	AverageQuality      float64 `json:"average_quality"`
	TotalAssessments    int     `json:"total_assessments"`
	RecentAssessments   int     `json:"recent_assessments"`
	ThresholdCompliance float64 `json:"threshold_compliance"`
}

// Stats returns averages over the most recent assessments.
// ThresholdCompliance is a percentage.
func (s *Scorer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{TotalAssessments: s.total, RecentAssessments: len(s.history)}
	if len(s.history) == 0 {
		return st
	}

	var sum float64
	passing := 0
	threshold := s.Threshold()
	for _, a := range s.history {
		sum += a.scores.Overall
		if a.scores.Overall >= threshold {
			passing++
		}
	}
	st.AverageQuality = sum / float64(len(s.history))
	st.ThresholdCompliance = float64(passing) / float64(len(s.history)) * 100
	return st
}

func completeness(text string, minLength int) float64 {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}

	lengthScore := float64(utf8.RuneCountInString(text)) / float64(minLength)
	if lengthScore > 1 {
		lengthScore = 1
	}

	structureScore := 0.5
	if len(strings.Split(text, "\n\n")) >= 3 {
		structureScore = 1.0
	}

	return (lengthScore + structureScore) / 2
}

func relevance(text string, keyTerms []string) float64 {
	if len(keyTerms) == 0 {
		return 0.9
	}

	lowered := strings.ToLower(text)
	matches := 0
	for _, term := range keyTerms {
		if strings.Contains(lowered, strings.ToLower(term)) {
			matches++
		}
	}
	return float64(matches) / float64(len(keyTerms))
}

func professionalism(text string) float64 {
	lowered := strings.ToLower(text)
	matches := 0
	for _, term := range professionalTerms {
		if strings.Contains(lowered, term) {
			matches++
		}
	}

	score := float64(matches) / 5
	if score > 1 {
		return 1
	}
	return score
}

// Segments are split on '.', so a trailing period adds an empty segment
// that counts toward the average.
func clarity(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0.5
	}

	segments := strings.Split(text, ".")
	words := 0
	for _, seg := range segments {
		words += len(strings.Fields(seg))
	}
	avg := float64(words) / float64(len(segments))

	switch {
	case avg >= 15 && avg <= 20:
		return 1.0
	case avg >= 10 && avg <= 25:
		return 0.8
	default:
		return 0.6
	}
}
