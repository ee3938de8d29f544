package analyzer

import (
	"strings"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/policy"
)

// BiasCategory is a lexicon bucket used for bias scoring
type BiasCategory string

const (
	BiasGender        BiasCategory = "gender"
	BiasAge           BiasCategory = "age"
	BiasCultural      BiasCategory = "cultural"
	BiasSocioeconomic BiasCategory = "socioeconomic"
)

// DefaultBiasThreshold is the per-category ratio above which output is flagged
const DefaultBiasThreshold = 0.05

var biasLexicon = map[BiasCategory]map[string]struct{}{
	BiasGender:        set("he", "she", "him", "her", "his", "hers", "male", "female", "man", "woman"),
	BiasAge:           set("young", "old", "elderly", "millennial", "boomer"),
	BiasCultural:      set("foreign", "exotic", "traditional", "modern"),
	BiasSocioeconomic: set("poor", "rich", "wealthy", "underprivileged"),
}

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// BiasDetector scores text against the bias lexicon
type BiasDetector struct {
	policies policy.Source
	recorder audit.Recorder
}

// NewBiasDetector creates a BiasDetector that reads max_bias_score from
// policies on every call. A nil source means the default policy.
func NewBiasDetector(policies policy.Source, recorder audit.Recorder) *BiasDetector {
	if policies == nil {
		policies = policy.Static(nil)
	}
	return &BiasDetector{policies: policies, recorder: recorder}
}

// Threshold returns the current per-category threshold
func (b *BiasDetector) Threshold() float64 {
	if p := b.policies.Current(); p != nil && p.Thresholds.MaxBiasScore > 0 {
		return p.Thresholds.MaxBiasScore
	}
	return DefaultBiasThreshold
}

// Detect returns the fraction of whitespace tokens that exactly match each
// category's lexicon. Text with no tokens yields an empty map.
func (b *BiasDetector) Detect(text string) map[string]float64 {
	words := strings.Fields(strings.ToLower(text))
	scores := make(map[string]float64)
	if len(words) == 0 {
		return scores
	}

	for category, lexicon := range biasLexicon {
		count := 0
		for _, w := range words {
			if _, ok := lexicon[w]; ok {
				count++
			}
		}
		scores[string(category)] = float64(count) / float64(len(words))
	}
	return scores
}

// Assess reports whether any category exceeds the threshold, with the scores
func (b *BiasDetector) Assess(text string) (bool, map[string]float64) {
	scores := b.Detect(text)

	exceeded := false
	threshold := b.Threshold()
	for _, score := range scores {
		if score > threshold {
			exceeded = true
			break
		}
	}

	if exceeded && b.recorder != nil {
		b.recorder.Log(audit.EventBiasThreshold, map[string]interface{}{"scores": scores})
	}
	return exceeded, scores
}
