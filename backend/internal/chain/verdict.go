package chain

// Verdict is the outcome of a pipeline run. Valid is false exactly when
// Errors is non-empty. Warnings never affect Valid.
type Verdict struct {
	Valid         bool                   `json:"valid"`
	Errors        []string               `json:"errors"`
	Warnings      []string               `json:"warnings"`
	SanitizedText string                 `json:"sanitized_input,omitempty"`
	QualityScores map[string]float64     `json:"quality_scores,omitempty"`
	BiasScores    map[string]float64     `json:"bias_scores,omitempty"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// NewVerdict returns a valid verdict with empty lists
func NewVerdict() *Verdict {
	return &Verdict{
		Valid:    true,
		Errors:   make([]string, 0),
		Warnings: make([]string, 0),
		Metadata: make(map[string]interface{}),
	}
}

// AddError records a blocking problem
func (v *Verdict) AddError(msg string) {
	v.Valid = false
	v.Errors = append(v.Errors, msg)
}

// AddWarning records an advisory flag
func (v *Verdict) AddWarning(msg string) {
	v.Warnings = append(v.Warnings, msg)
}
