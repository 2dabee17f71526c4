package model

// Discrepancy records a submitted feature that a minority of reference
// sources corroborated.
type Discrepancy struct {
	FeatureID   string `json:"feature_id"`
	Description string `json:"description"`
}

// ValidationResult holds per-source match rates and their aggregate for one
// submission. OverallMatchRate is derived from the responding sources only;
// unreachable sources are excluded from the denominator, not zero-filled.
type ValidationResult struct {
	PerSourceMatchRate map[string]float64 `json:"per_source_match_rate"`
	OverallMatchRate   float64            `json:"overall_match_rate"`
	Discrepancies      []Discrepancy      `json:"discrepancies,omitempty"`
	Unavailable        []string           `json:"unavailable_sources,omitempty"`
}

// SourcesResponded returns how many reference sources produced a match rate.
func (v *ValidationResult) SourcesResponded() int {
	return len(v.PerSourceMatchRate)
}
