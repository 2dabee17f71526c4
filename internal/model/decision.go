package model

import "time"

// Recommendation is the categorical outcome of a decision run.
type Recommendation string

const (
	RecommendationApprove Recommendation = "APPROVE"
	RecommendationReview  Recommendation = "REVIEW"
	RecommendationReject  Recommendation = "REJECT"
)

// Valid reports whether r is one of the three known recommendations.
func (r Recommendation) Valid() bool {
	switch r {
	case RecommendationApprove, RecommendationReview, RecommendationReject:
		return true
	}
	return false
}

// DecisionRecord is the final pipeline output for one submission. Created
// once per run and immutable; the Feedback Applier reads it later to map an
// analyst action onto a trust adjustment.
type DecisionRecord struct {
	VendorID string `json:"vendor_id"`

	// Sub-scores, each normalized to [0,100].
	TrustComponent      float64 `json:"vendor_trust_component"`
	ValidationComponent float64 `json:"validation_component"`
	NewsComponent       float64 `json:"news_component"`

	ConfidenceScore float64        `json:"confidence_score"`
	Recommendation  Recommendation `json:"recommendation"`
	Reasoning       string         `json:"reasoning"`

	// Degraded lists stages that fell back to their neutral default.
	Degraded []string `json:"degraded,omitempty"`

	// TrustStale is set when the decision's trust adjustment could not be
	// persisted; the stored score may lag this run's outcome.
	TrustStale bool `json:"trust_stale,omitempty"`

	// AutoMerge marks an APPROVE from a vendor above the configured
	// auto-merge trust threshold. Only set when the policy is enabled.
	AutoMerge bool `json:"auto_merge,omitempty"`

	DecidedAt time.Time `json:"decided_at"`
}
