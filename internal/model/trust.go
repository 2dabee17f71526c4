package model

import "time"

// TrustScoreMin and TrustScoreMax bound every vendor trust score.
const (
	TrustScoreMin = 0.0
	TrustScoreMax = 100.0
)

// Outcome is the event type that triggers a trust adjustment.
type Outcome string

const (
	OutcomeApproved          Outcome = "approved"
	OutcomeRejected          Outcome = "rejected"
	OutcomeFieldVerifiedGood Outcome = "field_verified_good"
	OutcomeFieldVerifiedBad  Outcome = "field_verified_bad"
)

// TrustAdjustment is one append-only history entry. Entries are never
// mutated or reordered once written.
type TrustAdjustment struct {
	ID         string    `json:"id"`
	VendorID   string    `json:"vendor_id"`
	Outcome    Outcome   `json:"outcome"`
	Delta      float64   `json:"delta"`
	Score      float64   `json:"score"` // score after applying the delta
	RecordedAt time.Time `json:"recorded_at"`
}

// TrustRecord is the per-vendor reputation state. Score stays within
// [TrustScoreMin, TrustScoreMax]; adjustments are its only writer.
type TrustRecord struct {
	VendorID    string            `json:"vendor_id"`
	Score       float64           `json:"current_score"`
	Approvals   int               `json:"approvals"`
	Submissions int               `json:"total_submissions"`
	History     []TrustAdjustment `json:"score_history,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ApprovalRate returns the fraction of submissions that ended approved,
// or 0 for vendors with no submissions yet.
func (r *TrustRecord) ApprovalRate() float64 {
	if r.Submissions == 0 {
		return 0
	}
	return float64(r.Approvals) / float64(r.Submissions)
}

// Trend returns the score change across the most recent n history entries,
// for display alongside the current score.
func (r *TrustRecord) Trend(n int) float64 {
	if n <= 0 || len(r.History) < 2 {
		return 0
	}
	start := len(r.History) - n
	if start < 0 {
		start = 0
	}
	return r.History[len(r.History)-1].Score - r.History[start].Score
}
