// Package model defines the domain types shared across the merge pipeline.
package model

import (
	"encoding/json"
	"time"
)

// SubmissionState tracks a submission through the pipeline state machine:
//
//	SUBMITTED → EXTRACTING → VALIDATING → ANALYZING_CONTEXT → DECIDED
//	  → ANALYST_REVIEWED → MERGED | REJECTED
//
// ANALYST_REVIEWED, MERGED and REJECTED are driven by a human analyst, not by
// the pipeline. A stage failure moves the submission to FAILED with any
// partial stage outputs retained.
type SubmissionState string

const (
	StateSubmitted        SubmissionState = "submitted"
	StateExtracting       SubmissionState = "extracting"
	StateValidating       SubmissionState = "validating"
	StateAnalyzingContext SubmissionState = "analyzing_context"
	StateDecided          SubmissionState = "decided"
	StateAnalystReviewed  SubmissionState = "analyst_reviewed"
	StateMerged           SubmissionState = "merged"
	StateRejected         SubmissionState = "rejected"
	StateFailed           SubmissionState = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SubmissionState) Terminal() bool {
	return s == StateMerged || s == StateRejected || s == StateFailed
}

var stateTransitions = map[SubmissionState][]SubmissionState{
	StateSubmitted:        {StateExtracting, StateFailed},
	StateExtracting:       {StateValidating, StateFailed},
	StateValidating:       {StateAnalyzingContext, StateFailed},
	StateAnalyzingContext: {StateDecided, StateFailed},
	StateDecided:          {StateAnalystReviewed, StateMerged, StateRejected},
	StateAnalystReviewed:  {StateMerged, StateRejected},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to SubmissionState) bool {
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AnalystAction is what a reviewer did with a decision.
type AnalystAction string

const (
	ActionConfirm  AnalystAction = "confirm"
	ActionOverride AnalystAction = "override"
)

// FieldVerdict is end-user field feedback on already-merged data.
type FieldVerdict string

const (
	VerdictGood FieldVerdict = "good"
	VerdictBad  FieldVerdict = "bad"
)

// Submission is the persisted record for one vendor upload. Stage outputs are
// filled in as each stage completes and retained on failure for inspection.
type Submission struct {
	ID       string          `json:"id"`
	VendorID string          `json:"vendor_id"`
	State    SubmissionState `json:"state"`

	RawGeoJSON json.RawMessage    `json:"raw_geojson,omitempty"`
	Features   *RoadFeatureSet    `json:"features,omitempty"`
	Validation *ValidationResult  `json:"validation,omitempty"`
	Context    *ContextFindingSet `json:"context,omitempty"`
	Decision   *DecisionRecord    `json:"decision,omitempty"`

	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
