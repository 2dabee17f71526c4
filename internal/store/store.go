// Package store persists submissions and vendor trust records. Two backends
// are provided: SQLite for single-node deployments and Postgres for shared
// ones.
package store

import (
	"context"
	"encoding/json"

	"github.com/meridian-geo/roadmerge/internal/model"
)

// SubmissionFilter specifies criteria for listing submissions.
type SubmissionFilter struct {
	VendorID string                `json:"vendor_id,omitempty"`
	State    model.SubmissionState `json:"state,omitempty"`
	Limit    int                   `json:"limit,omitempty"`
	Offset   int                   `json:"offset,omitempty"`
}

// Store defines the persistence interface for the merge pipeline.
type Store interface {
	// Submissions
	CreateSubmission(ctx context.Context, vendorID string, raw json.RawMessage) (*model.Submission, error)
	UpdateSubmissionState(ctx context.Context, id string, state model.SubmissionState) error
	FailSubmission(ctx context.Context, id string, reason string) error
	SaveFeatures(ctx context.Context, id string, fs *model.RoadFeatureSet) error
	SaveValidation(ctx context.Context, id string, vr *model.ValidationResult) error
	SaveContext(ctx context.Context, id string, cs *model.ContextFindingSet) error
	SaveDecision(ctx context.Context, id string, dr *model.DecisionRecord) error
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error)

	// Vendor trust. GetTrustRecord returns (nil, nil) for unseen vendors;
	// ApplyTrustAdjustment writes the updated record and appends the history
	// entry in one transaction.
	GetTrustRecord(ctx context.Context, vendorID string) (*model.TrustRecord, error)
	CreateTrustRecord(ctx context.Context, rec *model.TrustRecord) error
	ApplyTrustAdjustment(ctx context.Context, rec *model.TrustRecord, adj model.TrustAdjustment) error
	ListTrustHistory(ctx context.Context, vendorID string, limit int) ([]model.TrustAdjustment, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
