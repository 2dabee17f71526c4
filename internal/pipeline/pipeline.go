// Package pipeline orchestrates the four analysis stages for a submission
// and applies analyst and field feedback to vendor trust.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-geo/roadmerge/internal/config"
	"github.com/meridian-geo/roadmerge/internal/decide"
	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/internal/store"
	"github.com/meridian-geo/roadmerge/internal/trust"
)

// Extractor parses raw GeoJSON into road primitives.
type Extractor interface {
	Extract(ctx context.Context, raw []byte) (*model.RoadFeatureSet, error)
}

// Validator cross-checks features against reference sources.
type Validator interface {
	Validate(ctx context.Context, features *model.RoadFeatureSet) (*model.ValidationResult, error)
}

// ContextAnalyzer retrieves and scores regional reports.
type ContextAnalyzer interface {
	Analyze(ctx context.Context, region, featureSummary string) (*model.ContextFindingSet, error)
}

// TrustStore is the pipeline's view of the vendor trust subsystem.
type TrustStore interface {
	Score(ctx context.Context, vendorID string) (float64, error)
	Record(ctx context.Context, vendorID string) (*model.TrustRecord, error)
	ApplyAdjustment(ctx context.Context, vendorID string, outcome model.Outcome, magnitude float64) (float64, error)
}

// Service runs submissions through extract, validate, context, and decide.
type Service struct {
	cfg       *config.Config
	store     store.Store
	extractor Extractor
	validator Validator
	analyzer  ContextAnalyzer
	engine    *decide.Engine
	trust     TrustStore
}

// New creates a Service with all stage dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	extractor Extractor,
	validator Validator,
	analyzer ContextAnalyzer,
	trustStore TrustStore,
) *Service {
	return &Service{
		cfg:       cfg,
		store:     st,
		extractor: extractor,
		validator: validator,
		analyzer:  analyzer,
		engine:    decide.New(cfg.Decision),
		trust:     trustStore,
	}
}

// Run processes one vendor submission end to end and returns the persisted
// submission with its decision.
func (s *Service) Run(ctx context.Context, vendorID string, raw json.RawMessage) (*model.Submission, error) {
	sub, err := s.Accept(ctx, vendorID, raw)
	if err != nil {
		return nil, err
	}
	return s.Process(ctx, sub)
}

// Accept persists a new submission in its initial state without running any
// stage, so callers can return its ID before processing asynchronously.
func (s *Service) Accept(ctx context.Context, vendorID string, raw json.RawMessage) (*model.Submission, error) {
	sub, err := s.store.CreateSubmission(ctx, vendorID, raw)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create submission")
	}
	return sub, nil
}

// Process runs an accepted submission through the four stages. Stages execute
// strictly sequentially; a failed optional stage degrades to its neutral
// default, while structural input failures and a required stage being down
// move the submission to FAILED with partial outputs retained.
func (s *Service) Process(ctx context.Context, sub *model.Submission) (*model.Submission, error) {
	log := zap.L().With(
		zap.String("vendor_id", sub.VendorID),
		zap.String("submission_id", sub.ID),
	)
	log.Info("pipeline: starting submission")

	setState := func(state model.SubmissionState) {
		if !model.CanTransition(sub.State, state) {
			log.Warn("pipeline: illegal state transition",
				zap.String("from", string(sub.State)), zap.String("to", string(state)))
			return
		}
		if stateErr := s.store.UpdateSubmissionState(ctx, sub.ID, state); stateErr != nil {
			log.Warn("pipeline: failed to update state", zap.Error(stateErr))
			return
		}
		sub.State = state
	}

	fail := func(stage string, stageErr error) (*model.Submission, error) {
		log.Error("pipeline: stage failed", zap.String("stage", stage), zap.Error(stageErr))
		if dbErr := s.store.FailSubmission(ctx, sub.ID, stageErr.Error()); dbErr != nil {
			log.Warn("pipeline: failed to record failure", zap.Error(dbErr))
		}
		sub.State = model.StateFailed
		sub.Error = stageErr.Error()
		return sub, stageErr
	}

	// Stage 1: extraction. A structural input failure is fatal and carries
	// no trust penalty.
	setState(model.StateExtracting)
	start := time.Now()
	features, err := s.extractor.Extract(ctx, sub.RawGeoJSON)
	if err != nil {
		return fail("extract", err)
	}
	sub.Features = features
	if err := s.store.SaveFeatures(ctx, sub.ID, features); err != nil {
		return fail("extract", err)
	}
	log.Info("pipeline: stage complete", zap.String("stage", "extract"),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))

	// Stage 2: external validation. All sources down degrades to the
	// neutral default unless validation is configured as required.
	setState(model.StateValidating)
	start = time.Now()
	validation, err := s.validator.Validate(ctx, features)
	if err != nil {
		var vErr *model.ValidationError
		if !errors.As(err, &vErr) || s.cfg.Validate.Required {
			return fail("validate", err)
		}
		log.Warn("pipeline: validation degraded to neutral default", zap.Error(err))
		validation = nil
	}
	if validation != nil {
		sub.Validation = validation
		if err := s.store.SaveValidation(ctx, sub.ID, validation); err != nil {
			return fail("validate", err)
		}
	}
	log.Info("pipeline: stage complete", zap.String("stage", "validate"),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))

	// Stage 3: context analysis. Unreachable search degrades the same way.
	setState(model.StateAnalyzingContext)
	start = time.Now()
	news, err := s.analyzer.Analyze(ctx, features.Region, features.Describe())
	if err != nil {
		var cErr *model.ContextError
		if !errors.As(err, &cErr) {
			return fail("context", err)
		}
		log.Warn("pipeline: context analysis degraded to neutral default", zap.Error(err))
		news = nil
	}
	if news != nil {
		sub.Context = news
		if err := s.store.SaveContext(ctx, sub.ID, news); err != nil {
			return fail("context", err)
		}
	}
	log.Info("pipeline: stage complete", zap.String("stage", "context"),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))

	// Stage 4: decision. Trust reads may be stale relative to in-flight
	// adjustments; a read failure falls back to the default score.
	trustScore, trustStale := s.readTrustScore(ctx, sub.VendorID, log)
	record := s.engine.Decide(sub.VendorID, trustScore, trustStale, validation, news)
	sub.Decision = record
	if err := s.store.SaveDecision(ctx, sub.ID, record); err != nil {
		return fail("decide", err)
	}
	setState(model.StateDecided)

	if record.AutoMerge {
		s.autoMerge(ctx, sub, record, log)
	}

	log.Info("pipeline: submission complete",
		zap.Float64("confidence_score", record.ConfidenceScore),
		zap.String("recommendation", string(record.Recommendation)),
	)
	return sub, nil
}

func (s *Service) readTrustScore(ctx context.Context, vendorID string, log *zap.Logger) (float64, bool) {
	score, err := s.trust.Score(ctx, vendorID)
	if err != nil {
		log.Warn("pipeline: trust read failed, using default score", zap.Error(err))
		return s.cfg.Trust.DefaultScore, true
	}
	return score, false
}

// autoMerge finalizes a high-trust APPROVE without analyst involvement. A
// failed trust write leaves the merge in place but flags the decision stale.
func (s *Service) autoMerge(ctx context.Context, sub *model.Submission, record *model.DecisionRecord, log *zap.Logger) {
	if _, err := s.trust.ApplyAdjustment(ctx, sub.VendorID, model.OutcomeApproved, s.cfg.Trust.ApproveMagnitude); err != nil {
		log.Warn("pipeline: auto-merge trust adjustment failed", zap.Error(err))
		record.TrustStale = true
		if saveErr := s.store.SaveDecision(ctx, sub.ID, record); saveErr != nil {
			log.Warn("pipeline: failed to flag stale trust", zap.Error(saveErr))
		}
	}
	if err := s.store.UpdateSubmissionState(ctx, sub.ID, model.StateMerged); err != nil {
		log.Warn("pipeline: auto-merge state update failed", zap.Error(err))
		return
	}
	sub.State = model.StateMerged
	log.Info("pipeline: auto-merged high-trust submission")
}

// RecordAnalystOutcome applies an analyst's confirm or override of a decided
// submission, adjusts vendor trust accordingly, and moves the submission to
// its terminal state.
func (s *Service) RecordAnalystOutcome(ctx context.Context, submissionID string, action model.AnalystAction, override model.Recommendation) (*model.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load submission")
	}
	if sub.Decision == nil || sub.State != model.StateDecided {
		return nil, eris.Errorf("pipeline: submission %s is not awaiting review (state %s)", submissionID, sub.State)
	}

	outcome, magnitude, err := trust.ResolveAnalystOutcome(s.cfg.Trust, sub.Decision.Recommendation, action, override)
	if err != nil {
		return nil, err
	}

	if _, err := s.trust.ApplyAdjustment(ctx, sub.VendorID, outcome, magnitude); err != nil {
		return nil, eris.Wrap(err, "pipeline: adjust trust for outcome")
	}

	if err := s.store.UpdateSubmissionState(ctx, sub.ID, model.StateAnalystReviewed); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark reviewed")
	}
	final := model.StateRejected
	if outcome == model.OutcomeApproved {
		final = model.StateMerged
	}
	if err := s.store.UpdateSubmissionState(ctx, sub.ID, final); err != nil {
		return nil, eris.Wrap(err, "pipeline: finalize submission")
	}
	sub.State = final

	zap.L().Info("analyst outcome recorded",
		zap.String("submission_id", sub.ID),
		zap.String("action", string(action)),
		zap.String("outcome", string(outcome)),
		zap.String("final_state", string(final)),
	)
	return sub, nil
}

// RecordFieldFeedback applies end-user field feedback on an already-merged
// submission as a secondary, smaller trust adjustment.
func (s *Service) RecordFieldFeedback(ctx context.Context, submissionID string, verdict model.FieldVerdict) error {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load submission")
	}
	if sub.State != model.StateMerged {
		return eris.Errorf("pipeline: field feedback requires a merged submission, %s is %s", submissionID, sub.State)
	}

	outcome, magnitude, err := trust.ResolveFieldVerdict(s.cfg.Trust, verdict)
	if err != nil {
		return err
	}
	if _, err := s.trust.ApplyAdjustment(ctx, sub.VendorID, outcome, magnitude); err != nil {
		return eris.Wrap(err, "pipeline: adjust trust for field feedback")
	}

	zap.L().Info("field feedback recorded",
		zap.String("submission_id", sub.ID),
		zap.String("verdict", string(verdict)),
	)
	return nil
}

// TrustScore returns a vendor's current score and recent history.
func (s *Service) TrustScore(ctx context.Context, vendorID string) (*model.TrustRecord, error) {
	return s.trust.Record(ctx, vendorID)
}

// Submission returns one persisted submission.
func (s *Service) Submission(ctx context.Context, id string) (*model.Submission, error) {
	return s.store.GetSubmission(ctx, id)
}

// Submissions lists persisted submissions.
func (s *Service) Submissions(ctx context.Context, filter store.SubmissionFilter) ([]model.Submission, error) {
	return s.store.ListSubmissions(ctx, filter)
}
