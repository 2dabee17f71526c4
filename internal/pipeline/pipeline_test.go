package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-geo/roadmerge/internal/config"
	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/internal/store"
	"github.com/meridian-geo/roadmerge/internal/trust"
)

type stubExtractor struct {
	features *model.RoadFeatureSet
	err      error
}

func (s *stubExtractor) Extract(_ context.Context, _ []byte) (*model.RoadFeatureSet, error) {
	return s.features, s.err
}

type stubValidator struct {
	result *model.ValidationResult
	err    error
}

func (s *stubValidator) Validate(_ context.Context, _ *model.RoadFeatureSet) (*model.ValidationResult, error) {
	return s.result, s.err
}

type stubAnalyzer struct {
	findings *model.ContextFindingSet
	err      error
}

func (s *stubAnalyzer) Analyze(_ context.Context, _, _ string) (*model.ContextFindingSet, error) {
	return s.findings, s.err
}

type failingTrust struct{}

func (failingTrust) Score(context.Context, string) (float64, error) {
	return 0, errors.New("trust store unreachable")
}

func (failingTrust) Record(context.Context, string) (*model.TrustRecord, error) {
	return nil, errors.New("trust store unreachable")
}

func (failingTrust) ApplyAdjustment(context.Context, string, model.Outcome, float64) (float64, error) {
	return 0, errors.New("trust store unreachable")
}

func testConfig() *config.Config {
	return &config.Config{
		Validate: config.ValidateConfig{
			MatchToleranceMeters: 25,
			SourceTimeoutSecs:    5,
			StageTimeoutSecs:     30,
		},
		Decision: config.DecisionConfig{
			TrustWeight:       0.40,
			ValidationWeight:  0.35,
			NewsWeight:        0.25,
			ApproveThreshold:  80,
			ReviewThreshold:   60,
			NeutralValidation: 50,
			NeutralNews:       50,
		},
		Trust: config.TrustConfig{
			DefaultScore:         50,
			ApproveMagnitude:     2,
			RejectMagnitude:      3,
			WrongRejectMagnitude: 1,
			FieldMagnitude:       0.5,
			WriteRetries:         3,
			HistoryWindow:        20,
		},
	}
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleFeatures() *model.RoadFeatureSet {
	return &model.RoadFeatureSet{
		Segments: []model.Segment{
			{ID: "seg-0", Geometry: []model.Coordinate{{Lat: 12.97, Lng: 77.59}, {Lat: 12.98, Lng: 77.60}}},
		},
		Region:  "Bengaluru, Karnataka",
		Quality: model.QualityMetrics{Complexity: model.ComplexityLow},
	}
}

func sampleValidation() *model.ValidationResult {
	return &model.ValidationResult{
		PerSourceMatchRate: map[string]float64{"osm": 0.95, "tiger": 0.85},
		OverallMatchRate:   0.90,
	}
}

func sampleContext() *model.ContextFindingSet {
	return &model.ContextFindingSet{
		Region:      "Bengaluru, Karnataka",
		ImpactScore: 0.65,
	}
}

func newTestService(t *testing.T, ext Extractor, val Validator, an ContextAnalyzer) (*Service, store.Store) {
	t.Helper()
	cfg := testConfig()
	st := testStore(t)
	return New(cfg, st, ext, val, an, trust.NewManager(cfg.Trust, st)), st
}

func TestRunCompletesAllStages(t *testing.T) {
	svc, st := newTestService(t,
		&stubExtractor{features: sampleFeatures()},
		&stubValidator{result: sampleValidation()},
		&stubAnalyzer{findings: sampleContext()},
	)

	sub, err := svc.Run(context.Background(), "vendor-a", json.RawMessage(`{"type":"FeatureCollection","features":[]}`))
	require.NoError(t, err)
	assert.Equal(t, model.StateDecided, sub.State)
	require.NotNil(t, sub.Decision)

	// trust 50*0.40 + match 90*0.35 + news 65*0.25 = 67.75
	assert.InDelta(t, 67.75, sub.Decision.ConfidenceScore, 0.001)
	assert.Equal(t, model.RecommendationReview, sub.Decision.Recommendation)
	assert.Empty(t, sub.Decision.Degraded)

	stored, err := st.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDecided, stored.State)
	require.NotNil(t, stored.Features)
	require.NotNil(t, stored.Validation)
	require.NotNil(t, stored.Context)
	require.NotNil(t, stored.Decision)
}

func TestRunDegradesWhenAllSourcesDown(t *testing.T) {
	svc, _ := newTestService(t,
		&stubExtractor{features: sampleFeatures()},
		&stubValidator{err: &model.ValidationError{Sources: []string{"osm", "tiger"}, Err: errors.New("dial timeout")}},
		&stubAnalyzer{findings: sampleContext()},
	)

	sub, err := svc.Run(context.Background(), "vendor-a", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, model.StateDecided, sub.State)
	require.NotNil(t, sub.Decision)
	assert.Contains(t, sub.Decision.Degraded, "validation")
	assert.Nil(t, sub.Validation)

	// Validation falls back to the neutral 50: 50*0.40 + 50*0.35 + 65*0.25.
	assert.InDelta(t, 53.75, sub.Decision.ConfidenceScore, 0.001)
}

func TestRunFailsWhenValidationRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Validate.Required = true
	st := testStore(t)
	svc := New(cfg, st,
		&stubExtractor{features: sampleFeatures()},
		&stubValidator{err: &model.ValidationError{Sources: []string{"osm"}, Err: errors.New("dial timeout")}},
		&stubAnalyzer{findings: sampleContext()},
		trust.NewManager(cfg.Trust, st),
	)

	sub, err := svc.Run(context.Background(), "vendor-a", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, model.StateFailed, sub.State)
	assert.Nil(t, sub.Decision)
}

func TestRunDegradesWhenContextUnavailable(t *testing.T) {
	svc, _ := newTestService(t,
		&stubExtractor{features: sampleFeatures()},
		&stubValidator{result: sampleValidation()},
		&stubAnalyzer{err: &model.ContextError{Err: errors.New("search API 503")}},
	)

	sub, err := svc.Run(context.Background(), "vendor-a", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Contains(t, sub.Decision.Degraded, "context")
	assert.Nil(t, sub.Context)
}

func TestRunMalformedInputFailsWithoutTrustWrite(t *testing.T) {
	svc, st := newTestService(t,
		&stubExtractor{err: &model.ExtractionError{Reason: "invalid GeoJSON: unexpected end of input"}},
		&stubValidator{result: sampleValidation()},
		&stubAnalyzer{findings: sampleContext()},
	)

	sub, err := svc.Run(context.Background(), "vendor-a", json.RawMessage(`{"type":`))
	require.Error(t, err)
	var extErr *model.ExtractionError
	require.ErrorAs(t, err, &extErr)

	assert.Equal(t, model.StateFailed, sub.State)
	assert.Nil(t, sub.Decision)

	stored, err := st.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, stored.State)
	assert.Contains(t, stored.Error, "invalid GeoJSON")

	history, err := st.ListTrustHistory(context.Background(), "vendor-a", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRunTrustReadFailureUsesDefault(t *testing.T) {
	cfg := testConfig()
	st := testStore(t)
	svc := New(cfg, st,
		&stubExtractor{features: sampleFeatures()},
		&stubValidator{result: sampleValidation()},
		&stubAnalyzer{findings: sampleContext()},
		failingTrust{},
	)

	sub, err := svc.Run(context.Background(), "vendor-a", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NotNil(t, sub.Decision)
	assert.True(t, sub.Decision.TrustStale)
	assert.InDelta(t, cfg.Trust.DefaultScore, sub.Decision.TrustComponent, 0.001)
}

func TestAnalystConfirmApproveMergesAndRaisesTrust(t *testing.T) {
	// High validation and news push the score over the approve threshold.
	svc, st := newTestService(t,
		&stubExtractor{features: sampleFeatures()},
		&stubValidator{result: &model.ValidationResult{
			PerSourceMatchRate: map[string]float64{"osm": 1.0},
			OverallMatchRate:   1.0,
		}},
		&stubAnalyzer{findings: &model.ContextFindingSet{Region: "Bengaluru", ImpactScore: 1.0}},
	)

	sub, err := svc.Run(context.Background(), "vendor-a", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, model.RecommendationApprove, sub.Decision.Recommendation)

	reviewed, err := svc.RecordAnalystOutcome(context.Background(), sub.ID, model.ActionConfirm, "")
	require.NoError(t, err)
	assert.Equal(t, model.StateMerged, reviewed.State)

	rec, err := st.GetTrustRecord(context.Background(), "vendor-a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 52, rec.Score, 0.001)
	assert.Equal(t, 1, rec.Approvals)
	assert.Equal(t, 1, rec.Submissions)
}

func TestAnalystOverrideRejectToApprove(t *testing.T) {
	// Low signals force a REJECT that the analyst then overturns.
	svc, st := newTestService(t,
		&stubExtractor{features: sampleFeatures()},
		&stubValidator{result: &model.ValidationResult{
			PerSourceMatchRate: map[string]float64{"osm": 0.2},
			OverallMatchRate:   0.2,
		}},
		&stubAnalyzer{findings: &model.ContextFindingSet{Region: "Bengaluru", ImpactScore: 0.2}},
	)

	sub, err := svc.Run(context.Background(), "vendor-b", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, model.RecommendationReject, sub.Decision.Recommendation)

	reviewed, err := svc.RecordAnalystOutcome(context.Background(), sub.ID, model.ActionOverride, model.RecommendationApprove)
	require.NoError(t, err)
	assert.Equal(t, model.StateMerged, reviewed.State)

	// A wrongly rejected vendor gets the smaller corrective increase.
	rec, err := st.GetTrustRecord(context.Background(), "vendor-b")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 51, rec.Score, 0.001)
}

func TestAnalystOutcomeRequiresDecidedState(t *testing.T) {
	svc, st := newTestService(t,
		&stubExtractor{features: sampleFeatures()},
		&stubValidator{result: sampleValidation()},
		&stubAnalyzer{findings: sampleContext()},
	)

	sub, err := st.CreateSubmission(context.Background(), "vendor-a", json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = svc.RecordAnalystOutcome(context.Background(), sub.ID, model.ActionConfirm, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not awaiting review")
}

func TestFieldFeedbackOnMergedSubmission(t *testing.T) {
	svc, st := newTestService(t,
		&stubExtractor{features: sampleFeatures()},
		&stubValidator{result: &model.ValidationResult{
			PerSourceMatchRate: map[string]float64{"osm": 1.0},
			OverallMatchRate:   1.0,
		}},
		&stubAnalyzer{findings: &model.ContextFindingSet{Region: "Bengaluru", ImpactScore: 1.0}},
	)

	sub, err := svc.Run(context.Background(), "vendor-a", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = svc.RecordAnalystOutcome(context.Background(), sub.ID, model.ActionConfirm, "")
	require.NoError(t, err)

	require.NoError(t, svc.RecordFieldFeedback(context.Background(), sub.ID, model.VerdictBad))

	rec, err := st.GetTrustRecord(context.Background(), "vendor-a")
	require.NoError(t, err)
	assert.InDelta(t, 51.5, rec.Score, 0.001)

	history, err := st.ListTrustHistory(context.Background(), "vendor-a", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestFieldFeedbackRejectedBeforeMerge(t *testing.T) {
	svc, _ := newTestService(t,
		&stubExtractor{features: sampleFeatures()},
		&stubValidator{result: sampleValidation()},
		&stubAnalyzer{findings: sampleContext()},
	)

	sub, err := svc.Run(context.Background(), "vendor-a", json.RawMessage(`{}`))
	require.NoError(t, err)

	err = svc.RecordFieldFeedback(context.Background(), sub.ID, model.VerdictGood)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merged submission")
}

func TestAutoMergeHighTrustApprove(t *testing.T) {
	cfg := testConfig()
	cfg.Decision.AutoMergeEnabled = true
	cfg.Decision.AutoMergeTrustThreshold = 90
	st := testStore(t)
	mgr := trust.NewManager(cfg.Trust, st)
	svc := New(cfg, st,
		&stubExtractor{features: sampleFeatures()},
		&stubValidator{result: &model.ValidationResult{
			PerSourceMatchRate: map[string]float64{"osm": 1.0},
			OverallMatchRate:   1.0,
		}},
		&stubAnalyzer{findings: &model.ContextFindingSet{Region: "Bengaluru", ImpactScore: 0.95}},
		mgr,
	)

	require.NoError(t, st.CreateTrustRecord(context.Background(), &model.TrustRecord{VendorID: "vendor-elite", Score: 95}))

	sub, err := svc.Run(context.Background(), "vendor-elite", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NotNil(t, sub.Decision)
	assert.True(t, sub.Decision.AutoMerge)
	assert.Equal(t, model.StateMerged, sub.State)

	rec, err := st.GetTrustRecord(context.Background(), "vendor-elite")
	require.NoError(t, err)
	assert.InDelta(t, 97, rec.Score, 0.001)
}
