// Package decide combines vendor trust, validation results, and news context
// into a confidence score and a categorical recommendation.
package decide

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-geo/roadmerge/internal/config"
	"github.com/meridian-geo/roadmerge/internal/model"
)

// Engine is the decision stage. It is pure computation; degraded upstream
// stages are represented by nil inputs and scored with neutral defaults.
type Engine struct {
	cfg config.DecisionConfig
}

// New creates an Engine. The config must have passed DecisionConfig.Validate.
func New(cfg config.DecisionConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Decide produces the DecisionRecord for one submission. A nil validation or
// context input marks that component degraded and scores it with the
// configured neutral default.
func (e *Engine) Decide(vendorID string, trustScore float64, trustStale bool, validation *model.ValidationResult, news *model.ContextFindingSet) *model.DecisionRecord {
	rec := &model.DecisionRecord{
		VendorID:       vendorID,
		TrustComponent: trustScore,
		TrustStale:     trustStale,
		DecidedAt:      time.Now().UTC(),
	}

	if validation != nil {
		rec.ValidationComponent = validation.OverallMatchRate * 100
	} else {
		rec.ValidationComponent = e.cfg.NeutralValidation
		rec.Degraded = append(rec.Degraded, "validation")
	}

	if news != nil {
		rec.NewsComponent = news.ImpactScore * 100
	} else {
		rec.NewsComponent = e.cfg.NeutralNews
		rec.Degraded = append(rec.Degraded, "context")
	}

	score := e.cfg.TrustWeight*rec.TrustComponent +
		e.cfg.ValidationWeight*rec.ValidationComponent +
		e.cfg.NewsWeight*rec.NewsComponent
	rec.ConfidenceScore = clamp(score, 0, 100)

	switch {
	case rec.ConfidenceScore >= e.cfg.ApproveThreshold:
		rec.Recommendation = model.RecommendationApprove
	case rec.ConfidenceScore >= e.cfg.ReviewThreshold:
		rec.Recommendation = model.RecommendationReview
	default:
		rec.Recommendation = model.RecommendationReject
	}

	if e.cfg.AutoMergeEnabled &&
		rec.Recommendation == model.RecommendationApprove &&
		trustScore >= e.cfg.AutoMergeTrustThreshold {
		rec.AutoMerge = true
	}

	rec.Reasoning = e.reasoning(rec)

	zap.L().Info("decision made",
		zap.String("vendor_id", vendorID),
		zap.Float64("confidence_score", rec.ConfidenceScore),
		zap.String("recommendation", string(rec.Recommendation)),
		zap.Strings("degraded", rec.Degraded),
	)
	return rec
}

// reasoning names every component and its value; there are no hidden factors.
func (e *Engine) reasoning(rec *model.DecisionRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vendor trust %s (%.1f), validation match %.1f%%, news impact %s (%.1f); weighted confidence %.1f recommends %s.",
		band(rec.TrustComponent), rec.TrustComponent,
		rec.ValidationComponent,
		band(rec.NewsComponent), rec.NewsComponent,
		rec.ConfidenceScore, rec.Recommendation,
	)
	if len(rec.Degraded) > 0 {
		fmt.Fprintf(&b, " Degraded: %s unavailable, scored with neutral defaults.",
			strings.Join(rec.Degraded, " and "))
	}
	if rec.TrustStale {
		b.WriteString(" Trust score may be stale.")
	}
	if rec.AutoMerge {
		b.WriteString(" Eligible for auto-merge under the high-trust policy.")
	}
	return b.String()
}

func band(score float64) string {
	switch {
	case score >= 75:
		return "high"
	case score >= 50:
		return "moderate"
	default:
		return "low"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
