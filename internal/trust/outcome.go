package trust

import (
	"github.com/rotisserie/eris"

	"github.com/meridian-geo/roadmerge/internal/config"
	"github.com/meridian-geo/roadmerge/internal/model"
)

// ResolveAnalystOutcome maps an analyst's action on a decision to the trust
// adjustment it triggers. For a confirm the final recommendation is the
// original one; for an override it is the analyst's replacement.
//
// Approvals earn the standard approval magnitude, except when the analyst is
// overriding a system REJECT: the vendor was right and the model was wrong,
// so the positive adjustment uses the smaller wrong-reject magnitude. A
// rejection costs full magnitude whether confirmed or overridden onto an
// APPROVE.
func ResolveAnalystOutcome(cfg config.TrustConfig, original model.Recommendation, action model.AnalystAction, override model.Recommendation) (model.Outcome, float64, error) {
	final := original
	switch action {
	case model.ActionConfirm:
	case model.ActionOverride:
		if !override.Valid() {
			return "", 0, eris.Errorf("trust: override requires a valid replacement recommendation, got %q", override)
		}
		final = override
	default:
		return "", 0, eris.Errorf("trust: unknown analyst action %q", action)
	}

	switch final {
	case model.RecommendationApprove:
		if action == model.ActionOverride && original == model.RecommendationReject {
			return model.OutcomeApproved, cfg.WrongRejectMagnitude, nil
		}
		return model.OutcomeApproved, cfg.ApproveMagnitude, nil
	case model.RecommendationReject:
		return model.OutcomeRejected, cfg.RejectMagnitude, nil
	default:
		return "", 0, eris.Errorf("trust: %q is not a final recommendation; the analyst must resolve it to APPROVE or REJECT", final)
	}
}

// ResolveFieldVerdict maps end-user field feedback on merged data to its
// secondary, smaller-magnitude adjustment.
func ResolveFieldVerdict(cfg config.TrustConfig, verdict model.FieldVerdict) (model.Outcome, float64, error) {
	switch verdict {
	case model.VerdictGood:
		return model.OutcomeFieldVerifiedGood, cfg.FieldMagnitude, nil
	case model.VerdictBad:
		return model.OutcomeFieldVerifiedBad, cfg.FieldMagnitude, nil
	default:
		return "", 0, eris.Errorf("trust: unknown field verdict %q", verdict)
	}
}
