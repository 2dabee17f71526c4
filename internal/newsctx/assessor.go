package newsctx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/meridian-geo/roadmerge/internal/config"
	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/pkg/anthropic"
)

const assessSystemPrompt = `You assess whether a news report affects the validity of recently submitted road map data. Respond with a single JSON object:
{"relevance": "high"|"medium"|"low", "impact": "positive"|"negative"|"neutral", "summary": "<one sentence>"}
"relevance" grades how directly the report concerns the road network described. "impact" is positive when the report corroborates the submitted changes (e.g. a new road opening), negative when it contradicts them (e.g. closures or demolition of mapped roads), neutral otherwise.`

const assessUserPrompt = `Report:
%s

Submitted road data:
%s`

// LLMAssessor grades reports with the Anthropic messages API.
type LLMAssessor struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

// NewLLMAssessor creates a reasoning-backed assessor.
func NewLLMAssessor(client anthropic.Client, cfg config.AnthropicConfig) *LLMAssessor {
	return &LLMAssessor{client: client, cfg: cfg}
}

// Assess asks the model for a relevance/impact verdict on one report.
func (a *LLMAssessor) Assess(ctx context.Context, report, featureSummary string) (*Assessment, error) {
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System: []anthropic.SystemBlock{
			{Text: assessSystemPrompt, CacheControl: &anthropic.CacheControl{}},
		},
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(assessUserPrompt, report, featureSummary)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "newsctx: assess report")
	}
	resp.Usage.LogCost(a.cfg.Model, "context")

	var verdict Assessment
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &verdict); err != nil {
		return nil, eris.Wrap(err, "newsctx: parse assessment json")
	}

	normalizeVerdict(&verdict)
	return &verdict, nil
}

// normalizeVerdict coerces unexpected enum values to the conservative end.
func normalizeVerdict(v *Assessment) {
	switch v.Relevance {
	case model.RelevanceHigh, model.RelevanceMedium, model.RelevanceLow:
	default:
		v.Relevance = model.RelevanceLow
	}
	switch v.Impact {
	case model.ImpactPositive, model.ImpactNegative, model.ImpactNeutral:
	default:
		v.Impact = model.ImpactNeutral
	}
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
