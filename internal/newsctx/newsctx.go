// Package newsctx retrieves regional news reports and scores their likely
// impact on the validity of a road-data submission.
package newsctx

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-geo/roadmerge/internal/config"
	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/internal/registry"
	"github.com/meridian-geo/roadmerge/pkg/newswire"
)

// neutralImpactScore is the score for a region with no relevant reports.
const neutralImpactScore = 0.5

// Searcher retrieves candidate reports for a region query.
type Searcher interface {
	Search(ctx context.Context, query string, from, to time.Time, limit int) ([]newswire.Article, error)
}

// Assessment is the reasoning collaborator's verdict on one report.
type Assessment struct {
	Relevance model.Relevance `json:"relevance"`
	Impact    model.Impact    `json:"impact"`
	Summary   string          `json:"summary"`
}

// Assessor grades one report's relevance and impact given a summary of the
// submitted features.
type Assessor interface {
	Assess(ctx context.Context, report, featureSummary string) (*Assessment, error)
}

// Analyzer runs the context analysis stage.
type Analyzer struct {
	cfg      config.ContextConfig
	reg      *registry.Registry
	searcher Searcher
	assessor Assessor

	now func() time.Time
}

// New creates an Analyzer.
func New(cfg config.ContextConfig, reg *registry.Registry, searcher Searcher, assessor Assessor) *Analyzer {
	return &Analyzer{
		cfg:      cfg,
		reg:      reg,
		searcher: searcher,
		assessor: assessor,
		now:      time.Now,
	}
}

// Analyze searches recent reports for the region, filters to road-relevant
// ones, and assesses each retained report concurrently. A search failure
// returns a model.ContextError; individual assessment failures skip the
// report.
func (a *Analyzer) Analyze(ctx context.Context, region, featureSummary string) (*model.ContextFindingSet, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StageTimeout())
	defer cancel()

	to := a.now()
	from := to.Add(-a.cfg.Window())
	set := &model.ContextFindingSet{
		Region:      region,
		Window:      model.TimeWindow{From: from, To: to},
		ImpactScore: neutralImpactScore,
	}

	articles, err := a.searcher.Search(ctx, a.reg.NewsQuery(region), from, to, a.cfg.MaxReports)
	if err != nil {
		return nil, &model.ContextError{Err: err}
	}
	set.ReportsScanned = len(articles)

	retained := make([]newswire.Article, 0, len(articles))
	for _, art := range articles {
		if a.reg.MentionsKeyword(art.Title + " " + art.Description) {
			retained = append(retained, art)
		}
	}

	findings := make([]*model.ContextFinding, len(retained))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.AssessConcurrent)
	for i, art := range retained {
		g.Go(func() error {
			verdict, err := a.assessor.Assess(gctx, art.Title+". "+art.Description, featureSummary)
			if err != nil {
				zap.L().Warn("report assessment failed, skipping",
					zap.String("url", art.URL), zap.Error(err))
				return nil
			}
			mu.Lock()
			findings[i] = &model.ContextFinding{
				SourceRef: art.URL,
				Relevance: verdict.Relevance,
				Impact:    verdict.Impact,
				Summary:   verdict.Summary,
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range findings {
		if f != nil {
			set.Findings = append(set.Findings, *f)
		}
	}
	set.ReportsAssessed = len(set.Findings)
	set.ImpactScore = scoreFindings(set.Findings)

	zap.L().Info("context analysis complete",
		zap.String("region", region),
		zap.Int("reports_scanned", set.ReportsScanned),
		zap.Int("reports_assessed", set.ReportsAssessed),
		zap.Float64("impact_score", set.ImpactScore),
	)
	return set, nil
}

// scoreFindings aggregates findings into a [0,1] score. Each finding shifts
// the neutral baseline by a relevance-weighted step in its impact direction,
// so a high-relevance negative report depresses the score most.
func scoreFindings(findings []model.ContextFinding) float64 {
	score := neutralImpactScore
	for _, f := range findings {
		score += relevanceStep(f.Relevance) * impactSign(f.Impact)
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func relevanceStep(r model.Relevance) float64 {
	switch r {
	case model.RelevanceHigh:
		return 0.15
	case model.RelevanceMedium:
		return 0.10
	default:
		return 0.05
	}
}

func impactSign(i model.Impact) float64 {
	switch i {
	case model.ImpactPositive:
		return 1
	case model.ImpactNegative:
		return -1
	default:
		return 0
	}
}
