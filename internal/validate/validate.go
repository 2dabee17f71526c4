// Package validate cross-checks extracted road features against external
// reference sources and computes per-source match rates.
package validate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-geo/roadmerge/internal/config"
	"github.com/meridian-geo/roadmerge/internal/extract"
	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/internal/resilience"
)

// RefRoad is one road feature returned by a reference source.
type RefRoad struct {
	ID       string
	Name     string
	Class    string
	Geometry []model.Coordinate
}

// Source is a single external reference dataset.
type Source interface {
	Name() string
	Fetch(ctx context.Context, bbox model.BBox) ([]RefRoad, error)
}

// Validator queries all configured sources concurrently and aggregates
// match rates.
type Validator struct {
	cfg      config.ValidateConfig
	sources  []Source
	breakers map[string]*resilience.CircuitBreaker
}

// New creates a Validator over the given sources.
func New(cfg config.ValidateConfig, sources ...Source) *Validator {
	breakers := make(map[string]*resilience.CircuitBreaker, len(sources))
	for _, s := range sources {
		breakers[s.Name()] = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})
	}
	return &Validator{cfg: cfg, sources: sources, breakers: breakers}
}

type sourceResult struct {
	name    string
	matched map[string]bool // feature id -> matched
	err     error
}

// Validate fetches reference data from every source and computes match rates.
// Individual source failures degrade the aggregate; if every source fails
// the returned error is a model.ValidationError.
func (v *Validator) Validate(ctx context.Context, features *model.RoadFeatureSet) (*model.ValidationResult, error) {
	if len(v.sources) == 0 {
		return nil, &model.ValidationError{Err: fmt.Errorf("no reference sources configured")}
	}
	if features.BBox == nil {
		return nil, &model.ValidationError{Err: fmt.Errorf("feature set has no spatial extent")}
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.StageTimeout())
	defer cancel()

	ids := featureIDs(features)

	results := make([]sourceResult, len(v.sources))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range v.sources {
		g.Go(func() error {
			res := v.querySource(gctx, src, features, ids)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	// Goroutines never return errors; failures are carried per source.
	_ = g.Wait()

	result := &model.ValidationResult{
		PerSourceMatchRate: make(map[string]float64),
	}
	var failed []string
	var sum float64
	for _, res := range results {
		if res.err != nil {
			failed = append(failed, res.name)
			result.Unavailable = append(result.Unavailable, res.name)
			zap.L().Warn("reference source unavailable",
				zap.String("source", res.name), zap.Error(res.err))
			continue
		}
		rate := matchRate(res.matched, len(ids))
		result.PerSourceMatchRate[res.name] = rate
		sum += rate
	}

	responded := len(v.sources) - len(failed)
	if responded == 0 {
		return nil, &model.ValidationError{
			Sources: failed,
			Err:     fmt.Errorf("all %d reference sources unavailable", len(failed)),
		}
	}

	// Mean over responding sources only; failures shrink the denominator.
	result.OverallMatchRate = sum / float64(responded)
	result.Discrepancies = discrepancies(ids, results)

	zap.L().Info("validation complete",
		zap.Float64("overall_match_rate", result.OverallMatchRate),
		zap.Int("sources_responded", responded),
		zap.Int("sources_failed", len(failed)),
		zap.Int("discrepancies", len(result.Discrepancies)),
	)
	return result, nil
}

func (v *Validator) querySource(ctx context.Context, src Source, features *model.RoadFeatureSet, ids []string) sourceResult {
	res := sourceResult{name: src.Name()}
	breaker := v.breakers[src.Name()]

	err := breaker.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, v.cfg.SourceTimeout())
		defer cancel()

		refs, err := src.Fetch(ctx, *features.BBox)
		if err != nil {
			return err
		}
		res.matched = v.matchFeatures(features, refs)
		return nil
	})
	res.err = err
	return res
}

// matchFeatures marks each submitted feature that lies within the match
// tolerance of some reference road.
func (v *Validator) matchFeatures(features *model.RoadFeatureSet, refs []RefRoad) map[string]bool {
	matched := make(map[string]bool)
	tol := v.cfg.MatchToleranceMeters

	for _, seg := range features.Segments {
		if len(seg.Geometry) == 0 {
			continue
		}
		probes := segmentProbes(seg)
		for _, ref := range refs {
			if allNear(probes, ref.Geometry, tol) {
				matched[seg.ID] = true
				break
			}
		}
	}
	for _, in := range features.Intersections {
		for _, ref := range refs {
			if anyNear([]model.Coordinate{in.Coordinate}, ref.Geometry, tol) {
				matched[in.ID] = true
				break
			}
		}
	}
	for _, sig := range features.Signals {
		for _, ref := range refs {
			if anyNear([]model.Coordinate{sig.Coordinate}, ref.Geometry, tol) {
				matched[sig.ID] = true
				break
			}
		}
	}
	return matched
}

// segmentProbes picks the endpoints and midpoint of a segment as the points
// that must all be corroborated for the segment to count as matched.
func segmentProbes(seg model.Segment) []model.Coordinate {
	n := len(seg.Geometry)
	if n == 1 {
		return seg.Geometry
	}
	return []model.Coordinate{seg.Geometry[0], seg.Geometry[n/2], seg.Geometry[n-1]}
}

func allNear(probes, ref []model.Coordinate, tol float64) bool {
	for _, p := range probes {
		if !anyNear([]model.Coordinate{p}, ref, tol) {
			return false
		}
	}
	return len(probes) > 0
}

func anyNear(points, ref []model.Coordinate, tol float64) bool {
	for _, p := range points {
		for _, r := range ref {
			if extract.Haversine(p, r) <= tol {
				return true
			}
		}
	}
	return false
}

func matchRate(matched map[string]bool, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(len(matched)) / float64(total)
}

// discrepancies lists features corroborated by fewer than a majority of the
// sources that responded, naming the sources that disagreed.
func discrepancies(ids []string, results []sourceResult) []model.Discrepancy {
	var responded []sourceResult
	for _, r := range results {
		if r.err == nil {
			responded = append(responded, r)
		}
	}
	if len(responded) == 0 {
		return nil
	}

	var out []model.Discrepancy
	for _, id := range ids {
		var disagreed []string
		for _, r := range responded {
			if !r.matched[id] {
				disagreed = append(disagreed, r.name)
			}
		}
		agreed := len(responded) - len(disagreed)
		if agreed*2 <= len(responded) {
			sort.Strings(disagreed)
			out = append(out, model.Discrepancy{
				FeatureID: id,
				Description: fmt.Sprintf("not corroborated by %d of %d sources: %s",
					len(disagreed), len(responded), strings.Join(disagreed, ", ")),
			})
		}
	}
	return out
}

func featureIDs(features *model.RoadFeatureSet) []string {
	ids := make([]string, 0, features.FeatureCount())
	for _, seg := range features.Segments {
		ids = append(ids, seg.ID)
	}
	for _, in := range features.Intersections {
		ids = append(ids, in.ID)
	}
	for _, sig := range features.Signals {
		ids = append(ids, sig.ID)
	}
	return ids
}
