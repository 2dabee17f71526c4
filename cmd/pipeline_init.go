package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-geo/roadmerge/internal/extract"
	"github.com/meridian-geo/roadmerge/internal/newsctx"
	"github.com/meridian-geo/roadmerge/internal/pipeline"
	"github.com/meridian-geo/roadmerge/internal/refsource"
	"github.com/meridian-geo/roadmerge/internal/registry"
	"github.com/meridian-geo/roadmerge/internal/store"
	"github.com/meridian-geo/roadmerge/internal/trust"
	"github.com/meridian-geo/roadmerge/internal/validate"
	anthropicpkg "github.com/meridian-geo/roadmerge/pkg/anthropic"
	"github.com/meridian-geo/roadmerge/pkg/geocode"
	"github.com/meridian-geo/roadmerge/pkg/newswire"
	"github.com/meridian-geo/roadmerge/pkg/overpass"
)

// pipelineEnv holds the initialized store, clients, and the pipeline service
// needed by the analyze/serve/outcome/feedback commands.
type pipelineEnv struct {
	Store    store.Store
	Service  *pipeline.Service
	Trust    *trust.Manager
	Registry *registry.Registry
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "roadmerge.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, reference sources, all API clients, and
// builds the pipeline service. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg := registry.Default()
	if cfg.Registry.Path != "" {
		reg, err = registry.Load(cfg.Registry.Path)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load registry")
		}
		zap.L().Info("registry loaded", zap.String("path", cfg.Registry.Path))
	}

	geocoder := geocode.NewClient(
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithUserAgent(cfg.Geocode.UserAgent),
		geocode.WithRateLimit(cfg.Geocode.RateRPS),
	)
	extractor := extract.New(cfg.Extract, reg, geocoder)

	var sources []validate.Source
	if cfg.Overpass.Enabled {
		opts := []overpass.Option{overpass.WithBaseURL(cfg.Overpass.BaseURL)}
		if cfg.Overpass.TimeoutSecs > 0 {
			opts = append(opts, overpass.WithQueryTimeout(cfg.Overpass.Timeout()))
		}
		sources = append(sources, refsource.NewOverpassSource(overpass.NewClient(opts...)))
	}
	if cfg.Shapefile.Enabled && cfg.Shapefile.Path != "" {
		sources = append(sources, refsource.NewShapefileSource(cfg.Shapefile.Name, cfg.Shapefile.Path))
	}
	if len(sources) == 0 {
		zap.L().Warn("no reference sources enabled, validation will degrade to neutral")
	}
	validator := validate.New(cfg.Validate, sources...)

	if cfg.Newswire.Key == "" || cfg.Anthropic.Key == "" {
		zap.L().Warn("newswire or anthropic key not set, context analysis will degrade to neutral")
	}
	searcher := newswire.NewClient(cfg.Newswire.Key, newswire.WithBaseURL(cfg.Newswire.BaseURL))
	assessor := newsctx.NewLLMAssessor(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic)
	analyzer := newsctx.New(cfg.Context, reg, searcher, assessor)

	mgr := trust.NewManager(cfg.Trust, st)
	svc := pipeline.New(cfg, st, extractor, validator, analyzer, mgr)

	zap.L().Info("pipeline initialized",
		zap.String("store", cfg.Store.Driver),
		zap.Int("reference_sources", len(sources)),
	)

	return &pipelineEnv{
		Store:    st,
		Service:  svc,
		Trust:    mgr,
		Registry: reg,
	}, nil
}
