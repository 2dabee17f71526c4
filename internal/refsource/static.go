package refsource

import (
	"context"

	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/internal/validate"
)

// StaticSource serves a fixed in-memory reference dataset. Used for seeded
// regional datasets and as a deterministic source in tests.
type StaticSource struct {
	name  string
	roads []validate.RefRoad
}

// NewStaticSource creates a fixed-content reference source.
func NewStaticSource(name string, roads []validate.RefRoad) *StaticSource {
	return &StaticSource{name: name, roads: roads}
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) Fetch(ctx context.Context, bbox model.BBox) ([]validate.RefRoad, error) {
	var out []validate.RefRoad
	for _, r := range s.roads {
		if roadInBBox(r, bbox) {
			out = append(out, r)
		}
	}
	return out, nil
}

func roadInBBox(r validate.RefRoad, bbox model.BBox) bool {
	for _, c := range r.Geometry {
		if c.Lat >= bbox.MinLat && c.Lat <= bbox.MaxLat &&
			c.Lng >= bbox.MinLng && c.Lng <= bbox.MaxLng {
			return true
		}
	}
	return false
}
