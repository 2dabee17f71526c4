// Package refsource provides the reference datasets the validator checks
// submissions against.
package refsource

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/internal/validate"
	"github.com/meridian-geo/roadmerge/pkg/overpass"
)

// OverpassSource validates against OpenStreetMap road data fetched through
// the Overpass API.
type OverpassSource struct {
	client overpass.Client
}

// NewOverpassSource creates an OSM-backed reference source.
func NewOverpassSource(client overpass.Client) *OverpassSource {
	return &OverpassSource{client: client}
}

func (s *OverpassSource) Name() string { return "osm" }

func (s *OverpassSource) Fetch(ctx context.Context, bbox model.BBox) ([]validate.RefRoad, error) {
	ways, err := s.client.RoadsInBBox(ctx, bbox.MinLat, bbox.MinLng, bbox.MaxLat, bbox.MaxLng)
	if err != nil {
		return nil, eris.Wrap(err, "refsource: overpass fetch")
	}

	roads := make([]validate.RefRoad, 0, len(ways))
	for _, w := range ways {
		road := validate.RefRoad{
			ID:    fmt.Sprintf("osm-way-%d", w.ID),
			Name:  w.Name(),
			Class: w.Highway(),
		}
		for _, p := range w.Geometry {
			road.Geometry = append(road.Geometry, model.Coordinate{Lat: p.Lat, Lng: p.Lng})
		}
		roads = append(roads, road)
	}
	return roads, nil
}
