package refsource

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/internal/validate"
)

// ShapefileSource validates against a local road-centerline shapefile, such
// as a DOT or municipal GIS export.
type ShapefileSource struct {
	name string
	path string
}

// NewShapefileSource creates a reference source over a local shapefile.
func NewShapefileSource(name, path string) *ShapefileSource {
	return &ShapefileSource{name: name, path: path}
}

func (s *ShapefileSource) Name() string { return s.name }

// Fetch reads the shapefile and returns the polyline features that intersect
// the bounding box. The file is reopened per call; centerline exports are
// small enough that caching has not been needed.
func (s *ShapefileSource) Fetch(ctx context.Context, bbox model.BBox) ([]validate.RefRoad, error) {
	reader, err := shp.Open(s.path)
	if err != nil {
		return nil, eris.Wrapf(err, "refsource: open shapefile %s", s.path)
	}
	defer reader.Close()

	nameField, classField := attributeFields(reader.Fields())

	var roads []validate.RefRoad
	for row := 0; reader.Next(); row++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "refsource: shapefile scan cancelled")
		}

		_, shape := reader.Shape()
		pl, ok := shape.(*shp.PolyLine)
		if !ok {
			continue
		}
		if !boxOverlaps(pl.Box, bbox) {
			continue
		}

		road := validate.RefRoad{ID: fmt.Sprintf("%s-%d", s.name, row)}
		if nameField >= 0 {
			road.Name = reader.ReadAttribute(row, nameField)
		}
		if classField >= 0 {
			road.Class = strings.ToLower(reader.ReadAttribute(row, classField))
		}
		for _, p := range pl.Points {
			road.Geometry = append(road.Geometry, model.Coordinate{Lat: p.Y, Lng: p.X})
		}
		roads = append(roads, road)
	}

	zap.L().Debug("shapefile scan complete",
		zap.String("source", s.name),
		zap.Int("roads_in_bbox", len(roads)),
	)
	return roads, nil
}

// attributeFields finds the name and classification columns by common
// centerline export conventions. Returns -1 when a column is absent.
func attributeFields(fields []shp.Field) (nameIdx, classIdx int) {
	nameIdx, classIdx = -1, -1
	for i, f := range fields {
		switch strings.ToUpper(f.String()) {
		case "NAME", "FULLNAME", "ROAD_NAME", "ST_NAME":
			if nameIdx < 0 {
				nameIdx = i
			}
		case "CLASS", "FCLASS", "ROAD_CLASS", "HIGHWAY", "MTFCC":
			if classIdx < 0 {
				classIdx = i
			}
		}
	}
	return nameIdx, classIdx
}

func boxOverlaps(box shp.Box, bbox model.BBox) bool {
	return box.MinX <= bbox.MaxLng && box.MaxX >= bbox.MinLng &&
		box.MinY <= bbox.MaxLat && box.MaxY >= bbox.MinLat
}
