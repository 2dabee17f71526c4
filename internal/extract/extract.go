// Package extract parses vendor-submitted GeoJSON into typed road-network
// primitives and computes structural quality metrics.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/meridian-geo/roadmerge/internal/config"
	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/internal/registry"
	"github.com/meridian-geo/roadmerge/pkg/geocode"
)

const earthRadiusMeters = 6371000

// RegionResolver turns a coordinate into a human-readable region label.
// Implemented by the reverse geocoder; nil resolvers leave the region unknown.
type RegionResolver interface {
	Reverse(ctx context.Context, lat, lng float64) (*geocode.Place, error)
}

// Extractor parses raw GeoJSON submissions.
type Extractor struct {
	cfg      config.ExtractConfig
	reg      *registry.Registry
	resolver RegionResolver
}

// New creates an Extractor. resolver may be nil.
func New(cfg config.ExtractConfig, reg *registry.Registry, resolver RegionResolver) *Extractor {
	return &Extractor{cfg: cfg, reg: reg, resolver: resolver}
}

// Extract parses a GeoJSON FeatureCollection into a RoadFeatureSet. It
// returns a model.ExtractionError for structurally invalid input; missing
// optional attributes never fail the parse.
func (e *Extractor) Extract(ctx context.Context, raw []byte) (*model.RoadFeatureSet, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, &model.ExtractionError{Reason: fmt.Sprintf("unparsable GeoJSON: %v", err)}
	}
	if fc.Features == nil {
		return nil, &model.ExtractionError{Reason: "missing features array"}
	}

	set := &model.RoadFeatureSet{Region: "unknown"}
	for i, f := range fc.Features {
		e.classify(set, i, f)
	}

	e.linkIntersections(set)
	e.checkConnectivity(set)
	set.Centroid, set.BBox = e.extent(set)
	set.Quality.Complexity = classifyComplexity(set)
	set.Quality.Summary = summarize(set)

	if e.resolver != nil && set.Centroid != nil {
		place, err := e.resolver.Reverse(ctx, set.Centroid.Lat, set.Centroid.Lng)
		if err != nil {
			zap.L().Warn("region resolution failed, leaving region unknown",
				zap.Error(err))
		} else if label := place.Label(); label != "" {
			set.Region = label
		}
	}

	zap.L().Info("extraction complete",
		zap.Int("segments", len(set.Segments)),
		zap.Int("intersections", len(set.Intersections)),
		zap.Int("signals", len(set.Signals)),
		zap.Int("unclassified", len(set.Unclassified)),
		zap.String("region", set.Region),
	)
	return set, nil
}

// classify routes one GeoJSON feature into the matching primitive bucket.
// Unclassifiable features land in the unclassified list, never dropped.
func (e *Extractor) classify(set *model.RoadFeatureSet, idx int, f *geojson.Feature) {
	props := f.Properties
	id := featureID(f, idx)

	switch g := f.Geometry.(type) {
	case *geom.LineString:
		set.Segments = append(set.Segments, e.segment(id, g.Coords(), props))
	case *geom.Polygon:
		// An area-bounded way: treat the outer ring as the segment geometry.
		if g.NumLinearRings() > 0 {
			seg := e.segment(id, g.LinearRing(0).Coords(), props)
			seg.FromArea = true
			set.Segments = append(set.Segments, seg)
			return
		}
		set.Unclassified = append(set.Unclassified, model.UnclassifiedFeature{
			Index: idx, GeometryType: "Polygon", Reason: "polygon without rings",
		})
	case *geom.Point:
		coord := model.Coordinate{Lng: g.X(), Lat: g.Y()}
		switch {
		case propEquals(props, "highway", "traffic_signals"), propEquals(props, "type", "signal"):
			set.Signals = append(set.Signals, model.Signal{ID: id, Coordinate: coord})
		case propEquals(props, "type", "intersection"), hasProp(props, "junction"):
			set.Intersections = append(set.Intersections, model.Intersection{ID: id, Coordinate: coord})
		default:
			set.Unclassified = append(set.Unclassified, model.UnclassifiedFeature{
				Index: idx, GeometryType: "Point", Reason: "point without junction or signal tags",
			})
		}
	default:
		gType := "unknown"
		if f.Geometry != nil {
			gType = fmt.Sprintf("%T", f.Geometry)
		}
		set.Unclassified = append(set.Unclassified, model.UnclassifiedFeature{
			Index: idx, GeometryType: gType, Reason: "unsupported geometry type",
		})
	}
}

func (e *Extractor) segment(id string, coords []geom.Coord, props map[string]interface{}) model.Segment {
	seg := model.Segment{ID: id}
	for _, c := range coords {
		seg.Geometry = append(seg.Geometry, model.Coordinate{Lng: c.X(), Lat: c.Y()})
	}

	if name, ok := props["name"].(string); ok {
		seg.Name = name
	}
	if class, ok := props["highway"].(string); ok {
		seg.Class = class
	} else if class, ok := props["road_type"].(string); ok {
		seg.Class = class
	}
	if seg.Class != "" && !e.reg.KnownClass(seg.Class) {
		seg.Class = "unclassified"
	}
	if v, ok := toFloat(props["maxspeed"]); ok {
		seg.SpeedLimit = &v
	} else if v, ok := toFloat(props["speed_limit"]); ok {
		seg.SpeedLimit = &v
	}
	if v, ok := toFloat(props["lanes"]); ok {
		n := int(v)
		seg.Lanes = &n
	}
	if ow, ok := props["oneway"]; ok {
		b := propTruthy(ow)
		seg.OneWay = &b
	}
	return seg
}

// linkIntersections attaches to each intersection the ids of segments whose
// geometry passes within the connectivity tolerance.
func (e *Extractor) linkIntersections(set *model.RoadFeatureSet) {
	tol := e.cfg.ConnectivityToleranceMeters
	for i := range set.Intersections {
		in := &set.Intersections[i]
		for _, seg := range set.Segments {
			if segmentNear(seg, in.Coordinate, tol) {
				in.SegmentIDs = append(in.SegmentIDs, seg.ID)
			}
		}
	}
	for i := range set.Signals {
		sig := &set.Signals[i]
		for _, seg := range set.Segments {
			if segmentNear(seg, sig.Coordinate, tol) {
				sig.SegmentID = seg.ID
				break
			}
		}
	}
}

// checkConnectivity records intersections and signals that sit away from
// every segment. These are quality findings, not failures.
func (e *Extractor) checkConnectivity(set *model.RoadFeatureSet) {
	for _, in := range set.Intersections {
		if len(in.SegmentIDs) == 0 {
			set.Quality.ConnectivityIssues = append(set.Quality.ConnectivityIssues,
				fmt.Sprintf("intersection %s is not near any segment", in.ID))
		}
	}
	for _, sig := range set.Signals {
		if sig.SegmentID == "" {
			set.Quality.ConnectivityIssues = append(set.Quality.ConnectivityIssues,
				fmt.Sprintf("signal %s is not near any segment", sig.ID))
		}
	}
}

func (e *Extractor) extent(set *model.RoadFeatureSet) (*model.Coordinate, *model.BBox) {
	var coords []model.Coordinate
	for _, seg := range set.Segments {
		coords = append(coords, seg.Geometry...)
	}
	for _, in := range set.Intersections {
		coords = append(coords, in.Coordinate)
	}
	for _, sig := range set.Signals {
		coords = append(coords, sig.Coordinate)
	}
	if len(coords) == 0 {
		return nil, nil
	}

	bbox := &model.BBox{
		MinLat: coords[0].Lat, MaxLat: coords[0].Lat,
		MinLng: coords[0].Lng, MaxLng: coords[0].Lng,
	}
	var sumLat, sumLng float64
	for _, c := range coords {
		sumLat += c.Lat
		sumLng += c.Lng
		bbox.MinLat = math.Min(bbox.MinLat, c.Lat)
		bbox.MaxLat = math.Max(bbox.MaxLat, c.Lat)
		bbox.MinLng = math.Min(bbox.MinLng, c.Lng)
		bbox.MaxLng = math.Max(bbox.MaxLng, c.Lng)
	}
	centroid := &model.Coordinate{
		Lat: sumLat / float64(len(coords)),
		Lng: sumLng / float64(len(coords)),
	}
	return centroid, bbox
}

// classifyComplexity grades structural complexity from feature counts and the
// density of intersections relative to segments.
func classifyComplexity(set *model.RoadFeatureSet) model.Complexity {
	total := set.FeatureCount()
	switch {
	case total > 50 || len(set.Intersections) > 10:
		return model.ComplexityHigh
	case total > 15 || len(set.Intersections) > 3:
		return model.ComplexityMedium
	default:
		return model.ComplexityLow
	}
}

func summarize(set *model.RoadFeatureSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d segments, %d intersections, %d signals",
		len(set.Segments), len(set.Intersections), len(set.Signals))
	if n := len(set.Unclassified); n > 0 {
		fmt.Fprintf(&b, ", %d unclassified", n)
	}
	if n := len(set.Quality.ConnectivityIssues); n > 0 {
		fmt.Fprintf(&b, "; %d connectivity issues", n)
	}
	return b.String()
}

// segmentNear reports whether any vertex of the segment lies within tol
// meters of the coordinate.
func segmentNear(seg model.Segment, c model.Coordinate, tol float64) bool {
	for _, v := range seg.Geometry {
		if Haversine(v, c) <= tol {
			return true
		}
	}
	return false
}

// Haversine returns the great-circle distance between two coordinates in
// meters.
func Haversine(a, b model.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func featureID(f *geojson.Feature, idx int) string {
	if f.ID != "" {
		return f.ID
	}
	if id, ok := f.Properties["id"].(string); ok && id != "" {
		return id
	}
	return fmt.Sprintf("feature-%d", idx)
}

func propEquals(props map[string]interface{}, key, want string) bool {
	v, ok := props[key].(string)
	return ok && strings.EqualFold(v, want)
}

func hasProp(props map[string]interface{}, key string) bool {
	_, ok := props[key]
	return ok
}

func propTruthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "yes" || t == "true" || t == "1"
	case float64:
		return t != 0
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
