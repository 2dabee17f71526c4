package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-geo/roadmerge/internal/config"
	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/internal/registry"
	"github.com/meridian-geo/roadmerge/pkg/geocode"
)

type stubResolver struct {
	place *geocode.Place
	err   error
}

func (s *stubResolver) Reverse(ctx context.Context, lat, lng float64) (*geocode.Place, error) {
	return s.place, s.err
}

func newExtractor(resolver RegionResolver) *Extractor {
	cfg := config.ExtractConfig{ConnectivityToleranceMeters: 50}
	return New(cfg, registry.Default(), resolver)
}

const sampleGeoJSON = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"id": "seg-1",
			"geometry": {"type": "LineString", "coordinates": [[72.8700, 19.0700], [72.8710, 19.0710]]},
			"properties": {"highway": "residential", "name": "Hill Road", "lanes": 2, "oneway": "yes"}
		},
		{
			"type": "Feature",
			"id": "seg-2",
			"geometry": {"type": "LineString", "coordinates": [[72.8710, 19.0710], [72.8720, 19.0700]]},
			"properties": {"highway": "primary", "maxspeed": 60}
		},
		{
			"type": "Feature",
			"id": "int-1",
			"geometry": {"type": "Point", "coordinates": [72.8710, 19.0710]},
			"properties": {"type": "intersection"}
		},
		{
			"type": "Feature",
			"id": "sig-1",
			"geometry": {"type": "Point", "coordinates": [72.8700, 19.0700]},
			"properties": {"highway": "traffic_signals"}
		},
		{
			"type": "Feature",
			"geometry": {"type": "Point", "coordinates": [72.9000, 19.1000]},
			"properties": {"amenity": "fuel"}
		}
	]
}`

func TestExtractClassification(t *testing.T) {
	ex := newExtractor(nil)
	set, err := ex.Extract(context.Background(), []byte(sampleGeoJSON))
	require.NoError(t, err)

	require.Len(t, set.Segments, 2)
	assert.Equal(t, "seg-1", set.Segments[0].ID)
	assert.Equal(t, "residential", set.Segments[0].Class)
	assert.Equal(t, "Hill Road", set.Segments[0].Name)
	require.NotNil(t, set.Segments[0].Lanes)
	assert.Equal(t, 2, *set.Segments[0].Lanes)
	require.NotNil(t, set.Segments[0].OneWay)
	assert.True(t, *set.Segments[0].OneWay)
	require.NotNil(t, set.Segments[1].SpeedLimit)
	assert.Equal(t, 60.0, *set.Segments[1].SpeedLimit)

	require.Len(t, set.Intersections, 1)
	assert.ElementsMatch(t, []string{"seg-1", "seg-2"}, set.Intersections[0].SegmentIDs)

	require.Len(t, set.Signals, 1)
	assert.Equal(t, "seg-1", set.Signals[0].SegmentID)

	// The fuel station point is kept, not dropped.
	require.Len(t, set.Unclassified, 1)
	assert.Equal(t, "Point", set.Unclassified[0].GeometryType)

	assert.Empty(t, set.Quality.ConnectivityIssues)
	assert.Equal(t, model.ComplexityLow, set.Quality.Complexity)
	assert.NotNil(t, set.Centroid)
	assert.NotNil(t, set.BBox)
	assert.Equal(t, "unknown", set.Region)
}

func TestExtractDisconnectedIntersection(t *testing.T) {
	input := `{
		"type": "FeatureCollection",
		"features": [
			{
				"type": "Feature", "id": "seg-1",
				"geometry": {"type": "LineString", "coordinates": [[72.87, 19.07], [72.88, 19.08]]},
				"properties": {"highway": "primary"}
			},
			{
				"type": "Feature", "id": "int-far",
				"geometry": {"type": "Point", "coordinates": [73.50, 19.50]},
				"properties": {"type": "intersection"}
			}
		]
	}`
	ex := newExtractor(nil)
	set, err := ex.Extract(context.Background(), []byte(input))
	require.NoError(t, err)
	require.Len(t, set.Quality.ConnectivityIssues, 1)
	assert.Contains(t, set.Quality.ConnectivityIssues[0], "int-far")
}

func TestExtractJunctionTaggedPoints(t *testing.T) {
	// Any junction tag marks an intersection, whatever its value.
	input := `{
		"type": "FeatureCollection",
		"features": [
			{
				"type": "Feature", "id": "jct-1",
				"geometry": {"type": "Point", "coordinates": [72.87, 19.07]},
				"properties": {"junction": "yes"}
			},
			{
				"type": "Feature", "id": "jct-2",
				"geometry": {"type": "Point", "coordinates": [72.88, 19.08]},
				"properties": {"junction": "roundabout"}
			}
		]
	}`
	ex := newExtractor(nil)
	set, err := ex.Extract(context.Background(), []byte(input))
	require.NoError(t, err)
	require.Len(t, set.Intersections, 2)
	assert.Equal(t, "jct-1", set.Intersections[0].ID)
	assert.Equal(t, "jct-2", set.Intersections[1].ID)
	assert.Empty(t, set.Unclassified)
}

func TestExtractMalformedJSON(t *testing.T) {
	ex := newExtractor(nil)
	_, err := ex.Extract(context.Background(), []byte(`{not json`))
	require.Error(t, err)
	var exErr *model.ExtractionError
	assert.True(t, errors.As(err, &exErr))
}

func TestExtractMissingFeatures(t *testing.T) {
	ex := newExtractor(nil)
	_, err := ex.Extract(context.Background(), []byte(`{"type": "FeatureCollection"}`))
	require.Error(t, err)
	var exErr *model.ExtractionError
	require.True(t, errors.As(err, &exErr))
	assert.Contains(t, exErr.Reason, "features")
}

func TestExtractRegionResolution(t *testing.T) {
	ex := newExtractor(&stubResolver{place: &geocode.Place{City: "Mumbai"}})
	set, err := ex.Extract(context.Background(), []byte(sampleGeoJSON))
	require.NoError(t, err)
	assert.Equal(t, "Mumbai", set.Region)
}

func TestExtractRegionResolverFailure(t *testing.T) {
	ex := newExtractor(&stubResolver{err: errors.New("geocoder down")})
	set, err := ex.Extract(context.Background(), []byte(sampleGeoJSON))
	require.NoError(t, err)
	assert.Equal(t, "unknown", set.Region)
}

func TestExtractUnknownClassNormalized(t *testing.T) {
	input := `{
		"type": "FeatureCollection",
		"features": [
			{
				"type": "Feature",
				"geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]},
				"properties": {"highway": "hyperloop"}
			}
		]
	}`
	ex := newExtractor(nil)
	set, err := ex.Extract(context.Background(), []byte(input))
	require.NoError(t, err)
	require.Len(t, set.Segments, 1)
	assert.Equal(t, "unclassified", set.Segments[0].Class)
}

func TestHaversine(t *testing.T) {
	// Gateway of India to CST is roughly 2.4 km.
	a := model.Coordinate{Lat: 18.9220, Lng: 72.8347}
	b := model.Coordinate{Lat: 18.9398, Lng: 72.8355}
	d := Haversine(a, b)
	assert.InDelta(t, 1980, d, 100)

	assert.Zero(t, Haversine(a, a))
}
