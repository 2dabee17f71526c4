package model

import "fmt"

// Complexity classifies the structural complexity of a submitted road network.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Coordinate is a WGS84 lng/lat pair.
type Coordinate struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// BBox is a geographic bounding box around a feature set.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Segment is a linear road feature with classification and optional attributes.
type Segment struct {
	ID       string       `json:"id"`
	Name     string       `json:"name,omitempty"`
	Class    string       `json:"class"` // primary, residential, service, ... or "unclassified"
	Geometry []Coordinate `json:"geometry"`

	SpeedLimit *float64 `json:"speed_limit,omitempty"`
	Lanes      *int     `json:"lanes,omitempty"`
	OneWay     *bool    `json:"one_way,omitempty"`

	// FromArea marks segments derived from a Polygon feature (area-bounded way).
	FromArea bool `json:"from_area,omitempty"`
}

// Intersection is a point where segments meet or cross.
type Intersection struct {
	ID         string     `json:"id"`
	Coordinate Coordinate `json:"coordinate"`
	SegmentIDs []string   `json:"segment_ids,omitempty"`
}

// Signal is a point-located traffic control device.
type Signal struct {
	ID         string     `json:"id"`
	Coordinate Coordinate `json:"coordinate"`
	SegmentID  string     `json:"segment_id,omitempty"`
}

// UnclassifiedFeature records a feature that could not be mapped to a road
// primitive. These are retained, never dropped.
type UnclassifiedFeature struct {
	Index        int    `json:"index"`
	GeometryType string `json:"geometry_type"`
	Reason       string `json:"reason"`
}

// QualityMetrics summarizes structural findings about an extracted feature set.
type QualityMetrics struct {
	ConnectivityIssues []string   `json:"connectivity_issues,omitempty"`
	Complexity         Complexity `json:"complexity"`
	Summary            string     `json:"summary"`
}

// RoadFeatureSet is the parsed result of one submission. It is produced once
// per analysis run and immutable afterwards.
type RoadFeatureSet struct {
	Segments      []Segment             `json:"segments"`
	Intersections []Intersection        `json:"intersections,omitempty"`
	Signals       []Signal              `json:"signals,omitempty"`
	Unclassified  []UnclassifiedFeature `json:"unclassified,omitempty"`

	Region   string         `json:"region"`
	Centroid *Coordinate    `json:"centroid,omitempty"`
	BBox     *BBox          `json:"bbox,omitempty"`
	Quality  QualityMetrics `json:"quality_metrics"`
}

// FeatureCount returns the total number of classified primitives.
func (fs *RoadFeatureSet) FeatureCount() int {
	return len(fs.Segments) + len(fs.Intersections) + len(fs.Signals)
}

// Describe returns a one-line summary used in decision reasoning and reports.
func (fs *RoadFeatureSet) Describe() string {
	return fmt.Sprintf("%d segments, %d intersections, %d signals in %s (complexity %s)",
		len(fs.Segments), len(fs.Intersections), len(fs.Signals), fs.Region, fs.Quality.Complexity)
}
