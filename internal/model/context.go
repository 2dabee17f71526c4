package model

import "time"

// Relevance grades how relevant a report is to road data accuracy.
type Relevance string

const (
	RelevanceHigh   Relevance = "high"
	RelevanceMedium Relevance = "medium"
	RelevanceLow    Relevance = "low"
)

// Impact grades a report's likely effect on data validity.
type Impact string

const (
	ImpactPositive Impact = "positive"
	ImpactNegative Impact = "negative"
	ImpactNeutral  Impact = "neutral"
)

// ContextFinding is one assessed external report.
type ContextFinding struct {
	SourceRef string    `json:"source_ref"`
	Relevance Relevance `json:"relevance"`
	Impact    Impact    `json:"impact"`
	Summary   string    `json:"summary"`
}

// TimeWindow bounds the report search.
type TimeWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ContextFindingSet is the Context Analyzer output for one submission.
// ImpactScore is in [0,1]; 0.5 is neutral (no relevant reports).
type ContextFindingSet struct {
	Region          string           `json:"region"`
	Window          TimeWindow       `json:"window"`
	Findings        []ContextFinding `json:"findings,omitempty"`
	ImpactScore     float64          `json:"impact_score"`
	ReportsScanned  int              `json:"reports_scanned"`
	ReportsAssessed int              `json:"reports_assessed"`
}
