// Package registry holds the vocabulary the pipeline matches against: road
// classifications recognized during extraction and the keyword sets used to
// prefilter news reports. Deployments can override the compiled-in defaults
// with a YAML file.
package registry

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Registry is the matching vocabulary for a deployment.
type Registry struct {
	// RoadClasses are the recognized highway classifications, ordered from
	// most to least significant.
	RoadClasses []string `yaml:"road_classes"`
	// NewsKeywords are the terms a news report must mention, beyond the
	// region name, to be worth assessing.
	NewsKeywords []string `yaml:"news_keywords"`
	// QueryTerms are appended to the region name when searching news.
	QueryTerms []string `yaml:"query_terms"`
}

// Default returns the compiled-in vocabulary.
func Default() *Registry {
	return &Registry{
		RoadClasses: []string{
			"motorway", "trunk", "primary", "secondary", "tertiary",
			"residential", "service", "unclassified",
		},
		NewsKeywords: []string{
			"road", "highway", "flyover", "bridge", "construction",
			"demolition", "closure", "traffic", "infrastructure",
			"expressway", "metro", "widening",
		},
		QueryTerms: []string{"road", "construction", "infrastructure"},
	}
}

// Load reads a registry from a YAML file, falling back to defaults for any
// section the file leaves empty. An empty path returns the defaults.
func Load(path string) (*Registry, error) {
	reg := Default()
	if path == "" {
		return reg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}

	var overlay Registry
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, eris.Wrapf(err, "registry: parse %s", path)
	}

	if len(overlay.RoadClasses) > 0 {
		reg.RoadClasses = overlay.RoadClasses
	}
	if len(overlay.NewsKeywords) > 0 {
		reg.NewsKeywords = overlay.NewsKeywords
	}
	if len(overlay.QueryTerms) > 0 {
		reg.QueryTerms = overlay.QueryTerms
	}
	return reg, nil
}

// KnownClass reports whether class is a recognized road classification.
func (r *Registry) KnownClass(class string) bool {
	class = strings.ToLower(strings.TrimSpace(class))
	for _, c := range r.RoadClasses {
		if c == class {
			return true
		}
	}
	return false
}

// MentionsKeyword reports whether text contains any news keyword.
func (r *Registry) MentionsKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range r.NewsKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// NewsQuery builds the news search query for a region.
func (r *Registry) NewsQuery(region string) string {
	title := cases.Title(language.English)
	parts := append([]string{title.String(region)}, r.QueryTerms...)
	return strings.Join(parts, " ")
}
