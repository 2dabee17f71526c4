// Package overpass queries the OpenStreetMap Overpass API for road geometry.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://overpass-api.de/api/interpreter"

// Client fetches road ways from Overpass.
type Client interface {
	RoadsInBBox(ctx context.Context, minLat, minLng, maxLat, maxLng float64) ([]Way, error)
}

// Way is a single OSM way with its resolved node geometry.
type Way struct {
	ID       int64             `json:"id"`
	Tags     map[string]string `json:"tags"`
	Geometry []Point           `json:"geometry"`
}

// Point is a node position on a way.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lon"`
}

// Name returns the way's name tag, if any.
func (w Way) Name() string { return w.Tags["name"] }

// Highway returns the way's highway classification tag.
func (w Way) Highway() string { return w.Tags["highway"] }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the Overpass interpreter endpoint.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithQueryTimeout sets the server-side Overpass query timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *httpClient) { c.queryTimeout = d }
}

type httpClient struct {
	baseURL      string
	http         *http.Client
	queryTimeout time.Duration
}

// NewClient creates an Overpass client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:      defaultBaseURL,
		http:         &http.Client{Timeout: 60 * time.Second},
		queryTimeout: 25 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type overpassResponse struct {
	Elements []struct {
		Type     string            `json:"type"`
		ID       int64             `json:"id"`
		Tags     map[string]string `json:"tags"`
		Geometry []Point           `json:"geometry"`
	} `json:"elements"`
}

func (c *httpClient) RoadsInBBox(ctx context.Context, minLat, minLng, maxLat, maxLng float64) ([]Way, error) {
	// Overpass QL: every way carrying a highway tag inside the bbox, with
	// node geometry inlined via "out geom".
	query := fmt.Sprintf(
		"[out:json][timeout:%d];way[highway](%f,%f,%f,%f);out geom;",
		int(c.queryTimeout.Seconds()), minLat, minLng, maxLat, maxLng,
	)

	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("overpass: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var or overpassResponse
	if err := json.Unmarshal(body, &or); err != nil {
		return nil, eris.Wrap(err, "overpass: unmarshal response")
	}

	ways := make([]Way, 0, len(or.Elements))
	for _, el := range or.Elements {
		if el.Type != "way" || len(el.Geometry) == 0 {
			continue
		}
		ways = append(ways, Way{ID: el.ID, Tags: el.Tags, Geometry: el.Geometry})
	}
	return ways, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
