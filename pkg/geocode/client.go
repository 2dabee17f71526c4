// Package geocode provides reverse geocoding against a Nominatim-compatible API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://nominatim.openstreetmap.org"

// Client resolves a coordinate to a place description.
type Client interface {
	Reverse(ctx context.Context, lat, lng float64) (*Place, error)
}

// Place is the reverse-geocoding result for a coordinate.
type Place struct {
	City        string `json:"city"`
	County      string `json:"county"`
	State       string `json:"state"`
	Country     string `json:"country"`
	DisplayName string `json:"display_name"`
}

// Label returns the most specific non-empty region label.
func (p *Place) Label() string {
	for _, s := range []string{p.City, p.County, p.State, p.Country} {
		if s != "" {
			return s
		}
	}
	return p.DisplayName
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithUserAgent sets the User-Agent header (Nominatim requires one).
func WithUserAgent(ua string) Option {
	return func(c *httpClient) { c.userAgent = ua }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit sets the requests-per-second limit. Public Nominatim allows
// one request per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a reverse-geocoding client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   defaultBaseURL,
		userAgent: "roadmerge/1.0",
		http:      &http.Client{Timeout: 15 * time.Second},
		limiter:   rate.NewLimiter(1, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		County  string `json:"county"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
}

func (c *httpClient) Reverse(ctx context.Context, lat, lng float64) (*Place, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit wait")
	}

	u := fmt.Sprintf("%s/reverse?format=jsonv2&lat=%f&lon=%f&zoom=10", c.baseURL, lat, lng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: create request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var rr reverseResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, eris.Wrap(err, "geocode: unmarshal response")
	}

	city := rr.Address.City
	if city == "" {
		city = rr.Address.Town
	}
	if city == "" {
		city = rr.Address.Village
	}

	return &Place{
		City:        city,
		County:      rr.Address.County,
		State:       rr.Address.State,
		Country:     rr.Address.Country,
		DisplayName: rr.DisplayName,
	}, nil
}
