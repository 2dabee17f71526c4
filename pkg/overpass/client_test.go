package overpass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoadsInBBox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		query := r.PostFormValue("data")
		assert.Contains(t, query, "way[highway]")
		assert.Contains(t, query, "out geom")
		w.Write([]byte(`{
			"elements": [
				{
					"type": "way", "id": 101,
					"tags": {"highway": "residential", "name": "MG Road"},
					"geometry": [{"lat": 19.07, "lon": 72.87}, {"lat": 19.08, "lon": 72.88}]
				},
				{"type": "node", "id": 7},
				{"type": "way", "id": 102, "tags": {"highway": "service"}, "geometry": []}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	ways, err := c.RoadsInBBox(context.Background(), 19.0, 72.8, 19.1, 72.9)
	require.NoError(t, err)
	require.Len(t, ways, 1)
	assert.Equal(t, int64(101), ways[0].ID)
	assert.Equal(t, "MG Road", ways[0].Name())
	assert.Equal(t, "residential", ways[0].Highway())
	assert.Len(t, ways[0].Geometry, 2)
}

func TestRoadsInBBoxPostsToConfiguredURL(t *testing.T) {
	// The client must hit the configured endpoint verbatim; nothing appends
	// path segments, so callers have to hand over the full interpreter URL.
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"elements": []}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL + "/api/interpreter"))
	_, err := c.RoadsInBBox(context.Background(), 0, 0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "/api/interpreter", gotPath)
}

func TestDefaultEndpointIsInterpreter(t *testing.T) {
	assert.Equal(t, "https://overpass-api.de/api/interpreter", defaultBaseURL)
}

func TestRoadsInBBoxServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.RoadsInBBox(context.Background(), 0, 0, 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}
