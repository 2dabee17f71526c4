package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(`{
			"display_name": "Mumbai, Maharashtra, India",
			"address": {"city": "Mumbai", "state": "Maharashtra", "country": "India"}
		}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(100))
	place, err := c.Reverse(context.Background(), 19.076, 72.8777)
	require.NoError(t, err)
	assert.Equal(t, "Mumbai", place.City)
	assert.Equal(t, "Maharashtra", place.State)
	assert.Equal(t, "Mumbai", place.Label())
}

func TestReverseTownFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address": {"town": "Alibag", "state": "Maharashtra"}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(100))
	place, err := c.Reverse(context.Background(), 18.64, 72.87)
	require.NoError(t, err)
	assert.Equal(t, "Alibag", place.City)
}

func TestReverseServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(100))
	_, err := c.Reverse(context.Background(), 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
}

func TestPlaceLabelFallback(t *testing.T) {
	p := &Place{Country: "India", DisplayName: "India"}
	assert.Equal(t, "India", p.Label())

	empty := &Place{DisplayName: "somewhere"}
	assert.Equal(t, "somewhere", empty.Label())
}
