package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	// The OSM source posts to this URL verbatim, so the default must be the
	// full interpreter endpoint, not the API root.
	assert.Equal(t, "https://overpass-api.de/api/interpreter", cfg.Overpass.BaseURL)
	assert.True(t, cfg.Overpass.Enabled)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.Geocode.BaseURL)
	assert.Equal(t, "https://newsapi.org/v2", cfg.Newswire.BaseURL)

	assert.InDelta(t, 0.40, cfg.Decision.TrustWeight, 1e-9)
	assert.InDelta(t, 0.35, cfg.Decision.ValidationWeight, 1e-9)
	assert.InDelta(t, 0.25, cfg.Decision.NewsWeight, 1e-9)
	assert.InDelta(t, 80, cfg.Decision.ApproveThreshold, 1e-9)
	assert.InDelta(t, 60, cfg.Decision.ReviewThreshold, 1e-9)
	assert.False(t, cfg.Decision.AutoMergeEnabled)

	assert.InDelta(t, 50, cfg.Trust.DefaultScore, 1e-9)
	assert.InDelta(t, 2, cfg.Trust.ApproveMagnitude, 1e-9)
	assert.InDelta(t, 3, cfg.Trust.RejectMagnitude, 1e-9)
	assert.InDelta(t, 1, cfg.Trust.WrongRejectMagnitude, 1e-9)
	assert.InDelta(t, 0.5, cfg.Trust.FieldMagnitude, 1e-9)

	assert.Equal(t, 25*time.Second, cfg.Overpass.Timeout())
	assert.Equal(t, 20*time.Second, cfg.Validate.SourceTimeout())
	assert.Equal(t, 30*24*time.Hour, cfg.Context.Window())
}

func TestDecisionConfigValidate(t *testing.T) {
	valid := DecisionConfig{
		TrustWeight:      0.40,
		ValidationWeight: 0.35,
		NewsWeight:       0.25,
		ApproveThreshold: 80,
		ReviewThreshold:  60,
	}
	require.NoError(t, valid.Validate())

	badWeights := valid
	badWeights.NewsWeight = 0.30
	require.Error(t, badWeights.Validate())

	badThresholds := valid
	badThresholds.ReviewThreshold = 85
	require.Error(t, badThresholds.Validate())
}
