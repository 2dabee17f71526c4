package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultVocabulary(t *testing.T) {
	reg := Default()
	assert.True(t, reg.KnownClass("residential"))
	assert.True(t, reg.KnownClass(" Primary "))
	assert.False(t, reg.KnownClass("footpath"))
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"news_keywords:\n  - pothole\n  - diversion\n",
	), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)

	// Overridden section.
	assert.True(t, reg.MentionsKeyword("major pothole repairs announced"))
	assert.False(t, reg.MentionsKeyword("new flyover opens"))
	// Untouched section keeps defaults.
	assert.True(t, reg.KnownClass("motorway"))
}

func TestLoadEmptyPath(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, reg.NewsKeywords)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/registry.yaml")
	require.Error(t, err)
}

func TestNewsQuery(t *testing.T) {
	reg := Default()
	q := reg.NewsQuery("mumbai")
	assert.Contains(t, q, "Mumbai")
	assert.Contains(t, q, "construction")
}

func TestMentionsKeywordCaseInsensitive(t *testing.T) {
	reg := Default()
	assert.True(t, reg.MentionsKeyword("HIGHWAY expansion project cleared"))
	assert.False(t, reg.MentionsKeyword("stock market rallies"))
}
