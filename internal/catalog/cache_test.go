package catalog

import (
	"encoding/csv"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/config"
)

func testProfile() *config.Profile {
	return &config.Profile{
		Name: "default",
		Servers: map[string]*config.ServerConfig{
			"alpha": {Name: "alpha", Command: "cmdA", Enabled: true},
			"beta":  {Name: "beta", Command: "cmdB", Enabled: true},
		},
	}
}

func docFor(profile *config.Profile, savedAt time.Time) *CacheDocument {
	return &CacheDocument{
		Metadata: CacheMetadata{
			ProfileName:  profile.Name,
			ProfileHash:  profile.ContentHash(),
			ServerHashes: profile.ServerHashes(),
			SavedAt:      savedAt,
			ToolCount:    2,
		},
		Tools: []*config.ToolMetadata{
			{ServerName: "alpha", Name: "tool_a", Description: "a"},
			{ServerName: "beta", Name: "tool_b", Description: "b"},
		},
	}
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	profile := testProfile()
	doc := docFor(profile, time.Now().UTC())

	require.NoError(t, saveCache(dir, doc))

	loaded, err := loadCache(dir)
	require.NoError(t, err)
	assert.Equal(t, doc.Metadata.ProfileHash, loaded.Metadata.ProfileHash)
	assert.Len(t, loaded.Tools, 2)
}

func TestCacheCSVIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, saveCache(dir, docFor(testProfile(), time.Now().UTC())))

	f, err := os.Open(cacheCSVPath(dir))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus one row per tool")
	assert.Equal(t, []string{"tool_id", "server", "tool", "description"}, rows[0])
	assert.Equal(t, "alpha:tool_a", rows[1][0])
}

func TestLoadCacheMissing(t *testing.T) {
	doc, err := loadCache(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, doc.Tools)
	assert.Empty(t, doc.Metadata.ProfileHash)
}

func TestLoadCacheMissingCSVTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, saveCache(dir, docFor(testProfile(), time.Now().UTC())))
	require.NoError(t, os.Remove(cacheCSVPath(dir)))

	doc, err := loadCache(dir)
	require.NoError(t, err)
	assert.Empty(t, doc.Tools, "a half-present pair counts as no cache")
}

func TestStaleServersFreshCache(t *testing.T) {
	profile := testProfile()
	doc := docFor(profile, time.Now().UTC())

	stale, wholeInvalid := staleServers(doc, profile, 7*24*time.Hour, time.Now().UTC())
	assert.False(t, wholeInvalid)
	assert.Empty(t, stale)
}

func TestStaleServersCommandChange(t *testing.T) {
	profile := testProfile()
	doc := docFor(profile, time.Now().UTC())

	// alpha's command changes from cmdA to cmdC; beta is untouched.
	profile.Servers["alpha"].Command = "cmdC"

	stale, wholeInvalid := staleServers(doc, profile, 7*24*time.Hour, time.Now().UTC())
	assert.False(t, wholeInvalid)
	assert.True(t, stale["alpha"], "changed server must be invalidated")
	assert.False(t, stale["beta"], "unaffected server must be retained")
}

func TestStaleServersRemovedServer(t *testing.T) {
	profile := testProfile()
	doc := docFor(profile, time.Now().UTC())

	delete(profile.Servers, "beta")

	stale, wholeInvalid := staleServers(doc, profile, 7*24*time.Hour, time.Now().UTC())
	assert.False(t, wholeInvalid)
	assert.True(t, stale["beta"])
	assert.False(t, stale["alpha"])
}

func TestStaleServersMaxAge(t *testing.T) {
	profile := testProfile()
	doc := docFor(profile, time.Now().UTC().Add(-8*24*time.Hour))

	_, wholeInvalid := staleServers(doc, profile, 7*24*time.Hour, time.Now().UTC())
	assert.True(t, wholeInvalid, "a cache past max age is unconditionally invalid")
}

func TestStaleServersEmptyMetadata(t *testing.T) {
	profile := testProfile()
	_, wholeInvalid := staleServers(&CacheDocument{}, profile, 7*24*time.Hour, time.Now().UTC())
	assert.True(t, wholeInvalid)
}

func TestStaleServersProfileRename(t *testing.T) {
	profile := testProfile()
	doc := docFor(profile, time.Now().UTC())
	profile.Name = "other"

	_, wholeInvalid := staleServers(doc, profile, 7*24*time.Hour, time.Now().UTC())
	assert.True(t, wholeInvalid)
}
