package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfigKind(t *testing.T) {
	subprocess := &ServerConfig{Name: "local", Command: "mcp-server", Enabled: true}
	assert.Equal(t, ServerKindSubprocess, subprocess.Kind())

	remote := &ServerConfig{Name: "remote", URL: "https://example.com/mcp", Enabled: true}
	assert.Equal(t, ServerKindRemote, remote.Kind())
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *ServerConfig
		wantErr bool
	}{
		{"subprocess ok", &ServerConfig{Name: "a", Command: "cmd"}, false},
		{"remote ok", &ServerConfig{Name: "b", URL: "https://x"}, false},
		{"neither", &ServerConfig{Name: "c"}, true},
		{"both", &ServerConfig{Name: "d", Command: "cmd", URL: "https://x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProfileContentHash(t *testing.T) {
	profile := &Profile{
		Name: "default",
		Servers: map[string]*ServerConfig{
			"alpha": {Name: "alpha", Command: "cmdA", Enabled: true},
			"beta":  {Name: "beta", URL: "https://beta/mcp", Enabled: true},
		},
	}
	h1 := profile.ContentHash()

	profile.Servers["alpha"].Command = "cmdB"
	h2 := profile.ContentHash()
	assert.NotEqual(t, h1, h2, "command change must change the profile hash")

	hashes := profile.ServerHashes()
	assert.Len(t, hashes, 2)
	assert.NotEmpty(t, hashes["alpha"])
}

func TestProfileValidateFillsNames(t *testing.T) {
	profile := &Profile{
		Name: "p",
		Servers: map[string]*ServerConfig{
			"alpha": {Command: "cmd"},
		},
	}
	require.NoError(t, profile.Validate())
	assert.Equal(t, "alpha", profile.Servers["alpha"].Name)
}

func TestToolMetadataID(t *testing.T) {
	tool := &ToolMetadata{ServerName: "filesystem", Name: "read_file"}
	assert.Equal(t, "filesystem:read_file", tool.ID())
}

func TestDurationJSON(t *testing.T) {
	t.Run("string round trip", func(t *testing.T) {
		d := Duration(8 * time.Second)
		data, err := json.Marshal(d)
		require.NoError(t, err)
		assert.Equal(t, `"8s"`, string(data))

		var back Duration
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, d, back)
	})

	t.Run("accepts nanoseconds", func(t *testing.T) {
		var d Duration
		require.NoError(t, json.Unmarshal([]byte("5000000000"), &d))
		assert.Equal(t, 5*time.Second, d.Duration())
	})

	t.Run("rejects garbage", func(t *testing.T) {
		var d Duration
		assert.Error(t, json.Unmarshal([]byte(`"not a duration"`), &d))
	})
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.TopK)
	assert.InDelta(t, 0.3, cfg.ConfidenceFloor, 1e-9)
	assert.Equal(t, 8*time.Second, cfg.HandshakeTimeout.Duration())
	assert.Equal(t, 3, cfg.UnhealthyAfter)
	assert.Equal(t, 5, cfg.DisableAfter)
	assert.Equal(t, 7*24*time.Hour, cfg.CacheMaxAge.Duration())
	require.NotNil(t, cfg.ModificationPolicy)
	assert.InDelta(t, 0.60, cfg.ModificationPolicy.Threshold, 1e-9)
	assert.Equal(t, 3, cfg.JobFailureThreshold)
	assert.Equal(t, 100, cfg.ExecutionsPerJob)
}
