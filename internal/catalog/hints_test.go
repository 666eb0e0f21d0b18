package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/upstream"
)

func TestScanStderrMissingEnv(t *testing.T) {
	hints := ScanStderr([]string{
		"starting server...",
		"Error: environment variable GITHUB_TOKEN is required",
	})
	require.Len(t, hints, 1)
	assert.Equal(t, "missing_env", hints[0].Kind)
	assert.Equal(t, "GITHUB_TOKEN", hints[0].Detail)
}

func TestScanStderrMissingCredential(t *testing.T) {
	hints := ScanStderr([]string{"fatal: missing API key, please set OPENAI_API_KEY"})
	require.NotEmpty(t, hints)
	assert.Equal(t, "missing_credential", hints[0].Kind)
	assert.Equal(t, "api key", hints[0].Detail)
}

func TestScanStderrPackageNotFound(t *testing.T) {
	hints := ScanStderr([]string{`sh: command "uvx" not found`})
	require.Len(t, hints, 1)
	assert.Equal(t, "missing_package", hints[0].Kind)
	assert.Equal(t, "uvx", hints[0].Detail)
}

func TestScanStderrUnauthorized(t *testing.T) {
	hints := ScanStderr([]string{"request failed with status 401"})
	require.Len(t, hints, 1)
	assert.Equal(t, "missing_credential", hints[0].Kind)
}

func TestScanStderrDeduplicates(t *testing.T) {
	hints := ScanStderr([]string{
		"environment variable API_URL is required",
		"environment variable API_URL is required",
		"",
	})
	assert.Len(t, hints, 1)
}

func TestScanStderrCleanOutput(t *testing.T) {
	hints := ScanStderr([]string{"listening on stdio", "ready"})
	assert.Empty(t, hints)
}

func TestSchemaHints(t *testing.T) {
	schema := map[string]interface{}{
		"required": []interface{}{"GITHUB_TOKEN", "GITHUB_ORG"},
	}

	hints := SchemaHints(schema, map[string]string{"GITHUB_ORG": "toolgate"})
	require.Len(t, hints, 1)
	assert.Equal(t, "missing_env", hints[0].Kind)
	assert.Equal(t, "GITHUB_TOKEN", hints[0].Detail)

	assert.Empty(t, SchemaHints(schema, map[string]string{
		"GITHUB_TOKEN": "t", "GITHUB_ORG": "o",
	}), "a fully satisfied schema yields no hints")
	assert.Empty(t, SchemaHints(map[string]interface{}{}, nil))
}

// A schema advertised during the handshake takes precedence over stderr
// heuristics; stderr remains the fallback when nothing is declared.
func TestHintsForPrefersDeclaredSchema(t *testing.T) {
	profile := testProfile()
	sup := &fakeSupervisor{
		profile: profile,
		info: map[string]upstream.ServerInfo{
			"alpha": {
				Name: "alpha",
				ConfigSchema: map[string]interface{}{
					"required": []interface{}{"ALPHA_API_KEY"},
				},
			},
		},
		stderr: map[string][]string{
			"alpha": {"fatal: missing API key"},
			"beta":  {"environment variable BETA_URL is required"},
		},
	}
	cat := newTestCatalog(t, profile, sup)

	hints := cat.HintsFor("alpha")
	require.Len(t, hints, 1)
	assert.Equal(t, "missing_env", hints[0].Kind)
	assert.Equal(t, "ALPHA_API_KEY", hints[0].Detail)

	hints = cat.HintsFor("beta")
	require.Len(t, hints, 1)
	assert.Equal(t, "BETA_URL", hints[0].Detail)
}
