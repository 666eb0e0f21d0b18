package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringHash(t *testing.T) {
	h1 := StringHash("hello")
	h2 := StringHash("hello")
	h3 := StringHash("world")

	assert.Equal(t, h1, h2, "same input must produce the same hash")
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestToolHash(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		},
	}

	h1, err := ToolHash("filesystem", "read_file", "Reads a file", schema)
	require.NoError(t, err)
	h2, err := ToolHash("filesystem", "read_file", "Reads a file", schema)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := ToolHash("filesystem", "read_file", "Reads a file, now faster", schema)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3, "description change must change the hash")

	h4, err := ToolHash("other", "read_file", "Reads a file", schema)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4, "server change must change the hash")

	h5, err := ToolHash("filesystem", "read_file", "Reads a file", nil)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h5)
}

func TestServerConfigHash(t *testing.T) {
	base := ServerConfigHash("cmdA", []string{"--flag"}, map[string]string{"KEY": "v"}, "", "")

	t.Run("stable", func(t *testing.T) {
		assert.Equal(t, base, ServerConfigHash("cmdA", []string{"--flag"}, map[string]string{"KEY": "v"}, "", ""))
	})

	t.Run("command change invalidates", func(t *testing.T) {
		assert.NotEqual(t, base, ServerConfigHash("cmdB", []string{"--flag"}, map[string]string{"KEY": "v"}, "", ""))
	})

	t.Run("env order does not matter", func(t *testing.T) {
		a := ServerConfigHash("cmd", nil, map[string]string{"A": "1", "B": "2"}, "", "")
		b := ServerConfigHash("cmd", nil, map[string]string{"B": "2", "A": "1"}, "", "")
		assert.Equal(t, a, b)
	})

	t.Run("args are position sensitive", func(t *testing.T) {
		a := ServerConfigHash("cmd", []string{"x", "y"}, nil, "", "")
		b := ServerConfigHash("cmd", []string{"y", "x"}, nil, "", "")
		assert.NotEqual(t, a, b)
	})

	t.Run("separator prevents collisions", func(t *testing.T) {
		a := ServerConfigHash("cmd", []string{"ab"}, nil, "", "")
		b := ServerConfigHash("cmd", []string{"a", "b"}, nil, "", "")
		assert.NotEqual(t, a, b)
	})

	t.Run("remote fields", func(t *testing.T) {
		a := ServerConfigHash("", nil, nil, "https://example.com/mcp", "bearer")
		b := ServerConfigHash("", nil, nil, "https://example.com/mcp", "basic")
		assert.NotEqual(t, a, b)
	})
}

func TestProfileHash(t *testing.T) {
	a := ProfileHash(map[string]string{"alpha": "h1", "beta": "h2"})
	b := ProfileHash(map[string]string{"beta": "h2", "alpha": "h1"})
	assert.Equal(t, a, b, "profile hash must be order independent")

	c := ProfileHash(map[string]string{"alpha": "h1", "beta": "changed"})
	assert.NotEqual(t, a, c)

	d := ProfileHash(map[string]string{"alpha": "h1"})
	assert.NotEqual(t, a, d, "removing a server must change the profile hash")
}
