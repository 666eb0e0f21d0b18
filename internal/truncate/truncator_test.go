package truncate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateDisabled(t *testing.T) {
	tr := NewTruncator(0)
	long := strings.Repeat("x", 100000)

	result := tr.Truncate(long)
	assert.False(t, result.Truncated)
	assert.Equal(t, long, result.Content)
}

func TestTruncateWithinLimit(t *testing.T) {
	tr := NewTruncator(1000)
	result := tr.Truncate("short response")
	assert.False(t, result.Truncated)
	assert.Equal(t, "short response", result.Content)
	assert.Equal(t, len("short response"), result.TotalSize)
}

func TestTruncateOverLimit(t *testing.T) {
	tr := NewTruncator(500)
	long := strings.Repeat("abcdefghij", 200)

	result := tr.Truncate(long)
	assert.True(t, result.Truncated)
	assert.LessOrEqual(t, len(result.Content), 500+100, "result stays near the limit")
	assert.Contains(t, result.Content, "truncated")
	assert.Equal(t, 2000, result.TotalSize)
}

func TestTruncatePrefersJSONBoundary(t *testing.T) {
	tr := NewTruncator(200)
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString(`{"id": 1, "name": "record"}` + "\n")
	}

	result := tr.Truncate(b.String())
	assert.True(t, result.Truncated)

	body := result.Content[:strings.Index(result.Content, "\n\n... [response truncated")]
	assert.True(t, strings.HasSuffix(body, "}"), "cut should land after a closing brace, got %q", body)
}

func TestShouldTruncate(t *testing.T) {
	tr := NewTruncator(10)
	assert.False(t, tr.ShouldTruncate("short"))
	assert.True(t, tr.ShouldTruncate("definitely longer than ten"))
	assert.False(t, NewTruncator(0).ShouldTruncate(strings.Repeat("x", 1000)))
}
