// Package truncate caps large tool responses before they cross the upstream
// surface. Downstream tools routinely return multi-megabyte payloads that
// would blow the upstream client's context; the truncator cuts at a
// structural boundary where it can and appends a note stating what was cut.
package truncate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Result describes a truncation outcome.
type Result struct {
	Content   string
	Truncated bool
	TotalSize int
}

// Truncator caps response text at a character limit. A limit of 0 disables
// truncation.
type Truncator struct {
	limit int
}

// NewTruncator creates a truncator with the given character limit.
func NewTruncator(limit int) *Truncator {
	return &Truncator{limit: limit}
}

// ShouldTruncate reports whether content exceeds the limit.
func (t *Truncator) ShouldTruncate(content string) bool {
	return t.limit > 0 && len(content) > t.limit
}

// Truncate cuts content to the limit, preferring to break after the last
// complete JSON object or array, or a newline, in the upper half of the
// window.
func (t *Truncator) Truncate(content string) *Result {
	result := &Result{TotalSize: len(content)}
	if !t.ShouldTruncate(content) {
		result.Content = content
		return result
	}

	note := fmt.Sprintf("\n\n... [response truncated: %d of %d characters shown]",
		t.limit, len(content))
	available := t.limit - len(note)
	if available < 0 {
		available = t.limit / 2
	}
	if available > len(content) {
		available = len(content)
	}

	cut := content[:available]
	// Never split a multibyte rune.
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}

	if brace := strings.LastIndex(cut, "}"); brace > available/2 {
		cut = cut[:brace+1]
	} else if bracket := strings.LastIndex(cut, "]"); bracket > available/2 {
		cut = cut[:bracket+1]
	} else if newline := strings.LastIndex(cut, "\n"); newline > available/2 {
		cut = cut[:newline]
	}

	result.Content = cut + note
	result.Truncated = true
	return result
}
