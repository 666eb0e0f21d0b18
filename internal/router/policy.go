package router

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/discovery"
)

// Confirmer is the optional confirmation channel back to the upstream
// client. A nil Confirmer means the client implements no confirmation; the
// policy's fail mode then decides.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// modifying verbs checked against tool names and descriptions alongside the
// embedding similarity. A name hit is a stronger signal than a description
// hit.
var modifyingVerbs = []string{
	"write", "delete", "remove", "create", "update", "modify", "edit",
	"move", "rename", "drop", "insert", "upload", "send", "post", "put",
	"publish", "push", "set", "patch", "truncate", "overwrite",
}

// policy decides whether a tool invocation requires confirmation. The
// predicate is embedding similarity between the tool's text and the
// configured phrase, combined with a verb scan, against a tunable threshold.
type policy struct {
	cfg      *config.ModificationPolicy
	embedder discovery.Embedder
	logger   *zap.Logger

	phraseVec []float32
}

func newPolicy(cfg *config.ModificationPolicy, embedder discovery.Embedder, logger *zap.Logger) *policy {
	p := &policy{cfg: cfg, embedder: embedder, logger: logger}
	if embedder != nil && cfg != nil {
		if vec, err := embedder.Embed(cfg.Phrase); err == nil {
			p.phraseVec = vec
		}
	}
	return p
}

// isModifying scores a tool against the modification predicate.
func (p *policy) isModifying(tool *config.ToolMetadata) bool {
	if p.cfg == nil || !p.cfg.Enabled {
		return false
	}
	return p.score(tool) >= p.cfg.Threshold
}

func (p *policy) score(tool *config.ToolMetadata) float64 {
	var score float64

	name := strings.ToLower(strings.ReplaceAll(tool.Name, "_", " "))
	desc := strings.ToLower(tool.Description)
	for _, verb := range modifyingVerbs {
		if containsWord(name, verb) {
			score = maxf(score, 0.9)
		} else if containsWord(desc, verb) {
			score = maxf(score, 0.7)
		}
	}

	if p.embedder != nil && len(p.phraseVec) > 0 {
		if vec, err := p.embedder.Embed(name + " " + desc); err == nil {
			score = maxf(score, discovery.Cosine(vec, p.phraseVec))
		}
	}
	return score
}

// confirm runs the best-effort confirmation round-trip. With no channel the
// fail mode decides: fail-open proceeds, fail-closed denies.
func (p *policy) confirm(ctx context.Context, confirmer Confirmer, tool *config.ToolMetadata) (bool, error) {
	if confirmer == nil {
		if p.cfg.FailClosed {
			p.logger.Warn("No confirmation channel, denying modifying tool call",
				zap.String("tool_id", tool.ID()))
			return false, nil
		}
		return true, nil
	}

	prompt := "Tool " + tool.ID() + " may modify data. Proceed?"
	ok, err := confirmer.Confirm(ctx, prompt)
	if err != nil {
		p.logger.Warn("Confirmation round-trip failed",
			zap.String("tool_id", tool.ID()), zap.Error(err))
		return !p.cfg.FailClosed, nil
	}
	return ok, nil
}

func containsWord(text, word string) bool {
	idx := strings.Index(text, word)
	for idx >= 0 {
		before := idx == 0 || !isWordRune(text[idx-1])
		end := idx + len(word)
		after := end >= len(text) || !isWordRune(text[end])
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isWordRune(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
