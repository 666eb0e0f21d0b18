package discovery

import (
	"strings"

	"github.com/toolgate/toolgate/internal/config"
)

// capabilityRule credits tools of a kind with an implicit skill when the
// query names it. The enhancement added per matching rule is
// 0.1 * relevance * confidence.
type capabilityRule struct {
	// triggers are query substrings that activate the rule.
	triggers []string
	// applies reports whether a tool is a target of the rule.
	applies    func(tool *config.ToolMetadata) bool
	relevance  float64
	confidence float64
}

const capabilityWeight = 0.1

var capabilityRules = []capabilityRule{
	{
		triggers: []string{"git", "commit", "branch", "merge", "rebase", "clone", "push", "pull request"},
		applies: func(t *config.ToolMetadata) bool {
			if strings.Contains(InferDomain(t.ServerName), "version control") {
				return true
			}
			return isShellRunTool(strings.ToLower(t.Name))
		},
		relevance:  0.9,
		confidence: 0.85,
	},
	{
		triggers: []string{"docker", "container", "image build"},
		applies: func(t *config.ToolMetadata) bool {
			return isShellRunTool(strings.ToLower(t.Name))
		},
		relevance:  0.85,
		confidence: 0.8,
	},
	{
		triggers: []string{"ffmpeg", "video", "audio convert", "transcode"},
		applies: func(t *config.ToolMetadata) bool {
			return isShellRunTool(strings.ToLower(t.Name))
		},
		relevance:  0.8,
		confidence: 0.75,
	},
	{
		triggers: []string{"npm", "yarn", "node package", "compile", "build project", "make"},
		applies: func(t *config.ToolMetadata) bool {
			return isShellRunTool(strings.ToLower(t.Name))
		},
		relevance:  0.75,
		confidence: 0.7,
	},
	{
		triggers: []string{"sql", "select", "table", "schema", "rows"},
		applies: func(t *config.ToolMetadata) bool {
			return strings.Contains(InferDomain(t.ServerName), "database")
		},
		relevance:  0.9,
		confidence: 0.85,
	},
	{
		triggers: []string{"file", "directory", "folder", "path"},
		applies: func(t *config.ToolMetadata) bool {
			return strings.Contains(InferDomain(t.ServerName), "file system")
		},
		relevance:  0.8,
		confidence: 0.8,
	},
}

// capabilityEnhancement computes the summed capability-inference enhancement
// for one tool against a query. The caller caps the total enhancement.
func capabilityEnhancement(query string, tool *config.ToolMetadata) float64 {
	lower := strings.ToLower(query)
	var total float64
	for _, rule := range capabilityRules {
		if !rule.applies(tool) {
			continue
		}
		for _, trigger := range rule.triggers {
			if strings.Contains(lower, trigger) {
				total += capabilityWeight * rule.relevance * rule.confidence
				break
			}
		}
	}
	return total
}
