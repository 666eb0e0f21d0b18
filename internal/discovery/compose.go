package discovery

import (
	"fmt"
	"strings"

	"github.com/toolgate/toolgate/internal/config"
)

// serverDomains maps well-known server names to a short domain phrase used
// both in the composed embedding text and for tie-breaking. Unknown servers
// map to "general utility".
var serverDomains = map[string]string{
	"filesystem": "file system operations",
	"files":      "file system operations",
	"fs":         "file system operations",
	"shell":      "shell command execution",
	"terminal":   "shell command execution",
	"bash":       "shell command execution",
	"exec":       "shell command execution",
	"git":        "version control",
	"github":     "version control",
	"gitlab":     "version control",
	"database":   "database operations",
	"db":         "database operations",
	"postgres":   "database operations",
	"sqlite":     "database operations",
	"mysql":      "database operations",
	"docs":       "documentation search",
	"search":     "web search",
	"web":        "web search",
	"browser":    "web browsing",
	"fetch":      "http requests",
	"http":       "http requests",
	"slack":      "team messaging",
	"email":      "email messaging",
	"calendar":   "calendar scheduling",
	"memory":     "knowledge storage",
	"time":       "time and dates",
}

const defaultDomain = "general utility"

// InferDomain derives the domain phrase for a server name. Matching is by
// exact name first, then by substring so "my-postgres-prod" still resolves.
func InferDomain(serverName string) string {
	lower := strings.ToLower(serverName)
	if domain, ok := serverDomains[lower]; ok {
		return domain
	}
	for key, domain := range serverDomains {
		if strings.Contains(lower, key) {
			return domain
		}
	}
	return defaultDomain
}

// capabilityAppendix returns the additive capability sentence for tool kinds
// whose descriptions undersell what they can do. A shell-run tool can invoke
// any installed CLI, so the appendix enumerates the common ones a query is
// likely to name.
func capabilityAppendix(tool *config.ToolMetadata) string {
	name := strings.ToLower(tool.Name)
	switch {
	case isShellRunTool(name):
		return "capabilities: git version control, docker containers, ffmpeg media processing, " +
			"npm node packages, make build tools, curl http requests, package managers"
	case strings.Contains(name, "query") && strings.Contains(InferDomain(tool.ServerName), "database"):
		return "capabilities: sql select insert update delete, schema inspection"
	default:
		return ""
	}
}

func isShellRunTool(toolName string) bool {
	for _, pat := range []string{"run_command", "execute_command", "shell", "exec", "bash", "run_script"} {
		if strings.Contains(toolName, pat) {
			return true
		}
	}
	return false
}

// ComposedText builds the text that gets embedded for one tool:
// "<server>:<tool> <inferredDomain> context: <description> <appendix>".
// The appendix is recorded alongside the embedding so re-indexing is
// deterministic.
func ComposedText(tool *config.ToolMetadata) (composed, appendix string) {
	appendix = capabilityAppendix(tool)
	composed = fmt.Sprintf("%s %s context: %s", tool.ID(), InferDomain(tool.ServerName), tool.Description)
	if appendix != "" {
		composed += " " + appendix
	}
	return composed, appendix
}
