package discovery

import (
	"strings"

	"github.com/toolgate/toolgate/internal/config"
)

// intentPattern maps a natural-language request shape to candidate tool
// operations. A pattern matches when at least matchThreshold of its keywords
// appear in the query; each matching pattern adds 0.15 * confidence to every
// tool whose name matches a target.
type intentPattern struct {
	keywords   []string
	targets    []string // substrings matched against the tool name
	confidence float64
}

const (
	intentWeight   = 0.15
	matchThreshold = 0.6
)

var intentPatterns = []intentPattern{
	{keywords: []string{"read", "file", "contents"}, targets: []string{"read_file", "read", "cat", "get_file"}, confidence: 0.9},
	{keywords: []string{"write", "save", "file"}, targets: []string{"write_file", "write", "save", "create_file"}, confidence: 0.9},
	{keywords: []string{"list", "files", "directory"}, targets: []string{"list_directory", "list_files", "ls", "list"}, confidence: 0.85},
	{keywords: []string{"delete", "remove", "file"}, targets: []string{"delete_file", "delete", "remove", "rm"}, confidence: 0.85},
	{keywords: []string{"search", "find", "documents"}, targets: []string{"search", "query", "find"}, confidence: 0.8},
	{keywords: []string{"run", "execute", "command"}, targets: []string{"run_command", "execute", "shell", "exec"}, confidence: 0.9},
	{keywords: []string{"query", "database", "rows"}, targets: []string{"query", "execute_sql", "sql"}, confidence: 0.85},
	{keywords: []string{"send", "message", "channel"}, targets: []string{"send_message", "post_message", "send"}, confidence: 0.8},
	{keywords: []string{"create", "issue", "ticket"}, targets: []string{"create_issue", "create_ticket"}, confidence: 0.85},
	{keywords: []string{"fetch", "url", "page"}, targets: []string{"fetch", "get", "request", "browse"}, confidence: 0.8},
}

// intentEnhancement computes the summed intent-resolution enhancement for one
// tool against a query.
func intentEnhancement(query string, tool *config.ToolMetadata) float64 {
	queryTokens := make(map[string]bool)
	for _, tok := range Tokenize(query) {
		queryTokens[tok] = true
	}
	toolName := strings.ToLower(tool.Name)

	var total float64
	for _, pat := range intentPatterns {
		matched := 0
		for _, kw := range pat.keywords {
			if queryTokens[kw] {
				matched++
			}
		}
		if float64(matched)/float64(len(pat.keywords)) < matchThreshold {
			continue
		}
		for _, target := range pat.targets {
			if strings.Contains(toolName, target) {
				total += intentWeight * pat.confidence
				break
			}
		}
	}
	return total
}
