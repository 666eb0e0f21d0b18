package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/toolgate/toolgate/internal/config"
)

func metaTool(server, name, desc string) *config.ToolMetadata {
	return &config.ToolMetadata{
		ServerName:  server,
		Name:        name,
		Description: desc,
		Hash:        server + "/" + name + "/" + desc,
		Updated:     time.Now().UTC(),
	}
}

func TestInferDomain(t *testing.T) {
	assert.Equal(t, "file system operations", InferDomain("filesystem"))
	assert.Equal(t, "shell command execution", InferDomain("shell"))
	assert.Equal(t, "database operations", InferDomain("my-postgres-prod"), "substring match")
	assert.Equal(t, "general utility", InferDomain("widget-frobnicator"))
}

func TestComposedTextPlainTool(t *testing.T) {
	composed, appendix := ComposedText(metaTool("alpha", "thing", "does a thing"))
	assert.Equal(t, "alpha:thing general utility context: does a thing", composed)
	assert.Empty(t, appendix)
}

func TestComposedTextShellAppendix(t *testing.T) {
	composed, appendix := ComposedText(metaTool("shell", "run_command", "Execute a shell command"))
	assert.Contains(t, appendix, "git version control")
	assert.Contains(t, composed, appendix)
}

func TestComposedTextDatabaseAppendix(t *testing.T) {
	_, appendix := ComposedText(metaTool("postgres", "query", "Run a query"))
	assert.Contains(t, appendix, "sql")
}

func TestCapabilityEnhancement(t *testing.T) {
	shell := metaTool("shell", "run_command", "Execute a shell command")
	docs := metaTool("docs", "search", "Search documentation")

	// git rule: 0.1 * 0.9 * 0.85.
	assert.InDelta(t, 0.0765, capabilityEnhancement("git commit", shell), 1e-9)
	assert.InDelta(t, 0.0765, capabilityEnhancement("commit my changes", shell), 1e-9)
	assert.Zero(t, capabilityEnhancement("git commit", docs))
	assert.Zero(t, capabilityEnhancement("search the docs", shell))
}

func TestCapabilityEnhancementStacks(t *testing.T) {
	shell := metaTool("shell", "run_command", "Execute a shell command")
	// git + docker rules both fire.
	got := capabilityEnhancement("git and docker", shell)
	assert.InDelta(t, 0.0765+0.068, got, 1e-9)
}

func TestIntentEnhancement(t *testing.T) {
	readFile := metaTool("filesystem", "read_file", "Read the contents of a file")
	writeFile := metaTool("filesystem", "write_file", "Write content to a file")

	// "read file" hits 2 of 3 keywords of the read pattern.
	assert.InDelta(t, 0.135, intentEnhancement("read file", readFile), 1e-9)
	assert.Zero(t, intentEnhancement("read file", writeFile), "write pattern needs 60% of its keywords")
	assert.Zero(t, intentEnhancement("hello there", readFile))
}

func TestDomainMatchesQuery(t *testing.T) {
	gitTool := metaTool("git", "status", "Show working tree status")
	miscTool := metaTool("misc", "thing", "does a thing")

	assert.True(t, domainMatchesQuery("version control helpers", gitTool))
	assert.False(t, domainMatchesQuery("commit changes", gitTool))
	assert.False(t, domainMatchesQuery("general utility things", miscTool), "stopwords never match")
}
