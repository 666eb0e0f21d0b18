package router

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/discovery"
	"github.com/toolgate/toolgate/internal/storage"
	"github.com/toolgate/toolgate/internal/toolerr"
	"github.com/toolgate/toolgate/internal/upstream"
)

type stubSupervisor struct {
	profile *config.Profile
	tools   map[string][]*config.ToolMetadata
}

func (s *stubSupervisor) ListTools(_ context.Context, serverName string) ([]*config.ToolMetadata, error) {
	return s.tools[serverName], nil
}

func (s *stubSupervisor) Info(string) upstream.ServerInfo { return upstream.ServerInfo{} }

func (s *stubSupervisor) Profile() *config.Profile { return s.profile }

func (s *stubSupervisor) StderrTail(string) []string { return nil }

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    []string
	lastArgs map[string]interface{}
	result   *mcp.CallToolResult
	err      error
}

func (f *fakeDispatcher) CallTool(_ context.Context, toolID string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, toolID)
	f.lastArgs = args
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(text)}}
}

type routerFixture struct {
	router     *Router
	dispatcher *fakeDispatcher
	stats      *storage.BoltDB
	cfg        *config.Config
}

func newRouterFixture(t *testing.T, dispatcher *fakeDispatcher, confirmer Confirmer, mutate func(*config.Config)) *routerFixture {
	t.Helper()

	tools := []*config.ToolMetadata{
		policyTool("filesystem", "read_file", "Read the contents of a file"),
		policyTool("filesystem", "write_file", "Write content to a file"),
		policyTool("shell", "run_command", "Execute a shell command and return its output"),
	}

	byServer := make(map[string][]*config.ToolMetadata)
	profile := &config.Profile{Name: "default", Servers: map[string]*config.ServerConfig{}}
	for _, tool := range tools {
		byServer[tool.ServerName] = append(byServer[tool.ServerName], tool)
		profile.Servers[tool.ServerName] = &config.ServerConfig{Name: tool.ServerName, Command: "stub", Enabled: true}
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	require.NoError(t, cfg.Validate())
	if mutate != nil {
		mutate(cfg)
	}

	sup := &stubSupervisor{profile: profile, tools: byServer}
	cat := catalog.New(cfg, sup, zap.NewNop())

	embedder := discovery.NewHashingEmbedder()
	engine, err := discovery.NewEngine(cfg, cat, embedder, profile.ContentHash(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	for server := range byServer {
		require.NoError(t, cat.RefreshServer(context.Background(), server))
		require.NoError(t, engine.IndexServer(server))
	}

	db, err := storage.Open(cfg.DataDir, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := New(cfg, dispatcher, cat, engine, embedder, db, confirmer, zap.NewNop())
	return &routerFixture{router: r, dispatcher: dispatcher, stats: db, cfg: cfg}
}

func TestRunSuccess(t *testing.T) {
	dispatcher := &fakeDispatcher{result: textResult("file contents here")}
	fx := newRouterFixture(t, dispatcher, nil, nil)

	out, err := fx.router.Run(context.Background(), "filesystem:read_file",
		map[string]interface{}{"path": "/tmp/notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, "file contents here", out)

	require.Equal(t, 1, dispatcher.callCount())
	assert.Equal(t, "filesystem:read_file", dispatcher.calls[0])
	assert.Equal(t, "/tmp/notes.txt", dispatcher.lastArgs["path"])

	rec, err := fx.stats.GetToolStats("filesystem:read_file")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Count)
	assert.Empty(t, rec.LastError)
}

func TestRunUnknownToolCarriesSuggestions(t *testing.T) {
	fx := newRouterFixture(t, &fakeDispatcher{result: textResult("x")}, nil, nil)

	_, err := fx.router.Run(context.Background(), "filesystem:read", nil)
	require.Error(t, err)
	assert.Equal(t, toolerr.KindNotFound, toolerr.KindOf(err))

	var payload struct {
		Kind        string   `json:"kind"`
		Message     string   `json:"message"`
		Suggestions []string `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal([]byte(fx.router.errorPayload("filesystem:read", err)), &payload))
	assert.Equal(t, "NotFound", payload.Kind)
	assert.Contains(t, payload.Suggestions, "filesystem:read_file")

	assert.Zero(t, fx.dispatcher.callCount(), "unknown tools never reach a server")
}

func TestRunModifyingDeniedFailClosed(t *testing.T) {
	dispatcher := &fakeDispatcher{result: textResult("x")}
	fx := newRouterFixture(t, dispatcher, nil, func(cfg *config.Config) {
		cfg.ModificationPolicy.FailClosed = true
	})

	_, err := fx.router.Run(context.Background(), "filesystem:write_file",
		map[string]interface{}{"path": "/tmp/out.txt", "content": "hi"})
	require.Error(t, err)
	assert.Equal(t, toolerr.KindUserCancelled, toolerr.KindOf(err))
	assert.Zero(t, dispatcher.callCount())
}

func TestRunModifyingFailOpenProceeds(t *testing.T) {
	dispatcher := &fakeDispatcher{result: textResult("written")}
	fx := newRouterFixture(t, dispatcher, nil, nil)

	out, err := fx.router.Run(context.Background(), "filesystem:write_file",
		map[string]interface{}{"path": "/tmp/out.txt"})
	require.NoError(t, err)
	assert.Equal(t, "written", out)
	assert.Equal(t, 1, dispatcher.callCount())
}

func TestRunModifyingConfirmed(t *testing.T) {
	dispatcher := &fakeDispatcher{result: textResult("written")}
	confirmer := &staticConfirmer{approve: true}
	fx := newRouterFixture(t, dispatcher, confirmer, nil)

	_, err := fx.router.Run(context.Background(), "filesystem:write_file", nil)
	require.NoError(t, err)
	require.Len(t, confirmer.prompts, 1)
	assert.Contains(t, confirmer.prompts[0], "filesystem:write_file")
	assert.Equal(t, 1, dispatcher.callCount())
}

func TestRunModifyingDeclined(t *testing.T) {
	dispatcher := &fakeDispatcher{result: textResult("written")}
	fx := newRouterFixture(t, dispatcher, &staticConfirmer{approve: false}, nil)

	_, err := fx.router.Run(context.Background(), "filesystem:write_file", nil)
	require.Error(t, err)
	assert.Equal(t, toolerr.KindUserCancelled, toolerr.KindOf(err))
	assert.Zero(t, dispatcher.callCount())
}

func TestRunDownstreamErrorRecordedInStats(t *testing.T) {
	dispatcher := &fakeDispatcher{err: toolerr.Downstream(0, "disk full", nil)}
	fx := newRouterFixture(t, dispatcher, nil, nil)

	_, err := fx.router.Run(context.Background(), "filesystem:read_file", nil)
	require.Error(t, err)
	assert.Equal(t, toolerr.KindDownstreamError, toolerr.KindOf(err))

	rec, statErr := fx.stats.GetToolStats("filesystem:read_file")
	require.NoError(t, statErr)
	assert.Equal(t, uint64(1), rec.Count)
	assert.Contains(t, rec.LastError, "disk full")
}

func TestRunTruncatesLongResponses(t *testing.T) {
	long := strings.Repeat("line of output\n", 500)
	dispatcher := &fakeDispatcher{result: textResult(long)}
	fx := newRouterFixture(t, dispatcher, nil, func(cfg *config.Config) {
		cfg.ToolResponseLimit = 200
	})

	out, err := fx.router.Run(context.Background(), "filesystem:read_file", nil)
	require.NoError(t, err)
	assert.Less(t, len(out), len(long))
	assert.Contains(t, out, "truncated")
}

func TestHandleFindReturnsRankedTools(t *testing.T) {
	fx := newRouterFixture(t, &fakeDispatcher{result: textResult("x")}, nil, nil)

	request := mcp.CallToolRequest{}
	request.Params.Name = "find"
	request.Params.Arguments = map[string]interface{}{"description": "read file"}

	result, err := fx.router.handleFind(context.Background(), request)
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)

	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	assert.Contains(t, text.Text, "filesystem:read_file")
	assert.Contains(t, text.Text, "Read the contents of a file")
}

func TestHandleFindMissingDescription(t *testing.T) {
	fx := newRouterFixture(t, &fakeDispatcher{}, nil, nil)

	request := mcp.CallToolRequest{}
	request.Params.Name = "find"
	request.Params.Arguments = map[string]interface{}{}

	result, err := fx.router.handleFind(context.Background(), request)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRun(t *testing.T) {
	dispatcher := &fakeDispatcher{result: textResult("hello")}
	fx := newRouterFixture(t, dispatcher, nil, nil)

	request := mcp.CallToolRequest{}
	request.Params.Name = "run"
	request.Params.Arguments = map[string]interface{}{
		"tool":       "filesystem:read_file",
		"parameters": map[string]interface{}{"path": "/tmp/x"},
	}

	result, err := fx.router.handleRun(context.Background(), request)
	require.NoError(t, err)
	require.False(t, result.IsError)

	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	assert.Equal(t, "hello", text.Text)
	assert.Equal(t, "/tmp/x", dispatcher.lastArgs["path"])
}

func TestFormatResultsDepths(t *testing.T) {
	fx := newRouterFixture(t, &fakeDispatcher{}, nil, nil)

	tool := policyTool("filesystem", "read_file", "Read the contents of a file")
	tool.ParamsJSON = `{"type":"object","properties":{"path":{"type":"string"}}}`
	results := []*config.SearchResult{{Tool: tool, Confidence: 0.91}}

	names := fx.router.formatResults("read file", results, DepthNames)
	assert.Contains(t, names, "filesystem:read_file")
	assert.NotContains(t, names, "Read the contents")

	descriptions := fx.router.formatResults("read file", results, DepthDescriptions)
	assert.Contains(t, descriptions, "Read the contents of a file")
	assert.NotContains(t, descriptions, "schema:")

	schemas := fx.router.formatResults("read file", results, DepthSchemas)
	assert.Contains(t, schemas, "schema:")
}

func TestFormatResultsEmpty(t *testing.T) {
	fx := newRouterFixture(t, &fakeDispatcher{}, nil, nil)
	out := fx.router.formatResults("underwater basket weaving", nil, DepthDescriptions)
	assert.Contains(t, out, "No tools found")
	assert.Contains(t, out, "3 tools")
}

func TestErrorPayloadMasksInternal(t *testing.T) {
	fx := newRouterFixture(t, &fakeDispatcher{}, nil, nil)

	payload := fx.router.errorPayload("x:y", toolerr.Internal(assert.AnError, "boom with secret detail"))
	assert.Contains(t, payload, "internal error")
	assert.NotContains(t, payload, "secret detail")
}

func TestParseDepth(t *testing.T) {
	assert.Equal(t, DepthNames, parseDepth("names"))
	assert.Equal(t, DepthDescriptions, parseDepth("descriptions"))
	assert.Equal(t, DepthSchemas, parseDepth("schemas"))
	assert.Equal(t, DepthSchemas, parseDepth("FULL"))
	assert.Equal(t, DepthDescriptions, parseDepth("bogus"))
}
