// Package router terminates the upstream JSON-RPC session and exposes the
// two-tool surface: find (semantic tool discovery) and run (proxied tool
// invocation). Everything else the proxy does hangs off these two handlers.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/discovery"
	"github.com/toolgate/toolgate/internal/storage"
	"github.com/toolgate/toolgate/internal/toolerr"
	"github.com/toolgate/toolgate/internal/truncate"
	"github.com/toolgate/toolgate/internal/upstream"
)

// Depth levels for find output.
const (
	DepthNames = iota
	DepthDescriptions
	DepthSchemas
)

// Dispatcher is the slice of the upstream manager the router needs.
type Dispatcher interface {
	CallTool(ctx context.Context, toolID string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// Router composes the supervisor, catalog and discovery engine behind the
// upstream surface. The scheduler calls Run through the Runner interface and
// therefore faces the same validation and confirmation policy.
type Router struct {
	cfg       *config.Config
	manager   Dispatcher
	catalog   *catalog.Catalog
	engine    *discovery.Engine
	truncator *truncate.Truncator
	stats     *storage.BoltDB
	policy    *policy
	confirmer Confirmer
	logger    *zap.Logger

	mcpServer *mcpserver.MCPServer
}

// New creates a router. confirmer may be nil when the upstream client has no
// confirmation channel.
func New(cfg *config.Config, manager Dispatcher, cat *catalog.Catalog, engine *discovery.Engine, embedder discovery.Embedder, stats *storage.BoltDB, confirmer Confirmer, logger *zap.Logger) *Router {
	r := &Router{
		cfg:       cfg,
		manager:   manager,
		catalog:   cat,
		engine:    engine,
		truncator: truncate.NewTruncator(cfg.ToolResponseLimit),
		stats:     stats,
		policy:    newPolicy(cfg.ModificationPolicy, embedder, logger.Named("policy")),
		confirmer: confirmer,
		logger:    logger.Named("router"),
	}
	r.mcpServer = mcpserver.NewMCPServer(
		"toolgate",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	r.registerTools()
	return r
}

// ServeStdio serves the upstream session on stdin/stdout. It accepts
// requests immediately; catalog indexing proceeds in the background and
// tools/list always returns the two static tools.
func (r *Router) ServeStdio() error {
	return mcpserver.ServeStdio(r.mcpServer)
}

// MCPServer exposes the underlying server for tests.
func (r *Router) MCPServer() *mcpserver.MCPServer {
	return r.mcpServer
}

func (r *Router) registerTools() {
	findTool := mcp.NewTool("find",
		mcp.WithDescription("Find tools matching a natural-language description of what you want to do. Returns a ranked list of tool ids usable with run."),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("What you want to do, in plain language"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 5)"),
		),
		mcp.WithNumber("page",
			mcp.Description("Result page, starting at 1"),
		),
		mcp.WithString("depth",
			mcp.Description("Output detail: names, descriptions or schemas (default descriptions)"),
		),
		mcp.WithNumber("confidence_threshold",
			mcp.Description("Minimum confidence in [0,1] (default 0.3)"),
		),
	)
	r.mcpServer.AddTool(findTool, r.handleFind)

	runTool := mcp.NewTool("run",
		mcp.WithDescription("Run a tool by its id (server:tool) with the given parameters."),
		mcp.WithString("tool",
			mcp.Required(),
			mcp.Description("Tool id in server:tool form, as returned by find"),
		),
		mcp.WithObject("parameters",
			mcp.Description("Arguments passed to the tool"),
		),
	)
	r.mcpServer.AddTool(runTool, r.handleRun)
}

func (r *Router) handleFind(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	description, err := request.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError("description parameter is required"), nil
	}

	limit := int(request.GetFloat("limit", float64(r.cfg.TopK)))
	page := int(request.GetFloat("page", 1))
	if page < 1 {
		page = 1
	}
	floor := request.GetFloat("confidence_threshold", 0)
	depth := parseDepth(request.GetString("depth", "descriptions"))

	// Fetch enough results to slice out the requested page.
	results, err := r.engine.Search(description, limit*page, floor)
	if err != nil {
		r.logger.Error("Discovery failed", zap.Error(err))
		return mcp.NewToolResultError("search failed: internal error"), nil
	}

	start := (page - 1) * limit
	if start >= len(results) {
		results = nil
	} else {
		results = results[start:]
		if len(results) > limit {
			results = results[:limit]
		}
	}

	return mcp.NewToolResultText(r.formatResults(description, results, depth)), nil
}

func (r *Router) formatResults(query string, results []*config.SearchResult, depth int) string {
	if len(results) == 0 {
		return fmt.Sprintf("No tools found for %q. The catalog has %d tools; try different wording or a lower confidence_threshold.", query, r.catalog.Count())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tools for %q:\n\n", len(results), query)
	for i, res := range results {
		fmt.Fprintf(&b, "%d. %s (confidence %.2f)\n", i+1, res.Tool.ID(), res.Confidence)
		if depth >= DepthDescriptions && res.Tool.Description != "" {
			fmt.Fprintf(&b, "   %s\n", res.Tool.Description)
		}
		if depth >= DepthSchemas && res.Tool.ParamsJSON != "" {
			fmt.Fprintf(&b, "   schema: %s\n", res.Tool.ParamsJSON)
		}
	}
	b.WriteString("\nUse run with the tool id to invoke one.")
	return b.String()
}

func (r *Router) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	toolID, err := request.RequireString("tool")
	if err != nil {
		return mcp.NewToolResultError("tool parameter is required"), nil
	}
	args := request.GetArguments()
	params, _ := args["parameters"].(map[string]interface{})

	result, runErr := r.Run(ctx, toolID, params)
	if runErr != nil {
		return mcp.NewToolResultError(r.errorPayload(toolID, runErr)), nil
	}
	return mcp.NewToolResultText(result), nil
}

// Run validates, confirms and dispatches one tool invocation. It is the
// single entry point shared by the upstream surface, the scheduler and the
// CLI.
func (r *Router) Run(ctx context.Context, toolID string, args map[string]interface{}) (string, error) {
	tool, ok := r.catalog.Get(toolID)
	if !ok {
		return "", r.notFound(toolID)
	}

	if r.policy.isModifying(tool) {
		approved, err := r.policy.confirm(ctx, r.confirmer, tool)
		if err != nil {
			return "", toolerr.Internal(err, "confirmation failed for %s", toolID)
		}
		if !approved {
			return "", toolerr.UserCancelled("call to %s was not confirmed", toolID)
		}
	}

	_, toolName, err := upstream.SplitToolID(toolID)
	if err != nil {
		return "", err
	}
	callResult, callErr := r.manager.CallTool(ctx, toolID, args)

	if statErr := r.stats.IncrementToolStats(toolID, errString(callErr)); statErr != nil {
		r.logger.Warn("Failed to record tool usage", zap.Error(statErr))
	}
	if callErr != nil {
		return "", callErr
	}

	text := flattenContent(callResult)
	truncated := r.truncator.Truncate(text)
	if truncated.Truncated {
		r.logger.Info("Tool response truncated",
			zap.String("tool", toolName),
			zap.Int("original_size", truncated.TotalSize))
	}
	return truncated.Content, nil
}

// notFound builds the structured not-found error carrying up to K
// suggestions from the discovery engine.
func (r *Router) notFound(toolID string) error {
	suggestions, err := r.engine.Search(strings.ReplaceAll(toolID, ":", " "), r.cfg.TopK, 0.01)
	if err != nil {
		suggestions = nil
	}
	ids := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		ids = append(ids, s.Tool.ID())
	}
	e := toolerr.NotFound("tool %q is not in the catalog", toolID)
	e.Data = ids
	return e
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// errorPayload renders an error as the structured JSON the upstream client
// receives in the error result.
func (r *Router) errorPayload(toolID string, err error) string {
	payload := map[string]interface{}{
		"kind":    string(toolerr.KindOf(err)),
		"message": err.Error(),
	}
	var te *toolerr.Error
	if errors.As(err, &te) {
		if te.Kind == toolerr.KindNotFound && te.Data != nil {
			payload["suggestions"] = te.Data
		}
		if te.Kind == toolerr.KindInternal {
			// Internal details stay in the logs.
			payload["message"] = "internal error"
		}
	}
	data, mErr := json.Marshal(payload)
	if mErr != nil {
		return fmt.Sprintf("%s: %v", toolID, err)
	}
	return string(data)
}

func flattenContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		} else if data, err := json.Marshal(content); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}

func parseDepth(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "names":
		return DepthNames
	case "schemas", "full":
		return DepthSchemas
	default:
		return DepthDescriptions
	}
}
