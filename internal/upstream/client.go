package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/hash"
	"github.com/toolgate/toolgate/internal/logs"
	"github.com/toolgate/toolgate/internal/toolerr"
)

const stderrRingSize = 200

// Client maintains the single live connection to one downstream server.
// All traffic for that server is multiplexed over this connection; request
// ids and response demultiplexing are handled by the JSON-RPC transport.
type Client struct {
	cfg          *config.ServerConfig
	globalCfg    *config.Config
	logger       *zap.Logger
	serverLogger *zap.Logger

	// connectMu serialises concurrent Connect attempts so a cold server is
	// spawned at most once.
	connectMu sync.Mutex

	mu         sync.RWMutex
	mcpClient  *client.Client
	serverInfo *mcp.InitializeResult
	connected  bool

	// Captured stderr tail for configuration-detection heuristics.
	stderrMu   sync.Mutex
	stderrTail []string

	stderr       io.Reader
	stderrCancel context.CancelFunc
	stderrWG     sync.WaitGroup
}

// ServerInfo is the downstream server's declared identity, plus the
// configuration schema it advertises through the experimental handshake
// capability, if any.
type ServerInfo struct {
	Name         string                 `json:"name"`
	Version      string                 `json:"version"`
	Title        string                 `json:"title,omitempty"`
	ConfigSchema map[string]interface{} `json:"config_schema,omitempty"`
}

// NewClient creates a client for a server config. No connection is opened
// until Connect.
func NewClient(cfg *config.ServerConfig, globalCfg *config.Config, logger *zap.Logger) *Client {
	c := &Client{
		cfg:       cfg,
		globalCfg: globalCfg,
		logger:    logger.With(zap.String("upstream", cfg.Name)),
	}

	if globalCfg != nil && globalCfg.Logging != nil {
		serverLogger, err := logs.NewServerLogger(globalCfg.Logging, cfg.Name)
		if err != nil {
			c.logger.Warn("Failed to create per-server log sink", zap.Error(err))
		} else {
			c.serverLogger = serverLogger
		}
	}
	return c
}

// IsConnected reports whether the transport handshake has completed.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Info returns the server's declared serverInfo, if connected.
func (c *Client) Info() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.serverInfo == nil {
		return ServerInfo{}
	}
	info := ServerInfo{
		Name:    c.serverInfo.ServerInfo.Name,
		Version: c.serverInfo.ServerInfo.Version,
	}
	if schema, ok := c.serverInfo.Capabilities.Experimental["configSchema"].(map[string]interface{}); ok {
		info.ConfigSchema = schema
	}
	return info
}

// Connect opens the transport and performs the initialize handshake. The
// caller bounds ctx with the handshake deadline. Concurrent callers are
// serialised; late ones observe the established connection and return.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var mcpClient *client.Client
	var stderr io.Reader
	var err error

	switch c.cfg.Kind() {
	case config.ServerKindSubprocess:
		mcpClient, stderr, err = c.connectStdio(ctx)
	default:
		mcpClient, err = c.connectRemote(ctx)
	}
	if err != nil {
		return err
	}

	if stderr != nil {
		c.startStderrMonitor(stderr)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "toolgate",
		Version: "1.0.0",
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	serverInfo, err := mcpClient.Initialize(ctx, initRequest)
	if err != nil {
		c.teardown(mcpClient)
		if ctx.Err() == context.DeadlineExceeded {
			return toolerr.Timeout("handshake with %s did not complete", c.cfg.Name)
		}
		return toolerr.Transport(err, "initialize failed for %s", c.cfg.Name)
	}

	c.mu.Lock()
	c.mcpClient = mcpClient
	c.serverInfo = serverInfo
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("Connected to downstream server",
		zap.String("server_name", serverInfo.ServerInfo.Name),
		zap.String("server_version", serverInfo.ServerInfo.Version),
		zap.String("transport", c.cfg.Kind()))
	if c.serverLogger != nil {
		c.serverLogger.Info("Handshake completed",
			zap.String("protocol_version", serverInfo.ProtocolVersion))
	}
	return nil
}

func (c *Client) connectStdio(_ context.Context) (*client.Client, io.Reader, error) {
	stdioTransport := transport.NewStdio(c.cfg.Command, c.buildEnv(), c.cfg.Args...)
	mcpClient := client.NewClient(stdioTransport)

	// Persistent background context so the child keeps running after a
	// short-lived connect context expires.
	if err := mcpClient.Start(context.Background()); err != nil {
		return nil, nil, toolerr.Transport(err, "failed to spawn %s", c.cfg.Name)
	}
	return mcpClient, stdioTransport.Stderr(), nil
}

func (c *Client) connectRemote(ctx context.Context) (*client.Client, error) {
	headers := make(map[string]string, len(c.cfg.Headers))
	for k, v := range c.cfg.Headers {
		headers[k] = v
	}

	httpTransport, err := transport.NewStreamableHTTP(c.cfg.URL,
		transport.WithHTTPHeaders(headers))
	if err != nil {
		return nil, toolerr.Transport(err, "failed to create HTTP transport for %s", c.cfg.Name)
	}

	mcpClient := client.NewClient(httpTransport)
	if err := mcpClient.Start(ctx); err != nil {
		return nil, c.classifyRemoteError(err)
	}
	return mcpClient, nil
}

// classifyRemoteError maps a 401 to Unauthorised, surfacing the negotiated
// auth kind for the credentials collaborator.
func (c *Client) classifyRemoteError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "401") || strings.Contains(strings.ToLower(msg), "unauthorized") {
		kind := c.cfg.AuthKind
		if kind == "" {
			kind = detectAuthKind(msg)
		}
		return toolerr.Wrap(toolerr.KindUnauthorised, err,
			"server %s rejected credentials (auth kind %q)", c.cfg.Name, kind)
	}
	return toolerr.Transport(err, "failed to connect to %s", c.cfg.Name)
}

// detectAuthKind inspects a WWW-Authenticate fragment in an error string.
func detectAuthKind(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "bearer"):
		return "bearer"
	case strings.Contains(lower, "basic"):
		return "basic"
	case strings.Contains(lower, "oauth"):
		return "oauth"
	default:
		return "unknown"
	}
}

// buildEnv passes through the parent's PATH and HOME plus the configured
// per-server variables. Nothing else from the parent environment leaks into
// child processes.
func (c *Client) buildEnv() []string {
	env := make([]string, 0, len(c.cfg.Env)+2)
	for _, key := range []string{"PATH", "HOME"} {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	for k, v := range c.cfg.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// ListTools performs the catalog probe. A partial response is an error: the
// single tools/list call either decodes fully or fails.
func (c *Client) ListTools(ctx context.Context) ([]*config.ToolMetadata, error) {
	c.mu.RLock()
	mcpClient := c.mcpClient
	connected := c.connected
	c.mu.RUnlock()

	if !connected || mcpClient == nil {
		return nil, toolerr.Transport(nil, "server %s is not connected", c.cfg.Name)
	}

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, c.classifyCallError(err, ctx, "tools/list")
	}

	tools := make([]*config.ToolMetadata, 0, len(result.Tools))
	now := time.Now().UTC()
	for i := range result.Tools {
		tool := &result.Tools[i]
		var paramsJSON string
		if schemaBytes, err := json.Marshal(tool.InputSchema); err == nil {
			paramsJSON = string(schemaBytes)
		}
		toolHash, _ := hash.ToolHash(c.cfg.Name, tool.Name, tool.Description, tool.InputSchema)
		tools = append(tools, &config.ToolMetadata{
			ServerName:  c.cfg.Name,
			Name:        tool.Name,
			Description: tool.Description,
			ParamsJSON:  paramsJSON,
			Hash:        toolHash,
			Updated:     now,
		})
	}

	c.logger.Debug("Catalog probe succeeded",
		zap.Int("tool_count", len(tools)))
	return tools, nil
}

// CallTool executes a tool on the downstream server. The caller supplies the
// per-call deadline through ctx; on expiry the connection is torn down so
// the pending request cannot wedge the serial transport.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	c.mu.RLock()
	mcpClient := c.mcpClient
	connected := c.connected
	c.mu.RUnlock()

	if !connected || mcpClient == nil {
		return nil, toolerr.Transport(nil, "server %s is not connected", c.cfg.Name)
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = toolName
	request.Params.Arguments = args

	if c.serverLogger != nil {
		c.serverLogger.Info("Dispatching tool call", zap.String("tool", toolName))
	}

	result, err := mcpClient.CallTool(ctx, request)
	if err != nil {
		if c.serverLogger != nil {
			c.serverLogger.Error("Tool call failed",
				zap.String("tool", toolName), zap.Error(err))
		}
		callErr := c.classifyCallError(err, ctx, toolName)
		if toolerr.IsKind(callErr, toolerr.KindTimeout) && c.cfg.Kind() == config.ServerKindSubprocess {
			// The subprocess may still be chewing on the cancelled request;
			// tear the connection down so the next dispatch respawns clean.
			c.Stop()
		}
		return nil, callErr
	}

	if result.IsError {
		return result, toolerr.Downstream(0, extractText(result), nil)
	}

	if c.serverLogger != nil {
		c.serverLogger.Info("Tool call completed", zap.String("tool", toolName))
	}
	return result, nil
}

func (c *Client) classifyCallError(err error, ctx context.Context, op string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return toolerr.Timeout("%s on %s exceeded its deadline", op, c.cfg.Name)
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "broken pipe"),
		strings.Contains(lower, "closed pipe"),
		strings.Contains(lower, "eof"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "process exited"):
		return toolerr.Transport(err, "transport to %s failed during %s", c.cfg.Name, op)
	case strings.Contains(msg, fmt.Sprint(http.StatusUnauthorized)),
		strings.Contains(lower, "unauthorized"):
		return toolerr.Wrap(toolerr.KindUnauthorised, err, "server %s rejected credentials", c.cfg.Name)
	default:
		// A decoded JSON-RPC error from the downstream server.
		return toolerr.Downstream(0, msg, nil)
	}
}

// Stop closes the transport. Subprocess children receive SIGTERM from the
// transport's close path, then SIGKILL after its grace period. The transport
// is closed before waiting on the stderr monitor: the monitor blocks in a
// pipe read until the child's stderr closes, so the order matters.
func (c *Client) Stop() {
	c.mu.Lock()
	mcpClient := c.mcpClient
	c.mcpClient = nil
	c.serverInfo = nil
	c.connected = false
	c.mu.Unlock()

	if mcpClient != nil {
		if err := mcpClient.Close(); err != nil {
			c.logger.Debug("Error closing downstream client", zap.Error(err))
		}
	}
	c.closeStderr()
}

func (c *Client) teardown(mcpClient *client.Client) {
	if mcpClient != nil {
		_ = mcpClient.Close()
	}
	c.closeStderr()
}

// startStderrMonitor begins draining a subprocess stderr pipe.
func (c *Client) startStderrMonitor(stderr io.Reader) {
	monitorCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.stderr = stderr
	c.stderrCancel = cancel
	c.mu.Unlock()
	c.stderrWG.Add(1)
	go c.monitorStderr(monitorCtx, stderr)
}

// closeStderr closes the stderr pipe read end so a wedged child cannot keep
// the monitor goroutine blocked in a read, then waits it out.
func (c *Client) closeStderr() {
	c.mu.Lock()
	stderr := c.stderr
	cancel := c.stderrCancel
	c.stderr = nil
	c.stderrCancel = nil
	c.mu.Unlock()

	if closer, ok := stderr.(io.Closer); ok {
		_ = closer.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.stderrWG.Wait()
}

// monitorStderr drains the child's stderr into the per-server log sink and a
// bounded ring used for credential-hint scanning. Stderr is never surfaced
// to the upstream client.
func (c *Client) monitorStderr(ctx context.Context, stderr io.Reader) {
	defer c.stderrWG.Done()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}
		if c.serverLogger != nil {
			c.serverLogger.Info("stderr", zap.String("line", line))
		}

		c.stderrMu.Lock()
		c.stderrTail = append(c.stderrTail, line)
		if len(c.stderrTail) > stderrRingSize {
			c.stderrTail = c.stderrTail[len(c.stderrTail)-stderrRingSize:]
		}
		c.stderrMu.Unlock()
	}
}

// StderrTail returns a copy of the captured stderr tail.
func (c *Client) StderrTail() []string {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()
	out := make([]string, len(c.stderrTail))
	copy(out, c.stderrTail)
	return out
}

func extractText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(parts, "\n")
}
