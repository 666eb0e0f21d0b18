// Package upstream supervises connections to downstream tool servers: one
// client per configured server, spawned lazily, probed for its catalog, and
// retried with exponential backoff when it misbehaves. Health bookkeeping
// lives in internal/health; the manager consults it before every dispatch.
package upstream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/health"
	"github.com/toolgate/toolgate/internal/toolerr"
)

// Manager owns the set of upstream clients for the active profile.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger
	health *health.Store

	mu       sync.RWMutex
	clients  map[string]*Client
	backoffs map[string]*backoff
	profile  *config.Profile
}

// NewManager creates a supervisor for the servers of a profile.
func NewManager(cfg *config.Config, profile *config.Profile, healthStore *health.Store, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("upstream"),
		health:   healthStore,
		clients:  make(map[string]*Client),
		backoffs: make(map[string]*backoff),
		profile:  profile,
	}
	for name, srv := range profile.Servers {
		if srv.Name == "" {
			srv.Name = name
		}
		m.backoffs[name] = newBackoff(cfg.MaxRetryInterval.Duration())
	}
	return m
}

// Profile returns the active profile.
func (m *Manager) Profile() *config.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// ServerNames returns the names of all configured servers, enabled or not.
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.profile.Servers))
	for name := range m.profile.Servers {
		names = append(names, name)
	}
	return names
}

// Health returns the health store.
func (m *Manager) Health() *health.Store {
	return m.health
}

// EnsureStarted connects to a server if it is not already connected.
// Quarantined servers are refused; servers inside a backoff window are
// refused with a transport error so the caller can surface the retry delay.
func (m *Manager) EnsureStarted(ctx context.Context, serverName string) (*Client, error) {
	srv, err := m.serverConfig(serverName)
	if err != nil {
		return nil, err
	}
	if !srv.Enabled {
		return nil, toolerr.NotFound("server %q is disabled in the profile", serverName)
	}
	if m.health.StateOf(serverName) == health.StateDisabled {
		snap := m.health.SnapshotOf(serverName)
		return nil, toolerr.Quarantined("server %q is quarantined: %s", serverName, snap.DisabledReason)
	}

	m.mu.Lock()
	c, ok := m.clients[serverName]
	if ok && c.IsConnected() {
		m.mu.Unlock()
		return c, nil
	}
	bo := m.backoffs[serverName]
	if bo == nil {
		bo = newBackoff(m.cfg.MaxRetryInterval.Duration())
		m.backoffs[serverName] = bo
	}
	if !bo.ready() {
		m.mu.Unlock()
		return nil, toolerr.Transport(nil, "server %q is backing off after repeated failures", serverName)
	}
	if c == nil {
		c = NewClient(srv, m.cfg, m.logger)
		m.clients[serverName] = c
	}
	m.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout.Duration())
	defer cancel()

	if err := c.Connect(connectCtx); err != nil {
		bo.failure()
		m.health.MarkUnhealthy(serverName, err)
		return nil, err
	}

	bo.success()
	m.health.MarkHealthy(serverName)
	return c, nil
}

// ListTools probes one server's catalog, applying health accounting.
func (m *Manager) ListTools(ctx context.Context, serverName string) ([]*config.ToolMetadata, error) {
	c, err := m.EnsureStarted(ctx, serverName)
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout.Duration())
	defer cancel()

	tools, err := c.ListTools(probeCtx)
	if err != nil {
		m.recordFailure(serverName, err)
		return nil, err
	}
	m.health.MarkHealthy(serverName)
	return tools, nil
}

// CallTool dispatches a call addressed by external id "server:tool".
func (m *Manager) CallTool(ctx context.Context, toolID string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	serverName, toolName, err := SplitToolID(toolID)
	if err != nil {
		return nil, err
	}

	c, err := m.EnsureStarted(ctx, serverName)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallToolTimeout.Duration())
	defer cancel()

	start := time.Now()
	result, err := c.CallTool(callCtx, toolName, args)
	if err != nil {
		m.recordFailure(serverName, err)
		m.logger.Warn("Tool call failed",
			zap.String("tool_id", toolID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return result, err
	}

	m.health.MarkHealthy(serverName)
	m.logger.Debug("Tool call completed",
		zap.String("tool_id", toolID),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// recordFailure applies health accounting for a failed probe or call.
// Downstream application errors and invalid params do not count against the
// server's error budget; transport failures and timeouts do.
func (m *Manager) recordFailure(serverName string, err error) {
	if toolerr.AffectsHealth(err) {
		m.health.MarkUnhealthy(serverName, err)
		m.mu.RLock()
		bo := m.backoffs[serverName]
		m.mu.RUnlock()
		if bo != nil {
			bo.failure()
		}
	}
}

// ForceRetry clears a server's quarantine and backoff so the next dispatch
// attempts a fresh connection immediately.
func (m *Manager) ForceRetry(serverName string) error {
	if _, err := m.serverConfig(serverName); err != nil {
		return err
	}

	m.health.Enable(serverName)

	m.mu.Lock()
	if bo := m.backoffs[serverName]; bo != nil {
		bo.reset()
	}
	c := m.clients[serverName]
	m.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	m.logger.Info("Forced retry for server", zap.String("server", serverName))
	return nil
}

// Info returns a connected server's declared identity, zero if not
// connected.
func (m *Manager) Info(serverName string) ServerInfo {
	m.mu.RLock()
	c := m.clients[serverName]
	m.mu.RUnlock()
	if c == nil {
		return ServerInfo{}
	}
	return c.Info()
}

// StderrTail returns the captured stderr tail of a server, if running.
func (m *Manager) StderrTail(serverName string) []string {
	m.mu.RLock()
	c := m.clients[serverName]
	m.mu.RUnlock()
	if c == nil {
		return nil
	}
	return c.StderrTail()
}

// StopAll disconnects every client. Used at shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.Stop()
		}(c)
	}
	wg.Wait()
	m.logger.Info("All upstream servers stopped", zap.Int("count", len(clients)))
}

func (m *Manager) serverConfig(serverName string) (*config.ServerConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	srv, ok := m.profile.Servers[serverName]
	if !ok {
		return nil, toolerr.NotFound("server %q is not in profile %q", serverName, m.profile.Name)
	}
	return srv, nil
}

// SplitToolID splits an external tool id "server:tool" into its parts.
// Tool names may themselves contain colons; the split is on the first one.
func SplitToolID(toolID string) (serverName, toolName string, err error) {
	parts := strings.SplitN(toolID, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", toolerr.InvalidParams(
			"invalid tool id %q: expected \"server:tool\"", toolID)
	}
	return parts[0], parts[1], nil
}

// JoinToolID renders the external tool id for a server/tool pair.
func JoinToolID(serverName, toolName string) string {
	return fmt.Sprintf("%s:%s", serverName, toolName)
}
