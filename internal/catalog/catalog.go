// Package catalog maintains the durable, queryable list of all tools exposed
// by the servers of the active profile. Readers observe an immutable snapshot
// swapped atomically by the single writer; the persisted form is a JSON
// document plus a line-oriented CSV index, always updated as a pair.
package catalog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/toolerr"
	"github.com/toolgate/toolgate/internal/upstream"
)

const probeConcurrency = 8

// Supervisor is the slice of the upstream manager the catalog needs.
type Supervisor interface {
	ListTools(ctx context.Context, serverName string) ([]*config.ToolMetadata, error)
	Info(serverName string) upstream.ServerInfo
	Profile() *config.Profile
	StderrTail(serverName string) []string
}

// snapshot is the immutable in-memory view. Mutation happens by building a
// new snapshot and swapping it in.
type snapshot struct {
	byID       map[string]*config.ToolMetadata
	byServer   map[string][]*config.ToolMetadata
	serverInfo map[string]upstream.ServerInfo
	builtAt    time.Time
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byID:       make(map[string]*config.ToolMetadata),
		byServer:   make(map[string][]*config.ToolMetadata),
		serverInfo: make(map[string]upstream.ServerInfo),
		builtAt:    time.Now().UTC(),
	}
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		byID:       make(map[string]*config.ToolMetadata, len(s.byID)),
		byServer:   make(map[string][]*config.ToolMetadata, len(s.byServer)),
		serverInfo: make(map[string]upstream.ServerInfo, len(s.serverInfo)),
		builtAt:    time.Now().UTC(),
	}
	for id, tool := range s.byID {
		next.byID[id] = tool
	}
	for name, tools := range s.byServer {
		next.byServer[name] = tools
	}
	for name, info := range s.serverInfo {
		next.serverInfo[name] = info
	}
	return next
}

// Catalog is the catalog cache component.
type Catalog struct {
	cfg     *config.Config
	manager Supervisor
	logger  *zap.Logger

	snap atomic.Value // *snapshot

	// writeMu serialises writers; readers never take it.
	writeMu sync.Mutex

	onChange atomic.Value // func(serverName string)
}

// New creates a catalog over a supervisor. Call Load before Rebuild to seed
// from the persisted cache.
func New(cfg *config.Config, manager Supervisor, logger *zap.Logger) *Catalog {
	c := &Catalog{
		cfg:     cfg,
		manager: manager,
		logger:  logger.Named("catalog"),
	}
	c.snap.Store(emptySnapshot())
	return c
}

// SetOnChange registers a hook invoked after a server's entries change.
// The discovery engine uses it to re-index incrementally.
func (c *Catalog) SetOnChange(fn func(serverName string)) {
	c.onChange.Store(fn)
}

func (c *Catalog) notify(serverName string) {
	if fn, ok := c.onChange.Load().(func(string)); ok && fn != nil {
		fn(serverName)
	}
}

func (c *Catalog) current() *snapshot {
	return c.snap.Load().(*snapshot)
}

// AllTools returns the full catalog sorted by tool id. Purely in-memory.
func (c *Catalog) AllTools() []*config.ToolMetadata {
	snap := c.current()
	out := make([]*config.ToolMetadata, 0, len(snap.byID))
	for _, tool := range snap.byID {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ToolsOf returns the tools of one server.
func (c *Catalog) ToolsOf(serverName string) []*config.ToolMetadata {
	snap := c.current()
	tools := snap.byServer[serverName]
	out := make([]*config.ToolMetadata, len(tools))
	copy(out, tools)
	return out
}

// Get resolves an external tool id.
func (c *Catalog) Get(toolID string) (*config.ToolMetadata, bool) {
	tool, ok := c.current().byID[toolID]
	return tool, ok
}

// Count returns the number of catalogued tools.
func (c *Catalog) Count() int {
	return len(c.current().byID)
}

// Load seeds the in-memory snapshot from the persisted cache, discarding
// slices invalidated by the staleness policy. It returns the names of
// servers that need a re-probe.
func (c *Catalog) Load(profile *config.Profile) ([]string, error) {
	doc, err := loadCache(c.cfg.DataDir)
	if err != nil {
		return nil, err
	}

	stale, wholeInvalid := staleServers(doc, profile, c.cfg.CacheMaxAge.Duration(), time.Now().UTC())

	needProbe := make(map[string]bool, len(profile.Servers))
	for name, srv := range profile.Servers {
		if srv.Enabled {
			needProbe[name] = true
		}
	}

	snap := emptySnapshot()
	if !wholeInvalid {
		for _, tool := range doc.Tools {
			if stale[tool.ServerName] {
				continue
			}
			srv, ok := profile.Servers[tool.ServerName]
			if !ok || !srv.Enabled {
				continue
			}
			snap.byID[tool.ID()] = tool
			snap.byServer[tool.ServerName] = append(snap.byServer[tool.ServerName], tool)
			delete(needProbe, tool.ServerName)
		}
		for name, info := range doc.ServerInfo {
			if !stale[name] {
				snap.serverInfo[name] = info
			}
		}
	}

	c.writeMu.Lock()
	c.snap.Store(snap)
	c.writeMu.Unlock()

	probeList := make([]string, 0, len(needProbe))
	for name := range needProbe {
		probeList = append(probeList, name)
	}
	sort.Strings(probeList)

	c.logger.Info("Catalog loaded from cache",
		zap.Int("tools", len(snap.byID)),
		zap.Bool("cache_invalid", wholeInvalid),
		zap.Strings("servers_to_probe", probeList))
	return probeList, nil
}

// Rebuild probes the given servers concurrently and reconciles their
// entries. A server whose probe fails keeps its previous entries; it is the
// health store's job to report it. Rebuild never blocks upstream serving.
func (c *Catalog) Rebuild(ctx context.Context, serverNames []string, reason string) error {
	if len(serverNames) == 0 {
		return nil
	}
	c.logger.Info("Rebuilding catalog",
		zap.String("reason", reason),
		zap.Int("servers", len(serverNames)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for _, name := range serverNames {
		name := name
		g.Go(func() error {
			if err := c.RefreshServer(gctx, name); err != nil {
				c.logger.Warn("Server probe failed",
					zap.String("server", name),
					zap.String("kind", string(toolerr.KindOf(err))),
					zap.Error(err))
			}
			// One failed server never aborts the pass.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return c.persist()
}

// RefreshServer probes one server and swaps its catalog slice. A partial
// tools/list response is a failure upstream of this point; by the time
// entries arrive here they are complete.
func (c *Catalog) RefreshServer(ctx context.Context, serverName string) error {
	tools, err := c.manager.ListTools(ctx, serverName)
	if err != nil {
		return err
	}

	c.replaceServer(serverName, tools, c.manager.Info(serverName))
	return nil
}

func (c *Catalog) replaceServer(serverName string, tools []*config.ToolMetadata, info upstream.ServerInfo) {
	c.writeMu.Lock()
	snap := c.current().clone()
	for id, tool := range snap.byID {
		if tool.ServerName == serverName {
			delete(snap.byID, id)
		}
	}
	delete(snap.byServer, serverName)

	sorted := make([]*config.ToolMetadata, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, tool := range sorted {
		snap.byID[tool.ID()] = tool
	}
	if len(sorted) > 0 {
		snap.byServer[serverName] = sorted
	}
	if info.Name != "" {
		snap.serverInfo[serverName] = info
	}
	c.snap.Store(snap)
	c.writeMu.Unlock()

	c.logger.Info("Server catalog updated",
		zap.String("server", serverName),
		zap.Int("tools", len(sorted)))
	c.notify(serverName)
}

// RemoveServer drops a server's entries from the snapshot and the cache.
func (c *Catalog) RemoveServer(serverName string) error {
	c.replaceServer(serverName, nil, upstream.ServerInfo{})
	return c.persist()
}

// Persist writes the current snapshot to the cache pair.
func (c *Catalog) Persist() error {
	return c.persist()
}

func (c *Catalog) persist() error {
	snap := c.current()
	profile := c.manager.Profile()

	tools := make([]*config.ToolMetadata, 0, len(snap.byID))
	for _, tool := range snap.byID {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID() < tools[j].ID() })

	doc := &CacheDocument{
		Metadata: CacheMetadata{
			ProfileName:  profile.Name,
			ProfileHash:  profile.ContentHash(),
			ServerHashes: profile.ServerHashes(),
			SavedAt:      time.Now().UTC(),
			ToolCount:    len(tools),
		},
		ServerInfo: snap.serverInfo,
		Tools:      tools,
	}
	if err := saveCache(c.cfg.DataDir, doc); err != nil {
		c.logger.Error("Failed to persist catalog cache", zap.Error(err))
		return err
	}
	c.logger.Debug("Catalog cache persisted", zap.Int("tools", len(tools)))
	return nil
}
