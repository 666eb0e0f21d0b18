// Package runtime composes the proxy: configuration, logging, health,
// supervisor, catalog, discovery, router and scheduler, wired together and
// torn down as a unit. There is no ambient state; everything threads through
// the App.
package runtime

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/discovery"
	"github.com/toolgate/toolgate/internal/health"
	"github.com/toolgate/toolgate/internal/logs"
	"github.com/toolgate/toolgate/internal/router"
	"github.com/toolgate/toolgate/internal/scheduler"
	"github.com/toolgate/toolgate/internal/storage"
	"github.com/toolgate/toolgate/internal/upstream"
)

// Options tweak app construction.
type Options struct {
	// DisableEmbeddings forces keyword-fallback discovery.
	DisableEmbeddings bool
	// Confirmer is the upstream confirmation channel, when the host
	// provides one.
	Confirmer router.Confirmer
}

// App owns every component of a running toolgate instance.
type App struct {
	Config  *config.Config
	Profile *config.Profile
	Logger  *zap.Logger

	Health    *health.Store
	Manager   *upstream.Manager
	Catalog   *catalog.Catalog
	Engine    *discovery.Engine
	DB        *storage.BoltDB
	Router    *router.Router
	Scheduler *scheduler.Scheduler

	probeList []string
}

// New builds and wires an app for the configured profile. Nothing is
// connected or served yet; Start kicks off the background work.
func New(cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := config.EnsureStateLayout(cfg.DataDir); err != nil {
		return nil, err
	}
	if cfg.Logging != nil && cfg.Logging.LogDir == "" {
		cfg.Logging.LogDir = filepath.Join(cfg.DataDir, "logs")
	}

	logger, err := logs.Setup(cfg.Logging)
	if err != nil {
		return nil, err
	}

	profile, err := config.LoadProfile(cfg.DataDir, cfg.Profile)
	if err != nil {
		return nil, err
	}

	healthStore, err := health.NewStore(cfg.DataDir, cfg.UnhealthyAfter, cfg.DisableAfter, logger.Named("health"))
	if err != nil {
		return nil, err
	}

	manager := upstream.NewManager(cfg, profile, healthStore, logger)
	cat := catalog.New(cfg, manager, logger)

	var embedder discovery.Embedder
	if !opts.DisableEmbeddings {
		embedder = discovery.NewHashingEmbedder()
	}
	engine, err := discovery.NewEngine(cfg, cat, embedder, profile.ContentHash(), logger)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.DataDir, logger.Named("storage"))
	if err != nil {
		return nil, err
	}

	rt := router.New(cfg, manager, cat, engine, embedder, db, opts.Confirmer, logger)
	sched := scheduler.New(cfg, scheduler.NewStore(db, logger.Named("jobstore")), rt, logger)

	app := &App{
		Config:    cfg,
		Profile:   profile,
		Logger:    logger,
		Health:    healthStore,
		Manager:   manager,
		Catalog:   cat,
		Engine:    engine,
		DB:        db,
		Router:    rt,
		Scheduler: sched,
	}

	// Every catalog change flows into the discovery indexes.
	cat.SetOnChange(func(serverName string) {
		if err := engine.IndexServer(serverName); err != nil {
			logger.Warn("Failed to index server",
				zap.String("server", serverName), zap.Error(err))
		}
	})
	return app, nil
}

// Start loads persisted state and launches background indexing and the
// scheduler. It returns immediately: the router can serve upstream requests
// before indexing completes.
func (a *App) Start(ctx context.Context) error {
	probeList, err := a.Catalog.Load(a.Profile)
	if err != nil {
		a.Logger.Warn("Catalog cache unusable, probing all servers", zap.Error(err))
		probeList = enabledServers(a.Profile)
	}
	a.probeList = probeList

	if err := a.Engine.Load(); err != nil {
		a.Logger.Warn("Embedding store unusable, re-embedding", zap.Error(err))
	}

	// Index whatever came out of the cache before any probe returns.
	for name := range a.Profile.Servers {
		if len(a.Catalog.ToolsOf(name)) > 0 {
			if err := a.Engine.IndexServer(name); err != nil {
				a.Logger.Warn("Failed to index cached server",
					zap.String("server", name), zap.Error(err))
			}
		}
	}

	go func() {
		if err := a.Catalog.Rebuild(ctx, a.probeList, "startup"); err != nil {
			a.Logger.Warn("Startup catalog rebuild failed", zap.Error(err))
		}
	}()

	return a.Scheduler.Start(ctx)
}

// RefreshAll re-probes every enabled server regardless of cache freshness.
func (a *App) RefreshAll(ctx context.Context) error {
	return a.Catalog.Rebuild(ctx, enabledServers(a.Profile), "manual refresh")
}

// WaitForCatalog blocks until the catalog has tools or the timeout elapses.
// CLI one-shot commands use it; the serving path never does.
func (a *App) WaitForCatalog(ctx context.Context, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for a.Catalog.Count() == 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Close tears the app down in reverse dependency order.
func (a *App) Close() {
	a.Scheduler.Stop()
	a.Manager.StopAll()
	if err := a.Engine.Close(); err != nil {
		a.Logger.Debug("Error closing discovery engine", zap.Error(err))
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Debug("Error closing state database", zap.Error(err))
	}
	_ = a.Logger.Sync()
}

func enabledServers(profile *config.Profile) []string {
	var names []string
	for name, srv := range profile.Servers {
		if srv.Enabled {
			names = append(names, name)
		}
	}
	return names
}
