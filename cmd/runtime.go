package cmd

import (
	"context"

	"github.com/paulschiretz/pgl-booksync/pkg/bookmeta"
	"github.com/paulschiretz/pgl-booksync/pkg/config"
	"github.com/paulschiretz/pgl-booksync/pkg/hook"
	"github.com/paulschiretz/pgl-booksync/pkg/pathsync"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
	"github.com/paulschiretz/pgl-booksync/pkg/syncmetrics"
	"github.com/paulschiretz/pgl-booksync/pkg/syncstatus"
)

// Runtime holds the components wired from one configuration.
type Runtime struct {
	Config       config.Config
	Resolver     bookmeta.Resolver
	Cache        *bookmeta.CachingResolver
	Metrics      *syncmetrics.Collector
	Engine       *pathsync.Engine
	Orchestrator *pathsync.Orchestrator
	Controller   *syncstatus.Controller
}

// NewRuntime builds the resolver, engine, orchestrator and controller for
// cfg. Configured hooks run around every pass. Background passes started
// through the controller run under ctx.
func NewRuntime(ctx context.Context, cfg config.Config) *Runtime {
	rt := &Runtime{Config: cfg, Metrics: syncmetrics.New()}

	if cfg.Metadata.Enabled {
		rt.Resolver = bookmeta.NewCalibreResolver(cfg.Source)
		if cfg.Metadata.CacheSize > 0 {
			rt.Cache = bookmeta.NewCachingResolver(rt.Resolver, cfg.Metadata.CacheSize, cfg.CacheTTL())
			rt.Resolver = rt.Cache
		}
	} else {
		plog.Info("Metadata lookup disabled, naming files from their file names")
		rt.Resolver = bookmeta.NopResolver{}
	}

	rt.Engine = pathsync.NewEngine(rt.Resolver, cfg.EngineOptions(), pathsync.WithMetrics(rt.Metrics.ForReplica))
	rt.Orchestrator = pathsync.NewOrchestrator(rt.Engine, cfg.Source, cfg.Destinations, cfg.OrchestratorOptions())

	opts := []syncstatus.Option{syncstatus.WithObserver(rt.Metrics)}
	if cfg.StateDir != "" {
		opts = append(opts, syncstatus.WithStore(syncstatus.NewStore(cfg.StateDir)))
	}
	syncer := hook.Wrap(rt.Orchestrator, hook.NewExecutor(nil), cfg.HookPlan())
	rt.Controller = syncstatus.New(ctx, syncer, opts...)
	return rt
}

// InvalidateCache drops cached metadata if caching is enabled.
func (rt *Runtime) InvalidateCache() {
	if rt.Cache != nil {
		rt.Cache.Invalidate()
	}
}

// Close stops background work.
func (rt *Runtime) Close() {
	rt.Controller.Close()
}
