package app

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/optionbot/internal/cache/redis"
	"github.com/alanyoungcy/optionbot/internal/domain"
	"github.com/alanyoungcy/optionbot/internal/pipeline"
	"github.com/alanyoungcy/optionbot/internal/server"
	"github.com/alanyoungcy/optionbot/internal/server/handler"
	"github.com/alanyoungcy/optionbot/internal/server/ws"
	"github.com/alanyoungcy/optionbot/internal/service"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// TrackMode runs the price poller and milestone evaluator.
func (a *App) TrackMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting track mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startTracker(ctx, g, deps, deps.Events)
	return ignoreCanceled(g.Wait())
}

// ServerMode runs the HTTP API and WebSocket hub. Tracker events arrive over
// Redis from a separate track-mode process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)

	hub := a.newHub(deps, deps.SignalBus)
	g.Go(func() error { return hub.Run(ctx) })
	a.startHTTPServer(ctx, g, deps, hub, deps.Events)
	return ignoreCanceled(g.Wait())
}

// FullMode runs the tracker and the API in one process. With Redis the hub
// relays the event channel; without it, events are handed to the hub
// directly.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	events := deps.Events
	hub := a.newHub(deps, deps.SignalBus)
	if events == nil {
		events = hub
	}
	g.Go(func() error { return hub.Run(ctx) })

	a.startTracker(ctx, g, deps, events)
	a.startHTTPServer(ctx, g, deps, hub, events)
	return ignoreCanceled(g.Wait())
}

func (a *App) newHub(deps *Dependencies, bus domain.SignalBus) *ws.Hub {
	return ws.NewHub(bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Channel:   redis.EventChannel,
		StartedAt: time.Now().UTC(),
		ActiveCount: func(ctx context.Context) (int, error) {
			active, err := deps.PositionStore.ListActive(ctx)
			return len(active), err
		},
	})
}

func (a *App) snapshotter(deps *Dependencies) *service.Snapshotter {
	return service.NewSnapshotter(deps.Renderer, deps.BlobWriter, deps.PositionStore, a.logger)
}

// startTracker adds the poller, evaluator and scheduled archive goroutines to
// g. They return only on cancellation; the poller finishes its in-flight
// cycle first.
func (a *App) startTracker(ctx context.Context, g *errgroup.Group, deps *Dependencies, events domain.EventSink) {
	t := a.cfg.Tracker
	peaks := service.NewPeakQueue()

	poller := service.NewPricePoller(
		deps.PositionStore, deps.Quotes, deps.QuoteCache, events, deps.Notifier,
		peaks, deps.Metrics,
		service.PollerConfig{
			Interval:     t.PollInterval.Duration,
			QuoteTimeout: t.QuoteTimeout.Duration,
			Rules:        t.ExitRules(),
		},
		a.logger,
	)
	evaluator := service.NewMilestoneEvaluator(
		deps.PositionStore, peaks, t.Tiers(), events, deps.Notifier,
		a.snapshotter(deps), deps.Metrics, t.EvaluatorIdleWait.Duration, a.logger,
	)

	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error { return evaluator.Run(ctx) })

	if deps.Archiver != nil && a.cfg.S3.ArchiveCron != "" {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.S3.ArchiveRetentionDays, a.logger)
		g.Go(func() error { return archiver.RunCron(ctx, a.cfg.S3.ArchiveCron) })
	}
}

// NewPositionService builds the operator-facing position service.
func (a *App) NewPositionService(deps *Dependencies, events domain.EventSink) *service.PositionService {
	return service.NewPositionService(service.PositionDeps{
		Store:     deps.PositionStore,
		Audit:     deps.AuditStore,
		Finder:    deps.Quotes,
		Quotes:    deps.Quotes,
		Cache:     deps.QuoteCache,
		Locks:     deps.LockManager,
		Events:    events,
		Notifier:  deps.Notifier,
		Snapshots: a.snapshotter(deps),
		Lister:    deps.BlobLister,
		Reader:    deps.BlobReader,
		Metrics:   deps.Metrics,
	}, a.cfg.Tracker.Tiers(), a.cfg.Tracker.ExitRules(), a.logger)
}

// startHTTPServer adds the API server to g and shuts it down gracefully when
// ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub, events domain.EventSink) {
	positions := a.NewPositionService(deps, events)
	sc := a.cfg.Server

	srv := server.NewServer(server.Config{
		Port:         sc.Port,
		CORSOrigins:  sc.CORSOrigins,
		Username:     sc.Username,
		PasswordHash: sc.PasswordHash,
		RateLimit:    sc.RateLimit,
		RateWindow:   sc.RateWindow.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Positions: handler.NewPositionHandler(positions, a.logger),
		Metrics:   promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		positions.Wait()
		return err
	})
}

// ignoreCanceled treats a clean cancellation as success.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
