package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/vaultkeeper/internal/server"
	"github.com/alanyoungcy/vaultkeeper/internal/server/handler"
	"github.com/alanyoungcy/vaultkeeper/internal/server/ws"
	"github.com/alanyoungcy/vaultkeeper/internal/service"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// writeHeadroom is added to the vault operation budget for the HTTP write
// timeout.
const writeHeadroom = 15 * time.Second

// MonitorMode runs the vault control loop and, when configured, the archiver.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startMonitor(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return ignoreCancel(g.Wait())
}

// ServerMode runs the HTTP + WebSocket API only.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCancel(g.Wait())
}

// FullMode runs the control loop, the archiver and the API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startMonitor(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCancel(g.Wait())
}

func (a *App) startMonitor(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	targets := make([]service.VaultTarget, 0, len(a.cfg.Monitor.Vaults))
	for _, v := range a.cfg.Monitor.Vaults {
		targets = append(targets, service.VaultTarget{
			VaultID:           v.ID,
			MinHealthRatio:    v.MinHealthRatio,
			TargetHealthRatio: v.TargetHealthRatio,
		})
	}

	var alerts service.Alerter
	if deps.Notifier.Enabled() {
		alerts = deps.Notifier
	}

	monitor := service.NewVaultMonitor(
		deps.Operations,
		targets,
		a.cfg.Monitor.Interval.Duration,
		a.cfg.Monitor.Concurrency,
		deps.SignalBus,
		alerts,
		a.logger,
	)
	g.Go(func() error {
		return monitor.Run(ctx)
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled {
		return
	}
	if deps.Archiver == nil {
		a.logger.WarnContext(ctx, "archive enabled but postgres or s3 unavailable; archiver not started")
		return
	}
	archiver := service.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Schedule)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.Health, a.logger),
		Vaults: handler.NewVaultHandler(deps.Actions, deps.Operations, deps.SignalBus, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, deps.OperationStore, a.logger)
	}

	// The WebSocket hub requires the Redis signal bus.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,

		WriteTimeout: a.cfg.OperationBudget() + writeHeadroom,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCancel treats context cancellation as a clean shutdown.
func ignoreCancel(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("app: %w", err)
}
