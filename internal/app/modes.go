package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/arbscreener/internal/blob/s3"
	"github.com/alanyoungcy/arbscreener/internal/engine"
	"github.com/alanyoungcy/arbscreener/internal/feed"
	"github.com/alanyoungcy/arbscreener/internal/notify"
	"github.com/alanyoungcy/arbscreener/internal/server"
	"github.com/alanyoungcy/arbscreener/internal/server/handler"
	"github.com/alanyoungcy/arbscreener/internal/server/ws"
)

// StandaloneMode runs the engine and the HTTP API on an in-process bus. Quotes
// arrive through POST /api/ingest.
func (a *App) StandaloneMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering standalone mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode consumes quotes from the Redis feed, mirrors them for warm
// restarts, records closed opportunities to Postgres and archives old history
// on a schedule.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering full mode")

	if a.cfg.Redis.WarmStart && deps.QuoteCache != nil {
		if _, err := deps.Engine.Warm(ctx, deps.QuoteCache); err != nil {
			a.logger.WarnContext(ctx, "warm start failed, starting empty",
				slog.String("error", err.Error()))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	quoteFeed := feed.NewQuoteFeed(deps.Bus, a.cfg.Redis.QuoteChannel, deps.Engine, a.logger)
	g.Go(func() error {
		return quoteFeed.Run(ctx)
	})
	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})

	if a.cfg.Archive.Enabled {
		if deps.Archiver == nil {
			return errors.New("app: archive enabled but archiver not wired")
		}
		g.Go(func() error {
			return deps.Archiver.RunCron(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// ArchiveMode runs a single archive pass and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering archive mode")
	if deps.Archiver == nil {
		return errors.New("app: archiver not wired")
	}
	n, err := deps.Archiver.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "archive pass complete", slog.Int64("archived", n))
	return nil
}

// startHTTPServer adds the WebSocket hub, the HTTP server and its graceful
// shutdown to g. History, alert and archive routes are registered only when
// their backing dependency is wired.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.Bus, ws.Config{
		Mode:      a.cfg.Mode,
		Channels:  []string{engine.DiffsPattern, notify.AlertsChannel},
		StartedAt: a.startedAt,
	}, a.logger)

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, a.startedAt, deps.Engine),
		Diffs:  handler.NewDiffHandler(deps.Engine, a.logger),
		Alerts: handler.NewAlertHandler(deps.Bus, notify.AlertsStream, a.logger),
	}
	if deps.History != nil {
		handlers.History = handler.NewHistoryHandler(deps.History, a.logger)
	}
	if deps.BlobLister != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobLister, s3blob.ArchivePrefix, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
