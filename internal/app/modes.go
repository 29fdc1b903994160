package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/updownlabs/updownbot/internal/bot"
	"github.com/updownlabs/updownbot/internal/pricefeed"
	"github.com/updownlabs/updownbot/internal/server"
	"github.com/updownlabs/updownbot/internal/server/handler"
)

// FullMode runs everything: the Telegram bot, the HTTP API, and the price
// worker.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startBot(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	a.startPriceWorker(ctx, g, deps)

	return g.Wait()
}

// APIMode runs the HTTP API and the price worker without the chat bot.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps)
	a.startPriceWorker(ctx, g, deps)

	return g.Wait()
}

// BotMode runs the Telegram bot and the price worker without the HTTP API.
// Period rolls then rely on another replica exposing the maintenance
// endpoint.
func (a *App) BotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting bot mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startBot(ctx, g, deps); err != nil {
		return fmt.Errorf("bot mode: %w", err)
	}
	a.startPriceWorker(ctx, g, deps)

	return g.Wait()
}

// startBot connects to Telegram and adds the update loop to the group.
func (a *App) startBot(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	b, err := bot.New(
		a.cfg.Telegram.Token,
		deps.Manager,
		deps.Query,
		deps.Users,
		bot.Options{
			StakePresets:  a.cfg.Market.StakePresets,
			AdminIDs:      a.cfg.Telegram.AdminIDs,
			UpdateTimeout: a.cfg.Telegram.UpdateTimeout,
		},
		a.logger,
	)
	if err != nil {
		return err
	}

	g.Go(func() error {
		return b.Run(ctx)
	})
	return nil
}

// startHTTPServer adds the API server and its shutdown watcher to the
// group.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.NewServer(
		server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		},
		server.Handlers{
			Health:      handler.NewHealthHandler(a.cfg.Mode),
			Market:      handler.NewMarketHandler(deps.Query, a.logger),
			Maintenance: handler.NewMaintenanceHandler(deps.Manager, a.cfg.Server.MaintenanceSecret, a.logger),
		},
		deps.RateLimiter,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startPriceWorker keeps the reference price fresh: a websocket stream
// feeding the cache when enabled, plus a poll loop persisting the latest
// price onto the current market.
func (a *App) startPriceWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.PriceFeed.Stream {
		streamer := pricefeed.NewStreamer(
			a.cfg.PriceFeed.StreamURL,
			pricefeed.NewBinanceClient(a.cfg.PriceFeed.BaseURL, a.cfg.PriceFeed.Quote),
			a.cfg.Market.Underlying,
			deps.PriceCache,
			a.logger,
		)
		g.Go(func() error {
			return streamer.Run(ctx)
		})
	}

	interval := a.cfg.PriceFeed.Poll.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				deps.Manager.RefreshLastPrice(ctx)
			}
		}
	})
}
