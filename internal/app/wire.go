package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/updownlabs/updownbot/internal/blob/s3"
	"github.com/updownlabs/updownbot/internal/cache/redis"
	"github.com/updownlabs/updownbot/internal/config"
	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/market"
	"github.com/updownlabs/updownbot/internal/notify"
	"github.com/updownlabs/updownbot/internal/period"
	"github.com/updownlabs/updownbot/internal/pricefeed"
	"github.com/updownlabs/updownbot/internal/settle"
	"github.com/updownlabs/updownbot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. Wire builds
// it; the returned cleanup function tears it down.
type Dependencies struct {
	// Stores
	Markets domain.MarketStore
	Bets    domain.BetStore
	Users   domain.UserStore

	// Caches
	PriceCache  domain.PriceCache
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter

	// Price feed
	Feed domain.PriceFeed

	// Services
	Resolver *period.Resolver
	Manager  *market.Manager
	Query    *market.Query

	// Side channels
	Notifier *notify.Notifier
	Archiver *s3blob.Archiver
}

// Wire constructs the concrete dependency graph from cfg and returns it
// with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Bets = postgres.NewBetStore(pool)
	deps.Users = postgres.NewUserStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, time.Duration(cfg.Redis.PriceTTLSec)*time.Second)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- Price feed ---
	binance := pricefeed.NewBinanceClient(cfg.PriceFeed.BaseURL, cfg.PriceFeed.Quote)
	deps.Feed = pricefeed.NewCachedFeed(binance, deps.PriceCache, logger)

	// --- Market services ---
	deps.Resolver, err = period.NewResolver(cfg.Market.Zone, cfg.Market.Cutover)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: period resolver: %w", err)
	}

	deps.Manager = market.NewManager(
		deps.Markets,
		deps.Bets,
		deps.Resolver,
		deps.Feed,
		deps.Locks,
		cfg.Market.Underlying,
		decimal.NewFromFloat(cfg.Market.Fee),
		logger,
	)
	deps.Query = market.NewQuery(deps.Manager, deps.Bets)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Telegram.Token != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Telegram.Token, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Settlement archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Markets,
			deps.Bets,
			cfg.Archive.Prefix,
		)
	}

	// Lifecycle hooks fan settlements and rolls out to the side channels,
	// whichever surface triggered them.
	deps.Manager.SetHooks(
		func(ctx context.Context, report market.RollReport) {
			deps.Notifier.AnnounceRoll(ctx, report)
		},
		func(ctx context.Context, marketID string, res settle.Result) {
			deps.Notifier.AnnounceSettlement(ctx, marketID, res)
			if deps.Archiver != nil {
				if err := deps.Archiver.ArchiveSettlement(ctx, marketID, res); err != nil {
					logger.Error("archive settlement",
						slog.String("market_id", marketID),
						slog.String("error", err.Error()),
					)
				}
			}
		},
	)

	return deps, cleanup, nil
}
