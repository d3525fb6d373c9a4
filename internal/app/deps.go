package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roundcast/backend/internal/bot"
	"github.com/roundcast/backend/internal/config"
	"github.com/roundcast/backend/internal/db"
	"github.com/roundcast/backend/internal/handlers"
	"github.com/roundcast/backend/internal/media"
	"github.com/roundcast/backend/internal/middleware"
	"github.com/roundcast/backend/internal/relay"
	"github.com/roundcast/backend/internal/repositories"
	"github.com/roundcast/backend/internal/session"
	"github.com/roundcast/backend/internal/sources"
	"github.com/roundcast/backend/internal/storage"
)

// Telegram is the Bot API surface the process needs. *tgbotapi.BotAPI satisfies it.
type Telegram interface {
	bot.API
	sources.FileLinker
}

// dependencies holds the wired components of a serving process.
type dependencies struct {
	Machine *session.Machine
	Router  *bot.Router
	Checks  map[string]handlers.Checker
}

// cleanups runs registered release functions in reverse order.
type cleanups []func()

func (c *cleanups) add(fn func()) { *c = append(*c, fn) }

func (c cleanups) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// buildDependencies wires the store, media engine, relay, sources, state
// machine and router. The returned cleanup releases everything that was opened.
func buildDependencies(ctx context.Context, cfg config.Config, tg Telegram, logger *slog.Logger) (*dependencies, func(), error) {
	var release cleanups
	fail := func(err error) (*dependencies, func(), error) {
		release.run()
		return nil, nil, err
	}

	checks := make(map[string]handlers.Checker)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	release.add(store.Close)
	checks["store"] = handlers.CheckFunc(store.Ping)

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return fail(fmt.Errorf("create temp directory: %w", err))
	}
	pool := media.NewPool(media.PoolConfig{QueueSize: cfg.QueueSize, Workers: cfg.Workers}, logger)
	release.add(func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ProcessingTimeout)
		defer cancel()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn("media pool shutdown incomplete", "error", err)
		}
	})
	engine := media.NewEngine(media.EngineConfig{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		TempDir:     cfg.TempDir,
		FontPath:    cfg.FontPath,
		MaxDuration: cfg.MaxDuration,
	}, pool, logger)

	cache, err := previewCache(ctx, cfg, checks, &release)
	if err != nil {
		return fail(err)
	}
	destination, err := relay.ParseDestination(cfg.RelayChat)
	if err != nil && !errors.Is(err, relay.ErrDestinationUnset) {
		return fail(err)
	}
	if destination.IsZero() {
		logger.Warn("no relay chat configured, publishing will fail")
	}
	publisher := relay.NewPublisher(tg, destination, cache, logger)

	archive, err := sourceArchive(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	platform := &sources.PlatformFiles{Bot: tg, TempDir: cfg.TempDir, MaxBytes: cfg.MaxDownloadBytes}
	resolver := sources.NewResolver(archive, platform, logger)
	resolver.Register(sources.SchemeStock, &sources.LocalArchive{Dir: cfg.StockClipDir, TempDir: cfg.TempDir})
	stock, err := sources.ListStock(cfg.StockClipDir)
	if err != nil {
		return fail(err)
	}
	logger.Info("stock clips loaded", "count", len(stock), "dir", cfg.StockClipDir)

	ytdlp := sources.NewYTDLPDownloader(cfg.YTDLPPath, cfg.YTDLPTimeout, cfg.MaxDownloadBytes)
	fetcher := sources.NewFetcher(ytdlp, cfg.TempDir, cfg.MaxDownloadBytes, logger)

	limiter := middleware.NewKeyedRateLimiter(cfg.IntakeRequests, cfg.IntakeWindow, cfg.IntakeBurst, cfg.SessionTTL)

	machine := session.New(session.Deps{
		Store:   store,
		Engine:  engine,
		Relay:   publisher,
		Sources: resolver,
		Fetcher: fetcher,
		Limiter: limiter,
		Logger:  logger,
	}, session.Config{
		MaxDuration:       cfg.MaxDuration,
		ProcessingTimeout: cfg.ProcessingTimeout,
		SessionTTL:        cfg.SessionTTL,
		StockClips:        stock,
		Features: session.Features{
			Caption:      cfg.Features.Caption,
			Effects:      cfg.Features.Effects,
			Templates:    cfg.Features.Templates,
			AudioReplace: cfg.Features.AudioReplace,
		},
	})

	router := bot.New(tg, machine, logger, bot.Options{})

	return &dependencies{Machine: machine, Router: router, Checks: checks}, release.run, nil
}

// openStore connects the configured Content Store backend. Callers release
// it with the bundle's Close.
func openStore(ctx context.Context, cfg config.Config) (repositories.ContentStore, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return repositories.ContentStore{}, err
		}
		return repositories.NewPostgresContentStore(pool), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return repositories.ContentStore{}, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		store, err := repositories.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return repositories.ContentStore{}, err
		}
		return store.ContentStore(), nil
	}
	return repositories.ContentStore{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// previewCache picks Redis when an address is configured and the in-memory
// cache otherwise.
func previewCache(ctx context.Context, cfg config.Config, checks map[string]handlers.Checker, release *cleanups) (relay.Cache, error) {
	if cfg.RedisAddr == "" {
		return relay.NewMemoryCache(cfg.PreviewCacheTTL, cfg.PreviewCacheSize), nil
	}
	client, err := relay.ConnectRedis(ctx, relay.RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err != nil {
		return nil, err
	}
	release.add(func() { _ = client.Close() })
	checks["redis"] = handlers.CheckFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return relay.NewRedisCache(client, cfg.PreviewCacheTTL), nil
}

// sourceArchive keeps original footage in S3 when a bucket is configured and
// on local disk otherwise.
func sourceArchive(ctx context.Context, cfg config.Config) (sources.Archive, error) {
	if cfg.ObjectStore.Enabled() {
		store, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, err
		}
		return &sources.S3Archive{Store: store, TempDir: cfg.TempDir}, nil
	}
	local, err := sources.NewLocalArchive(cfg.ArchiveDir, cfg.TempDir)
	if err != nil {
		return nil, err
	}
	return local, nil
}
