package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofrs/flock"

	"github.com/roundcast/backend/internal/config"
	"github.com/roundcast/backend/internal/handlers"
	"github.com/roundcast/backend/internal/httpserver"
	"github.com/roundcast/backend/internal/logging"
	"github.com/roundcast/backend/internal/middleware"
	"github.com/roundcast/backend/internal/models"
)

// ErrAlreadyRunning indicates another poller holds the instance lock.
var ErrAlreadyRunning = errors.New("another roundcast instance is running")

// Serve runs the bot, the session janitor and the ops HTTP server until ctx is
// cancelled or the process receives SIGINT or SIGTERM.
func Serve(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	lock, err := acquireLock(cfg.LockPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release instance lock", "error", err)
		}
	}()

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("connect to telegram: %w", err)
	}
	logger.Info("authorised with telegram", "bot", api.Self.UserName)

	deps, cleanup, err := buildDependencies(ctx, cfg, api, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, handlers.Dependencies{
		Checks:  deps.Checks,
		Limiter: middleware.NewKeyedRateLimiter(20, time.Second, 40, 10*time.Minute),
	})
	handler := middleware.RequestLogger(logger, handlers.HealthPath, handlers.MetricsPath)(mux)
	srv := httpserver.New(cfg.OpsPort, handler)

	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr(), err)
	}
	logger.Info("starting ops server", "port", cfg.OpsPort)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Run(runCtx, ln) }()
	go func() { errCh <- deps.Router.Run(runCtx) }()
	go deps.Machine.RunJanitor(runCtx, 0)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var runErr error
	received := 0
	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case runErr = <-errCh:
		received++
		logger.Error("component stopped unexpectedly", "error", runErr)
	}
	cancel()

	for ; received < 2; received++ {
		if err := <-errCh; err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// ListArtifacts returns up to limit of userID's artifacts, newest first.
func ListArtifacts(ctx context.Context, cfg config.Config, userID int64, limit int) ([]models.Artifact, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Artifacts.ListByOwner(ctx, userID, limit)
}

// acquireLock takes the single-instance lock so two pollers never share a token.
func acquireLock(path string) (*flock.Flock, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lock directory: %w", err)
		}
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
	}
	return lock, nil
}
