package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roundcast/backend/internal/config"
)

type fakeTelegram struct{}

func (fakeTelegram) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (fakeTelegram) StopReceivingUpdates() {}

func (fakeTelegram) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	return tgbotapi.Message{}, errors.New("offline")
}

func (fakeTelegram) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return nil, errors.New("offline")
}

func (fakeTelegram) GetFileDirectURL(string) (string, error) {
	return "", errors.New("offline")
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	stock := filepath.Join(dir, "stock")
	if err := os.MkdirAll(stock, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stock, "waves.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return config.Config{
		BotToken:          "token",
		RelayChat:         "-1001",
		StoreDriver:       "sqlite",
		SQLitePath:        filepath.Join(dir, "db", "roundcast.db"),
		LogLevel:          "info",
		TempDir:           filepath.Join(dir, "tmp"),
		ArchiveDir:        filepath.Join(dir, "sources"),
		StockClipDir:      stock,
		YTDLPPath:         "yt-dlp",
		YTDLPTimeout:      time.Second,
		MaxDuration:       60 * time.Second,
		ProcessingTimeout: time.Second,
		SessionTTL:        time.Minute,
		PreviewCacheTTL:   time.Minute,
		PreviewCacheSize:  8,
		Workers:           1,
		QueueSize:         1,
		LockPath:          filepath.Join(dir, "roundcast.lock"),
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildDependencies(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	deps, cleanup, err := buildDependencies(ctx, cfg, fakeTelegram{}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleanup == nil {
		t.Fatal("expected cleanup function")
	}
	defer cleanup()

	if deps.Machine == nil || deps.Router == nil {
		t.Fatal("expected machine and router")
	}
	check, ok := deps.Checks["store"]
	if !ok {
		t.Fatal("expected a store health check")
	}
	if err := check.Check(ctx); err != nil {
		t.Fatalf("store check: %v", err)
	}
	if _, ok := deps.Checks["redis"]; ok {
		t.Fatal("redis check registered without redis configured")
	}
	if _, err := os.Stat(cfg.ArchiveDir); err != nil {
		t.Fatalf("expected the local archive directory to exist: %v", err)
	}
}

func TestBuildDependenciesFailures(t *testing.T) {
	tests := map[string]func(*config.Config){
		"relay chat":   func(c *config.Config) { c.RelayChat = "not-a-chat" },
		"store driver": func(c *config.Config) { c.StoreDriver = "mysql" },
		"redis":        func(c *config.Config) { c.RedisAddr = "127.0.0.1:1" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			mutate(&cfg)
			if _, _, err := buildDependencies(context.Background(), cfg, fakeTelegram{}, quietLogger()); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestMigrateSQLite(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	if err := Migrate(context.Background(), cfg, "up", &out); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out.String(), "[x] 0001_init") {
		t.Fatalf("expected the initial migration in the report, got %q", out.String())
	}

	if err := Migrate(context.Background(), cfg, "down", &out); err == nil {
		t.Fatal("expected unknown commands to be rejected")
	}
}

func TestListArtifactsEmptyCatalog(t *testing.T) {
	cfg := testConfig(t)
	artifacts, err := ListArtifacts(context.Background(), cfg, 42, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(artifacts) != 0 {
		t.Fatalf("expected an empty catalog, got %d", len(artifacts))
	}
}

func TestAcquireLockSingleInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "roundcast.lock")
	first, err := acquireLock(path)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	if _, err := acquireLock(path); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	second, err := acquireLock(path)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	_ = second.Unlock()
}

func TestListMigrations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_templates.sql", "0001_init.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := listMigrations(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || files[0].name != "0001_init.sql" || files[1].name != "0002_templates.sql" {
		t.Fatalf("unexpected migrations %+v", files)
	}
}

func TestShouldRetryMigration(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("syntax error"), false},
		{context.DeadlineExceeded, true},
		{fmt.Errorf("apply: %w", &pgconn.PgError{Code: "40001"}), true},
		{&pgconn.PgError{Code: "40P01"}, true},
		{&pgconn.PgError{Code: "42601"}, false},
		{pgx.ErrTxClosed, true},
	}
	for _, tt := range tests {
		if got := shouldRetryMigration(tt.err); got != tt.want {
			t.Errorf("shouldRetryMigration(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestMigrationBackoff(t *testing.T) {
	if got := migrationBackoff(1); got != migrationBaseBackoff {
		t.Fatalf("expected the base backoff first, got %v", got)
	}
	if got := migrationBackoff(2); got != 2*migrationBaseBackoff {
		t.Fatalf("expected doubling, got %v", got)
	}
	if got := migrationBackoff(20); got != migrationMaxBackoff {
		t.Fatalf("expected the cap, got %v", got)
	}
}
