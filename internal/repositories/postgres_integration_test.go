//go:build integration

package repositories

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/jackc/pgx/v5/pgxpool"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresContentStoreContract(t *testing.T) {
	resetDatabase(t)
	runContentStoreContract(t, ContentStore{
		Users:     NewPostgresUserRepository(testPool),
		Artifacts: NewPostgresArtifactRepository(testPool),
		Templates: NewPostgresTemplateRepository(testPool),
	})
}

func TestPostgresArtifactRequiresKnownOwner(t *testing.T) {
	resetDatabase(t)
	repo := NewPostgresArtifactRepository(testPool)
	if _, err := repo.Create(context.Background(), artifactFor(999)); err == nil {
		t.Fatal("expected foreign key failure for unknown owner")
	}
}

func TestPostgresArtifactRejectsNonSquare(t *testing.T) {
	resetDatabase(t)
	ctx := context.Background()
	users := NewPostgresUserRepository(testPool)
	if err := users.Upsert(ctx, userFor(7)); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	artifact := artifactFor(7)
	artifact.Height = artifact.Width + 1
	if _, err := NewPostgresArtifactRepository(testPool).Create(ctx, artifact); err == nil {
		t.Fatal("expected check constraint failure for non-square artifact")
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE templates, artifacts, users CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}
