package repositories

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "roundcast.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreContract(t *testing.T) {
	store := openTestSQLite(t)
	runContentStoreContract(t, store.ContentStore())
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundcast.db")
	ctx := context.Background()

	first, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = first.Close()

	second, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()

	versions, err := second.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("applied migrations: %v", err)
	}
	if len(versions) != 2 || versions[0] != "0001_init" || versions[1] != "0002_templates" {
		t.Fatalf("unexpected migrations: %v", versions)
	}
}

func TestSQLiteArtifactRequiresKnownOwner(t *testing.T) {
	store := openTestSQLite(t).ContentStore()
	_, err := store.Artifacts.Create(context.Background(), artifactFor(999))
	if err == nil {
		t.Fatal("expected foreign key failure for unknown owner")
	}
}
