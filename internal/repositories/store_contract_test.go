package repositories

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/roundcast/backend/internal/models"
)

// runContentStoreContract exercises the behaviour every backend must share.
func runContentStoreContract(t *testing.T, store ContentStore) {
	t.Helper()
	ctx := context.Background()

	owner := models.User{ID: 1001, Username: "alice", DisplayName: "Alice"}
	if err := store.Users.Upsert(ctx, owner); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	first, err := store.Users.Find(ctx, owner.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}

	owner.DisplayName = "Alice B."
	owner.RegisteredAt = time.Now().UTC().Add(24 * time.Hour)
	if err := store.Users.Upsert(ctx, owner); err != nil {
		t.Fatalf("refresh user: %v", err)
	}
	refreshed, err := store.Users.Find(ctx, owner.ID)
	if err != nil {
		t.Fatalf("find refreshed user: %v", err)
	}
	if refreshed.DisplayName != "Alice B." {
		t.Fatalf("expected display name refresh, got %q", refreshed.DisplayName)
	}
	if !timesClose(refreshed.RegisteredAt, first.RegisteredAt, time.Millisecond) {
		t.Fatalf("registration timestamp changed: %v -> %v", first.RegisteredAt, refreshed.RegisteredAt)
	}

	if _, err := store.Users.Find(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	empty, err := store.Artifacts.ListByOwner(ctx, owner.ID, 0)
	if err != nil {
		t.Fatalf("list empty catalog: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty catalog, got %d rows", len(empty))
	}

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	older, err := store.Artifacts.Create(ctx, models.Artifact{
		OwnerID:       owner.ID,
		ContentHandle: "note-1",
		RelayMessage:  10,
		SourceHandle:  "file:/archive/1.mp4",
		Text:          "hello",
		Duration:      12,
		Width:         480,
		Height:        480,
		CreatedAt:     base,
	})
	if err != nil {
		t.Fatalf("create artifact: %v", err)
	}
	if older.ID == 0 {
		t.Fatal("expected store-assigned id")
	}

	newer, err := store.Artifacts.Create(ctx, models.Artifact{
		OwnerID:       owner.ID,
		ContentHandle: "note-2",
		RelayMessage:  11,
		SourceHandle:  "tg:raw-2",
		Caption:       "caption",
		Effect:        models.EffectMono,
		Duration:      60,
		Width:         720,
		Height:        720,
		CreatedAt:     base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("create second artifact: %v", err)
	}

	list, err := store.Artifacts.ListByOwner(ctx, owner.ID, 0)
	if err != nil {
		t.Fatalf("list artifacts: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("expected newest-first order, got %+v", list)
	}
	if list[0].Effect != models.EffectMono || list[0].Caption != "caption" {
		t.Fatalf("unexpected artifact fields: %+v", list[0])
	}

	capped, err := store.Artifacts.ListByOwner(ctx, owner.ID, 1)
	if err != nil {
		t.Fatalf("list capped: %v", err)
	}
	if len(capped) != 1 || capped[0].ID != newer.ID {
		t.Fatalf("expected capped list with newest artifact, got %+v", capped)
	}

	updated := older
	updated.ContentHandle = "note-1b"
	updated.RelayMessage = 20
	updated.Text = "changed"
	if err := store.Artifacts.Update(ctx, updated); err != nil {
		t.Fatalf("update artifact: %v", err)
	}
	fetched, err := store.Artifacts.Get(ctx, older.ID)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if fetched.ContentHandle != "note-1b" || fetched.RelayMessage != 20 || fetched.Text != "changed" {
		t.Fatalf("update did not persist: %+v", fetched)
	}
	if !timesClose(fetched.CreatedAt, base, time.Millisecond) {
		t.Fatalf("created_at changed on update: %v", fetched.CreatedAt)
	}

	missing := updated
	missing.ID = older.ID + newer.ID + 100
	if err := store.Artifacts.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating missing artifact, got %v", err)
	}

	if err := store.Artifacts.Delete(ctx, older.ID); err != nil {
		t.Fatalf("delete artifact: %v", err)
	}
	if _, err := store.Artifacts.Get(ctx, older.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Artifacts.Delete(ctx, older.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}

	tpl, err := store.Templates.Create(ctx, models.Template{OwnerID: owner.ID, ContentHandle: newer.ContentHandle})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if err := store.Artifacts.Delete(ctx, newer.ID); err != nil {
		t.Fatalf("delete source artifact: %v", err)
	}
	templates, err := store.Templates.ListByOwner(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(templates) != 1 || templates[0].ContentHandle != "note-2" {
		t.Fatalf("template should outlive its artifact, got %+v", templates)
	}
	if err := store.Templates.Delete(ctx, owner.ID+1, tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another owner's template, got %v", err)
	}
	if err := store.Templates.Delete(ctx, owner.ID, tpl.ID); err != nil {
		t.Fatalf("delete template: %v", err)
	}
}

func timesClose(a, b time.Time, delta time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= delta
}

func artifactFor(ownerID int64) models.Artifact {
	return models.Artifact{
		OwnerID:       ownerID,
		ContentHandle: "note",
		RelayMessage:  1,
		SourceHandle:  "tg:raw",
		Duration:      5,
		Width:         240,
		Height:        240,
	}
}

func userFor(id int64) models.User {
	return models.User{ID: id, Username: fmt.Sprintf("user%d", id), DisplayName: "Test"}
}
