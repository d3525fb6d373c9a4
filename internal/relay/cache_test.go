package relay

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache(time.Minute, 8)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	if err := cache.Set(ctx, "k", "handle"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if handle, ok, _ := cache.Get(ctx, "k"); !ok || handle != "handle" {
		t.Fatalf("expected hit got %q %v", handle, ok)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestMemoryCacheBounded(t *testing.T) {
	cache := NewMemoryCache(time.Hour, 2)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := cache.Set(ctx, key, "h-"+key); err != nil {
			t.Fatalf("set: %v", err)
		}
		now = now.Add(time.Second)
	}

	if cache.Len() != 2 {
		t.Fatalf("expected 2 entries got %d", cache.Len())
	}
	if _, ok, _ := cache.Get(ctx, "a"); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
	if _, ok, _ := cache.Get(ctx, "c"); !ok {
		t.Fatal("expected newest entry to be kept")
	}
}

func TestMemoryCacheEvictsExpiredFirst(t *testing.T) {
	cache := NewMemoryCache(time.Minute, 2)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cache.Set(ctx, "a", "1")
	now = now.Add(2 * time.Minute)
	_ = cache.Set(ctx, "b", "2")
	_ = cache.Set(ctx, "c", "3")

	if _, ok, _ := cache.Get(ctx, "b"); !ok {
		t.Fatal("expected live entry to survive while an expired one is evicted")
	}
	if cache.Len() != 2 {
		t.Fatalf("expected 2 entries got %d", cache.Len())
	}
}

func TestPreviewKeyStable(t *testing.T) {
	a := PreviewKey{Source: "s", Text: "t", Effect: "mono"}
	b := PreviewKey{Source: "s", Text: "t", Effect: "mono"}
	c := PreviewKey{Source: "s", Text: "t2", Effect: "mono"}
	if a.String() != b.String() {
		t.Fatal("expected identical keys to match")
	}
	if a.String() == c.String() {
		t.Fatal("expected different text to change the key")
	}
}
