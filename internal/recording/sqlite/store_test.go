package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chandeldivyam/samwise/internal/recording"
	"github.com/chandeldivyam/samwise/internal/recording/sqlite"
	"github.com/chandeldivyam/samwise/internal/recording/storetest"
)

func openTemp(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "samwise.db")
	store, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestStore(t *testing.T) {
	store, _ := openTemp(t)
	storetest.Run(t, store, "")
}

func TestStore_InMemory(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	storetest.Run(t, store, "mem-")
}

func TestStore_Reopen(t *testing.T) {
	store, path := openTemp(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	err := store.Create(ctx, recording.Recording{
		ID: "r1", UserID: "u", Name: "n", Status: recording.StatusProcessed,
		FilePath: "/tmp/final_r1.mp3", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	again, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if err := again.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	got, err := again.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != recording.StatusProcessed || got.FilePath != "/tmp/final_r1.mp3" {
		t.Errorf("got %+v", got)
	}
}
