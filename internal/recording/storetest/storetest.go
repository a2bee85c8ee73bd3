// Package storetest holds a conformance suite shared by every
// recording.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chandeldivyam/samwise/internal/recording"
)

// Run exercises store. It must start empty; IDs used are prefixed with
// prefix so that suites can share a database.
func Run(t *testing.T, store recording.Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	mk := func(id, user string, offset time.Duration) recording.Recording {
		return recording.Recording{
			ID:        prefix + id,
			UserID:    prefix + user,
			Name:      "meeting " + id,
			Status:    recording.StatusRecording,
			CreatedAt: base.Add(offset),
			UpdatedAt: base.Add(offset),
		}
	}

	t.Run("create and get", func(t *testing.T) {
		r := mk("a", "u1", 0)
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := store.Get(ctx, r.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ID != r.ID || got.UserID != r.UserID || got.Name != r.Name || got.Status != r.Status {
			t.Errorf("got %+v, want %+v", got, r)
		}
		if !got.CreatedAt.Equal(r.CreatedAt) {
			t.Errorf("created_at = %v, want %v", got.CreatedAt, r.CreatedAt)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		if err := store.Create(ctx, mk("a", "u1", 0)); !errors.Is(err, recording.ErrExists) {
			t.Fatalf("err = %v, want ErrExists", err)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		if _, err := store.Get(ctx, prefix+"missing"); !errors.Is(err, recording.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("update", func(t *testing.T) {
		r, err := store.Get(ctx, prefix+"a")
		if err != nil {
			t.Fatal(err)
		}
		r.Status = recording.StatusCompleted
		r.FilePath = "/out/final_a.mp3"
		r.Transcription = "hello"
		r.Summary = "## Summary"
		r.ActionItems = "- None"
		r.ArchiveURL = "s3://b/a.mp3"
		r.UpdatedAt = base.Add(time.Hour)
		r.CreatedAt = base.Add(24 * time.Hour)
		if err := store.Update(ctx, r); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := store.Get(ctx, r.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != recording.StatusCompleted || got.FilePath != r.FilePath ||
			got.Transcription != "hello" || got.Summary != "## Summary" ||
			got.ActionItems != "- None" || got.ArchiveURL != r.ArchiveURL {
			t.Errorf("got %+v", got)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("created_at changed to %v", got.CreatedAt)
		}
		if !got.UpdatedAt.Equal(r.UpdatedAt) {
			t.Errorf("updated_at = %v, want %v", got.UpdatedAt, r.UpdatedAt)
		}

		// Clearing a field must persist too.
		got.Summary = ""
		if err := store.Update(ctx, got); err != nil {
			t.Fatal(err)
		}
		again, _ := store.Get(ctx, r.ID)
		if again.Summary != "" {
			t.Errorf("summary not cleared: %q", again.Summary)
		}
	})

	t.Run("update missing", func(t *testing.T) {
		if err := store.Update(ctx, mk("ghost", "u1", 0)); !errors.Is(err, recording.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("list by user", func(t *testing.T) {
		for _, r := range []recording.Recording{
			mk("b", "u1", 2*time.Minute),
			mk("c", "u1", time.Minute),
			mk("d", "u2", 3*time.Minute),
		} {
			if err := store.Create(ctx, r); err != nil {
				t.Fatal(err)
			}
		}
		got, err := store.ListByUser(ctx, prefix+"u1")
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, r := range got {
			ids = append(ids, r.ID)
		}
		want := []string{prefix + "b", prefix + "c", prefix + "a"}
		if len(ids) != len(want) {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Fatalf("ids = %v, want %v", ids, want)
			}
		}

		none, err := store.ListByUser(ctx, prefix+"nobody")
		if err != nil {
			t.Fatal(err)
		}
		if len(none) != 0 {
			t.Errorf("unexpected rows: %v", none)
		}
	})
}
