// Package recording manages the lifecycle of a meeting recording from
// capture to summary.
//
// A [Recording] row moves through these statuses:
//
//	recording → processing → processing_completed → transcribing → completed
//
// with failed reachable from capture and post-processing errors. The
// [Service] drives the transitions; a [Store] persists the rows. Store
// implementations live in sub-packages (postgres, sqlite) next to the
// in-memory [MemStore].
package recording

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a recording.
type Status string

const (
	StatusRecording    Status = "recording"
	StatusProcessing   Status = "processing"
	StatusProcessed    Status = "processing_completed"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var (
	// ErrNotFound is returned by a [Store] for an unknown recording ID.
	ErrNotFound = errors.New("recording: not found")

	// ErrExists is returned by [Store.Create] for a duplicate ID.
	ErrExists = errors.New("recording: already exists")
)

// Recording is one captured meeting.
type Recording struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Transcription string    `json:"transcription,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	ActionItems   string    `json:"action_items,omitempty"`
	Status        Status    `json:"status"`
	FilePath      string    `json:"file_path,omitempty"`
	ArchiveURL    string    `json:"archive_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists recordings. Implementations must be safe for concurrent
// use.
type Store interface {
	// Create inserts r. It returns [ErrExists] if the ID is taken.
	Create(ctx context.Context, r Recording) error

	// Get returns the recording with id or [ErrNotFound].
	Get(ctx context.Context, id string) (Recording, error)

	// Update replaces every mutable field of the stored row with r's.
	// CreatedAt is never changed. Returns [ErrNotFound] for an unknown ID.
	Update(ctx context.Context, r Recording) error

	// ListByUser returns the user's recordings, newest first.
	ListByUser(ctx context.Context, userID string) ([]Recording, error)
}
