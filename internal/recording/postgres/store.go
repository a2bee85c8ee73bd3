package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chandeldivyam/samwise/internal/recording"
)

var _ recording.Store = (*Store)(nil)

// uniqueViolation is the SQLSTATE for a duplicate primary key.
const uniqueViolation = "23505"

const selectColumns = `id, user_id, name, transcription, summary, action_items,
       status, file_path, archive_url, created_at, updated_at`

// Store is a [recording.Store] on a single [pgxpool.Pool]. It is safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Create implements [recording.Store].
func (s *Store) Create(ctx context.Context, r recording.Recording) error {
	const q = `
		INSERT INTO recordings
		    (id, user_id, name, transcription, summary, action_items,
		     status, file_path, archive_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, q,
		r.ID, r.UserID, r.Name, r.Transcription, r.Summary, r.ActionItems,
		string(r.Status), r.FilePath, r.ArchiveURL, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return recording.ErrExists
		}
		return fmt.Errorf("postgres store: create %s: %w", r.ID, err)
	}
	return nil
}

// Get implements [recording.Store].
func (s *Store) Get(ctx context.Context, id string) (recording.Recording, error) {
	q := `SELECT ` + selectColumns + ` FROM recordings WHERE id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return recording.Recording{}, fmt.Errorf("postgres store: get %s: %w", id, err)
	}
	r, err := pgx.CollectExactlyOneRow(rows, scanRecording)
	if errors.Is(err, pgx.ErrNoRows) {
		return recording.Recording{}, recording.ErrNotFound
	}
	if err != nil {
		return recording.Recording{}, fmt.Errorf("postgres store: get %s: %w", id, err)
	}
	return r, nil
}

// Update implements [recording.Store].
func (s *Store) Update(ctx context.Context, r recording.Recording) error {
	const q = `
		UPDATE recordings SET
		    user_id = $2, name = $3, transcription = $4, summary = $5,
		    action_items = $6, status = $7, file_path = $8, archive_url = $9,
		    updated_at = $10
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q,
		r.ID, r.UserID, r.Name, r.Transcription, r.Summary, r.ActionItems,
		string(r.Status), r.FilePath, r.ArchiveURL, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: update %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return recording.ErrNotFound
	}
	return nil
}

// ListByUser implements [recording.Store].
func (s *Store) ListByUser(ctx context.Context, userID string) ([]recording.Recording, error) {
	q := `SELECT ` + selectColumns + ` FROM recordings
		WHERE user_id = $1
		ORDER BY created_at DESC, id`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list %s: %w", userID, err)
	}
	out, err := pgx.CollectRows(rows, scanRecording)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list %s: %w", userID, err)
	}
	return out, nil
}

func scanRecording(row pgx.CollectableRow) (recording.Recording, error) {
	var (
		r      recording.Recording
		status string
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.Name, &r.Transcription, &r.Summary, &r.ActionItems,
		&status, &r.FilePath, &r.ArchiveURL, &r.CreatedAt, &r.UpdatedAt,
	)
	r.Status = recording.Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, err
}
