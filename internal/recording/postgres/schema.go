// Package postgres provides a PostgreSQL-backed [recording.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	svc, err := recording.NewService(store, recorder, outDir)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlRecordings = `
CREATE TABLE IF NOT EXISTS recordings (
    id            TEXT         PRIMARY KEY,
    user_id       TEXT         NOT NULL,
    name          TEXT         NOT NULL,
    transcription TEXT         NOT NULL DEFAULT '',
    summary       TEXT         NOT NULL DEFAULT '',
    action_items  TEXT         NOT NULL DEFAULT '',
    status        TEXT         NOT NULL,
    file_path     TEXT         NOT NULL DEFAULT '',
    archive_url   TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_recordings_user_created
    ON recordings (user_id, created_at DESC);
`

// Migrate creates the recordings table and its indexes if they do not exist.
// It is idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlRecordings); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
