package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order on startup. Statements are idempotent so a
// restart against an existing database is a no-op.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS novels (
		id             UUID PRIMARY KEY,
		title          TEXT        NOT NULL,
		raw_text_path  TEXT        NOT NULL,
		total_segments BIGINT      NOT NULL DEFAULT 0,
		status         TEXT        NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS text_segments (
		id            UUID PRIMARY KEY,
		novel_id      UUID   NOT NULL REFERENCES novels(id) ON DELETE CASCADE,
		segment_index BIGINT NOT NULL,
		content       TEXT   NOT NULL,
		char_count    BIGINT NOT NULL,
		UNIQUE (novel_id, segment_index)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_text_segments_novel
		ON text_segments (novel_id, segment_index)`,

	`CREATE TABLE IF NOT EXISTS voices (
		id          UUID PRIMARY KEY,
		name        TEXT        NOT NULL,
		audio_path  TEXT        NOT NULL,
		description TEXT        NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates all catalog tables that do not yet exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
