package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netscane/rovel/internal/catalog"
)

// VoiceRepo implements [catalog.VoiceRepository]. Obtain one via
// [Store.Voices].
type VoiceRepo struct {
	pool *pgxpool.Pool
}

// Save upserts the voice row.
func (r *VoiceRepo) Save(ctx context.Context, v *catalog.Voice) error {
	const q = `
		INSERT INTO voices (id, name, audio_path, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name        = EXCLUDED.name,
			audio_path  = EXCLUDED.audio_path,
			description = EXCLUDED.description,
			updated_at  = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, q, v.ID, v.Name, v.AudioPath, v.Description, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("voice repo: save %s: %w", v.ID, err)
	}
	return nil
}

// FindByID returns the voice or (nil, nil) when no row matches.
func (r *VoiceRepo) FindByID(ctx context.Context, id uuid.UUID) (*catalog.Voice, error) {
	const q = `
		SELECT id, name, audio_path, description, created_at, updated_at
		FROM   voices WHERE id = $1`

	var v catalog.Voice
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&v.ID, &v.Name, &v.AudioPath, &v.Description, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("voice repo: find %s: %w", id, err)
	}
	return &v, nil
}

// List returns all voices, newest first.
func (r *VoiceRepo) List(ctx context.Context) ([]catalog.Voice, error) {
	const q = `
		SELECT id, name, audio_path, description, created_at, updated_at
		FROM   voices ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("voice repo: list: %w", err)
	}
	defer rows.Close()

	var voices []catalog.Voice
	for rows.Next() {
		var v catalog.Voice
		if err := rows.Scan(&v.ID, &v.Name, &v.AudioPath, &v.Description, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("voice repo: scan: %w", err)
		}
		voices = append(voices, v)
	}
	return voices, rows.Err()
}

// Delete removes the voice row.
func (r *VoiceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM voices WHERE id = $1`, id); err != nil {
		return fmt.Errorf("voice repo: delete %s: %w", id, err)
	}
	return nil
}
