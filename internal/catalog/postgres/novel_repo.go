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

// NovelRepo implements [catalog.NovelRepository]. Obtain one via
// [Store.Novels].
type NovelRepo struct {
	pool *pgxpool.Pool
}

// Save upserts the novel row.
func (r *NovelRepo) Save(ctx context.Context, n *catalog.Novel) error {
	const q = `
		INSERT INTO novels (id, title, raw_text_path, total_segments, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title          = EXCLUDED.title,
			raw_text_path  = EXCLUDED.raw_text_path,
			total_segments = EXCLUDED.total_segments,
			status         = EXCLUDED.status,
			updated_at     = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, q,
		n.ID, n.Title, n.RawTextPath, n.TotalSegments, string(n.Status), n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("novel repo: save %s: %w", n.ID, err)
	}
	return nil
}

// FindByID returns the novel or (nil, nil) when no row matches.
func (r *NovelRepo) FindByID(ctx context.Context, id uuid.UUID) (*catalog.Novel, error) {
	const q = `
		SELECT id, title, raw_text_path, total_segments, status, created_at, updated_at
		FROM   novels WHERE id = $1`

	var n catalog.Novel
	var status string
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&n.ID, &n.Title, &n.RawTextPath, &n.TotalSegments, &status, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("novel repo: find %s: %w", id, err)
	}
	n.Status = catalog.NovelStatus(status)
	return &n, nil
}

// List returns all novels, newest first.
func (r *NovelRepo) List(ctx context.Context) ([]catalog.Novel, error) {
	const q = `
		SELECT id, title, raw_text_path, total_segments, status, created_at, updated_at
		FROM   novels ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("novel repo: list: %w", err)
	}
	defer rows.Close()

	var novels []catalog.Novel
	for rows.Next() {
		var n catalog.Novel
		var status string
		if err := rows.Scan(&n.ID, &n.Title, &n.RawTextPath, &n.TotalSegments, &status, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("novel repo: scan: %w", err)
		}
		n.Status = catalog.NovelStatus(status)
		novels = append(novels, n)
	}
	return novels, rows.Err()
}

// Delete removes the novel row; its segments cascade.
func (r *NovelRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM novels WHERE id = $1`, id); err != nil {
		return fmt.Errorf("novel repo: delete %s: %w", id, err)
	}
	return nil
}

// UpdateStatus sets the ingestion status and bumps updated_at.
func (r *NovelRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status catalog.NovelStatus) error {
	const q = `UPDATE novels SET status = $2, updated_at = now() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, string(status)); err != nil {
		return fmt.Errorf("novel repo: update status %s: %w", id, err)
	}
	return nil
}

// SaveSegments inserts the segments in a single batch round-trip.
func (r *NovelRepo) SaveSegments(ctx context.Context, novelID uuid.UUID, segments []catalog.TextSegment) error {
	if len(segments) == 0 {
		return nil
	}

	const q = `
		INSERT INTO text_segments (id, novel_id, segment_index, content, char_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (novel_id, segment_index) DO UPDATE SET
			content    = EXCLUDED.content,
			char_count = EXCLUDED.char_count`

	batch := &pgx.Batch{}
	for _, s := range segments {
		batch.Queue(q, s.ID, novelID, int64(s.Index), s.Content, s.CharCount)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("novel repo: save %d segments for %s: %w", len(segments), novelID, err)
	}
	return nil
}

// SegmentsByIndices fetches exactly the requested segments, ordered by index.
// Indices with no matching row are simply absent from the result.
func (r *NovelRepo) SegmentsByIndices(ctx context.Context, novelID uuid.UUID, indices []uint32) ([]catalog.TextSegment, error) {
	if len(indices) == 0 {
		return nil, nil
	}

	idx := make([]int64, len(indices))
	for i, v := range indices {
		idx[i] = int64(v)
	}

	const q = `
		SELECT id, novel_id, segment_index, content, char_count
		FROM   text_segments
		WHERE  novel_id = $1 AND segment_index = ANY($2)
		ORDER  BY segment_index`

	rows, err := r.pool.Query(ctx, q, novelID, idx)
	if err != nil {
		return nil, fmt.Errorf("novel repo: segments by indices for %s: %w", novelID, err)
	}
	defer rows.Close()

	return collectSegments(rows)
}

// Segments pages through a novel's segments in index order.
func (r *NovelRepo) Segments(ctx context.Context, novelID uuid.UUID, offset, limit int) ([]catalog.TextSegment, error) {
	const q = `
		SELECT id, novel_id, segment_index, content, char_count
		FROM   text_segments
		WHERE  novel_id = $1
		ORDER  BY segment_index
		OFFSET $2 LIMIT $3`

	rows, err := r.pool.Query(ctx, q, novelID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("novel repo: segments for %s: %w", novelID, err)
	}
	defer rows.Close()

	return collectSegments(rows)
}

// DeleteSegments removes all segments of the novel.
func (r *NovelRepo) DeleteSegments(ctx context.Context, novelID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM text_segments WHERE novel_id = $1`, novelID); err != nil {
		return fmt.Errorf("novel repo: delete segments for %s: %w", novelID, err)
	}
	return nil
}

func collectSegments(rows pgx.Rows) ([]catalog.TextSegment, error) {
	var segments []catalog.TextSegment
	for rows.Next() {
		var s catalog.TextSegment
		var index int64
		if err := rows.Scan(&s.ID, &s.NovelID, &index, &s.Content, &s.CharCount); err != nil {
			return nil, fmt.Errorf("novel repo: scan segment: %w", err)
		}
		s.Index = uint32(index)
		segments = append(segments, s)
	}
	return segments, rows.Err()
}
