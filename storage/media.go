package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Beck89/mta-mls-worker/models"
)

const mediaColumns = `
	media_key, resource_type, parent_key, listing_id,
	source_url, object_key, public_url, media_order, category,
	file_size_bytes, content_type, status, retry_count, media_mod_ts,
	created_at, updated_at`

func scanMedia(row pgx.Row) (*models.Media, error) {
	var m models.Media
	err := row.Scan(
		&m.MediaKey, &m.ResourceType, &m.ParentKey, &m.ListingID,
		&m.SourceURL, &m.ObjectKey, &m.PublicURL, &m.MediaOrder, &m.Category,
		&m.FileSizeBytes, &m.ContentType, &m.Status, &m.RetryCount, &m.MediaModTs,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) scanMediaRows(rows pgx.Rows) ([]models.Media, error) {
	defer rows.Close()
	var out []models.Media
	for rows.Next() {
		var m models.Media
		if err := rows.Scan(
			&m.MediaKey, &m.ResourceType, &m.ParentKey, &m.ListingID,
			&m.SourceURL, &m.ObjectKey, &m.PublicURL, &m.MediaOrder, &m.Category,
			&m.FileSizeBytes, &m.ContentType, &m.Status, &m.RetryCount, &m.MediaModTs,
			&m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetMedia(ctx context.Context, mediaKey string) (*models.Media, error) {
	query := `SELECT ` + mediaColumns + ` FROM media WHERE media_key = $1`
	return scanMedia(s.pool.QueryRow(ctx, query, mediaKey))
}

func (s *PostgresStore) GetMediaByParent(ctx context.Context, resource models.Resource, parentKey string) ([]models.Media, error) {
	query := `SELECT ` + mediaColumns + ` FROM media
		WHERE resource_type = $1 AND parent_key = $2
		ORDER BY media_order`
	rows, err := s.pool.Query(ctx, query, resource, parentKey)
	if err != nil {
		return nil, err
	}
	return s.scanMediaRows(rows)
}

func (s *PostgresStore) UpsertMedia(ctx context.Context, m *models.Media) error {
	query := `
		INSERT INTO media (` + mediaColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW()
		)
		ON CONFLICT (media_key) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			object_key = EXCLUDED.object_key,
			public_url = EXCLUDED.public_url,
			media_order = EXCLUDED.media_order,
			category = EXCLUDED.category,
			file_size_bytes = EXCLUDED.file_size_bytes,
			content_type = EXCLUDED.content_type,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			media_mod_ts = EXCLUDED.media_mod_ts,
			listing_id = EXCLUDED.listing_id,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		m.MediaKey, m.ResourceType, m.ParentKey, m.ListingID,
		m.SourceURL, m.ObjectKey, m.PublicURL, m.MediaOrder, m.Category,
		m.FileSizeBytes, m.ContentType, m.Status, m.RetryCount, m.MediaModTs,
	)
	if err != nil {
		return fmt.Errorf("upsert media: %w", err)
	}
	return nil
}

// UpdateMediaMetadata refreshes ordering/category/source columns only,
// for rows whose bytes are already safe (the skip path).
func (s *PostgresStore) UpdateMediaMetadata(ctx context.Context, mediaKey, sourceURL, category string, order int, mediaModTs *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE media SET
			source_url = $2, category = $3, media_order = $4,
			media_mod_ts = $5, updated_at = NOW()
		WHERE media_key = $1`,
		mediaKey, sourceURL, category, order, mediaModTs)
	return err
}

func (s *PostgresStore) UpdateMediaStatus(ctx context.Context, mediaKey, status string, retryCount int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE media SET status = $2, retry_count = $3, updated_at = NOW()
		WHERE media_key = $1`,
		mediaKey, status, retryCount)
	return err
}

// MarkMediaComplete transitions a row to complete with the object
// store coordinates set, keeping the status invariant intact.
func (s *PostgresStore) MarkMediaComplete(ctx context.Context, mediaKey, objectKey, publicURL, contentType string, sizeBytes int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE media SET
			status = $2, object_key = $3, public_url = $4,
			content_type = $5, file_size_bytes = $6, updated_at = NOW()
		WHERE media_key = $1`,
		mediaKey, models.MediaStatusComplete, objectKey, publicURL, contentType, sizeBytes)
	return err
}

func (s *PostgresStore) UpdateMediaSourceURL(ctx context.Context, mediaKey, sourceURL string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE media SET source_url = $2, updated_at = NOW() WHERE media_key = $1`,
		mediaKey, sourceURL)
	return err
}

func (s *PostgresStore) DeleteMedia(ctx context.Context, mediaKeys []string) error {
	if len(mediaKeys) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM media WHERE media_key = ANY($1)`, mediaKeys)
	return err
}

func (s *PostgresStore) GetPendingMedia(ctx context.Context, limit int) ([]models.Media, error) {
	query := `SELECT ` + mediaColumns + ` FROM media
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, models.MediaStatusPendingDownload, limit)
	if err != nil {
		return nil, err
	}
	return s.scanMediaRows(rows)
}

// GetRecoverableMedia returns failed/expired rows for the background
// recovery sweep.
func (s *PostgresStore) GetRecoverableMedia(ctx context.Context, limit int) ([]models.Media, error) {
	query := `SELECT ` + mediaColumns + ` FROM media
		WHERE status = ANY($1)
		ORDER BY updated_at
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query,
		[]string{models.MediaStatusFailed, models.MediaStatusExpired}, limit)
	if err != nil {
		return nil, err
	}
	return s.scanMediaRows(rows)
}

// InsertMediaDownload appends one audit row per completed download.
func (s *PostgresStore) InsertMediaDownload(ctx context.Context, d *models.MediaDownload) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO media_downloads (media_key, parent_key, bytes, elapsed_ms, downloaded_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		d.MediaKey, d.ParentKey, d.Bytes, d.ElapsedMS, d.DownloadedAt,
	).Scan(&d.ID)
}

// MediaBytesSince returns recent completed downloads for seeding the
// rate limiter's byte window.
func (s *PostgresStore) MediaBytesSince(ctx context.Context, since time.Time) ([]models.MediaDownload, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, media_key, parent_key, bytes, elapsed_ms, downloaded_at
		FROM media_downloads
		WHERE downloaded_at > $1
		ORDER BY downloaded_at`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MediaDownload
	for rows.Next() {
		var d models.MediaDownload
		if err := rows.Scan(&d.ID, &d.MediaKey, &d.ParentKey, &d.Bytes, &d.ElapsedMS, &d.DownloadedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
