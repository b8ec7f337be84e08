package storage

import (
	"context"
	"time"

	"github.com/Beck89/mta-mls-worker/models"
)

// Append records one feed/CDN request row. Satisfies feed.RequestLog.
func (s *PostgresStore) Append(ctx context.Context, r *models.FeedRequest) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO feed_requests (run_id, url, status_code, elapsed_ms, bytes, record_count, error, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		r.RunID, r.URL, r.StatusCode, r.ElapsedMS, r.Bytes, r.RecordCount, r.Error, r.RequestedAt,
	).Scan(&r.ID)
}

// APIRequestTimesSince returns request timestamps for seeding the
// limiter's API windows after a restart.
func (s *PostgresStore) APIRequestTimesSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT requested_at FROM feed_requests
		WHERE requested_at > $1
		ORDER BY requested_at`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}
