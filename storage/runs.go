package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Beck89/mta-mls-worker/models"
)

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.ReplicationRun) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO replication_runs (resource, mode, started_at, status, hwm_start)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		run.Resource, run.Mode, run.StartedAt, run.Status, run.HwmStart,
	).Scan(&run.ID)
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.ReplicationRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE replication_runs SET
			completed_at = $2, status = $3, hwm_end = $4,
			records_received = $5, records_inserted = $6,
			records_updated = $7, records_deleted = $8,
			media_downloaded = $9, media_deleted = $10, media_bytes = $11,
			request_count = $12, request_bytes = $13, avg_latency_ms = $14,
			http_errors = $15, error_message = $16
		WHERE id = $1`,
		run.ID, run.CompletedAt, run.Status, run.HwmEnd,
		run.RecordsReceived, run.RecordsInserted,
		run.RecordsUpdated, run.RecordsDeleted,
		run.MediaDownloaded, run.MediaDeleted, run.MediaBytes,
		run.RequestCount, run.RequestBytes, run.AvgLatencyMS,
		run.HTTPErrorsJSON(), run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// LatestFinishedRun returns the most recent completed or partial run
// for a resource; nil when none exists.
func (s *PostgresStore) LatestFinishedRun(ctx context.Context, resource models.Resource) (*models.ReplicationRun, error) {
	var run models.ReplicationRun
	err := s.pool.QueryRow(ctx, `
		SELECT id, resource, mode, started_at, completed_at, status, hwm_start, hwm_end
		FROM replication_runs
		WHERE resource = $1 AND status = ANY($2)
		ORDER BY started_at DESC
		LIMIT 1`,
		resource, []string{string(models.RunStatusCompleted), string(models.RunStatusPartial)},
	).Scan(
		&run.ID, &run.Resource, &run.Mode, &run.StartedAt, &run.CompletedAt,
		&run.Status, &run.HwmStart, &run.HwmEnd,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// HasAnyCompletedRun reports whether any resource has ever finished a
// run; drives the scheduler's initial-import ordering.
func (s *PostgresStore) HasAnyCompletedRun(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM replication_runs WHERE status = ANY($1)
		)`,
		[]string{string(models.RunStatusCompleted), string(models.RunStatusPartial)},
	).Scan(&exists)
	return exists, err
}

// KeysAtTimestamp returns the primary keys of a resource whose
// modification timestamp equals hwm exactly: the dedup set that makes
// resuming with 'ge' safe.
func (s *PostgresStore) KeysAtTimestamp(ctx context.Context, resource models.Resource, hwm time.Time) ([]string, error) {
	var query string
	switch resource {
	case models.ResourceListing:
		query = `SELECT listing_key FROM listings WHERE modification_timestamp = $1`
	case models.ResourceMember:
		query = `SELECT member_key FROM members WHERE modification_timestamp = $1`
	case models.ResourceOffice:
		query = `SELECT office_key FROM offices WHERE modification_timestamp = $1`
	case models.ResourceOpenHouse:
		query = `SELECT open_house_key FROM open_houses WHERE modification_timestamp = $1`
	case models.ResourceLookup:
		query = `SELECT lookup_key FROM lookups WHERE modification_timestamp = $1`
	default:
		return nil, fmt.Errorf("unknown resource: %s", resource)
	}

	rows, err := s.pool.Query(ctx, query, hwm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RefreshListingSearchView refreshes the listing search materialized
// view if it exists. Best effort: callers ignore the error.
func (s *PostgresStore) RefreshListingSearchView(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY listing_search`)
	return err
}
