package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// PurgedListing reports what the daily cleanup removed for one
// listing, including the object-store keys the caller must delete.
type PurgedListing struct {
	ListingKey string
	ObjectKeys []string
}

// PurgeHiddenListings hard-deletes listings whose soft-delete marker
// is older than cutoff, cascading to children, media rows, raw
// archive, and history. Object-store keys are collected first and
// returned so the caller can issue the batched S3 deletes.
func (s *PostgresStore) PurgeHiddenListings(ctx context.Context, cutoff time.Time) ([]PurgedListing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT listing_key FROM listings
		WHERE can_view = FALSE AND deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return nil, err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var purged []PurgedListing
	for _, key := range keys {
		objectKeys, err := s.purgeListing(ctx, key)
		if err != nil {
			return purged, fmt.Errorf("purge listing %s: %w", key, err)
		}
		purged = append(purged, PurgedListing{ListingKey: key, ObjectKeys: objectKeys})
	}
	return purged, nil
}

func (s *PostgresStore) purgeListing(ctx context.Context, listingKey string) ([]string, error) {
	var objectKeys []string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT object_key FROM media
			WHERE parent_key = $1 AND object_key <> ''`, listingKey)
		if err != nil {
			return err
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return err
			}
			objectKeys = append(objectKeys, k)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, stmt := range []string{
			`DELETE FROM media WHERE parent_key = $1`,
			`DELETE FROM rooms WHERE listing_key = $1`,
			`DELETE FROM unit_types WHERE listing_key = $1`,
			`DELETE FROM raw_responses WHERE listing_key = $1`,
			`DELETE FROM price_history WHERE listing_key = $1`,
			`DELETE FROM status_history WHERE listing_key = $1`,
			`DELETE FROM change_log WHERE listing_key = $1`,
			`DELETE FROM listings WHERE listing_key = $1`,
		} {
			if _, err := tx.Exec(ctx, stmt, listingKey); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objectKeys, nil
}
