package storage

import (
	"context"

	"github.com/Beck89/mta-mls-worker/models"
)

func (s *PostgresStore) InsertPriceHistory(ctx context.Context, h *models.PriceHistory) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO price_history (listing_key, old_price, new_price, change_type, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		h.ListingKey, h.OldPrice, h.NewPrice, h.ChangeType, h.RecordedAt,
	).Scan(&h.ID)
}

func (s *PostgresStore) InsertStatusHistory(ctx context.Context, h *models.StatusHistory) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO status_history (listing_key, old_status, new_status, recorded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		h.ListingKey, h.OldStatus, h.NewStatus, h.RecordedAt,
	).Scan(&h.ID)
}

func (s *PostgresStore) InsertChangeLog(ctx context.Context, c *models.ChangeLog) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO change_log (listing_key, field_name, old_value, new_value, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		c.ListingKey, c.FieldName, c.OldValue, c.NewValue, c.RecordedAt,
	).Scan(&c.ID)
}
