package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Beck89/mta-mls-worker/models"
)

const openHouseColumns = `
	open_house_key, listing_id, start_time, end_time, remarks,
	open_house_status, open_house_type, modification_timestamp,
	local_fields, created_at, updated_at`

func (s *PostgresStore) GetOpenHouse(ctx context.Context, openHouseKey string) (*models.OpenHouse, error) {
	var oh models.OpenHouse
	err := s.pool.QueryRow(ctx, `SELECT `+openHouseColumns+` FROM open_houses WHERE open_house_key = $1`, openHouseKey).Scan(
		&oh.OpenHouseKey, &oh.ListingID, &oh.StartTime, &oh.EndTime, &oh.Remarks,
		&oh.OpenHouseStatus, &oh.OpenHouseType, &oh.ModificationTimestamp,
		&oh.LocalFields, &oh.CreatedAt, &oh.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &oh, nil
}

func (s *PostgresStore) UpsertOpenHouse(ctx context.Context, oh *models.OpenHouse) error {
	query := `
		INSERT INTO open_houses (` + openHouseColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW()
		)
		ON CONFLICT (open_house_key) DO UPDATE SET
			listing_id = EXCLUDED.listing_id,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			remarks = EXCLUDED.remarks,
			open_house_status = EXCLUDED.open_house_status,
			open_house_type = EXCLUDED.open_house_type,
			modification_timestamp = EXCLUDED.modification_timestamp,
			local_fields = EXCLUDED.local_fields,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		oh.OpenHouseKey, oh.ListingID, oh.StartTime, oh.EndTime, oh.Remarks,
		oh.OpenHouseStatus, oh.OpenHouseType, oh.ModificationTimestamp, oh.LocalFields,
	)
	if err != nil {
		return fmt.Errorf("upsert open house: %w", err)
	}
	return nil
}

// DeleteOpenHouse hard-deletes: hidden open houses are ephemeral
// events, not compliance records.
func (s *PostgresStore) DeleteOpenHouse(ctx context.Context, openHouseKey string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM open_houses WHERE open_house_key = $1`, openHouseKey)
	return err
}

func (s *PostgresStore) UpsertLookup(ctx context.Context, l *models.Lookup) error {
	query := `
		INSERT INTO lookups (
			lookup_key, originating_system, lookup_name, lookup_value,
			standard_lookup, legacy_odata_value, modification_timestamp,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (lookup_key) DO UPDATE SET
			originating_system = EXCLUDED.originating_system,
			lookup_name = EXCLUDED.lookup_name,
			lookup_value = EXCLUDED.lookup_value,
			standard_lookup = EXCLUDED.standard_lookup,
			legacy_odata_value = EXCLUDED.legacy_odata_value,
			modification_timestamp = EXCLUDED.modification_timestamp,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		l.LookupKey, l.OriginatingSystem, l.LookupName, l.LookupValue,
		l.StandardLookup, l.LegacyODataValue, l.ModificationTimestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert lookup: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLookup(ctx context.Context, lookupKey string) (*models.Lookup, error) {
	var l models.Lookup
	err := s.pool.QueryRow(ctx, `
		SELECT lookup_key, originating_system, lookup_name, lookup_value,
			standard_lookup, legacy_odata_value, modification_timestamp,
			created_at, updated_at
		FROM lookups WHERE lookup_key = $1`, lookupKey).Scan(
		&l.LookupKey, &l.OriginatingSystem, &l.LookupName, &l.LookupValue,
		&l.StandardLookup, &l.LegacyODataValue, &l.ModificationTimestamp,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
