package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Beck89/mta-mls-worker/models"
)

const listingColumns = `
	listing_key, listing_id, listing_id_display,
	list_price, original_list_price, previous_list_price, close_price,
	standard_status, mls_status, major_change_type,
	property_type, property_sub_type, bedrooms_total, bathrooms_total,
	living_area, lot_size_acres, year_built, stories, garage_spaces, pool_private,
	unparsed_address, street_number, street_name, unit_number, city,
	state_or_province, postal_code, county_or_parish, subdivision,
	latitude, longitude, location,
	list_agent_key, list_agent_name, list_office_key, list_office_name,
	buyer_agent_key, buyer_office_key, co_list_agent_key, co_list_office_key,
	public_remarks, private_remarks,
	elementary_school, middle_school, high_school, school_district,
	tax_annual_amount, tax_year, parcel_number, buyer_agency_compensation,
	can_view, use_cases, photos_count,
	modification_timestamp, originating_mod_ts, photos_change_ts,
	major_change_ts, original_entry_ts,
	local_fields, created_at, updated_at, deleted_at`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(
		&l.ListingKey, &l.ListingID, &l.ListingIDDisplay,
		&l.ListPrice, &l.OriginalListPrice, &l.PreviousListPrice, &l.ClosePrice,
		&l.StandardStatus, &l.MlsStatus, &l.MajorChangeType,
		&l.PropertyType, &l.PropertySubType, &l.BedroomsTotal, &l.BathroomsTotal,
		&l.LivingArea, &l.LotSizeAcres, &l.YearBuilt, &l.Stories, &l.GarageSpaces, &l.PoolPrivate,
		&l.UnparsedAddress, &l.StreetNumber, &l.StreetName, &l.UnitNumber, &l.City,
		&l.StateOrProvince, &l.PostalCode, &l.CountyOrParish, &l.Subdivision,
		&l.Latitude, &l.Longitude, &l.Location,
		&l.ListAgentKey, &l.ListAgentName, &l.ListOfficeKey, &l.ListOfficeName,
		&l.BuyerAgentKey, &l.BuyerOfficeKey, &l.CoListAgentKey, &l.CoListOfficeKey,
		&l.PublicRemarks, &l.PrivateRemarks,
		&l.ElementarySchool, &l.MiddleSchool, &l.HighSchool, &l.SchoolDistrict,
		&l.TaxAnnualAmount, &l.TaxYear, &l.ParcelNumber, &l.BuyerAgencyCompensation,
		&l.CanView, &l.UseCases, &l.PhotosCount,
		&l.ModificationTimestamp, &l.OriginatingModTs, &l.PhotosChangeTs,
		&l.MajorChangeTs, &l.OriginalEntryTs,
		&l.LocalFields, &l.CreatedAt, &l.UpdatedAt, &l.DeletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, listingKey string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE listing_key = $1`
	return scanListing(s.pool.QueryRow(ctx, query, listingKey))
}

func (s *PostgresStore) GetListingByListingID(ctx context.Context, listingID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE listing_id = $1`
	return scanListing(s.pool.QueryRow(ctx, query, listingID))
}

// UpsertListingBundle commits one listing record atomically: the full
// rooms and unit-type sets are replaced, the listing row is upserted
// (created_at is never overwritten), and the stripped raw archive
// lands in the same transaction.
func (s *PostgresStore) UpsertListingBundle(ctx context.Context, l *models.Listing, rooms []models.Room, unitTypes []models.UnitType, raw json.RawMessage) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE listing_key = $1`, l.ListingKey); err != nil {
			return fmt.Errorf("delete rooms: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM unit_types WHERE listing_key = $1`, l.ListingKey); err != nil {
			return fmt.Errorf("delete unit types: %w", err)
		}

		for _, r := range rooms {
			if _, err := tx.Exec(ctx, `
				INSERT INTO rooms (listing_key, room_key, room_type, room_dimensions, room_level, room_area, room_features)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				r.ListingKey, r.RoomKey, r.RoomType, r.RoomDimensions, r.RoomLevel, r.RoomArea, r.RoomFeatures,
			); err != nil {
				return fmt.Errorf("insert room: %w", err)
			}
		}
		for _, u := range unitTypes {
			if _, err := tx.Exec(ctx, `
				INSERT INTO unit_types (listing_key, unit_type_key, unit_type_type, total_units, beds_total, baths_total, actual_rent, pro_forma_rent, unit_type_furnished)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				u.ListingKey, u.UnitTypeKey, u.UnitTypeType, u.TotalUnits, u.BedsTotal, u.BathsTotal, u.ActualRent, u.ProFormaRent, u.UnitTypeFurnished,
			); err != nil {
				return fmt.Errorf("insert unit type: %w", err)
			}
		}

		if err := upsertListing(ctx, tx, l); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO raw_responses (listing_key, payload, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (listing_key) DO UPDATE SET
				payload = EXCLUDED.payload,
				updated_at = NOW()`,
			l.ListingKey, raw,
		); err != nil {
			return fmt.Errorf("upsert raw response: %w", err)
		}
		return nil
	})
}

func upsertListing(ctx context.Context, tx pgx.Tx, l *models.Listing) error {
	query := `
		INSERT INTO listings (` + listingColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36, $37, $38, $39, $40,
			$41, $42, $43, $44, $45, $46, $47, $48, $49, $50,
			$51, $52, $53, $54, $55, $56, $57, $58, $59, NOW(), NOW(), $60
		)
		ON CONFLICT (listing_key) DO UPDATE SET
			listing_id = EXCLUDED.listing_id,
			listing_id_display = EXCLUDED.listing_id_display,
			list_price = EXCLUDED.list_price,
			original_list_price = EXCLUDED.original_list_price,
			previous_list_price = EXCLUDED.previous_list_price,
			close_price = EXCLUDED.close_price,
			standard_status = EXCLUDED.standard_status,
			mls_status = EXCLUDED.mls_status,
			major_change_type = EXCLUDED.major_change_type,
			property_type = EXCLUDED.property_type,
			property_sub_type = EXCLUDED.property_sub_type,
			bedrooms_total = EXCLUDED.bedrooms_total,
			bathrooms_total = EXCLUDED.bathrooms_total,
			living_area = EXCLUDED.living_area,
			lot_size_acres = EXCLUDED.lot_size_acres,
			year_built = EXCLUDED.year_built,
			stories = EXCLUDED.stories,
			garage_spaces = EXCLUDED.garage_spaces,
			pool_private = EXCLUDED.pool_private,
			unparsed_address = EXCLUDED.unparsed_address,
			street_number = EXCLUDED.street_number,
			street_name = EXCLUDED.street_name,
			unit_number = EXCLUDED.unit_number,
			city = EXCLUDED.city,
			state_or_province = EXCLUDED.state_or_province,
			postal_code = EXCLUDED.postal_code,
			county_or_parish = EXCLUDED.county_or_parish,
			subdivision = EXCLUDED.subdivision,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			location = EXCLUDED.location,
			list_agent_key = EXCLUDED.list_agent_key,
			list_agent_name = EXCLUDED.list_agent_name,
			list_office_key = EXCLUDED.list_office_key,
			list_office_name = EXCLUDED.list_office_name,
			buyer_agent_key = EXCLUDED.buyer_agent_key,
			buyer_office_key = EXCLUDED.buyer_office_key,
			co_list_agent_key = EXCLUDED.co_list_agent_key,
			co_list_office_key = EXCLUDED.co_list_office_key,
			public_remarks = EXCLUDED.public_remarks,
			private_remarks = EXCLUDED.private_remarks,
			elementary_school = EXCLUDED.elementary_school,
			middle_school = EXCLUDED.middle_school,
			high_school = EXCLUDED.high_school,
			school_district = EXCLUDED.school_district,
			tax_annual_amount = EXCLUDED.tax_annual_amount,
			tax_year = EXCLUDED.tax_year,
			parcel_number = EXCLUDED.parcel_number,
			buyer_agency_compensation = EXCLUDED.buyer_agency_compensation,
			can_view = EXCLUDED.can_view,
			use_cases = EXCLUDED.use_cases,
			photos_count = EXCLUDED.photos_count,
			modification_timestamp = EXCLUDED.modification_timestamp,
			originating_mod_ts = EXCLUDED.originating_mod_ts,
			photos_change_ts = EXCLUDED.photos_change_ts,
			major_change_ts = EXCLUDED.major_change_ts,
			original_entry_ts = EXCLUDED.original_entry_ts,
			local_fields = EXCLUDED.local_fields,
			updated_at = NOW(),
			deleted_at = EXCLUDED.deleted_at`

	_, err := tx.Exec(ctx, query,
		l.ListingKey, l.ListingID, l.ListingIDDisplay,
		l.ListPrice, l.OriginalListPrice, l.PreviousListPrice, l.ClosePrice,
		l.StandardStatus, l.MlsStatus, l.MajorChangeType,
		l.PropertyType, l.PropertySubType, l.BedroomsTotal, l.BathroomsTotal,
		l.LivingArea, l.LotSizeAcres, l.YearBuilt, l.Stories, l.GarageSpaces, l.PoolPrivate,
		l.UnparsedAddress, l.StreetNumber, l.StreetName, l.UnitNumber, l.City,
		l.StateOrProvince, l.PostalCode, l.CountyOrParish, l.Subdivision,
		l.Latitude, l.Longitude, l.Location,
		l.ListAgentKey, l.ListAgentName, l.ListOfficeKey, l.ListOfficeName,
		l.BuyerAgentKey, l.BuyerOfficeKey, l.CoListAgentKey, l.CoListOfficeKey,
		l.PublicRemarks, l.PrivateRemarks,
		l.ElementarySchool, l.MiddleSchool, l.HighSchool, l.SchoolDistrict,
		l.TaxAnnualAmount, l.TaxYear, l.ParcelNumber, l.BuyerAgencyCompensation,
		l.CanView, l.UseCases, l.PhotosCount,
		l.ModificationTimestamp, l.OriginatingModTs, l.PhotosChangeTs,
		l.MajorChangeTs, l.OriginalEntryTs,
		l.LocalFields, l.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert listing: %w", err)
	}
	return nil
}

// HideListing soft-hides a listing: visibility off, deletion marker
// set, media and children untouched.
func (s *PostgresStore) HideListing(ctx context.Context, listingKey string, modTs time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE listings SET
			can_view = FALSE,
			modification_timestamp = $2,
			deleted_at = COALESCE(deleted_at, NOW()),
			updated_at = NOW()
		WHERE listing_key = $1`,
		listingKey, modTs)
	return err
}
