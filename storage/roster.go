package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Beck89/mta-mls-worker/models"
)

const memberColumns = `
	member_key, member_mls_id, first_name, last_name, full_name,
	email, phone, state_license, office_key, member_status, can_view,
	modification_timestamp, photos_change_ts, local_fields,
	created_at, updated_at, deleted_at`

func (s *PostgresStore) GetMember(ctx context.Context, memberKey string) (*models.Member, error) {
	var m models.Member
	err := s.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE member_key = $1`, memberKey).Scan(
		&m.MemberKey, &m.MemberMlsID, &m.FirstName, &m.LastName, &m.FullName,
		&m.Email, &m.Phone, &m.StateLicense, &m.OfficeKey, &m.MemberStatus, &m.CanView,
		&m.ModificationTimestamp, &m.PhotosChangeTs, &m.LocalFields,
		&m.CreatedAt, &m.UpdatedAt, &m.DeletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) UpsertMember(ctx context.Context, m *models.Member) error {
	query := `
		INSERT INTO members (` + memberColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW(), $15
		)
		ON CONFLICT (member_key) DO UPDATE SET
			member_mls_id = EXCLUDED.member_mls_id,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			state_license = EXCLUDED.state_license,
			office_key = EXCLUDED.office_key,
			member_status = EXCLUDED.member_status,
			can_view = EXCLUDED.can_view,
			modification_timestamp = EXCLUDED.modification_timestamp,
			photos_change_ts = EXCLUDED.photos_change_ts,
			local_fields = EXCLUDED.local_fields,
			updated_at = NOW(),
			deleted_at = EXCLUDED.deleted_at`

	_, err := s.pool.Exec(ctx, query,
		m.MemberKey, m.MemberMlsID, m.FirstName, m.LastName, m.FullName,
		m.Email, m.Phone, m.StateLicense, m.OfficeKey, m.MemberStatus, m.CanView,
		m.ModificationTimestamp, m.PhotosChangeTs, m.LocalFields, m.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

// HideMember soft-hides a member, keeping the row and its media.
func (s *PostgresStore) HideMember(ctx context.Context, memberKey string, modTs time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE members SET
			can_view = FALSE,
			modification_timestamp = $2,
			deleted_at = COALESCE(deleted_at, NOW()),
			updated_at = NOW()
		WHERE member_key = $1`,
		memberKey, modTs)
	return err
}

const officeColumns = `
	office_key, office_mls_id, office_name, phone, email, address,
	city, postal_code, office_status, can_view,
	modification_timestamp, photos_change_ts, local_fields,
	created_at, updated_at, deleted_at`

func (s *PostgresStore) GetOffice(ctx context.Context, officeKey string) (*models.Office, error) {
	var o models.Office
	err := s.pool.QueryRow(ctx, `SELECT `+officeColumns+` FROM offices WHERE office_key = $1`, officeKey).Scan(
		&o.OfficeKey, &o.OfficeMlsID, &o.OfficeName, &o.Phone, &o.Email, &o.Address,
		&o.City, &o.PostalCode, &o.OfficeStatus, &o.CanView,
		&o.ModificationTimestamp, &o.PhotosChangeTs, &o.LocalFields,
		&o.CreatedAt, &o.UpdatedAt, &o.DeletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) UpsertOffice(ctx context.Context, o *models.Office) error {
	query := `
		INSERT INTO offices (` + officeColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW(), $14
		)
		ON CONFLICT (office_key) DO UPDATE SET
			office_mls_id = EXCLUDED.office_mls_id,
			office_name = EXCLUDED.office_name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			postal_code = EXCLUDED.postal_code,
			office_status = EXCLUDED.office_status,
			can_view = EXCLUDED.can_view,
			modification_timestamp = EXCLUDED.modification_timestamp,
			photos_change_ts = EXCLUDED.photos_change_ts,
			local_fields = EXCLUDED.local_fields,
			updated_at = NOW(),
			deleted_at = EXCLUDED.deleted_at`

	_, err := s.pool.Exec(ctx, query,
		o.OfficeKey, o.OfficeMlsID, o.OfficeName, o.Phone, o.Email, o.Address,
		o.City, o.PostalCode, o.OfficeStatus, o.CanView,
		o.ModificationTimestamp, o.PhotosChangeTs, o.LocalFields, o.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert office: %w", err)
	}
	return nil
}

// HideOffice soft-hides an office, keeping the row and its media.
func (s *PostgresStore) HideOffice(ctx context.Context, officeKey string, modTs time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE offices SET
			can_view = FALSE,
			modification_timestamp = $2,
			deleted_at = COALESCE(deleted_at, NOW()),
			updated_at = NOW()
		WHERE office_key = $1`,
		officeKey, modTs)
	return err
}
