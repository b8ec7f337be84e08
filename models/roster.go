package models

import (
	"encoding/json"
	"time"
)

// Member is a replicated agent record.
type Member struct {
	MemberKey       string `json:"member_key" db:"member_key"`
	MemberMlsID     string `json:"member_mls_id" db:"member_mls_id"`
	FirstName       string `json:"first_name" db:"first_name"`
	LastName        string `json:"last_name" db:"last_name"`
	FullName        string `json:"full_name" db:"full_name"`
	Email           string `json:"email" db:"email"`
	Phone           string `json:"phone" db:"phone"`
	StateLicense    string `json:"state_license" db:"state_license"`
	OfficeKey       string `json:"office_key" db:"office_key"`
	MemberStatus    string `json:"member_status" db:"member_status"`
	CanView         bool   `json:"can_view" db:"can_view"`

	ModificationTimestamp time.Time  `json:"modification_timestamp" db:"modification_timestamp"`
	PhotosChangeTs        *time.Time `json:"photos_change_ts" db:"photos_change_ts"`

	LocalFields json.RawMessage `json:"local_fields" db:"local_fields"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at" db:"deleted_at"`
}

// Office is a replicated brokerage office record.
type Office struct {
	OfficeKey    string `json:"office_key" db:"office_key"`
	OfficeMlsID  string `json:"office_mls_id" db:"office_mls_id"`
	OfficeName   string `json:"office_name" db:"office_name"`
	Phone        string `json:"phone" db:"phone"`
	Email        string `json:"email" db:"email"`
	Address      string `json:"address" db:"address"`
	City         string `json:"city" db:"city"`
	PostalCode   string `json:"postal_code" db:"postal_code"`
	OfficeStatus string `json:"office_status" db:"office_status"`
	CanView      bool   `json:"can_view" db:"can_view"`

	ModificationTimestamp time.Time  `json:"modification_timestamp" db:"modification_timestamp"`
	PhotosChangeTs        *time.Time `json:"photos_change_ts" db:"photos_change_ts"`

	LocalFields json.RawMessage `json:"local_fields" db:"local_fields"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at" db:"deleted_at"`
}
