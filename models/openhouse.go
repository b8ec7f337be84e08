package models

import (
	"encoding/json"
	"time"
)

// OpenHouse references its listing by listing id, not key: open house
// events can arrive before the parent listing on first contact, so no
// foreign key is enforced.
type OpenHouse struct {
	OpenHouseKey    string     `json:"open_house_key" db:"open_house_key"`
	ListingID       string     `json:"listing_id" db:"listing_id"`
	StartTime       *time.Time `json:"start_time" db:"start_time"`
	EndTime         *time.Time `json:"end_time" db:"end_time"`
	Remarks         string     `json:"remarks" db:"remarks"`
	OpenHouseStatus string     `json:"open_house_status" db:"open_house_status"`
	OpenHouseType   string     `json:"open_house_type" db:"open_house_type"`

	ModificationTimestamp time.Time `json:"modification_timestamp" db:"modification_timestamp"`

	LocalFields json.RawMessage `json:"local_fields" db:"local_fields"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Lookup holds one enumerated domain value, keyed by the originating
// system plus lookup name plus key.
type Lookup struct {
	LookupKey         string `json:"lookup_key" db:"lookup_key"`
	OriginatingSystem string `json:"originating_system" db:"originating_system"`
	LookupName        string `json:"lookup_name" db:"lookup_name"`
	LookupValue       string `json:"lookup_value" db:"lookup_value"`
	StandardLookup    string `json:"standard_lookup" db:"standard_lookup"`
	LegacyODataValue  string `json:"legacy_odata_value" db:"legacy_odata_value"`

	ModificationTimestamp time.Time `json:"modification_timestamp" db:"modification_timestamp"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
