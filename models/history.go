package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price change types
const (
	PriceChangeIncrease = "Price Increase"
	PriceChangeDecrease = "Price Decrease"
)

// StatusDeletedRemoved is recorded when a listing transitions to
// hidden in replication mode.
const StatusDeletedRemoved = "Deleted/Removed"

// PriceHistory is append-only, monotonic by RecordedAt.
type PriceHistory struct {
	ID         int64           `json:"id" db:"id"`
	ListingKey string          `json:"listing_key" db:"listing_key"`
	OldPrice   decimal.Decimal `json:"old_price" db:"old_price"`
	NewPrice   decimal.Decimal `json:"new_price" db:"new_price"`
	ChangeType string          `json:"change_type" db:"change_type"`
	RecordedAt time.Time       `json:"recorded_at" db:"recorded_at"`
}

// StatusHistory is append-only, monotonic by RecordedAt.
type StatusHistory struct {
	ID         int64     `json:"id" db:"id"`
	ListingKey string    `json:"listing_key" db:"listing_key"`
	OldStatus  string    `json:"old_status" db:"old_status"`
	NewStatus  string    `json:"new_status" db:"new_status"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// ChangeLog records old/new for a watched field.
type ChangeLog struct {
	ID         int64     `json:"id" db:"id"`
	ListingKey string    `json:"listing_key" db:"listing_key"`
	FieldName  string    `json:"field_name" db:"field_name"`
	OldValue   string    `json:"old_value" db:"old_value"`
	NewValue   string    `json:"new_value" db:"new_value"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}
