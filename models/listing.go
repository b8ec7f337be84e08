package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Resource identifies a replicated feed resource kind.
type Resource string

const (
	ResourceListing   Resource = "Property"
	ResourceMember    Resource = "Member"
	ResourceOffice    Resource = "Office"
	ResourceOpenHouse Resource = "OpenHouse"
	ResourceLookup    Resource = "Lookup"
)

// Listing is the replicated property record. The primary key is the
// vendor listing key; ListingID is the prefixed vendor id and
// ListingIDDisplay the same id with the vendor prefix stripped.
type Listing struct {
	ListingKey       string `json:"listing_key" db:"listing_key"`
	ListingID        string `json:"listing_id" db:"listing_id"`
	ListingIDDisplay string `json:"listing_id_display" db:"listing_id_display"`

	// Pricing
	ListPrice         *decimal.Decimal `json:"list_price" db:"list_price"`
	OriginalListPrice *decimal.Decimal `json:"original_list_price" db:"original_list_price"`
	PreviousListPrice *decimal.Decimal `json:"previous_list_price" db:"previous_list_price"`
	ClosePrice        *decimal.Decimal `json:"close_price" db:"close_price"`

	// Status
	StandardStatus  string `json:"standard_status" db:"standard_status"`
	MlsStatus       string `json:"mls_status" db:"mls_status"`
	MajorChangeType string `json:"major_change_type" db:"major_change_type"`

	// Physical
	PropertyType    string           `json:"property_type" db:"property_type"`
	PropertySubType string           `json:"property_sub_type" db:"property_sub_type"`
	BedroomsTotal   *int             `json:"bedrooms_total" db:"bedrooms_total"`
	BathroomsTotal  *decimal.Decimal `json:"bathrooms_total" db:"bathrooms_total"`
	LivingArea      *decimal.Decimal `json:"living_area" db:"living_area"`
	LotSizeAcres    *decimal.Decimal `json:"lot_size_acres" db:"lot_size_acres"`
	YearBuilt       *int             `json:"year_built" db:"year_built"`
	Stories         *int             `json:"stories" db:"stories"`
	GarageSpaces    *int             `json:"garage_spaces" db:"garage_spaces"`
	PoolPrivate     *bool            `json:"pool_private" db:"pool_private"`

	// Geography
	UnparsedAddress string   `json:"unparsed_address" db:"unparsed_address"`
	StreetNumber    string   `json:"street_number" db:"street_number"`
	StreetName      string   `json:"street_name" db:"street_name"`
	UnitNumber      string   `json:"unit_number" db:"unit_number"`
	City            string   `json:"city" db:"city"`
	StateOrProvince string   `json:"state_or_province" db:"state_or_province"`
	PostalCode      string   `json:"postal_code" db:"postal_code"`
	CountyOrParish  string   `json:"county_or_parish" db:"county_or_parish"`
	Subdivision     string   `json:"subdivision" db:"subdivision"`
	Latitude        *float64 `json:"latitude" db:"latitude"`
	Longitude       *float64 `json:"longitude" db:"longitude"`
	// Location is the WKT spatial point (SRID=4326;POINT(lng lat)),
	// empty when either coordinate is missing.
	Location string `json:"location" db:"location"`

	// Parties
	ListAgentKey    string `json:"list_agent_key" db:"list_agent_key"`
	ListAgentName   string `json:"list_agent_name" db:"list_agent_name"`
	ListOfficeKey   string `json:"list_office_key" db:"list_office_key"`
	ListOfficeName  string `json:"list_office_name" db:"list_office_name"`
	BuyerAgentKey   string `json:"buyer_agent_key" db:"buyer_agent_key"`
	BuyerOfficeKey  string `json:"buyer_office_key" db:"buyer_office_key"`
	CoListAgentKey  string `json:"co_list_agent_key" db:"co_list_agent_key"`
	CoListOfficeKey string `json:"co_list_office_key" db:"co_list_office_key"`

	// Remarks
	PublicRemarks  string `json:"public_remarks" db:"public_remarks"`
	PrivateRemarks string `json:"private_remarks" db:"private_remarks"`

	// Schools
	ElementarySchool string `json:"elementary_school" db:"elementary_school"`
	MiddleSchool     string `json:"middle_school" db:"middle_school"`
	HighSchool       string `json:"high_school" db:"high_school"`
	SchoolDistrict   string `json:"school_district" db:"school_district"`

	// Tax
	TaxAnnualAmount *decimal.Decimal `json:"tax_annual_amount" db:"tax_annual_amount"`
	TaxYear         *int             `json:"tax_year" db:"tax_year"`
	ParcelNumber    string           `json:"parcel_number" db:"parcel_number"`

	// Compensation
	BuyerAgencyCompensation string `json:"buyer_agency_compensation" db:"buyer_agency_compensation"`

	// Visibility
	CanView  bool     `json:"can_view" db:"can_view"`
	UseCases []string `json:"use_cases" db:"use_cases"`

	PhotosCount int `json:"photos_count" db:"photos_count"`

	// Timestamps from the feed
	ModificationTimestamp time.Time  `json:"modification_timestamp" db:"modification_timestamp"`
	OriginatingModTs      *time.Time `json:"originating_mod_ts" db:"originating_mod_ts"`
	PhotosChangeTs        *time.Time `json:"photos_change_ts" db:"photos_change_ts"`
	MajorChangeTs         *time.Time `json:"major_change_ts" db:"major_change_ts"`
	OriginalEntryTs       *time.Time `json:"original_entry_ts" db:"original_entry_ts"`

	// LocalFields carries vendor-prefixed attributes that have no
	// dedicated column (e.g. NWM_xxx), keyed by original field name.
	LocalFields json.RawMessage `json:"local_fields" db:"local_fields"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at" db:"deleted_at"`
}

// Room is owned wholly by its parent listing. The full set is
// replaced on every listing upsert.
type Room struct {
	ListingKey     string           `json:"listing_key" db:"listing_key"`
	RoomKey        string           `json:"room_key" db:"room_key"`
	RoomType       string           `json:"room_type" db:"room_type"`
	RoomDimensions string           `json:"room_dimensions" db:"room_dimensions"`
	RoomLevel      string           `json:"room_level" db:"room_level"`
	RoomArea       *decimal.Decimal `json:"room_area" db:"room_area"`
	RoomFeatures   string           `json:"room_features" db:"room_features"`
}

// UnitType is owned wholly by its parent listing, same replacement
// semantics as Room.
type UnitType struct {
	ListingKey        string           `json:"listing_key" db:"listing_key"`
	UnitTypeKey       string           `json:"unit_type_key" db:"unit_type_key"`
	UnitTypeType      string           `json:"unit_type_type" db:"unit_type_type"`
	TotalUnits        *int             `json:"total_units" db:"total_units"`
	BedsTotal         *int             `json:"beds_total" db:"beds_total"`
	BathsTotal        *decimal.Decimal `json:"baths_total" db:"baths_total"`
	ActualRent        *decimal.Decimal `json:"actual_rent" db:"actual_rent"`
	ProFormaRent      *decimal.Decimal `json:"pro_forma_rent" db:"pro_forma_rent"`
	UnitTypeFurnished string           `json:"unit_type_furnished" db:"unit_type_furnished"`
}

// RawResponse archives the last mapper-input JSON for a listing with
// the expanded sub-resources stripped out.
type RawResponse struct {
	ListingKey string          `json:"listing_key" db:"listing_key"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}
