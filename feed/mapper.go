package feed

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/Beck89/mta-mls-worker/models"
)

// Vendor-local fields are 2-3 uppercase letters plus underscore, e.g.
// NWM_PublicSearch. They never become columns; the mapper relocates
// them into the LocalFields bag.
var vendorPrefixRe = regexp.MustCompile(`^[A-Z]{2,3}_`)

// Listing ids are the vendor id with a 2-3 letter prefix, e.g.
// NWM2206041. Display form strips the prefix.
var listingIDPrefixRe = regexp.MustCompile(`^([A-Z]{2,3})(\d.*)$`)

// Expanded sub-resources stripped for the raw archive.
var expandedKeys = []string{"Media", "Rooms", "UnitTypes"}

// MappedListing is the full output of mapping one listing record.
type MappedListing struct {
	Listing   *models.Listing
	Rooms     []models.Room
	UnitTypes []models.UnitType
	Media     []models.Media
}

// MapListing translates one raw listing record into internal
// entities. A missing or malformed ModificationTimestamp or a missing
// key makes the record unprocessable.
func MapListing(rec Record) (*MappedListing, error) {
	key := str(rec, "ListingKey")
	if key == "" {
		return nil, &MappingError{Resource: "Property", Reason: "missing ListingKey"}
	}
	modTs, err := requiredTime(rec, "ModificationTimestamp")
	if err != nil {
		return nil, &MappingError{Resource: "Property", Key: key, Reason: err.Error()}
	}

	listingID := str(rec, "ListingId")
	l := &models.Listing{
		ListingKey:       key,
		ListingID:        listingID,
		ListingIDDisplay: stripListingIDPrefix(listingID),

		ListPrice:         decPtr(rec, "ListPrice"),
		OriginalListPrice: decPtr(rec, "OriginalListPrice"),
		PreviousListPrice: decPtr(rec, "PreviousListPrice"),
		ClosePrice:        decPtr(rec, "ClosePrice"),

		StandardStatus:  str(rec, "StandardStatus"),
		MlsStatus:       str(rec, "MlsStatus"),
		MajorChangeType: str(rec, "MajorChangeType"),

		PropertyType:    str(rec, "PropertyType"),
		PropertySubType: str(rec, "PropertySubType"),
		BedroomsTotal:   intPtr(rec, "BedroomsTotal"),
		BathroomsTotal:  decPtr(rec, "BathroomsTotal"),
		LivingArea:      decPtr(rec, "LivingArea"),
		LotSizeAcres:    decPtr(rec, "LotSizeAcres"),
		YearBuilt:       intPtr(rec, "YearBuilt"),
		Stories:         intPtr(rec, "Stories"),
		GarageSpaces:    intPtr(rec, "GarageSpaces"),
		PoolPrivate:     boolPtr(rec, "PoolPrivateYN"),

		UnparsedAddress: str(rec, "UnparsedAddress"),
		StreetNumber:    str(rec, "StreetNumber"),
		StreetName:      str(rec, "StreetName"),
		UnitNumber:      str(rec, "UnitNumber"),
		City:            str(rec, "City"),
		StateOrProvince: str(rec, "StateOrProvince"),
		PostalCode:      str(rec, "PostalCode"),
		CountyOrParish:  str(rec, "CountyOrParish"),
		Subdivision:     str(rec, "SubdivisionName"),
		Latitude:        floatPtr(rec, "Latitude"),
		Longitude:       floatPtr(rec, "Longitude"),

		ListAgentKey:    str(rec, "ListAgentKey"),
		ListAgentName:   str(rec, "ListAgentFullName"),
		ListOfficeKey:   str(rec, "ListOfficeKey"),
		ListOfficeName:  str(rec, "ListOfficeName"),
		BuyerAgentKey:   str(rec, "BuyerAgentKey"),
		BuyerOfficeKey:  str(rec, "BuyerOfficeKey"),
		CoListAgentKey:  str(rec, "CoListAgentKey"),
		CoListOfficeKey: str(rec, "CoListOfficeKey"),

		PublicRemarks:  str(rec, "PublicRemarks"),
		PrivateRemarks: str(rec, "PrivateRemarks"),

		ElementarySchool: str(rec, "ElementarySchool"),
		MiddleSchool:     str(rec, "MiddleOrJuniorSchool"),
		HighSchool:       str(rec, "HighSchool"),
		SchoolDistrict:   str(rec, "HighSchoolDistrict"),

		TaxAnnualAmount: decPtr(rec, "TaxAnnualAmount"),
		TaxYear:         intPtr(rec, "TaxYear"),
		ParcelNumber:    str(rec, "ParcelNumber"),

		BuyerAgencyCompensation: str(rec, "BuyerAgencyCompensation"),

		CanView:     boolVal(rec, "MlgCanView"),
		UseCases:    strSlice(rec, "MlgUseCase"),
		PhotosCount: intVal(rec, "PhotosCount"),

		ModificationTimestamp: modTs,
		OriginatingModTs:      timePtr(rec, "OriginatingSystemModificationTimestamp"),
		PhotosChangeTs:        timePtr(rec, "PhotosChangeTimestamp"),
		MajorChangeTs:         timePtr(rec, "MajorChangeTimestamp"),
		OriginalEntryTs:       timePtr(rec, "OriginalEntryTimestamp"),
	}

	if l.Latitude != nil && l.Longitude != nil {
		l.Location = wktPoint(*l.Longitude, *l.Latitude)
	}

	l.LocalFields = localFields(rec)

	m := &MappedListing{Listing: l}
	m.Rooms = mapRooms(key, rec)
	m.UnitTypes = mapUnitTypes(key, rec)
	m.Media = MapMedia(models.ResourceListing, key, listingID, subRecords(rec, "Media"))
	return m, nil
}

// MapMember translates one raw member record; media rides along.
func MapMember(rec Record) (*models.Member, []models.Media, error) {
	key := str(rec, "MemberKey")
	if key == "" {
		return nil, nil, &MappingError{Resource: "Member", Reason: "missing MemberKey"}
	}
	modTs, err := requiredTime(rec, "ModificationTimestamp")
	if err != nil {
		return nil, nil, &MappingError{Resource: "Member", Key: key, Reason: err.Error()}
	}

	m := &models.Member{
		MemberKey:    key,
		MemberMlsID:  str(rec, "MemberMlsId"),
		FirstName:    str(rec, "MemberFirstName"),
		LastName:     str(rec, "MemberLastName"),
		FullName:     str(rec, "MemberFullName"),
		Email:        str(rec, "MemberEmail"),
		Phone:        str(rec, "MemberPreferredPhone"),
		StateLicense: str(rec, "MemberStateLicense"),
		OfficeKey:    str(rec, "OfficeKey"),
		MemberStatus: str(rec, "MemberStatus"),
		CanView:      boolVal(rec, "MlgCanView"),

		ModificationTimestamp: modTs,
		PhotosChangeTs:        timePtr(rec, "PhotosChangeTimestamp"),
		LocalFields:           localFields(rec),
	}
	media := MapMedia(models.ResourceMember, key, "", subRecords(rec, "Media"))
	return m, media, nil
}

// MapOffice translates one raw office record; media rides along.
func MapOffice(rec Record) (*models.Office, []models.Media, error) {
	key := str(rec, "OfficeKey")
	if key == "" {
		return nil, nil, &MappingError{Resource: "Office", Reason: "missing OfficeKey"}
	}
	modTs, err := requiredTime(rec, "ModificationTimestamp")
	if err != nil {
		return nil, nil, &MappingError{Resource: "Office", Key: key, Reason: err.Error()}
	}

	o := &models.Office{
		OfficeKey:    key,
		OfficeMlsID:  str(rec, "OfficeMlsId"),
		OfficeName:   str(rec, "OfficeName"),
		Phone:        str(rec, "OfficePhone"),
		Email:        str(rec, "OfficeEmail"),
		Address:      str(rec, "OfficeAddress1"),
		City:         str(rec, "OfficeCity"),
		PostalCode:   str(rec, "OfficePostalCode"),
		OfficeStatus: str(rec, "OfficeStatus"),
		CanView:      boolVal(rec, "MlgCanView"),

		ModificationTimestamp: modTs,
		PhotosChangeTs:        timePtr(rec, "PhotosChangeTimestamp"),
		LocalFields:           localFields(rec),
	}
	media := MapMedia(models.ResourceOffice, key, "", subRecords(rec, "Media"))
	return o, media, nil
}

// MapOpenHouse translates one raw open house record.
func MapOpenHouse(rec Record) (*models.OpenHouse, error) {
	key := str(rec, "OpenHouseKey")
	if key == "" {
		return nil, &MappingError{Resource: "OpenHouse", Reason: "missing OpenHouseKey"}
	}
	modTs, err := requiredTime(rec, "ModificationTimestamp")
	if err != nil {
		return nil, &MappingError{Resource: "OpenHouse", Key: key, Reason: err.Error()}
	}

	return &models.OpenHouse{
		OpenHouseKey:    key,
		ListingID:       str(rec, "ListingId"),
		StartTime:       timePtr(rec, "OpenHouseStartTime"),
		EndTime:         timePtr(rec, "OpenHouseEndTime"),
		Remarks:         str(rec, "OpenHouseRemarks"),
		OpenHouseStatus: str(rec, "OpenHouseStatus"),
		OpenHouseType:   str(rec, "OpenHouseType"),

		ModificationTimestamp: modTs,
		LocalFields:           localFields(rec),
	}, nil
}

// MapLookup translates one raw lookup record.
func MapLookup(rec Record) (*models.Lookup, error) {
	key := str(rec, "LookupKey")
	if key == "" {
		return nil, &MappingError{Resource: "Lookup", Reason: "missing LookupKey"}
	}
	modTs, err := requiredTime(rec, "ModificationTimestamp")
	if err != nil {
		return nil, &MappingError{Resource: "Lookup", Key: key, Reason: err.Error()}
	}

	return &models.Lookup{
		LookupKey:         key,
		OriginatingSystem: str(rec, "OriginatingSystemName"),
		LookupName:        str(rec, "LookupName"),
		LookupValue:       str(rec, "LookupValue"),
		StandardLookup:    str(rec, "StandardLookupValue"),
		LegacyODataValue:  str(rec, "LegacyODataValue"),

		ModificationTimestamp: modTs,
	}, nil
}

// MapMedia translates the expanded Media sub-documents. Order
// defaults to array position; every row starts pending_download with
// a deterministic object-store key.
func MapMedia(resource models.Resource, parentKey, listingID string, docs []Record) []models.Media {
	var out []models.Media
	for i, doc := range docs {
		mediaKey := str(doc, "MediaKey")
		if mediaKey == "" {
			continue
		}
		sourceURL := str(doc, "MediaURL")
		contentType := str(doc, "MimeType")
		if contentType == "" {
			contentType = guessContentType(sourceURL)
		}

		order := i
		if v := intPtr(doc, "Order"); v != nil {
			order = *v
		}

		out = append(out, models.Media{
			MediaKey:     mediaKey,
			ResourceType: resource,
			ParentKey:    parentKey,
			ListingID:    listingID,
			SourceURL:    sourceURL,
			ObjectKey:    ObjectKey(resource, parentKey, mediaKey, contentType),
			MediaOrder:   order,
			Category:     str(doc, "MediaCategory"),
			ContentType:  contentType,
			Status:       models.MediaStatusPendingDownload,
			MediaModTs:   timePtr(doc, "MediaModificationTimestamp"),
		})
	}
	return out
}

// MediaSubDocs maps just the Media sub-documents of a raw record,
// used when refetching a listing for fresh signed URLs.
func MediaSubDocs(resource models.Resource, parentKey, listingID string, rec Record) []models.Media {
	return MapMedia(resource, parentKey, listingID, subRecords(rec, "Media"))
}

// RecordKey extracts a record's primary key without a full mapping,
// for dedup-on-resume bookkeeping.
func RecordKey(resource models.Resource, rec Record) string {
	switch resource {
	case models.ResourceListing:
		return str(rec, "ListingKey")
	case models.ResourceMember:
		return str(rec, "MemberKey")
	case models.ResourceOffice:
		return str(rec, "OfficeKey")
	case models.ResourceOpenHouse:
		return str(rec, "OpenHouseKey")
	case models.ResourceLookup:
		return str(rec, "LookupKey")
	default:
		return ""
	}
}

// RecordModTs extracts a record's ModificationTimestamp without a
// full mapping; zero time when missing or malformed.
func RecordModTs(rec Record) time.Time {
	t, err := requiredTime(rec, "ModificationTimestamp")
	if err != nil {
		return time.Time{}
	}
	return t
}

// ObjectKey derives the deterministic object-store key:
// {resourceType}/{parentKey}/{mediaKey}.{ext}.
func ObjectKey(resource models.Resource, parentKey, mediaKey, contentType string) string {
	return fmt.Sprintf("%s/%s/%s%s", strings.ToLower(string(resource)), parentKey, mediaKey, extFromContentType(contentType))
}

// StripExpanded returns the record JSON with expanded sub-resources
// removed, for the raw archive.
func StripExpanded(rec Record) (json.RawMessage, error) {
	stripped := make(Record, len(rec))
	for k, v := range rec {
		stripped[k] = v
	}
	for _, k := range expandedKeys {
		delete(stripped, k)
	}
	data, err := json.Marshal(stripped)
	if err != nil {
		return nil, fmt.Errorf("marshal stripped record: %w", err)
	}
	return data, nil
}

// URLExpiresAt parses the expires=<unix-seconds> query parameter of a
// signed media URL. Zero time when absent or malformed.
func URLExpiresAt(rawURL string) time.Time {
	u, err := url.Parse(rawURL)
	if err != nil {
		return time.Time{}
	}
	v := u.Query().Get("expires")
	if v == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// URLExpired reports whether a signed URL is expired or expires
// within the 60 second safety buffer. URLs without an expires
// parameter are treated as still valid.
func URLExpired(rawURL string, now time.Time) bool {
	exp := URLExpiresAt(rawURL)
	if exp.IsZero() {
		return false
	}
	return !exp.After(now.Add(60 * time.Second))
}

func mapRooms(listingKey string, rec Record) []models.Room {
	var out []models.Room
	for _, doc := range subRecords(rec, "Rooms") {
		roomKey := str(doc, "RoomKey")
		if roomKey == "" {
			continue
		}
		out = append(out, models.Room{
			ListingKey:     listingKey,
			RoomKey:        roomKey,
			RoomType:       str(doc, "RoomType"),
			RoomDimensions: str(doc, "RoomDimensions"),
			RoomLevel:      str(doc, "RoomLevel"),
			RoomArea:       decPtr(doc, "RoomArea"),
			RoomFeatures:   str(doc, "RoomFeatures"),
		})
	}
	return out
}

func mapUnitTypes(listingKey string, rec Record) []models.UnitType {
	var out []models.UnitType
	for _, doc := range subRecords(rec, "UnitTypes") {
		utKey := str(doc, "UnitTypeKey")
		if utKey == "" {
			continue
		}
		out = append(out, models.UnitType{
			ListingKey:        listingKey,
			UnitTypeKey:       utKey,
			UnitTypeType:      str(doc, "UnitTypeType"),
			TotalUnits:        intPtr(doc, "UnitTypeUnitsTotal"),
			BedsTotal:         intPtr(doc, "UnitTypeBedsTotal"),
			BathsTotal:        decPtr(doc, "UnitTypeBathsTotal"),
			ActualRent:        decPtr(doc, "UnitTypeActualRent"),
			ProFormaRent:      decPtr(doc, "UnitTypeProForma"),
			UnitTypeFurnished: str(doc, "UnitTypeFurnished"),
		})
	}
	return out
}

// localFields partitions vendor-prefixed keys into the JSON side-bag.
func localFields(rec Record) json.RawMessage {
	bag := make(map[string]any)
	for k, v := range rec {
		if vendorPrefixRe.MatchString(k) {
			bag[k] = v
		}
	}
	if len(bag) == 0 {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(bag)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

func stripListingIDPrefix(listingID string) string {
	if m := listingIDPrefixRe.FindStringSubmatch(listingID); m != nil {
		return m[2]
	}
	return listingID
}

func wktPoint(lng, lat float64) string {
	return fmt.Sprintf("SRID=4326;POINT(%s %s)",
		strconv.FormatFloat(lng, 'f', -1, 64),
		strconv.FormatFloat(lat, 'f', -1, 64))
}

func subRecords(rec Record, key string) []Record {
	raw, ok := rec[key].([]any)
	if !ok {
		return nil
	}
	var out []Record
	for _, item := range raw {
		if doc, ok := item.(map[string]any); ok {
			out = append(out, Record(doc))
		}
	}
	return out
}

// Field accessors. Feed numbers arrive as json.Number; a few helpers
// also tolerate plain float64/string for callers that build records
// by hand.

func str(rec Record, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

func strSlice(rec Record, key string) []string {
	raw, ok := rec[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func boolVal(rec Record, key string) bool {
	v, ok := rec[key].(bool)
	return ok && v
}

func boolPtr(rec Record, key string) *bool {
	if v, ok := rec[key].(bool); ok {
		return &v
	}
	return nil
}

func intVal(rec Record, key string) int {
	if p := intPtr(rec, key); p != nil {
		return *p
	}
	return 0
}

func intPtr(rec Record, key string) *int {
	switch v := rec[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			i := int(n)
			return &i
		}
		if f, err := v.Float64(); err == nil {
			i := int(f)
			return &i
		}
	case float64:
		i := int(v)
		return &i
	}
	return nil
}

func floatPtr(rec Record, key string) *float64 {
	switch v := rec[key].(type) {
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return &f
		}
	case float64:
		return &v
	}
	return nil
}

// decPtr preserves the feed's decimal text exactly.
func decPtr(rec Record, key string) *decimal.Decimal {
	switch v := rec[key].(type) {
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return &d
		}
	case float64:
		d := decimal.NewFromFloat(v)
		return &d
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return &d
		}
	}
	return nil
}

func timePtr(rec Record, key string) *time.Time {
	s, ok := rec[key].(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func requiredTime(rec Record, key string) (time.Time, error) {
	s, ok := rec[key].(string)
	if !ok || s == "" {
		return time.Time{}, fmt.Errorf("missing %s", key)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed %s: %q", key, s)
	}
	return t, nil
}

func guessContentType(mediaURL string) string {
	switch strings.ToLower(path.Ext(stripQuery(mediaURL))) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	default:
		return "image/jpeg"
	}
}

func extFromContentType(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".jpg"
	}
}

func stripQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
