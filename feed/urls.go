package feed

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Beck89/mta-mls-worker/models"
)

// Page sizes: smaller when expanding sub-resources, the expanded
// payloads are an order of magnitude heavier.
const (
	pageSizeExpanded = 1000
	pageSizePlain    = 5000
)

// odataTime is the timestamp literal format the feed accepts.
const odataTime = "2006-01-02T15:04:05.000Z"

func resourcePath(resource models.Resource) string {
	return string(resource)
}

func expandFor(resource models.Resource) string {
	switch resource {
	case models.ResourceListing:
		return "Media,Rooms,UnitTypes"
	case models.ResourceMember, models.ResourceOffice:
		return "Media"
	default:
		return ""
	}
}

func pageSizeFor(resource models.Resource) int {
	if expandFor(resource) != "" {
		return pageSizeExpanded
	}
	return pageSizePlain
}

// BuildInitialURL builds the first-page URL for an initial import:
// scoped to the vendor and filtered to visible records only.
func BuildInitialURL(baseURL string, resource models.Resource, vendor string) string {
	filter := fmt.Sprintf("OriginatingSystemName eq '%s'", vendor)
	if resource != models.ResourceLookup {
		filter += " and MlgCanView eq true"
	}
	return buildURL(baseURL, resource, filter)
}

// BuildReplicationURL builds the first-page URL for a replication
// cycle from the given high-water mark. resumeSafe selects 'ge'
// instead of 'gt' so records sharing the HWM timestamp are re-seen;
// the caller pairs it with the dedup set.
func BuildReplicationURL(baseURL string, resource models.Resource, vendor string, hwm time.Time, resumeSafe bool) string {
	op := "gt"
	if resumeSafe {
		op = "ge"
	}
	filter := fmt.Sprintf("OriginatingSystemName eq '%s' and ModificationTimestamp %s %s",
		vendor, op, hwm.UTC().Format(odataTime))
	return buildURL(baseURL, resource, filter)
}

// BuildSingleListingURL builds a single-record lookup by listing id
// with media expanded, used to refresh expired media URLs.
func BuildSingleListingURL(baseURL, vendor, listingID string) string {
	filter := fmt.Sprintf("OriginatingSystemName eq '%s' and ListingId eq '%s'", vendor, listingID)
	return buildURL(baseURL, models.ResourceListing, filter)
}

func buildURL(baseURL string, resource models.Resource, filter string) string {
	q := url.Values{}
	q.Set("$filter", filter)
	if expand := expandFor(resource); expand != "" {
		q.Set("$expand", expand)
	}
	q.Set("$top", fmt.Sprintf("%d", pageSizeFor(resource)))
	return fmt.Sprintf("%s/%s?%s", baseURL, resourcePath(resource), q.Encode())
}
