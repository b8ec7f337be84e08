// Package services holds the per-resource record processors: the
// pipeline between mapped feed records and the store, including the
// inline media refresh and the alert extension point.
package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Beck89/mta-mls-worker/feed"
	"github.com/Beck89/mta-mls-worker/models"
)

// Options carries per-cycle flags into a processor.
type Options struct {
	IsInitialImport bool
	RunID           *int64
}

// Result is the per-record outcome a processor reports back to the
// cycle driver.
type Result struct {
	Inserted int
	Updated  int
	Deleted  int

	MediaQueued     int
	MediaDownloaded int
	MediaDeleted    int
	MediaBytes      int64
}

// Add accumulates another record's result.
func (r *Result) Add(other *Result) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Deleted += other.Deleted
	r.MediaQueued += other.MediaQueued
	r.MediaDownloaded += other.MediaDownloaded
	r.MediaDeleted += other.MediaDeleted
	r.MediaBytes += other.MediaBytes
}

// Processor is one resource kind's record pipeline.
type Processor interface {
	Process(ctx context.Context, rec feed.Record, opts Options) (*Result, error)
}

// ListingStore is the slice of the Postgres store the listing
// processor writes through.
type ListingStore interface {
	GetListing(ctx context.Context, listingKey string) (*models.Listing, error)
	UpsertListingBundle(ctx context.Context, l *models.Listing, rooms []models.Room, unitTypes []models.UnitType, raw json.RawMessage) error
	HideListing(ctx context.Context, listingKey string, modTs time.Time) error

	InsertPriceHistory(ctx context.Context, h *models.PriceHistory) error
	InsertStatusHistory(ctx context.Context, h *models.StatusHistory) error
	InsertChangeLog(ctx context.Context, c *models.ChangeLog) error
}

// RosterStore covers members and offices.
type RosterStore interface {
	GetMember(ctx context.Context, memberKey string) (*models.Member, error)
	UpsertMember(ctx context.Context, m *models.Member) error
	HideMember(ctx context.Context, memberKey string, modTs time.Time) error

	GetOffice(ctx context.Context, officeKey string) (*models.Office, error)
	UpsertOffice(ctx context.Context, o *models.Office) error
	HideOffice(ctx context.Context, officeKey string, modTs time.Time) error
}

// EventStore covers open houses and lookups.
type EventStore interface {
	GetOpenHouse(ctx context.Context, openHouseKey string) (*models.OpenHouse, error)
	UpsertOpenHouse(ctx context.Context, oh *models.OpenHouse) error
	DeleteOpenHouse(ctx context.Context, openHouseKey string) error

	GetLookup(ctx context.Context, lookupKey string) (*models.Lookup, error)
	UpsertLookup(ctx context.Context, l *models.Lookup) error
}

// MediaStore is the media metadata surface shared by the inline
// refresh and the background downloader.
type MediaStore interface {
	GetMediaByParent(ctx context.Context, resource models.Resource, parentKey string) ([]models.Media, error)
	UpsertMedia(ctx context.Context, m *models.Media) error
	UpdateMediaMetadata(ctx context.Context, mediaKey, sourceURL, category string, order int, mediaModTs *time.Time) error
	UpdateMediaStatus(ctx context.Context, mediaKey, status string, retryCount int) error
	MarkMediaComplete(ctx context.Context, mediaKey, objectKey, publicURL, contentType string, sizeBytes int64) error
	DeleteMedia(ctx context.Context, mediaKeys []string) error
}

// MediaFetcher is the slice of the feed client the media refresh
// needs: CDN downloads and single-listing refetches for fresh URLs.
type MediaFetcher interface {
	DownloadMedia(ctx context.Context, url string) (*feed.MediaBlob, error)
	FetchListingByID(ctx context.Context, listingID string, runID *int64) (feed.Record, error)
}

// ObjectUploader is the slice of the object store used here.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
