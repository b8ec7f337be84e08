package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Beck89/mta-mls-worker/feed"
	"github.com/Beck89/mta-mls-worker/models"
)

// fakeStore is an in-memory stand-in for the Postgres store, shared
// by the processor tests.
type fakeStore struct {
	mu sync.Mutex

	listings   map[string]*models.Listing
	rooms      map[string][]models.Room
	unitTypes  map[string][]models.UnitType
	raw        map[string]json.RawMessage
	mediaByKey map[string]*models.Media

	members    map[string]*models.Member
	offices    map[string]*models.Office
	openHouses map[string]*models.OpenHouse
	lookups    map[string]*models.Lookup

	priceHistory  []models.PriceHistory
	statusHistory []models.StatusHistory
	changeLog     []models.ChangeLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings:   map[string]*models.Listing{},
		rooms:      map[string][]models.Room{},
		unitTypes:  map[string][]models.UnitType{},
		raw:        map[string]json.RawMessage{},
		mediaByKey: map[string]*models.Media{},
		members:    map[string]*models.Member{},
		offices:    map[string]*models.Office{},
		openHouses: map[string]*models.OpenHouse{},
		lookups:    map[string]*models.Lookup{},
	}
}

func (f *fakeStore) GetListing(_ context.Context, key string) (*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.listings[key]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertListingBundle(_ context.Context, l *models.Listing, rooms []models.Room, unitTypes []models.UnitType, raw json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *l
	if prev, ok := f.listings[l.ListingKey]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.CreatedAt = time.Now()
	}
	f.listings[l.ListingKey] = &cp
	f.rooms[l.ListingKey] = rooms
	f.unitTypes[l.ListingKey] = unitTypes
	f.raw[l.ListingKey] = raw
	return nil
}

func (f *fakeStore) HideListing(_ context.Context, key string, modTs time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[key]
	if !ok {
		return fmt.Errorf("listing %s not found", key)
	}
	l.CanView = false
	l.ModificationTimestamp = modTs
	if l.DeletedAt == nil {
		now := time.Now()
		l.DeletedAt = &now
	}
	return nil
}

func (f *fakeStore) InsertPriceHistory(_ context.Context, h *models.PriceHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceHistory = append(f.priceHistory, *h)
	return nil
}

func (f *fakeStore) InsertStatusHistory(_ context.Context, h *models.StatusHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusHistory = append(f.statusHistory, *h)
	return nil
}

func (f *fakeStore) InsertChangeLog(_ context.Context, c *models.ChangeLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changeLog = append(f.changeLog, *c)
	return nil
}

func (f *fakeStore) GetMember(_ context.Context, key string) (*models.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[key]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertMember(_ context.Context, m *models.Member) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.members[m.MemberKey] = &cp
	return nil
}

func (f *fakeStore) HideMember(_ context.Context, key string, modTs time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[key]; ok {
		m.CanView = false
		m.ModificationTimestamp = modTs
		now := time.Now()
		m.DeletedAt = &now
	}
	return nil
}

func (f *fakeStore) GetOffice(_ context.Context, key string) (*models.Office, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.offices[key]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertOffice(_ context.Context, o *models.Office) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.offices[o.OfficeKey] = &cp
	return nil
}

func (f *fakeStore) HideOffice(_ context.Context, key string, modTs time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.offices[key]; ok {
		o.CanView = false
		o.ModificationTimestamp = modTs
		now := time.Now()
		o.DeletedAt = &now
	}
	return nil
}

func (f *fakeStore) GetOpenHouse(_ context.Context, key string) (*models.OpenHouse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if oh, ok := f.openHouses[key]; ok {
		cp := *oh
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertOpenHouse(_ context.Context, oh *models.OpenHouse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *oh
	f.openHouses[oh.OpenHouseKey] = &cp
	return nil
}

func (f *fakeStore) DeleteOpenHouse(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.openHouses, key)
	return nil
}

func (f *fakeStore) GetLookup(_ context.Context, key string) (*models.Lookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.lookups[key]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertLookup(_ context.Context, l *models.Lookup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *l
	f.lookups[l.LookupKey] = &cp
	return nil
}

func (f *fakeStore) GetMediaByParent(_ context.Context, resource models.Resource, parentKey string) ([]models.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Media
	for _, m := range f.mediaByKey {
		if m.ResourceType == resource && m.ParentKey == parentKey {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertMedia(_ context.Context, m *models.Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.mediaByKey[m.MediaKey] = &cp
	return nil
}

func (f *fakeStore) UpdateMediaMetadata(_ context.Context, mediaKey, sourceURL, category string, order int, mediaModTs *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.mediaByKey[mediaKey]; ok {
		m.SourceURL = sourceURL
		m.Category = category
		m.MediaOrder = order
		m.MediaModTs = mediaModTs
	}
	return nil
}

func (f *fakeStore) UpdateMediaStatus(_ context.Context, mediaKey, status string, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.mediaByKey[mediaKey]; ok {
		m.Status = status
		m.RetryCount = retryCount
	}
	return nil
}

func (f *fakeStore) MarkMediaComplete(_ context.Context, mediaKey, objectKey, publicURL, contentType string, sizeBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.mediaByKey[mediaKey]; ok {
		m.Status = models.MediaStatusComplete
		m.ObjectKey = objectKey
		m.PublicURL = publicURL
		m.ContentType = contentType
		m.FileSizeBytes = sizeBytes
	}
	return nil
}

func (f *fakeStore) DeleteMedia(_ context.Context, mediaKeys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range mediaKeys {
		delete(f.mediaByKey, k)
	}
	return nil
}

func (f *fakeStore) mediaStatuses() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for k, m := range f.mediaByKey {
		out[k] = m.Status
	}
	return out
}

// fakeFetcher implements MediaFetcher with programmable behavior.
type fakeFetcher struct {
	mu        sync.Mutex
	downloads []string

	downloadFn func(url string) (*feed.MediaBlob, error)
	refetchFn  func(listingID string) (feed.Record, error)
}

func (f *fakeFetcher) DownloadMedia(_ context.Context, url string) (*feed.MediaBlob, error) {
	f.mu.Lock()
	f.downloads = append(f.downloads, url)
	f.mu.Unlock()
	if f.downloadFn != nil {
		return f.downloadFn(url)
	}
	return &feed.MediaBlob{Data: []byte("img"), ContentType: "image/jpeg", Size: 3}, nil
}

func (f *fakeFetcher) FetchListingByID(_ context.Context, listingID string, _ *int64) (feed.Record, error) {
	if f.refetchFn != nil {
		return f.refetchFn(listingID)
	}
	return nil, nil
}

func (f *fakeFetcher) downloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.downloads)
}

// fakeObjects implements ObjectUploader in memory.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (f *fakeObjects) Upload(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjects) PublicURL(key string) string {
	return "https://media.test/" + key
}

// fakeHook records alert events.
type fakeHook struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (f *fakeHook) Notify(_ context.Context, event ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeHook) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.ChangeKind)
	}
	return out
}
