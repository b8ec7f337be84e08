package replicator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Beck89/mta-mls-worker/feed"
	"github.com/Beck89/mta-mls-worker/models"
	"github.com/Beck89/mta-mls-worker/services"
)

type fakeRunStore struct {
	lastRun    *models.ReplicationRun
	dedupKeys  []string
	runs       []*models.ReplicationRun
	updates    []*models.ReplicationRun
	refreshed  int
	nextID     int64
	dedupAsked *time.Time
}

func (f *fakeRunStore) LatestFinishedRun(_ context.Context, _ models.Resource) (*models.ReplicationRun, error) {
	return f.lastRun, nil
}

func (f *fakeRunStore) CreateRun(_ context.Context, run *models.ReplicationRun) error {
	f.nextID++
	run.ID = f.nextID
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRunStore) UpdateRun(_ context.Context, run *models.ReplicationRun) error {
	cp := *run
	f.updates = append(f.updates, &cp)
	return nil
}

func (f *fakeRunStore) KeysAtTimestamp(_ context.Context, _ models.Resource, hwm time.Time) ([]string, error) {
	f.dedupAsked = &hwm
	return f.dedupKeys, nil
}

func (f *fakeRunStore) RefreshListingSearchView(_ context.Context) error {
	f.refreshed++
	return nil
}

type fakePageClient struct {
	pages   []*feed.Page
	pageErr error // returned after all queued pages are served
	fetched []string
}

func (f *fakePageClient) BaseURL() string { return "https://api.test/v2" }
func (f *fakePageClient) Vendor() string  { return "NWMLS" }

func (f *fakePageClient) FetchPage(_ context.Context, url string, _ *int64) (*feed.Page, error) {
	f.fetched = append(f.fetched, url)
	if len(f.pages) == 0 {
		if f.pageErr != nil {
			return nil, f.pageErr
		}
		return &feed.Page{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	if page == nil {
		return nil, f.pageErr
	}
	return page, nil
}

type fakeProcessor struct {
	processed []string
	results   map[string]*services.Result
	errKeys   map[string]bool
}

func (f *fakeProcessor) Process(_ context.Context, rec feed.Record, _ services.Options) (*services.Result, error) {
	key := feed.RecordKey(models.ResourceListing, rec)
	f.processed = append(f.processed, key)
	if f.errKeys[key] {
		return nil, fmt.Errorf("boom for %s", key)
	}
	if r, ok := f.results[key]; ok {
		return r, nil
	}
	return &services.Result{Inserted: 1}, nil
}

func record(key, modTs string) feed.Record {
	return feed.Record{"ListingKey": key, "ModificationTimestamp": modTs}
}

func newTestDriver(store *fakeRunStore, client *fakePageClient, proc services.Processor) *Driver {
	return New(store, client, map[models.Resource]services.Processor{
		models.ResourceListing: proc,
	}, zerolog.Nop())
}

func TestRunCycleInitialImport(t *testing.T) {
	store := &fakeRunStore{}
	client := &fakePageClient{pages: []*feed.Page{
		{
			Records:   []feed.Record{record("A", "2025-06-01T12:00:00Z"), record("B", "2025-06-01T12:00:01Z")},
			NextLink:  "https://api.test/v2/page2",
			Bytes:     2048,
			ElapsedMS: 80,
		},
		{
			Records:   []feed.Record{record("C", "2025-06-01T12:00:02Z")},
			Bytes:     1024,
			ElapsedMS: 40,
		},
	}}
	proc := &fakeProcessor{}

	run, err := newTestDriver(store, client, proc).RunCycle(context.Background(), models.ResourceListing)
	require.NoError(t, err)

	assert.Equal(t, models.RunModeInitial, run.Mode)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.RecordsReceived)
	assert.Equal(t, 3, run.RecordsInserted)
	assert.Equal(t, 2, run.RequestCount)
	assert.Equal(t, int64(3072), run.RequestBytes)

	require.NotNil(t, run.HwmEnd)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 2, 0, time.UTC), run.HwmEnd.UTC())

	// First URL is the initial-import form.
	require.NotEmpty(t, client.fetched)
	assert.Contains(t, client.fetched[0], "MlgCanView+eq+true")
	assert.Equal(t, 1, store.refreshed, "listing cycles refresh the search view")
}

func TestRunCycleResumeWithDedup(t *testing.T) {
	// Crash scenario: records A and B share the HWM timestamp T2; A
	// committed before the crash, B did not.
	t2 := time.Date(2025, 6, 1, 12, 0, 0, 500000000, time.UTC)
	store := &fakeRunStore{
		lastRun: &models.ReplicationRun{
			Status: models.RunStatusPartial,
			HwmEnd: &t2,
		},
		dedupKeys: []string{"A"},
	}
	client := &fakePageClient{pages: []*feed.Page{{
		Records: []feed.Record{
			record("A", "2025-06-01T12:00:00.5Z"),
			record("B", "2025-06-01T12:00:00.5Z"),
			record("C", "2025-06-01T12:00:05Z"),
		},
	}}}
	proc := &fakeProcessor{}

	run, err := newTestDriver(store, client, proc).RunCycle(context.Background(), models.ResourceListing)
	require.NoError(t, err)

	assert.Equal(t, models.RunModeReplication, run.Mode)
	require.NotNil(t, store.dedupAsked)
	assert.True(t, store.dedupAsked.Equal(t2))

	// A skipped exactly once, B and C processed.
	assert.Equal(t, []string{"B", "C"}, proc.processed)
	assert.Equal(t, 3, run.RecordsReceived)
	assert.Equal(t, 2, run.RecordsInserted)

	// Resume URL uses ge on the HWM.
	assert.Contains(t, client.fetched[0], "ModificationTimestamp+ge+2025-06-01T12%3A00%3A00.500Z")
}

func TestRunCyclePartialOnAPIErrorAfterCommit(t *testing.T) {
	t1 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeRunStore{lastRun: &models.ReplicationRun{Status: models.RunStatusCompleted, HwmEnd: &t1}}
	client := &fakePageClient{
		pages: []*feed.Page{
			{Records: []feed.Record{record("A", "2025-06-01T12:00:00Z")}, NextLink: "https://api.test/v2/page2"},
			nil,
		},
		pageErr: &feed.APIError{URL: "https://api.test/v2/page2", Status: 502, Body: "bad gateway"},
	}
	proc := &fakeProcessor{}

	run, err := newTestDriver(store, client, proc).RunCycle(context.Background(), models.ResourceListing)
	require.Error(t, err)

	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.RecordsInserted)
	assert.NotEmpty(t, run.ErrorMessage)
	assert.Equal(t, 1, run.HTTPErrors[502])
	assert.Zero(t, store.refreshed, "no view refresh after a failed cycle")
}

func TestRunCycleFailedWhenNothingCommitted(t *testing.T) {
	store := &fakeRunStore{}
	client := &fakePageClient{
		pageErr: &feed.RateLimitedError{URL: "https://api.test/v2", Attempts: 10},
		pages:   []*feed.Page{nil},
	}
	proc := &fakeProcessor{}

	run, err := newTestDriver(store, client, proc).RunCycle(context.Background(), models.ResourceListing)
	require.Error(t, err)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.HTTPErrors[429])
}

func TestRunCycleSwallowsPerRecordErrors(t *testing.T) {
	store := &fakeRunStore{}
	client := &fakePageClient{pages: []*feed.Page{{
		Records: []feed.Record{
			record("A", "2025-06-01T12:00:00Z"),
			record("BAD", "2025-06-01T12:00:01Z"),
			record("C", "2025-06-01T12:00:02Z"),
		},
	}}}
	proc := &fakeProcessor{errKeys: map[string]bool{"BAD": true}}

	run, err := newTestDriver(store, client, proc).RunCycle(context.Background(), models.ResourceListing)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.RecordsReceived)
	assert.Equal(t, 2, run.RecordsInserted)
	// The bad record still advances the HWM scan but commits nothing.
	require.NotNil(t, run.HwmEnd)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 2, 0, time.UTC), run.HwmEnd.UTC())
}
