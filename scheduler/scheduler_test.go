package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Beck89/mta-mls-worker/models"
	"github.com/Beck89/mta-mls-worker/storage"
)

type fakeRunner struct {
	mu     sync.Mutex
	cycles []models.Resource
}

func (f *fakeRunner) RunCycle(_ context.Context, resource models.Resource) (*models.ReplicationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles = append(f.cycles, resource)
	return &models.ReplicationRun{Resource: resource, Status: models.RunStatusCompleted}, nil
}

func (f *fakeRunner) order() []models.Resource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Resource(nil), f.cycles...)
}

type fakeSchedStore struct {
	imported bool
	purged   []storage.PurgedListing
	cutoffs  []time.Time
}

func (f *fakeSchedStore) HasAnyCompletedRun(_ context.Context) (bool, error) {
	return f.imported, nil
}

func (f *fakeSchedStore) PurgeHiddenListings(_ context.Context, cutoff time.Time) ([]storage.PurgedListing, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.purged, nil
}

type fakeDeleter struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeDeleter) DeleteBatch(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keys...)
	return nil
}

func allCadences(d time.Duration) map[models.Resource]time.Duration {
	return map[models.Resource]time.Duration{
		models.ResourceListing:   d,
		models.ResourceMember:    d,
		models.ResourceOffice:    d,
		models.ResourceOpenHouse: d,
		models.ResourceLookup:    d,
	}
}

func TestInitialImportOrdering(t *testing.T) {
	runner := &fakeRunner{}
	store := &fakeSchedStore{imported: false}
	s := New(runner, store, &fakeDeleter{}, Config{Cadences: allCadences(time.Hour)}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ok := s.initialImport(ctx)
	require.True(t, ok)

	order := runner.order()
	require.Len(t, order, 4)
	assert.Equal(t, models.ResourceListing, order[0], "listings import first")
	assert.ElementsMatch(t, []models.Resource{models.ResourceMember, models.ResourceOffice}, order[1:3])
	assert.Equal(t, models.ResourceOpenHouse, order[3])
}

func TestSteadyStateLoopsRunEachResource(t *testing.T) {
	runner := &fakeRunner{}
	store := &fakeSchedStore{imported: true}
	s := New(runner, store, &fakeDeleter{}, Config{Cadences: allCadences(time.Hour)}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	// Each loop fires its first cycle immediately.
	assert.Eventually(t, func() bool {
		return len(runner.order()) >= 5
	}, 2*time.Second, 10*time.Millisecond)

	seen := map[models.Resource]bool{}
	for _, r := range runner.order() {
		seen[r] = true
	}
	for _, r := range []models.Resource{
		models.ResourceListing, models.ResourceMember, models.ResourceOffice,
		models.ResourceOpenHouse, models.ResourceLookup,
	} {
		assert.True(t, seen[r], string(r))
	}

	cancel()
	s.Stop()
}

func TestCleanupDeletesPurgedObjects(t *testing.T) {
	runner := &fakeRunner{}
	store := &fakeSchedStore{
		imported: true,
		purged: []storage.PurgedListing{
			{ListingKey: "K1", ObjectKeys: []string{"property/K1/M1.jpg", "property/K1/M2.jpg"}},
			{ListingKey: "K2", ObjectKeys: []string{"property/K2/M1.jpg"}},
		},
	}
	deleter := &fakeDeleter{}
	s := New(runner, store, deleter, Config{Cadences: allCadences(time.Hour), RetentionDays: 30}, zerolog.Nop())

	s.runCleanup(context.Background())

	require.Len(t, store.cutoffs, 1)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -30), store.cutoffs[0], time.Minute)
	assert.Len(t, deleter.keys, 3)
}
