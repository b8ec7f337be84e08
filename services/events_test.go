package services

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Beck89/mta-mls-worker/feed"
)

func openHouseRecord(key string, canView bool) feed.Record {
	return feed.Record{
		"OpenHouseKey":          key,
		"ListingId":             "NWM1001",
		"OpenHouseStartTime":    "2025-06-07T18:00:00Z",
		"OpenHouseEndTime":      "2025-06-07T20:00:00Z",
		"MlgCanView":            canView,
		"ModificationTimestamp": "2025-06-01T12:00:00Z",
	}
}

func TestOpenHouseInsertUpdateClassification(t *testing.T) {
	store := newFakeStore()
	proc := NewOpenHouseProcessor(store, zerolog.Nop())
	ctx := context.Background()

	result, err := proc.Process(ctx, openHouseRecord("OH1", true), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Zero(t, result.Updated)

	// Re-seeing the same key is an update, not another insert.
	result, err = proc.Process(ctx, openHouseRecord("OH1", true), Options{})
	require.NoError(t, err)
	assert.Zero(t, result.Inserted)
	assert.Equal(t, 1, result.Updated)
}

func TestOpenHouseHiddenIsHardDeleted(t *testing.T) {
	store := newFakeStore()
	proc := NewOpenHouseProcessor(store, zerolog.Nop())
	ctx := context.Background()

	_, err := proc.Process(ctx, openHouseRecord("OH1", true), Options{})
	require.NoError(t, err)

	result, err := proc.Process(ctx, openHouseRecord("OH1", false), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.NotContains(t, store.openHouses, "OH1")

	// Hidden-on-first-contact is a no-op.
	result, err = proc.Process(ctx, openHouseRecord("OH2", false), Options{})
	require.NoError(t, err)
	assert.Zero(t, result.Deleted)
}

func TestLookupUpsert(t *testing.T) {
	store := newFakeStore()
	proc := NewLookupProcessor(store, zerolog.Nop())
	ctx := context.Background()

	rec := feed.Record{
		"LookupKey":             "LK1",
		"OriginatingSystemName": "NWMLS",
		"LookupName":            "StandardStatus",
		"LookupValue":           "Active",
		"ModificationTimestamp": "2025-06-01T12:00:00Z",
	}

	result, err := proc.Process(ctx, rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)

	result, err = proc.Process(ctx, rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
}

func TestMemberSoftHide(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{}
	objects := newFakeObjects()
	sync := NewMediaSync(store, fetcher, objects, zerolog.Nop(), 2)
	proc := NewMemberProcessor(store, store, sync, zerolog.Nop())
	ctx := context.Background()

	rec := feed.Record{
		"MemberKey":             "MEM1",
		"MemberFullName":        "Pat Example",
		"MlgCanView":            true,
		"ModificationTimestamp": "2025-06-01T12:00:00Z",
	}
	result, err := proc.Process(ctx, rec, Options{IsInitialImport: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)

	rec["MlgCanView"] = false
	rec["ModificationTimestamp"] = "2025-06-02T12:00:00Z"
	result, err = proc.Process(ctx, rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	m := store.members["MEM1"]
	require.NotNil(t, m, "soft-hidden members keep their row")
	assert.False(t, m.CanView)
	require.NotNil(t, m.DeletedAt)
}
