package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Beck89/mta-mls-worker/feed"
)

// OpenHouseProcessor is a straight upsert keyed by the open house
// key. Hidden open houses are hard-deleted: they are ephemeral events,
// not compliance records.
type OpenHouseProcessor struct {
	store EventStore
	log   zerolog.Logger
}

func NewOpenHouseProcessor(store EventStore, log zerolog.Logger) *OpenHouseProcessor {
	return &OpenHouseProcessor{
		store: store,
		log:   log.With().Str("component", "open_house_processor").Logger(),
	}
}

func (p *OpenHouseProcessor) Process(ctx context.Context, rec feed.Record, _ Options) (*Result, error) {
	oh, err := feed.MapOpenHouse(rec)
	if err != nil {
		return nil, err
	}
	result := &Result{}

	if !canView(rec) {
		existing, err := p.store.GetOpenHouse(ctx, oh.OpenHouseKey)
		if err != nil {
			return nil, fmt.Errorf("load open house: %w", err)
		}
		if existing == nil {
			return result, nil
		}
		if err := p.store.DeleteOpenHouse(ctx, oh.OpenHouseKey); err != nil {
			return nil, fmt.Errorf("delete open house: %w", err)
		}
		result.Deleted = 1
		return result, nil
	}

	existing, err := p.store.GetOpenHouse(ctx, oh.OpenHouseKey)
	if err != nil {
		return nil, fmt.Errorf("load open house: %w", err)
	}
	if err := p.store.UpsertOpenHouse(ctx, oh); err != nil {
		return nil, fmt.Errorf("upsert open house: %w", err)
	}
	if existing == nil {
		result.Inserted = 1
	} else {
		result.Updated = 1
	}
	return result, nil
}

// LookupProcessor is a straight upsert of enumerated domain values.
type LookupProcessor struct {
	store EventStore
	log   zerolog.Logger
}

func NewLookupProcessor(store EventStore, log zerolog.Logger) *LookupProcessor {
	return &LookupProcessor{
		store: store,
		log:   log.With().Str("component", "lookup_processor").Logger(),
	}
}

func (p *LookupProcessor) Process(ctx context.Context, rec feed.Record, _ Options) (*Result, error) {
	l, err := feed.MapLookup(rec)
	if err != nil {
		return nil, err
	}
	result := &Result{}

	existing, err := p.store.GetLookup(ctx, l.LookupKey)
	if err != nil {
		return nil, fmt.Errorf("load lookup: %w", err)
	}
	if err := p.store.UpsertLookup(ctx, l); err != nil {
		return nil, fmt.Errorf("upsert lookup: %w", err)
	}
	if existing == nil {
		result.Inserted = 1
	} else {
		result.Updated = 1
	}
	return result, nil
}

func canView(rec feed.Record) bool {
	v, ok := rec["MlgCanView"].(bool)
	return !ok || v
}
