package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Beck89/mta-mls-worker/feed"
	"github.com/Beck89/mta-mls-worker/models"
)

// Watched fields for the change log.
const (
	fieldListPrice      = "ListPrice"
	fieldStandardStatus = "StandardStatus"
	fieldPhotosCount    = "PhotosCount"
	fieldPublicRemarks  = "PublicRemarks"
	fieldLivingArea     = "LivingArea"
)

// ListingProcessor runs the per-record pipeline for listings:
// visibility gate, diff with history capture, children replacement,
// listing+raw upsert, inline media refresh, alert hook.
type ListingProcessor struct {
	store ListingStore
	media MediaStore
	sync  *MediaSync
	hook  AlertHook
	log   zerolog.Logger

	now func() time.Time
}

// NewListingProcessor creates the listing pipeline.
func NewListingProcessor(store ListingStore, media MediaStore, sync *MediaSync, hook AlertHook, log zerolog.Logger) *ListingProcessor {
	return &ListingProcessor{
		store: store,
		media: media,
		sync:  sync,
		hook:  hook,
		log:   log.With().Str("component", "listing_processor").Logger(),
		now:   time.Now,
	}
}

// Process handles one raw listing record.
func (p *ListingProcessor) Process(ctx context.Context, rec feed.Record, opts Options) (*Result, error) {
	mapped, err := feed.MapListing(rec)
	if err != nil {
		return nil, err
	}
	l := mapped.Listing
	result := &Result{}

	// Visibility gate: a hidden record soft-hides the row and keeps
	// its media. Hidden-on-first-contact is a no-op.
	if !l.CanView {
		existing, err := p.store.GetListing(ctx, l.ListingKey)
		if err != nil {
			return nil, fmt.Errorf("load listing: %w", err)
		}
		if existing == nil {
			return result, nil
		}
		if err := p.store.HideListing(ctx, l.ListingKey, l.ModificationTimestamp); err != nil {
			return nil, fmt.Errorf("hide listing: %w", err)
		}
		if existing.CanView && !opts.IsInitialImport {
			if err := p.store.InsertStatusHistory(ctx, &models.StatusHistory{
				ListingKey: l.ListingKey,
				OldStatus:  existing.StandardStatus,
				NewStatus:  models.StatusDeletedRemoved,
				RecordedAt: p.now(),
			}); err != nil {
				p.log.Warn().Err(err).Str("listing_key", l.ListingKey).Msg("failed to record hide in status history")
			}
			p.hook.Notify(ctx, NewChangeEvent(models.ResourceListing, l.ListingKey, ChangeHidden))
		}
		result.Deleted = 1
		return result, nil
	}

	existing, err := p.store.GetListing(ctx, l.ListingKey)
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}

	// Diff is an update-path concern; initial import has no baseline.
	if existing != nil && !opts.IsInitialImport {
		p.recordDiffs(ctx, existing, l)
	}

	raw, err := feed.StripExpanded(rec)
	if err != nil {
		return nil, fmt.Errorf("strip expanded: %w", err)
	}

	if err := p.store.UpsertListingBundle(ctx, l, mapped.Rooms, mapped.UnitTypes, raw); err != nil {
		return nil, fmt.Errorf("upsert listing bundle: %w", err)
	}

	if existing == nil {
		result.Inserted = 1
	} else {
		result.Updated = 1
	}

	// Photos changed when the record is new or the photo-change
	// timestamp moved.
	photosChanged := existing == nil || !timesEqual(existing.PhotosChangeTs, l.PhotosChangeTs)
	if photosChanged && len(mapped.Media) > 0 {
		stored, err := p.media.GetMediaByParent(ctx, models.ResourceListing, l.ListingKey)
		if err != nil {
			return nil, fmt.Errorf("load media: %w", err)
		}
		mediaResult, err := p.sync.Refresh(ctx, models.ResourceListing, l.ListingKey, l.ListingID, mapped.Media, stored, opts.RunID)
		if err != nil {
			p.log.Warn().Err(err).Str("listing_key", l.ListingKey).Msg("inline media refresh failed")
		}
		if mediaResult != nil {
			result.Add(&Result{
				MediaQueued:     mediaResult.MediaQueued,
				MediaDownloaded: mediaResult.MediaDownloaded,
				MediaDeleted:    mediaResult.MediaDeleted,
				MediaBytes:      mediaResult.MediaBytes,
			})
		}
	}

	if !opts.IsInitialImport {
		kind := ChangeUpdated
		if existing == nil {
			kind = ChangeCreated
		}
		p.hook.Notify(ctx, NewChangeEvent(models.ResourceListing, l.ListingKey, kind))
	}

	return result, nil
}

// recordDiffs appends change-log rows for the watched fields plus
// price/status history. History inserts are append-only and sit
// outside the record's commit transaction; a lost row here is logged,
// not fatal.
func (p *ListingProcessor) recordDiffs(ctx context.Context, old, incoming *models.Listing) {
	now := p.now()

	logChange := func(field, oldVal, newVal string) {
		if err := p.store.InsertChangeLog(ctx, &models.ChangeLog{
			ListingKey: incoming.ListingKey,
			FieldName:  field,
			OldValue:   oldVal,
			NewValue:   newVal,
			RecordedAt: now,
		}); err != nil {
			p.log.Warn().Err(err).Str("field", field).Str("listing_key", incoming.ListingKey).Msg("failed to append change log")
		}
	}

	if !decimalsEqual(old.ListPrice, incoming.ListPrice) {
		logChange(fieldListPrice, decimalString(old.ListPrice), decimalString(incoming.ListPrice))
		if old.ListPrice != nil && incoming.ListPrice != nil {
			changeType := incoming.MajorChangeType
			if changeType != models.PriceChangeIncrease && changeType != models.PriceChangeDecrease {
				if incoming.ListPrice.GreaterThan(*old.ListPrice) {
					changeType = models.PriceChangeIncrease
				} else {
					changeType = models.PriceChangeDecrease
				}
			}
			if err := p.store.InsertPriceHistory(ctx, &models.PriceHistory{
				ListingKey: incoming.ListingKey,
				OldPrice:   *old.ListPrice,
				NewPrice:   *incoming.ListPrice,
				ChangeType: changeType,
				RecordedAt: now,
			}); err != nil {
				p.log.Warn().Err(err).Str("listing_key", incoming.ListingKey).Msg("failed to append price history")
			}
		}
	}

	if old.StandardStatus != incoming.StandardStatus {
		logChange(fieldStandardStatus, old.StandardStatus, incoming.StandardStatus)
		if err := p.store.InsertStatusHistory(ctx, &models.StatusHistory{
			ListingKey: incoming.ListingKey,
			OldStatus:  old.StandardStatus,
			NewStatus:  incoming.StandardStatus,
			RecordedAt: now,
		}); err != nil {
			p.log.Warn().Err(err).Str("listing_key", incoming.ListingKey).Msg("failed to append status history")
		}
	}

	if old.PhotosCount != incoming.PhotosCount {
		logChange(fieldPhotosCount, fmt.Sprintf("%d", old.PhotosCount), fmt.Sprintf("%d", incoming.PhotosCount))
	}
	if old.PublicRemarks != incoming.PublicRemarks {
		logChange(fieldPublicRemarks, old.PublicRemarks, incoming.PublicRemarks)
	}
	if !decimalsEqual(old.LivingArea, incoming.LivingArea) {
		logChange(fieldLivingArea, decimalString(old.LivingArea), decimalString(incoming.LivingArea))
	}
}

func decimalsEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func decimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
