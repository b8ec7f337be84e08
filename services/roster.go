package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Beck89/mta-mls-worker/feed"
	"github.com/Beck89/mta-mls-worker/models"
)

// MemberProcessor replicates agent records: same shape as the listing
// pipeline minus children and raw archive. Hidden members are
// soft-hidden, keeping their media.
type MemberProcessor struct {
	store RosterStore
	media MediaStore
	sync  *MediaSync
	log   zerolog.Logger
}

func NewMemberProcessor(store RosterStore, media MediaStore, sync *MediaSync, log zerolog.Logger) *MemberProcessor {
	return &MemberProcessor{
		store: store,
		media: media,
		sync:  sync,
		log:   log.With().Str("component", "member_processor").Logger(),
	}
}

func (p *MemberProcessor) Process(ctx context.Context, rec feed.Record, opts Options) (*Result, error) {
	m, media, err := feed.MapMember(rec)
	if err != nil {
		return nil, err
	}
	result := &Result{}

	if !m.CanView {
		existing, err := p.store.GetMember(ctx, m.MemberKey)
		if err != nil {
			return nil, fmt.Errorf("load member: %w", err)
		}
		if existing == nil {
			return result, nil
		}
		if err := p.store.HideMember(ctx, m.MemberKey, m.ModificationTimestamp); err != nil {
			return nil, fmt.Errorf("hide member: %w", err)
		}
		result.Deleted = 1
		return result, nil
	}

	existing, err := p.store.GetMember(ctx, m.MemberKey)
	if err != nil {
		return nil, fmt.Errorf("load member: %w", err)
	}

	if err := p.store.UpsertMember(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert member: %w", err)
	}
	if existing == nil {
		result.Inserted = 1
	} else {
		result.Updated = 1
	}

	photosChanged := existing == nil || !timesEqual(existing.PhotosChangeTs, m.PhotosChangeTs)
	if photosChanged && len(media) > 0 {
		stored, err := p.media.GetMediaByParent(ctx, models.ResourceMember, m.MemberKey)
		if err != nil {
			return nil, fmt.Errorf("load member media: %w", err)
		}
		mediaResult, err := p.sync.Refresh(ctx, models.ResourceMember, m.MemberKey, "", media, stored, opts.RunID)
		if err != nil {
			p.log.Warn().Err(err).Str("member_key", m.MemberKey).Msg("member media refresh failed")
		}
		if mediaResult != nil {
			result.Add(mediaResult)
		}
	}

	return result, nil
}

// OfficeProcessor mirrors MemberProcessor for brokerage offices.
type OfficeProcessor struct {
	store RosterStore
	media MediaStore
	sync  *MediaSync
	log   zerolog.Logger
}

func NewOfficeProcessor(store RosterStore, media MediaStore, sync *MediaSync, log zerolog.Logger) *OfficeProcessor {
	return &OfficeProcessor{
		store: store,
		media: media,
		sync:  sync,
		log:   log.With().Str("component", "office_processor").Logger(),
	}
}

func (p *OfficeProcessor) Process(ctx context.Context, rec feed.Record, opts Options) (*Result, error) {
	o, media, err := feed.MapOffice(rec)
	if err != nil {
		return nil, err
	}
	result := &Result{}

	if !o.CanView {
		existing, err := p.store.GetOffice(ctx, o.OfficeKey)
		if err != nil {
			return nil, fmt.Errorf("load office: %w", err)
		}
		if existing == nil {
			return result, nil
		}
		if err := p.store.HideOffice(ctx, o.OfficeKey, o.ModificationTimestamp); err != nil {
			return nil, fmt.Errorf("hide office: %w", err)
		}
		result.Deleted = 1
		return result, nil
	}

	existing, err := p.store.GetOffice(ctx, o.OfficeKey)
	if err != nil {
		return nil, fmt.Errorf("load office: %w", err)
	}

	if err := p.store.UpsertOffice(ctx, o); err != nil {
		return nil, fmt.Errorf("upsert office: %w", err)
	}
	if existing == nil {
		result.Inserted = 1
	} else {
		result.Updated = 1
	}

	photosChanged := existing == nil || !timesEqual(existing.PhotosChangeTs, o.PhotosChangeTs)
	if photosChanged && len(media) > 0 {
		stored, err := p.media.GetMediaByParent(ctx, models.ResourceOffice, o.OfficeKey)
		if err != nil {
			return nil, fmt.Errorf("load office media: %w", err)
		}
		mediaResult, err := p.sync.Refresh(ctx, models.ResourceOffice, o.OfficeKey, "", media, stored, opts.RunID)
		if err != nil {
			p.log.Warn().Err(err).Str("office_key", o.OfficeKey).Msg("office media refresh failed")
		}
		if mediaResult != nil {
			result.Add(mediaResult)
		}
	}

	return result, nil
}
