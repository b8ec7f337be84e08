package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Beck89/mta-mls-worker/feed"
	"github.com/Beck89/mta-mls-worker/models"
)

const (
	defaultInlineConcurrency = 4
	inlineMaxAttempts        = 3
	inlineRetryBackoff       = 2 * time.Second
	inline429BaseWait        = 30 * time.Second
)

// MediaSync performs the inline media refresh step of a record's
// pipeline: reconcile the stored media set against the incoming one,
// refresh aged-out URLs via a single-listing refetch, and download
// what is missing in small bounded batches.
type MediaSync struct {
	store   MediaStore
	fetcher MediaFetcher
	objects ObjectUploader
	log     zerolog.Logger

	concurrency int
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewMediaSync creates the inline refresh helper.
func NewMediaSync(store MediaStore, fetcher MediaFetcher, objects ObjectUploader, log zerolog.Logger, concurrency int) *MediaSync {
	if concurrency <= 0 {
		concurrency = defaultInlineConcurrency
	}
	return &MediaSync{
		store:       store,
		fetcher:     fetcher,
		objects:     objects,
		log:         log.With().Str("component", "media_sync").Logger(),
		concurrency: concurrency,
		now:         time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Refresh reconciles one parent's media. incoming is the mapped media
// list from the current record; stored is what the database holds.
func (s *MediaSync) Refresh(ctx context.Context, resource models.Resource, parentKey, listingID string, incoming []models.Media, stored []models.Media, runID *int64) (*Result, error) {
	result := &Result{}

	storedByKey := make(map[string]models.Media, len(stored))
	for _, m := range stored {
		storedByKey[m.MediaKey] = m
	}
	incomingKeys := make(map[string]struct{}, len(incoming))
	for _, m := range incoming {
		incomingKeys[m.MediaKey] = struct{}{}
	}

	// Stored media absent from the incoming list is gone upstream:
	// delete the object and the row.
	var removedKeys []string
	for _, m := range stored {
		if _, ok := incomingKeys[m.MediaKey]; ok {
			continue
		}
		if m.ObjectKey != "" {
			if err := s.objects.Delete(ctx, m.ObjectKey); err != nil {
				s.log.Warn().Err(err).Str("object_key", m.ObjectKey).Msg("failed to delete removed media object")
			}
		}
		removedKeys = append(removedKeys, m.MediaKey)
	}
	if len(removedKeys) > 0 {
		if err := s.store.DeleteMedia(ctx, removedKeys); err != nil {
			return result, err
		}
		result.MediaDeleted = len(removedKeys)
	}

	var toDownload []models.Media
	for _, inc := range incoming {
		existing, known := storedByKey[inc.MediaKey]

		switch {
		case known && existing.Status == models.MediaStatusComplete && timesEqual(existing.MediaModTs, inc.MediaModTs):
			// Unchanged: metadata columns only, no traffic.
			if err := s.store.UpdateMediaMetadata(ctx, inc.MediaKey, inc.SourceURL, inc.Category, inc.MediaOrder, inc.MediaModTs); err != nil {
				return result, err
			}

		case known && existing.StoredInObjectStore():
			// Bytes are already safe in our store even if the source
			// URL has aged out; restore without re-downloading.
			restored := inc
			restored.ObjectKey = existing.ObjectKey
			restored.PublicURL = existing.PublicURL
			restored.FileSizeBytes = existing.FileSizeBytes
			restored.ContentType = existing.ContentType
			restored.Status = models.MediaStatusComplete
			if err := s.store.UpsertMedia(ctx, &restored); err != nil {
				return result, err
			}

		default:
			toDownload = append(toDownload, inc)
		}
	}

	if len(toDownload) == 0 {
		return result, nil
	}
	result.MediaQueued = len(toDownload)

	// Pre-flight URL freshness: one aged-out URL means the whole
	// batch is stale, so refetch the parent once for fresh URLs.
	freshURLs := map[string]string{}
	if len(incoming) > 0 && feed.URLExpired(incoming[0].SourceURL, s.now()) && listingID != "" {
		fresh, err := s.refetchURLs(ctx, resource, parentKey, listingID, runID)
		if err != nil {
			s.log.Warn().Err(err).Str("listing_id", listingID).Msg("failed to refetch fresh media urls")
		} else {
			freshURLs = fresh
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	results := make([]Result, len(toDownload))
	for i := range toDownload {
		m := toDownload[i]
		out := &results[i]
		storedRow, known := storedByKey[m.MediaKey]
		g.Go(func() error {
			url := m.SourceURL
			if fresh, ok := freshURLs[m.MediaKey]; ok {
				url = fresh
			}
			s.downloadOne(gctx, m, url, known, storedRow, out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	for i := range results {
		result.Add(&results[i])
	}
	return result, nil
}

// downloadOne runs the per-item retry ladder. Failures are reflected
// in the media row's status, never surfaced to the record pipeline.
func (s *MediaSync) downloadOne(ctx context.Context, m models.Media, url string, known bool, stored models.Media, out *Result) {
	if url == "" {
		s.setStatus(ctx, m, models.MediaStatusFailed)
		return
	}
	if feed.URLExpired(url, s.now()) {
		// Defer to the background recovery sweep.
		s.setStatus(ctx, m, models.MediaStatusExpired)
		return
	}

	for attempt := 0; attempt < inlineMaxAttempts; attempt++ {
		blob, err := s.fetcher.DownloadMedia(ctx, url)
		if err == nil {
			if upErr := s.objects.Upload(ctx, m.ObjectKey, blob.Data, blob.ContentType); upErr != nil {
				s.log.Error().Err(upErr).Str("media_key", m.MediaKey).Msg("object upload failed")
				s.setStatus(ctx, m, models.MediaStatusFailed)
				return
			}
			complete := m
			complete.Status = models.MediaStatusComplete
			complete.PublicURL = s.objects.PublicURL(m.ObjectKey)
			complete.ContentType = blob.ContentType
			complete.FileSizeBytes = blob.Size
			complete.SourceURL = url
			if err := s.store.UpsertMedia(ctx, &complete); err != nil {
				s.log.Error().Err(err).Str("media_key", m.MediaKey).Msg("failed to persist completed media")
				return
			}
			out.MediaDownloaded++
			out.MediaBytes += blob.Size
			return
		}

		var rateLimited *feed.RateLimitedError
		var expired *feed.URLExpiredError
		switch {
		case errors.As(err, &rateLimited):
			if serr := s.sleep(ctx, inline429BaseWait*time.Duration(attempt+1)); serr != nil {
				return
			}

		case errors.As(err, &expired):
			if known && stored.StoredInObjectStore() {
				// Keep the existing object; nothing was lost.
				restored := m
				restored.ObjectKey = stored.ObjectKey
				restored.PublicURL = stored.PublicURL
				restored.FileSizeBytes = stored.FileSizeBytes
				restored.ContentType = stored.ContentType
				restored.Status = models.MediaStatusComplete
				if err := s.store.UpsertMedia(ctx, &restored); err != nil {
					s.log.Error().Err(err).Str("media_key", m.MediaKey).Msg("failed to restore media row")
				}
				return
			}
			s.setStatus(ctx, m, models.MediaStatusExpired)
			return

		default:
			if ctx.Err() != nil {
				return
			}
			if serr := s.sleep(ctx, inlineRetryBackoff); serr != nil {
				return
			}
		}
	}

	s.setStatus(ctx, m, models.MediaStatusFailed)
}

func (s *MediaSync) setStatus(ctx context.Context, m models.Media, status string) {
	row := m
	row.Status = status
	if err := s.store.UpsertMedia(ctx, &row); err != nil {
		s.log.Error().Err(err).Str("media_key", m.MediaKey).Str("status", status).Msg("failed to set media status")
	}
}

// refetchURLs fetches the parent listing (media expanded) and returns
// a mediaKey -> fresh URL map.
func (s *MediaSync) refetchURLs(ctx context.Context, resource models.Resource, parentKey, listingID string, runID *int64) (map[string]string, error) {
	rec, err := s.fetcher.FetchListingByID(ctx, listingID, runID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return map[string]string{}, nil
	}

	fresh := map[string]string{}
	for _, m := range feed.MediaSubDocs(resource, parentKey, listingID, rec) {
		if m.SourceURL != "" {
			fresh[m.MediaKey] = m.SourceURL
		}
	}
	return fresh, nil
}
