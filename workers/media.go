// Package workers holds the long-running background loops: the media
// downloader with expired-URL recovery, and the staleness monitor.
package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Beck89/mta-mls-worker/feed"
	"github.com/Beck89/mta-mls-worker/models"
	"github.com/Beck89/mta-mls-worker/services"
)

const (
	defaultMediaConcurrency = 15
	defaultDispatchStagger  = 200 * time.Millisecond
	defaultMaxRetries       = 5

	initialRateLimitPause = 5 * time.Minute
	maxRateLimitPause     = 15 * time.Minute

	recoveryBatchSize = 200
)

// DownloaderStore is the media metadata surface the background
// downloader uses to poll pending_download rows and settle their status.
type DownloaderStore interface {
	GetPendingMedia(ctx context.Context, limit int) ([]models.Media, error)
	GetRecoverableMedia(ctx context.Context, limit int) ([]models.Media, error)
	UpdateMediaStatus(ctx context.Context, mediaKey, status string, retryCount int) error
	MarkMediaComplete(ctx context.Context, mediaKey, objectKey, publicURL, contentType string, sizeBytes int64) error
	UpdateMediaSourceURL(ctx context.Context, mediaKey, sourceURL string) error
	InsertMediaDownload(ctx context.Context, d *models.MediaDownload) error
	GetListing(ctx context.Context, listingKey string) (*models.Listing, error)
}

// DownloaderStats is a point-in-time snapshot of downloader counters.
type DownloaderStats struct {
	Downloaded int64 `json:"downloaded"`
	Bytes      int64 `json:"bytes"`
	Failed     int64 `json:"failed"`
	Expired    int64 `json:"expired"`
	RateLimits int64 `json:"rate_limits"`
	InFlight   int32 `json:"in_flight"`
}

// MediaDownloader drains pending_download rows in the background and
// periodically recovers failed/expired rows via fresh signed URLs.
type MediaDownloader struct {
	store   DownloaderStore
	fetcher services.MediaFetcher
	objects services.ObjectUploader
	log     zerolog.Logger

	concurrency int
	stagger     time.Duration
	maxRetries  int

	pauseMu      sync.Mutex
	pauseUntil   time.Time
	currentPause time.Duration

	inFlight   atomic.Int32
	downloaded atomic.Int64
	bytes      atomic.Int64
	failed     atomic.Int64
	expired    atomic.Int64
	rateLimits atomic.Int64

	triggerCh chan struct{}
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewMediaDownloader creates the background downloader.
func NewMediaDownloader(store DownloaderStore, fetcher services.MediaFetcher, objects services.ObjectUploader, log zerolog.Logger, concurrency int) *MediaDownloader {
	if concurrency <= 0 {
		concurrency = defaultMediaConcurrency
	}
	return &MediaDownloader{
		store:        store,
		fetcher:      fetcher,
		objects:      objects,
		log:          log.With().Str("component", "media_downloader").Logger(),
		concurrency:  concurrency,
		stagger:      defaultDispatchStagger,
		maxRetries:   defaultMaxRetries,
		currentPause: initialRateLimitPause,
		triggerCh:    make(chan struct{}, 1),
		now:          time.Now,
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

// Trigger requests an immediate poll.
func (w *MediaDownloader) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Stats returns current counters.
func (w *MediaDownloader) Stats() DownloaderStats {
	return DownloaderStats{
		Downloaded: w.downloaded.Load(),
		Bytes:      w.bytes.Load(),
		Failed:     w.failed.Load(),
		Expired:    w.expired.Load(),
		RateLimits: w.rateLimits.Load(),
		InFlight:   w.inFlight.Load(),
	}
}

// Run starts the polling loop. The recovery sweep runs once at
// startup and then every recoveryInterval.
func (w *MediaDownloader) Run(ctx context.Context, pollInterval, recoveryInterval time.Duration) {
	w.log.Info().Int("concurrency", w.concurrency).Msg("media downloader starting")

	if err := w.RecoverySweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.log.Warn().Err(err).Msg("startup recovery sweep failed")
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	recoveryTicker := time.NewTicker(recoveryInterval)
	defer recoveryTicker.Stop()
	statsTicker := time.NewTicker(5 * time.Minute)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("media downloader stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		case <-w.triggerCh:
			w.processBatch(ctx)
		case <-recoveryTicker.C:
			if err := w.RecoverySweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Warn().Err(err).Msg("recovery sweep failed")
			}
		case <-statsTicker.C:
			stats := w.Stats()
			w.log.Info().
				Int64("downloaded", stats.Downloaded).
				Int64("bytes", stats.Bytes).
				Int64("failed", stats.Failed).
				Int64("rate_limits", stats.RateLimits).
				Int32("in_flight", stats.InFlight).
				Msg("media downloader stats")
		}
	}
}

func (w *MediaDownloader) processBatch(ctx context.Context) {
	if w.paused() {
		return
	}

	free := w.concurrency - int(w.inFlight.Load())
	if free <= 0 {
		return
	}

	batch, err := w.store.GetPendingMedia(ctx, free)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to poll pending media")
		return
	}
	if len(batch) == 0 {
		return
	}

	w.log.Debug().Int("count", len(batch)).Msg("dispatching media batch")
	for i := range batch {
		if ctx.Err() != nil || w.paused() {
			return
		}
		m := batch[i]
		w.inFlight.Add(1)
		go func() {
			defer w.inFlight.Add(-1)
			w.processOne(ctx, m)
		}()
		// Stagger dispatches to avoid an ignition burst against the CDN.
		if i < len(batch)-1 {
			if err := w.sleep(ctx, w.stagger); err != nil {
				return
			}
		}
	}
}

// processOne downloads a single media row and settles its status.
func (w *MediaDownloader) processOne(ctx context.Context, m models.Media) {
	if m.StoredInObjectStore() {
		// Bytes already safe; just settle the row.
		if err := w.store.MarkMediaComplete(ctx, m.MediaKey, m.ObjectKey, m.PublicURL, m.ContentType, m.FileSizeBytes); err != nil {
			w.log.Error().Err(err).Str("media_key", m.MediaKey).Msg("failed to settle stored media")
		}
		return
	}

	if m.SourceURL == "" || feed.URLExpired(m.SourceURL, w.now()) {
		w.markExpired(ctx, m)
		return
	}

	start := w.now()
	blob, err := w.fetcher.DownloadMedia(ctx, m.SourceURL)
	if err != nil {
		w.handleDownloadError(ctx, m, err)
		return
	}

	if err := w.objects.Upload(ctx, m.ObjectKey, blob.Data, blob.ContentType); err != nil {
		w.log.Error().Err(err).Str("media_key", m.MediaKey).Msg("object upload failed")
		w.retryOrFail(ctx, m)
		return
	}

	publicURL := w.objects.PublicURL(m.ObjectKey)
	if err := w.store.MarkMediaComplete(ctx, m.MediaKey, m.ObjectKey, publicURL, blob.ContentType, blob.Size); err != nil {
		w.log.Error().Err(err).Str("media_key", m.MediaKey).Msg("failed to mark media complete")
		return
	}

	w.recordSuccess()
	w.downloaded.Add(1)
	w.bytes.Add(blob.Size)

	audit := &models.MediaDownload{
		MediaKey:     m.MediaKey,
		ParentKey:    m.ParentKey,
		Bytes:        blob.Size,
		ElapsedMS:    w.now().Sub(start).Milliseconds(),
		DownloadedAt: w.now(),
	}
	if err := w.store.InsertMediaDownload(ctx, audit); err != nil {
		w.log.Warn().Err(err).Str("media_key", m.MediaKey).Msg("failed to append media download audit")
	}
}

func (w *MediaDownloader) handleDownloadError(ctx context.Context, m models.Media, err error) {
	var rl *feed.RateLimitedError
	var exp *feed.URLExpiredError
	switch {
	case errors.As(err, &rl):
		// Progressive pause; the row stays pending_download.
		w.rateLimits.Add(1)
		w.recordRateLimit()
	case errors.As(err, &exp):
		w.markExpired(ctx, m)
	default:
		if ctx.Err() != nil {
			return
		}
		w.log.Warn().Err(err).Str("media_key", m.MediaKey).Int("retry", m.RetryCount).Msg("media download failed")
		w.retryOrFail(ctx, m)
	}
}

func (w *MediaDownloader) retryOrFail(ctx context.Context, m models.Media) {
	retries := m.RetryCount + 1
	status := models.MediaStatusPendingDownload
	if retries >= w.maxRetries {
		status = models.MediaStatusFailed
		w.failed.Add(1)
	}
	if err := w.store.UpdateMediaStatus(ctx, m.MediaKey, status, retries); err != nil {
		w.log.Error().Err(err).Str("media_key", m.MediaKey).Msg("failed to update media status")
	}
}

func (w *MediaDownloader) markExpired(ctx context.Context, m models.Media) {
	w.expired.Add(1)
	if err := w.store.UpdateMediaStatus(ctx, m.MediaKey, models.MediaStatusExpired, m.RetryCount); err != nil {
		w.log.Error().Err(err).Str("media_key", m.MediaKey).Msg("failed to mark media expired")
	}
}

func (w *MediaDownloader) paused() bool {
	w.pauseMu.Lock()
	defer w.pauseMu.Unlock()
	return w.now().Before(w.pauseUntil)
}

func (w *MediaDownloader) recordRateLimit() {
	w.pauseMu.Lock()
	defer w.pauseMu.Unlock()
	w.pauseUntil = w.now().Add(w.currentPause)
	w.log.Warn().Dur("pause", w.currentPause).Time("until", w.pauseUntil).Msg("cdn rate limited, pausing downloads")
	w.currentPause *= 2
	if w.currentPause > maxRateLimitPause {
		w.currentPause = maxRateLimitPause
	}
}

func (w *MediaDownloader) recordSuccess() {
	w.pauseMu.Lock()
	defer w.pauseMu.Unlock()
	w.currentPause = initialRateLimitPause
}

// RecoverySweep settles failed/expired rows: restore what is already
// in the object store, re-download what still has a valid URL, and
// refetch fresh URLs from the feed for the rest, grouped by parent
// listing so each listing costs one API call.
func (w *MediaDownloader) RecoverySweep(ctx context.Context) error {
	rows, err := w.store.GetRecoverableMedia(ctx, recoveryBatchSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	w.log.Info().Int("count", len(rows)).Msg("recovery sweep starting")

	byParent := map[string][]models.Media{}
	for _, m := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if m.StoredInObjectStore() {
			if err := w.store.MarkMediaComplete(ctx, m.MediaKey, m.ObjectKey, m.PublicURL, m.ContentType, m.FileSizeBytes); err != nil {
				w.log.Error().Err(err).Str("media_key", m.MediaKey).Msg("failed to restore media row")
			}
			continue
		}

		if m.SourceURL != "" && !feed.URLExpired(m.SourceURL, w.now()) {
			w.processOne(ctx, m)
			continue
		}

		// Needs a fresh URL; only listing media can be refetched.
		if m.ResourceType == models.ResourceListing {
			byParent[m.ParentKey] = append(byParent[m.ParentKey], m)
		} else {
			w.markExpired(ctx, m)
		}
	}

	for parentKey, group := range byParent {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.recoverGroup(ctx, parentKey, group); err != nil {
			w.log.Warn().Err(err).Str("parent_key", parentKey).Msg("failed to recover media group")
		}
	}
	return nil
}

func (w *MediaDownloader) recoverGroup(ctx context.Context, parentKey string, group []models.Media) error {
	listingID := group[0].ListingID
	if listingID == "" {
		listing, err := w.store.GetListing(ctx, parentKey)
		if err != nil {
			return err
		}
		if listing == nil {
			return nil
		}
		listingID = listing.ListingID
	}

	rec, err := w.fetcher.FetchListingByID(ctx, listingID, nil)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	fresh := map[string]string{}
	for _, m := range feed.MediaSubDocs(models.ResourceListing, parentKey, listingID, rec) {
		if m.SourceURL != "" {
			fresh[m.MediaKey] = m.SourceURL
		}
	}

	for _, m := range group {
		url, ok := fresh[m.MediaKey]
		if !ok {
			// Gone upstream; nothing left to recover.
			continue
		}
		if err := w.store.UpdateMediaSourceURL(ctx, m.MediaKey, url); err != nil {
			w.log.Error().Err(err).Str("media_key", m.MediaKey).Msg("failed to refresh media source url")
			continue
		}
		m.SourceURL = url
		w.processOne(ctx, m)
	}
	return nil
}
