// Package replicator drives one replication cycle per resource: mode
// selection, HWM bookkeeping with dedup-on-resume, page iteration,
// and run-record lifecycle.
package replicator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Beck89/mta-mls-worker/feed"
	"github.com/Beck89/mta-mls-worker/models"
	"github.com/Beck89/mta-mls-worker/services"
)

// Store is the run/HWM surface the driver needs from Postgres.
type Store interface {
	LatestFinishedRun(ctx context.Context, resource models.Resource) (*models.ReplicationRun, error)
	CreateRun(ctx context.Context, run *models.ReplicationRun) error
	UpdateRun(ctx context.Context, run *models.ReplicationRun) error
	KeysAtTimestamp(ctx context.Context, resource models.Resource, hwm time.Time) ([]string, error)
	RefreshListingSearchView(ctx context.Context) error
}

// FeedClient is the slice of the feed client the driver uses.
type FeedClient interface {
	BaseURL() string
	Vendor() string
	FetchPage(ctx context.Context, url string, runID *int64) (*feed.Page, error)
}

// Driver runs replication cycles.
type Driver struct {
	store      Store
	client     FeedClient
	processors map[models.Resource]services.Processor
	log        zerolog.Logger
}

// New creates a cycle driver.
func New(store Store, client FeedClient, processors map[models.Resource]services.Processor, log zerolog.Logger) *Driver {
	return &Driver{
		store:      store,
		client:     client,
		processors: processors,
		log:        log.With().Str("component", "replicator").Logger(),
	}
}

// RunCycle executes one cycle for a resource and returns the
// finalized run record.
func (d *Driver) RunCycle(ctx context.Context, resource models.Resource) (*models.ReplicationRun, error) {
	proc, ok := d.processors[resource]
	if !ok {
		return nil, fmt.Errorf("no processor for resource %s", resource)
	}

	// Mode selection: replication only when a prior finished run left
	// a high-water mark behind.
	last, err := d.store.LatestFinishedRun(ctx, resource)
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}

	mode := models.RunModeInitial
	var hwm *time.Time
	if last != nil && last.HwmEnd != nil {
		mode = models.RunModeReplication
		hwm = last.HwmEnd
	}

	run := &models.ReplicationRun{
		Resource:   resource,
		Mode:       mode,
		StartedAt:  time.Now(),
		Status:     models.RunStatusRunning,
		HwmStart:   hwm,
		HTTPErrors: map[int]int{},
	}
	if err := d.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	// Dedup set: partial runs commit in ModificationTimestamp order,
	// but keys can share a timestamp. Resuming with 'ge' re-sees the
	// boundary batch; skipping each boundary key once keeps the resume
	// exact without missing same-timestamp siblings.
	dedup := map[string]struct{}{}
	if mode == models.RunModeReplication {
		keys, err := d.store.KeysAtTimestamp(ctx, resource, *hwm)
		if err != nil {
			return nil, fmt.Errorf("load dedup set: %w", err)
		}
		for _, k := range keys {
			dedup[k] = struct{}{}
		}
	}

	var firstURL string
	if mode == models.RunModeInitial {
		firstURL = feed.BuildInitialURL(d.client.BaseURL(), resource, d.client.Vendor())
	} else {
		firstURL = feed.BuildReplicationURL(d.client.BaseURL(), resource, d.client.Vendor(), *hwm, true)
	}

	d.log.Info().
		Str("resource", string(resource)).
		Str("mode", string(mode)).
		Int("dedup_keys", len(dedup)).
		Msg("starting cycle")

	cycleErr := d.iterate(ctx, proc, run, firstURL, dedup)
	d.finalize(ctx, run, cycleErr)

	// Post-cycle: the listing search view rebuild is best effort.
	if resource == models.ResourceListing && cycleErr == nil {
		if err := d.store.RefreshListingSearchView(ctx); err != nil {
			d.log.Debug().Err(err).Msg("listing search view refresh skipped")
		}
	}

	return run, cycleErr
}

func (d *Driver) iterate(ctx context.Context, proc services.Processor, run *models.ReplicationRun, firstURL string, dedup map[string]struct{}) error {
	opts := services.Options{
		IsInitialImport: run.Mode == models.RunModeInitial,
		RunID:           &run.ID,
	}

	var totalLatency int64
	next := firstURL
	for next != "" {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := d.client.FetchPage(ctx, next, &run.ID)
		if err != nil {
			d.countHTTPError(run, err)
			return err
		}
		run.RequestCount++
		run.RequestBytes += page.Bytes
		totalLatency += page.ElapsedMS
		run.AvgLatencyMS = totalLatency / int64(run.RequestCount)

		for _, rec := range page.Records {
			if err := ctx.Err(); err != nil {
				return err
			}

			key := feed.RecordKey(run.Resource, rec)
			modTs := feed.RecordModTs(rec)
			run.RecordsReceived++

			// The HWM tracks the greatest timestamp seen, committed or
			// not; a skipped record is never re-fetched.
			if !modTs.IsZero() && (run.HwmEnd == nil || modTs.After(*run.HwmEnd)) {
				ts := modTs
				run.HwmEnd = &ts
			}

			if len(dedup) > 0 {
				if _, seen := dedup[key]; seen {
					delete(dedup, key)
					continue
				}
			}

			result, err := proc.Process(ctx, rec, opts)
			if err != nil {
				// One bad record never stops the cycle.
				d.log.Warn().Err(err).
					Str("resource", string(run.Resource)).
					Str("key", key).
					Msg("record skipped")
				continue
			}

			run.RecordsInserted += result.Inserted
			run.RecordsUpdated += result.Updated
			run.RecordsDeleted += result.Deleted
			run.MediaDownloaded += result.MediaDownloaded
			run.MediaDeleted += result.MediaDeleted
			run.MediaBytes += result.MediaBytes
		}

		next = page.NextLink
	}
	return nil
}

func (d *Driver) finalize(ctx context.Context, run *models.ReplicationRun, cycleErr error) {
	now := time.Now()
	run.CompletedAt = &now

	committed := run.RecordsInserted + run.RecordsUpdated + run.RecordsDeleted
	switch {
	case cycleErr == nil:
		run.Status = models.RunStatusCompleted
	case committed > 0:
		run.Status = models.RunStatusPartial
		run.ErrorMessage = cycleErr.Error()
	default:
		run.Status = models.RunStatusFailed
		run.ErrorMessage = cycleErr.Error()
	}

	if err := d.store.UpdateRun(ctx, run); err != nil {
		d.log.Error().Err(err).Int64("run_id", run.ID).Msg("failed to finalize run record")
	}

	d.log.Info().
		Str("resource", string(run.Resource)).
		Str("status", string(run.Status)).
		Int("received", run.RecordsReceived).
		Int("inserted", run.RecordsInserted).
		Int("updated", run.RecordsUpdated).
		Int("deleted", run.RecordsDeleted).
		Msg("cycle finished")
}

func (d *Driver) countHTTPError(run *models.ReplicationRun, err error) {
	var apiErr *feed.APIError
	var rlErr *feed.RateLimitedError
	switch {
	case errors.As(err, &apiErr):
		run.HTTPErrors[apiErr.Status]++
	case errors.As(err, &rlErr):
		run.HTTPErrors[429]++
	}
}
