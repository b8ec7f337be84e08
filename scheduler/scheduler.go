// Package scheduler owns the process lifecycle: initial-import
// ordering, one non-overlapping replication loop per resource, and
// the daily hard-delete cleanup.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Beck89/mta-mls-worker/models"
	"github.com/Beck89/mta-mls-worker/storage"
)

const shutdownGrace = 60 * time.Second

// CycleRunner runs one replication cycle for a resource.
type CycleRunner interface {
	RunCycle(ctx context.Context, resource models.Resource) (*models.ReplicationRun, error)
}

// Store is the scheduler's slice of the Postgres store.
type Store interface {
	HasAnyCompletedRun(ctx context.Context) (bool, error)
	PurgeHiddenListings(ctx context.Context, cutoff time.Time) ([]storage.PurgedListing, error)
}

// ObjectDeleter issues the batched object-store deletes for purged
// listings.
type ObjectDeleter interface {
	DeleteBatch(ctx context.Context, keys []string) error
}

// Config holds scheduler cadences and retention.
type Config struct {
	Cadences      map[models.Resource]time.Duration
	RetentionDays int
	CleanupSpec   string // cron spec for the daily purge
}

// Scheduler runs the per-resource loops.
type Scheduler struct {
	driver  CycleRunner
	store   Store
	objects ObjectDeleter
	cfg     Config
	log     zerolog.Logger

	cron   *cron.Cron
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a scheduler.
func New(driver CycleRunner, store Store, objects ObjectDeleter, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.CleanupSpec == "" {
		cfg.CleanupSpec = "30 3 * * *"
	}
	return &Scheduler{
		driver:  driver,
		store:   store,
		objects: objects,
		cfg:     cfg,
		log:     log.With().Str("component", "scheduler").Logger(),
		cron:    cron.New(),
	}
}

// Start launches the loops and the cleanup cron. The passed context
// bounds the whole scheduler; Stop cancels it and drains.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.AddFunc(s.cfg.CleanupSpec, func() {
		s.runCleanup(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return nil
}

// Stop cancels the loops and waits up to the shutdown grace for
// running cycles to finish. Interrupted cycles stay resumable via the
// HWM + dedup protocol.
func (s *Scheduler) Stop() {
	s.log.Info().Msg("scheduler stopping")
	s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("all loops drained")
	case <-time.After(shutdownGrace):
		s.log.Warn().Msg("shutdown grace elapsed with loops still running")
	}
}

func (s *Scheduler) run(ctx context.Context) {
	// Lookup is independent of the import ordering.
	s.startLoop(ctx, models.ResourceLookup)

	imported, err := s.store.HasAnyCompletedRun(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to check run history, assuming initial import")
	}

	if !imported {
		if !s.initialImport(ctx) {
			return
		}
	}

	for _, resource := range []models.Resource{
		models.ResourceListing,
		models.ResourceMember,
		models.ResourceOffice,
		models.ResourceOpenHouse,
	} {
		s.startLoop(ctx, resource)
	}
}

// initialImport runs the dependency-ordered first pass: listings
// first (parent for foreign keys and media), then members and offices
// concurrently, then open houses. Returns false when cancelled.
func (s *Scheduler) initialImport(ctx context.Context) bool {
	s.log.Info().Msg("no completed runs found, starting initial import")

	if !s.runCycle(ctx, models.ResourceListing) {
		return false
	}

	var wg sync.WaitGroup
	for _, resource := range []models.Resource{models.ResourceMember, models.ResourceOffice} {
		wg.Add(1)
		go func(r models.Resource) {
			defer wg.Done()
			s.runCycle(ctx, r)
		}(resource)
	}
	wg.Wait()
	if ctx.Err() != nil {
		return false
	}

	if !s.runCycle(ctx, models.ResourceOpenHouse) {
		return false
	}

	s.log.Info().Msg("initial import finished")
	return true
}

// startLoop launches one non-overlapping replication loop: cycle,
// then sleep the resource's cadence, then cycle again.
func (s *Scheduler) startLoop(ctx context.Context, resource models.Resource) {
	cadence, ok := s.cfg.Cadences[resource]
	if !ok {
		s.log.Warn().Str("resource", string(resource)).Msg("no cadence configured, loop not started")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			s.runCycle(ctx, resource)
			timer.Reset(cadence)
		}
	}()
}

// runCycle executes one cycle, swallowing errors: the next tick
// retries, and the run record carries the failure.
func (s *Scheduler) runCycle(ctx context.Context, resource models.Resource) bool {
	if ctx.Err() != nil {
		return false
	}
	if _, err := s.driver.RunCycle(ctx, resource); err != nil {
		s.log.Warn().Err(err).Str("resource", string(resource)).Msg("cycle ended with error")
	}
	return ctx.Err() == nil
}

// runCleanup hard-deletes listings hidden longer than the retention
// window, cascading to children, media objects, raw archive, and
// history.
func (s *Scheduler) runCleanup(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	purged, err := s.store.PurgeHiddenListings(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("cleanup failed")
	}
	if len(purged) == 0 {
		return
	}

	var objectKeys []string
	for _, p := range purged {
		objectKeys = append(objectKeys, p.ObjectKeys...)
	}
	if len(objectKeys) > 0 {
		if err := s.objects.DeleteBatch(ctx, objectKeys); err != nil {
			s.log.Error().Err(err).Int("keys", len(objectKeys)).Msg("failed to delete purged media objects")
		}
	}
	s.log.Info().Int("listings", len(purged)).Int("objects", len(objectKeys)).Msg("daily cleanup finished")
}
