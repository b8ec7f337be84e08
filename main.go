package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Beck89/mta-mls-worker/config"
	"github.com/Beck89/mta-mls-worker/feed"
	"github.com/Beck89/mta-mls-worker/httputil"
	"github.com/Beck89/mta-mls-worker/logging"
	"github.com/Beck89/mta-mls-worker/models"
	"github.com/Beck89/mta-mls-worker/ratelimit"
	"github.com/Beck89/mta-mls-worker/replicator"
	"github.com/Beck89/mta-mls-worker/scheduler"
	"github.com/Beck89/mta-mls-worker/services"
	"github.com/Beck89/mta-mls-worker/storage"
	"github.com/Beck89/mta-mls-worker/workers"
)

var (
	cycleOnce = flag.String("cycle", "", "Run a single replication cycle for the given resource and exit (Property, Member, Office, OpenHouse, Lookup)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet; write plainly and exit non-zero.
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, logFile := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, "daemon.log")
	if logFile != nil {
		defer logFile.Close()
	}
	log.Info().Str("vendor", cfg.Feed.OriginatingSystem).Msg("starting mta-mls-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewPostgresStore(ctx, cfg.Database.URL, int32(cfg.Database.PoolSize))
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to postgres")
		os.Exit(1)
	}
	defer store.Close()
	log.Info().Int("pool_size", cfg.Database.PoolSize).Msg("connected to postgres")

	objects, err := storage.NewObjectStore(ctx, storage.S3Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		PublicDomain:    cfg.S3.PublicDomain,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to set up object store")
		os.Exit(1)
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		MediaSoftCapBytes: int64(cfg.Media.BandwidthSoftGiB * float64(1<<30)),
		MediaHardCapBytes: int64(cfg.Media.BandwidthHardGiB * float64(1<<30)),
	})
	if err != nil {
		log.Error().Err(err).Msg("invalid rate limiter config")
		os.Exit(1)
	}
	seedLimiter(ctx, store, limiter, log)

	clients := httputil.NewClients()
	client, err := feed.NewClient(feed.ClientConfig{
		BaseURL:         cfg.Feed.BaseURL,
		Vendor:          cfg.Feed.OriginatingSystem,
		Token:           cfg.Feed.Token,
		HTTPClient:      clients.Feed,
		MediaHTTPClient: clients.Media,
		Limiter:         limiter,
		RequestLog:      store,
		Logger:          log,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build feed client")
		os.Exit(1)
	}

	// Processors share the inline media refresh and the alert hook.
	mediaSync := services.NewMediaSync(store, client, objects, log, cfg.Media.InlineConcurrency)
	hook := &services.NoopAlertHook{Log: log}
	processors := map[models.Resource]services.Processor{
		models.ResourceListing:   services.NewListingProcessor(store, store, mediaSync, hook, log),
		models.ResourceMember:    services.NewMemberProcessor(store, store, mediaSync, log),
		models.ResourceOffice:    services.NewOfficeProcessor(store, store, mediaSync, log),
		models.ResourceOpenHouse: services.NewOpenHouseProcessor(store, log),
		models.ResourceLookup:    services.NewLookupProcessor(store, log),
	}

	driver := replicator.New(store, client, processors, log)

	if *cycleOnce != "" {
		resource := models.Resource(*cycleOnce)
		if _, ok := processors[resource]; !ok {
			log.Error().Str("resource", *cycleOnce).Msg("unknown resource")
			os.Exit(1)
		}
		if _, err := driver.RunCycle(ctx, resource); err != nil {
			log.Error().Err(err).Msg("cycle failed")
			os.Exit(1)
		}
		return
	}

	// Daemon mode.
	sched := scheduler.New(driver, store, objects, scheduler.Config{
		Cadences: cfg.Cadences,
	}, log)
	if err := sched.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start scheduler")
		os.Exit(1)
	}

	downloader := workers.NewMediaDownloader(store, client, objects, log, cfg.Media.Concurrency)
	go downloader.Run(ctx, cfg.Media.PollInterval, cfg.Media.RecoveryInterval)

	health := services.NewHealthService(store, cfg.Cadences)
	staleness := workers.NewStalenessWorker(health, limiter, log)
	go staleness.Run(ctx, cfg.Media.StalenessInterval)

	log.Info().Msg("daemon running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	sched.Stop()
	cancel()
	log.Info().Msg("goodbye")
}

// seedLimiter restores the limiter windows from persisted request and
// download history so a restart cannot burst past the caps.
func seedLimiter(ctx context.Context, store *storage.PostgresStore, limiter *ratelimit.Limiter, log zerolog.Logger) {
	now := time.Now()

	apiTimes, err := store.APIRequestTimesSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		log.Warn().Err(err).Msg("failed to load request history, limiter starts cold")
		apiTimes = nil
	}

	downloads, err := store.MediaBytesSince(ctx, now.Add(-60*time.Minute))
	if err != nil {
		log.Warn().Err(err).Msg("failed to load media download history, limiter starts cold")
		downloads = nil
	}

	media := make([]ratelimit.MediaByteEvent, 0, len(downloads))
	for _, d := range downloads {
		media = append(media, ratelimit.MediaByteEvent{At: d.DownloadedAt, Bytes: d.Bytes})
	}

	limiter.Seed(apiTimes, media)
	log.Info().Int("api_events", len(apiTimes)).Int("media_events", len(media)).Msg("rate limiter seeded")
}
