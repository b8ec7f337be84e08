package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Beck89/mta-mls-worker/ratelimit"
	"github.com/Beck89/mta-mls-worker/services"
)

// StalenessWorker periodically evaluates per-resource run staleness
// and limiter saturation, logging degraded state. The health/dashboard
// surface reads the same evaluator.
type StalenessWorker struct {
	health  *services.HealthService
	limiter *ratelimit.Limiter
	log     zerolog.Logger
}

func NewStalenessWorker(health *services.HealthService, limiter *ratelimit.Limiter, log zerolog.Logger) *StalenessWorker {
	return &StalenessWorker{
		health:  health,
		limiter: limiter,
		log:     log.With().Str("component", "staleness_monitor").Logger(),
	}
}

// Run checks every interval until cancelled.
func (w *StalenessWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("staleness monitor stopping")
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *StalenessWorker) check(ctx context.Context) {
	results, err := w.health.Evaluate(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("health evaluation failed")
		return
	}

	for _, h := range results {
		if !h.Stale {
			continue
		}
		event := w.log.Warn().Str("resource", string(h.Resource)).Dur("cadence", h.Cadence)
		if h.NeverSynced {
			event.Msg("resource has never completed a run")
		} else {
			event.Time("last_run_at", *h.LastRunAt).Msg("resource replication is stale")
		}
	}

	stats := w.limiter.Stats()
	if stats.APIPctDay > 90 || stats.MediaPctOfCap > 90 {
		w.log.Warn().
			Float64("api_pct_day", stats.APIPctDay).
			Float64("media_pct_of_cap", stats.MediaPctOfCap).
			Msg("rate limiter near saturation")
	}
}
