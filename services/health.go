package services

import (
	"context"
	"time"

	"github.com/Beck89/mta-mls-worker/models"
)

// RunHistory is the slice of the store the health evaluator reads.
type RunHistory interface {
	LatestFinishedRun(ctx context.Context, resource models.Resource) (*models.ReplicationRun, error)
}

// ResourceHealth is one resource's staleness verdict.
type ResourceHealth struct {
	Resource    models.Resource `json:"resource"`
	LastRunAt   *time.Time      `json:"last_run_at"`
	Cadence     time.Duration   `json:"cadence"`
	Stale       bool            `json:"stale"`
	NeverSynced bool            `json:"never_synced"`
}

// HealthService derives per-resource health from run-record
// staleness: a resource is degraded when its latest finished run is
// older than twice the expected cadence.
type HealthService struct {
	runs     RunHistory
	cadences map[models.Resource]time.Duration
	now      func() time.Time
}

// NewHealthService creates the evaluator with per-resource cadences.
func NewHealthService(runs RunHistory, cadences map[models.Resource]time.Duration) *HealthService {
	return &HealthService{
		runs:     runs,
		cadences: cadences,
		now:      time.Now,
	}
}

// Evaluate reports staleness for every configured resource.
func (s *HealthService) Evaluate(ctx context.Context) ([]ResourceHealth, error) {
	now := s.now()
	var out []ResourceHealth
	for resource, cadence := range s.cadences {
		h := ResourceHealth{Resource: resource, Cadence: cadence}

		run, err := s.runs.LatestFinishedRun(ctx, resource)
		if err != nil {
			return nil, err
		}
		if run == nil || run.CompletedAt == nil {
			h.NeverSynced = true
			h.Stale = true
		} else {
			h.LastRunAt = run.CompletedAt
			h.Stale = now.Sub(*run.CompletedAt) > 2*cadence
		}
		out = append(out, h)
	}
	return out, nil
}
