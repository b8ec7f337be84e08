package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Beck89/mta-mls-worker/models"
)

// Change kinds reported to the alert hook.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeHidden  = "hidden"
)

// ChangeEvent describes one replicated change for downstream alerting.
type ChangeEvent struct {
	ID         uuid.UUID       `json:"id"`
	Resource   models.Resource `json:"resource"`
	Key        string          `json:"key"`
	ChangeKind string          `json:"change_kind"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// AlertHook is the extension point the listing processor invokes for
// every listing change seen in replication mode; the member, office,
// open house and lookup processors do not call it. The default
// implementation does nothing; the call site is the contract.
type AlertHook interface {
	Notify(ctx context.Context, event ChangeEvent)
}

// NoopAlertHook logs at debug level and otherwise does nothing.
type NoopAlertHook struct {
	Log zerolog.Logger
}

func (h *NoopAlertHook) Notify(_ context.Context, event ChangeEvent) {
	h.Log.Debug().
		Str("resource", string(event.Resource)).
		Str("key", event.Key).
		Str("change", event.ChangeKind).
		Msg("alert hook")
}

// NewChangeEvent builds an event for the hook.
func NewChangeEvent(resource models.Resource, key, kind string) ChangeEvent {
	return ChangeEvent{
		ID:         uuid.New(),
		Resource:   resource,
		Key:        key,
		ChangeKind: kind,
		OccurredAt: time.Now(),
	}
}
