package models

import (
	"encoding/json"
	"strconv"
	"time"
)

type RunMode string

const (
	RunModeInitial     RunMode = "initial_import"
	RunModeReplication RunMode = "replication"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPartial   RunStatus = "partial"
)

// ReplicationRun is one row per replication cycle. HwmEnd, when
// non-nil, equals the greatest ModificationTimestamp the cycle saw.
type ReplicationRun struct {
	ID          int64      `json:"id" db:"id"`
	Resource    Resource   `json:"resource" db:"resource"`
	Mode        RunMode    `json:"mode" db:"mode"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	Status      RunStatus  `json:"status" db:"status"`
	HwmStart    *time.Time `json:"hwm_start" db:"hwm_start"`
	HwmEnd      *time.Time `json:"hwm_end" db:"hwm_end"`

	RecordsReceived int `json:"records_received" db:"records_received"`
	RecordsInserted int `json:"records_inserted" db:"records_inserted"`
	RecordsUpdated  int `json:"records_updated" db:"records_updated"`
	RecordsDeleted  int `json:"records_deleted" db:"records_deleted"`

	MediaDownloaded int   `json:"media_downloaded" db:"media_downloaded"`
	MediaDeleted    int   `json:"media_deleted" db:"media_deleted"`
	MediaBytes      int64 `json:"media_bytes" db:"media_bytes"`

	RequestCount int   `json:"request_count" db:"request_count"`
	RequestBytes int64 `json:"request_bytes" db:"request_bytes"`
	AvgLatencyMS int64 `json:"avg_latency_ms" db:"avg_latency_ms"`
	// HTTPErrors maps status code -> count, serialized to JSONB.
	HTTPErrors map[int]int `json:"http_errors" db:"http_errors"`

	ErrorMessage string `json:"error_message" db:"error_message"`
}

// HTTPErrorsJSON returns the error histogram serialized for storage.
func (r *ReplicationRun) HTTPErrorsJSON() json.RawMessage {
	if len(r.HTTPErrors) == 0 {
		return json.RawMessage(`{}`)
	}
	m := make(map[string]int, len(r.HTTPErrors))
	for code, n := range r.HTTPErrors {
		m[strconv.Itoa(code)] = n
	}
	data, _ := json.Marshal(m)
	return data
}

// FeedRequest is one row per feed/CDN request, successful or failed.
type FeedRequest struct {
	ID          int64     `json:"id" db:"id"`
	RunID       *int64    `json:"run_id" db:"run_id"`
	URL         string    `json:"url" db:"url"`
	StatusCode  int       `json:"status_code" db:"status_code"`
	ElapsedMS   int64     `json:"elapsed_ms" db:"elapsed_ms"`
	Bytes       int64     `json:"bytes" db:"bytes"`
	RecordCount int       `json:"record_count" db:"record_count"`
	Error       string    `json:"error" db:"error"`
	RequestedAt time.Time `json:"requested_at" db:"requested_at"`
}
