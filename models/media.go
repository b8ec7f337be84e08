package models

import "time"

// Media status
const (
	MediaStatusPendingDownload = "pending_download"
	MediaStatusComplete        = "complete"
	MediaStatusFailed          = "failed"
	MediaStatusExpired         = "expired"
)

// Media is a photo/document attached to a listing, member, or
// office. SourceURL is the vendor's signed CDN URL; it expires and is
// only ever used for downloading. ObjectKey/PublicURL point at our
// own object store once the bytes are safe.
type Media struct {
	MediaKey     string   `json:"media_key" db:"media_key"`
	ResourceType Resource `json:"resource_type" db:"resource_type"`
	ParentKey    string   `json:"parent_key" db:"parent_key"`
	// ListingID lets the downloader refetch the parent by id when the
	// stored SourceURL has aged out.
	ListingID string `json:"listing_id" db:"listing_id"`

	SourceURL     string     `json:"source_url" db:"source_url"`
	ObjectKey     string     `json:"object_key" db:"object_key"`
	PublicURL     string     `json:"public_url" db:"public_url"`
	MediaOrder    int        `json:"media_order" db:"media_order"`
	Category      string     `json:"category" db:"category"`
	FileSizeBytes int64      `json:"file_size_bytes" db:"file_size_bytes"`
	ContentType   string     `json:"content_type" db:"content_type"`
	Status        string     `json:"status" db:"status"`
	RetryCount    int        `json:"retry_count" db:"retry_count"`
	MediaModTs    *time.Time `json:"media_mod_ts" db:"media_mod_ts"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// StoredInObjectStore reports whether the bytes are already safe in
// our store regardless of the source URL's validity.
func (m *Media) StoredInObjectStore() bool {
	return m.ObjectKey != "" && m.PublicURL != "" && m.FileSizeBytes > 0
}

// MediaDownload is one audit row per completed background download.
type MediaDownload struct {
	ID           int64     `json:"id" db:"id"`
	MediaKey     string    `json:"media_key" db:"media_key"`
	ParentKey    string    `json:"parent_key" db:"parent_key"`
	Bytes        int64     `json:"bytes" db:"bytes"`
	ElapsedMS    int64     `json:"elapsed_ms" db:"elapsed_ms"`
	DownloadedAt time.Time `json:"downloaded_at" db:"downloaded_at"`
}
