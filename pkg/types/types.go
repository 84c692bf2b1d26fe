package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BlobRef names a persisted blob. It is a plain file name, never a path.
type BlobRef string

// String returns the blob name
func (r BlobRef) String() string {
	return string(r)
}

// DownloadStatus is the lifecycle state of a download
type DownloadStatus string

const (
	DownloadPending   DownloadStatus = "pending"
	DownloadSucceeded DownloadStatus = "succeeded"
	DownloadFailed    DownloadStatus = "failed"
)

// DownloadRecord is one row of the download ledger
type DownloadRecord struct {
	ID          uuid.UUID      `json:"id" gorm:"primaryKey"`
	URL         string         `json:"url" gorm:"not null"`
	BlobRef     BlobRef        `json:"blob_ref,omitempty" gorm:"index"`
	Status      DownloadStatus `json:"status" gorm:"not null;index"`
	FailureKind string         `json:"failure_kind,omitempty"`
	HTTPStatus  int            `json:"http_status,omitempty"`
	Error       string         `json:"error,omitempty"`
	Bytes       int64          `json:"bytes"`
	SHA256      string         `json:"sha256,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at" gorm:"index"`
	CreatedAt   time.Time      `json:"created_at"`
}

// BeforeCreate generates a UUID for the record ID
func (d *DownloadRecord) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// DownloadStats summarizes the ledger
type DownloadStats struct {
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	TotalBytes int64 `json:"total_bytes"`
}

// DownloadRequest is the body of a download request
type DownloadRequest struct {
	URL string `json:"url" binding:"required"`
}

// DownloadHandle reports a tracked download to API clients
type DownloadHandle struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	Status      DownloadStatus `json:"status"`
	BlobRef     BlobRef        `json:"blob_ref,omitempty"`
	FailureKind string         `json:"failure_kind,omitempty"`
	HTTPStatus  int            `json:"http_status,omitempty"`
	Error       string         `json:"error,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ImageBounds reports the raw dimensions of a stored image
type ImageBounds struct {
	BlobRef BlobRef `json:"blob_ref"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Format  string  `json:"format"`
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
