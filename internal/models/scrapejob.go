package models

import (
	"time"

	"github.com/google/uuid"
)

type ScrapeJobStatus string

const (
	JobStatusPending      ScrapeJobStatus = "pending"
	JobStatusRetryPending ScrapeJobStatus = "retry_pending"
	JobStatusScraping     ScrapeJobStatus = "scraping"
	JobStatusProcessing   ScrapeJobStatus = "processing"
	JobStatusCompleted    ScrapeJobStatus = "completed"
	JobStatusFailed       ScrapeJobStatus = "failed"
)

type ScrapeItemStatus string

const (
	ItemStatusQueued     ScrapeItemStatus = "queued"
	ItemStatusProcessing ScrapeItemStatus = "processing"
	ItemStatusCompleted  ScrapeItemStatus = "completed"
	ItemStatusSkipped    ScrapeItemStatus = "skipped"
	ItemStatusFailed     ScrapeItemStatus = "failed"
)

type ScrapeJob struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	URL            string          `json:"url" db:"url"`
	Status         ScrapeJobStatus `json:"status" db:"status"`
	TotalImages    *int            `json:"total_images" db:"total_images"`
	ProcessedCount int             `json:"processed_count" db:"processed_count"`
	SkippedCount   int             `json:"skipped_count" db:"skipped_count"`
	FailedCount    int             `json:"failed_count" db:"failed_count"`
	TotalFaces     int             `json:"total_faces" db:"total_faces"`
	PreviewURL     *string         `json:"preview_url" db:"preview_url"`
	Error          *string         `json:"error" db:"error"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

type ScrapeJobItem struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	JobID     uuid.UUID        `json:"job_id" db:"job_id"`
	SourceURL string           `json:"source_url" db:"source_url"`
	Status    ScrapeItemStatus `json:"status" db:"status"`
	ImageID   *uuid.UUID       `json:"image_id" db:"image_id"`
	Error     *string          `json:"error" db:"error"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// JobProgress is published to the JOB_EVENTS stream after every item so the
// API can broadcast live progress over WebSocket.
type JobProgress struct {
	JobID          uuid.UUID       `json:"job_id"`
	Status         ScrapeJobStatus `json:"status"`
	TotalImages    int             `json:"total_images"`
	ProcessedCount int             `json:"processed_count"`
	SkippedCount   int             `json:"skipped_count"`
	FailedCount    int             `json:"failed_count"`
	TotalFaces     int             `json:"total_faces"`
}
