package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/jlahut/chirp/internal/models"
)

type CreateScrapeJobRequest struct {
	URL string `json:"url" binding:"required,url"`
}

type ScrapeJobResponse struct {
	ID             uuid.UUID `json:"id"`
	URL            string    `json:"url"`
	Status         string    `json:"status"`
	TotalImages    *int      `json:"total_images,omitempty"`
	ProcessedCount int       `json:"processed_count"`
	SkippedCount   int       `json:"skipped_count"`
	FailedCount    int       `json:"failed_count"`
	TotalFaces     int       `json:"total_faces"`
	PreviewURL     *string   `json:"preview_url,omitempty"`
	Error          *string   `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ScrapeJobListResponse struct {
	Jobs  []ScrapeJobResponse `json:"jobs"`
	Total int                 `json:"total"`
}

type ScrapeJobItemResponse struct {
	ID        uuid.UUID  `json:"id"`
	SourceURL string     `json:"source_url"`
	Status    string     `json:"status"`
	ImageID   *uuid.UUID `json:"image_id,omitempty"`
	Error     *string    `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type ScrapeJobDetailResponse struct {
	ScrapeJobResponse
	Items []ScrapeJobItemResponse `json:"items"`
}

func FromScrapeJob(j models.ScrapeJob) ScrapeJobResponse {
	return ScrapeJobResponse{
		ID:             j.ID,
		URL:            j.URL,
		Status:         string(j.Status),
		TotalImages:    j.TotalImages,
		ProcessedCount: j.ProcessedCount,
		SkippedCount:   j.SkippedCount,
		FailedCount:    j.FailedCount,
		TotalFaces:     j.TotalFaces,
		PreviewURL:     j.PreviewURL,
		Error:          j.Error,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func FromScrapeJobItem(it models.ScrapeJobItem) ScrapeJobItemResponse {
	return ScrapeJobItemResponse{
		ID:        it.ID,
		SourceURL: it.SourceURL,
		Status:    string(it.Status),
		ImageID:   it.ImageID,
		Error:     it.Error,
		CreatedAt: it.CreatedAt,
	}
}
