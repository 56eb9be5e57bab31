// Package worker executes scrape jobs: fetch a page, enumerate its images,
// then download, detect and store faces for each one.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/url"
	"path"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/jlahut/chirp/internal/models"
	"github.com/jlahut/chirp/internal/observability"
	"github.com/jlahut/chirp/internal/scrape"
	"github.com/jlahut/chirp/internal/storage"
	"github.com/jlahut/chirp/internal/vision"
)

// JobMessage is the payload published to the jobs stream.
type JobMessage struct {
	JobID uuid.UUID `json:"job_id"`
	Retry bool      `json:"retry"`
}

// Store is the slice of the persistence layer the runner touches.
// *storage.PostgresStore satisfies it.
type Store interface {
	GetScrapeJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error)
	UpdateScrapeJobStatus(ctx context.Context, id uuid.UUID, status models.ScrapeJobStatus, errMsg *string) error
	MarkScrapeJobProcessing(ctx context.Context, id uuid.UUID, totalImages int, previewURL *string) error
	IncrementScrapeJobCounter(ctx context.Context, id uuid.UUID, column string, amount int) error
	BulkInsertScrapeItems(ctx context.Context, jobID uuid.UUID, urls []string) ([]models.ScrapeJobItem, error)
	GetQueuedItems(ctx context.Context, jobID uuid.UUID) ([]models.ScrapeJobItem, error)
	UpdateScrapeItem(ctx context.Context, id uuid.UUID, status models.ScrapeItemStatus, imageID *uuid.UUID, errMsg *string) error
	GetCompletedItemBySourceURL(ctx context.Context, sourceURL string) (*models.ScrapeJobItem, error)
	GetImageBySourceURL(ctx context.Context, sourceURL string) (*models.Image, error)
	SaveImage(ctx context.Context, filename string, sourceURL *string, width, height *int) (*models.Image, error)
	SaveDetectedFace(ctx context.Context, imageID uuid.UUID, embedding []float32, location models.FaceLocation) (*models.DetectedFace, error)
}

// Archive receives the original bytes of each processed image.
type Archive interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Fetcher enumerates and downloads images from the outside world.
type Fetcher interface {
	ScrapePage(ctx context.Context, pageURL string) ([]scrape.ImageRef, error)
	FetchImage(ctx context.Context, imageURL string) ([]byte, string, error)
}

// Detector locates and embeds faces in raw image bytes.
type Detector interface {
	Detect(ctx context.Context, image []byte, contentType string) ([]vision.DetectedFace, error)
}

// ProgressPublisher pushes job progress snapshots to the events stream.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, jobID uuid.UUID, data interface{}) error
}

type Runner struct {
	store    Store
	archive  Archive
	scraper  Fetcher
	detector Detector
	producer ProgressPublisher
	workers  int
}

func NewRunner(store Store, archive Archive, scraper Fetcher, detector Detector, producer ProgressPublisher, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		store:    store,
		archive:  archive,
		scraper:  scraper,
		detector: detector,
		producer: producer,
		workers:  workers,
	}
}

// HandleMessage is the queue consumer entry point. Job failures are
// recorded on the job row, not returned, so the message is never
// redelivered for a job that already reached a terminal state.
func (r *Runner) HandleMessage(ctx context.Context, msg jetstream.Msg) error {
	var jm JobMessage
	if err := json.Unmarshal(msg.Data(), &jm); err != nil {
		slog.Error("discard malformed job message", "error", err)
		return nil
	}
	r.Run(ctx, jm.JobID, jm.Retry)
	return nil
}

// Run executes one scrape job to a terminal state.
func (r *Runner) Run(ctx context.Context, jobID uuid.UUID, isRetry bool) {
	job, err := r.store.GetScrapeJob(ctx, jobID)
	if err != nil {
		slog.Error("load scrape job", "job_id", jobID, "error", err)
		return
	}
	if job == nil {
		slog.Warn("scrape job not found", "job_id", jobID)
		return
	}

	slog.Info("starting scrape job", "job_id", jobID, "url", job.URL, "retry", isRetry)
	if err := r.store.UpdateScrapeJobStatus(ctx, jobID, models.JobStatusScraping, nil); err != nil {
		slog.Error("mark job scraping", "job_id", jobID, "error", err)
		return
	}

	var items []models.ScrapeJobItem
	if isRetry {
		// Reuse the items the retry endpoint reset to queued. No re-scrape,
		// no new item rows, so counters never accumulate across retries.
		items, err = r.store.GetQueuedItems(ctx, jobID)
		if err != nil {
			r.failJob(ctx, jobID, err)
			return
		}
		slog.Info("retry path, reusing queued items", "job_id", jobID, "items", len(items))
		if err := r.store.UpdateScrapeJobStatus(ctx, jobID, models.JobStatusProcessing, nil); err != nil {
			slog.Error("mark job processing", "job_id", jobID, "error", err)
			return
		}
	} else {
		refs, err := r.scraper.ScrapePage(ctx, job.URL)
		if err != nil {
			r.failJob(ctx, jobID, err)
			return
		}
		slog.Info("scraped page", "job_id", jobID, "images", len(refs))

		if len(refs) == 0 {
			if err := r.store.MarkScrapeJobProcessing(ctx, jobID, 0, nil); err != nil {
				slog.Error("record empty scrape", "job_id", jobID, "error", err)
			}
			if err := r.store.UpdateScrapeJobStatus(ctx, jobID, models.JobStatusCompleted, nil); err != nil {
				slog.Error("complete empty job", "job_id", jobID, "error", err)
			}
			r.publishProgress(ctx, jobID)
			return
		}

		urls := make([]string, len(refs))
		for i, ref := range refs {
			urls[i] = ref.SourceURL
		}
		items, err = r.store.BulkInsertScrapeItems(ctx, jobID, urls)
		if err != nil {
			r.failJob(ctx, jobID, err)
			return
		}
		preview := refs[0].SourceURL
		if err := r.store.MarkScrapeJobProcessing(ctx, jobID, len(items), &preview); err != nil {
			r.failJob(ctx, jobID, err)
			return
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			r.processItem(gctx, jobID, item)
			r.publishProgress(gctx, jobID)
			return nil
		})
	}
	_ = g.Wait()

	final, err := r.store.GetScrapeJob(ctx, jobID)
	if err != nil || final == nil {
		slog.Error("load job for finalize", "job_id", jobID, "error", err)
		return
	}
	if final.ProcessedCount == 0 && final.SkippedCount == 0 {
		msg := "all images failed to process"
		if err := r.store.UpdateScrapeJobStatus(ctx, jobID, models.JobStatusFailed, &msg); err != nil {
			slog.Error("fail job", "job_id", jobID, "error", err)
		}
	} else {
		if err := r.store.UpdateScrapeJobStatus(ctx, jobID, models.JobStatusCompleted, nil); err != nil {
			slog.Error("complete job", "job_id", jobID, "error", err)
		}
	}
	r.publishProgress(ctx, jobID)
	slog.Info("scrape job done", "job_id", jobID,
		"processed", final.ProcessedCount, "skipped", final.SkippedCount, "failed", final.FailedCount)
}

// processItem handles one image URL: skip if a prior run completed it,
// re-link faces if the image row exists without a completed item, otherwise
// download, detect, store and archive. All outcomes are recorded on the
// item row; nothing propagates upward.
func (r *Runner) processItem(ctx context.Context, jobID uuid.UUID, item models.ScrapeJobItem) {
	if err := r.store.UpdateScrapeItem(ctx, item.ID, models.ItemStatusProcessing, nil, nil); err != nil {
		slog.Error("mark item processing", "item_id", item.ID, "error", err)
	}

	// Only a completed item proves the URL was fully processed. An image
	// row alone may be left over from a partial failure before face
	// detection finished.
	completed, err := r.store.GetCompletedItemBySourceURL(ctx, item.SourceURL)
	if err == nil && completed != nil && completed.ImageID != nil {
		if err := r.store.UpdateScrapeItem(ctx, item.ID, models.ItemStatusSkipped, completed.ImageID, nil); err != nil {
			slog.Error("mark item skipped", "item_id", item.ID, "error", err)
		}
		if err := r.store.IncrementScrapeJobCounter(ctx, jobID, "skipped_count", 1); err != nil {
			slog.Error("increment skipped count", "job_id", jobID, "error", err)
		}
		observability.ImagesProcessed.WithLabelValues("skipped").Inc()
		return
	}

	imageID, faceCount, err := r.IngestImage(ctx, item.SourceURL)
	if err != nil {
		msg := truncate(err.Error(), 500)
		if uerr := r.store.UpdateScrapeItem(ctx, item.ID, models.ItemStatusFailed, nil, &msg); uerr != nil {
			slog.Error("mark item failed", "item_id", item.ID, "error", uerr)
		}
		if ierr := r.store.IncrementScrapeJobCounter(ctx, jobID, "failed_count", 1); ierr != nil {
			slog.Error("increment failed count", "job_id", jobID, "error", ierr)
		}
		observability.ImagesProcessed.WithLabelValues("failed").Inc()
		slog.Warn("item failed", "item_id", item.ID, "url", item.SourceURL, "error", err)
		return
	}

	if err := r.store.UpdateScrapeItem(ctx, item.ID, models.ItemStatusCompleted, &imageID, nil); err != nil {
		slog.Error("mark item completed", "item_id", item.ID, "error", err)
	}
	if err := r.store.IncrementScrapeJobCounter(ctx, jobID, "processed_count", 1); err != nil {
		slog.Error("increment processed count", "job_id", jobID, "error", err)
	}
	if faceCount > 0 {
		if err := r.store.IncrementScrapeJobCounter(ctx, jobID, "total_faces", faceCount); err != nil {
			slog.Error("increment total faces", "job_id", jobID, "error", err)
		}
	}
	observability.ImagesProcessed.WithLabelValues("processed").Inc()
	observability.FacesDetected.Add(float64(faceCount))
}

// IngestImage downloads the image, runs face detection, persists the image
// row and faces, and archives the original bytes. Reuses an existing image
// row left by a partial failure instead of inserting a duplicate. Returns
// the image id and the number of faces stored.
func (r *Runner) IngestImage(ctx context.Context, sourceURL string) (uuid.UUID, int, error) {
	data, contentType, err := r.scraper.FetchImage(ctx, sourceURL)
	if err != nil {
		return uuid.Nil, 0, err
	}

	faces, err := r.detector.Detect(ctx, data, contentType)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("detect faces: %w", err)
	}

	existing, err := r.store.GetImageBySourceURL(ctx, sourceURL)
	if err != nil {
		return uuid.Nil, 0, err
	}

	var imageID uuid.UUID
	if existing != nil {
		imageID = existing.ID
	} else {
		width, height := imageDims(data)
		img, err := r.store.SaveImage(ctx, filenameFromURL(sourceURL), &sourceURL, width, height)
		if err != nil {
			return uuid.Nil, 0, err
		}
		imageID = img.ID
	}

	for _, face := range faces {
		if _, err := r.store.SaveDetectedFace(ctx, imageID, face.Embedding, face.Location); err != nil {
			return imageID, 0, fmt.Errorf("save face: %w", err)
		}
	}

	if err := r.archive.PutObject(ctx, storage.ArchiveKey(imageID), data, contentType); err != nil {
		slog.Warn("archive original failed", "image_id", imageID, "error", err)
	}

	return imageID, len(faces), nil
}

func (r *Runner) failJob(ctx context.Context, jobID uuid.UUID, cause error) {
	msg := truncate(cause.Error(), 500)
	if err := r.store.UpdateScrapeJobStatus(ctx, jobID, models.JobStatusFailed, &msg); err != nil {
		slog.Error("fail job", "job_id", jobID, "error", err)
	}
	r.publishProgress(ctx, jobID)
	slog.Warn("scrape job failed", "job_id", jobID, "error", cause)
}

// publishProgress pushes the job's current counters to the events stream.
func (r *Runner) publishProgress(ctx context.Context, jobID uuid.UUID) {
	job, err := r.store.GetScrapeJob(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	progress := models.JobProgress{
		JobID:          job.ID,
		Status:         job.Status,
		TotalImages:    derefOrZero(job.TotalImages),
		ProcessedCount: job.ProcessedCount,
		SkippedCount:   job.SkippedCount,
		FailedCount:    job.FailedCount,
		TotalFaces:     job.TotalFaces,
	}
	if err := r.producer.PublishProgress(ctx, jobID, progress); err != nil {
		slog.Warn("publish progress", "job_id", jobID, "error", err)
	}
}

// imageDims reads pixel dimensions from the downloaded header. Formats the
// decoders don't recognize leave the dimensions null rather than failing the
// ingest; the detector has its own opinion about what it can read.
func imageDims(data []byte) (*int, *int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, nil
	}
	return &cfg.Width, &cfg.Height
}

func filenameFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err == nil {
		if name := path.Base(parsed.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return "img_" + uuid.NewString()[:8] + ".jpg"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func derefOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
