package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/jlahut/chirp/internal/config"
	"github.com/jlahut/chirp/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool exposes the underlying connection pool for the gallery row source.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// --- Images ---

func (s *PostgresStore) SaveImage(ctx context.Context, filename string, sourceURL *string, width, height *int) (*models.Image, error) {
	img := &models.Image{
		ID:        uuid.New(),
		Filename:  filename,
		SourceURL: sourceURL,
		Width:     width,
		Height:    height,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO image (id, filename, source_url, width, height) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		img.ID, img.Filename, img.SourceURL, img.Width, img.Height,
	).Scan(&img.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("save image: %w", err)
	}
	return img, nil
}

func (s *PostgresStore) GetImageBySourceURL(ctx context.Context, sourceURL string) (*models.Image, error) {
	img := &models.Image{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, filename, source_url, width, height, created_at FROM image WHERE source_url = $1`, sourceURL,
	).Scan(&img.ID, &img.Filename, &img.SourceURL, &img.Width, &img.Height, &img.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get image by source url: %w", err)
	}
	return img, nil
}

// DeleteImage removes an image and, via cascade, its detected faces.
func (s *PostgresStore) DeleteImage(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM image WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete image: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Detected faces ---

func (s *PostgresStore) SaveDetectedFace(ctx context.Context, imageID uuid.UUID, encoding []float32, loc models.FaceLocation) (*models.DetectedFace, error) {
	face := &models.DetectedFace{
		ID:       uuid.New(),
		ImageID:  imageID,
		Encoding: encoding,
		Location: loc,
	}
	vec := pgvector.NewVector(encoding)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO detected_face (id, image_id, encoding, location_top, location_right, location_bottom, location_left)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		face.ID, face.ImageID, vec, loc.Top, loc.Right, loc.Bottom, loc.Left,
	).Scan(&face.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("save detected face: %w", err)
	}
	return face, nil
}

// UpdateFacePerson assigns or unassigns (nil) a person to a detected face.
func (s *PostgresStore) UpdateFacePerson(ctx context.Context, faceID uuid.UUID, personID *uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE detected_face SET person_id = $1 WHERE id = $2`, personID, faceID)
	if err != nil {
		return false, fmt.Errorf("update face person: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Persons ---

func (s *PostgresStore) CreatePerson(ctx context.Context, name string) (*models.Person, error) {
	p := &models.Person{
		ID:   uuid.New(),
		Name: name,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO person (id, name) VALUES ($1, $2) RETURNING created_at`,
		p.ID, p.Name,
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPersons(ctx context.Context) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, created_at FROM person ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

func (s *PostgresStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	p := &models.Person{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM person WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

// DeletePerson removes a person; face assignments referencing them are
// cleared by the ON DELETE SET NULL constraint.
func (s *PostgresStore) DeletePerson(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM person WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete person: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Scrape jobs ---

func (s *PostgresStore) CreateScrapeJob(ctx context.Context, url string) (*models.ScrapeJob, error) {
	job := &models.ScrapeJob{
		ID:     uuid.New(),
		URL:    url,
		Status: models.JobStatusPending,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO scrape_job (id, url, status) VALUES ($1, $2, $3) RETURNING created_at, updated_at`,
		job.ID, job.URL, job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create scrape job: %w", err)
	}
	return job, nil
}

const scrapeJobColumns = `id, url, status, total_images, processed_count, skipped_count, failed_count, total_faces, preview_url, error, created_at, updated_at`

func scanScrapeJob(row pgx.Row) (*models.ScrapeJob, error) {
	job := &models.ScrapeJob{}
	err := row.Scan(&job.ID, &job.URL, &job.Status, &job.TotalImages,
		&job.ProcessedCount, &job.SkippedCount, &job.FailedCount, &job.TotalFaces,
		&job.PreviewURL, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) ListScrapeJobs(ctx context.Context) ([]models.ScrapeJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scrapeJobColumns+` FROM scrape_job ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list scrape jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ScrapeJob
	for rows.Next() {
		job, err := scanScrapeJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scrape job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) GetScrapeJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	job, err := scanScrapeJob(s.pool.QueryRow(ctx,
		`SELECT `+scrapeJobColumns+` FROM scrape_job WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get scrape job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) UpdateScrapeJobStatus(ctx context.Context, id uuid.UUID, status models.ScrapeJobStatus, errMsg *string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scrape_job SET status = $1, error = $2, updated_at = now() WHERE id = $3`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("update scrape job status: %w", err)
	}
	return nil
}

// MarkScrapeJobProcessing records the scrape result and moves the job to processing.
func (s *PostgresStore) MarkScrapeJobProcessing(ctx context.Context, id uuid.UUID, totalImages int, previewURL *string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scrape_job SET status = $1, total_images = $2, preview_url = $3, updated_at = now() WHERE id = $4`,
		models.JobStatusProcessing, totalImages, previewURL, id)
	if err != nil {
		return fmt.Errorf("mark scrape job processing: %w", err)
	}
	return nil
}

// ResetScrapeJobForRetry re-queues a failed or completed job: failed items
// go back to queued and the failure counters are cleared. Returns the
// number of items reset.
func (s *PostgresStore) ResetScrapeJobForRetry(ctx context.Context, id uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_job_item SET status = $1, error = NULL WHERE job_id = $2 AND status = $3`,
		models.ItemStatusQueued, id, models.ItemStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("reset failed items: %w", err)
	}
	count := int(tag.RowsAffected())
	if count == 0 {
		return 0, nil
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE scrape_job SET status = $1, failed_count = 0, error = NULL, updated_at = now() WHERE id = $2`,
		models.JobStatusRetryPending, id)
	if err != nil {
		return 0, fmt.Errorf("mark scrape job retry pending: %w", err)
	}
	return count, nil
}

var allowedCounters = map[string]bool{
	"processed_count": true,
	"skipped_count":   true,
	"failed_count":    true,
	"total_faces":     true,
}

// IncrementScrapeJobCounter atomically bumps one of the job's counter columns.
func (s *PostgresStore) IncrementScrapeJobCounter(ctx context.Context, id uuid.UUID, column string, amount int) error {
	if !allowedCounters[column] {
		return fmt.Errorf("invalid counter column: %q", column)
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE scrape_job SET %s = %s + $1, updated_at = now() WHERE id = $2`, column, column),
		amount, id)
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}

func (s *PostgresStore) DeleteScrapeJob(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scrape_job WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete scrape job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetNextPendingJob(ctx context.Context) (*models.ScrapeJob, error) {
	job, err := scanScrapeJob(s.pool.QueryRow(ctx,
		`SELECT `+scrapeJobColumns+` FROM scrape_job WHERE status IN ($1, $2) ORDER BY created_at ASC LIMIT 1`,
		models.JobStatusPending, models.JobStatusRetryPending))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get next pending job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) CountPendingJobs(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scrape_job WHERE status IN ($1, $2)`,
		models.JobStatusPending, models.JobStatusRetryPending).Scan(&count)
	return count, err
}

// CleanupStaleJobs fails jobs stuck mid-flight, e.g. after a worker restart.
func (s *PostgresStore) CleanupStaleJobs(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scrape_job SET status = $1, error = 'worker restarted, use retry to resume', updated_at = now()
		 WHERE status IN ($2, $3)`,
		models.JobStatusFailed, models.JobStatusScraping, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("cleanup stale jobs: %w", err)
	}
	return nil
}

// CleanupOldJobs deletes terminal jobs older than the retention window.
func (s *PostgresStore) CleanupOldJobs(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	_, err := s.pool.Exec(ctx,
		`DELETE FROM scrape_job WHERE status IN ($1, $2) AND created_at < $3`,
		models.JobStatusCompleted, models.JobStatusFailed, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup old jobs: %w", err)
	}
	return nil
}

// --- Scrape job items ---

func (s *PostgresStore) BulkInsertScrapeItems(ctx context.Context, jobID uuid.UUID, sourceURLs []string) ([]models.ScrapeJobItem, error) {
	if len(sourceURLs) == 0 {
		return nil, nil
	}

	items := make([]models.ScrapeJobItem, 0, len(sourceURLs))
	batch := &pgx.Batch{}
	for _, url := range sourceURLs {
		item := models.ScrapeJobItem{
			ID:        uuid.New(),
			JobID:     jobID,
			SourceURL: url,
			Status:    models.ItemStatusQueued,
		}
		items = append(items, item)
		batch.Queue(
			`INSERT INTO scrape_job_item (id, job_id, source_url, status) VALUES ($1, $2, $3, $4)`,
			item.ID, item.JobID, item.SourceURL, item.Status)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range sourceURLs {
		if _, err := results.Exec(); err != nil {
			return nil, fmt.Errorf("insert scrape job item: %w", err)
		}
	}
	return items, nil
}

func (s *PostgresStore) GetScrapeJobItems(ctx context.Context, jobID uuid.UUID) ([]models.ScrapeJobItem, error) {
	return s.queryItems(ctx,
		`SELECT id, job_id, source_url, status, image_id, error, created_at
		 FROM scrape_job_item WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
}

func (s *PostgresStore) GetQueuedItems(ctx context.Context, jobID uuid.UUID) ([]models.ScrapeJobItem, error) {
	return s.queryItems(ctx,
		`SELECT id, job_id, source_url, status, image_id, error, created_at
		 FROM scrape_job_item WHERE job_id = $1 AND status = $2 ORDER BY created_at ASC`,
		jobID, models.ItemStatusQueued)
}

func (s *PostgresStore) queryItems(ctx context.Context, query string, args ...interface{}) ([]models.ScrapeJobItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scrape job items: %w", err)
	}
	defer rows.Close()

	var items []models.ScrapeJobItem
	for rows.Next() {
		var it models.ScrapeJobItem
		if err := rows.Scan(&it.ID, &it.JobID, &it.SourceURL, &it.Status, &it.ImageID, &it.Error, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scrape job item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateScrapeItem(ctx context.Context, id uuid.UUID, status models.ScrapeItemStatus, imageID *uuid.UUID, errMsg *string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scrape_job_item SET status = $1, image_id = $2, error = $3 WHERE id = $4`,
		status, imageID, errMsg, id)
	if err != nil {
		return fmt.Errorf("update scrape job item: %w", err)
	}
	return nil
}

// GetCompletedItemBySourceURL returns any completed item for this source
// URL. Used to skip re-processing images a previous job already finished.
func (s *PostgresStore) GetCompletedItemBySourceURL(ctx context.Context, sourceURL string) (*models.ScrapeJobItem, error) {
	var it models.ScrapeJobItem
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, source_url, status, image_id, error, created_at
		 FROM scrape_job_item WHERE source_url = $1 AND status = $2 LIMIT 1`,
		sourceURL, models.ItemStatusCompleted,
	).Scan(&it.ID, &it.JobID, &it.SourceURL, &it.Status, &it.ImageID, &it.Error, &it.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get completed item by source url: %w", err)
	}
	return &it, nil
}
