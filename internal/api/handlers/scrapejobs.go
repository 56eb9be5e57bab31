package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jlahut/chirp/internal/models"
	"github.com/jlahut/chirp/internal/observability"
	"github.com/jlahut/chirp/internal/queue"
	"github.com/jlahut/chirp/internal/scrape"
	"github.com/jlahut/chirp/internal/storage"
	"github.com/jlahut/chirp/internal/worker"
	"github.com/jlahut/chirp/pkg/dto"
)

type ScrapeJobHandler struct {
	db       *storage.PostgresStore
	producer *queue.Producer
}

func NewScrapeJobHandler(db *storage.PostgresStore, producer *queue.Producer) *ScrapeJobHandler {
	return &ScrapeJobHandler{db: db, producer: producer}
}

func (h *ScrapeJobHandler) Create(c *gin.Context) {
	var req dto.CreateScrapeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Reject unsafe targets before anything is persisted.
	if err := scrape.ValidateURL(c.Request.Context(), req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.db.CreateScrapeJob(c.Request.Context(), req.URL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.producer.PublishJob(c.Request.Context(), job.ID, worker.JobMessage{JobID: job.ID}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.updateQueueDepth(c)

	c.JSON(http.StatusCreated, dto.FromScrapeJob(*job))
}

func (h *ScrapeJobHandler) List(c *gin.Context) {
	jobs, err := h.db.ListScrapeJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.ScrapeJobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, dto.FromScrapeJob(j))
	}

	c.JSON(http.StatusOK, dto.ScrapeJobListResponse{Jobs: resp, Total: len(resp)})
}

// Get returns a job with its items.
func (h *ScrapeJobHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.db.GetScrapeJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	items, err := h.db.GetScrapeJobItems(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	detail := dto.ScrapeJobDetailResponse{ScrapeJobResponse: dto.FromScrapeJob(*job)}
	detail.Items = make([]dto.ScrapeJobItemResponse, 0, len(items))
	for _, it := range items {
		detail.Items = append(detail.Items, dto.FromScrapeJobItem(it))
	}

	c.JSON(http.StatusOK, detail)
}

// Retry re-queues a job's failed items. Only terminal jobs can be retried.
func (h *ScrapeJobHandler) Retry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.db.GetScrapeJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if job.Status != models.JobStatusFailed && job.Status != models.JobStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "job is still running"})
		return
	}

	reset, err := h.db.ResetScrapeJobForRetry(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if reset == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "no failed items to retry"})
		return
	}

	if err := h.producer.PublishJob(c.Request.Context(), id, worker.JobMessage{JobID: id, Retry: true}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.updateQueueDepth(c)

	updated, err := h.db.GetScrapeJob(c.Request.Context(), id)
	if err != nil || updated == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job updated but could not be reloaded"})
		return
	}

	c.JSON(http.StatusOK, dto.FromScrapeJob(*updated))
}

func (h *ScrapeJobHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	deleted, err := h.db.DeleteScrapeJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ScrapeJobHandler) updateQueueDepth(c *gin.Context) {
	if depth, err := h.producer.QueueDepth(c.Request.Context()); err == nil {
		observability.JobQueueDepth.Set(float64(depth))
	}
}
