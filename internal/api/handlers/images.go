package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jlahut/chirp/internal/gallery"
	"github.com/jlahut/chirp/internal/observability"
	"github.com/jlahut/chirp/internal/scrape"
	"github.com/jlahut/chirp/internal/storage"
	"github.com/jlahut/chirp/pkg/dto"
)

// Ingester pulls one image from its source URL and stores it with its faces.
type Ingester interface {
	IngestImage(ctx context.Context, sourceURL string) (uuid.UUID, int, error)
}

type ImageHandler struct {
	engine       *gallery.Engine
	db           *storage.PostgresStore
	archive      *storage.ArchiveStore
	ingester     Ingester
	defaultLimit int
	maxLimit     int
}

func NewImageHandler(engine *gallery.Engine, db *storage.PostgresStore, archive *storage.ArchiveStore, ingester Ingester, defaultLimit, maxLimit int) *ImageHandler {
	return &ImageHandler{
		engine:       engine,
		db:           db,
		archive:      archive,
		ingester:     ingester,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// Create registers a single image by source URL and processes it inline.
func (h *ImageHandler) Create(c *gin.Context) {
	var req dto.CreateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := scrape.ValidateURL(c.Request.Context(), req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing, err := h.db.GetImageBySourceURL(c.Request.Context(), req.URL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "image with this source url already exists"})
		return
	}

	id, _, err := h.ingester.IngestImage(c.Request.Context(), req.URL)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.engine.Image(c.Request.Context(), id)
	if err != nil || entry == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "image stored but could not be reloaded"})
		return
	}

	c.JSON(http.StatusCreated, dto.FromImageEntry(*entry))
}

// List serves the paginated gallery. Query params: limit, cursor,
// sort_person_id, search.
func (h *ImageHandler) List(c *gin.Context) {
	limit := h.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	if limit > h.maxLimit {
		limit = h.maxLimit
	}

	req := gallery.PageRequest{
		Limit:  limit,
		Cursor: c.Query("cursor"),
		Search: c.Query("search"),
	}

	mode := "newest"
	if raw := c.Query("sort_person_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sort_person_id"})
			return
		}
		req.SortPersonID = &id
		mode = "person"
	}

	start := time.Now()
	page, err := h.engine.Page(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, gallery.ErrInvalidLimit) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, gallery.ErrInvalidCursor) {
			observability.InvalidCursors.Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	observability.GalleryPagesServed.WithLabelValues(mode).Inc()
	observability.GalleryPageDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

	c.JSON(http.StatusOK, dto.FromPage(page))
}

func (h *ImageHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}

	entry, err := h.engine.Image(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}

	c.JSON(http.StatusOK, dto.FromImageEntry(*entry))
}

// Original streams the archived original bytes for an image.
func (h *ImageHandler) Original(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}

	data, contentType, err := h.archive.GetObject(c.Request.Context(), storage.ArchiveKey(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "original not archived"})
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}

func (h *ImageHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}

	deleted, err := h.db.DeleteImage(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}

	// Best effort; a dangling archive object is harmless.
	_ = h.archive.DeleteObject(c.Request.Context(), storage.ArchiveKey(id))

	c.Status(http.StatusNoContent)
}

// AssignFacePerson sets or clears the person assignment of a face.
func (h *ImageHandler) AssignFacePerson(c *gin.Context) {
	faceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid face id"})
		return
	}

	var req dto.UpdateFacePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.PersonID != nil {
		person, err := h.db.GetPerson(c.Request.Context(), *req.PersonID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if person == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
			return
		}
	}

	updated, err := h.db.UpdateFacePerson(c.Request.Context(), faceID, req.PersonID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !updated {
		c.JSON(http.StatusNotFound, gin.H{"error": "face not found"})
		return
	}

	c.Status(http.StatusNoContent)
}
