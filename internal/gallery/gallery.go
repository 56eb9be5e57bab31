// Package gallery implements the paginated ranked image query that powers
// the photo browser. Pages are fetched with keyset (cursor) pagination: the
// sort-key values of the first row beyond a page are handed back as an
// opaque token, and the next page resumes at exactly that row. Two sort
// modes exist: newest-first (created_at DESC, id ASC) and person-ranked
// (tagged-for-person DESC, min match distance ASC NULLS LAST, id ASC).
package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jlahut/chirp/internal/models"
)

var (
	// ErrInvalidLimit is returned when the requested page size is not positive.
	ErrInvalidLimit = errors.New("limit must be positive")
	// ErrInvalidCursor is returned when a cursor token is malformed or its
	// field set does not match the requested sort mode.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// PageRequest describes one page fetch.
type PageRequest struct {
	Limit int
	// Cursor is the opaque token from a previous page, empty for the first page.
	Cursor string
	// SortPersonID switches the sort mode to person-ranked when set.
	SortPersonID *uuid.UUID
	// Search filters by filename or source URL, case-insensitive substring.
	Search string
}

type Page struct {
	Images     []ImageEntry
	NextCursor string // empty when there are no more pages
}

type ImageEntry struct {
	ID        uuid.UUID
	Filename  string
	SourceURL string
	Width     *int
	Height    *int
	CreatedAt time.Time
	Faces     []FaceEntry
}

type FaceEntry struct {
	ID       uuid.UUID
	Location models.FaceLocation
	// PersonID is the manually assigned person, nil when untagged.
	PersonID *uuid.UUID
	Matches  []PersonMatch
}

type PersonMatch struct {
	PersonID   uuid.UUID
	PersonName string
	Distance   float64
}

// FlatRow is one denormalized (image, face, match) row from the backing
// store. Face and match fields are nil for images without faces and faces
// without qualifying matches respectively.
type FlatRow struct {
	ImageID   uuid.UUID
	Filename  string
	SourceURL string
	Width     *int
	Height    *int
	CreatedAt time.Time

	// Sort attributes of the image under person-ranked mode, nil otherwise.
	SortIsTagged    *bool
	SortMinDistance *float64

	FaceID           *uuid.UUID
	LocationTop      *int
	LocationRight    *int
	LocationBottom   *int
	LocationLeft     *int
	AssignedPersonID *uuid.UUID

	MatchedPersonID   *uuid.UUID
	MatchedPersonName *string
	MatchDistance     *float64
}

// RowQuery is the request a RowSource must answer: up to Limit+1 distinct
// images at or after the After position, ordered by the active sort mode,
// flattened to one row per (image, face, match) with matches restricted to
// Threshold and TopN.
type RowQuery struct {
	Limit        int
	Search       string
	SortPersonID *uuid.UUID
	After        Cursor // nil for the first page
	Threshold    float64
	TopN         int
}

// RowSource is the backing store read interface the engine runs against.
type RowSource interface {
	FetchPageRows(ctx context.Context, q RowQuery) ([]FlatRow, error)
	FetchImageRows(ctx context.Context, id uuid.UUID, threshold float64, topN int) ([]FlatRow, error)
}

// Engine is the stateless read-path for gallery pages. Safe for concurrent
// use; every call is an independent query against the current store state.
type Engine struct {
	src       RowSource
	threshold float64
	topN      int
}

func NewEngine(src RowSource, matchThreshold float64, matchTopN int) *Engine {
	return &Engine{src: src, threshold: matchThreshold, topN: matchTopN}
}

type sortKey struct {
	createdAt   time.Time
	isTagged    *bool
	minDistance *float64
}

// Page fetches one page of images with nested faces and person matches.
func (e *Engine) Page(ctx context.Context, req PageRequest) (*Page, error) {
	if req.Limit <= 0 {
		return nil, ErrInvalidLimit
	}

	mode := ModeNewest
	if req.SortPersonID != nil {
		mode = ModePerson
	}

	var after Cursor
	if req.Cursor != "" {
		c, err := DecodeCursor(mode, req.Cursor)
		if err != nil {
			return nil, err
		}
		after = c
	}

	rows, err := e.src.FetchPageRows(ctx, RowQuery{
		Limit:        req.Limit,
		Search:       strings.TrimSpace(req.Search),
		SortPersonID: req.SortPersonID,
		After:        after,
		Threshold:    e.threshold,
		TopN:         e.topN,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch page rows: %w", err)
	}

	// Sort-key values per image at first occurrence, for the next cursor.
	sortKeys := make(map[uuid.UUID]sortKey)
	for _, row := range rows {
		if _, ok := sortKeys[row.ImageID]; !ok {
			sortKeys[row.ImageID] = sortKey{
				createdAt:   row.CreatedAt,
				isTagged:    row.SortIsTagged,
				minDistance: row.SortMinDistance,
			}
		}
	}

	entries := groupRows(rows)

	page := &Page{Images: entries}
	if len(entries) > req.Limit {
		// The extra row proves another page exists; its sort-key values
		// become the continuation point.
		extra := entries[req.Limit]
		key := sortKeys[extra.ID]

		var c Cursor
		if mode == ModePerson {
			tagged := false
			if key.isTagged != nil {
				tagged = *key.isTagged
			}
			c = PersonCursor{IsTagged: tagged, MinDistance: key.minDistance, ID: extra.ID}
		} else {
			c = NewestCursor{CreatedAt: key.createdAt, ID: extra.ID}
		}

		token, err := EncodeCursor(c)
		if err != nil {
			return nil, fmt.Errorf("encode cursor: %w", err)
		}
		page.Images = entries[:req.Limit]
		page.NextCursor = token
	}

	return page, nil
}

// Image returns a single image with its faces and person matches,
// or nil if not found.
func (e *Engine) Image(ctx context.Context, id uuid.UUID) (*ImageEntry, error) {
	rows, err := e.src.FetchImageRows(ctx, id, e.threshold, e.topN)
	if err != nil {
		return nil, fmt.Errorf("fetch image rows: %w", err)
	}
	entries := groupRows(rows)
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}
