package gallery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSource answers RowQueries against Postgres. All ranking, filtering and
// the keyset predicate run inside a single query; person-mode ranking
// attributes are aggregated once over the eligible set and joined back in
// before the cursor filter, never recomputed per row.
type PGSource struct {
	pool *pgxpool.Pool
}

func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

// matchLateral is the per-face top-N person match subquery. It scans every
// tagged reference face grouped by person, keeping persons whose closest
// reference is under the threshold. A face's own row is a valid reference
// for its assigned person, which yields the distance-zero self match.
const matchLateral = `
	SELECT per.id AS person_id, per.name AS person_name,
	       MIN(f.encoding <=> ref.encoding)::float8 AS distance
	FROM detected_face ref
	JOIN person per ON per.id = ref.person_id
	GROUP BY per.id, per.name
	HAVING MIN(f.encoding <=> ref.encoding) < %s
	ORDER BY distance ASC
	LIMIT %s`

const newestPageQuery = `
WITH eligible AS (
	SELECT i.id, i.filename, i.source_url, i.width, i.height, i.created_at
	FROM image i
	WHERE i.source_url IS NOT NULL
	  AND ($1::text IS NULL OR i.filename ILIKE '%%' || $1 || '%%' OR i.source_url ILIKE '%%' || $1 || '%%')
),
page AS (
	SELECT e.*,
	       row_number() OVER (ORDER BY e.created_at DESC, e.id ASC) AS rn
	FROM eligible e
	WHERE $2::timestamptz IS NULL
	   OR e.created_at < $2
	   OR (e.created_at = $2 AND e.id >= $3::uuid)
	ORDER BY e.created_at DESC, e.id ASC
	LIMIT $4
)
SELECT p.id, p.filename, p.source_url, p.width, p.height, p.created_at,
       NULL::boolean AS sort_is_tagged, NULL::float8 AS sort_min_distance,
       f.id, f.location_top, f.location_right, f.location_bottom, f.location_left, f.person_id,
       m.person_id, m.person_name, m.distance
FROM page p
LEFT JOIN detected_face f ON f.image_id = p.id
LEFT JOIN LATERAL (` + "%s" + `
) m ON f.id IS NOT NULL
ORDER BY p.rn ASC, f.id ASC, m.distance ASC NULLS LAST`

const personPageQuery = `
WITH eligible AS (
	SELECT i.id, i.filename, i.source_url, i.width, i.height, i.created_at
	FROM image i
	WHERE i.source_url IS NOT NULL
	  AND ($1::text IS NULL OR i.filename ILIKE '%%' || $1 || '%%' OR i.source_url ILIKE '%%' || $1 || '%%')
),
ranked AS (
	SELECT e.id,
	       COALESCE(BOOL_OR(f.person_id = $2::uuid), false) AS is_tagged,
	       MIN(d.distance) FILTER (WHERE d.distance < $3) AS min_distance
	FROM eligible e
	LEFT JOIN detected_face f ON f.image_id = e.id
	LEFT JOIN LATERAL (
		SELECT MIN(f.encoding <=> ref.encoding)::float8 AS distance
		FROM detected_face ref
		WHERE ref.person_id = $2::uuid
	) d ON f.id IS NOT NULL
	GROUP BY e.id
),
page AS (
	SELECT e.*, r.is_tagged, r.min_distance,
	       row_number() OVER (ORDER BY r.is_tagged DESC, r.min_distance ASC NULLS LAST, e.id ASC) AS rn
	FROM eligible e
	JOIN ranked r ON r.id = e.id
	WHERE $4::boolean IS NULL
	   OR (NOT r.is_tagged AND $4)
	   OR (r.is_tagged = $4 AND (
	          ($5::float8 IS NOT NULL AND (r.min_distance IS NULL OR r.min_distance > $5))
	       OR ((($5::float8 IS NULL AND r.min_distance IS NULL) OR r.min_distance = $5) AND e.id >= $6::uuid)
	   ))
	ORDER BY r.is_tagged DESC, r.min_distance ASC NULLS LAST, e.id ASC
	LIMIT $7
)
SELECT p.id, p.filename, p.source_url, p.width, p.height, p.created_at,
       p.is_tagged, p.min_distance,
       f.id, f.location_top, f.location_right, f.location_bottom, f.location_left, f.person_id,
       m.person_id, m.person_name, m.distance
FROM page p
LEFT JOIN detected_face f ON f.image_id = p.id
LEFT JOIN LATERAL (` + "%s" + `
) m ON f.id IS NOT NULL
ORDER BY p.rn ASC, f.id ASC, m.distance ASC NULLS LAST`

const imageQuery = `
SELECT i.id, i.filename, i.source_url, i.width, i.height, i.created_at,
       NULL::boolean AS sort_is_tagged, NULL::float8 AS sort_min_distance,
       f.id, f.location_top, f.location_right, f.location_bottom, f.location_left, f.person_id,
       m.person_id, m.person_name, m.distance
FROM image i
LEFT JOIN detected_face f ON f.image_id = i.id
LEFT JOIN LATERAL (` + "%s" + `
) m ON f.id IS NOT NULL
WHERE i.id = $1
ORDER BY f.id ASC, m.distance ASC NULLS LAST`

func (s *PGSource) FetchPageRows(ctx context.Context, q RowQuery) ([]FlatRow, error) {
	var search *string
	if q.Search != "" {
		search = &q.Search
	}

	var query string
	var args []interface{}

	if q.SortPersonID != nil {
		var cursorTagged *bool
		var cursorDistance *float64
		cursorID := uuid.Nil
		if q.After != nil {
			pc, ok := q.After.(PersonCursor)
			if !ok {
				return nil, fmt.Errorf("%w: cursor mode does not match person sort", ErrInvalidCursor)
			}
			cursorTagged = &pc.IsTagged
			cursorDistance = pc.MinDistance
			cursorID = pc.ID
		}
		query = fmt.Sprintf(personPageQuery, fmt.Sprintf(matchLateral, "$3", "$8"))
		args = []interface{}{search, *q.SortPersonID, q.Threshold, cursorTagged, cursorDistance, cursorID, q.Limit + 1, q.TopN}
	} else {
		var cursorCreatedAt *time.Time
		cursorID := uuid.Nil
		if q.After != nil {
			nc, ok := q.After.(NewestCursor)
			if !ok {
				return nil, fmt.Errorf("%w: cursor mode does not match newest sort", ErrInvalidCursor)
			}
			cursorCreatedAt = &nc.CreatedAt
			cursorID = nc.ID
		}
		query = fmt.Sprintf(newestPageQuery, fmt.Sprintf(matchLateral, "$5", "$6"))
		args = []interface{}{search, cursorCreatedAt, cursorID, q.Limit + 1, q.Threshold, q.TopN}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gallery page: %w", err)
	}
	defer rows.Close()

	var out []FlatRow
	for rows.Next() {
		var r FlatRow
		if err := rows.Scan(&r.ImageID, &r.Filename, &r.SourceURL, &r.Width, &r.Height, &r.CreatedAt,
			&r.SortIsTagged, &r.SortMinDistance,
			&r.FaceID, &r.LocationTop, &r.LocationRight, &r.LocationBottom, &r.LocationLeft, &r.AssignedPersonID,
			&r.MatchedPersonID, &r.MatchedPersonName, &r.MatchDistance); err != nil {
			return nil, fmt.Errorf("scan gallery row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read gallery rows: %w", err)
	}
	return out, nil
}

func (s *PGSource) FetchImageRows(ctx context.Context, id uuid.UUID, threshold float64, topN int) ([]FlatRow, error) {
	query := fmt.Sprintf(imageQuery, fmt.Sprintf(matchLateral, "$2", "$3"))

	rows, err := s.pool.Query(ctx, query, id, threshold, topN)
	if err != nil {
		return nil, fmt.Errorf("query image: %w", err)
	}
	defer rows.Close()

	var out []FlatRow
	for rows.Next() {
		var r FlatRow
		var sourceURL *string
		if err := rows.Scan(&r.ImageID, &r.Filename, &sourceURL, &r.Width, &r.Height, &r.CreatedAt,
			&r.SortIsTagged, &r.SortMinDistance,
			&r.FaceID, &r.LocationTop, &r.LocationRight, &r.LocationBottom, &r.LocationLeft, &r.AssignedPersonID,
			&r.MatchedPersonID, &r.MatchedPersonName, &r.MatchDistance); err != nil {
			return nil, fmt.Errorf("scan image row: %w", err)
		}
		if sourceURL != nil {
			r.SourceURL = *sourceURL
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read image rows: %w", err)
	}
	return out, nil
}
