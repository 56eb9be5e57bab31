package gallery

import (
	"bytes"
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlahut/chirp/internal/models"
)

// memSource is an in-memory RowSource implementing the same ordering,
// filtering and keyset semantics as the Postgres query, for engine tests.

type memFace struct {
	id       uuid.UUID
	encoding []float32
	loc      models.FaceLocation
	personID *uuid.UUID
}

type memImage struct {
	id        uuid.UUID
	filename  string
	sourceURL *string
	createdAt time.Time
	faces     []memFace
}

type memSource struct {
	images  []memImage
	persons map[uuid.UUID]string
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func uuidLess(a, b uuid.UUID) bool { return bytes.Compare(a[:], b[:]) < 0 }

type memRank struct {
	isTagged    bool
	minDistance *float64
}

func (m *memSource) refEncodings(person uuid.UUID) [][]float32 {
	var refs [][]float32
	for _, im := range m.images {
		for _, f := range im.faces {
			if f.personID != nil && *f.personID == person {
				refs = append(refs, f.encoding)
			}
		}
	}
	return refs
}

func (m *memSource) rank(img memImage, person uuid.UUID, threshold float64) memRank {
	refs := m.refEncodings(person)
	var r memRank
	for _, f := range img.faces {
		if f.personID != nil && *f.personID == person {
			r.isTagged = true
		}
		for _, ref := range refs {
			d := cosineDistance(f.encoding, ref)
			if d < threshold && (r.minDistance == nil || d < *r.minDistance) {
				v := d
				r.minDistance = &v
			}
		}
	}
	return r
}

type memMatch struct {
	personID uuid.UUID
	name     string
	distance float64
}

func (m *memSource) faceMatches(f memFace, threshold float64, topN int) []memMatch {
	var out []memMatch
	for pid, name := range m.persons {
		refs := m.refEncodings(pid)
		best := math.Inf(1)
		for _, ref := range refs {
			if d := cosineDistance(f.encoding, ref); d < best {
				best = d
			}
		}
		if best < threshold {
			out = append(out, memMatch{personID: pid, name: name, distance: best})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].distance < out[j].distance })
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// atOrAfterPerson reports whether an image's person-mode sort key sorts at
// or after the cursor position (is_tagged DESC, min_distance ASC NULLS
// LAST, id ASC). The cursor names the first row of the next page, so the
// comparison is inclusive on the id tie-break.
func atOrAfterPerson(r memRank, id uuid.UUID, c PersonCursor) bool {
	if r.isTagged != c.IsTagged {
		return c.IsTagged && !r.isTagged
	}
	if c.MinDistance == nil {
		// Cursor row had no qualifying distance; only null-distance rows
		// at or past its id qualify.
		return r.minDistance == nil && !uuidLess(id, c.ID)
	}
	if r.minDistance == nil {
		return true
	}
	if *r.minDistance != *c.MinDistance {
		return *r.minDistance > *c.MinDistance
	}
	return !uuidLess(id, c.ID)
}

func (m *memSource) FetchPageRows(_ context.Context, q RowQuery) ([]FlatRow, error) {
	var eligible []memImage
	for _, img := range m.images {
		if img.sourceURL == nil {
			continue
		}
		if q.Search != "" {
			needle := strings.ToLower(q.Search)
			if !strings.Contains(strings.ToLower(img.filename), needle) &&
				!strings.Contains(strings.ToLower(*img.sourceURL), needle) {
				continue
			}
		}
		eligible = append(eligible, img)
	}

	ranks := make(map[uuid.UUID]memRank)
	if q.SortPersonID != nil {
		for _, img := range eligible {
			ranks[img.id] = m.rank(img, *q.SortPersonID, q.Threshold)
		}
		sort.SliceStable(eligible, func(i, j int) bool {
			ri, rj := ranks[eligible[i].id], ranks[eligible[j].id]
			if ri.isTagged != rj.isTagged {
				return ri.isTagged
			}
			di, dj := ri.minDistance, rj.minDistance
			switch {
			case di != nil && dj == nil:
				return true
			case di == nil && dj != nil:
				return false
			case di != nil && dj != nil && *di != *dj:
				return *di < *dj
			}
			return uuidLess(eligible[i].id, eligible[j].id)
		})
	} else {
		sort.SliceStable(eligible, func(i, j int) bool {
			if !eligible[i].createdAt.Equal(eligible[j].createdAt) {
				return eligible[i].createdAt.After(eligible[j].createdAt)
			}
			return uuidLess(eligible[i].id, eligible[j].id)
		})
	}

	if q.After != nil {
		var kept []memImage
		for _, img := range eligible {
			switch c := q.After.(type) {
			case NewestCursor:
				if img.createdAt.Before(c.CreatedAt) ||
					(img.createdAt.Equal(c.CreatedAt) && !uuidLess(img.id, c.ID)) {
					kept = append(kept, img)
				}
			case PersonCursor:
				if atOrAfterPerson(ranks[img.id], img.id, c) {
					kept = append(kept, img)
				}
			}
		}
		eligible = kept
	}

	if len(eligible) > q.Limit+1 {
		eligible = eligible[:q.Limit+1]
	}

	var rows []FlatRow
	for _, img := range eligible {
		rk := ranks[img.id]
		rows = append(rows, m.flatten(img, q.SortPersonID != nil, rk, q.Threshold, q.TopN)...)
	}
	return rows, nil
}

func (m *memSource) FetchImageRows(_ context.Context, id uuid.UUID, threshold float64, topN int) ([]FlatRow, error) {
	for _, img := range m.images {
		if img.id == id {
			return m.flatten(img, false, memRank{}, threshold, topN), nil
		}
	}
	return nil, nil
}

func (m *memSource) flatten(img memImage, personMode bool, rk memRank, threshold float64, topN int) []FlatRow {
	base := FlatRow{
		ImageID:   img.id,
		Filename:  img.filename,
		CreatedAt: img.createdAt,
	}
	if img.sourceURL != nil {
		base.SourceURL = *img.sourceURL
	}
	if personMode {
		tagged := rk.isTagged
		base.SortIsTagged = &tagged
		base.SortMinDistance = rk.minDistance
	}

	if len(img.faces) == 0 {
		return []FlatRow{base}
	}

	faces := append([]memFace(nil), img.faces...)
	sort.Slice(faces, func(i, j int) bool { return uuidLess(faces[i].id, faces[j].id) })

	var rows []FlatRow
	for _, f := range faces {
		f := f
		faceRow := base
		faceRow.FaceID = &f.id
		top, right, bottom, left := f.loc.Top, f.loc.Right, f.loc.Bottom, f.loc.Left
		faceRow.LocationTop, faceRow.LocationRight = &top, &right
		faceRow.LocationBottom, faceRow.LocationLeft = &bottom, &left
		faceRow.AssignedPersonID = f.personID

		matches := m.faceMatches(f, threshold, topN)
		if len(matches) == 0 {
			rows = append(rows, faceRow)
			continue
		}
		for _, match := range matches {
			match := match
			row := faceRow
			row.MatchedPersonID = &match.personID
			row.MatchedPersonName = &match.name
			row.MatchDistance = &match.distance
			rows = append(rows, row)
		}
	}
	return rows
}

// --- fixtures ---

func strPtr(s string) *string { return &s }

// vecAt returns a unit-ish 2-d vector at cosine distance d from [1, 0].
func vecAt(d float64) []float32 {
	c := 1 - d
	s := math.Sqrt(1 - c*c)
	return []float32{float32(c), float32(s)}
}

func newImg(name string, at time.Time, faces ...memFace) memImage {
	return memImage{
		id:        uuid.New(),
		filename:  name,
		sourceURL: strPtr("https://img.example.com/" + name),
		createdAt: at,
		faces:     faces,
	}
}

func newFace(encoding []float32, personID *uuid.UUID) memFace {
	return memFace{
		id:       uuid.New(),
		encoding: encoding,
		loc:      models.FaceLocation{Top: 10, Right: 110, Bottom: 110, Left: 10},
		personID: personID,
	}
}

func fetchAll(t *testing.T, e *Engine, req PageRequest) []ImageEntry {
	t.Helper()
	var all []ImageEntry
	for {
		page, err := e.Page(context.Background(), req)
		require.NoError(t, err)
		all = append(all, page.Images...)
		if page.NextCursor == "" {
			return all
		}
		req.Cursor = page.NextCursor
	}
}

// --- tests ---

func TestNewestModePaging(t *testing.T) {
	src := &memSource{persons: map[uuid.UUID]string{}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		src.images = append(src.images, newImg("img", base.Add(time.Duration(i)*time.Minute)))
	}
	e := NewEngine(src, 0.5, 3)

	page1, err := e.Page(context.Background(), PageRequest{Limit: 40})
	require.NoError(t, err)
	require.Len(t, page1.Images, 40)
	require.NotEmpty(t, page1.NextCursor)

	page2, err := e.Page(context.Background(), PageRequest{Limit: 40, Cursor: page1.NextCursor})
	require.NoError(t, err)
	require.Len(t, page2.Images, 40)
	require.NotEmpty(t, page2.NextCursor)

	page3, err := e.Page(context.Background(), PageRequest{Limit: 40, Cursor: page2.NextCursor})
	require.NoError(t, err)
	require.Len(t, page3.Images, 20)
	assert.Empty(t, page3.NextCursor)

	// Newest first across the concatenation.
	var all []ImageEntry
	all = append(all, page1.Images...)
	all = append(all, page2.Images...)
	all = append(all, page3.Images...)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt))
	}
}

func TestTotalOrderingNoDupesNoGaps(t *testing.T) {
	src := &memSource{persons: map[uuid.UUID]string{}}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Bulk import: identical timestamps force the id tie-break.
	for i := 0; i < 25; i++ {
		src.images = append(src.images, newImg("bulk", at))
	}
	e := NewEngine(src, 0.5, 3)

	full := fetchAll(t, e, PageRequest{Limit: 100})
	paged := fetchAll(t, e, PageRequest{Limit: 7})

	require.Len(t, paged, 25)
	seen := make(map[uuid.UUID]bool)
	for i := range paged {
		require.False(t, seen[paged[i].ID], "duplicate image across pages")
		seen[paged[i].ID] = true
		assert.Equal(t, full[i].ID, paged[i].ID, "page concatenation must match full fetch")
	}
}

func TestPersonRankedOrdering(t *testing.T) {
	personID := uuid.New()
	src := &memSource{persons: map[uuid.UUID]string{personID: "John"}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Three images with a face manually tagged to the person. All tagged
	// faces share one encoding so the reference set stays a single point.
	taggedImages := []memImage{newImg("tagged-ref", base, newFace(vecAt(0), &personID))}
	for i := 0; i < 2; i++ {
		taggedImages = append(taggedImages, newImg("tagged", base, newFace(vecAt(0), &personID)))
	}

	// Five images with an untagged face within 0.3 of the reference.
	distances := []float64{0.05, 0.1, 0.15, 0.2, 0.25}
	var matched []memImage
	for _, d := range distances {
		matched = append(matched, newImg("matched", base, newFace(vecAt(d), nil)))
	}

	// Remaining images with no qualifying faces.
	var rest []memImage
	for i := 0; i < 4; i++ {
		rest = append(rest, newImg("rest", base))
	}

	src.images = append(src.images, rest...)
	src.images = append(src.images, matched...)
	src.images = append(src.images, taggedImages...)

	e := NewEngine(src, 0.5, 3)
	pid := personID
	all := fetchAll(t, e, PageRequest{Limit: 40, SortPersonID: &pid})
	require.Len(t, all, 12)

	// Tagged images first, id order among themselves.
	taggedIDs := make([]uuid.UUID, len(taggedImages))
	for i, img := range taggedImages {
		taggedIDs[i] = img.id
	}
	sort.Slice(taggedIDs, func(i, j int) bool { return uuidLess(taggedIDs[i], taggedIDs[j]) })
	for i, id := range taggedIDs {
		assert.Equal(t, id, all[i].ID)
	}

	// Then the matched images by ascending distance.
	for i, img := range matched {
		assert.Equal(t, img.id, all[3+i].ID)
	}

	// Everything else last, by id.
	restIDs := make([]uuid.UUID, len(rest))
	for i, img := range rest {
		restIDs[i] = img.id
	}
	sort.Slice(restIDs, func(i, j int) bool { return uuidLess(restIDs[i], restIDs[j]) })
	for i, id := range restIDs {
		assert.Equal(t, id, all[8+i].ID)
	}
}

func TestPersonModeCursorRoundTrip(t *testing.T) {
	personID := uuid.New()
	src := &memSource{persons: map[uuid.UUID]string{personID: "John"}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	src.images = append(src.images, newImg("ref", base, newFace(vecAt(0), &personID)))
	for i := 0; i < 6; i++ {
		src.images = append(src.images, newImg("near", base, newFace(vecAt(0.05+float64(i)*0.05), nil)))
	}
	for i := 0; i < 9; i++ {
		src.images = append(src.images, newImg("far", base))
	}

	e := NewEngine(src, 0.5, 3)
	pid := personID
	full := fetchAll(t, e, PageRequest{Limit: 100, SortPersonID: &pid})
	paged := fetchAll(t, e, PageRequest{Limit: 4, SortPersonID: &pid})

	require.Equal(t, len(full), len(paged))
	for i := range full {
		assert.Equal(t, full[i].ID, paged[i].ID)
	}
}

func TestSearchFilter(t *testing.T) {
	src := &memSource{persons: map[uuid.UUID]string{}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 98; i++ {
		src.images = append(src.images, newImg("vacation.jpg", base.Add(time.Duration(i)*time.Second)))
	}
	src.images = append(src.images, newImg("Beach-day.jpg", base))
	src.images = append(src.images, newImg("sunset_beach.png", base))

	e := NewEngine(src, 0.5, 3)
	page, err := e.Page(context.Background(), PageRequest{Limit: 40, Search: "beach"})
	require.NoError(t, err)
	assert.Len(t, page.Images, 2)
	assert.Empty(t, page.NextCursor)
}

func TestEmptySearchEqualsAbsent(t *testing.T) {
	src := &memSource{persons: map[uuid.UUID]string{}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		src.images = append(src.images, newImg("img", base.Add(time.Duration(i)*time.Second)))
	}
	e := NewEngine(src, 0.5, 3)

	absent, err := e.Page(context.Background(), PageRequest{Limit: 10})
	require.NoError(t, err)
	blank, err := e.Page(context.Background(), PageRequest{Limit: 10, Search: "  "})
	require.NoError(t, err)
	assert.Equal(t, absent, blank)
}

func TestInvalidLimit(t *testing.T) {
	e := NewEngine(&memSource{persons: map[uuid.UUID]string{}}, 0.5, 3)

	_, err := e.Page(context.Background(), PageRequest{Limit: 0})
	assert.ErrorIs(t, err, ErrInvalidLimit)

	_, err = e.Page(context.Background(), PageRequest{Limit: -3})
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestModeIsolation(t *testing.T) {
	src := &memSource{persons: map[uuid.UUID]string{}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		src.images = append(src.images, newImg("img", base.Add(time.Duration(i)*time.Second)))
	}
	e := NewEngine(src, 0.5, 3)

	page, err := e.Page(context.Background(), PageRequest{Limit: 4})
	require.NoError(t, err)
	require.NotEmpty(t, page.NextCursor)

	// A newest-mode cursor under person mode is rejected, not reinterpreted.
	pid := uuid.New()
	_, err = e.Page(context.Background(), PageRequest{Limit: 4, Cursor: page.NextCursor, SortPersonID: &pid})
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestMonotonicAppend(t *testing.T) {
	src := &memSource{persons: map[uuid.UUID]string{}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		src.images = append(src.images, newImg("img", base.Add(time.Duration(i)*time.Minute)))
	}
	e := NewEngine(src, 0.5, 3)

	page1, err := e.Page(context.Background(), PageRequest{Limit: 20})
	require.NoError(t, err)
	require.NotEmpty(t, page1.NextCursor)

	// A concurrent insert with the newest timestamp must not leak into page 2.
	inserted := newImg("fresh", base.Add(48*time.Hour))
	src.images = append(src.images, inserted)

	page2, err := e.Page(context.Background(), PageRequest{Limit: 20, Cursor: page1.NextCursor})
	require.NoError(t, err)
	for _, img := range page2.Images {
		assert.NotEqual(t, inserted.id, img.ID)
	}

	// A fresh first page sees it at the top.
	fresh, err := e.Page(context.Background(), PageRequest{Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, inserted.id, fresh.Images[0].ID)
}

func TestIdempotence(t *testing.T) {
	personID := uuid.New()
	src := &memSource{persons: map[uuid.UUID]string{personID: "John"}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src.images = append(src.images, newImg("ref", base, newFace(vecAt(0), &personID)))
	for i := 0; i < 12; i++ {
		src.images = append(src.images, newImg("img", base.Add(time.Duration(i)*time.Second), newFace(vecAt(0.2), nil)))
	}
	e := NewEngine(src, 0.5, 3)

	pid := personID
	req := PageRequest{Limit: 5, SortPersonID: &pid}
	first, err := e.Page(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Page(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSelfMatchInvariant(t *testing.T) {
	personID := uuid.New()
	src := &memSource{persons: map[uuid.UUID]string{personID: "John"}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src.images = append(src.images, newImg("portrait", base, newFace(vecAt(0.3), &personID)))
	e := NewEngine(src, 0.5, 3)

	page, err := e.Page(context.Background(), PageRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Images, 1)
	require.Len(t, page.Images[0].Faces, 1)

	face := page.Images[0].Faces[0]
	require.NotEmpty(t, face.Matches)
	assert.Equal(t, personID, face.Matches[0].PersonID)
	assert.Equal(t, float64(0), face.Matches[0].Distance)
}

func TestPersonWithNoReferenceFaces(t *testing.T) {
	personID := uuid.New()
	src := &memSource{persons: map[uuid.UUID]string{personID: "Nobody"}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		src.images = append(src.images, newImg("img", base.Add(time.Duration(i)*time.Second), newFace(vecAt(0.1), nil)))
	}
	e := NewEngine(src, 0.5, 3)

	// Degenerates to an all-untagged, all-null-distance sort by id. Legal, not an error.
	pid := personID
	all := fetchAll(t, e, PageRequest{Limit: 4, SortPersonID: &pid})
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		assert.True(t, uuidLess(all[i-1].ID, all[i].ID))
	}
}

func TestImagesWithoutSourceURLExcluded(t *testing.T) {
	src := &memSource{persons: map[uuid.UUID]string{}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src.images = append(src.images, newImg("ready", base))
	pending := newImg("pending", base.Add(time.Hour))
	pending.sourceURL = nil
	src.images = append(src.images, pending)

	e := NewEngine(src, 0.5, 3)
	page, err := e.Page(context.Background(), PageRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Images, 1)
	assert.Equal(t, "ready", page.Images[0].Filename)
}

func TestSingleImageLookup(t *testing.T) {
	src := &memSource{persons: map[uuid.UUID]string{}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	img := newImg("one", base, newFace(vecAt(0.2), nil))
	src.images = append(src.images, img)
	e := NewEngine(src, 0.5, 3)

	got, err := e.Image(context.Background(), img.id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, img.id, got.ID)
	assert.Len(t, got.Faces, 1)

	missing, err := e.Image(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
