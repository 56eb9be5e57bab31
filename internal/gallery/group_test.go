package gallery

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatRow(imageID uuid.UUID, name string, at time.Time) FlatRow {
	return FlatRow{ImageID: imageID, Filename: name, SourceURL: "https://x/" + name, CreatedAt: at}
}

func withFace(r FlatRow, faceID uuid.UUID) FlatRow {
	top, right, bottom, left := 1, 2, 3, 4
	r.FaceID = &faceID
	r.LocationTop, r.LocationRight, r.LocationBottom, r.LocationLeft = &top, &right, &bottom, &left
	return r
}

func withMatch(r FlatRow, personID uuid.UUID, name string, distance float64) FlatRow {
	r.MatchedPersonID = &personID
	r.MatchedPersonName = &name
	r.MatchDistance = &distance
	return r
}

func TestGroupRowsPreservesOrderAndNests(t *testing.T) {
	at := time.Now().UTC()
	imgA, imgB := uuid.New(), uuid.New()
	faceA1, faceA2 := uuid.New(), uuid.New()
	personX, personY := uuid.New(), uuid.New()

	rows := []FlatRow{
		withMatch(withFace(flatRow(imgA, "a.jpg", at), faceA1), personX, "X", 0.1),
		withMatch(withFace(flatRow(imgA, "a.jpg", at), faceA1), personY, "Y", 0.3),
		withFace(flatRow(imgA, "a.jpg", at), faceA2),
		flatRow(imgB, "b.jpg", at),
	}

	entries := groupRows(rows)
	require.Len(t, entries, 2)

	a := entries[0]
	assert.Equal(t, imgA, a.ID)
	require.Len(t, a.Faces, 2)
	assert.Equal(t, faceA1, a.Faces[0].ID)
	require.Len(t, a.Faces[0].Matches, 2)
	assert.Equal(t, "X", a.Faces[0].Matches[0].PersonName)
	assert.Equal(t, 0.1, a.Faces[0].Matches[0].Distance)
	assert.Equal(t, "Y", a.Faces[0].Matches[1].PersonName)
	assert.Empty(t, a.Faces[1].Matches)

	// Faceless image keeps its slot with an empty face slice, never dropped.
	b := entries[1]
	assert.Equal(t, imgB, b.ID)
	assert.NotNil(t, b.Faces)
	assert.Empty(t, b.Faces)
}

func TestGroupRowsFirstOccurrenceOrder(t *testing.T) {
	at := time.Now().UTC()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	var rows []FlatRow
	for _, id := range ids {
		f := uuid.New()
		rows = append(rows, withFace(flatRow(id, "x", at), f))
		rows = append(rows, withMatch(withFace(flatRow(id, "x", at), f), uuid.New(), "p", 0.2))
	}

	entries := groupRows(rows)
	require.Len(t, entries, 3)
	for i, id := range ids {
		assert.Equal(t, id, entries[i].ID)
	}
}

func TestGroupRowsEmpty(t *testing.T) {
	assert.Empty(t, groupRows(nil))
}
