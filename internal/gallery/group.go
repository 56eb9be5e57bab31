package gallery

import (
	"github.com/google/uuid"

	"github.com/jlahut/chirp/internal/models"
)

// groupRows collapses denormalized (image, face, match) rows into nested
// per-image entries. A single linear pass keyed by first-seen image id, so
// the page's row order is preserved exactly. Images with no faces arrive as
// a single row with nil face fields and keep an empty face slice.
func groupRows(rows []FlatRow) []ImageEntry {
	entries := make([]ImageEntry, 0, len(rows))
	imageIdx := make(map[uuid.UUID]int)
	faceIdx := make(map[uuid.UUID]map[uuid.UUID]int)

	for _, row := range rows {
		i, ok := imageIdx[row.ImageID]
		if !ok {
			i = len(entries)
			imageIdx[row.ImageID] = i
			entries = append(entries, ImageEntry{
				ID:        row.ImageID,
				Filename:  row.Filename,
				SourceURL: row.SourceURL,
				Width:     row.Width,
				Height:    row.Height,
				CreatedAt: row.CreatedAt,
				Faces:     []FaceEntry{},
			})
			faceIdx[row.ImageID] = make(map[uuid.UUID]int)
		}

		if row.FaceID == nil {
			continue
		}

		fi, ok := faceIdx[row.ImageID][*row.FaceID]
		if !ok {
			fi = len(entries[i].Faces)
			faceIdx[row.ImageID][*row.FaceID] = fi
			entries[i].Faces = append(entries[i].Faces, FaceEntry{
				ID: *row.FaceID,
				Location: models.FaceLocation{
					Top:    derefInt(row.LocationTop),
					Right:  derefInt(row.LocationRight),
					Bottom: derefInt(row.LocationBottom),
					Left:   derefInt(row.LocationLeft),
				},
				PersonID: row.AssignedPersonID,
				Matches:  []PersonMatch{},
			})
		}

		if row.MatchedPersonID != nil {
			match := PersonMatch{PersonID: *row.MatchedPersonID}
			if row.MatchedPersonName != nil {
				match.PersonName = *row.MatchedPersonName
			}
			if row.MatchDistance != nil {
				match.Distance = *row.MatchDistance
			}
			entries[i].Faces[fi].Matches = append(entries[i].Faces[fi].Matches, match)
		}
	}

	return entries
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
