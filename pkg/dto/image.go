package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/jlahut/chirp/internal/gallery"
	"github.com/jlahut/chirp/internal/models"
)

type GetImagesResponse struct {
	Images     []ImageResponse `json:"images"`
	NextCursor *string         `json:"next_cursor,omitempty"`
}

type ImageResponse struct {
	ID        uuid.UUID      `json:"id"`
	Filename  string         `json:"filename"`
	SourceURL string         `json:"source_url"`
	Width     *int           `json:"width,omitempty"`
	Height    *int           `json:"height,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Faces     []FaceResponse `json:"faces"`
}

type FaceResponse struct {
	ID       uuid.UUID             `json:"id"`
	Location models.FaceLocation   `json:"location"`
	PersonID *uuid.UUID            `json:"person_id,omitempty"`
	Matches  []PersonMatchResponse `json:"matches"`
}

type PersonMatchResponse struct {
	PersonID   uuid.UUID `json:"person_id"`
	PersonName string    `json:"person_name"`
	Distance   float64   `json:"distance"`
}

func FromImageEntry(e gallery.ImageEntry) ImageResponse {
	faces := make([]FaceResponse, 0, len(e.Faces))
	for _, f := range e.Faces {
		matches := make([]PersonMatchResponse, 0, len(f.Matches))
		for _, m := range f.Matches {
			matches = append(matches, PersonMatchResponse{
				PersonID:   m.PersonID,
				PersonName: m.PersonName,
				Distance:   m.Distance,
			})
		}
		faces = append(faces, FaceResponse{
			ID:       f.ID,
			Location: f.Location,
			PersonID: f.PersonID,
			Matches:  matches,
		})
	}
	return ImageResponse{
		ID:        e.ID,
		Filename:  e.Filename,
		SourceURL: e.SourceURL,
		Width:     e.Width,
		Height:    e.Height,
		CreatedAt: e.CreatedAt,
		Faces:     faces,
	}
}

func FromPage(p *gallery.Page) GetImagesResponse {
	images := make([]ImageResponse, 0, len(p.Images))
	for _, e := range p.Images {
		images = append(images, FromImageEntry(e))
	}
	resp := GetImagesResponse{Images: images}
	if p.NextCursor != "" {
		cursor := p.NextCursor
		resp.NextCursor = &cursor
	}
	return resp
}

type CreateImageRequest struct {
	URL string `json:"url" binding:"required,url"`
}

type UpdateFacePersonRequest struct {
	// PersonID is null to clear the assignment.
	PersonID *uuid.UUID `json:"person_id"`
}
