package models

import (
	"time"

	"github.com/google/uuid"
)

type Image struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Filename  string    `json:"filename" db:"filename"`
	SourceURL *string   `json:"source_url" db:"source_url"`
	Width     *int      `json:"width" db:"width"`
	Height    *int      `json:"height" db:"height"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FaceLocation is the bounding box of a detected face, in pixel edges.
type FaceLocation struct {
	Top    int `json:"location_top" db:"location_top"`
	Right  int `json:"location_right" db:"location_right"`
	Bottom int `json:"location_bottom" db:"location_bottom"`
	Left   int `json:"location_left" db:"location_left"`
}

type DetectedFace struct {
	ID       uuid.UUID `json:"id" db:"id"`
	ImageID  uuid.UUID `json:"image_id" db:"image_id"`
	Encoding []float32 `json:"encoding" db:"encoding"`
	Location FaceLocation
	// PersonID is the manually assigned person, nil when untagged.
	PersonID  *uuid.UUID `json:"person_id" db:"person_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
