package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/jlahut/chirp/internal/models"
)

type CreatePersonRequest struct {
	Name string `json:"name" binding:"required"`
}

type PersonResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type PersonListResponse struct {
	Persons []PersonResponse `json:"persons"`
	Total   int              `json:"total"`
}

func FromPerson(p models.Person) PersonResponse {
	return PersonResponse{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt}
}
