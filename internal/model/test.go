package model

import (
	"time"

	"github.com/google/uuid"
)

// Test is the library record a session is run from.
type Test struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Subject   string    `json:"subject"`
	OwnerID   int       `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateExamRequest is the payload for starting a live session from a test.
type CreateExamRequest struct {
	TestID string `json:"test_id" binding:"required,uuid"`
}

// CreateExamResponse is returned to the author after creation.
type CreateExamResponse struct {
	ExamCode    string `json:"exam_code"`
	AuthorToken string `json:"author_token"`
}
