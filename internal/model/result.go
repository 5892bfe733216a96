package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionScore is how one answered question was scored for a student.
type QuestionScore struct {
	QuestionID string          `json:"questionId"`
	Answers    []StudentAnswer `json:"answers"`
	Correct    bool            `json:"correct"`
	Score      int             `json:"score"`
}

// StudentScore is one row of the ranked results table.
type StudentScore struct {
	Rank      int             `json:"rank"`
	StudentID string          `json:"studentId"`
	Name      string          `json:"name"`
	Score     int             `json:"score"`
	Correct   int             `json:"correct"`
	Answered  int             `json:"answered"`
	Questions []QuestionScore `json:"questions"`
}

// ExamResults is the aggregated outcome of a session.
type ExamResults struct {
	ExamCode       string         `json:"examCode"`
	TestID         uuid.UUID      `json:"testId"`
	TotalQuestions int            `json:"totalQuestions"`
	MaxScore       int            `json:"maxScore"`
	Students       []StudentScore `json:"students"`
}

// ExamRecord is the durable hand-off of a finished session.
type ExamRecord struct {
	ExamCode   string         `json:"exam_code"`
	TestID     uuid.UUID      `json:"test_id"`
	OwnerID    int            `json:"owner_id"`
	Questions  []ExamQuestion `json:"questions"`
	Results    *ExamResults   `json:"results"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time      `json:"finished_at"`
}
