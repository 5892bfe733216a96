package model

import (
	"github.com/google/uuid"
)

// QuestionType selects how a submitted answer set is scored.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
)

// AnswerOption is one option of a question as authored.
type AnswerOption struct {
	Title     string `json:"title"`
	IsCorrect bool   `json:"isCorrect"`
}

// Question is a row of the test library.
type Question struct {
	ID        uuid.UUID      `json:"id"`
	TestID    uuid.UUID      `json:"test_id"`
	Title     string         `json:"title"`
	Type      QuestionType   `json:"type"`
	Answers   []AnswerOption `json:"answers"`
	MaxScore  int            `json:"max_score"`
	TimeLimit int            `json:"time_limit"` // seconds
	OrderNum  int            `json:"order_num"`
}

// ExamQuestion is the immutable snapshot of a question taken when a
// session is created.
type ExamQuestion struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Type      QuestionType   `json:"type"`
	Answers   []AnswerOption `json:"answers"`
	MaxScore  int            `json:"maxScore"`
	TimeLimit int            `json:"timeLimit"`
}

// NewExamQuestion copies q so later edits to the test do not leak in.
func NewExamQuestion(q Question) ExamQuestion {
	answers := make([]AnswerOption, len(q.Answers))
	copy(answers, q.Answers)
	return ExamQuestion{
		ID:        q.ID.String(),
		Title:     q.Title,
		Type:      q.Type,
		Answers:   answers,
		MaxScore:  q.MaxScore,
		TimeLimit: q.TimeLimit,
	}
}

// CorrectTitles returns the titles of the options marked correct.
func (q *ExamQuestion) CorrectTitles() []string {
	var titles []string
	for _, a := range q.Answers {
		if a.IsCorrect {
			titles = append(titles, a.Title)
		}
	}
	return titles
}

// RedactedAnswers strips correctness markers from the options.
func (q *ExamQuestion) RedactedAnswers() []StudentAnswer {
	out := make([]StudentAnswer, len(q.Answers))
	for i, a := range q.Answers {
		out[i] = StudentAnswer{Title: a.Title}
	}
	return out
}
