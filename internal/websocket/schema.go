package websocket

import (
	"time"

	"github.com/stemsi/exstem-live/internal/model"
	"github.com/stemsi/exstem-live/internal/response"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAuth       Action = "auth"
	ActionStartExam  Action = "start-exam"
	ActionFinishExam Action = "finish-exam"
	ActionResults    Action = "results"
	ActionAnswer     Action = "answer"
	ActionPing       Action = "ping"
)

// Role is the participant kind declared in the handshake.
type Role string

const (
	RoleAuthor  Role = "author"
	RoleStudent Role = "student"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AuthRequest is the first message on every connection.
type AuthRequest struct {
	Action      Action `json:"action"`
	Role        Role   `json:"role" binding:"required,oneof=author student"`
	ExamCode    string `json:"examCode" binding:"required,numeric,len=6"`
	StudentName string `json:"studentName" binding:"required_if=Role student,omitempty,max=64"`
	AuthorToken string `json:"authorToken" binding:"required_if=Role author"`
}

// AnswerRequest submits answers for the question at QuestionIndex.
type AnswerRequest struct {
	Action        Action                `json:"action"`
	StudentID     string                `json:"studentId" binding:"required"`
	QuestionIndex *int                  `json:"questionIndex" binding:"required,min=0"`
	Answers       []model.StudentAnswer `json:"answers" binding:"max=32,dive"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTestInfo      Event = "test-info"
	EventStudentJoined Event = "student-joined"
	EventExamStarted   Event = "exam-started"
	EventQuestion      Event = "question"
	EventExamFinished  Event = "exam-finished"
	EventResults       Event = "results"
	EventAnswerSaved   Event = "answer-saved"
	EventError         Event = "error"
	EventPong          Event = "pong"
)

// Message is the envelope of every server event.
type Message struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ErrorBody is the payload of an error event.
type ErrorBody struct {
	Kind    response.ErrCode `json:"kind"`
	Message string           `json:"message"`
}

type ErrorResponse struct {
	Event Event     `json:"event"`
	Error ErrorBody `json:"error"`
}

type TestInfoData struct {
	Test            model.Test `json:"test"`
	QuestionsAmount int        `json:"questionsAmount"`
}

// StudentJoinedData goes to the author when a student joins.
type StudentJoinedData struct {
	Name string `json:"name"`
}

// JoinedData goes to the joining student only.
type JoinedData struct {
	ID string `json:"id"`
}

// AuthorQuestionData is the full question, correctness markers included.
type AuthorQuestionData struct {
	model.ExamQuestion
	Index         int       `json:"index"`
	TimeExpiresAt time.Time `json:"timeExpiresAt"`
}

// StudentQuestionData is the redacted question sent to students.
type StudentQuestionData struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Type          model.QuestionType    `json:"type"`
	Answers       []model.StudentAnswer `json:"answers"`
	MaxScore      int                   `json:"maxScore"`
	TimeLimit     int                   `json:"timeLimit"`
	Index         int                   `json:"index"`
	TimeExpiresAt time.Time             `json:"timeExpiresAt"`
}

// NewStudentQuestion strips correctness markers from q.
func NewStudentQuestion(q *model.ExamQuestion, index int, expiresAt time.Time) StudentQuestionData {
	return StudentQuestionData{
		ID:            q.ID,
		Title:         q.Title,
		Type:          q.Type,
		Answers:       q.RedactedAnswers(),
		MaxScore:      q.MaxScore,
		TimeLimit:     q.TimeLimit,
		Index:         index,
		TimeExpiresAt: expiresAt,
	}
}

type ResultsData struct {
	Results *model.ExamResults `json:"results"`
}

type AnswerSavedData struct {
	QuestionIndex int `json:"questionIndex"`
}
