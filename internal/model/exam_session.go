package model

import "time"

// ExamStatus enumerates the lifecycle states of a live exam session.
type ExamStatus string

const (
	ExamStatusCreated  ExamStatus = "CREATED"
	ExamStatusStarted  ExamStatus = "STARTED"
	ExamStatusFinished ExamStatus = "FINISHED"
)

// NoQuestion is the currentQuestionIndex of a session that has not started.
const NoQuestion = -1

// ExamSession is the whole live-exam document kept in the session store,
// keyed by its room code.
type ExamSession struct {
	Code                 string              `json:"code"`
	Status               ExamStatus          `json:"status"`
	Author               Author              `json:"author"`
	Test                 Test                `json:"test"`
	Questions            []ExamQuestion      `json:"questions"`
	CurrentQuestionIndex int                 `json:"currentQuestionIndex"`
	Students             map[string]*Student `json:"students"`
	CreatedAt            time.Time           `json:"createdAt"`
	StartedAt            *time.Time          `json:"startedAt,omitempty"`
	FinishedAt           *time.Time          `json:"finishedAt,omitempty"`
}

// NewExamSession snapshots a test and its questions into a CREATED session.
func NewExamSession(code string, author Author, test Test, questions []Question) *ExamSession {
	snapshot := make([]ExamQuestion, len(questions))
	for i, q := range questions {
		snapshot[i] = NewExamQuestion(q)
	}
	return &ExamSession{
		Code:                 code,
		Status:               ExamStatusCreated,
		Author:               author,
		Test:                 test,
		Questions:            snapshot,
		CurrentQuestionIndex: NoQuestion,
		Students:             make(map[string]*Student),
		CreatedAt:            time.Now().UTC(),
	}
}

// CurrentQuestion returns the active question, or false when the session
// is not positioned on one.
func (s *ExamSession) CurrentQuestion() (*ExamQuestion, bool) {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Questions) {
		return nil, false
	}
	return &s.Questions[s.CurrentQuestionIndex], true
}

// Author is the participant who owns and starts a session.
type Author struct {
	OwnerUserID  int    `json:"ownerUserId"`
	ConnectionID string `json:"connectionId"`
	// TokenHash is the bcrypt hash of the author token handed out at creation.
	TokenHash string `json:"tokenHash"`
}

// Student is created once per join. Only Results changes afterwards.
type Student struct {
	ConnectionID string                    `json:"connectionId"`
	Name         string                    `json:"name"`
	Results      map[string]QuestionResult `json:"results"`
}

// NewStudent creates a student with an empty results map.
func NewStudent(connectionID, name string) *Student {
	return &Student{
		ConnectionID: connectionID,
		Name:         name,
		Results:      make(map[string]QuestionResult),
	}
}

// QuestionResult is the last answer set a student submitted for a question.
type QuestionResult struct {
	Answers []StudentAnswer `json:"answers"`
}

// StudentAnswer references a selected option by its title.
type StudentAnswer struct {
	Title string `json:"title" binding:"max=500"`
}
