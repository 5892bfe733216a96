package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-live/internal/lane"
	"github.com/stemsi/exstem-live/internal/metrics"
	"github.com/stemsi/exstem-live/internal/model"
	"github.com/stemsi/exstem-live/internal/store"
)

// AnswerService records student answers against the active question.
type AnswerService struct {
	store store.SessionStore
	lanes *lane.Lanes
	log   zerolog.Logger
}

// NewAnswerService creates a new AnswerService.
func NewAnswerService(st store.SessionStore, lanes *lane.Lanes, log zerolog.Logger) *AnswerService {
	return &AnswerService{
		store: st,
		lanes: lanes,
		log:   log.With().Str("component", "answer_service").Logger(),
	}
}

// Submit stores answers for the current question of a STARTED session. A
// resubmission for the same question replaces the previous one. Rejected
// submissions leave the store untouched.
func (s *AnswerService) Submit(ctx context.Context, code, studentID string, questionIndex int, answers []model.StudentAnswer) error {
	err := s.lanes.Do(ctx, code, func(ctx context.Context) error {
		session, err := s.store.Get(ctx, code)
		if err != nil {
			return err
		}
		if session.Status != model.ExamStatusStarted {
			return fmt.Errorf("%w: exam %s is %s", ErrStaleOperation, code, session.Status)
		}
		if questionIndex != session.CurrentQuestionIndex {
			return fmt.Errorf("%w: index %d, current index %d", ErrStaleOperation, questionIndex, session.CurrentQuestionIndex)
		}
		student, ok := session.Students[studentID]
		if !ok {
			return fmt.Errorf("%w: student %s is not part of exam %s", ErrUnauthorized, studentID, code)
		}
		question, ok := session.CurrentQuestion()
		if !ok {
			return fmt.Errorf("%w: exam %s has no active question", ErrStaleOperation, code)
		}

		saved := make([]model.StudentAnswer, len(answers))
		copy(saved, answers)
		if student.Results == nil {
			student.Results = make(map[string]model.QuestionResult)
		}
		student.Results[question.ID] = model.QuestionResult{Answers: saved}

		return s.store.Set(ctx, code, session)
	})
	if err != nil {
		metrics.Answers.WithLabelValues(outcome(err)).Inc()
		return err
	}

	metrics.Answers.WithLabelValues("accepted").Inc()
	s.log.Debug().
		Str("exam_code", code).
		Str("student_id", studentID).
		Int("question_index", questionIndex).
		Int("answers", len(answers)).
		Msg("Answer recorded")
	return nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrStaleOperation):
		return "stale"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
