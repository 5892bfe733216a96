package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-live/internal/clock"
	"github.com/stemsi/exstem-live/internal/events"
	"github.com/stemsi/exstem-live/internal/lane"
	"github.com/stemsi/exstem-live/internal/metrics"
	"github.com/stemsi/exstem-live/internal/model"
	"github.com/stemsi/exstem-live/internal/repository"
	"github.com/stemsi/exstem-live/internal/scheduler"
	"github.com/stemsi/exstem-live/internal/store"
	"github.com/stemsi/exstem-live/internal/uid"
)

var errCodeTaken = errors.New("exam code taken")

// createAttempts bounds how often Create redraws a code that was claimed
// between the availability check and the write.
const createAttempts = 3

// TestSource returns the immutable snapshot of a test.
type TestSource interface {
	GetWithQuestions(ctx context.Context, testID uuid.UUID) (*model.Test, []model.Question, error)
}

// LiveExamService drives the CREATED → STARTED → FINISHED lifecycle of
// live sessions and the timed question advance.
//
// Every mutation of a session runs inside the lane of its code, so the
// whole-document writes to the store never race.
type LiveExamService struct {
	store   store.SessionStore
	tests   TestSource
	ids     *uid.Generator
	lanes   *lane.Lanes
	sched   *scheduler.Scheduler
	bus     *events.Bus
	results *ResultService
	auth    *AuthService
	clock   clock.Clock
	buffer  time.Duration
	log     zerolog.Logger
}

// NewLiveExamService creates a new LiveExamService.
func NewLiveExamService(
	st store.SessionStore,
	tests TestSource,
	ids *uid.Generator,
	lanes *lane.Lanes,
	sched *scheduler.Scheduler,
	bus *events.Bus,
	results *ResultService,
	auth *AuthService,
	clk clock.Clock,
	networkDelayBuffer time.Duration,
	log zerolog.Logger,
) *LiveExamService {
	return &LiveExamService{
		store:   st,
		tests:   tests,
		ids:     ids,
		lanes:   lanes,
		sched:   sched,
		bus:     bus,
		results: results,
		auth:    auth,
		clock:   clk,
		buffer:  networkDelayBuffer,
		log:     log.With().Str("component", "live_exam_service").Logger(),
	}
}

// Create snapshots a test into a new CREATED session and returns its room
// code together with the author token needed for the author handshake.
func (s *LiveExamService) Create(ctx context.Context, ownerID int, testID uuid.UUID) (string, string, error) {
	test, questions, err := s.tests.GetWithQuestions(ctx, testID)
	if err != nil {
		if errors.Is(err, repository.ErrTestNotFound) {
			return "", "", fmt.Errorf("%w: test %s", ErrNotFound, testID)
		}
		return "", "", fmt.Errorf("load test: %w", err)
	}
	if test.OwnerID != ownerID {
		return "", "", fmt.Errorf("%w: test %s is not owned by user %d", ErrUnauthorized, testID, ownerID)
	}
	if len(questions) == 0 {
		return "", "", ErrNoQuestions
	}

	authorToken := s.ids.NewID()
	tokenHash, err := s.auth.HashAuthorToken(authorToken)
	if err != nil {
		return "", "", fmt.Errorf("hash author token: %w", err)
	}
	author := model.Author{OwnerUserID: ownerID, TokenHash: tokenHash}

	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := s.ids.ExamCode(ctx, s.store.Exists)
		if err != nil {
			return "", "", err
		}

		// Another creator may have drawn the same code since the check.
		err = s.lanes.Do(ctx, code, func(ctx context.Context) error {
			taken, err := s.store.Exists(ctx, code)
			if err != nil {
				return err
			}
			if taken {
				return errCodeTaken
			}
			return s.store.Set(ctx, code, model.NewExamSession(code, author, *test, questions))
		})
		if errors.Is(err, errCodeTaken) {
			continue
		}
		if err != nil {
			return "", "", err
		}

		metrics.SessionsCreated.Inc()
		s.log.Info().
			Str("exam_code", code).
			Str("test_id", testID.String()).
			Int("questions", len(questions)).
			Msg("Exam session created")
		return code, authorToken, nil
	}
	return "", "", fmt.Errorf("%w: lost %d races for a code", uid.ErrCodeSpaceExhausted, createAttempts)
}

// JoinAuthor binds connID as the author connection after checking the
// author token.
func (s *LiveExamService) JoinAuthor(ctx context.Context, code, connID, authorToken string) (*model.ExamSession, error) {
	var joined *model.ExamSession
	err := s.lanes.Do(ctx, code, func(ctx context.Context) error {
		session, err := s.store.Get(ctx, code)
		if err != nil {
			return err
		}
		if session.Status == model.ExamStatusFinished {
			return fmt.Errorf("%w: exam %s is finished", ErrInvalidTransition, code)
		}
		if err := s.auth.CheckAuthorToken(session.Author.TokenHash, authorToken); err != nil {
			return fmt.Errorf("%w: bad author token for exam %s", ErrUnauthorized, code)
		}

		session.Author.ConnectionID = connID
		if err := s.store.Set(ctx, code, session); err != nil {
			return err
		}
		joined = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("exam_code", code).Str("conn_id", connID).Msg("Author joined")
	return joined, nil
}

// JoinStudent registers a new student and returns its id.
func (s *LiveExamService) JoinStudent(ctx context.Context, code, name, connID string) (string, *model.ExamSession, error) {
	var (
		studentID string
		joined    *model.ExamSession
	)
	err := s.lanes.Do(ctx, code, func(ctx context.Context) error {
		session, err := s.store.Get(ctx, code)
		if err != nil {
			return err
		}
		if session.Status == model.ExamStatusFinished {
			return fmt.Errorf("%w: exam %s is finished", ErrInvalidTransition, code)
		}

		id := s.ids.NewID()
		session.Students[id] = model.NewStudent(connID, name)
		if err := s.store.Set(ctx, code, session); err != nil {
			return err
		}
		studentID, joined = id, session
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	metrics.StudentsJoined.Inc()
	s.log.Info().
		Str("exam_code", code).
		Str("student_id", studentID).
		Str("name", joined.Students[studentID].Name).
		Msg("Student joined")
	return studentID, joined, nil
}

// Start moves a CREATED session to STARTED and shows the first question.
// Only the bound author connection may start.
func (s *LiveExamService) Start(ctx context.Context, code, connID string) error {
	return s.lanes.Do(ctx, code, func(ctx context.Context) error {
		session, err := s.store.Get(ctx, code)
		if err != nil {
			return err
		}
		if err := authorize(session, connID); err != nil {
			return err
		}
		if session.Status != model.ExamStatusCreated {
			return fmt.Errorf("%w: cannot start exam %s in status %s", ErrInvalidTransition, code, session.Status)
		}

		now := s.clock.Now().UTC()
		session.Status = model.ExamStatusStarted
		session.StartedAt = &now
		if err := s.store.Set(ctx, code, session); err != nil {
			return err
		}

		metrics.LifecycleTransitions.WithLabelValues(string(model.ExamStatusStarted)).Inc()
		metrics.SessionsActive.Inc()
		s.log.Info().Str("exam_code", code).Int("students", len(session.Students)).Msg("Exam started")
		s.bus.Publish(events.Event{Kind: events.KindExamStarted, Code: code})

		return s.advance(ctx, session)
	})
}

// Finish ends a STARTED session ahead of its schedule. Any pending timer
// becomes stale.
func (s *LiveExamService) Finish(ctx context.Context, code, connID string) error {
	return s.lanes.Do(ctx, code, func(ctx context.Context) error {
		session, err := s.store.Get(ctx, code)
		if err != nil {
			return err
		}
		if err := authorize(session, connID); err != nil {
			return err
		}
		if session.Status != model.ExamStatusStarted {
			return fmt.Errorf("%w: cannot finish exam %s in status %s", ErrInvalidTransition, code, session.Status)
		}
		return s.finish(ctx, session)
	})
}

// Results returns the current standings without changing the session.
func (s *LiveExamService) Results(ctx context.Context, code, connID string) (*model.ExamResults, error) {
	session, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := authorize(session, connID); err != nil {
		return nil, err
	}
	return s.results.ParseResults(session), nil
}

// advance moves to the next question, or finishes after the last one.
// Callers hold the session's lane.
func (s *LiveExamService) advance(ctx context.Context, session *model.ExamSession) error {
	next := session.CurrentQuestionIndex + 1
	if next >= len(session.Questions) {
		return s.finish(ctx, session)
	}

	session.CurrentQuestionIndex = next
	if err := s.store.Set(ctx, session.Code, session); err != nil {
		return err
	}

	question := session.Questions[next]
	delay := time.Duration(question.TimeLimit)*time.Second + s.buffer
	s.bus.Publish(events.Event{
		Kind:      events.KindQuestionAdvanced,
		Code:      session.Code,
		Index:     next,
		Question:  &question,
		ExpiresAt: s.clock.Now().Add(delay).UTC(),
	})
	s.sched.Schedule(delay, scheduler.Token{
		Code:   session.Code,
		Status: model.ExamStatusStarted,
		Index:  next,
	}, s.onTimer)

	metrics.QuestionAdvances.Inc()
	s.log.Info().
		Str("exam_code", session.Code).
		Int("question_index", next).
		Dur("next_in", delay).
		Msg("Question advanced")
	return nil
}

// onTimer runs when a question's time is up. A firing whose token no
// longer matches the stored session is ignored.
func (s *LiveExamService) onTimer(tok scheduler.Token) {
	ctx := context.Background()
	err := s.lanes.Do(ctx, tok.Code, func(ctx context.Context) error {
		session, err := s.store.Get(ctx, tok.Code)
		if errors.Is(err, store.ErrNotFound) {
			metrics.StaleTimers.Inc()
			s.log.Debug().Str("exam_code", tok.Code).Msg("Timer fired for evicted exam")
			return nil
		}
		if err != nil {
			return err
		}
		if !tok.Matches(session) {
			metrics.StaleTimers.Inc()
			s.log.Debug().
				Str("exam_code", tok.Code).
				Int("expected_index", tok.Index).
				Int("current_index", session.CurrentQuestionIndex).
				Str("status", string(session.Status)).
				Msg("Stale timer ignored")
			return nil
		}
		return s.advance(ctx, session)
	})
	if err != nil {
		s.log.Error().Err(err).Str("exam_code", tok.Code).Msg("Scheduled advance failed")
	}
}

// finish marks the session FINISHED, emits exam-finished exactly once,
// hands the results off and evicts the session. Callers hold the lane.
func (s *LiveExamService) finish(ctx context.Context, session *model.ExamSession) error {
	code := session.Code
	results := s.results.ParseResults(session)

	now := s.clock.Now().UTC()
	session.Status = model.ExamStatusFinished
	session.FinishedAt = &now
	if session.CurrentQuestionIndex >= len(session.Questions) {
		session.CurrentQuestionIndex = len(session.Questions) - 1
	}
	if err := s.store.Set(ctx, code, session); err != nil {
		return err
	}

	s.sched.Cancel(code)
	s.bus.Publish(events.Event{Kind: events.KindExamFinished, Code: code, Results: results})
	s.bus.Close(code)

	metrics.LifecycleTransitions.WithLabelValues(string(model.ExamStatusFinished)).Inc()
	metrics.SessionsActive.Dec()
	s.log.Info().Str("exam_code", code).Int("students", len(session.Students)).Msg("Exam finished")

	saveErr := s.results.SaveExam(ctx, session, results)
	if saveErr != nil {
		s.log.Error().Err(saveErr).Str("exam_code", code).Msg("Failed to save exam results")
	}
	delErr := s.store.Delete(ctx, code)
	return errors.Join(saveErr, delErr)
}

func authorize(session *model.ExamSession, connID string) error {
	if connID == "" || session.Author.ConnectionID != connID {
		return fmt.Errorf("%w: connection is not the author of exam %s", ErrUnauthorized, session.Code)
	}
	return nil
}
