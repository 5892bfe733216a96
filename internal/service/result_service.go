package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-live/internal/model"
)

// ResultSink hands finished sessions to durable storage.
type ResultSink interface {
	Enqueue(ctx context.Context, record *model.ExamRecord) error
}

// ResultService scores finished sessions.
//
// Scoring: a question awards its maxScore when the distinct set of
// submitted titles equals the set of options marked correct, and 0
// otherwise. Order and duplicates are ignored; an empty submission never
// scores. SHORT_ANSWER questions take a single answer compared to any
// correct option, trimmed and case-insensitive. There is no partial credit.
type ResultService struct {
	sink ResultSink
	log  zerolog.Logger
}

// NewResultService creates a new ResultService.
func NewResultService(sink ResultSink, log zerolog.Logger) *ResultService {
	return &ResultService{
		sink: sink,
		log:  log.With().Str("component", "result_service").Logger(),
	}
}

// ParseResults computes the ranked score table of a session. It does not
// mutate the session.
func (s *ResultService) ParseResults(session *model.ExamSession) *model.ExamResults {
	results := &model.ExamResults{
		ExamCode:       session.Code,
		TestID:         session.Test.ID,
		TotalQuestions: len(session.Questions),
		Students:       make([]model.StudentScore, 0, len(session.Students)),
	}
	for _, q := range session.Questions {
		results.MaxScore += q.MaxScore
	}

	for studentID, student := range session.Students {
		row := model.StudentScore{
			StudentID: studentID,
			Name:      student.Name,
			Questions: []model.QuestionScore{},
		}
		for i := range session.Questions {
			q := &session.Questions[i]
			res, ok := student.Results[q.ID]
			if !ok {
				continue
			}
			qs := model.QuestionScore{QuestionID: q.ID, Answers: res.Answers}
			if IsCorrect(q, res.Answers) {
				qs.Correct = true
				qs.Score = q.MaxScore
				row.Correct++
				row.Score += q.MaxScore
			}
			row.Answered++
			row.Questions = append(row.Questions, qs)
		}
		results.Students = append(results.Students, row)
	}

	rank(results.Students)
	return results
}

// SaveExam hands a FINISHED session and its results to durable storage.
func (s *ResultService) SaveExam(ctx context.Context, session *model.ExamSession, results *model.ExamResults) error {
	if session.Status != model.ExamStatusFinished {
		return fmt.Errorf("%w: save exam %s in status %s", ErrInvalidTransition, session.Code, session.Status)
	}

	finishedAt := time.Now().UTC()
	if session.FinishedAt != nil {
		finishedAt = *session.FinishedAt
	}
	record := &model.ExamRecord{
		ExamCode:   session.Code,
		TestID:     session.Test.ID,
		OwnerID:    session.Author.OwnerUserID,
		Questions:  session.Questions,
		Results:    results,
		StartedAt:  session.StartedAt,
		FinishedAt: finishedAt,
	}
	if err := s.sink.Enqueue(ctx, record); err != nil {
		return fmt.Errorf("%w: save exam %s: %v", ErrPersistence, session.Code, err)
	}

	s.log.Info().
		Str("exam_code", session.Code).
		Int("students", len(results.Students)).
		Msg("Exam results handed off")
	return nil
}

// IsCorrect applies the scoring rule to one submitted answer set.
func IsCorrect(q *model.ExamQuestion, answers []model.StudentAnswer) bool {
	if len(answers) == 0 {
		return false
	}
	correct := q.CorrectTitles()
	if len(correct) == 0 {
		return false
	}

	if q.Type == model.QuestionTypeShortAnswer {
		if len(answers) != 1 {
			return false
		}
		given := normalize(answers[0].Title)
		for _, c := range correct {
			if normalize(c) == given {
				return true
			}
		}
		return false
	}

	want := make(map[string]struct{}, len(correct))
	for _, c := range correct {
		want[c] = struct{}{}
	}
	got := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		if _, ok := want[a.Title]; !ok {
			return false
		}
		got[a.Title] = struct{}{}
	}
	return len(got) == len(want)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// rank orders rows by score, then name, then id, and assigns competition
// ranks (1, 1, 3).
func rank(rows []model.StudentScore) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].StudentID < rows[j].StudentID
	})
	for i := range rows {
		if i > 0 && rows[i].Score == rows[i-1].Score {
			rows[i].Rank = rows[i-1].Rank
			continue
		}
		rows[i].Rank = i + 1
	}
}
