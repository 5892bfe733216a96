package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-live/internal/events"
	"github.com/stemsi/exstem-live/internal/model"
	"github.com/stemsi/exstem-live/internal/scheduler"
)

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshots the test into a created session", func(t *testing.T) {
		h := newHarness(t)
		testID := h.tests.add(ownerID, 10, 20)

		code, token, err := h.svc.Create(ctx, ownerID, testID)
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)
		assert.NotEmpty(t, token)

		s := h.session(t, code)
		assert.Equal(t, code, s.Code)
		assert.Equal(t, model.ExamStatusCreated, s.Status)
		assert.Equal(t, model.NoQuestion, s.CurrentQuestionIndex)
		assert.Empty(t, s.Students)
		assert.Empty(t, s.Author.ConnectionID)
		assert.NotEqual(t, token, s.Author.TokenHash)
		require.Len(t, s.Questions, 2)
		assert.Equal(t, 20, s.Questions[1].TimeLimit)

		// Later edits to the source test do not reach the session.
		h.tests.questions[testID][0].Answers[0].Title = "edited"
		h.tests.questions[testID][0].TimeLimit = 99
		s = h.session(t, code)
		assert.Equal(t, "right", s.Questions[0].Answers[0].Title)
		assert.Equal(t, 10, s.Questions[0].TimeLimit)
	})

	t.Run("unknown test", func(t *testing.T) {
		h := newHarness(t)
		_, _, err := h.svc.Create(ctx, ownerID, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("test of another owner", func(t *testing.T) {
		h := newHarness(t)
		_, _, err := h.svc.Create(ctx, ownerID, h.tests.add(ownerID+1, 10))
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Zero(t, h.store.Len())
	})

	t.Run("test without questions", func(t *testing.T) {
		h := newHarness(t)
		_, _, err := h.svc.Create(ctx, ownerID, h.tests.add(ownerID))
		assert.ErrorIs(t, err, ErrNoQuestions)
	})

	t.Run("codes are unique across sessions", func(t *testing.T) {
		h := newHarness(t)
		testID := h.tests.add(ownerID, 10)
		seen := map[string]bool{}
		for i := 0; i < 20; i++ {
			code, _, err := h.svc.Create(ctx, ownerID, testID)
			require.NoError(t, err)
			assert.False(t, seen[code], "duplicate code %s", code)
			seen[code] = true
		}
		assert.Equal(t, 20, h.store.Len())
	})
}

func TestJoinAuthor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code, token, err := h.svc.Create(ctx, ownerID, h.tests.add(ownerID, 10))
	require.NoError(t, err)

	_, err = h.svc.JoinAuthor(ctx, code, "intruder", "not-the-token")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, h.session(t, code).Author.ConnectionID)

	_, err = h.svc.JoinAuthor(ctx, "000000", "author-conn", token)
	assert.ErrorIs(t, err, ErrNotFound)

	s, err := h.svc.JoinAuthor(ctx, code, "author-conn", token)
	require.NoError(t, err)
	assert.Equal(t, "author-conn", s.Author.ConnectionID)

	// A reconnecting author rebinds with the same token.
	_, err = h.svc.JoinAuthor(ctx, code, "author-conn-2", token)
	require.NoError(t, err)
	assert.Equal(t, "author-conn-2", h.session(t, code).Author.ConnectionID)
}

func TestJoinStudent(t *testing.T) {
	ctx := context.Background()

	t.Run("adds a student with empty results", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10)

		id, s, err := h.svc.JoinStudent(ctx, code, "Ayu", "conn-1")
		require.NoError(t, err)
		require.Contains(t, s.Students, id)
		assert.Equal(t, "Ayu", s.Students[id].Name)
		assert.Equal(t, "conn-1", s.Students[id].ConnectionID)
		assert.Empty(t, s.Students[id].Results)
		assert.Contains(t, h.session(t, code).Students, id)
	})

	t.Run("unknown code", func(t *testing.T) {
		h := newHarness(t)
		_, _, err := h.svc.JoinStudent(ctx, "123456", "Ayu", "conn-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("late joiners are accepted while started", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10)
		require.NoError(t, h.svc.Start(ctx, code, "author-conn"))

		_, _, err := h.svc.JoinStudent(ctx, code, "Budi", "conn-2")
		require.NoError(t, err)
	})

	t.Run("concurrent joins are all kept", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10)

		const n = 50
		var wg sync.WaitGroup
		ids := make([]string, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, _, err := h.svc.JoinStudent(ctx, code, fmt.Sprintf("student-%02d", i), fmt.Sprintf("conn-%d", i))
				assert.NoError(t, err)
				ids[i] = id
			}(i)
		}
		wg.Wait()

		s := h.session(t, code)
		assert.Len(t, s.Students, n)
		for _, id := range ids {
			assert.Contains(t, s.Students, id)
		}
		assert.Zero(t, h.lanes.Active())
	})
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("only the bound author may start", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10)

		err := h.svc.Start(ctx, code, "someone-else")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, model.ExamStatusCreated, h.session(t, code).Status)
		assert.Zero(t, h.sched.Pending())
	})

	t.Run("starts with the first question", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10, 10)
		sub := h.bus.Subscribe(code)

		require.NoError(t, h.svc.Start(ctx, code, "author-conn"))

		s := h.session(t, code)
		assert.Equal(t, model.ExamStatusStarted, s.Status)
		assert.Equal(t, 0, s.CurrentQuestionIndex)
		require.NotNil(t, s.StartedAt)
		assert.True(t, s.StartedAt.Equal(t0))
		assert.Equal(t, 1, h.sched.Pending())

		evs := drain(sub)
		assert.Equal(t, []events.Kind{events.KindExamStarted, events.KindQuestionAdvanced}, kinds(evs))
		assert.Equal(t, 0, evs[1].Index)
		assert.Equal(t, s.Questions[0].ID, evs[1].Question.ID)
	})

	t.Run("a second start is rejected and changes nothing", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10, 10)
		require.NoError(t, h.svc.Start(ctx, code, "author-conn"))
		before := h.session(t, code)
		sub := h.bus.Subscribe(code)

		err := h.svc.Start(ctx, code, "author-conn")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, before, h.session(t, code))
		assert.Empty(t, drain(sub))
	})

	t.Run("store failure publishes nothing", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10)
		sub := h.bus.Subscribe(code)

		h.store.failSet = true
		err := h.svc.Start(ctx, code, "author-conn")
		assert.ErrorIs(t, err, ErrPersistence)
		h.store.failSet = false

		assert.Equal(t, model.ExamStatusCreated, h.session(t, code).Status)
		assert.Empty(t, drain(sub))
		assert.Zero(t, h.sched.Pending())
	})

	t.Run("unknown code", func(t *testing.T) {
		h := newHarness(t)
		assert.ErrorIs(t, h.svc.Start(ctx, "999999", "author-conn"), ErrNotFound)
	})
}

func TestQuestionTiming(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.created(t, 10, 10, 5)
	_, _, err := h.svc.JoinStudent(ctx, code, "Ayu", "conn-1")
	require.NoError(t, err)
	sub := h.bus.Subscribe(code)

	require.NoError(t, h.svc.Start(ctx, code, "author-conn"))
	evs := drain(sub)
	require.Len(t, evs, 2)
	assert.Equal(t, t0.Add(12*time.Second), evs[1].ExpiresAt)

	h.clock.Advance(11 * time.Second)
	assert.Empty(t, drain(sub))
	assert.Equal(t, 0, h.session(t, code).CurrentQuestionIndex)

	h.clock.Advance(time.Second)
	evs = drain(sub)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindQuestionAdvanced, evs[0].Kind)
	assert.Equal(t, 1, evs[0].Index)
	assert.Equal(t, t0.Add(24*time.Second), evs[0].ExpiresAt)

	h.clock.Advance(12 * time.Second)
	evs = drain(sub)
	require.Len(t, evs, 1)
	assert.Equal(t, 2, evs[0].Index)
	assert.Equal(t, t0.Add(31*time.Second), evs[0].ExpiresAt)

	h.clock.Advance(6 * time.Second)
	assert.Empty(t, drain(sub))
	assert.Equal(t, model.ExamStatusStarted, h.session(t, code).Status)

	h.clock.Advance(time.Second)
	evs = drain(sub)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindExamFinished, evs[0].Kind)
	require.NotNil(t, evs[0].Results)
	assert.Equal(t, 3, evs[0].Results.TotalQuestions)
	assert.Len(t, evs[0].Results.Students, 1)

	// Evicted and handed off once.
	_, err = h.store.Get(ctx, code)
	assert.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, h.sink.count())
	rec := h.sink.records[0]
	assert.Equal(t, code, rec.ExamCode)
	assert.True(t, rec.FinishedAt.Equal(t0.Add(31*time.Second)))
	assert.Zero(t, h.sched.Pending())
	assert.Zero(t, h.clock.Pending())
	assert.Zero(t, h.bus.Topics())

	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestFinish(t *testing.T) {
	ctx := context.Background()

	t.Run("out of band finish makes the pending timer stale", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10, 10, 10)
		sub := h.bus.Subscribe(code)
		require.NoError(t, h.svc.Start(ctx, code, "author-conn"))

		require.NoError(t, h.svc.Finish(ctx, code, "author-conn"))
		h.clock.Advance(time.Hour)

		evs := drain(sub)
		assert.Equal(t, []events.Kind{
			events.KindExamStarted,
			events.KindQuestionAdvanced,
			events.KindExamFinished,
		}, kinds(evs))
		assert.Equal(t, 1, h.sink.count())
		assert.Zero(t, h.store.Len())
	})

	t.Run("a timer that outlives its session is a no-op", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10, 10)
		sub := h.bus.Subscribe(code)
		require.NoError(t, h.svc.Start(ctx, code, "author-conn"))
		drain(sub)

		require.NoError(t, h.store.Delete(ctx, code))
		h.clock.Advance(time.Minute)

		assert.Empty(t, drain(sub))
		assert.Zero(t, h.sink.count())
		assert.Zero(t, h.store.Len())
	})

	t.Run("a mismatched token does not advance", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10, 10, 10)
		require.NoError(t, h.svc.Start(ctx, code, "author-conn"))
		before := h.session(t, code)

		h.svc.onTimer(scheduler.Token{Code: code, Status: model.ExamStatusStarted, Index: 2})
		h.svc.onTimer(scheduler.Token{Code: code, Status: model.ExamStatusCreated, Index: 0})

		assert.Equal(t, before, h.session(t, code))
	})

	t.Run("requires a started session", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10)
		assert.ErrorIs(t, h.svc.Finish(ctx, code, "author-conn"), ErrInvalidTransition)
		assert.Equal(t, model.ExamStatusCreated, h.session(t, code).Status)
	})

	t.Run("requires the author", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10)
		require.NoError(t, h.svc.Start(ctx, code, "author-conn"))
		assert.ErrorIs(t, h.svc.Finish(ctx, code, "conn-1"), ErrUnauthorized)
		assert.Equal(t, model.ExamStatusStarted, h.session(t, code).Status)
	})

	t.Run("save failure is reported and the session is still evicted", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 10)
		sub := h.bus.Subscribe(code)
		require.NoError(t, h.svc.Start(ctx, code, "author-conn"))
		h.sink.err = errors.New("queue unavailable")

		err := h.svc.Finish(ctx, code, "author-conn")
		assert.ErrorIs(t, err, ErrPersistence)
		assert.Zero(t, h.store.Len())

		evs := drain(sub)
		require.NotEmpty(t, evs)
		assert.Equal(t, events.KindExamFinished, evs[len(evs)-1].Kind)
	})

	t.Run("evicted sessions reject joins", func(t *testing.T) {
		h := newHarness(t)
		code := h.created(t, 5)
		require.NoError(t, h.svc.Start(ctx, code, "author-conn"))
		h.clock.Advance(7 * time.Second)

		_, _, err := h.svc.JoinStudent(ctx, code, "Late", "conn-9")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestResultsPeek(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.created(t, 10, 10)
	ayu, _, err := h.svc.JoinStudent(ctx, code, "Ayu", "conn-1")
	require.NoError(t, err)
	_, _, err = h.svc.JoinStudent(ctx, code, "Budi", "conn-2")
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, code, "author-conn"))
	require.NoError(t, h.answers.Submit(ctx, code, ayu, 0, []model.StudentAnswer{{Title: "right"}}))
	before := h.session(t, code)

	res, err := h.svc.Results(ctx, code, "author-conn")
	require.NoError(t, err)
	require.Len(t, res.Students, 2)
	assert.Equal(t, "Ayu", res.Students[0].Name)
	assert.Equal(t, 5, res.Students[0].Score)
	assert.Equal(t, 10, res.MaxScore)
	assert.Equal(t, before, h.session(t, code))

	_, err = h.svc.Results(ctx, code, "conn-1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
