package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/exstem-live/internal/clock"
	"github.com/stemsi/exstem-live/internal/config"
	"github.com/stemsi/exstem-live/internal/events"
	"github.com/stemsi/exstem-live/internal/lane"
	"github.com/stemsi/exstem-live/internal/model"
	"github.com/stemsi/exstem-live/internal/repository"
	"github.com/stemsi/exstem-live/internal/scheduler"
	"github.com/stemsi/exstem-live/internal/store"
	"github.com/stemsi/exstem-live/internal/uid"
)

const ownerID = 42

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fakeTests struct {
	tests     map[uuid.UUID]*model.Test
	questions map[uuid.UUID][]model.Question
}

func (f *fakeTests) GetWithQuestions(_ context.Context, id uuid.UUID) (*model.Test, []model.Question, error) {
	t, ok := f.tests[id]
	if !ok {
		return nil, nil, repository.ErrTestNotFound
	}
	return t, f.questions[id], nil
}

func (f *fakeTests) add(owner int, limits ...int) uuid.UUID {
	id := uuid.New()
	f.tests[id] = &model.Test{ID: id, Title: "Solar system", Subject: "Astronomy", OwnerID: owner, CreatedAt: t0}
	qs := make([]model.Question, len(limits))
	for i, l := range limits {
		qs[i] = model.Question{
			ID:     uuid.New(),
			TestID: id,
			Title:  "Question",
			Type:   model.QuestionTypeSingleChoice,
			Answers: []model.AnswerOption{
				{Title: "right", IsCorrect: true},
				{Title: "wrong"},
			},
			MaxScore:  5,
			TimeLimit: l,
			OrderNum:  i,
		}
	}
	f.questions[id] = qs
	return id
}

type fakeSink struct {
	mu      sync.Mutex
	err     error
	records []*model.ExamRecord
}

func (f *fakeSink) Enqueue(_ context.Context, rec *model.ExamRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// flakyStore fails writes once armed.
type flakyStore struct {
	*store.Memory
	failSet bool
}

func (f *flakyStore) Set(ctx context.Context, code string, s *model.ExamSession) error {
	if f.failSet {
		return fmt.Errorf("%w: write rejected", store.ErrPersistence)
	}
	return f.Memory.Set(ctx, code, s)
}

type harness struct {
	svc     *LiveExamService
	answers *AnswerService
	store   *flakyStore
	tests   *fakeTests
	sink    *fakeSink
	clock   *clock.Manual
	bus     *events.Bus
	sched   *scheduler.Scheduler
	lanes   *lane.Lanes
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour, BcryptCost: bcrypt.MinCost}
	h := &harness{
		store: &flakyStore{Memory: store.NewMemory()},
		tests: &fakeTests{tests: map[uuid.UUID]*model.Test{}, questions: map[uuid.UUID][]model.Question{}},
		sink:  &fakeSink{},
		clock: clock.NewManual(t0),
		bus:   events.NewBus(32),
		lanes: lane.New(),
	}
	h.sched = scheduler.New(h.clock)
	log := zerolog.Nop()
	h.svc = NewLiveExamService(
		h.store, h.tests, uid.New(10), h.lanes, h.sched, h.bus,
		NewResultService(h.sink, log), NewAuthService(cfg), h.clock, 2*time.Second, log,
	)
	h.answers = NewAnswerService(h.store, h.lanes, log)
	return h
}

// created returns a code for a fresh session with the author bound to
// "author-conn".
func (h *harness) created(t *testing.T, limits ...int) string {
	t.Helper()
	ctx := context.Background()
	code, token, err := h.svc.Create(ctx, ownerID, h.tests.add(ownerID, limits...))
	require.NoError(t, err)
	_, err = h.svc.JoinAuthor(ctx, code, "author-conn", token)
	require.NoError(t, err)
	return code
}

func (h *harness) session(t *testing.T, code string) *model.ExamSession {
	t.Helper()
	s, err := h.store.Get(context.Background(), code)
	require.NoError(t, err)
	return s
}

// drain reads every event currently buffered on sub.
func drain(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}
