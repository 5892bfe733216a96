package handler

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
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
	"github.com/stemsi/exstem-live/internal/service"
	"github.com/stemsi/exstem-live/internal/store"
	"github.com/stemsi/exstem-live/internal/uid"
	"github.com/stemsi/exstem-live/internal/validator"
	ws "github.com/stemsi/exstem-live/internal/websocket"
)

const testOwner = 7

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

type memTests struct {
	mu        sync.Mutex
	tests     map[uuid.UUID]*model.Test
	questions map[uuid.UUID][]model.Question
}

func (m *memTests) GetWithQuestions(_ context.Context, id uuid.UUID) (*model.Test, []model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[id]
	if !ok {
		return nil, nil, repository.ErrTestNotFound
	}
	return t, m.questions[id], nil
}

// add stores a test whose questions each have "right" as the only correct
// option and a score of 5.
func (m *memTests) add(owner int, limits ...int) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.tests[id] = &model.Test{ID: id, Title: "Cells", Subject: "Biology", OwnerID: owner}
	qs := make([]model.Question, len(limits))
	for i, l := range limits {
		qs[i] = model.Question{
			ID:        uuid.New(),
			TestID:    id,
			Title:     "Which one?",
			Type:      model.QuestionTypeSingleChoice,
			Answers:   []model.AnswerOption{{Title: "right", IsCorrect: true}, {Title: "wrong"}},
			MaxScore:  5,
			TimeLimit: l,
			OrderNum:  i,
		}
	}
	m.questions[id] = qs
	return id
}

type recordingSink struct {
	mu      sync.Mutex
	records []*model.ExamRecord
}

func (s *recordingSink) Enqueue(_ context.Context, rec *model.ExamRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type engine struct {
	cfg   *config.Config
	auth  *service.AuthService
	live  *service.LiveExamService
	tests *memTests
	sink  *recordingSink
	clock *clock.Manual
	ws    *WSHandler
}

// newEngine builds the gateway over in-memory collaborators. opts adjust
// the config before anything reads it.
func newEngine(t *testing.T, opts ...func(*config.Config)) *engine {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:     "handler-test-secret",
		JWTExpiry:     time.Hour,
		BcryptCost:    bcrypt.MinCost,
		WSAuthTimeout: 2 * time.Second,
		WSSendBuffer:  32,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	e := &engine{
		cfg:   cfg,
		auth:  service.NewAuthService(cfg),
		tests: &memTests{tests: map[uuid.UUID]*model.Test{}, questions: map[uuid.UUID][]model.Question{}},
		sink:  &recordingSink{},
		clock: clock.NewManual(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)),
	}
	log := zerolog.Nop()
	st := store.NewMemory()
	lanes := lane.New()
	bus := events.NewBus(16)
	e.live = service.NewLiveExamService(
		st, e.tests, uid.New(10), lanes, scheduler.New(e.clock), bus,
		service.NewResultService(e.sink, log), e.auth, e.clock, 2*time.Second, log,
	)
	e.ws = NewWSHandler(e.live, service.NewAnswerService(st, lanes, log), bus, log, cfg)
	return e
}

// wireMsg is the client-side view of a server event.
type wireMsg struct {
	Event ws.Event        `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *ws.ErrorBody   `json:"error"`
}

func (m wireMsg) decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(m.Data, v))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws/v1/exams"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func next(t *testing.T, conn *websocket.Conn) wireMsg {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg wireMsg
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func expect(t *testing.T, conn *websocket.Conn, event ws.Event) wireMsg {
	t.Helper()
	msg := next(t, conn)
	require.Equal(t, event, msg.Event, "unexpected message: %+v data=%s", msg.Error, msg.Data)
	return msg
}

func expectError(t *testing.T, conn *websocket.Conn, kind string) {
	t.Helper()
	msg := expect(t, conn, ws.EventError)
	require.NotNil(t, msg.Error)
	require.Equal(t, kind, string(msg.Error.Kind))
}

// assertSilent fails if conn receives anything within a short window.
// The connection is unusable for reads afterwards.
func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var msg wireMsg
	err := conn.ReadJSON(&msg)
	require.Error(t, err, "unexpected message %s", msg.Event)
}
