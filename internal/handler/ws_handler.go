package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-live/internal/config"
	"github.com/stemsi/exstem-live/internal/events"
	"github.com/stemsi/exstem-live/internal/metrics"
	"github.com/stemsi/exstem-live/internal/model"
	"github.com/stemsi/exstem-live/internal/response"
	"github.com/stemsi/exstem-live/internal/service"
	"github.com/stemsi/exstem-live/internal/validator"
	ws "github.com/stemsi/exstem-live/internal/websocket"
)

const defaultPongWait = 60 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler is the connection gateway of live exams: handshake, room
// membership, command dispatch and role-specific broadcasts.
type WSHandler struct {
	live        *service.LiveExamService
	answers     *service.AnswerService
	bus         *events.Bus
	hub         *hub
	log         zerolog.Logger
	upgrader    websocket.Upgrader
	authTimeout time.Duration
	pongWait    time.Duration
	sendBuffer  int
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(live *service.LiveExamService, answers *service.AnswerService, bus *events.Bus, log zerolog.Logger, cfg *config.Config) *WSHandler {
	h := &WSHandler{
		live:        live,
		answers:     answers,
		bus:         bus,
		hub:         newHub(),
		log:         log.With().Str("component", "ws_handler").Logger(),
		upgrader:    buildUpgrader(cfg.AllowedOrigins),
		authTimeout: cfg.WSAuthTimeout,
		pongWait:    cfg.WSPongWait,
		sendBuffer:  cfg.WSSendBuffer,
	}
	if h.pongWait <= 0 {
		h.pongWait = defaultPongWait
	}
	return h
}

func (h *WSHandler) pingPeriod() time.Duration {
	return h.pongWait * 9 / 10
}

// ExamWebSocketStream godoc
// WS /ws/v1/exams
// The first message must be an auth action naming the role and exam code.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	cl := newClient(uuid.NewString(), conn, h.sendBuffer)
	defer cl.close()
	go cl.writePump(h.pingPeriod(), h.log)

	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !h.handshake(ctx, cl) {
		return
	}
	defer h.hub.leave(cl.code, cl.id)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	wsLog := h.log.With().
		Str("conn_id", cl.id).
		Str("exam_code", cl.code).
		Str("role", string(cl.role)).
		Logger()
	wsLog.Info().Msg("Participant connected")

	for {
		data, err := ws.ReadMessage(conn, h.pongWait)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			cl.enqueue(ws.NewError(response.ErrInvalidPayload, "malformed message"))
			continue
		}

		switch env.Action {
		case ws.ActionStartExam:
			h.handleStart(ctx, cl, wsLog)
		case ws.ActionFinishExam:
			h.handleFinish(ctx, cl, wsLog)
		case ws.ActionResults:
			h.handleResults(ctx, cl, wsLog)
		case ws.ActionAnswer:
			h.handleAnswer(ctx, cl, wsLog, data)
		case ws.ActionPing:
			cl.enqueue(ws.NewMessage(ws.EventPong, nil))
		case ws.ActionAuth:
			cl.enqueue(ws.NewError(response.ErrInvalidPayload, "connection is already authenticated"))
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			cl.enqueue(ws.NewError(response.ErrInvalidPayload, "unknown action: "+string(env.Action)))
		}
	}
}

// handshake reads messages until one authenticates the connection, the
// auth timeout passes or the socket closes. Rejected attempts get an error
// event and may be retried.
func (h *WSHandler) handshake(ctx context.Context, cl *client) bool {
	deadline := time.Now().Add(h.authTimeout)
	for {
		data, err := ws.ReadMessage(cl.conn, time.Until(deadline))
		if err != nil {
			h.log.Debug().Err(err).Str("conn_id", cl.id).Msg("Handshake aborted")
			return false
		}

		var req ws.AuthRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Action != ws.ActionAuth {
			cl.enqueue(ws.NewError(response.ErrUnauthorized, "first message must be auth"))
			continue
		}
		if fields := validator.Struct(&req); fields != nil {
			cl.enqueue(ws.NewError(response.ErrInvalidPayload, fieldsMessage(fields)))
			continue
		}

		var session *model.ExamSession
		switch req.Role {
		case ws.RoleAuthor:
			session, err = h.live.JoinAuthor(ctx, req.ExamCode, cl.id, req.AuthorToken)
		case ws.RoleStudent:
			var studentID string
			studentID, session, err = h.live.JoinStudent(ctx, req.ExamCode, req.StudentName, cl.id)
			cl.studentID = studentID
		}
		if err != nil {
			h.log.Warn().Err(err).Str("conn_id", cl.id).Str("exam_code", req.ExamCode).Msg("Join rejected")
			cl.enqueue(errorEvent(err))
			continue
		}

		cl.role = req.Role
		cl.code = req.ExamCode
		h.hub.join(cl.code, cl)
		if cl.role == ws.RoleStudent {
			for _, author := range h.hub.authors(cl.code) {
				author.enqueue(ws.NewMessage(ws.EventStudentJoined, ws.StudentJoinedData{Name: req.StudentName}))
			}
			cl.enqueue(ws.NewMessage(ws.EventStudentJoined, ws.JoinedData{ID: cl.studentID}))
		}
		cl.enqueue(ws.NewMessage(ws.EventTestInfo, ws.TestInfoData{
			Test:            session.Test,
			QuestionsAmount: len(session.Questions),
		}))
		return true
	}
}

func (h *WSHandler) handleStart(ctx context.Context, cl *client, log zerolog.Logger) {
	if cl.role != ws.RoleAuthor {
		cl.enqueue(ws.NewError(response.ErrUnauthorized, "only the author can start the exam"))
		return
	}

	// Subscribe first so exam-started and the first question reach the room.
	sub := h.bus.Subscribe(cl.code)
	if err := h.live.Start(ctx, cl.code, cl.id); err != nil {
		sub.Cancel()
		log.Warn().Err(err).Msg("Start rejected")
		cl.enqueue(errorEvent(err))
		return
	}
	go h.pump(cl.code, sub)
}

func (h *WSHandler) handleFinish(ctx context.Context, cl *client, log zerolog.Logger) {
	if cl.role != ws.RoleAuthor {
		cl.enqueue(ws.NewError(response.ErrUnauthorized, "only the author can finish the exam"))
		return
	}
	if err := h.live.Finish(ctx, cl.code, cl.id); err != nil {
		log.Warn().Err(err).Msg("Finish failed")
		cl.enqueue(errorEvent(err))
	}
}

func (h *WSHandler) handleResults(ctx context.Context, cl *client, log zerolog.Logger) {
	if cl.role != ws.RoleAuthor {
		cl.enqueue(ws.NewError(response.ErrUnauthorized, "only the author can view results"))
		return
	}
	results, err := h.live.Results(ctx, cl.code, cl.id)
	if err != nil {
		log.Warn().Err(err).Msg("Results rejected")
		cl.enqueue(errorEvent(err))
		return
	}
	cl.enqueue(ws.NewMessage(ws.EventResults, ws.ResultsData{Results: results}))
}

func (h *WSHandler) handleAnswer(ctx context.Context, cl *client, log zerolog.Logger, data []byte) {
	if cl.role != ws.RoleStudent {
		cl.enqueue(ws.NewError(response.ErrUnauthorized, "only students can answer"))
		return
	}

	var req ws.AnswerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		cl.enqueue(ws.NewError(response.ErrInvalidPayload, "malformed answer"))
		return
	}
	if fields := validator.Struct(&req); fields != nil {
		cl.enqueue(ws.NewError(response.ErrInvalidPayload, fieldsMessage(fields)))
		return
	}
	if req.StudentID != cl.studentID {
		cl.enqueue(ws.NewError(response.ErrUnauthorized, "studentId does not belong to this connection"))
		return
	}

	if err := h.answers.Submit(ctx, cl.code, cl.studentID, *req.QuestionIndex, req.Answers); err != nil {
		log.Warn().Err(err).Int("question_index", *req.QuestionIndex).Msg("Answer rejected")
		cl.enqueue(errorEvent(err))
		return
	}
	cl.enqueue(ws.NewMessage(ws.EventAnswerSaved, ws.AnswerSavedData{QuestionIndex: *req.QuestionIndex}))
}

// pump relays lifecycle events of one exam to its room until the exam
// finishes, then empties the room.
func (h *WSHandler) pump(code string, sub *events.Subscription) {
	defer h.hub.clear(code)
	for e := range sub.C {
		h.broadcast(e)
		if e.Kind == events.KindExamFinished {
			sub.Cancel()
			return
		}
	}
}

func (h *WSHandler) broadcast(e events.Event) {
	var authorMsg, studentMsg interface{}
	switch e.Kind {
	case events.KindExamStarted:
		authorMsg = ws.NewMessage(ws.EventExamStarted, struct{}{})
		studentMsg = authorMsg
	case events.KindQuestionAdvanced:
		authorMsg = ws.NewMessage(ws.EventQuestion, ws.AuthorQuestionData{
			ExamQuestion:  *e.Question,
			Index:         e.Index,
			TimeExpiresAt: e.ExpiresAt,
		})
		studentMsg = ws.NewMessage(ws.EventQuestion, ws.NewStudentQuestion(e.Question, e.Index, e.ExpiresAt))
	case events.KindExamFinished:
		authorMsg = ws.NewMessage(ws.EventExamFinished, ws.ResultsData{Results: e.Results})
		studentMsg = ws.NewMessage(ws.EventExamFinished, struct{}{})
	default:
		return
	}

	for _, c := range h.hub.members(e.Code) {
		if c.role == ws.RoleAuthor {
			c.enqueue(authorMsg)
		} else {
			c.enqueue(studentMsg)
		}
	}
}

// errorEvent maps a service error to the error event sent to the caller.
func errorEvent(err error) ws.ErrorResponse {
	var kind response.ErrCode
	switch {
	case errors.Is(err, service.ErrNotFound):
		kind = response.ErrNotFound
	case errors.Is(err, service.ErrInvalidTransition):
		kind = response.ErrInvalidTransition
	case errors.Is(err, service.ErrStaleOperation):
		kind = response.ErrStaleOperation
	case errors.Is(err, service.ErrUnauthorized):
		kind = response.ErrUnauthorized
	case errors.Is(err, service.ErrPersistence):
		kind = response.ErrPersistence
	default:
		kind = response.ErrInternal
	}
	return ws.NewError(kind, response.GetMessage(kind))
}

func fieldsMessage(fields map[string]string) string {
	msgs := make([]string, 0, len(fields))
	for _, m := range fields {
		msgs = append(msgs, m)
	}
	return strings.Join(msgs, "; ")
}
