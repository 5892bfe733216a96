package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-live/internal/middleware"
	"github.com/stemsi/exstem-live/internal/model"
	"github.com/stemsi/exstem-live/internal/response"
	"github.com/stemsi/exstem-live/internal/service"
	"github.com/stemsi/exstem-live/internal/validator"
)

// ExamHandler handles live exam creation.
type ExamHandler struct {
	live *service.LiveExamService
	log  zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(live *service.LiveExamService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		live: live,
		log:  log.With().Str("component", "exam_handler").Logger(),
	}
}

// CreateExam godoc
// POST /api/v1/exams
// Opens a live session for one of the caller's tests and returns the room
// code plus the author token used in the WebSocket handshake.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	testID, _ := uuid.Parse(req.TestID)

	code, token, err := h.live.Create(c.Request.Context(), claims.UserID, testID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrUnauthorized):
			response.Fail(c, http.StatusForbidden, response.ErrUnauthorized)
		case errors.Is(err, service.ErrNoQuestions):
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoQuestions)
		case errors.Is(err, service.ErrPersistence):
			h.log.Error().Err(err).Msg("Failed to store exam session")
			response.Fail(c, http.StatusServiceUnavailable, response.ErrPersistence)
		default:
			h.log.Error().Err(err).Msg("Failed to create exam session")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusCreated, model.CreateExamResponse{
		ExamCode:    code,
		AuthorToken: token,
	})
}
