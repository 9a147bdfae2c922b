package handler

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/export"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/response"
	"github.com/stemsi/psytest-backend/internal/service"
	"github.com/stemsi/psytest-backend/internal/validator"
)

// SessionHandler handles the assessment session endpoints.
type SessionHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// CreateSession godoc
// POST /api/v1/sessions
// Creates a session and starts generating its questions in the background.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.sessions.CreateSession(c.Request.Context(), req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"session": toSessionDTO(sess)})
}

// GetSession godoc
// GET /api/v1/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	sess, err := h.sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": toSessionDTO(sess)})
}

// GetStatus godoc
// GET /api/v1/sessions/:id/status
// Lightweight poll target while questions are being generated.
func (h *SessionHandler) GetStatus(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	view, err := h.sessions.GetStatus(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, toStatusDTO(view))
}

// StartGeneration godoc
// POST /api/v1/sessions/:id/generate
// Restarts generation for a session left in CREATED. Idempotent.
func (h *SessionHandler) StartGeneration(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	view, err := h.sessions.StartGeneration(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusAccepted, toStatusDTO(view))
}

// GetQuestions godoc
// GET /api/v1/sessions/:id/questions?section=aptitude
func (h *SessionHandler) GetQuestions(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var section *model.Section
	if raw := c.Query("section"); raw != "" {
		sec, err := model.ParseSection(raw)
		if err != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"section": err.Error()})
			return
		}
		section = &sec
	}

	view, err := h.sessions.GetQuestions(c.Request.Context(), id, section)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, toQuestionsDTO(view))
}

// BeginTest godoc
// POST /api/v1/sessions/:id/begin
func (h *SessionHandler) BeginTest(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req model.BeginTestRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	sess, err := h.sessions.BeginTest(c.Request.Context(), id, req.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, toStatusDTO(sess.StatusView()))
}

// SaveAnswer godoc
// PUT /api/v1/sessions/:id/answers/:question_id
// Autosaves one answer while the test is open.
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessions.SaveAnswer(c.Request.Context(), id, c.Param("question_id"), req); err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// Submit godoc
// POST /api/v1/sessions/:id/submit
// Scores the submission. Client-side counts are cross-checked, not trusted.
func (h *SessionHandler) Submit(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	results, err := h.sessions.Submit(c.Request.Context(), id, req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": model.StatusCompleted.WireName(), "results": results})
}

// GetResults godoc
// GET /api/v1/sessions/:id/results
func (h *SessionHandler) GetResults(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	results, err := h.sessions.GetResults(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// ExportAnswers godoc
// GET /api/v1/sessions/:id/export
// Downloads the answers of a completed session as an xlsx workbook.
func (h *SessionHandler) ExportAnswers(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	// Buffered so an error can still be reported as JSON.
	var buf bytes.Buffer
	if err := h.sessions.ExportAnswers(c.Request.Context(), id, &buf); err != nil {
		fail(c, h.log, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(id)+`"`)
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}
