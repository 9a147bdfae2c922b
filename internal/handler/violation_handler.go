package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/response"
	"github.com/stemsi/psytest-backend/internal/service"
	"github.com/stemsi/psytest-backend/internal/validator"
)

// ViolationHandler handles proctoring ingestion and summaries.
type ViolationHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
}

func NewViolationHandler(sessions *service.SessionService, log zerolog.Logger) *ViolationHandler {
	return &ViolationHandler{
		sessions: sessions,
		log:      log.With().Str("component", "violation_handler").Logger(),
	}
}

// RecordViolation godoc
// POST /api/v1/sessions/:id/violations
// Accepted in every session status.
func (h *ViolationHandler) RecordViolation(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req model.RecordViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	v, err := h.sessions.RecordViolation(c.Request.Context(), id, req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"violation": v})
}

// ListViolations godoc
// GET /api/v1/sessions/:id/violations
func (h *ViolationHandler) ListViolations(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	vs, err := h.sessions.ListViolations(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"violations": vs})
}

// ViolationStats godoc
// GET /api/v1/sessions/:id/violations/stats
func (h *ViolationHandler) ViolationStats(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	stats, err := h.sessions.ViolationStats(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"stats": stats})
}
