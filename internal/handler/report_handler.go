package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/response"
	"github.com/stemsi/psytest-backend/internal/service"
)

// reportRetryAfter is the poll hint sent while a report is being synthesized.
const reportRetryAfter = 5 * time.Second

// ReportHandler serves the synthesized assessment report.
type ReportHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
}

func NewReportHandler(sessions *service.SessionService, log zerolog.Logger) *ReportHandler {
	return &ReportHandler{
		sessions: sessions,
		log:      log.With().Str("component", "report_handler").Logger(),
	}
}

// GetReport godoc
// GET /api/v1/sessions/:id/report?force=true
// Returns the stored report, synthesizing it on the first request.
func (h *ReportHandler) GetReport(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))

	rep, err := h.sessions.GetReport(c.Request.Context(), id, force)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"report": rep})
}

// RequestReport godoc
// POST /api/v1/sessions/:id/report
// Returns 200 with the report when stored, otherwise schedules synthesis
// and returns 202 so the client can poll GET.
func (h *ReportHandler) RequestReport(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	rep, err := h.sessions.RequestReport(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if rep == nil {
		response.Pending(c, response.ErrReportPending, reportRetryAfter)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"report": rep})
}
