package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/response"
	"github.com/stemsi/psytest-backend/internal/service"
	ws "github.com/stemsi/psytest-backend/internal/websocket"
)

const wsActionTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
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

// ProctorHandler keeps one socket per candidate for autosave and proctoring
// signals during the test.
type ProctorHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewProctorHandler(sessions *service.SessionService, log zerolog.Logger, allowedOrigins []string) *ProctorHandler {
	return &ProctorHandler{
		sessions: sessions,
		log:      log.With().Str("component", "proctor_ws").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ProctorStream godoc
// WS /ws/v1/sessions/:id/proctor
func (h *ProctorHandler) ProctorStream(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	sess, err := h.sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	ws.Keepalive(conn, done)

	wsLog := h.log.With().Str("session_id", id).Str("user_id", sess.UserID).Logger()
	wsLog.Info().Msg("Candidate connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(conn, wsLog, id, &msg)
		case ws.ActionViolation:
			h.handleViolation(conn, wsLog, id, sess.UserID, &msg)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action), nil)
		}
	}
}

func (h *ProctorHandler) handleAutosave(conn *websocket.Conn, log zerolog.Logger, id string, msg *ws.RequestPayload) {
	if msg.QID == "" {
		ws.WriteError(conn, string(response.ErrValidation), "q_id is required", map[string]string{"q_id": "is required"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsActionTimeout)
	defer cancel()

	req := model.SaveAnswerRequest{SelectedOption: msg.SelectedOption, Text: msg.Text}
	if err := h.sessions.SaveAnswer(ctx, id, msg.QID, req); err != nil {
		writeWSError(conn, log, err)
		return
	}
	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QID: msg.QID})
}

func (h *ProctorHandler) handleViolation(conn *websocket.Conn, log zerolog.Logger, id, userID string, msg *ws.RequestPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), wsActionTimeout)
	defer cancel()

	v, err := h.sessions.RecordViolation(ctx, id, model.RecordViolationRequest{
		UserID:      userID,
		Type:        msg.Type,
		Severity:    msg.Severity,
		Timestamp:   msg.Timestamp,
		SnapshotRef: msg.SnapshotRef,
		Description: msg.Description,
	})
	if err != nil {
		writeWSError(conn, log, err)
		return
	}
	ws.WriteTyped(conn, ws.RecordedResponse{Event: ws.EventRecorded, ViolationID: v.ID})
}

func writeWSError(conn *websocket.Conn, log zerolog.Logger, err error) {
	code := response.ErrInternal
	var fields map[string]string
	switch {
	case apperror.IsValidation(err):
		code = response.ErrValidation
		if ve, ok := apperror.AsValidation(err); ok {
			fields = ve.Fields()
		}
	case apperror.IsNotFound(err):
		code = response.ErrNotFound
	case apperror.IsInvalidState(err):
		code = response.ErrInvalidState
	default:
		log.Error().Err(err).Msg("WebSocket action failed")
	}
	ws.WriteError(conn, string(code), response.GetMessage(code), fields)
}
