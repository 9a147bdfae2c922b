package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/config"
	"github.com/stemsi/psytest-backend/internal/events"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/service"
)

const (
	keepAliveInterval = 30 * time.Second
	pollInterval      = 2 * time.Second
	snapshotTimeout   = 5 * time.Second
)

// EventsHandler streams a session's progress over SSE. With Redis the
// stream forwards the session's pub/sub channel; without it the handler
// polls the status.
type EventsHandler struct {
	rdb      *redis.Client
	sessions *service.SessionService
	log      zerolog.Logger
}

func NewEventsHandler(rdb *redis.Client, sessions *service.SessionService, log zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		rdb:      rdb,
		sessions: sessions,
		log:      log.With().Str("component", "events_handler").Logger(),
	}
}

// StreamSession godoc
// GET /api/v1/sessions/:id/events
func (h *EventsHandler) StreamSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	view, err := h.sessions.GetStatus(reqCtx, id)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("snapshot", toStatusDTO(view))
	c.Writer.Flush()
	if view.Status.Terminal() {
		return
	}

	h.log.Debug().Str("session_id", id).Msg("Client attached to session stream")
	defer h.log.Debug().Str("session_id", id).Msg("Client detached from session stream")

	if h.rdb == nil {
		h.poll(c, reqCtx, id, view.Version)
		return
	}

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.SessionEventsChannel(id))
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward the event JSON as published.
			c.Writer.Write([]byte("event: session\ndata: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			if terminalEvent(msg.Payload) {
				return
			}
		case <-keepAlive.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *EventsHandler) poll(c *gin.Context, reqCtx context.Context, id string, version int64) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-reqCtx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(reqCtx, snapshotTimeout)
			view, err := h.sessions.GetStatus(ctx, id)
			cancel()
			if err != nil {
				h.log.Warn().Err(err).Str("session_id", id).Msg("Status poll failed")
				continue
			}
			if view.Version == version {
				continue
			}
			version = view.Version
			c.SSEvent("status", toStatusDTO(view))
			c.Writer.Flush()
			if view.Status.Terminal() {
				return
			}
		}
	}
}

// terminalEvent reports whether a published event ends the stream: the
// session failed, or its report is ready.
func terminalEvent(payload string) bool {
	var e events.Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return false
	}
	return e.Type == events.TypeReportGenerated || e.Status == model.StatusFailed.WireName()
}
