package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stemsi/psytest-backend/internal/response"
)

// fail maps a service error onto the response envelope.
func fail(c *gin.Context, log zerolog.Logger, err error) {
	if ve, ok := apperror.AsValidation(err); ok {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, ve.Fields())
		return
	}
	switch {
	case apperror.IsValidation(err):
		response.Fail(c, http.StatusBadRequest, response.ErrValidation)
	case apperror.IsNotFound(err):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case apperror.IsInvalidState(err):
		response.Fail(c, http.StatusConflict, response.ErrInvalidState)
	case apperror.IsGenerationFailure(err), errors.Is(err, context.DeadlineExceeded):
		log.Warn().Err(err).Str("path", c.FullPath()).Msg("Generation failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrGenerationFailed)
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// sessionID reads and checks the :id path parameter.
func sessionID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return "", false
	}
	return id, true
}
