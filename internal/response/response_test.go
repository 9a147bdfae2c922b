package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/fail", func(c *gin.Context) { Fail(c, http.StatusConflict, ErrInvalidState) })
	r.GET("/pending", func(c *gin.Context) { Pending(c, ErrReportPending, 5*time.Second) })
	return r
}

func TestRequestIDIsEchoedOrGenerated(t *testing.T) {
	r := newEngine()

	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set(HeaderRequestID, "trace-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "trace-123", w.Header().Get(HeaderRequestID))

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "trace-123", body.Metadata.RequestID)
	require.NotNil(t, body.Error)
	assert.Equal(t, ErrInvalidState, body.Error.Code)
	assert.Equal(t, GetMessage(ErrInvalidState), body.Error.Message)

	req = httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set(HeaderRequestID, strings.Repeat("x", 200))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Len(t, w.Header().Get(HeaderRequestID), 36)
}

func TestPendingSetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	newEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pending", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"code":"REPORT_PENDING"`)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)
}
