package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/export"
	"github.com/stemsi/psytest-backend/internal/generation"
	"github.com/stemsi/psytest-backend/internal/lock"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/proctoring"
	"github.com/stemsi/psytest-backend/internal/report"
	"github.com/stemsi/psytest-backend/internal/repository"
	"github.com/stemsi/psytest-backend/internal/scoring"
	"github.com/stemsi/psytest-backend/internal/service"
	"github.com/stemsi/psytest-backend/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

type testServer struct {
	engine  *gin.Engine
	store   *repository.MemoryStore
	coord   *generation.Coordinator
	reports *report.Cache
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zerolog.Nop()
	bank, err := generation.NewBankGenerator(3)
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	coord := generation.NewCoordinator(store, bank, generation.Config{
		MaxAttempts: 1, AttemptTimeout: time.Second, MaxConcurrency: 3,
	}, log)
	reports := report.NewCache(store, report.NewTemplateSynthesizer(scoring.DefaultNorm), lock.NewLocalLocker(), 5*time.Second, log)
	ledger := proctoring.NewLedger(repository.NewMemoryViolationRepository(), nil, nil, log)
	svc := service.NewSessionService(store, coord, reports, ledger, log)
	t.Cleanup(func() {
		_ = coord.Shutdown(context.Background())
		reports.Wait()
	})

	sessions := NewSessionHandler(svc, log)
	reportsH := NewReportHandler(svc, log)
	violations := NewViolationHandler(svc, log)
	system := NewSystemHandler(nil, map[string]CheckFunc{
		"store": func(context.Context) error { return nil },
	}, log)

	r := gin.New()
	r.GET("/health", system.Health)
	g := r.Group("/api/v1/sessions")
	g.POST("", sessions.CreateSession)
	g.GET("/:id", sessions.GetSession)
	g.GET("/:id/status", sessions.GetStatus)
	g.GET("/:id/questions", sessions.GetQuestions)
	g.POST("/:id/begin", sessions.BeginTest)
	g.PUT("/:id/answers/:question_id", sessions.SaveAnswer)
	g.POST("/:id/submit", sessions.Submit)
	g.GET("/:id/results", sessions.GetResults)
	g.GET("/:id/export", sessions.ExportAnswers)
	g.GET("/:id/report", reportsH.GetReport)
	g.POST("/:id/report", reportsH.RequestReport)
	g.POST("/:id/violations", violations.RecordViolation)
	g.GET("/:id/violations", violations.ListViolations)
	g.GET("/:id/violations/stats", violations.ViolationStats)

	return &testServer{engine: r, store: store, coord: coord, reports: reports}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func validCreateBody() gin.H {
	return gin.H{
		"user_id": "user-1",
		"user_info": gin.H{
			"name":             "Ayu Lestari",
			"email":            "ayu@example.com",
			"domain":           "software",
			"years_experience": 3,
		},
	}
}

// readySession creates a session over HTTP and waits for generation.
func (s *testServer) readySession(t *testing.T) *model.Session {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/v1/sessions", validCreateBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var data struct {
		Session struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	s.coord.Wait()

	sess, err := s.store.Get(context.Background(), data.Session.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusReady, sess.Status)
	return sess
}

func submitBody(sess *model.Session) gin.H {
	answers := make([]gin.H, 0, len(sess.Questions))
	for _, q := range sess.Questions {
		idx := 0
		if q.CorrectOption != nil {
			idx = *q.CorrectOption
		}
		answers = append(answers, gin.H{"question_id": q.ID, "selected_option": idx})
	}
	return gin.H{
		"user_id": sess.UserID,
		"answers": answers,
		"results": gin.H{
			"total":        len(sess.Questions),
			"attempted":    len(sess.Questions),
			"submitted_by": "user",
		},
	}
}

func TestCreateSessionRejectsInvalidBody(t *testing.T) {
	s := newTestServer(t)
	body := validCreateBody()
	body["user_info"].(gin.H)["email"] = "nope"

	w, env := s.do(t, http.MethodPost, "/api/v1/sessions", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.NotEmpty(t, env.Error.Fields)
}

func TestSessionIDIsChecked(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodGet, "/api/v1/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_ID", env.Error.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/sessions/"+uuid.NewString()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestStatusUsesWireNames(t *testing.T) {
	s := newTestServer(t)
	sess := s.readySession(t)

	w, env := s.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st statusDTO
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "ready", st.Status)
	assert.True(t, st.Readiness.Aptitude)
	assert.True(t, st.Readiness.Behavioral)
	assert.True(t, st.Readiness.Domain)
}

func TestQuestionsHideAnswerKeys(t *testing.T) {
	s := newTestServer(t)
	sess := s.readySession(t)

	w, _ := s.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/questions?section=aptitude", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "correct_option")
	assert.NotContains(t, w.Body.String(), "trait_impacts")

	w, _ = s.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "correct_option")

	w, env := s.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/questions?section=history", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "section")
}

func TestResultsBeforeSubmitConflict(t *testing.T) {
	s := newTestServer(t)
	sess := s.readySession(t)

	for _, path := range []string{"/results", "/export"} {
		w, env := s.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+path, nil)
		assert.Equal(t, http.StatusConflict, w.Code, path)
		require.NotNil(t, env.Error, path)
		assert.Equal(t, "INVALID_STATE", env.Error.Code, path)
	}
}

func TestSaveAnswerRules(t *testing.T) {
	s := newTestServer(t)
	sess := s.readySession(t)
	base := "/api/v1/sessions/" + sess.ID + "/answers/"

	w, _ := s.do(t, http.MethodPut, base+sess.Questions[0].ID, gin.H{"selected_option": 0})
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := s.store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, got.Status)

	w, env := s.do(t, http.MethodPut, base+"missing-99", gin.H{"selected_option": 0})
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, env.Error)

	w, env = s.do(t, http.MethodPut, base+sess.Questions[0].ID, gin.H{"selected_option": 42})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "selected_option")
}

func TestSubmitExportAndReport(t *testing.T) {
	s := newTestServer(t)
	sess := s.readySession(t)
	base := "/api/v1/sessions/" + sess.ID

	w, env := s.do(t, http.MethodPost, base+"/submit", submitBody(sess))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var submitted struct {
		Status  string            `json:"status"`
		Results model.TestResults `json:"results"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &submitted))
	assert.Equal(t, "completed", submitted.Status)
	assert.Equal(t, len(sess.Questions), submitted.Results.Attempted)

	// A second submission is rejected.
	w, env = s.do(t, http.MethodPost, base+"/submit", submitBody(sess))
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_STATE", env.Error.Code)

	w, _ = s.do(t, http.MethodGet, base+"/results", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, base+"/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), export.Filename(sess.ID))
	assert.NotZero(t, w.Body.Len())

	w, env = s.do(t, http.MethodPost, base+"/report", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, string(env.Data), "REPORT_PENDING")
	s.reports.Wait()

	w, env = s.do(t, http.MethodPost, base+"/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var withReport struct {
		Report *model.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &withReport))
	require.NotNil(t, withReport.Report)

	w, _ = s.do(t, http.MethodGet, base+"/report", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"has_report":true`)
	assert.Contains(t, w.Body.String(), "correct_option")
}

func TestViolationEndpoints(t *testing.T) {
	s := newTestServer(t)
	sess := s.readySession(t)
	base := "/api/v1/sessions/" + sess.ID + "/violations"

	w, _ := s.do(t, http.MethodPost, base, gin.H{"type": "tab_switch", "severity": "high"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w, _ = s.do(t, http.MethodPost, base, gin.H{"type": "no_face", "severity": "low"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := s.do(t, http.MethodPost, base, gin.H{"type": "sneezing", "severity": "low"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "type")

	w, env = s.do(t, http.MethodGet, base+"/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"total":2`)

	w, _ = s.do(t, http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/violations", gin.H{"type": "tab_switch", "severity": "high"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, env := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"store":"up"`)
}

func TestTerminalEvent(t *testing.T) {
	assert.True(t, terminalEvent(`{"type":"session.report_generated","session_id":"s"}`))
	assert.True(t, terminalEvent(`{"type":"session.status_changed","status":"failed"}`))
	assert.False(t, terminalEvent(`{"type":"session.status_changed","status":"completed"}`))
	assert.False(t, terminalEvent(`not json`))
}
