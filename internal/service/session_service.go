package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stemsi/psytest-backend/internal/export"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/repository"
	"github.com/stemsi/psytest-backend/internal/scoring"
	"github.com/stemsi/psytest-backend/internal/validator"
)

// Generator starts background content generation for a session.
type Generator interface {
	Start(ctx context.Context, sessionID string) error
}

// ReportProvider is the report cache as seen by the service.
type ReportProvider interface {
	Cached(ctx context.Context, sessionID string) (*model.Report, error)
	GetOrGenerate(ctx context.Context, sessionID string, force bool) (*model.Report, error)
	Ensure(ctx context.Context, sessionID string) error
}

// ViolationLedger is the proctoring ledger as seen by the service.
type ViolationLedger interface {
	Record(ctx context.Context, v model.ProctoringViolation) (model.ProctoringViolation, error)
	List(ctx context.Context, sessionID string) ([]model.ProctoringViolation, error)
	Stats(ctx context.Context, sessionID string) (model.ViolationStats, error)
}

// StatusCache serves status polls without touching the session store.
type StatusCache interface {
	Get(ctx context.Context, sessionID string) (model.StatusView, bool)
	Put(ctx context.Context, view model.StatusView) error
}

// SessionService orchestrates the assessment lifecycle for the API layer.
type SessionService struct {
	store      repository.SessionStore
	generator  Generator
	reports    ReportProvider
	ledger     ViolationLedger
	status     StatusCache
	autoReport bool
	log        zerolog.Logger
	now        func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	store repository.SessionStore,
	generator Generator,
	reports ReportProvider,
	ledger ViolationLedger,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		store:     store,
		generator: generator,
		reports:   reports,
		ledger:    ledger,
		log:       log.With().Str("component", "session_service").Logger(),
		now:       time.Now,
	}
}

// SetStatusCache enables the cached fast path of GetStatus.
func (s *SessionService) SetStatusCache(c StatusCache) {
	s.status = c
}

// SetAutoReport schedules report generation right after submission.
func (s *SessionService) SetAutoReport(enabled bool) {
	s.autoReport = enabled
}

// ─── Lifecycle ──────────────────────────────────────────────────────

// CreateSession persists a new session and starts generating its content.
// The call returns as soon as generation has been scheduled.
func (s *SessionService) CreateSession(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, apperror.NewValidationErrors("user_id", "is required", nil)
	}
	req.UserInfo.Domain = strings.TrimSpace(req.UserInfo.Domain)
	if err := validator.Struct("user_info", req.UserInfo); err != nil {
		return nil, err
	}

	sess := model.NewSession(uuid.NewString(), req.UserID, req.UserInfo, s.now().UTC())
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info().Str("session_id", sess.ID).Str("user_id", sess.UserID).Str("domain", sess.UserInfo.Domain).Msg("Session created")

	// A session left in CREATED is picked up by Resume on the next start.
	if err := s.generator.Start(ctx, sess.ID); err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to start generation")
		return sess, nil
	}
	return s.store.Get(ctx, sess.ID)
}

// StartGeneration (re)starts generation. It is a no-op for sessions that are
// already generating or past generation.
func (s *SessionService) StartGeneration(ctx context.Context, id string) (model.StatusView, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return model.StatusView{}, err
	}
	if err := s.generator.Start(ctx, id); err != nil {
		return model.StatusView{}, err
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return model.StatusView{}, err
	}
	return sess.StatusView(), nil
}

// GetSession returns a copy of the session with its violations attached.
func (s *SessionService) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	vs, err := s.ledger.List(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", id).Msg("Failed to attach violations")
	} else {
		sess.Violations = vs
	}
	return sess, nil
}

// GetStatus returns status and readiness, served from the cache when warm.
func (s *SessionService) GetStatus(ctx context.Context, id string) (model.StatusView, error) {
	if s.status != nil {
		if view, ok := s.status.Get(ctx, id); ok {
			return view, nil
		}
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return model.StatusView{}, err
	}
	view := sess.StatusView()
	if s.status != nil {
		if err := s.status.Put(ctx, view); err != nil {
			s.log.Warn().Err(err).Str("session_id", id).Msg("Failed to warm status cache")
		}
	}
	return view, nil
}

// QuestionsView is the candidate-facing question list.
type QuestionsView struct {
	SessionID string                    `json:"session_id"`
	Status    model.Status              `json:"status"`
	Readiness model.Readiness           `json:"readiness"`
	Questions []model.CandidateQuestion `json:"questions"`
}

// GetQuestions returns the questions generated so far, optionally limited to
// one section, without answer keys. Sections still being generated are
// simply absent.
func (s *SessionService) GetQuestions(ctx context.Context, id string, section *model.Section) (QuestionsView, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return QuestionsView{}, err
	}
	view := QuestionsView{
		SessionID: sess.ID,
		Status:    sess.Status,
		Readiness: sess.Readiness(),
		Questions: []model.CandidateQuestion{},
	}
	for _, q := range sess.Questions {
		if section != nil && q.Section != *section {
			continue
		}
		view.Questions = append(view.Questions, q.ForCandidate())
	}
	return view, nil
}

// BeginTest moves a READY session to IN_PROGRESS. Beginning an already
// started test is a no-op.
func (s *SessionService) BeginTest(ctx context.Context, id, userID string) (*model.Session, error) {
	now := s.now().UTC()
	sess, err := s.store.Update(ctx, id, func(cur *model.Session) error {
		if err := checkOwner(cur, userID); err != nil {
			return err
		}
		if cur.Status == model.StatusInProgress {
			return repository.ErrNoChange
		}
		if err := cur.TransitionTo(model.StatusInProgress); err != nil {
			return err
		}
		cur.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("session_id", id).Msg("Test started")
	return sess, nil
}

// SaveAnswer autosaves one answer. The first answer on a READY session
// starts the test.
func (s *SessionService) SaveAnswer(ctx context.Context, id, questionID string, req model.SaveAnswerRequest) error {
	answer := model.Answer{QuestionID: questionID, SelectedOption: req.SelectedOption, Text: req.Text}
	now := s.now().UTC()
	_, err := s.store.Update(ctx, id, func(cur *model.Session) error {
		if !cur.Status.Testable() {
			return apperror.InvalidState("answers are accepted only while the test is open, status is %s", cur.Status)
		}
		q, ok := cur.QuestionByID(questionID)
		if !ok {
			return apperror.NotFound("question", questionID)
		}
		if answer.SelectedOption != nil && !q.ValidOption(*answer.SelectedOption) {
			return apperror.NewValidationErrors("selected_option", fmt.Sprintf("must be between 0 and %d", len(q.Options)-1), *answer.SelectedOption)
		}
		if cur.Status == model.StatusReady {
			if err := cur.TransitionTo(model.StatusInProgress); err != nil {
				return err
			}
			cur.StartedAt = &now
		}
		cur.UpsertAnswer(answer)
		return nil
	})
	return err
}

// Submit scores the submission and completes the session. The stored
// answers are replaced by the submitted ones.
func (s *SessionService) Submit(ctx context.Context, id string, req model.SubmitRequest) (*model.TestResults, error) {
	now := s.now().UTC()
	sess, err := s.store.Update(ctx, id, func(cur *model.Session) error {
		if err := checkOwner(cur, req.UserID); err != nil {
			return err
		}
		if !cur.Status.Testable() {
			return apperror.InvalidState("cannot submit a session in status %s", cur.Status)
		}
		results, err := scoring.Score(cur.Questions, req.Answers, req.Results, now)
		if err != nil {
			return err
		}
		if err := cur.TransitionTo(model.StatusCompleted); err != nil {
			return err
		}
		cur.Answers = make([]model.Answer, len(req.Answers))
		for i, a := range req.Answers {
			cur.Answers[i] = a.Clone()
		}
		cur.Results = &results
		cur.CompletedAt = &now
		if cur.StartedAt == nil {
			cur.StartedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("session_id", id).
		Int("attempted", sess.Results.Attempted).
		Int("correct", sess.Results.Correct).
		Str("submitted_by", string(sess.Results.SubmittedBy)).
		Msg("Test submitted")

	if s.autoReport {
		if err := s.reports.Ensure(ctx, id); err != nil {
			s.log.Error().Err(err).Str("session_id", id).Msg("Failed to schedule report")
		}
	}
	return sess.Results, nil
}

// GetResults returns the statistics computed at submission.
func (s *SessionService) GetResults(ctx context.Context, id string) (*model.TestResults, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.StatusCompleted || sess.Results == nil {
		return nil, apperror.InvalidState("results are available after submission, status is %s", sess.Status)
	}
	return sess.Results, nil
}

// ─── Reports ────────────────────────────────────────────────────────

// GetReport returns the session report, synthesizing it on first request.
func (s *SessionService) GetReport(ctx context.Context, id string, force bool) (*model.Report, error) {
	return s.reports.GetOrGenerate(ctx, id, force)
}

// RequestReport returns the report if one is stored; otherwise it schedules
// generation and returns nil.
func (s *SessionService) RequestReport(ctx context.Context, id string) (*model.Report, error) {
	rep, err := s.reports.Cached(ctx, id)
	if err != nil || rep != nil {
		return rep, err
	}
	if err := s.reports.Ensure(ctx, id); err != nil {
		return nil, fmt.Errorf("schedule report: %w", err)
	}
	return nil, nil
}

// ExportAnswers writes the answers workbook of a completed session.
func (s *SessionService) ExportAnswers(ctx context.Context, id string, w io.Writer) error {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != model.StatusCompleted {
		return apperror.InvalidState("export needs a completed session, status is %s", sess.Status)
	}
	return export.WriteAnswers(w, sess)
}

// ─── Proctoring ─────────────────────────────────────────────────────

// RecordViolation appends a violation regardless of the session's status.
// A failing session lookup does not block the write when the request names
// the user; the ledger then rejects unknown sessions or queues the record.
func (s *SessionService) RecordViolation(ctx context.Context, id string, req model.RecordViolationRequest) (model.ProctoringViolation, error) {
	v := model.ProctoringViolation{
		SessionID:   id,
		UserID:      req.UserID,
		Type:        req.Type,
		Severity:    req.Severity,
		SnapshotRef: req.SnapshotRef,
		Description: req.Description,
	}
	sess, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
		if v.UserID == "" {
			v.UserID = sess.UserID
		}
	case apperror.IsNotFound(err) || v.UserID == "":
		return model.ProctoringViolation{}, err
	default:
		s.log.Warn().Err(err).Str("session_id", id).Msg("Session lookup failed, recording violation anyway")
	}
	if req.Timestamp != nil {
		v.Timestamp = *req.Timestamp
	}
	return s.ledger.Record(ctx, v)
}

func (s *SessionService) ListViolations(ctx context.Context, id string) ([]model.ProctoringViolation, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.List(ctx, id)
}

func (s *SessionService) ViolationStats(ctx context.Context, id string) (model.ViolationStats, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return model.ViolationStats{}, err
	}
	return s.ledger.Stats(ctx, id)
}

func checkOwner(s *model.Session, userID string) error {
	if userID != "" && userID != s.UserID {
		return apperror.NewValidationErrors("user_id", "does not own this session", userID)
	}
	return nil
}

// IsClientError reports whether err is caused by the request rather than
// by the system.
func IsClientError(err error) bool {
	return apperror.IsNotFound(err) || apperror.IsInvalidState(err) || apperror.IsValidation(err) ||
		errors.Is(err, context.Canceled)
}
