package model

import (
	"time"

	"github.com/stemsi/psytest-backend/internal/apperror"
)

// UserInfo is the candidate snapshot captured when the session is created.
type UserInfo struct {
	Name            string   `json:"name" binding:"required,min=2,max=100" validate:"required,min=2,max=100"`
	Email           string   `json:"email" binding:"required,email" validate:"required,email"`
	Phone           string   `json:"phone,omitempty" binding:"omitempty,max=20" validate:"omitempty,max=20"`
	Age             int      `json:"age,omitempty" binding:"omitempty,min=14,max=100" validate:"omitempty,min=14,max=100"`
	Gender          string   `json:"gender,omitempty" binding:"omitempty,oneof=male female other undisclosed" validate:"omitempty,oneof=male female other undisclosed"`
	Education       string   `json:"education,omitempty" binding:"max=200" validate:"max=200"`
	CurrentRole     string   `json:"current_role,omitempty" binding:"max=100" validate:"max=100"`
	YearsExperience int      `json:"years_experience,omitempty" binding:"min=0,max=60" validate:"min=0,max=60"`
	TargetRole      string   `json:"target_role,omitempty" binding:"max=100" validate:"max=100"`
	Domain          string   `json:"domain" binding:"required,max=100" validate:"required,max=100"`
	Skills          []string `json:"skills,omitempty" binding:"max=50" validate:"max=50"`
}

// Readiness is the per-section availability of generated content.
type Readiness struct {
	Aptitude   bool `json:"aptitude"`
	Behavioral bool `json:"behavioral"`
	Domain     bool `json:"domain"`
}

// Session is one candidate's assessment record.
type Session struct {
	ID              string                `json:"id"`
	UserID          string                `json:"user_id"`
	UserInfo        UserInfo              `json:"user_info"`
	Status          Status                `json:"status"`
	AptitudeReady   bool                  `json:"aptitude_ready"`
	BehavioralReady bool                  `json:"behavioral_ready"`
	DomainReady     bool                  `json:"domain_ready"`
	Questions       []Question            `json:"questions"`
	Answers         []Answer              `json:"answers"`
	Results         *TestResults          `json:"results,omitempty"`
	Report          *Report               `json:"report,omitempty"`
	Violations      []ProctoringViolation `json:"violations,omitempty"`
	GenerationError string                `json:"generation_error,omitempty"`
	Version         int64                 `json:"version"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

// NewSession builds a session in CREATED.
func NewSession(id, userID string, info UserInfo, now time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		UserInfo:  info,
		Status:    StatusCreated,
		Questions: []Question{},
		Answers:   []Answer{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) Readiness() Readiness {
	return Readiness{Aptitude: s.AptitudeReady, Behavioral: s.BehavioralReady, Domain: s.DomainReady}
}

// IsReady reports whether the section's content has been merged.
func (s *Session) IsReady(sec Section) bool {
	switch sec {
	case SectionAptitude:
		return s.AptitudeReady
	case SectionBehavioral:
		return s.BehavioralReady
	case SectionDomain:
		return s.DomainReady
	}
	return false
}

// ReadyCount returns how many sections are available.
func (s *Session) ReadyCount() int {
	n := 0
	for _, sec := range AllSections {
		if s.IsReady(sec) {
			n++
		}
	}
	return n
}

// PendingSections lists sections not yet merged.
func (s *Session) PendingSections() []Section {
	var pending []Section
	for _, sec := range AllSections {
		if !s.IsReady(sec) {
			pending = append(pending, sec)
		}
	}
	return pending
}

// Flags only ever go false → true.
func (s *Session) markReady(sec Section) {
	switch sec {
	case SectionAptitude:
		s.AptitudeReady = true
	case SectionBehavioral:
		s.BehavioralReady = true
	case SectionDomain:
		s.DomainReady = true
	}
}

// recomputeStatus derives the generation status from the readiness flags.
func (s *Session) recomputeStatus() {
	switch s.ReadyCount() {
	case len(AllSections):
		s.Status = StatusReady
	case 0:
	default:
		s.Status = StatusPartialReady
	}
}

// MergeSection appends a generated section and advances the status. It
// returns false, leaving the session untouched, when the section is already
// present or generation is no longer accepting content (e.g. FAILED).
func (s *Session) MergeSection(sec Section, questions []Question) bool {
	if !s.Status.Generating() || s.IsReady(sec) {
		return false
	}
	for _, q := range questions {
		s.Questions = append(s.Questions, q.Clone())
	}
	s.markReady(sec)
	s.recomputeStatus()
	return true
}

// TransitionTo moves the session along a lifecycle edge.
func (s *Session) TransitionTo(next Status) error {
	if !CanTransition(s.Status, next) {
		return apperror.InvalidState("cannot move session from %s to %s", s.Status, next)
	}
	s.Status = next
	return nil
}

// Fail moves a pre-COMPLETED session to FAILED with a reason.
func (s *Session) Fail(reason string) error {
	if err := s.TransitionTo(StatusFailed); err != nil {
		return err
	}
	s.GenerationError = reason
	return nil
}

// QuestionByID finds a question by id.
func (s *Session) QuestionByID(id string) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// QuestionsFor returns the questions belonging to one section.
func (s *Session) QuestionsFor(sec Section) []Question {
	var out []Question
	for _, q := range s.Questions {
		if q.Section == sec {
			out = append(out, q.Clone())
		}
	}
	return out
}

// UpsertAnswer records an autosaved answer, replacing a previous one.
func (s *Session) UpsertAnswer(a Answer) {
	for i := range s.Answers {
		if s.Answers[i].QuestionID == a.QuestionID {
			s.Answers[i] = a.Clone()
			return
		}
	}
	s.Answers = append(s.Answers, a.Clone())
}

// Clone returns a deep copy safe to hand to readers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.UserInfo.Skills = append([]string(nil), s.UserInfo.Skills...)
	out.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		out.Questions[i] = q.Clone()
	}
	out.Answers = make([]Answer, len(s.Answers))
	for i, a := range s.Answers {
		out.Answers[i] = a.Clone()
	}
	if s.Results != nil {
		r := *s.Results
		out.Results = &r
	}
	if s.Report != nil {
		out.Report = s.Report.Clone()
	}
	if s.Violations != nil {
		out.Violations = append([]ProctoringViolation(nil), s.Violations...)
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// ─── Requests ───────────────────────────────────────────────────────

// CreateSessionRequest is the payload for starting a new assessment.
type CreateSessionRequest struct {
	UserID   string   `json:"user_id" binding:"required,max=100"`
	UserInfo UserInfo `json:"user_info"`
}

// BeginTestRequest marks the start of the timed test.
type BeginTestRequest struct {
	UserID string `json:"user_id" binding:"omitempty,max=100"`
}

// StatusView is the lightweight progress snapshot polled by clients.
type StatusView struct {
	SessionID       string    `json:"session_id"`
	Status          Status    `json:"status"`
	Readiness       Readiness `json:"readiness"`
	GenerationError string    `json:"generation_error,omitempty"`
	Version         int64     `json:"version"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s *Session) StatusView() StatusView {
	return StatusView{
		SessionID:       s.ID,
		Status:          s.Status,
		Readiness:       s.Readiness(),
		GenerationError: s.GenerationError,
		Version:         s.Version,
		UpdatedAt:       s.UpdatedAt,
	}
}
