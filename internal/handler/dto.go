package handler

import (
	"time"

	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/service"
)

// Responses carry wire status names ("partial_ready"), never the storage
// codes used by model.Status.

type statusDTO struct {
	SessionID       string          `json:"session_id"`
	Status          string          `json:"status"`
	Readiness       model.Readiness `json:"readiness"`
	GenerationError string          `json:"generation_error,omitempty"`
	Version         int64           `json:"version"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toStatusDTO(v model.StatusView) statusDTO {
	return statusDTO{
		SessionID:       v.SessionID,
		Status:          v.Status.WireName(),
		Readiness:       v.Readiness,
		GenerationError: v.GenerationError,
		Version:         v.Version,
		UpdatedAt:       v.UpdatedAt,
	}
}

type sessionDTO struct {
	ID              string                      `json:"id"`
	UserID          string                      `json:"user_id"`
	UserInfo        model.UserInfo              `json:"user_info"`
	Status          string                      `json:"status"`
	Readiness       model.Readiness             `json:"readiness"`
	Questions       interface{}                 `json:"questions"`
	Answers         []model.Answer              `json:"answers"`
	Results         *model.TestResults          `json:"results,omitempty"`
	HasReport       bool                        `json:"has_report"`
	Violations      []model.ProctoringViolation `json:"violations"`
	GenerationError string                      `json:"generation_error,omitempty"`
	Version         int64                       `json:"version"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
	StartedAt       *time.Time                  `json:"started_at,omitempty"`
	CompletedAt     *time.Time                  `json:"completed_at,omitempty"`
}

// toSessionDTO reveals answer keys and trait scoring only once the session
// is completed.
func toSessionDTO(s *model.Session) sessionDTO {
	dto := sessionDTO{
		ID:              s.ID,
		UserID:          s.UserID,
		UserInfo:        s.UserInfo,
		Status:          s.Status.WireName(),
		Readiness:       s.Readiness(),
		Answers:         s.Answers,
		Results:         s.Results,
		HasReport:       s.Report != nil,
		Violations:      s.Violations,
		GenerationError: s.GenerationError,
		Version:         s.Version,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
	}
	if s.Status == model.StatusCompleted {
		dto.Questions = s.Questions
	} else {
		qs := make([]model.CandidateQuestion, 0, len(s.Questions))
		for _, q := range s.Questions {
			qs = append(qs, q.ForCandidate())
		}
		dto.Questions = qs
	}
	if dto.Answers == nil {
		dto.Answers = []model.Answer{}
	}
	if dto.Violations == nil {
		dto.Violations = []model.ProctoringViolation{}
	}
	return dto
}

type questionsDTO struct {
	SessionID string                    `json:"session_id"`
	Status    string                    `json:"status"`
	Readiness model.Readiness           `json:"readiness"`
	Questions []model.CandidateQuestion `json:"questions"`
}

func toQuestionsDTO(v service.QuestionsView) questionsDTO {
	return questionsDTO{
		SessionID: v.SessionID,
		Status:    v.Status.WireName(),
		Readiness: v.Readiness,
		Questions: v.Questions,
	}
}
