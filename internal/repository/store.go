package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stemsi/psytest-backend/internal/model"
)

var (
	// ErrSessionNotFound matches apperror.ErrNotFound.
	ErrSessionNotFound = fmt.Errorf("session %w", apperror.ErrNotFound)

	// ErrVersionConflict is returned when a conditional write lost the race.
	ErrVersionConflict = errors.New("session version conflict")

	// ErrNoChange may be returned by an update function to skip the write.
	ErrNoChange = errors.New("no change")
)

// maxUpdateAttempts bounds optimistic retries per Update call.
const maxUpdateAttempts = 8

// UpdateFunc mutates a private copy of the current record.
type UpdateFunc func(s *model.Session) error

// SessionStore is durable keyed storage for session records. Every mutation
// goes through Update, which applies fn to the latest committed version and
// writes it back conditionally, so concurrent writers never lose updates.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*model.Session, error)
	ListByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Session, error)
}

// casBackend is implemented by the SQL stores.
type casBackend interface {
	get(ctx context.Context, id string) (*model.Session, error)
	// swap writes s if the stored version still equals expected.
	swap(ctx context.Context, s *model.Session, expected int64) error
}

// runUpdate is the read-modify-write loop shared by the SQL stores.
func runUpdate(ctx context.Context, b casBackend, id string, fn UpdateFunc, now func() time.Time) (*model.Session, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, err := b.get(ctx, id)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				return current, nil
			}
			return nil, err
		}

		expected := current.Version
		next.Version = expected + 1
		next.UpdatedAt = now()

		err = b.swap(ctx, next, expected)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("update session %s: %w after %d attempts", id, ErrVersionConflict, maxUpdateAttempts)
}

// ─── JSON column helpers ────────────────────────────────────────────

// sessionDocs holds the JSON-encoded nested columns of a session row.
type sessionDocs struct {
	userInfo  []byte
	questions []byte
	answers   []byte
	results   []byte
	report    []byte
}

func encodeDocs(s *model.Session) (sessionDocs, error) {
	var d sessionDocs
	var err error
	if d.userInfo, err = json.Marshal(s.UserInfo); err != nil {
		return d, fmt.Errorf("encode user_info: %w", err)
	}
	questions := s.Questions
	if questions == nil {
		questions = []model.Question{}
	}
	if d.questions, err = json.Marshal(questions); err != nil {
		return d, fmt.Errorf("encode questions: %w", err)
	}
	answers := s.Answers
	if answers == nil {
		answers = []model.Answer{}
	}
	if d.answers, err = json.Marshal(answers); err != nil {
		return d, fmt.Errorf("encode answers: %w", err)
	}
	if s.Results != nil {
		if d.results, err = json.Marshal(s.Results); err != nil {
			return d, fmt.Errorf("encode results: %w", err)
		}
	}
	if s.Report != nil {
		if d.report, err = json.Marshal(s.Report); err != nil {
			return d, fmt.Errorf("encode report: %w", err)
		}
	}
	return d, nil
}

func decodeDocs(s *model.Session, d sessionDocs) error {
	if err := json.Unmarshal(d.userInfo, &s.UserInfo); err != nil {
		return fmt.Errorf("decode user_info: %w", err)
	}
	if err := json.Unmarshal(d.questions, &s.Questions); err != nil {
		return fmt.Errorf("decode questions: %w", err)
	}
	if err := json.Unmarshal(d.answers, &s.Answers); err != nil {
		return fmt.Errorf("decode answers: %w", err)
	}
	if len(d.results) > 0 {
		s.Results = &model.TestResults{}
		if err := json.Unmarshal(d.results, s.Results); err != nil {
			return fmt.Errorf("decode results: %w", err)
		}
	}
	if len(d.report) > 0 {
		s.Report = &model.Report{}
		if err := json.Unmarshal(d.report, s.Report); err != nil {
			return fmt.Errorf("decode report: %w", err)
		}
	}
	return nil
}

func statusCodes(statuses []model.Status) []string {
	codes := make([]string, len(statuses))
	for i, st := range statuses {
		codes[i] = st.String()
	}
	return codes
}
