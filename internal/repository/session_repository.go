package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/psytest-backend/internal/model"
)

// SessionRepository is the PostgreSQL SessionStore.
type SessionRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool, now: time.Now}
}

const sessionColumns = `id, user_id, user_info, status, aptitude_ready, behavioral_ready, domain_ready,
	questions, answers, results, report, generation_error, version,
	created_at, updated_at, started_at, completed_at`

// selectColumns matches sessionColumns with the uuid rendered as text.
const selectColumns = `id::text, user_id, user_info, status, aptitude_ready, behavioral_ready, domain_ready,
	questions, answers, results, report, generation_error, version,
	created_at, updated_at, started_at, completed_at`

// Create inserts a new session record.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	d, err := encodeDocs(s)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO assessment_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		s.ID, s.UserID, d.userInfo, s.Status.String(), s.AptitudeReady, s.BehavioralReady, s.DomainReady,
		d.questions, d.answers, nullableJSON(d.results), nullableJSON(d.report), s.GenerationError, s.Version,
		s.CreatedAt, s.UpdatedAt, s.StartedAt, s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get retrieves a session by id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*model.Session, error) {
	return r.get(ctx, id)
}

// Update applies fn with optimistic concurrency on the version column.
func (r *SessionRepository) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Session, error) {
	return runUpdate(ctx, r, id, fn, r.now)
}

// ListByStatus returns sessions in any of the given statuses, oldest first.
func (r *SessionRepository) ListByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+selectColumns+`
		 FROM assessment_sessions
		 WHERE status = ANY($1)
		 ORDER BY created_at ASC`, statusCodes(statuses),
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) get(ctx context.Context, id string) (*model.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSessionNotFound
	}
	row := r.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM assessment_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (r *SessionRepository) swap(ctx context.Context, s *model.Session, expected int64) error {
	d, err := encodeDocs(s)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET status = $1, aptitude_ready = $2, behavioral_ready = $3, domain_ready = $4,
		     questions = $5, answers = $6, results = $7, report = $8, generation_error = $9,
		     version = $10, updated_at = $11, started_at = $12, completed_at = $13
		 WHERE id = $14 AND version = $15`,
		s.Status.String(), s.AptitudeReady, s.BehavioralReady, s.DomainReady,
		d.questions, d.answers, nullableJSON(d.results), nullableJSON(d.report), s.GenerationError,
		s.Version, s.UpdatedAt, s.StartedAt, s.CompletedAt,
		s.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var (
		s      model.Session
		status string
		d      sessionDocs
	)
	err := row.Scan(
		&s.ID, &s.UserID, &d.userInfo, &status, &s.AptitudeReady, &s.BehavioralReady, &s.DomainReady,
		&d.questions, &d.answers, &d.results, &d.report, &s.GenerationError, &s.Version,
		&s.CreatedAt, &s.UpdatedAt, &s.StartedAt, &s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if s.Status, err = model.ParseStatus(status); err != nil {
		return nil, err
	}
	if err := decodeDocs(&s, d); err != nil {
		return nil, err
	}
	return &s, nil
}

// nullableJSON maps an empty document to SQL NULL.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
