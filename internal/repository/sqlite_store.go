package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stemsi/psytest-backend/internal/model"
)

// SQLiteStore is a SessionStore and ViolationRepository backed by an
// embedded SQLite database, used for single-node deployments and tests.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore wraps an open database and ensures the schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assessment_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user_info TEXT NOT NULL,
		status TEXT NOT NULL,
		aptitude_ready INTEGER NOT NULL DEFAULT 0,
		behavioral_ready INTEGER NOT NULL DEFAULT 0,
		domain_ready INTEGER NOT NULL DEFAULT 0,
		questions TEXT NOT NULL DEFAULT '[]',
		answers TEXT NOT NULL DEFAULT '[]',
		results TEXT,
		report TEXT,
		generation_error TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_assessment_sessions_status ON assessment_sessions(status);

	CREATE TABLE IF NOT EXISTS proctoring_violations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		snapshot_ref TEXT,
		description TEXT,
		FOREIGN KEY (session_id) REFERENCES assessment_sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_proctoring_violations_session ON proctoring_violations(session_id, occurred_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const sqliteSessionColumns = `id, user_id, user_info, status, aptitude_ready, behavioral_ready, domain_ready,
	questions, answers, results, report, generation_error, version,
	created_at, updated_at, started_at, completed_at`

// Create inserts a new session record.
func (s *SQLiteStore) Create(ctx context.Context, sess *model.Session) error {
	d, err := encodeDocs(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessment_sessions (`+sqliteSessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, string(d.userInfo), sess.Status.String(),
		sess.AptitudeReady, sess.BehavioralReady, sess.DomainReady,
		string(d.questions), string(d.answers), nullableText(d.results), nullableText(d.report),
		sess.GenerationError, sess.Version,
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt), formatTimePtr(sess.StartedAt), formatTimePtr(sess.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Session, error) {
	return s.get(ctx, id)
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Session, error) {
	return runUpdate(ctx, s, id, fn, s.now)
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]interface{}, len(statuses))
	for i, code := range statusCodes(statuses) {
		args[i] = code
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM assessment_sessions
		 WHERE status IN (`+placeholders+`) ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) get(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM assessment_sessions WHERE id = ?`, id)
	sess, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

func (s *SQLiteStore) swap(ctx context.Context, sess *model.Session, expected int64) error {
	d, err := encodeDocs(sess)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE assessment_sessions
		 SET status = ?, aptitude_ready = ?, behavioral_ready = ?, domain_ready = ?,
		     questions = ?, answers = ?, results = ?, report = ?, generation_error = ?,
		     version = ?, updated_at = ?, started_at = ?, completed_at = ?
		 WHERE id = ? AND version = ?`,
		sess.Status.String(), sess.AptitudeReady, sess.BehavioralReady, sess.DomainReady,
		string(d.questions), string(d.answers), nullableText(d.results), nullableText(d.report), sess.GenerationError,
		sess.Version, formatTime(sess.UpdatedAt), formatTimePtr(sess.StartedAt), formatTimePtr(sess.CompletedAt),
		sess.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteSession(row rowScanner) (*model.Session, error) {
	var (
		sess                     model.Session
		status, userInfo, qs, as string
		results, report          sql.NullString
		createdAt, updatedAt     string
		startedAt, completedAt   sql.NullString
	)
	err := row.Scan(
		&sess.ID, &sess.UserID, &userInfo, &status, &sess.AptitudeReady, &sess.BehavioralReady, &sess.DomainReady,
		&qs, &as, &results, &report, &sess.GenerationError, &sess.Version,
		&createdAt, &updatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if sess.Status, err = model.ParseStatus(status); err != nil {
		return nil, err
	}
	d := sessionDocs{userInfo: []byte(userInfo), questions: []byte(qs), answers: []byte(as)}
	if results.Valid {
		d.results = []byte(results.String)
	}
	if report.Valid {
		d.report = []byte(report.String)
	}
	if err := decodeDocs(&sess, d); err != nil {
		return nil, err
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if sess.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if sess.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func parseTimePtr(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableText(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
