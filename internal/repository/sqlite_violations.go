package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/stemsi/psytest-backend/internal/model"
)

// Append implements ViolationRepository.
func (s *SQLiteStore) Append(ctx context.Context, v *model.ProctoringViolation) error {
	return s.insertViolation(ctx, s.db, v)
}

// AppendBatch writes all rows in one transaction.
func (s *SQLiteStore) AppendBatch(ctx context.Context, vs []*model.ProctoringViolation) error {
	if len(vs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	for _, v := range vs {
		if err := s.insertViolation(ctx, tx, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStore) insertViolation(ctx context.Context, db execer, v *model.ProctoringViolation) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO proctoring_violations (id, session_id, user_id, type, severity, occurred_at, snapshot_ref, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.SessionID, v.UserID, string(v.Type), string(v.Severity), formatTime(v.Timestamp), v.SnapshotRef, v.Description,
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return fmt.Errorf("%w: session %s", ErrOrphanViolation, v.SessionID)
		}
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID string) ([]model.ProctoringViolation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, type, severity, occurred_at, snapshot_ref, description
		 FROM proctoring_violations
		 WHERE session_id = ?
		 ORDER BY occurred_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var out []model.ProctoringViolation
	for rows.Next() {
		var (
			v                       model.ProctoringViolation
			typ, severity, occurred string
			snapshot, description   sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.SessionID, &v.UserID, &typ, &severity, &occurred, &snapshot, &description); err != nil {
			return nil, err
		}
		v.Type = model.ViolationType(typ)
		v.Severity = model.Severity(severity)
		if v.Timestamp, err = parseTime(occurred); err != nil {
			return nil, err
		}
		if snapshot.Valid {
			v.SnapshotRef = &snapshot.String
		}
		if description.Valid {
			v.Description = &description.String
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
