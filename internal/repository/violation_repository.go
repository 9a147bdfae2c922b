package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/psytest-backend/internal/model"
)

// ErrOrphanViolation is returned when a violation references a session
// that does not exist. Such events can never be persisted.
var ErrOrphanViolation = errors.New("violation references unknown session")

// ViolationRepository is the append-only store behind the proctoring ledger.
// Appending an id that already exists is a no-op so requeued events stay
// idempotent.
type ViolationRepository interface {
	Append(ctx context.Context, v *model.ProctoringViolation) error
	AppendBatch(ctx context.Context, vs []*model.ProctoringViolation) error
	ListBySession(ctx context.Context, sessionID string) ([]model.ProctoringViolation, error)
}

// ─── PostgreSQL ─────────────────────────────────────────────────────

// PgViolationRepository persists violations in proctoring_violations.
type PgViolationRepository struct {
	pool *pgxpool.Pool
}

func NewPgViolationRepository(pool *pgxpool.Pool) *PgViolationRepository {
	return &PgViolationRepository{pool: pool}
}

func (r *PgViolationRepository) Append(ctx context.Context, v *model.ProctoringViolation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctoring_violations (id, session_id, user_id, type, severity, occurred_at, snapshot_ref, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		v.ID, v.SessionID, v.UserID, string(v.Type), string(v.Severity), v.Timestamp, v.SnapshotRef, v.Description,
	)
	return mapPgViolationError(err)
}

// AppendBatch uses COPY. A single bad row fails the whole batch, callers
// fall back to Append per row.
func (r *PgViolationRepository) AppendBatch(ctx context.Context, vs []*model.ProctoringViolation) error {
	if len(vs) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(vs))
	for _, v := range vs {
		rows = append(rows, []interface{}{
			v.ID, v.SessionID, v.UserID, string(v.Type), string(v.Severity), v.Timestamp, v.SnapshotRef, v.Description,
		})
	}
	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctoring_violations"},
		[]string{"id", "session_id", "user_id", "type", "severity", "occurred_at", "snapshot_ref", "description"},
		pgx.CopyFromRows(rows),
	)
	return mapPgViolationError(err)
}

func (r *PgViolationRepository) ListBySession(ctx context.Context, sessionID string) ([]model.ProctoringViolation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, session_id::text, user_id, type, severity, occurred_at, snapshot_ref, description
		 FROM proctoring_violations
		 WHERE session_id = $1
		 ORDER BY occurred_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var out []model.ProctoringViolation
	for rows.Next() {
		var (
			v             model.ProctoringViolation
			typ, severity string
		)
		if err := rows.Scan(&v.ID, &v.SessionID, &v.UserID, &typ, &severity, &v.Timestamp, &v.SnapshotRef, &v.Description); err != nil {
			return nil, err
		}
		v.Type = model.ViolationType(typ)
		v.Severity = model.Severity(severity)
		out = append(out, v)
	}
	return out, rows.Err()
}

func mapPgViolationError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: %s", ErrOrphanViolation, pgErr.Detail)
	}
	return err
}

// ─── In-memory ──────────────────────────────────────────────────────

// MemoryViolationRepository keeps violations in process memory.
type MemoryViolationRepository struct {
	mu    sync.RWMutex
	seen  map[string]bool
	items map[string][]model.ProctoringViolation
}

func NewMemoryViolationRepository() *MemoryViolationRepository {
	return &MemoryViolationRepository{
		seen:  make(map[string]bool),
		items: make(map[string][]model.ProctoringViolation),
	}
}

func (m *MemoryViolationRepository) Append(_ context.Context, v *model.ProctoringViolation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(v)
	return nil
}

func (m *MemoryViolationRepository) AppendBatch(_ context.Context, vs []*model.ProctoringViolation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vs {
		m.appendLocked(v)
	}
	return nil
}

func (m *MemoryViolationRepository) appendLocked(v *model.ProctoringViolation) {
	if m.seen[v.ID] {
		return
	}
	m.seen[v.ID] = true
	m.items[v.SessionID] = append(m.items[v.SessionID], *v)
}

func (m *MemoryViolationRepository) ListBySession(_ context.Context, sessionID string) ([]model.ProctoringViolation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ProctoringViolation, len(m.items[sessionID]))
	copy(out, m.items[sessionID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
