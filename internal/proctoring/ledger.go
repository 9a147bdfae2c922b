// Package proctoring records integrity violations reported by the client
// during a test.
package proctoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stemsi/psytest-backend/internal/config"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/repository"
)

// Queue is the durable fallback for violations the repository could not
// take right away. A worker drains it later.
type Queue interface {
	Push(ctx context.Context, v *model.ProctoringViolation) error
}

// Notifier is told about every accepted violation.
type Notifier interface {
	ViolationRecorded(ctx context.Context, v model.ProctoringViolation)
}

// Ledger is the append-only record of violations per session. Recording
// never changes session status; whether violations invalidate a test is a
// policy decision for the caller.
type Ledger struct {
	repo     repository.ViolationRepository
	queue    Queue
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

func NewLedger(repo repository.ViolationRepository, queue Queue, notifier Notifier, log zerolog.Logger) *Ledger {
	return &Ledger{
		repo:     repo,
		queue:    queue,
		notifier: notifier,
		log:      log.With().Str("component", "proctoring").Logger(),
		now:      time.Now,
	}
}

// Record validates and stores a violation. Missing id and timestamp are
// assigned. If the repository is unavailable the violation goes to the
// queue; only when both fail is an error returned.
func (l *Ledger) Record(ctx context.Context, v model.ProctoringViolation) (model.ProctoringViolation, error) {
	if err := Validate(v); err != nil {
		return v, err
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = l.now()
	}
	v.Timestamp = v.Timestamp.UTC()

	log := l.log.With().
		Str("session_id", v.SessionID).
		Str("violation_id", v.ID).
		Str("type", string(v.Type)).
		Logger()

	if err := l.repo.Append(ctx, &v); err != nil {
		if errors.Is(err, repository.ErrOrphanViolation) {
			return v, apperror.NotFound("session", v.SessionID)
		}
		if l.queue == nil {
			return v, fmt.Errorf("record violation: %w", err)
		}
		log.Warn().Err(err).Msg("Violation store unavailable, queueing")
		if qerr := l.queue.Push(ctx, &v); qerr != nil {
			log.Error().Err(qerr).Msg("CRITICAL: Failed to queue violation. Data loss occurred.")
			return v, fmt.Errorf("record violation: %w", errors.Join(err, qerr))
		}
	}

	log.Info().Str("severity", string(v.Severity)).Msg("Violation recorded")
	if l.notifier != nil {
		l.notifier.ViolationRecorded(ctx, v)
	}
	return v, nil
}

// List returns the session's violations in time order.
func (l *Ledger) List(ctx context.Context, sessionID string) ([]model.ProctoringViolation, error) {
	vs, err := l.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].Timestamp.Before(vs[j].Timestamp) })
	if vs == nil {
		vs = []model.ProctoringViolation{}
	}
	return vs, nil
}

// Stats tallies the session's violations.
func (l *Ledger) Stats(ctx context.Context, sessionID string) (model.ViolationStats, error) {
	vs, err := l.List(ctx, sessionID)
	if err != nil {
		return model.ViolationStats{}, err
	}
	return Tally(sessionID, vs), nil
}

// Tally summarizes violations by type and severity.
func Tally(sessionID string, vs []model.ProctoringViolation) model.ViolationStats {
	stats := model.ViolationStats{
		SessionID:  sessionID,
		Total:      len(vs),
		ByType:     make(map[model.ViolationType]int),
		BySeverity: make(map[model.Severity]int),
	}
	for i := range vs {
		v := vs[i]
		stats.ByType[v.Type]++
		stats.BySeverity[v.Severity]++
		if stats.FirstAt == nil || v.Timestamp.Before(*stats.FirstAt) {
			t := v.Timestamp
			stats.FirstAt = &t
		}
		if stats.LastAt == nil || v.Timestamp.After(*stats.LastAt) {
			t := v.Timestamp
			stats.LastAt = &t
		}
	}
	return stats
}

// Validate checks the fields a client controls.
func Validate(v model.ProctoringViolation) error {
	var ve apperror.ValidationErrors
	if strings.TrimSpace(v.SessionID) == "" {
		ve.Add("session_id", "is required", nil)
	}
	if strings.TrimSpace(v.UserID) == "" {
		ve.Add("user_id", "is required", nil)
	}
	if !v.Type.Valid() {
		ve.Add("type", "is not a known violation type", v.Type)
	}
	if !v.Severity.Valid() {
		ve.Add("severity", "must be one of low, medium, high, critical", v.Severity)
	}
	return ve.Err()
}

// ─── Redis queue ────────────────────────────────────────────────────

// RedisQueue pushes violations onto the persist queue drained by the
// violation worker.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func (q *RedisQueue) Push(ctx context.Context, v *model.ProctoringViolation) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err()
}
