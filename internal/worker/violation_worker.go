package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/config"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ViolationWorker drains the persist queue filled by the proctoring ledger
// when the repository was unavailable at record time.
type ViolationWorker struct {
	repo repository.ViolationRepository
	rdb  redis.Cmdable
	log  zerolog.Logger

	requeueDelay time.Duration
}

func NewViolationWorker(repo repository.ViolationRepository, rdb redis.Cmdable, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		repo:         repo,
		rdb:          rdb,
		log:          log.With().Str("component", "violation_worker").Logger(),
		requeueDelay: 2 * time.Second,
	}
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]*model.ProctoringViolation, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var v model.ProctoringViolation
		if err := json.Unmarshal([]byte(result[1]), &v); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed violation payload")
			continue
		}
		buffer = append(buffer, &v)
	}
}

// flushSafe attempts a batch append, then row-by-row, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []*model.ProctoringViolation) {
	if len(batch) == 0 {
		return
	}
	if err := w.repo.AppendBatch(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Batch append failed, attempting row-by-row recovery")
		w.fallbackAppend(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Violations persisted")
}

func (w *ViolationWorker) fallbackAppend(ctx context.Context, batch []*model.ProctoringViolation) {
	requeueList := make([]*model.ProctoringViolation, 0)

	for _, v := range batch {
		err := w.repo.Append(ctx, v)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrOrphanViolation):
			w.log.Error().Str("violation_id", v.ID).Str("session_id", v.SessionID).Msg("Dropping violation for unknown session")
		default:
			w.log.Error().Err(err).Str("violation_id", v.ID).Msg("Append failed, requeueing")
			requeueList = append(requeueList, v)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []*model.ProctoringViolation) {
	pipe := w.rdb.Pipeline()
	for _, v := range items {
		data, _ := json.Marshal(v)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue violations. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed violations")
	// Avoid thrashing while the database is down.
	time.Sleep(w.requeueDelay)
}

func (w *ViolationWorker) shutdown(buffer []*model.ProctoringViolation) {
	w.log.Info().Int("pending", len(buffer)).Msg("Worker stopping, flushing remaining buffer")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(shutdownCtx, buffer)
}
