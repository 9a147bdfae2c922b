package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stemsi/psytest-backend/internal/config"
	"github.com/stemsi/psytest-backend/internal/model"
)

// MaxReportAttempts bounds how often a queued report is retried.
const MaxReportAttempts = 3

// ReportGenerator is the part of the report cache the worker drives.
type ReportGenerator interface {
	GetOrGenerate(ctx context.Context, sessionID string, force bool) (*model.Report, error)
}

type reportJob struct {
	SessionID string `json:"session_id"`
	Attempt   int    `json:"attempt"`
}

// ReportQueue enqueues report jobs for ReportWorker.
type ReportQueue struct {
	rdb redis.Cmdable
}

func NewReportQueue(rdb redis.Cmdable) *ReportQueue {
	return &ReportQueue{rdb: rdb}
}

// Enqueue matches report.EnqueueFunc.
func (q *ReportQueue) Enqueue(ctx context.Context, sessionID string) error {
	return push(ctx, q.rdb, reportJob{SessionID: sessionID, Attempt: 1})
}

func push(ctx context.Context, rdb redis.Cmdable, job reportJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return rdb.RPush(ctx, config.WorkerKey.GenerateReportsQueue, data).Err()
}

// ReportWorker generates reports for completed sessions off the request path.
type ReportWorker struct {
	reports ReportGenerator
	rdb     redis.Cmdable
	log     zerolog.Logger
}

func NewReportWorker(reports ReportGenerator, rdb redis.Cmdable, log zerolog.Logger) *ReportWorker {
	return &ReportWorker{
		reports: reports,
		rdb:     rdb,
		log:     log.With().Str("component", "report_worker").Logger(),
	}
}

func (w *ReportWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ReportWorker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ReportWorker stopped")
			return
		default:
		}

		item, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.GenerateReportsQueue).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("BLPop error, sleeping 3s")
				time.Sleep(3 * time.Second)
			}
			continue
		}
		if len(item) < 2 {
			continue
		}

		var job reportJob
		if err := json.Unmarshal([]byte(item[1]), &job); err != nil || job.SessionID == "" {
			w.log.Error().Err(err).Str("data", item[1]).Msg("Discarding malformed report job")
			continue
		}
		w.process(ctx, job)
	}
}

func (w *ReportWorker) process(ctx context.Context, job reportJob) {
	log := w.log.With().Str("session_id", job.SessionID).Int("attempt", job.Attempt).Logger()

	_, err := w.reports.GetOrGenerate(ctx, job.SessionID, false)
	if err == nil {
		log.Debug().Msg("Report ready")
		return
	}
	if !retryable(err) || job.Attempt >= MaxReportAttempts {
		log.Error().Err(err).Msg("Report job dropped")
		return
	}

	job.Attempt++
	if err := push(context.WithoutCancel(ctx), w.rdb, job); err != nil {
		log.Error().Err(err).Msg("CRITICAL: Failed to requeue report job")
		return
	}
	log.Warn().Err(err).Msg("Report generation failed, requeued")
}

// A session that is missing or not completed will not become reportable by
// retrying.
func retryable(err error) bool {
	return !apperror.IsNotFound(err) && !apperror.IsInvalidState(err)
}
