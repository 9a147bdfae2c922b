package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stemsi/psytest-backend/internal/config"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockViolationRepository struct {
	mock.Mock
}

func (m *MockViolationRepository) Append(ctx context.Context, v *model.ProctoringViolation) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

func (m *MockViolationRepository) AppendBatch(ctx context.Context, vs []*model.ProctoringViolation) error {
	args := m.Called(ctx, vs)
	return args.Error(0)
}

func (m *MockViolationRepository) ListBySession(ctx context.Context, sessionID string) ([]model.ProctoringViolation, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).([]model.ProctoringViolation), args.Error(1)
}

type stubReports struct {
	calls int
	err   error
}

func (s *stubReports) GetOrGenerate(_ context.Context, _ string, _ bool) (*model.Report, error) {
	s.calls++
	return nil, s.err
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func violation(session string) *model.ProctoringViolation {
	return &model.ProctoringViolation{
		ID: uuid.NewString(), SessionID: session, UserID: "u-1",
		Type: model.ViolationTabSwitch, Severity: model.SeverityLow, Timestamp: time.Now().UTC(),
	}
}

func TestFlushFallsBackToRowByRowAndDropsOrphans(t *testing.T) {
	repo := new(MockViolationRepository)
	good, orphan := violation("s-1"), violation("gone")
	batch := []*model.ProctoringViolation{good, orphan}

	repo.On("AppendBatch", mock.Anything, batch).Return(repository.ErrOrphanViolation)
	repo.On("Append", mock.Anything, good).Return(nil)
	repo.On("Append", mock.Anything, orphan).Return(repository.ErrOrphanViolation)

	w := NewViolationWorker(repo, nil, zerolog.Nop())
	w.flushSafe(context.Background(), batch)

	repo.AssertExpectations(t)
}

func TestFlushBatchPathSkipsFallback(t *testing.T) {
	repo := new(MockViolationRepository)
	batch := []*model.ProctoringViolation{violation("s-1"), violation("s-1")}
	repo.On("AppendBatch", mock.Anything, batch).Return(nil)

	w := NewViolationWorker(repo, nil, zerolog.Nop())
	w.flushSafe(context.Background(), batch)

	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestFlushRequeuesTransientFailures(t *testing.T) {
	rdb := redisClient(t)
	ctx := context.Background()
	require.NoError(t, rdb.Del(ctx, config.WorkerKey.PersistViolationsQueue).Err())

	repo := new(MockViolationRepository)
	v := violation("s-1")
	down := errors.New("connection refused")
	repo.On("AppendBatch", mock.Anything, mock.Anything).Return(down)
	repo.On("Append", mock.Anything, v).Return(down)

	w := NewViolationWorker(repo, rdb, zerolog.Nop())
	w.requeueDelay = 0
	w.flushSafe(ctx, []*model.ProctoringViolation{v})

	raw, err := rdb.LPop(ctx, config.WorkerKey.PersistViolationsQueue).Result()
	require.NoError(t, err)
	var back model.ProctoringViolation
	require.NoError(t, json.Unmarshal([]byte(raw), &back))
	assert.Equal(t, v.ID, back.ID)
}

func TestViolationWorkerDrainsQueue(t *testing.T) {
	rdb := redisClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rdb.Del(ctx, config.WorkerKey.PersistViolationsQueue).Err())

	repo := repository.NewMemoryViolationRepository()
	v := violation("s-1")
	data, _ := json.Marshal(v)
	require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data, "not json").Err())

	w := NewViolationWorker(repo, rdb, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		got, _ := repo.ListBySession(context.Background(), "s-1")
		return len(got) == 1
	}, 10*time.Second, 100*time.Millisecond)
	cancel()
	<-done
}

func TestReportJobNotRetriedForNonRetryableErrors(t *testing.T) {
	reports := &stubReports{err: apperror.InvalidState("not completed")}
	w := NewReportWorker(reports, nil, zerolog.Nop())

	w.process(context.Background(), reportJob{SessionID: "s-1", Attempt: 1})
	assert.Equal(t, 1, reports.calls)

	reports.err = apperror.GenerationFailed(errors.New("llm down"))
	w.process(context.Background(), reportJob{SessionID: "s-1", Attempt: MaxReportAttempts})
	assert.Equal(t, 2, reports.calls)
}

func TestReportJobRequeuedWithNextAttempt(t *testing.T) {
	rdb := redisClient(t)
	ctx := context.Background()
	require.NoError(t, rdb.Del(ctx, config.WorkerKey.GenerateReportsQueue).Err())

	w := NewReportWorker(&stubReports{err: apperror.GenerationFailed(errors.New("llm down"))}, rdb, zerolog.Nop())
	w.process(ctx, reportJob{SessionID: "s-1", Attempt: 1})

	raw, err := rdb.LPop(ctx, config.WorkerKey.GenerateReportsQueue).Result()
	require.NoError(t, err)
	var job reportJob
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	assert.Equal(t, reportJob{SessionID: "s-1", Attempt: 2}, job)
}

func TestReportQueueEnqueue(t *testing.T) {
	rdb := redisClient(t)
	ctx := context.Background()
	require.NoError(t, rdb.Del(ctx, config.WorkerKey.GenerateReportsQueue).Err())

	require.NoError(t, NewReportQueue(rdb).Enqueue(ctx, "s-9"))
	raw, err := rdb.LPop(ctx, config.WorkerKey.GenerateReportsQueue).Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"s-9","attempt":1}`, raw)
}
