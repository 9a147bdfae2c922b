package proctoring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/apperror"
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
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ProctoringViolation), args.Error(1)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Push(ctx context.Context, v *model.ProctoringViolation) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

type recordingNotifier struct {
	got []model.ProctoringViolation
}

func (n *recordingNotifier) ViolationRecorded(_ context.Context, v model.ProctoringViolation) {
	n.got = append(n.got, v)
}

var fixedNow = time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)

func newLedger(repo repository.ViolationRepository, queue Queue, n Notifier) *Ledger {
	l := NewLedger(repo, queue, n, zerolog.Nop())
	l.now = func() time.Time { return fixedNow }
	return l
}

func validViolation() model.ProctoringViolation {
	return model.ProctoringViolation{SessionID: "s-1", UserID: "u-1", Type: model.ViolationTabSwitch, Severity: model.SeverityHigh}
}

func TestRecordAssignsIdentityAndNotifies(t *testing.T) {
	repo := new(MockViolationRepository)
	repo.On("Append", mock.Anything, mock.AnythingOfType("*model.ProctoringViolation")).Return(nil)
	n := &recordingNotifier{}
	l := newLedger(repo, nil, n)

	v, err := l.Record(context.Background(), validViolation())
	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, fixedNow, v.Timestamp)
	require.Len(t, n.got, 1)
	assert.Equal(t, v.ID, n.got[0].ID)
	repo.AssertExpectations(t)
}

func TestRecordRejectsInvalidInput(t *testing.T) {
	repo := new(MockViolationRepository)
	l := newLedger(repo, nil, nil)

	bad := validViolation()
	bad.Type = "looked_away"
	bad.Severity = "extreme"
	_, err := l.Record(context.Background(), bad)
	require.Error(t, err)
	ve, ok := apperror.AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, ve.Fields(), "type")
	assert.Contains(t, ve.Fields(), "severity")
	repo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestRecordFallsBackToQueue(t *testing.T) {
	repo := new(MockViolationRepository)
	repo.On("Append", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	queue := new(MockQueue)
	queue.On("Push", mock.Anything, mock.MatchedBy(func(v *model.ProctoringViolation) bool {
		return v.SessionID == "s-1" && v.ID != ""
	})).Return(nil)
	n := &recordingNotifier{}
	l := newLedger(repo, queue, n)

	_, err := l.Record(context.Background(), validViolation())
	require.NoError(t, err)
	assert.Len(t, n.got, 1)
	queue.AssertExpectations(t)
}

func TestRecordFailsWhenStoreAndQueueFail(t *testing.T) {
	repo := new(MockViolationRepository)
	repo.On("Append", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	queue := new(MockQueue)
	queue.On("Push", mock.Anything, mock.Anything).Return(errors.New("redis down"))
	n := &recordingNotifier{}
	l := newLedger(repo, queue, n)

	_, err := l.Record(context.Background(), validViolation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Empty(t, n.got)
}

func TestRecordUnknownSessionIsNotFound(t *testing.T) {
	repo := new(MockViolationRepository)
	repo.On("Append", mock.Anything, mock.Anything).Return(fmt.Errorf("%w: key missing", repository.ErrOrphanViolation))
	queue := new(MockQueue)
	l := newLedger(repo, queue, nil)

	_, err := l.Record(context.Background(), validViolation())
	assert.True(t, apperror.IsNotFound(err))
	queue.AssertNotCalled(t, "Push", mock.Anything, mock.Anything)
}

func TestStatsTalliesByTypeAndSeverity(t *testing.T) {
	repo := repository.NewMemoryViolationRepository()
	l := newLedger(repo, nil, nil)
	ctx := context.Background()

	for i, typ := range []model.ViolationType{model.ViolationTabSwitch, model.ViolationTabSwitch, model.ViolationNoFace} {
		v := validViolation()
		v.Type = typ
		v.Timestamp = fixedNow.Add(time.Duration(i) * time.Minute)
		if typ == model.ViolationNoFace {
			v.Severity = model.SeverityCritical
		}
		_, err := l.Record(ctx, v)
		require.NoError(t, err)
	}

	stats, err := l.Stats(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByType[model.ViolationTabSwitch])
	assert.Equal(t, 1, stats.BySeverity[model.SeverityCritical])
	assert.Equal(t, fixedNow, *stats.FirstAt)
	assert.Equal(t, fixedNow.Add(2*time.Minute), *stats.LastAt)

	empty, err := l.List(ctx, "none")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
