package report

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stemsi/psytest-backend/internal/config"
	"github.com/stemsi/psytest-backend/internal/lock"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/repository"
	"golang.org/x/sync/singleflight"
)

// EnqueueFunc hands a session to an out-of-process report worker.
type EnqueueFunc func(ctx context.Context, sessionID string) error

// Cache returns the stored report of a session, synthesizing it at most
// once. Concurrent callers in this process share one synthesis through
// singleflight; the lock serializes replicas.
type Cache struct {
	store   repository.SessionStore
	synth   Synthesizer
	locker  lock.Locker
	timeout time.Duration
	enqueue EnqueueFunc
	log     zerolog.Logger

	group singleflight.Group
	wg    sync.WaitGroup
}

func NewCache(store repository.SessionStore, synth Synthesizer, locker lock.Locker, timeout time.Duration, log zerolog.Logger) *Cache {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Cache{
		store:   store,
		synth:   synth,
		locker:  locker,
		timeout: timeout,
		log:     log.With().Str("component", "report_cache").Logger(),
	}
}

// SetEnqueuer routes Ensure through a durable queue instead of a goroutine.
func (c *Cache) SetEnqueuer(fn EnqueueFunc) {
	c.enqueue = fn
}

// Cached returns the stored report without generating one.
func (c *Cache) Cached(ctx context.Context, sessionID string) (*model.Report, error) {
	s, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Report, nil
}

// GetOrGenerate returns the stored report, synthesizing and storing it first
// if needed. force regenerates even when a report exists. A synthesizer
// failure leaves the session untouched.
func (c *Cache) GetOrGenerate(ctx context.Context, sessionID string, force bool) (*model.Report, error) {
	s, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Report != nil && !force {
		return s.Report, nil
	}

	key := sessionID
	if force {
		key += ":force"
	}
	// The shared run must outlive any single caller.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.generate(context.WithoutCancel(ctx), sessionID, force)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Report).Clone(), nil
	}
}

// Ensure schedules generation without waiting for it.
func (c *Cache) Ensure(ctx context.Context, sessionID string) error {
	if c.enqueue != nil {
		return c.enqueue(ctx, sessionID)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.GetOrGenerate(context.WithoutCancel(ctx), sessionID, false); err != nil {
			c.log.Error().Err(err).Str("session_id", sessionID).Msg("Background report generation failed")
		}
	}()
	return nil
}

// Wait blocks until background generation started by Ensure has finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

func (c *Cache) load(ctx context.Context, sessionID string) (*model.Session, error) {
	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != model.StatusCompleted {
		return nil, apperror.InvalidState("report needs a completed session, status is %s", s.Status)
	}
	return s, nil
}

func (c *Cache) generate(ctx context.Context, sessionID string, force bool) (*model.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	unlock, err := c.locker.Lock(ctx, config.CacheKey.ReportLockKey(sessionID))
	if err != nil {
		return nil, apperror.GenerationFailed(err)
	}
	defer unlock()

	// Another replica may have finished while we waited for the lock.
	s, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Report != nil && !force {
		return s.Report, nil
	}

	start := time.Now()
	rep, err := c.synth.Synthesize(ctx, s)
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("Report synthesis failed")
		return nil, apperror.GenerationFailed(err)
	}
	if err := Validate(rep); err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("Synthesized report rejected")
		return nil, apperror.GenerationFailed(err)
	}

	saved, err := c.store.Update(ctx, sessionID, func(cur *model.Session) error {
		if cur.Status != model.StatusCompleted {
			return apperror.InvalidState("report needs a completed session, status is %s", cur.Status)
		}
		if cur.Report != nil && !force {
			return repository.ErrNoChange
		}
		cur.Report = rep.Clone()
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperror.GenerationFailed(err)
		}
		return nil, err
	}

	c.log.Info().
		Str("session_id", sessionID).
		Str("bucket", string(saved.Report.PerformanceBucket)).
		Dur("elapsed", time.Since(start)).
		Bool("forced", force).
		Msg("Report generated")
	return saved.Report, nil
}
