package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/repository"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Config tunes retries and concurrency of section generation.
type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryBackoff   time.Duration
	// MaxConcurrency caps generator calls in flight across all sessions.
	MaxConcurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 90 * time.Second
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	return c
}

// Coordinator drives a session from CREATED to READY (or FAILED). Sections
// are generated concurrently and each is merged through a conditional store
// update the moment it succeeds, so readers see PARTIAL_READY progress.
type Coordinator struct {
	store repository.SessionStore
	gen   ContentGenerator
	cfg   Config
	sem   *semaphore.Weighted
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]bool
	closed   bool
	wg       sync.WaitGroup
}

func NewCoordinator(store repository.SessionStore, gen ContentGenerator, cfg Config, log zerolog.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:    store,
		gen:      gen,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		log:      log.With().Str("component", "generation").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]bool),
	}
}

// Start moves a CREATED session to GENERATING and launches generation in
// the background. It never waits for a generator. Calling it again, or on
// a session that is already past CREATED, does not start a second run.
func (c *Coordinator) Start(ctx context.Context, sessionID string) error {
	s, err := c.store.Update(ctx, sessionID, func(s *model.Session) error {
		if s.Status != model.StatusCreated {
			return repository.ErrNoChange
		}
		return s.TransitionTo(model.StatusGenerating)
	})
	if err != nil {
		return err
	}
	if s.Status == model.StatusGenerating || s.Status == model.StatusPartialReady {
		c.launch(s.ID)
	}
	return nil
}

// Resume restarts generation for sessions left mid-flight by a previous
// process. Sections already merged are not generated again.
func (c *Coordinator) Resume(ctx context.Context) (int, error) {
	sessions, err := c.store.ListByStatus(ctx, model.StatusCreated, model.StatusGenerating, model.StatusPartialReady)
	if err != nil {
		return 0, fmt.Errorf("list unfinished sessions: %w", err)
	}
	for _, s := range sessions {
		if err := c.Start(ctx, s.ID); err != nil {
			c.log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to resume generation")
			continue
		}
	}
	if len(sessions) > 0 {
		c.log.Info().Int("count", len(sessions)).Msg("Resumed unfinished generation")
	}
	return len(sessions), nil
}

// Running reports whether a background run is active for the session.
func (c *Coordinator) Running(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[sessionID]
}

// Wait blocks until every background run has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown cancels in-flight runs and waits for them. Interrupted sessions
// keep their status and are picked up by Resume on the next start.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) launch(sessionID string) {
	c.mu.Lock()
	if c.closed || c.inflight[sessionID] {
		c.mu.Unlock()
		return
	}
	c.inflight[sessionID] = true
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, sessionID)
			c.mu.Unlock()
			c.wg.Done()
		}()
		c.run(sessionID)
	}()
}

func (c *Coordinator) run(sessionID string) {
	log := c.log.With().Str("session_id", sessionID).Logger()

	s, err := c.store.Get(c.ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Msg("Cannot load session for generation")
		return
	}
	pending := s.PendingSections()
	if len(pending) == 0 || !s.Status.Generating() {
		return
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(c.ctx)
	for _, sec := range pending {
		g.Go(func() error {
			questions, err := c.generateWithRetry(gctx, log, sec, s.UserInfo)
			if err != nil {
				return fmt.Errorf("%s section: %w", sec, err)
			}
			return c.merge(gctx, log, sessionID, sec, questions)
		})
	}

	err = g.Wait()
	switch {
	case err == nil:
		log.Info().Dur("elapsed", time.Since(start)).Msg("Generation finished")
	case c.ctx.Err() != nil:
		log.Warn().Msg("Generation interrupted by shutdown, will resume on restart")
	default:
		c.fail(log, sessionID, err)
	}
}

func (c *Coordinator) generateWithRetry(ctx context.Context, log zerolog.Logger, sec model.Section, info model.UserInfo) ([]model.Question, error) {
	var errs []error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		questions, err := c.attempt(ctx, sec, info)
		if err == nil {
			return questions, nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, err))
		if ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).
			Str("section", sec.String()).
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.MaxAttempts).
			Msg("Section generation attempt failed")

		if attempt < c.cfg.MaxAttempts && c.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Join(append(errs, ctx.Err())...)
			case <-time.After(c.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}
	}
	return nil, errors.Join(errs...)
}

func (c *Coordinator) attempt(ctx context.Context, sec model.Section, info model.UserInfo) ([]model.Question, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	actx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	questions, err := c.gen.GenerateSection(actx, sec, info)
	if err != nil {
		return nil, err
	}
	return Normalize(sec, questions)
}

func (c *Coordinator) merge(ctx context.Context, log zerolog.Logger, sessionID string, sec model.Section, questions []model.Question) error {
	merged := false
	s, err := c.store.Update(ctx, sessionID, func(s *model.Session) error {
		if !s.MergeSection(sec, questions) {
			return repository.ErrNoChange
		}
		merged = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge %s section: %w", sec, err)
	}
	if !merged {
		log.Info().Str("section", sec.String()).Str("status", s.Status.String()).Msg("Section discarded, session no longer generating")
		return nil
	}
	log.Info().
		Str("section", sec.String()).
		Int("questions", len(questions)).
		Str("status", s.Status.String()).
		Msg("Section ready")
	return nil
}

func (c *Coordinator) fail(log zerolog.Logger, sessionID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.store.Update(ctx, sessionID, func(s *model.Session) error {
		if !s.Status.Generating() {
			return repository.ErrNoChange
		}
		return s.Fail(cause.Error())
	})
	if err != nil {
		log.Error().Err(err).Msg("Could not mark session failed")
		return
	}
	log.Error().Err(cause).Msg("Generation failed, session marked FAILED")
}
