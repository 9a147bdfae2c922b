package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/cache"
	"github.com/stemsi/psytest-backend/internal/config"
	"github.com/stemsi/psytest-backend/internal/database"
	"github.com/stemsi/psytest-backend/internal/events"
	"github.com/stemsi/psytest-backend/internal/generation"
	"github.com/stemsi/psytest-backend/internal/handler"
	"github.com/stemsi/psytest-backend/internal/llm"
	"github.com/stemsi/psytest-backend/internal/lock"
	"github.com/stemsi/psytest-backend/internal/logger"
	"github.com/stemsi/psytest-backend/internal/middleware"
	"github.com/stemsi/psytest-backend/internal/proctoring"
	"github.com/stemsi/psytest-backend/internal/report"
	"github.com/stemsi/psytest-backend/internal/repository"
	"github.com/stemsi/psytest-backend/internal/router"
	"github.com/stemsi/psytest-backend/internal/scoring"
	"github.com/stemsi/psytest-backend/internal/service"
	"github.com/stemsi/psytest-backend/internal/validator"
	"github.com/stemsi/psytest-backend/internal/worker"
)

const reportLockTTL = 3 * time.Minute

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("store", cfg.StoreDriver).
		Str("generator", cfg.GeneratorDriver).
		Msg("Starting Psytest Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handler.CheckFunc{}

	// ─── Open Session Store ────────────────────────────────────────────
	var (
		baseStore     repository.SessionStore
		violationRepo repository.ViolationRepository
	)
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := database.NewSQLiteDB(cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open SQLite")
		}
		defer db.Close()
		store, err := repository.NewSQLiteStore(db)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare SQLite schema")
		}
		baseStore, violationRepo = store, store
		checks["sqlite"] = sqlCheck(db)
	default:
		if cfg.AutoMigrate {
			if err := database.MigrateUp(cfg.DatabaseURL, log); err != nil {
				log.Fatal().Err(err).Msg("Failed to migrate database")
			}
		}
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		baseStore = repository.NewSessionRepository(pool)
		violationRepo = repository.NewPgViolationRepository(pool)
		checks["postgres"] = pgCheck(pool)
	}

	// ─── Connect to Redis ──────────────────────────────────────────────
	var rdb *redis.Client
	if cfg.RedisEnabled {
		client, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer client.Close()
		rdb = client
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		log.Warn().Msg("Redis disabled, running single-replica without queues")
	}

	// ─── Domain Events ─────────────────────────────────────────────────
	emitter, err := buildEmitter(ctx, cfg, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize event publishers")
	}
	defer emitter.Close()

	observers := []repository.Observer{emitter}
	var statusCache *cache.StatusCache
	if rdb != nil {
		statusCache = cache.NewStatusCache(rdb, cfg.StatusCacheTTL, log)
		observers = append(observers, statusCache)
	}
	store := repository.NewObservedStore(baseStore, observers...)

	// ─── Generation ────────────────────────────────────────────────────
	norm := scoring.Norm{Mean: cfg.ReportNormMean, StdDev: cfg.ReportNormStdDev}

	var (
		contentGen generation.ContentGenerator
		synth      report.Synthesizer
	)
	switch cfg.GeneratorDriver {
	case "llm":
		client := llm.New(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
		contentGen = llm.NewQuestionGenerator(client, cfg.QuestionsPerSection)
		synth = llm.NewReportSynthesizer(client, norm)
	default:
		bank, err := generation.NewBankGenerator(cfg.QuestionsPerSection)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load question banks")
		}
		contentGen = bank
		synth = report.NewTemplateSynthesizer(norm)
	}

	coordinator := generation.NewCoordinator(store, contentGen, generation.Config{
		MaxAttempts:    cfg.GenerationMaxAttempts,
		AttemptTimeout: cfg.GenerationAttemptTimeout,
		RetryBackoff:   cfg.GenerationRetryBackoff,
		MaxConcurrency: cfg.GenerationMaxConcurrency,
	}, log)

	// ─── Reports ───────────────────────────────────────────────────────
	var locker lock.Locker = lock.NewLocalLocker()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, reportLockTTL)
	}
	reports := report.NewCache(store, synth, locker, cfg.ReportTimeout, log)
	if rdb != nil {
		reports.SetEnqueuer(worker.NewReportQueue(rdb).Enqueue)
	}

	// ─── Proctoring ────────────────────────────────────────────────────
	var queue proctoring.Queue
	if rdb != nil {
		queue = proctoring.NewRedisQueue(rdb)
	}
	ledger := proctoring.NewLedger(violationRepo, queue, emitter, log)

	// ─── Initialize Services ──────────────────────────────────────────
	sessionService := service.NewSessionService(store, coordinator, reports, ledger, log)
	sessionService.SetAutoReport(cfg.ReportAutoGenerate)
	if statusCache != nil {
		sessionService.SetStatusCache(statusCache)
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session:   handler.NewSessionHandler(sessionService, log),
		Report:    handler.NewReportHandler(sessionService, log),
		Violation: handler.NewViolationHandler(sessionService, log),
		Events:    handler.NewEventsHandler(rdb, sessionService, log),
		Proctor:   handler.NewProctorHandler(sessionService, log, cfg.AllowedOrigins),
		System:    handler.NewSystemHandler(rdb, checks, log),
	}

	var limiters router.Limiters
	if rdb != nil {
		limiters.Session = middleware.NewSessionRateLimiter(rdb, cfg.ViolationRateLimit, time.Minute, log)
	} else {
		limiters.Local = middleware.NewRateLimiter(cfg.ViolationRateLimit, time.Minute, middleware.BySession)
		defer limiters.Local.Close()
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	if rdb != nil {
		violationWorker := worker.NewViolationWorker(violationRepo, rdb, log)
		reportWorker := worker.NewReportWorker(reports, rdb, log)

		go violationWorker.Start(workerCtx)
		go reportWorker.Start(workerCtx)
	}

	// ─── Resume Interrupted Generation ────────────────────────────────
	// Sessions left mid-flight by a previous process continue before
	// accepting traffic.
	if _, err := coordinator.Resume(ctx); err != nil {
		log.Warn().Err(err).Msg("Generation resume failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, limiters, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Interrupt generation; unfinished sessions resume on next start.
	genCtx, genCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer genCancel()
	if err := coordinator.Shutdown(genCtx); err != nil {
		log.Warn().Err(err).Msg("Generation did not stop in time")
	}

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	reports.Wait()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// buildEmitter wires the configured event sinks. Redis pub/sub feeds the
// SSE stream whenever Redis is available.
func buildEmitter(ctx context.Context, cfg *config.Config, rdb *redis.Client, log zerolog.Logger) (*events.Emitter, error) {
	var publishers []events.Publisher
	if rdb != nil {
		publishers = append(publishers, events.NewRedisNotifier(rdb))
	}

	wmLog := logger.NewWatermillAdapter(log)
	switch cfg.EventsDriver {
	case "kafka":
		pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, wmLog)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, pub)
	case "channel":
		pub, ch := events.NewChannelPublisher(cfg.KafkaTopic, wmLog)
		if err := events.LogSubscriber(ctx, ch, cfg.KafkaTopic, log); err != nil {
			return nil, err
		}
		publishers = append(publishers, pub)
	}
	return events.NewEmitter(log, publishers...), nil
}

func pgCheck(pool *pgxpool.Pool) handler.CheckFunc {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}

func sqlCheck(db *sql.DB) handler.CheckFunc {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
