package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/psytest-backend/internal/config"
	"github.com/stemsi/psytest-backend/internal/handler"
	"github.com/stemsi/psytest-backend/internal/middleware"
	"github.com/stemsi/psytest-backend/internal/response"
)

// reportMaxAge is how long clients may cache a generated report.
const reportMaxAge = 300

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session   *handler.SessionHandler
	Report    *handler.ReportHandler
	Violation *handler.ViolationHandler
	Events    *handler.EventsHandler
	Proctor   *handler.ProctorHandler
	System    *handler.SystemHandler
}

// Limiters throttles proctoring writes. Either may be nil.
type Limiters struct {
	// Session is shared across replicas through Redis.
	Session *middleware.SessionRateLimiter
	// Local is the per-process fallback when Redis is not configured.
	Local *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, limiters Limiters, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Workbooks are already zipped and event streams must flush unbuffered.
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality: 5,
		Skipper: middleware.SkipSuffixes("/export", "/events", "/metrics", "/proctor"),
	}))

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 1. Session Group ──────────────────────────────────────────────
	sessions := router.Group("/api/v1/sessions")
	{
		sessions.POST("", handlers.Session.CreateSession)
		sessions.GET("/:id", handlers.Session.GetSession)
		sessions.GET("/:id/status", middleware.NoStore(), handlers.Session.GetStatus)
		sessions.GET("/:id/events", handlers.Events.StreamSession)
		sessions.POST("/:id/generate", handlers.Session.StartGeneration)
		sessions.GET("/:id/questions", middleware.NoStore(), handlers.Session.GetQuestions)

		sessions.POST("/:id/begin", handlers.Session.BeginTest)
		sessions.PUT("/:id/answers/:question_id", handlers.Session.SaveAnswer)
		sessions.POST("/:id/submit", handlers.Session.Submit)
		sessions.GET("/:id/results", handlers.Session.GetResults)
		sessions.GET("/:id/export", handlers.Session.ExportAnswers)

		sessions.GET("/:id/report", middleware.PrivateCache(reportMaxAge), handlers.Report.GetReport)
		sessions.POST("/:id/report", handlers.Report.RequestReport)

		sessions.POST("/:id/violations", violationLimiter(limiters), handlers.Violation.RecordViolation)
		sessions.GET("/:id/violations", handlers.Violation.ListViolations)
		sessions.GET("/:id/violations/stats", handlers.Violation.ViolationStats)
	}

	// ─── 2. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/sessions/:id/proctor", handlers.Proctor.ProctorStream)
	}

	// ─── 3. System Group ───────────────────────────────────────────────
	system := router.Group("/api/v1/system")
	{
		system.GET("/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}

func violationLimiter(l Limiters) gin.HandlerFunc {
	switch {
	case l.Session != nil:
		return l.Session.Middleware()
	case l.Local != nil:
		return l.Local.Middleware()
	default:
		return func(c *gin.Context) { c.Next() }
	}
}
