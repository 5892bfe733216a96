package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/exstem-live/internal/config"
	"github.com/stemsi/exstem-live/internal/handler"
	"github.com/stemsi/exstem-live/internal/middleware"
	"github.com/stemsi/exstem-live/internal/response"
	"github.com/stemsi/exstem-live/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam   *handler.ExamHandler
	WS     *handler.WSHandler
	System *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds the background work of the rate limiters.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
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
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestMetrics())
	router.Use(middleware.Brotli())

	// ─── 0. Operations ─────────────────────────────────────────────────
	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ─── 1. Exam API (Author JWT, Rate Limited) ────────────────────────
	createLimiter := middleware.NewRateLimiter(ctx, 30, time.Minute)
	examAPI := router.Group("/api/v1/exams")
	examAPI.Use(middleware.RequireAuthorJWT(authService))
	{
		examAPI.POST("", createLimiter.Middleware(), handlers.Exam.CreateExam)
	}

	// ─── 2. WebSocket Group (handshake authenticates in-band) ──────────
	wsLimiter := middleware.NewRateLimiter(ctx, 120, time.Minute)
	ws := router.Group("/ws/v1")
	ws.Use(wsLimiter.Middleware())
	{
		ws.GET("/exams", handlers.WS.ExamWebSocketStream)
	}

	return router
}
