package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// loginRatePerMinute bounds password guessing per client address.
const loginRatePerMinute = 30

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Device  *handler.DeviceHandler
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds the background sweeps of the rate limiters.
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	// Reachability probe for devices and load balancers.
	router.GET("/healthz", handlers.System.Health)

	loginLimiter := middleware.NewRateLimiter(ctx, loginRatePerMinute, time.Minute, middleware.ByClientIP)
	deviceLimiter := middleware.NewRateLimiter(ctx, cfg.DeviceRatePerMinute, time.Minute, middleware.ByDevice)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/proctor/login", loginLimiter.Middleware(), handlers.Auth.ProctorLogin)

		proctorAuth := []gin.HandlerFunc{
			middleware.RequireProctorJWT(authService),
			middleware.CheckProctorLogin(authService),
		}
		auth.GET("/proctor/me", append(proctorAuth, handlers.Auth.GetProctorProfile)...)
		auth.POST("/proctor/logout", append(proctorAuth, handlers.Auth.ProctorLogout)...)
	}

	// ─── 2. Device Group (Device JWT, Rate Limited per candidate) ──────
	deviceAPI := router.Group("/api/v1/device")
	deviceAPI.Use(
		middleware.RequireDeviceJWT(authService),
		middleware.RequireDeviceSession(),
		deviceLimiter.Middleware(),
	)
	{
		deviceAPI.PUT("/results/:result_id", handlers.Device.PushResult)
		deviceAPI.GET("/results/:result_id", handlers.Device.CandidateStatus)
		deviceAPI.GET("/sessions/:session_id", handlers.Device.SessionStatus)
	}

	// ─── 3. WebSocket Group (Device JWT via header or ?token=) ─────────
	ws := router.Group("/ws/v1/device")
	ws.Use(
		middleware.RequireDeviceJWT(authService),
		middleware.RequireDeviceSession(),
	)
	{
		ws.GET("/sessions/:session_id/commands", handlers.WS.CommandStream)
	}

	// ─── 4. Proctor Group (JWT + latest login) ─────────────────────────
	proctorAPI := router.Group("/api/v1/proctor")
	proctorAPI.Use(
		middleware.RequireProctorJWT(authService),
		middleware.CheckProctorLogin(authService),
	)
	{
		sessions := proctorAPI.Group("/sessions/:session_id")
		sessions.POST("/status", handlers.Session.SetStatus)
		sessions.POST("/announcement", handlers.Session.Announce)
		sessions.POST("/end", handlers.Session.End)
		sessions.POST("/device-tokens", handlers.Session.IssueDeviceToken)
		sessions.GET("/results", handlers.Session.ListResults)
		sessions.GET("/monitor", handlers.Monitor.MonitorSessionSSE)

		candidates := sessions.Group("/candidates/:candidate_id")
		candidates.POST("/extra-time", handlers.Session.GrantExtraTime)
		candidates.POST("/block", handlers.Session.Block)
		candidates.GET("/result", handlers.Session.GetResult)

		proctorAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
