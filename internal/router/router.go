package router

import (
	"github.com/gin-gonic/gin"

	"github.com/clinicore/queue-api/internal/handler"
	queueHandler "github.com/clinicore/queue-api/internal/handler/queue"
	"github.com/clinicore/queue-api/internal/middleware"
	"github.com/clinicore/queue-api/internal/ws"
)

type Config struct {
	RateLimitRPS   float64
	RateLimitBurst int
	CORS           middleware.CORSConfig
}

type Router struct {
	engine *gin.Engine
	auth   *middleware.AuthMiddleware
	queueH *queueHandler.Handler
	wsH    *ws.Handler
	h      *handler.Handler
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	queueH *queueHandler.Handler,
	wsH *ws.Handler,
	h *handler.Handler,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()

	r := &Router{
		engine: engine,
		auth:   auth,
		queueH: queueH,
		wsH:    wsH,
		h:      h,
	}

	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		middleware.Timeout(middleware.DefaultTimeoutConfig()),
	)

	engine.Use(middleware.CORS(config.CORS))

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RPS:   config.RateLimitRPS,
		Burst: config.RateLimitBurst,
	})
	engine.Use(rateLimiter.RateLimit())

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	r.setupHealthCheck(api)

	// Read-only surfaces: snapshots for observers, plus the push channel.
	// Displays are anonymous, so neither requires operator auth.
	r.wsH.RegisterRoutes(api)
	queue := api.Group("/queue")
	{
		queue.GET("", r.queueH.ListQueue)
		queue.GET("/active", r.queueH.ListActive)
		queue.GET("/display", r.queueH.ListDisplay)
		queue.GET("/stats", r.queueH.GetStats)
		queue.GET("/:id", r.queueH.GetEntry)
	}

	// Mutations require an authenticated operator.
	protected := api.Group("/queue")
	protected.Use(r.auth.Authenticate())
	{
		protected.POST("", r.queueH.CheckIn)
		protected.POST("/call-next", r.queueH.CallNext)
		protected.POST("/:id/call", r.queueH.CallSpecific)
		protected.POST("/:id/recall", r.queueH.Recall)
		protected.POST("/:id/attending", r.queueH.MarkAttending)
		protected.POST("/:id/complete", r.queueH.MarkCompleted)
		protected.POST("/:id/no-show", r.queueH.MarkNoShow)
		protected.POST("/:id/status", r.queueH.ChangeStatus)
	}
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	{
		health.GET("/live", r.h.LivenessCheck)
		health.GET("/ready", r.h.ReadinessCheck)
		health.GET("/metrics", r.h.MetricsHandler)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
