package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/lnfetch/api/handler"
	"github.com/use-agent/lnfetch/api/middleware"
	"github.com/use-agent/lnfetch/cache"
	"github.com/use-agent/lnfetch/cleaner"
	"github.com/use-agent/lnfetch/config"
)

// Services are the components the routes are served from. Rotation may be
// nil when no rotation hook is configured.
type Services struct {
	Fetcher  handler.Fetcher
	Cleaner  *cleaner.Cleaner
	Crawler  handler.Crawler
	Session  handler.SessionReader
	Rotation handler.RotationReader
	Cache    *cache.Cache
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → per-caller budget
//
// POST /novel draws from the novel job budget, every other API route from the
// general request budget. Health stays outside auth so monitoring probes
// always work.
func NewRouter(svc Services, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	v1.GET("/health", handler.Health(svc.Session, svc.Rotation, startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	limiter := middleware.NewLimiter()
	general, novel := middleware.Budgets(cfg.RateLimit)

	// Novel listing jobs
	protected.POST("/novel", limiter.Limit(novel), handler.PostNovel(svc.Crawler))
	protected.GET("/novel/:id", limiter.Limit(general), handler.GetNovel())

	// Single chapter
	protected.POST("/chapter", limiter.Limit(general), handler.Chapter(svc.Fetcher, svc.Cleaner, svc.Cache))

	return r
}
