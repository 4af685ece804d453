// Package router wires handlers and middleware onto the echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/ea-license-service/internal/config"
	"github.com/iliyamo/ea-license-service/internal/handler"
	"github.com/iliyamo/ea-license-service/internal/middleware"
)

// Deps carries everything RegisterRoutes needs.  Redis may be nil, which
// disables rate limiting and the stats cache.
type Deps struct {
	Config    config.Config
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Redis     *redis.Client
	DB        handler.Pinger
	License   *handler.LicenseHandler
	Admin     *handler.AdminHandler
	Cron      *handler.CronHandler
	Log       *zap.SugaredLogger
}

// RegisterRoutes registers every route of the service.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	if d.DB != nil {
		e.GET("/readyz", handler.Ready(d.DB))
	}

	// Public customer endpoints share one Redis token bucket.
	limited := middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log)
	e.POST("/activation-requests", d.License.RequestActivation, limited)
	e.GET("/status", d.License.PublicStatus, limited)

	// The EA calls verify on every start, so it is keyed but not rate limited.
	e.GET("/verify", d.License.Verify, middleware.EAKeyAuth(d.Config.EAVerifyKey, d.Log))

	admin := e.Group("/admin")
	admin.GET("/licenses", d.Admin.ListLicenses,
		middleware.AdminAuth(middleware.HeaderAdminPass, d.Config.AdminPassword, d.Log))
	admin.POST("/licenses/action", d.Admin.ApplyAction,
		middleware.AdminAuth(middleware.HeaderAdminPass, d.Config.AdminPassword, d.Log))
	admin.GET("/affiliate-stats", d.Admin.AffiliateStats,
		middleware.AdminAuth(middleware.HeaderAdminPassword, d.Config.AdminPassword, d.Log),
		middleware.NewRedisCache(d.Cache, d.Redis, d.Log))

	e.GET("/cron/sync-affiliate", d.Cron.SyncAffiliate, middleware.BearerAuth(d.Config.CronSecret, d.Log))
}
