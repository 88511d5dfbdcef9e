package http

import (
	"time"

	"MemoLink/internal/config"
	jwtMiddleware "MemoLink/internal/middleware/jwt"
	"MemoLink/internal/middleware/ratelimit"
	"MemoLink/internal/modules/memory/application/service"
	memoryHandler "MemoLink/internal/modules/memory/interface/http"
	"MemoLink/pkg/ssl"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps 路由依赖，由 cmd 组装
type Deps struct {
	Conf         *config.Config
	Version      string
	MemorySvc    service.MemoryService
	QuerySvc     service.QueryService
	ReconcileSvc service.ReconcileService
	HealthChecks []memoryHandler.HealthCheck
	// RateLimitStore 为空时使用进程内计数
	RateLimitStore ratelimit.Store
}

func NewRouter(d Deps) *gin.Engine {
	conf := d.Conf
	if conf.MainConfig.Mode != "" {
		gin.SetMode(conf.MainConfig.Mode)
	}
	GE := gin.New()
	GE.Use(gin.Logger(), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"}
	GE.Use(cors.New(corsConfig))
	if conf.MainConfig.ForceSSL {
		GE.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))
	}

	healthH := memoryHandler.NewHealthHandler(d.Version, d.HealthChecks...)
	GE.GET("/health", healthH.Health)

	memoryH := memoryHandler.NewMemoryHandler(d.MemorySvc)
	queryH := memoryHandler.NewQueryHandler(d.QuerySvc)
	adminH := memoryHandler.NewAdminHandler(d.ReconcileSvc)

	authed := GE.Group("/")
	if conf.RateLimitConfig.Enabled {
		store := d.RateLimitStore
		if store == nil {
			store = ratelimit.NewMemoryStore()
		}
		authed.Use(ratelimit.Limit(store, conf.RateLimitConfig.MaxRequests, time.Duration(conf.RateLimitConfig.WindowSeconds)*time.Second))
	}
	authed.Use(jwtMiddleware.Auth())
	authed.GET("/auth/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"uuid":     c.GetString(jwtMiddleware.OwnerKey),
			"username": c.GetString(jwtMiddleware.UsernameKey),
		})
	})
	authed.POST("/memories", memoryH.Create)
	authed.GET("/memories", memoryH.List)
	authed.GET("/memories/:id", memoryH.Get)
	authed.PUT("/memories/:id", memoryH.Update)
	authed.DELETE("/memories/:id", memoryH.Delete)
	authed.POST("/ai/search", queryH.Answer)
	authed.POST("/admin/reconcile", jwtMiddleware.RequireAdmin(conf.JwtConfig.AdminUUIDs), adminH.Reconcile)

	return GE
}
