package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailadmin/backend/internal/auth"
	"mailadmin/backend/internal/config"
	"mailadmin/backend/internal/health"
	"mailadmin/backend/internal/middleware"
	"mailadmin/backend/internal/monitoring"
	"mailadmin/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	AuthService    *auth.Service
	PlanService    *service.PlanService
	DomainService  *service.DomainService
	Resolver       *service.Resolver
	Enforcer       *service.Enforcer
	MailboxService *service.MailboxService
	AliasService   *service.AliasService
	AuditService   *service.AuditService
	LoginLimiter   *middleware.IPRateLimiter // 登录限流，为空时不限流
	Metrics        *monitoring.Metrics       // 为空时不暴露 /metrics
	Health         *health.HealthChecker     // 为空时 /health 只返回存活状态
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.RecoveryHandler(log, deps.Metrics))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		router.Use(middleware.HTTPMetrics(deps.Metrics))
	}
	if deps.Config != nil {
		router.Use(middleware.BodySizeLimit(deps.Config.Server.MaxBodyBytes))
		router.Use(gincors.New(corsConfig(deps.Config.CORS)))
	} else {
		router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	}

	registerOps(router, deps)

	authHandler := NewAuthHandler(deps.AuthService, deps.Metrics, log)
	planHandler := NewPlanHandler(deps.PlanService, log)
	domainHandler := NewDomainHandler(deps.DomainService, deps.Resolver, deps.Enforcer, log)
	mailboxHandler := NewMailboxHandler(deps.MailboxService, deps.AliasService, log)
	auditHandler := NewAuditHandler(deps.AuditService, log)

	jwtAuth := middleware.NewJWTAuth(deps.AuthService, log)
	adminAuth := middleware.NewAdminAuth(deps.AuthService)

	v1 := router.Group("/v1")
	{
		// 认证（公开）
		authGroup := v1.Group("/auth")
		{
			login := []gin.HandlerFunc{}
			if deps.LoginLimiter != nil {
				login = append(login, deps.LoginLimiter.Middleware("login", deps.Metrics))
			}
			authGroup.POST("/login", append(login, authHandler.Login)...)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.GET("/me", jwtAuth.RequireAuth(), authHandler.Me)
		}

		protected := v1.Group("", jwtAuth.RequireAuth())

		// 套餐管理（超级管理员）
		plans := protected.Group("/plans", adminAuth.RequireSuper())
		{
			plans.GET("", planHandler.List)
			plans.POST("", planHandler.Create)
			plans.GET("/:id", planHandler.Get)
			plans.PATCH("/:id", planHandler.Update)
			plans.DELETE("/:id", planHandler.Delete)
		}

		protected.GET("/domains", adminAuth.RequireSuper(), domainHandler.List)
		protected.GET("/audit-logs", adminAuth.RequireSuper(), auditHandler.List)

		// 单个域名（域名管理员只能访问自己管理的域名）
		domainGroup := protected.Group("/domains/:domain", adminAuth.RequireDomain("domain"))
		{
			domainGroup.GET("/plan", domainHandler.Plan)
			domainGroup.PUT("/plan", adminAuth.RequireSuper(), domainHandler.ApplyPlan)
			domainGroup.GET("/usage", domainHandler.Usage)
			domainGroup.GET("/capacity/:kind", domainHandler.Capacity)

			domainGroup.GET("/mailboxes", mailboxHandler.ListMailboxes)
			domainGroup.POST("/mailboxes", mailboxHandler.CreateMailbox)

			domainGroup.GET("/aliases", mailboxHandler.ListAliases)
			domainGroup.POST("/aliases", mailboxHandler.CreateAlias)
			domainGroup.DELETE("/aliases/:id", mailboxHandler.DeleteAlias)
		}

		mailboxGroup := protected.Group("/mailboxes/:email", adminAuth.RequireMailboxDomain("email"))
		{
			mailboxGroup.DELETE("", mailboxHandler.DeleteMailbox)
			mailboxGroup.POST("/password", mailboxHandler.ResetPassword)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "接口不存在")
	})

	return router
}

// registerOps 注册健康检查与指标接口
func registerOps(router *gin.Engine, deps RouterDependencies) {
	if deps.Health != nil {
		router.GET("/health", gin.WrapF(deps.Health.ReadyHandler))
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler))
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}
}

func corsConfig(cfg config.CORSConfig) gincors.Config {
	corsConfig := gincors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}

	// 允许所有来源时不能携带凭证
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	return corsConfig
}
