package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailadmin/backend/internal/auth"
	jwtpkg "mailadmin/backend/internal/auth/jwt"
	"mailadmin/backend/internal/cache"
	"mailadmin/backend/internal/config"
	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/dovecot"
	"mailadmin/backend/internal/health"
	"mailadmin/backend/internal/logger"
	"mailadmin/backend/internal/maildir"
	"mailadmin/backend/internal/middleware"
	"mailadmin/backend/internal/monitoring"
	"mailadmin/backend/internal/pool"
	"mailadmin/backend/internal/service"
	"mailadmin/backend/internal/storage"
	"mailadmin/backend/internal/storage/hybrid"
	"mailadmin/backend/internal/storage/memory"
	"mailadmin/backend/internal/storage/redis"
	sqlstore "mailadmin/backend/internal/storage/sql"
	httptransport "mailadmin/backend/internal/transport/http"
)

// main 启动邮件平台管理后端
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log := logger.Must(cfg.Log)
	defer log.Sync() //nolint:errcheck
	log.Info("starting mailadmin server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("database", cfg.Database.Type),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(log)

	// 初始化存储层
	store, redisClient, err := initializeStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	healthChecker.AddReadinessCheck("database", health.PingFunc(store.Health))
	if redisClient != nil {
		defer redisClient.Close()
		healthChecker.AddReadinessCheck("redis", redisClient)
	}

	// 重载通知：同步尝试一次，失败交给后台协程池重试
	reloadWorkers := pool.NewWorkerPool("dovecot-reload", cfg.Reload.Workers, cfg.Reload.QueueSize, log)
	reloadWorkers.Start(ctx)
	defer reloadWorkers.Stop()

	var reloader dovecot.Reloader = dovecot.NopReloader{}
	if cfg.Reload.Enabled {
		reloader = dovecot.NewCommandReloader(cfg.Reload, log)
	} else {
		log.Warn("dovecot reload disabled, plan changes will not be signalled")
	}
	notifier := dovecot.NewNotifier(reloader, reloadWorkers, cfg.Reload, metrics, log)

	var maildirs service.MaildirCreator
	if cfg.Provisioning.ManageMaildir {
		maildirs = maildir.New(cfg.Provisioning, log)
	}

	// 初始化服务层
	resolver := service.NewResolver(store)
	planService := service.NewPlanService(store, log)
	enforcer := service.NewEnforcer(store, resolver, notifier, metrics, log)
	domainService := service.NewDomainService(store, resolver)
	mailboxService := service.NewMailboxService(store, resolver, maildirs, cfg.Provisioning, metrics, log)
	aliasService := service.NewAliasService(store, resolver, metrics, log)
	auditService := service.NewAuditService(store)

	jwtManager := jwtpkg.NewManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	authService := auth.NewService(store, store, jwtManager, log)

	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
		zap.Duration("refresh_expiry", cfg.JWT.RefreshExpiry),
	)

	if err := seedPlans(ctx, store, planService, log); err != nil {
		log.Fatal("failed to seed plans", zap.Error(err))
	}
	if mem, ok := store.(*memory.Store); ok {
		seedDomains(mem, cfg.Database.SeedDomains, log)
		if cfg.Log.Development {
			createDevelopmentAdmin(ctx, authService, log)
		}
	}

	loginLimiter := middleware.NewIPRateLimiter(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.LoginBurst)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		AuthService:    authService,
		PlanService:    planService,
		DomainService:  domainService,
		Resolver:       resolver,
		Enforcer:       enforcer,
		MailboxService: mailboxService,
		AliasService:   aliasService,
		AuditService:   auditService,
		LoginLimiter:   loginLimiter,
		Metrics:        metrics,
		Health:         healthChecker,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时清理登录限流器中空闲的 IP
	group.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if n := loginLimiter.Cleanup(); n > 0 {
					log.Debug("idle rate limit entries removed", zap.Int("count", n))
				}
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		log.Info("server stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择存储
//
// 内存模式用于开发；数据库模式在启用 Redis 时包一层套餐缓存，
// 未启用 Redis 但配置了 local_cache_ttl 时使用进程内缓存
func initializeStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, *redis.Client, error) {
	if !cfg.Database.UsesDatabase() {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil, nil
	}

	db, err := sqlstore.NewStore(cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Database.Type, err)
	}
	log.Info("database storage initialized", zap.String("database_type", cfg.Database.Type))

	if !cfg.Redis.Enabled {
		if cfg.Database.LocalCacheTTL <= 0 {
			return db, nil, nil
		}
		local := cache.NewLocalPlanCache(cfg.Database.LocalCacheTTL)
		go local.Run(ctx, cfg.Database.LocalCacheTTL)
		log.Info("local plan cache enabled", zap.Duration("ttl", cfg.Database.LocalCacheTTL))
		return hybrid.NewStore(db, local, log), nil, nil
	}

	client, err := redis.New(&cfg.Redis, log)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	planCache := redis.NewPlanCache(client, cfg.Redis.PlanCacheTTL)
	log.Info("plan cache enabled",
		zap.String("redis_address", cfg.Redis.Address),
		zap.Duration("ttl", cfg.Redis.PlanCacheTTL),
	)
	return hybrid.NewStore(db, planCache, log), client, nil
}

// seedPlans 没有任何套餐时写入预置套餐
func seedPlans(ctx context.Context, store storage.PlanRepository, plans *service.PlanService, log *zap.Logger) error {
	existing, err := store.ListPlans(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Debug("plans already present, skipping seed", zap.Int("count", len(existing)))
		return nil
	}

	seeded, err := plans.SeedDefaults(ctx)
	if err != nil {
		return err
	}
	log.Info("default plans seeded", zap.Int("count", len(seeded)))
	return nil
}

// seedDomains 内存模式下预置邮件域名
func seedDomains(store *memory.Store, names []string, log *zap.Logger) {
	for _, name := range names {
		if err := domain.ValidateDomainName(name); err != nil {
			log.Warn("skipping invalid seed domain", zap.String("domain", name), zap.Error(err))
			continue
		}
		d := store.AddMailDomain(&domain.MailDomain{
			Name:         name,
			MaxMailboxes: 10,
			MaxAliases:   20,
			IsActive:     true,
		})
		log.Info("mail domain seeded", zap.String("domain", d.Name))
	}
}

// createDevelopmentAdmin 开发模式下创建超级管理员，密码只打印一次
func createDevelopmentAdmin(ctx context.Context, authService *auth.Service, log *zap.Logger) {
	const email = "admin@mailadmin.local"

	password, err := auth.GeneratePassword(20)
	if err != nil {
		log.Error("failed to generate development admin password", zap.Error(err))
		return
	}
	if _, err := authService.CreateAdmin(ctx, email, password, true); err != nil {
		if errors.Is(err, domain.ErrAdminExists) {
			return
		}
		log.Error("failed to create development admin", zap.Error(err))
		return
	}

	log.Warn("development super admin created",
		zap.String("email", email),
		zap.String("password", password),
	)
}
