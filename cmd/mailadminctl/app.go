package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mailadmin/backend/internal/auth"
	jwtpkg "mailadmin/backend/internal/auth/jwt"
	"mailadmin/backend/internal/config"
	"mailadmin/backend/internal/dovecot"
	"mailadmin/backend/internal/logger"
	"mailadmin/backend/internal/service"
	"mailadmin/backend/internal/storage"
	sqlstore "mailadmin/backend/internal/storage/sql"
)

// app 命令行工具使用的服务集合
type app struct {
	store    storage.Store
	plans    *service.PlanService
	enforcer *service.Enforcer
	auth     *auth.Service
	log      *zap.Logger
}

// newApp 基于给定存储组装服务，notifier 为 nil 时不发送重载信号
func newApp(store storage.Store, notifier service.ReloadNotifier, log *zap.Logger) *app {
	if log == nil {
		log = zap.NewNop()
	}
	resolver := service.NewResolver(store)
	// 命令行不签发令牌，密钥只需满足长度要求
	tokens := jwtpkg.NewManager("mailadminctl-does-not-issue-tokens!", "mailadminctl", 0, 0)
	return &app{
		store:    store,
		plans:    service.NewPlanService(store, log),
		enforcer: service.NewEnforcer(store, resolver, notifier, nil, log),
		auth:     auth.NewService(store, store, tokens, log),
		log:      log,
	}
}

// openApp 按环境变量配置连接数据库
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Database.UsesDatabase() {
		return nil, errors.New("mailadminctl requires MAILADMIN_DATABASE_TYPE=mysql or postgres")
	}

	cfg.Log.Development = true
	log := logger.Must(cfg.Log)

	store, err := sqlstore.NewStore(cfg.Database, log)
	if err != nil {
		return nil, err
	}

	var notifier service.ReloadNotifier
	if cfg.Reload.Enabled {
		// 没有协程池，重载失败只提示不重试
		notifier = dovecot.NewNotifier(dovecot.NewCommandReloader(cfg.Reload, log), nil, cfg.Reload, nil, log)
	}
	return newApp(store, notifier, log), nil
}

func (a *app) Close() error {
	_ = a.log.Sync()
	return a.store.Close()
}
