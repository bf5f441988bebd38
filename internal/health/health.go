package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可以探测连通性的依赖，redis.Client 直接满足，存储层用 PingFunc(store.Health) 适配
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc 把函数适配为 Pinger
type PingFunc func(ctx context.Context) error

// Ping 调用函数本身
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// HealthChecker 健康检查器
//
// /live 只检查进程本身，/ready 检查数据库和 Redis 是否可用
type HealthChecker struct {
	health  healthcheck.Handler
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:  healthcheck.NewHandler(),
		timeout: 3 * time.Second,
		logger:  logger,
	}
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	return hc
}

// AddReadinessCheck 添加就绪检查
func (hc *HealthChecker) AddReadinessCheck(name string, p Pinger) {
	hc.health.AddReadinessCheck(name, hc.check(name, p))
}

func (hc *HealthChecker) check(name string, p Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			hc.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// Handler 返回完整的健康检查处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}
