package dovecot

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mailadmin/backend/internal/config"
	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/pool"
)

// Recorder 记录重载结果，由 monitoring.Metrics 实现
type Recorder interface {
	ObserveReload(trigger string, duration time.Duration, err error)
}

// RetryPolicy 重载失败后的重试策略
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// Backoff 返回第 attempt 次重试（从 0 开始）前的等待时间，按 2 的幂增长并限制在 [MinWait, MaxWait]
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.MinWait
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxWait || d <= 0 {
			return p.MaxWait
		}
	}
	if d > p.MaxWait {
		return p.MaxWait
	}
	return d
}

// Notifier 在数据库事务提交后通知 Dovecot 重载
//
// Notify 先同步尝试一次；失败时返回 *domain.ReloadError，并把重试交给协程池。
// 多次失败的通知合并为一个后台重试，任意一次成功的重载都会清除待重试状态。
type Notifier struct {
	reloader Reloader
	workers  *pool.WorkerPool
	policy   RetryPolicy
	recorder Recorder
	log      *zap.Logger

	pending atomic.Bool // 有后台重试在排队或执行
	dirty   atomic.Bool // 最近一次重载失败，尚未被成功的重载覆盖

	sleep func(ctx context.Context, d time.Duration) error
}

// NewNotifier 创建重载通知器，workers 为 nil 时不做后台重试
func NewNotifier(reloader Reloader, workers *pool.WorkerPool, cfg config.ReloadConfig, recorder Recorder, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		reloader: reloader,
		workers:  workers,
		policy: RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			MinWait:    cfg.MinWait,
			MaxWait:    cfg.MaxWait,
		},
		recorder: recorder,
		log:      log,
		sleep:    sleepContext,
	}
}

// Notify 同步尝试重载一次，失败时安排后台重试
func (n *Notifier) Notify(ctx context.Context, reason string) error {
	err := n.attempt(ctx, "sync")
	if err == nil {
		return nil
	}

	n.log.Warn("dovecot reload failed, scheduling retry",
		zap.String("reason", reason),
		zap.Error(err),
	)
	n.scheduleRetry()
	return &domain.ReloadError{Err: err}
}

func (n *Notifier) attempt(ctx context.Context, trigger string) error {
	start := time.Now()
	err := n.reloader.Reload(ctx)
	if n.recorder != nil {
		n.recorder.ObserveReload(trigger, time.Since(start), err)
	}
	if err != nil {
		n.dirty.Store(true)
		return err
	}
	n.dirty.Store(false)
	return nil
}

func (n *Notifier) scheduleRetry() {
	if n.workers == nil || n.policy.MaxRetries <= 0 {
		return
	}
	if !n.pending.CompareAndSwap(false, true) {
		return
	}
	if !n.workers.TrySubmit(n.retry) {
		n.pending.Store(false)
		n.log.Error("reload retry queue full, retry dropped")
	}
}

// retry 在协程池中按退避策略重试，直到成功、被其他重载覆盖或次数用尽
func (n *Notifier) retry(ctx context.Context) {
	defer n.pending.Store(false)

	for attempt := 0; attempt < n.policy.MaxRetries; attempt++ {
		if err := n.sleep(ctx, n.policy.Backoff(attempt)); err != nil {
			return
		}
		if !n.dirty.Load() {
			return
		}

		err := n.attempt(ctx, "retry")
		if err == nil {
			n.log.Info("dovecot reload succeeded on retry", zap.Int("attempt", attempt+1))
			return
		}
		n.log.Warn("dovecot reload retry failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", n.policy.MaxRetries),
			zap.Error(err),
		)
	}

	n.log.Error("dovecot reload retries exhausted", zap.Int("max_retries", n.policy.MaxRetries))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
