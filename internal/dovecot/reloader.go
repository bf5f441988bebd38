package dovecot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"mailadmin/backend/internal/config"
)

// Reloader 通知投递子系统重新加载配置
type Reloader interface {
	Reload(ctx context.Context) error
}

// runFunc 执行外部命令并返回合并后的输出
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandReloader 通过执行 doveadm reload（通常经 sudo）触发重载
//
// 每次执行受 Timeout 限制；连续失败后熔断，熔断期间直接返回 gobreaker.ErrOpenState
type CommandReloader struct {
	command []string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[struct{}]
	run     runFunc
	log     *zap.Logger
}

// NewCommandReloader 创建命令重载器
func NewCommandReloader(cfg config.ReloadConfig, log *zap.Logger) *CommandReloader {
	if log == nil {
		log = zap.NewNop()
	}

	r := &CommandReloader{
		command: cfg.Command,
		timeout: cfg.Timeout,
		run:     runCommand,
		log:     log,
	}
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "dovecot-reload",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("reload circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return r
}

// Reload 执行重载命令
func (r *CommandReloader) Reload(ctx context.Context) error {
	if len(r.command) == 0 {
		return errors.New("reload command is empty")
	}

	_, err := r.breaker.Execute(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		out, err := r.run(ctx, r.command[0], r.command[1:]...)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return struct{}{}, fmt.Errorf("%s timed out after %s", strings.Join(r.command, " "), r.timeout)
			}
			msg := strings.TrimSpace(string(out))
			if msg != "" {
				return struct{}{}, fmt.Errorf("%s: %w: %s", strings.Join(r.command, " "), err, msg)
			}
			return struct{}{}, fmt.Errorf("%s: %w", strings.Join(r.command, " "), err)
		}
		return struct{}{}, nil
	})
	return err
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// NopReloader 不执行任何操作，用于未部署 Dovecot 的开发环境
type NopReloader struct{}

// Reload 直接返回成功
func (NopReloader) Reload(context.Context) error {
	return nil
}
