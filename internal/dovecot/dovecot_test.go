package dovecot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailadmin/backend/internal/config"
	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/pool"
)

// scriptedReloader 按顺序返回预设的结果，用尽后一直成功
type scriptedReloader struct {
	mu      sync.Mutex
	results []error
	calls   int
	done    chan struct{}
}

func (r *scriptedReloader) Reload(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	var err error
	if len(r.results) > 0 {
		err = r.results[0]
		r.results = r.results[1:]
	}
	if err == nil && r.done != nil {
		close(r.done)
		r.done = nil
	}
	return err
}

func (r *scriptedReloader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordedReload struct {
	trigger string
	err     error
}

type fakeRecorder struct {
	mu      sync.Mutex
	reloads []recordedReload
}

func (f *fakeRecorder) ObserveReload(trigger string, _ time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads = append(f.reloads, recordedReload{trigger: trigger, err: err})
}

var testReloadConfig = config.ReloadConfig{
	Enabled:    true,
	Command:    []string{"/usr/bin/sudo", "/usr/sbin/doveadm", "reload"},
	Timeout:    time.Second,
	MaxRetries: 3,
	MinWait:    time.Millisecond,
	MaxWait:    4 * time.Millisecond,
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, MinWait: 2 * time.Second, MaxWait: time.Minute}

	assert.Equal(t, 2*time.Second, p.Backoff(0))
	assert.Equal(t, 4*time.Second, p.Backoff(1))
	assert.Equal(t, 8*time.Second, p.Backoff(2))
	assert.Equal(t, 32*time.Second, p.Backoff(4))
	assert.Equal(t, time.Minute, p.Backoff(5))
	assert.Equal(t, time.Minute, p.Backoff(60))
	assert.Equal(t, 2*time.Second, p.Backoff(-1))
}

func TestCommandReloader(t *testing.T) {
	ctx := context.Background()

	t.Run("成功执行命令", func(t *testing.T) {
		r := NewCommandReloader(testReloadConfig, nil)
		var gotName string
		var gotArgs []string
		r.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotName, gotArgs = name, args
			return nil, nil
		}

		require.NoError(t, r.Reload(ctx))
		assert.Equal(t, "/usr/bin/sudo", gotName)
		assert.Equal(t, []string{"/usr/sbin/doveadm", "reload"}, gotArgs)
	})

	t.Run("失败时带上命令输出", func(t *testing.T) {
		r := NewCommandReloader(testReloadConfig, nil)
		r.run = func(context.Context, string, ...string) ([]byte, error) {
			return []byte("doveadm: Fatal: connect(/run/dovecot/master) failed\n"), errors.New("exit status 75")
		}

		err := r.Reload(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exit status 75")
		assert.Contains(t, err.Error(), "connect(/run/dovecot/master) failed")
	})

	t.Run("超时", func(t *testing.T) {
		cfg := testReloadConfig
		cfg.Timeout = 10 * time.Millisecond
		r := NewCommandReloader(cfg, nil)
		r.run = func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}

		err := r.Reload(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
	})

	t.Run("连续失败后熔断", func(t *testing.T) {
		r := NewCommandReloader(testReloadConfig, nil)
		calls := 0
		r.run = func(context.Context, string, ...string) ([]byte, error) {
			calls++
			return nil, errors.New("exit status 1")
		}

		for i := 0; i < 3; i++ {
			assert.Error(t, r.Reload(ctx))
		}
		err := r.Reload(ctx)
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, 3, calls)
	})

	t.Run("空命令", func(t *testing.T) {
		cfg := testReloadConfig
		cfg.Command = nil
		assert.Error(t, NewCommandReloader(cfg, nil).Reload(ctx))
	})
}

func TestNotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("同步重载成功", func(t *testing.T) {
		reloader := &scriptedReloader{}
		recorder := &fakeRecorder{}
		n := NewNotifier(reloader, nil, testReloadConfig, recorder, nil)

		require.NoError(t, n.Notify(ctx, "apply plan"))
		assert.Equal(t, 1, reloader.Calls())
		require.Len(t, recorder.reloads, 1)
		assert.Equal(t, "sync", recorder.reloads[0].trigger)
	})

	t.Run("同步失败返回警告并在后台重试成功", func(t *testing.T) {
		done := make(chan struct{})
		reloader := &scriptedReloader{
			results: []error{errors.New("exit status 1"), errors.New("exit status 1")},
			done:    done,
		}
		workers := pool.NewWorkerPool("reload", 1, 4, nil)
		workers.Start(ctx)
		defer workers.Stop()

		n := NewNotifier(reloader, workers, testReloadConfig, nil, nil)
		n.sleep = noSleep

		err := n.Notify(ctx, "apply plan")
		var reloadErr *domain.ReloadError
		require.ErrorAs(t, err, &reloadErr)
		assert.ErrorIs(t, err, domain.ErrReloadFailed)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("retry did not succeed")
		}
		assert.Equal(t, 3, reloader.Calls())
	})

	t.Run("重试次数用尽后停止", func(t *testing.T) {
		fail := errors.New("exit status 1")
		reloader := &scriptedReloader{results: []error{fail, fail, fail, fail, fail, fail}}
		workers := pool.NewWorkerPool("reload", 1, 4, nil)
		workers.Start(ctx)

		n := NewNotifier(reloader, workers, testReloadConfig, nil, nil)
		n.sleep = noSleep

		assert.Error(t, n.Notify(ctx, "apply plan"))
		require.Eventually(t, func() bool { return !n.pending.Load() }, 2*time.Second, 5*time.Millisecond)
		workers.Stop()

		// 1 次同步 + 3 次重试
		assert.Equal(t, 4, reloader.Calls())
	})

	t.Run("后续成功的同步重载取消待重试", func(t *testing.T) {
		reloader := &scriptedReloader{results: []error{errors.New("exit status 1")}}
		workers := pool.NewWorkerPool("reload", 1, 4, nil)

		n := NewNotifier(reloader, workers, testReloadConfig, nil, nil)
		n.sleep = noSleep

		assert.Error(t, n.Notify(ctx, "first"))
		assert.True(t, n.pending.Load())

		// 成功的重载清除失败状态
		assert.NoError(t, n.Notify(ctx, "second"))
		assert.False(t, n.dirty.Load())

		workers.Start(ctx)
		require.Eventually(t, func() bool { return !n.pending.Load() }, 2*time.Second, 5*time.Millisecond)
		workers.Stop()
		assert.Equal(t, 2, reloader.Calls())
	})
}
