package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行提交的任务", func(t *testing.T) {
		p := NewWorkerPool("test", 2, 10, nil)
		p.Start(context.Background())
		defer p.Stop()

		var count atomic.Int32
		done := make(chan struct{}, 5)
		for i := 0; i < 5; i++ {
			require.NoError(t, p.Submit(context.Background(), func(context.Context) {
				count.Add(1)
				done <- struct{}{}
			}))
		}
		for i := 0; i < 5; i++ {
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("task did not run")
			}
		}
		assert.Equal(t, int32(5), count.Load())
	})

	t.Run("任务 panic 不影响协程池", func(t *testing.T) {
		p := NewWorkerPool("test", 1, 10, nil)
		p.Start(context.Background())
		defer p.Stop()

		done := make(chan struct{})
		require.True(t, p.TrySubmit(func(context.Context) { panic("boom") }))
		require.True(t, p.TrySubmit(func(context.Context) { close(done) }))

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker died after panic")
		}
	})

	t.Run("队列满时 TrySubmit 返回 false", func(t *testing.T) {
		p := NewWorkerPool("test", 1, 1, nil)
		assert.True(t, p.TrySubmit(func(context.Context) {}))
		assert.False(t, p.TrySubmit(func(context.Context) {}))
	})

	t.Run("停止时取消任务上下文", func(t *testing.T) {
		p := NewWorkerPool("test", 1, 1, nil)
		p.Start(context.Background())

		started := make(chan struct{})
		cancelled := make(chan struct{})
		require.True(t, p.TrySubmit(func(ctx context.Context) {
			close(started)
			<-ctx.Done()
			close(cancelled)
		}))
		<-started
		p.Stop()

		select {
		case <-cancelled:
		default:
			t.Fatal("task context was not cancelled")
		}
		p.Stop()
	})
}
