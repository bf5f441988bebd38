package pool

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Task 在协程池中执行的任务，ctx 随协程池停止而取消
type Task func(ctx context.Context)

// WorkerPool 协程池
//
// 用于限制后台任务（如重载重试）的并发数量，队列满时由调用方决定丢弃还是等待
type WorkerPool struct {
	name       string
	maxWorkers int
	taskQueue  chan Task
	log        *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - name: 协程池名称，用于日志
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewWorkerPool(name string, maxWorkers, queueSize int, log *zap.Logger) *WorkerPool {
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		name:       name,
		maxWorkers: max(maxWorkers, 1),
		taskQueue:  make(chan Task, max(queueSize, 1)),
		log:        log.With(zap.String("pool", name)),
	}
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交任务
//
// 如果队列已满，会阻塞直到有空位或 ctx 结束
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit 尝试提交任务
//
// 如果队列已满，立即返回 false
func (p *WorkerPool) TrySubmit(task Task) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Stop 取消正在执行的任务并等待所有协程退出
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
	})
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.taskQueue:
			p.run(ctx, task)
		}
	}
}

// run 执行任务（捕获 panic）
func (p *WorkerPool) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker task panicked", zap.Any("panic", r))
		}
	}()
	task(ctx)
}
