package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"mailadmin/backend/internal/domain"
)

// ErrMiss 缓存未命中，Redis 与本地缓存共用
var ErrMiss = errors.New("cache miss")

// LocalPlanCache 进程内套餐缓存，未启用 Redis 时代替 redis.PlanCache
//
// 与 Redis 实现一样按代数失效：Invalidate 递增代数，旧代数的条目不再命中，
// 由 Cleanup 回收。回填时使用读数据库之前取得的代数，读取期间发生失效的
// 回填会被丢弃。只适合单实例部署，多实例之间不会互相失效。
type LocalPlanCache struct {
	data       sync.Map // key -> *entry
	generation atomic.Int64
	ttl        time.Duration
	now        func() time.Time
}

type entry struct {
	generation int64
	plan       *domain.Plan
	alloc      *domain.Allocation
	none       bool // 缓存了"域名没有绑定"
	expiresAt  time.Time
}

// NewLocalPlanCache 创建本地套餐缓存
func NewLocalPlanCache(ttl time.Duration) *LocalPlanCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LocalPlanCache{ttl: ttl, now: time.Now}
}

// Generation 返回当前代数
func (c *LocalPlanCache) Generation(context.Context) (int64, error) {
	return c.generation.Load(), nil
}

// Invalidate 使所有已缓存的套餐和绑定失效
func (c *LocalPlanCache) Invalidate(context.Context) error {
	c.generation.Add(1)
	return nil
}

// GetPlan 获取缓存的套餐
func (c *LocalPlanCache) GetPlan(_ context.Context, id string) (*domain.Plan, error) {
	return c.getPlan("plan:" + id)
}

// SetPlan 在代数 gen 下缓存套餐
func (c *LocalPlanCache) SetPlan(_ context.Context, gen int64, plan *domain.Plan) error {
	c.store("plan:"+plan.ID, &entry{generation: gen, plan: plan.Clone()})
	return nil
}

// GetDefaultPlan 获取缓存的默认套餐
func (c *LocalPlanCache) GetDefaultPlan(context.Context) (*domain.Plan, error) {
	return c.getPlan("default")
}

// SetDefaultPlan 在代数 gen 下缓存默认套餐
func (c *LocalPlanCache) SetDefaultPlan(_ context.Context, gen int64, plan *domain.Plan) error {
	c.store("default", &entry{generation: gen, plan: plan.Clone()})
	return nil
}

// GetAllocation 获取缓存的域名绑定，缓存了"无绑定"时返回 domain.ErrAllocationNotFound
func (c *LocalPlanCache) GetAllocation(_ context.Context, domainName string) (*domain.Allocation, error) {
	e, ok := c.load("alloc:" + domain.NormalizeDomain(domainName))
	if !ok {
		return nil, ErrMiss
	}
	if e.none {
		return nil, domain.ErrAllocationNotFound
	}
	alloc := *e.alloc
	return &alloc, nil
}

// SetAllocation 在代数 gen 下缓存域名绑定，alloc 为 nil 表示域名没有绑定
func (c *LocalPlanCache) SetAllocation(_ context.Context, gen int64, domainName string, alloc *domain.Allocation) error {
	e := &entry{generation: gen, none: alloc == nil}
	if alloc != nil {
		copied := *alloc
		e.alloc = &copied
	}
	c.store("alloc:"+domain.NormalizeDomain(domainName), e)
	return nil
}

// Cleanup 删除过期或旧代数的条目，返回删除数量
func (c *LocalPlanCache) Cleanup() int {
	now := c.now()
	gen := c.generation.Load()
	removed := 0
	c.data.Range(func(key, value any) bool {
		e := value.(*entry)
		if e.generation != gen || now.After(e.expiresAt) {
			c.data.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Run 定期清理，直到 ctx 结束
func (c *LocalPlanCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

func (c *LocalPlanCache) getPlan(key string) (*domain.Plan, error) {
	e, ok := c.load(key)
	if !ok || e.plan == nil {
		return nil, ErrMiss
	}
	return e.plan.Clone(), nil
}

func (c *LocalPlanCache) load(key string) (*entry, bool) {
	val, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}
	e := val.(*entry)
	if e.generation != c.generation.Load() || c.now().After(e.expiresAt) {
		c.data.Delete(key)
		return nil, false
	}
	return e, true
}

// store 写入条目；gen 已过期的条目不写入，避免覆盖当前代数下的有效值
func (c *LocalPlanCache) store(key string, e *entry) {
	if e.generation != c.generation.Load() {
		return
	}
	e.expiresAt = c.now().Add(c.ttl)
	c.data.Store(key, e)
}
