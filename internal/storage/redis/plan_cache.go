package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailadmin/backend/internal/cache"
	"mailadmin/backend/internal/domain"
)

const (
	keyPrefix     = "mailadmin:"
	generationKey = keyPrefix + "plans:gen"
	noAllocation  = "none"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = cache.ErrMiss

// PlanCache 缓存套餐与域名绑定，供套餐解析使用
//
// 所有键都带有代数前缀。任何套餐或绑定变更后调用 Invalidate 递增代数，
// 旧代数的键不再被读取，随 TTL 自然过期。
type PlanCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewPlanCache 创建套餐缓存
func NewPlanCache(client *Client, ttl time.Duration) *PlanCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PlanCache{rdb: client.Client(), ttl: ttl}
}

// Generation 读取当前代数，键不存在时为 0
//
// 回填缓存前应在读数据库之前取得代数并传给 Set*，
// 读取期间发生的失效会让回填落到已废弃的代数上。
func (c *PlanCache) Generation(ctx context.Context) (int64, error) {
	val, err := c.rdb.Get(ctx, generationKey).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func planKey(gen int64, id string) string {
	return fmt.Sprintf("%splan:%d:id:%s", keyPrefix, gen, id)
}

func defaultPlanKey(gen int64) string {
	return fmt.Sprintf("%splan:%d:default", keyPrefix, gen)
}

func allocationKey(gen int64, domainName string) string {
	return fmt.Sprintf("%salloc:%d:%s", keyPrefix, gen, domain.NormalizeDomain(domainName))
}

// Invalidate 使所有已缓存的套餐和绑定失效
func (c *PlanCache) Invalidate(ctx context.Context) error {
	return c.rdb.Incr(ctx, generationKey).Err()
}

// ========== 套餐缓存 ==========

// GetPlan 获取缓存的套餐
func (c *PlanCache) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	gen, err := c.Generation(ctx)
	if err != nil {
		return nil, err
	}
	return c.getPlan(ctx, planKey(gen, id))
}

// SetPlan 在代数 gen 下缓存套餐
func (c *PlanCache) SetPlan(ctx context.Context, gen int64, plan *domain.Plan) error {
	return c.setJSON(ctx, planKey(gen, plan.ID), plan)
}

// GetDefaultPlan 获取缓存的默认套餐
func (c *PlanCache) GetDefaultPlan(ctx context.Context) (*domain.Plan, error) {
	gen, err := c.Generation(ctx)
	if err != nil {
		return nil, err
	}
	return c.getPlan(ctx, defaultPlanKey(gen))
}

// SetDefaultPlan 在代数 gen 下缓存默认套餐
func (c *PlanCache) SetDefaultPlan(ctx context.Context, gen int64, plan *domain.Plan) error {
	return c.setJSON(ctx, defaultPlanKey(gen), plan)
}

func (c *PlanCache) getPlan(ctx context.Context, key string) (*domain.Plan, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var plan domain.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ========== 绑定缓存 ==========

// GetAllocation 获取缓存的域名绑定
//
// 缓存了"无绑定"时返回 domain.ErrAllocationNotFound，未缓存返回 ErrCacheMiss
func (c *PlanCache) GetAllocation(ctx context.Context, domainName string) (*domain.Allocation, error) {
	gen, err := c.Generation(ctx)
	if err != nil {
		return nil, err
	}

	data, err := c.rdb.Get(ctx, allocationKey(gen, domainName)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	if string(data) == noAllocation {
		return nil, domain.ErrAllocationNotFound
	}

	var alloc domain.Allocation
	if err := json.Unmarshal(data, &alloc); err != nil {
		return nil, err
	}
	return &alloc, nil
}

// SetAllocation 在代数 gen 下缓存域名绑定，alloc 为 nil 表示域名没有绑定
func (c *PlanCache) SetAllocation(ctx context.Context, gen int64, domainName string, alloc *domain.Allocation) error {
	key := allocationKey(gen, domainName)
	if alloc == nil {
		return c.rdb.Set(ctx, key, noAllocation, c.ttl).Err()
	}
	return c.setJSON(ctx, key, alloc)
}

func (c *PlanCache) setJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, c.ttl).Err()
}
