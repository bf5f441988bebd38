package hybrid

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/storage"
	"mailadmin/backend/internal/storage/redis"
)

// PlanCache 套餐解析所需的缓存操作，由 redis.PlanCache 和 cache.LocalPlanCache 实现
//
// Set* 的 gen 必须是读数据库之前通过 Generation 取得的代数
type PlanCache interface {
	Generation(ctx context.Context) (int64, error)
	GetPlan(ctx context.Context, id string) (*domain.Plan, error)
	SetPlan(ctx context.Context, gen int64, plan *domain.Plan) error
	GetDefaultPlan(ctx context.Context) (*domain.Plan, error)
	SetDefaultPlan(ctx context.Context, gen int64, plan *domain.Plan) error
	GetAllocation(ctx context.Context, domainName string) (*domain.Allocation, error)
	SetAllocation(ctx context.Context, gen int64, domainName string, alloc *domain.Allocation) error
	Invalidate(ctx context.Context) error
}

// Store 混合存储实现，结合关系型数据库和 Redis 套餐缓存
//
// 只缓存套餐解析路径（GetPlan/GetDefaultPlan/GetAllocation）；
// 计数和开通始终直接访问数据库，额度判断不会读到缓存。
type Store struct {
	storage.Store
	cache PlanCache
	log   *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(db storage.Store, cache PlanCache, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		Store: db,
		cache: cache,
		log:   log,
	}
}

// ========== Plan Repository ==========

// CreatePlan 创建套餐后使缓存失效
func (s *Store) CreatePlan(ctx context.Context, plan *domain.Plan) error {
	if err := s.Store.CreatePlan(ctx, plan); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// UpdatePlan 更新套餐后使缓存失效
func (s *Store) UpdatePlan(ctx context.Context, plan *domain.Plan) error {
	if err := s.Store.UpdatePlan(ctx, plan); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// DeletePlan 删除套餐后使缓存失效
func (s *Store) DeletePlan(ctx context.Context, id string) error {
	if err := s.Store.DeletePlan(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// GetPlan 先读缓存，未命中时读数据库并回填
func (s *Store) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	if plan, err := s.cache.GetPlan(ctx, id); err == nil {
		return plan, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.log.Warn("plan cache read failed", zap.String("plan_id", id), zap.Error(err))
	}

	gen, cacheable := s.generation(ctx)
	plan, err := s.Store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.cache.SetPlan(ctx, gen, plan); err != nil {
			s.log.Warn("plan cache write failed", zap.String("plan_id", id), zap.Error(err))
		}
	}
	return plan, nil
}

// GetDefaultPlan 先读缓存，未命中时读数据库并回填
func (s *Store) GetDefaultPlan(ctx context.Context) (*domain.Plan, error) {
	if plan, err := s.cache.GetDefaultPlan(ctx); err == nil {
		return plan, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.log.Warn("default plan cache read failed", zap.Error(err))
	}

	gen, cacheable := s.generation(ctx)
	plan, err := s.Store.GetDefaultPlan(ctx)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.cache.SetDefaultPlan(ctx, gen, plan); err != nil {
			s.log.Warn("default plan cache write failed", zap.Error(err))
		}
	}
	return plan, nil
}

// ========== Allocation Repository ==========

// GetAllocation 先读缓存，"无绑定"同样会被缓存
func (s *Store) GetAllocation(ctx context.Context, domainName string) (*domain.Allocation, error) {
	alloc, err := s.cache.GetAllocation(ctx, domainName)
	switch {
	case err == nil:
		return alloc, nil
	case errors.Is(err, domain.ErrAllocationNotFound):
		return nil, err
	case !errors.Is(err, redis.ErrCacheMiss):
		s.log.Warn("allocation cache read failed", zap.String("domain", domainName), zap.Error(err))
	}

	gen, cacheable := s.generation(ctx)
	alloc, err = s.Store.GetAllocation(ctx, domainName)
	if err != nil && !errors.Is(err, domain.ErrAllocationNotFound) {
		return nil, err
	}

	if cacheable {
		if cacheErr := s.cache.SetAllocation(ctx, gen, domainName, alloc); cacheErr != nil {
			s.log.Warn("allocation cache write failed", zap.String("domain", domainName), zap.Error(cacheErr))
		}
	}
	return alloc, err
}

// ApplyPlan 事务提交后使缓存失效
func (s *Store) ApplyPlan(ctx context.Context, app *domain.PlanApplication) (*domain.PlanApplicationResult, error) {
	result, err := s.Store.ApplyPlan(ctx, app)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return result, nil
}

// generation 读数据库之前取得缓存代数，取不到时本次不回填
func (s *Store) generation(ctx context.Context) (int64, bool) {
	gen, err := s.cache.Generation(ctx)
	if err != nil {
		s.log.Warn("plan cache generation read failed", zap.Error(err))
		return 0, false
	}
	return gen, true
}

// invalidate 失效失败时旧数据最多保留一个 TTL
func (s *Store) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Error("plan cache invalidation failed", zap.Error(err))
	}
}
