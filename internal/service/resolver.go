package service

import (
	"context"
	"errors"

	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/storage"
)

// ResolverStore 套餐解析依赖的存储能力
type ResolverStore interface {
	GetPlan(ctx context.Context, id string) (*domain.Plan, error)
	GetDefaultPlan(ctx context.Context) (*domain.Plan, error)
	GetAllocation(ctx context.Context, domainName string) (*domain.Allocation, error)
}

var _ ResolverStore = (storage.Store)(nil)

// Resolver 解析域名的生效套餐。
//
// 域名有绑定时使用绑定的套餐，否则使用默认套餐，两者都没有返回 domain.ErrNoPlan。
// 域名表上的 max_users/max_aliases 冗余字段不参与解析。
type Resolver struct {
	store ResolverStore
}

// NewResolver 创建套餐解析器
func NewResolver(store ResolverStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve 返回域名的生效套餐，只读
func (r *Resolver) Resolve(ctx context.Context, domainName string) (*domain.Plan, error) {
	name := domain.NormalizeDomain(domainName)

	alloc, err := r.store.GetAllocation(ctx, name)
	switch {
	case err == nil:
		plan, err := r.store.GetPlan(ctx, alloc.PlanID)
		if err != nil {
			// 绑定引用的套餐不存在说明数据不一致，不回退到默认套餐
			return nil, &domain.InternalError{Op: "resolve allocated plan", Err: err}
		}
		return plan, nil
	case errors.Is(err, domain.ErrAllocationNotFound):
	default:
		return nil, domain.Internal("get allocation", err)
	}

	plan, err := r.store.GetDefaultPlan(ctx)
	if errors.Is(err, domain.ErrPlanNotFound) {
		return nil, domain.ErrNoPlan
	}
	if err != nil {
		return nil, domain.Internal("get default plan", err)
	}
	return plan, nil
}

// ResolveOptional 与 Resolve 相同，但没有可用套餐时返回 nil 而非错误
func (r *Resolver) ResolveOptional(ctx context.Context, domainName string) (*domain.Plan, error) {
	plan, err := r.Resolve(ctx, domainName)
	if errors.Is(err, domain.ErrNoPlan) {
		return nil, nil
	}
	return plan, err
}
