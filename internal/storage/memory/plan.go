package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"mailadmin/backend/internal/domain"
)

// CreatePlan 创建套餐
func (s *Store) CreatePlan(ctx context.Context, plan *domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := planKey(plan.Name)
	if _, exists := s.planByName[key]; exists {
		return domain.ErrDuplicatePlanName
	}

	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	now := s.now()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	if plan.IsDefault {
		s.clearDefaultLocked(plan.ID)
	}
	s.plans[plan.ID] = plan.Clone()
	s.planByName[key] = plan.ID
	return nil
}

// UpdatePlan 更新套餐
func (s *Store) UpdatePlan(ctx context.Context, plan *domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.plans[plan.ID]
	if !ok {
		return domain.ErrPlanNotFound
	}

	newKey := planKey(plan.Name)
	if id, taken := s.planByName[newKey]; taken && id != plan.ID {
		return domain.ErrDuplicatePlanName
	}
	delete(s.planByName, planKey(existing.Name))
	s.planByName[newKey] = plan.ID

	if plan.IsDefault {
		s.clearDefaultLocked(plan.ID)
	}
	plan.CreatedAt = existing.CreatedAt
	plan.UpdatedAt = s.now()
	s.plans[plan.ID] = plan.Clone()
	return nil
}

// GetPlan 根据 ID 获取套餐
func (s *Store) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[id]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return plan.Clone(), nil
}

// GetPlanByName 根据名称获取套餐
func (s *Store) GetPlanByName(ctx context.Context, name string) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.planByName[planKey(name)]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return s.plans[id].Clone(), nil
}

// GetDefaultPlan 获取默认套餐
//
// 正常情况下至多一个默认套餐；历史数据存在多个时取最早创建的（再按 ID）
func (s *Store) GetDefaultPlan(ctx context.Context) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := s.defaultPlanLocked()
	if found == nil {
		return nil, domain.ErrPlanNotFound
	}
	return found.Clone(), nil
}

func (s *Store) defaultPlanLocked() *domain.Plan {
	var found *domain.Plan
	for _, p := range s.plans {
		if !p.IsDefault {
			continue
		}
		if found == nil || p.CreatedAt.Before(found.CreatedAt) ||
			(p.CreatedAt.Equal(found.CreatedAt) && p.ID < found.ID) {
			found = p
		}
	}
	return found
}

// ListPlans 按配额升序列出套餐
func (s *Store) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QuotaMB != out[j].QuotaMB {
			return out[i].QuotaMB < out[j].QuotaMB
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// DeletePlan 删除套餐，仍被域名引用时拒绝
func (s *Store) DeletePlan(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[id]
	if !ok {
		return domain.ErrPlanNotFound
	}
	if n := s.countAllocationsLocked(id); n > 0 {
		return &domain.PlanInUseError{PlanName: plan.Name, Allocations: n}
	}

	delete(s.plans, id)
	delete(s.planByName, planKey(plan.Name))
	return nil
}

// GetAllocation 获取域名的套餐绑定
func (s *Store) GetAllocation(ctx context.Context, domainName string) (*domain.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alloc, ok := s.allocations[domain.NormalizeDomain(domainName)]
	if !ok {
		return nil, domain.ErrAllocationNotFound
	}
	cp := *alloc
	return &cp, nil
}

// ListAllocations 列出所有绑定
func (s *Store) ListAllocations(ctx context.Context) ([]*domain.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Allocation, 0, len(s.allocations))
	for _, a := range s.allocations {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DomainName < out[j].DomainName })
	return out, nil
}

// CountAllocationsByPlan 统计引用套餐的绑定数
func (s *Store) CountAllocationsByPlan(ctx context.Context, planID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countAllocationsLocked(planID), nil
}

// ApplyPlan 原子地切换域名套餐并同步配额
func (s *Store) ApplyPlan(ctx context.Context, app *domain.PlanApplication) (*domain.PlanApplicationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[app.Domain.ID]
	if !ok {
		return nil, domain.ErrDomainNotFound
	}
	plan, ok := s.plans[app.Plan.ID]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}

	result := &domain.PlanApplicationResult{QuotaKB: plan.QuotaKB()}

	alloc, exists := s.allocations[d.Name]
	if exists {
		result.PreviousPlanID = alloc.PlanID
		if prev, ok := s.plans[alloc.PlanID]; ok {
			result.PreviousPlanName = prev.Name
		}
		alloc.PlanID = plan.ID
		alloc.AssignedAt = app.AssignedAt
	} else {
		if def := s.defaultPlanLocked(); def != nil {
			result.PreviousPlanName = def.Name
		}
		alloc = &domain.Allocation{
			ID:         uuid.New().String(),
			DomainName: d.Name,
			PlanID:     plan.ID,
			AssignedAt: app.AssignedAt,
		}
		s.allocations[d.Name] = alloc
	}
	allocCopy := *alloc
	result.Allocation = &allocCopy

	d.MaxMailboxes = plan.MaxMailboxes
	d.MaxAliases = plan.MaxAliases
	if app.IsActive != nil {
		d.IsActive = *app.IsActive
	}
	result.IsActive = d.IsActive

	for _, m := range s.mailboxes {
		if m.DomainID == d.ID {
			m.QuotaKB = result.QuotaKB
			result.Resynced++
		}
	}

	if app.Audit != nil {
		if entry := app.Audit(result); entry != nil {
			s.appendAuditLocked(entry)
		}
	}

	return result, nil
}

func (s *Store) clearDefaultLocked(keepID string) {
	for id, p := range s.plans {
		if id != keepID && p.IsDefault {
			p.IsDefault = false
			p.UpdatedAt = s.now()
		}
	}
}

func (s *Store) countAllocationsLocked(planID string) int {
	n := 0
	for _, a := range s.allocations {
		if a.PlanID == planID {
			n++
		}
	}
	return n
}

// planKey 套餐名不区分大小写，与 MariaDB 默认排序规则一致
func planKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
