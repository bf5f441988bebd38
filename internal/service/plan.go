package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/storage"
)

// PlanStore 套餐服务依赖的存储能力
type PlanStore interface {
	storage.PlanRepository
	storage.AuditRepository
}

// PlanService 维护套餐目录。
//
// 套餐的修改不会影响已绑定域名的冗余上限和邮箱配额，需要显式调用 Enforcer.ApplyPlan 同步。
type PlanService struct {
	store PlanStore
	audit auditor
	log   *zap.Logger
}

// NewPlanService 创建套餐服务
func NewPlanService(store PlanStore, log *zap.Logger) *PlanService {
	log = orNopLogger(log)
	return &PlanService{
		store: store,
		audit: auditor{repo: store, log: log},
		log:   log,
	}
}

// CreatePlanInput 创建套餐的输入
type CreatePlanInput struct {
	Name         string `json:"name" validate:"required,max=50"`
	MaxMailboxes int    `json:"maxMailboxes" validate:"gte=1"`
	MaxAliases   int    `json:"maxAliases" validate:"gte=1"`
	QuotaMB      int64  `json:"quotaMb" validate:"gte=1"`
	IsDefault    bool   `json:"isDefault"`
}

// Create 创建套餐，标记为默认时取消其他套餐的默认标记
func (s *PlanService) Create(ctx context.Context, actor string, input CreatePlanInput) (*domain.Plan, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	plan := &domain.Plan{
		Name:         input.Name,
		MaxMailboxes: input.MaxMailboxes,
		MaxAliases:   input.MaxAliases,
		QuotaMB:      input.QuotaMB,
		IsDefault:    input.IsDefault,
	}
	if err := s.store.CreatePlan(ctx, plan); err != nil {
		return nil, domain.Internal("create plan", err)
	}

	s.log.Info("plan created",
		zap.String("plan_id", plan.ID),
		zap.String("name", plan.Name),
		zap.String("actor", actor),
	)
	s.audit.record(ctx, actor, domain.AuditCreatePlan, plan.Name, describePlan(plan))
	return plan, nil
}

// Update 部分更新套餐
func (s *PlanService) Update(ctx context.Context, actor, id string, update domain.PlanUpdate) (*domain.Plan, error) {
	if err := validateInput(update); err != nil {
		return nil, err
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "is required"}
	}

	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, domain.Internal("get plan", err)
	}
	oldName := plan.Name

	update.Apply(plan)
	if err := s.store.UpdatePlan(ctx, plan); err != nil {
		return nil, domain.Internal("update plan", err)
	}

	s.log.Info("plan updated", zap.String("plan_id", plan.ID), zap.String("actor", actor))
	details := describePlan(plan)
	if oldName != plan.Name {
		details = fmt.Sprintf("renamed from %q, %s", oldName, details)
	}
	s.audit.record(ctx, actor, domain.AuditUpdatePlan, plan.Name, details)
	return plan, nil
}

// Delete 删除套餐，仍有域名绑定时返回 *domain.PlanInUseError
func (s *PlanService) Delete(ctx context.Context, actor, id string) error {
	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return domain.Internal("get plan", err)
	}
	if err := s.store.DeletePlan(ctx, id); err != nil {
		return domain.Internal("delete plan", err)
	}

	s.log.Info("plan deleted", zap.String("plan_id", id), zap.String("actor", actor))
	s.audit.record(ctx, actor, domain.AuditDeletePlan, plan.Name, describePlan(plan))
	return nil
}

// Get 获取套餐
func (s *PlanService) Get(ctx context.Context, id string) (*domain.Plan, error) {
	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, domain.Internal("get plan", err)
	}
	return plan, nil
}

// List 按配额升序列出全部套餐
func (s *PlanService) List(ctx context.Context) ([]*domain.Plan, error) {
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, domain.Internal("list plans", err)
	}
	return plans, nil
}

// DefaultPlans 初始化时预置的套餐
var DefaultPlans = []CreatePlanInput{
	{Name: "Standard", MaxMailboxes: 10, MaxAliases: 20, QuotaMB: 500, IsDefault: true},
	{Name: "Premium", MaxMailboxes: 10, MaxAliases: 20, QuotaMB: 10240},
	{Name: "Ultra", MaxMailboxes: 20, MaxAliases: 40, QuotaMB: 1024},
}

// SeedDefaults 写入预置套餐，同名套餐按预置值原地更新
func (s *PlanService) SeedDefaults(ctx context.Context) ([]*domain.Plan, error) {
	out := make([]*domain.Plan, 0, len(DefaultPlans))
	for _, in := range DefaultPlans {
		plan, err := s.store.GetPlanByName(ctx, in.Name)
		switch {
		case errors.Is(err, domain.ErrPlanNotFound):
			plan = &domain.Plan{Name: in.Name}
			applySeed(plan, in)
			if err := s.store.CreatePlan(ctx, plan); err != nil {
				return nil, domain.Internal("seed plan", err)
			}
			s.log.Info("plan seeded", zap.String("name", plan.Name))
		case err != nil:
			return nil, domain.Internal("seed plan", err)
		default:
			applySeed(plan, in)
			if err := s.store.UpdatePlan(ctx, plan); err != nil {
				return nil, domain.Internal("seed plan", err)
			}
			s.log.Info("plan reseeded", zap.String("name", plan.Name))
		}
		out = append(out, plan)
	}
	return out, nil
}

func applySeed(plan *domain.Plan, in CreatePlanInput) {
	plan.MaxMailboxes = in.MaxMailboxes
	plan.MaxAliases = in.MaxAliases
	plan.QuotaMB = in.QuotaMB
	plan.IsDefault = in.IsDefault
}

func describePlan(p *domain.Plan) string {
	return fmt.Sprintf("mailboxes=%d aliases=%d quota_mb=%d default=%t",
		p.MaxMailboxes, p.MaxAliases, p.QuotaMB, p.IsDefault)
}
