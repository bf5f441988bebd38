package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/storage"
)

// Enforcer 执行套餐约束：开通前检查额度，切换套餐时同步域名与邮箱配额
type Enforcer struct {
	store    storage.Store
	resolver *Resolver
	notifier ReloadNotifier
	recorder Recorder
	audit    auditor
	log      *zap.Logger
	now      func() time.Time
}

// NewEnforcer 创建套餐执行器，notifier 为 nil 时不通知重载
func NewEnforcer(store storage.Store, resolver *Resolver, notifier ReloadNotifier, recorder Recorder, log *zap.Logger) *Enforcer {
	log = orNopLogger(log)
	return &Enforcer{
		store:    store,
		resolver: resolver,
		notifier: notifier,
		recorder: orNop(recorder),
		audit:    auditor{repo: store, log: log},
		log:      log,
		now:      time.Now,
	}
}

// CheckAndReserve 检查域名是否还能再开通一个 kind 类型的资源
//
// 当前数量达到套餐上限时返回 *domain.CapacityExceededError，否则返回当前用量。
// 这里的检查只用于提前提示，真正的开通由存储层在锁内再次计数。
func (e *Enforcer) CheckAndReserve(ctx context.Context, domainName string, kind domain.ResourceKind) (*domain.ResourceUsage, error) {
	d, err := e.store.GetMailDomain(ctx, domainName)
	if err != nil {
		return nil, domain.Internal("get domain", err)
	}

	plan, err := e.resolver.Resolve(ctx, d.Name)
	if err != nil {
		return nil, err
	}

	current, err := e.count(ctx, d.ID, kind)
	if err != nil {
		return nil, err
	}

	limit := plan.Limit(kind)
	if current >= limit {
		e.recorder.ObserveCapacityRejection(kind)
		return nil, &domain.CapacityExceededError{Kind: kind, Limit: limit, Current: current}
	}
	return &domain.ResourceUsage{Current: current, Limit: limit}, nil
}

func (e *Enforcer) count(ctx context.Context, domainID int64, kind domain.ResourceKind) (int, error) {
	var (
		n   int
		err error
	)
	switch kind {
	case domain.ResourceMailbox:
		n, err = e.store.CountMailboxes(ctx, domainID)
	case domain.ResourceAlias:
		n, err = e.store.CountManagedAliases(ctx, domainID)
	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidResourceKind, kind)
	}
	if err != nil {
		return 0, domain.Internal("count "+string(kind), err)
	}
	return n, nil
}

// ApplyPlanInput 切换域名套餐的输入
type ApplyPlanInput struct {
	Domain   string `json:"-" validate:"required"`
	PlanID   string `json:"planId" validate:"required"`
	IsActive *bool  `json:"isActive"`
}

// ApplyPlanResult 切换套餐的结果，Warning 非空表示变更已提交但重载失败
type ApplyPlanResult struct {
	*domain.PlanApplicationResult
	Plan    *domain.Plan `json:"plan"`
	Warning string       `json:"warning,omitempty"`
}

// ApplyPlan 将套餐应用到域名
//
// 绑定写入、域名上限与状态刷新、邮箱配额同步和审计记录在同一事务内完成；
// 提交后通知 Dovecot 重载，重载失败不回滚，只通过 Warning 返回并在后台重试。
// 重复应用同一套餐得到相同的结果。
func (e *Enforcer) ApplyPlan(ctx context.Context, actor string, input ApplyPlanInput) (*ApplyPlanResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	d, err := e.store.GetMailDomain(ctx, input.Domain)
	if err != nil {
		return nil, domain.Internal("get domain", err)
	}
	plan, err := e.store.GetPlan(ctx, input.PlanID)
	if err != nil {
		return nil, domain.Internal("get plan", err)
	}

	result, err := e.store.ApplyPlan(ctx, &domain.PlanApplication{
		Domain:     d,
		Plan:       plan,
		IsActive:   input.IsActive,
		AssignedAt: e.now(),
		Audit: func(r *domain.PlanApplicationResult) *domain.AuditEntry {
			return &domain.AuditEntry{
				AdminEmail: actor,
				Action:     domain.AuditUpdateDomain,
				Target:     d.Name,
				Details: fmt.Sprintf("plan %q -> %q, resynced %d mailboxes to %d KB, active=%t",
					r.PreviousPlanName, plan.Name, r.Resynced, r.QuotaKB, r.IsActive),
			}
		},
	})
	if err != nil {
		e.recorder.ObservePlanApply("error", 0)
		return nil, domain.Internal("apply plan", err)
	}
	e.recorder.ObservePlanApply("ok", result.Resynced)

	e.log.Info("plan applied",
		zap.String("domain", d.Name),
		zap.String("plan", plan.Name),
		zap.String("previous_plan", result.PreviousPlanName),
		zap.Int("resynced", result.Resynced),
		zap.String("actor", actor),
	)

	out := &ApplyPlanResult{
		PlanApplicationResult: result,
		Plan:                  plan,
	}

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, "apply plan "+d.Name); err != nil {
			var reloadErr *domain.ReloadError
			if !errors.As(err, &reloadErr) {
				reloadErr = &domain.ReloadError{Err: err}
			}
			out.Warning = reloadErr.Error()
		}
	}
	return out, nil
}
