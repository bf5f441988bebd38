package storage

import (
	"context"
	"time"

	"mailadmin/backend/internal/domain"
)

// PlanRepository 定义套餐数据存取操作。
//
// 标记 IsDefault 的写入会在同一事务内清除其他套餐的默认标记，保证至多一个默认套餐。
type PlanRepository interface {
	CreatePlan(ctx context.Context, plan *domain.Plan) error // 名称重复返回 domain.ErrDuplicatePlanName
	UpdatePlan(ctx context.Context, plan *domain.Plan) error
	GetPlan(ctx context.Context, id string) (*domain.Plan, error)
	GetPlanByName(ctx context.Context, name string) (*domain.Plan, error)
	GetDefaultPlan(ctx context.Context) (*domain.Plan, error) // 没有默认套餐返回 domain.ErrPlanNotFound
	ListPlans(ctx context.Context) ([]*domain.Plan, error)    // 按配额升序，其次按名称
	DeletePlan(ctx context.Context, id string) error          // 仍被引用返回 *domain.PlanInUseError
}

// AllocationRepository 定义域名套餐绑定的读取操作，写入只经由 Store.ApplyPlan。
type AllocationRepository interface {
	GetAllocation(ctx context.Context, domainName string) (*domain.Allocation, error)
	ListAllocations(ctx context.Context) ([]*domain.Allocation, error)
	CountAllocationsByPlan(ctx context.Context, planID string) (int, error)
}

// MailDomainRepository 定义邮件系统域名的读取与计数操作。
type MailDomainRepository interface {
	GetMailDomain(ctx context.Context, name string) (*domain.MailDomain, error)
	ListMailDomains(ctx context.Context, filter domain.DomainFilter) ([]*domain.MailDomain, error)
	CountMailboxes(ctx context.Context, domainID int64) (int, error)
	CountManagedAliases(ctx context.Context, domainID int64) (int, error) // 只统计平台管理的别名
}

// MailboxRepository 定义邮箱账户数据存取操作。
type MailboxRepository interface {
	// CreateMailboxWithinLimit 在域名邮箱数小于 limit 时插入邮箱，计数与插入是原子的。
	// 达到上限返回 *domain.CapacityExceededError，地址已存在返回 domain.ErrMailboxExists。
	CreateMailboxWithinLimit(ctx context.Context, mailbox *domain.Mailbox, limit int) error
	GetMailbox(ctx context.Context, email string) (*domain.Mailbox, error)
	ListMailboxes(ctx context.Context, domainID int64) ([]*domain.Mailbox, error)
	UpdateMailboxPassword(ctx context.Context, email, passwordHash string) error
	DeleteMailbox(ctx context.Context, email string) error
}

// AliasRepository 定义别名数据存取操作。
type AliasRepository interface {
	// CreateAliasWithinLimit 在平台管理的别名数小于 limit 时插入别名，语义同 CreateMailboxWithinLimit。
	CreateAliasWithinLimit(ctx context.Context, alias *domain.Alias, limit int) error
	GetAlias(ctx context.Context, id int64) (*domain.Alias, error)
	ListManagedAliases(ctx context.Context, domainID int64) ([]*domain.Alias, error)
	DeleteAlias(ctx context.Context, id int64) error
}

// AuditRepository 定义审计日志存取操作。
type AuditRepository interface {
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]*domain.AuditEntry, error) // 按时间倒序
}

// AdminRepository 定义管理员账户存取操作。
type AdminRepository interface {
	CreateAdmin(ctx context.Context, admin *domain.AdminUser) error
	GetAdminByID(ctx context.Context, id string) (*domain.AdminUser, error)
	GetAdminByEmail(ctx context.Context, email string) (*domain.AdminUser, error)
	UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error
}

// Store 聚合所有仓储接口，并提供跨表的原子操作。
type Store interface {
	PlanRepository
	AllocationRepository
	MailDomainRepository
	MailboxRepository
	AliasRepository
	AuditRepository
	AdminRepository

	// ApplyPlan 在一个事务内完成：写入/覆盖域名绑定、刷新域名的冗余上限与启用状态、
	// 批量同步域名下所有邮箱的配额、写入审计记录。任一步失败全部回滚。
	ApplyPlan(ctx context.Context, app *domain.PlanApplication) (*domain.PlanApplicationResult, error)

	Health(ctx context.Context) error
	Close() error
}
