package domain

import "time"

// Allocation 域名与套餐的绑定关系
//
// 每个域名最多一条；没有绑定的域名使用默认套餐
type Allocation struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DomainName string    `json:"domainName" gorm:"uniqueIndex;type:varchar(255);not null"`
	PlanID     string    `json:"planId" gorm:"type:varchar(36);not null;index"`
	AssignedAt time.Time `json:"assignedAt"`
}

// TableName 指定表名
func (Allocation) TableName() string {
	return "domain_allocations"
}

// PlanApplication 一次套餐变更（apply_plan）的输入
type PlanApplication struct {
	Domain     *MailDomain
	Plan       *Plan
	IsActive   *bool // nil 表示保持域名当前的启用状态
	AssignedAt time.Time

	// Audit 根据变更结果构造审计记录，与变更在同一事务内写入
	Audit func(result *PlanApplicationResult) *AuditEntry
}

// PlanApplicationResult 套餐变更提交后的结果
//
// PreviousPlanName 在事务内取得：原绑定的套餐，无绑定时为当时的默认套餐
type PlanApplicationResult struct {
	Allocation       *Allocation `json:"allocation"`
	PreviousPlanID   string      `json:"previousPlanId,omitempty"`
	PreviousPlanName string      `json:"previousPlanName,omitempty"`
	Resynced         int         `json:"resynced"` // 同步了配额的邮箱数
	QuotaKB          int64       `json:"quotaKb"`  // 同步后的配额
	IsActive         bool        `json:"isActive"` // 变更后的域名状态
}
