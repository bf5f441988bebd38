package domain

import "time"

// AuditAction 审计动作
type AuditAction string

const (
	AuditCreatePlan    AuditAction = "CREATE_PLAN"
	AuditUpdatePlan    AuditAction = "UPDATE_PLAN"
	AuditDeletePlan    AuditAction = "DELETE_PLAN"
	AuditUpdateDomain  AuditAction = "UPDATE_DOMAIN"
	AuditCreateMailbox AuditAction = "CREATE_MAILBOX"
	AuditDeleteMailbox AuditAction = "DELETE_MAILBOX"
	AuditResetPassword AuditAction = "RESET_PASSWORD"
	AuditCreateAlias   AuditAction = "CREATE_ALIAS"
	AuditDeleteAlias   AuditAction = "DELETE_ALIAS"
)

// MaxAuditEntries 审计日志单次查询的上限
const MaxAuditEntries = 100

// AuditEntry 管理员操作日志
type AuditEntry struct {
	ID         string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AdminEmail string      `json:"adminEmail" gorm:"type:varchar(255);not null;index"`
	Action     AuditAction `json:"action" gorm:"type:varchar(50);not null"`
	Target     string      `json:"target" gorm:"type:varchar(255)"`
	Details    string      `json:"details" gorm:"type:text"`
	CreatedAt  time.Time   `json:"createdAt" gorm:"index"`
}

// TableName 指定表名
func (AuditEntry) TableName() string {
	return "admin_logs"
}
