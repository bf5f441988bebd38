package domain

import (
	"fmt"
	"strings"
	"time"
)

// ResourceKind 受套餐上限约束的资源类型
type ResourceKind string

const (
	// ResourceMailbox 邮箱账户
	ResourceMailbox ResourceKind = "mailbox"
	// ResourceAlias 平台管理的别名
	ResourceAlias ResourceKind = "alias"
)

// ParseResourceKind 解析资源类型，接受单复数形式
func ParseResourceKind(s string) (ResourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mailbox", "mailboxes":
		return ResourceMailbox, nil
	case "alias", "aliases":
		return ResourceAlias, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResourceKind, s)
	}
}

// Plan 订阅套餐，定义一个域名可使用的资源上限
type Plan struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name         string    `json:"name" gorm:"uniqueIndex;type:varchar(50);not null"`
	MaxMailboxes int       `json:"maxMailboxes" gorm:"not null;default:10"`
	MaxAliases   int       `json:"maxAliases" gorm:"not null;default:20"`
	QuotaMB      int64     `json:"quotaMb" gorm:"column:quota_mb;not null;default:1024"`
	IsDefault    bool      `json:"isDefault" gorm:"default:false;index"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Plan) TableName() string {
	return "mail_plans"
}

// QuotaKB 返回单个邮箱的配额（KB），邮件系统以 KB 存储配额
func (p *Plan) QuotaKB() int64 {
	return p.QuotaMB * 1024
}

// Limit 返回指定资源类型的上限
func (p *Plan) Limit(kind ResourceKind) int {
	switch kind {
	case ResourceMailbox:
		return p.MaxMailboxes
	case ResourceAlias:
		return p.MaxAliases
	default:
		return 0
	}
}

// Clone 返回套餐的副本
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// PlanUpdate 套餐的部分更新，nil 字段保持不变
type PlanUpdate struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=50"`
	MaxMailboxes *int    `json:"maxMailboxes" validate:"omitempty,gte=1"`
	MaxAliases   *int    `json:"maxAliases" validate:"omitempty,gte=1"`
	QuotaMB      *int64  `json:"quotaMb" validate:"omitempty,gte=1"`
	IsDefault    *bool   `json:"isDefault"`
}

// Apply 把更新应用到套餐上
func (u *PlanUpdate) Apply(p *Plan) {
	if u.Name != nil {
		p.Name = strings.TrimSpace(*u.Name)
	}
	if u.MaxMailboxes != nil {
		p.MaxMailboxes = *u.MaxMailboxes
	}
	if u.MaxAliases != nil {
		p.MaxAliases = *u.MaxAliases
	}
	if u.QuotaMB != nil {
		p.QuotaMB = *u.QuotaMB
	}
	if u.IsDefault != nil {
		p.IsDefault = *u.IsDefault
	}
}
