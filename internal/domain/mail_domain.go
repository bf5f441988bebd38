package domain

// MailDomain 邮件系统中的域名（Postfix/Dovecot 共用的 domains 表）
//
// MaxMailboxes/MaxAliases 是生效套餐的冗余副本，仅由套餐变更刷新，
// 不作为额度判断的依据
type MailDomain struct {
	ID           int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name         string `json:"name" gorm:"uniqueIndex;type:varchar(255);not null"`
	MaxMailboxes int    `json:"maxMailboxes" gorm:"column:max_users;default:10"`
	MaxAliases   int    `json:"maxAliases" gorm:"column:max_aliases;default:20"`
	IsActive     bool   `json:"isActive" gorm:"default:true"`
}

// TableName 指定表名
func (MailDomain) TableName() string {
	return "domains"
}

// DomainStatusFilter 域名列表的状态过滤
type DomainStatusFilter string

const (
	DomainStatusAll       DomainStatusFilter = "all"
	DomainStatusActive    DomainStatusFilter = "active"
	DomainStatusSuspended DomainStatusFilter = "suspended"
)

// DomainFilter 域名列表查询条件
type DomainFilter struct {
	Query  string             // 名称包含（不区分大小写）
	Status DomainStatusFilter // all / active / suspended
}

// Match 判断域名是否满足过滤条件
func (f DomainFilter) Match(d *MailDomain) bool {
	switch f.Status {
	case DomainStatusActive:
		if !d.IsActive {
			return false
		}
	case DomainStatusSuspended:
		if d.IsActive {
			return false
		}
	}
	return f.Query == "" || containsFold(d.Name, f.Query)
}

// ResourceUsage 某类资源的用量
type ResourceUsage struct {
	Current int `json:"current"`
	Limit   int `json:"limit"`
}

// OverLimit 当前用量是否已超过上限（套餐降级后可能出现）
func (u ResourceUsage) OverLimit() bool {
	return u.Current > u.Limit
}

// DomainUsage 域名的套餐与资源用量
type DomainUsage struct {
	Domain    *MailDomain   `json:"domain"`
	Plan      *Plan         `json:"plan,omitempty"`
	Mailboxes ResourceUsage `json:"mailboxes"`
	Aliases   ResourceUsage `json:"aliases"`
	OverLimit bool          `json:"overLimit"`
}
