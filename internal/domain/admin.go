package domain

import "time"

// AdminUser 管理平台账户
//
// 超级管理员管理套餐和所有域名；域名管理员只能管理其邮箱所属域名下的邮箱和别名
type AdminUser struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email        string     `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	PasswordHash string     `json:"-" gorm:"type:varchar(255);not null"`
	IsSuper      bool       `json:"isSuper" gorm:"default:false"`
	IsActive     bool       `json:"isActive" gorm:"default:true"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt"`
}

// TableName 指定表名
func (AdminUser) TableName() string {
	return "admin_users"
}

// ManagedDomain 返回域名管理员负责的域名，超级管理员返回空串
func (a *AdminUser) ManagedDomain() string {
	if a.IsSuper {
		return ""
	}
	_, domainName, _ := SplitEmail(a.Email)
	return domainName
}

// CanManage 是否有权管理指定域名
func (a *AdminUser) CanManage(domainName string) bool {
	if a.IsSuper {
		return true
	}
	managed := a.ManagedDomain()
	return managed != "" && managed == NormalizeDomain(domainName)
}
