package domain

// Alias 邮件别名，对应 Postfix 的 aliases 表
//
// 只有 ManagedByPlatform 为 true 的别名由管理平台创建并计入套餐额度，
// postmaster 等系统别名不计数
type Alias struct {
	ID                int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	DomainID          int64  `json:"domainId" gorm:"column:domain_id;index;not null"`
	Source            string `json:"source" gorm:"type:varchar(255);not null;index"`
	Destination       string `json:"destination" gorm:"type:text;not null"`
	ManagedByPlatform bool   `json:"managedByPlatform" gorm:"column:managed_by_platform;default:false"`
}

// TableName 指定表名
func (Alias) TableName() string {
	return "aliases"
}
