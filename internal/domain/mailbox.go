package domain

import "strings"

// Mailbox 邮箱账户，对应邮件系统的 users 表
//
// Dovecot 通过 mail/c_password 认证，SOGo 使用 c_uid/c_cn
type Mailbox struct {
	UID          string `json:"uid" gorm:"column:c_uid;primaryKey;type:varchar(255)"`
	Email        string `json:"email" gorm:"column:mail;uniqueIndex;type:varchar(255);not null"`
	PasswordHash string `json:"-" gorm:"column:c_password;type:varchar(255);not null"`
	DisplayName  string `json:"displayName" gorm:"column:c_cn;type:varchar(255)"`
	DomainID     int64  `json:"domainId" gorm:"column:domain_id;index;not null"`
	QuotaKB      int64  `json:"quotaKb" gorm:"column:quota_kb;not null"`
}

// TableName 指定表名
func (Mailbox) TableName() string {
	return "users"
}

// LocalPart 返回邮箱地址 @ 之前的部分
func (m *Mailbox) LocalPart() string {
	local, _, _ := SplitEmail(m.Email)
	return local
}

// QuotaMB 以 MB 表示的配额
func (m *Mailbox) QuotaMB() int64 {
	return m.QuotaKB / 1024
}

// SplitEmail 拆分邮箱地址为本地部分和域名（域名转为小写）
func SplitEmail(email string) (local, domainName string, ok bool) {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", "", false
	}
	return email[:at], strings.ToLower(email[at+1:]), true
}

// MailboxCredentials 新开通或重置后的一次性明文密码
type MailboxCredentials struct {
	Mailbox  *Mailbox `json:"mailbox"`
	Password string   `json:"password"`
	Warning  string   `json:"warning,omitempty"`
}
