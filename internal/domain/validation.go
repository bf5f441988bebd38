package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrInvalidDomain    = errors.New("invalid domain format")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
)

// RFC 5321/5322 长度限制
const (
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

var (
	// 本地部分：字母数字开头结尾，中间允许 . _ - +
	localPartRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._+-]*[a-zA-Z0-9])?$`)

	domainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)
)

// NormalizeDomain 去除空白和末尾的点并转为小写
func NormalizeDomain(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// ValidateDomainName 验证域名格式
func ValidateDomainName(name string) error {
	if name == "" {
		return ErrInvalidDomain
	}
	if len(name) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(name) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateLocalPart 验证邮箱本地部分（@ 之前）
func ValidateLocalPart(local string) error {
	if local == "" {
		return ErrInvalidLocalPart
	}
	if len(local) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if !localPartRegex.MatchString(local) {
		return ErrInvalidLocalPart
	}
	if strings.Contains(local, "..") {
		return ErrInvalidLocalPart
	}
	return nil
}

// ValidateEmail 验证完整邮箱地址
func ValidateEmail(email string) error {
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}

	local, domainName, ok := SplitEmail(email)
	if !ok {
		return ErrInvalidEmail
	}
	if err := ValidateLocalPart(local); err != nil {
		return err
	}
	return ValidateDomainName(domainName)
}

// ParseDestinations 解析别名目标地址（逗号或空白分隔），返回规范化后的列表
func ParseDestinations(value string) ([]string, error) {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, ErrInvalidEmail
	}

	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		addr := strings.ToLower(f)
		if err := ValidateEmail(addr); err != nil {
			return nil, err
		}
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out, nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
