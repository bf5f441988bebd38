package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/GehirnInc/crypt/sha512_crypt"
	"github.com/nbutton23/zxcvbn-go"
	"golang.org/x/crypto/bcrypt"
)

// MailboxSchemePrefix Dovecot 识别的密码方案前缀
const MailboxSchemePrefix = "{SHA512-CRYPT}"

// MinAdminPasswordScore 管理员密码的最低 zxcvbn 评分（0-4）
const MinAdminPasswordScore = 2

// ErrWeakPassword 管理员密码强度不足
var ErrWeakPassword = errors.New("password is too weak")

// 生成邮箱密码使用的字符集，去掉了容易混淆的 0/O、1/l/I
const passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ValidateAdminPassword 验证管理员密码强度
func ValidateAdminPassword(password string, userInputs ...string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: must be at least 8 characters", ErrWeakPassword)
	}
	if len(password) > 72 {
		return fmt.Errorf("%w: must be at most 72 characters", ErrWeakPassword)
	}
	if score := zxcvbn.PasswordStrength(password, userInputs).Score; score < MinAdminPasswordScore {
		return fmt.Errorf("%w: strength score %d, need at least %d", ErrWeakPassword, score, MinAdminPasswordScore)
	}
	return nil
}

// HashPassword 哈希管理员密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查管理员密码是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// HashMailboxPassword 生成 Dovecot 使用的 {SHA512-CRYPT}$6$... 哈希（5000 轮，随机盐）
func HashMailboxPassword(password string) (string, error) {
	hash, err := sha512_crypt.New().Generate([]byte(password), nil)
	if err != nil {
		return "", fmt.Errorf("failed to hash mailbox password: %w", err)
	}
	return MailboxSchemePrefix + hash, nil
}

// CheckMailboxPassword 校验邮箱密码
func CheckMailboxPassword(password, stored string) bool {
	hash, ok := strings.CutPrefix(stored, MailboxSchemePrefix)
	if !ok {
		return false
	}
	return sha512_crypt.New().Verify(hash, []byte(password)) == nil
}

// GeneratePassword 生成指定长度的随机密码
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}

	size := big.NewInt(int64(len(passwordAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		b.WriteByte(passwordAlphabet[n.Int64()])
	}
	return b.String(), nil
}
