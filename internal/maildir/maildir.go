package maildir

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"mailadmin/backend/internal/config"
	"mailadmin/backend/internal/domain"
)

// ErrInvalidPath 邮箱地址无法映射到根目录下的路径
var ErrInvalidPath = errors.New("invalid maildir path")

// subdirs Maildir 的三个标准子目录
var subdirs = []string{"cur", "new", "tmp"}

// Manager 在 <root>/<domain>/<local>/ 下创建 Dovecot 使用的 Maildir
type Manager struct {
	root  string
	owner string
	log   *zap.Logger

	lookup func(name string) (uid, gid int, err error)
	chown  func(path string, uid, gid int) error
}

// New 创建 Maildir 管理器
func New(cfg config.ProvisioningConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		root:   filepath.Clean(cfg.MaildirRoot),
		owner:  cfg.MaildirOwner,
		log:    log,
		lookup: lookupOwner,
		chown:  os.Chown,
	}
}

// Path 返回邮箱的 Maildir 路径
func (m *Manager) Path(email string) (string, error) {
	local, domainName, ok := domain.SplitEmail(strings.ToLower(email))
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, email)
	}
	if domain.ValidateLocalPart(local) != nil || domain.ValidateDomainName(domainName) != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, email)
	}

	path := filepath.Join(m.root, domainName, local)
	rel, err := filepath.Rel(m.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, email)
	}
	return path, nil
}

// Create 创建 cur/new/tmp 并把域名目录和邮箱目录交给邮件用户
//
// 目录已存在时不报错。
func (m *Manager) Create(email string) (string, error) {
	path, err := m.Path(email)
	if err != nil {
		return "", err
	}

	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(path, sub), 0o700); err != nil {
			return "", fmt.Errorf("failed to create maildir: %w", err)
		}
	}

	if m.owner == "" {
		return path, nil
	}

	uid, gid, err := m.lookup(m.owner)
	if err != nil {
		return path, fmt.Errorf("failed to look up maildir owner %q: %w", m.owner, err)
	}

	targets := []string{filepath.Dir(path), path}
	for _, sub := range subdirs {
		targets = append(targets, filepath.Join(path, sub))
	}
	for _, target := range targets {
		if err := m.chown(target, uid, gid); err != nil {
			return path, fmt.Errorf("failed to chown %s: %w", target, err)
		}
	}

	m.log.Debug("maildir created", zap.String("path", path), zap.String("owner", m.owner))
	return path, nil
}

func lookupOwner(name string) (int, int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, err
	}
	return uid, gid, nil
}
