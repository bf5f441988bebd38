package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailadmin/backend/internal/domain"
)

// AppendAudit 追加审计记录
func (s *Store) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendAuditLocked(entry)
	return nil
}

func (s *Store) appendAuditLocked(entry *domain.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	cp := *entry
	s.audit = append(s.audit, &cp)
}

// ListAudit 按时间倒序返回最近的审计记录
func (s *Store) ListAudit(ctx context.Context, limit int) ([]*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// 倒序复制后稳定排序，同一时刻写入的记录后写在前
	out := make([]*domain.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		cp := *s.audit[i]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ========== 管理员 ==========

// CreateAdmin 创建管理员
func (s *Store) CreateAdmin(ctx context.Context, admin *domain.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(admin.Email)
	if _, exists := s.adminByEmail[email]; exists {
		return domain.ErrAdminExists
	}
	if admin.ID == "" {
		admin.ID = uuid.New().String()
	}
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = s.now()
	}
	admin.Email = email

	cp := *admin
	s.admins[admin.ID] = &cp
	s.adminByEmail[email] = admin.ID
	return nil
}

// GetAdminByID 根据 ID 获取管理员
func (s *Store) GetAdminByID(ctx context.Context, id string) (*domain.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.admins[id]
	if !ok {
		return nil, domain.ErrAdminNotFound
	}
	cp := *a
	return &cp, nil
}

// GetAdminByEmail 根据邮箱获取管理员
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*domain.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.adminByEmail[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrAdminNotFound
	}
	cp := *s.admins[id]
	return &cp, nil
}

// UpdateAdminLastLogin 记录最后登录时间
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.admins[id]
	if !ok {
		return domain.ErrAdminNotFound
	}
	a.LastLoginAt = &at
	return nil
}
