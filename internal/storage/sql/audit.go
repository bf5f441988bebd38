package sql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailadmin/backend/internal/domain"
)

// ========== Audit Repository ==========

// AppendAudit 追加审计记录
func (s *Store) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	return s.insertAudit(ctx, s.db, entry)
}

// execer 兼容 *sql.DB 和 *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertAudit(ctx context.Context, e execer, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	query := s.rebind(`
		INSERT INTO admin_logs (id, admin_email, action, target, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := e.ExecContext(ctx, query,
		entry.ID,
		entry.AdminEmail,
		string(entry.Action),
		entry.Target,
		entry.Details,
		entry.CreatedAt,
	)
	return err
}

// ListAudit 按时间倒序返回最近的审计记录
func (s *Store) ListAudit(ctx context.Context, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 || limit > domain.MaxAuditEntries {
		limit = domain.MaxAuditEntries
	}

	query := s.rebind(`
		SELECT id, admin_email, action, target, details, created_at
		FROM admin_logs
		ORDER BY created_at DESC
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.AuditEntry, 0)
	for rows.Next() {
		var e domain.AuditEntry
		var action string
		var target, details sql.NullString
		if err := rows.Scan(&e.ID, &e.AdminEmail, &action, &target, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = domain.AuditAction(action)
		e.Target = target.String
		e.Details = details.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ========== Admin Repository ==========

const adminColumns = "id, email, password_hash, is_super, is_active, created_at, last_login_at"

// CreateAdmin 创建管理员
func (s *Store) CreateAdmin(ctx context.Context, admin *domain.AdminUser) error {
	if admin.ID == "" {
		admin.ID = uuid.New().String()
	}
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = s.now()
	}
	admin.Email = strings.ToLower(admin.Email)

	query := s.rebind(`
		INSERT INTO admin_users (` + adminColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		admin.ID,
		admin.Email,
		admin.PasswordHash,
		admin.IsSuper,
		admin.IsActive,
		admin.CreatedAt,
		admin.LastLoginAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAdminExists
	}
	return err
}

// GetAdminByID 根据 ID 获取管理员
func (s *Store) GetAdminByID(ctx context.Context, id string) (*domain.AdminUser, error) {
	query := s.rebind(`SELECT ` + adminColumns + ` FROM admin_users WHERE id = ?`)
	return s.getAdmin(ctx, query, id)
}

// GetAdminByEmail 根据邮箱获取管理员
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*domain.AdminUser, error) {
	query := s.rebind(`SELECT ` + adminColumns + ` FROM admin_users WHERE email = ?`)
	return s.getAdmin(ctx, query, strings.ToLower(email))
}

func (s *Store) getAdmin(ctx context.Context, query string, arg any) (*domain.AdminUser, error) {
	var a domain.AdminUser
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.IsSuper,
		&a.IsActive,
		&a.CreatedAt,
		&lastLogin,
	)
	if err != nil {
		return nil, notFound(err, domain.ErrAdminNotFound)
	}
	if lastLogin.Valid {
		a.LastLoginAt = &lastLogin.Time
	}
	return &a, nil
}

// UpdateAdminLastLogin 记录最后登录时间
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE admin_users SET last_login_at = ? WHERE id = ?`), at, id)
	if err != nil {
		return err
	}
	return requireAffected(res, domain.ErrAdminNotFound)
}
