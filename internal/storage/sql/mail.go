package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"mailadmin/backend/internal/domain"
)

// ========== Mail Domain Repository ==========

const domainColumns = "id, name, max_users, max_aliases, is_active"

// GetMailDomain 根据名称获取域名
func (s *Store) GetMailDomain(ctx context.Context, name string) (*domain.MailDomain, error) {
	query := s.rebind(`SELECT ` + domainColumns + ` FROM domains WHERE name = ?`)
	d, err := scanDomain(s.db.QueryRowContext(ctx, query, domain.NormalizeDomain(name)))
	if err != nil {
		return nil, notFound(err, domain.ErrDomainNotFound)
	}
	return d, nil
}

// ListMailDomains 按名称升序列出满足条件的域名
func (s *Store) ListMailDomains(ctx context.Context, filter domain.DomainFilter) ([]*domain.MailDomain, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)

	if filter.Query != "" {
		conditions = append(conditions, "LOWER(name) LIKE ?")
		args = append(args, "%"+escapeLike(strings.ToLower(filter.Query))+"%")
	}
	switch filter.Status {
	case domain.DomainStatusActive:
		conditions = append(conditions, "is_active = ?")
		args = append(args, true)
	case domain.DomainStatusSuspended:
		conditions = append(conditions, "is_active = ?")
		args = append(args, false)
	}

	query := `SELECT ` + domainColumns + ` FROM domains`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY name ASC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.MailDomain, 0)
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountMailboxes 统计域名下的邮箱数量
func (s *Store) CountMailboxes(ctx context.Context, domainID int64) (int, error) {
	return s.countMailboxes(ctx, s.db, domainID)
}

// CountManagedAliases 统计域名下平台管理的别名数量
func (s *Store) CountManagedAliases(ctx context.Context, domainID int64) (int, error) {
	return s.countManagedAliases(ctx, s.db, domainID)
}

// queryer 兼容 *sql.DB 和 *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) countMailboxes(ctx context.Context, q queryer, domainID int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM users WHERE domain_id = ?`), domainID).Scan(&count)
	return count, err
}

func (s *Store) countManagedAliases(ctx context.Context, q queryer, domainID int64) (int, error) {
	var count int
	query := s.rebind(`SELECT COUNT(*) FROM aliases WHERE domain_id = ? AND managed_by_platform = ?`)
	err := q.QueryRowContext(ctx, query, domainID, true).Scan(&count)
	return count, err
}

// lockDomain 锁定域名行，同一域名下的开通与套餐变更因此串行执行
func (s *Store) lockDomain(ctx context.Context, tx *sql.Tx, domainID int64) (*domain.MailDomain, error) {
	query := s.rebind(`SELECT ` + domainColumns + ` FROM domains WHERE id = ? FOR UPDATE`)
	d, err := scanDomain(tx.QueryRowContext(ctx, query, domainID))
	if err != nil {
		return nil, notFound(err, domain.ErrDomainNotFound)
	}
	return d, nil
}

// ========== Mailbox Repository ==========

const mailboxColumns = "c_uid, mail, c_password, c_cn, domain_id, quota_kb"

// CreateMailboxWithinLimit 锁定域名行后计数并插入，保证邮箱数不超过 limit
func (s *Store) CreateMailboxWithinLimit(ctx context.Context, mailbox *domain.Mailbox, limit int) error {
	mailbox.Email = strings.ToLower(mailbox.Email)
	if mailbox.UID == "" {
		mailbox.UID = mailbox.Email
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.lockDomain(ctx, tx, mailbox.DomainID); err != nil {
			return err
		}

		current, err := s.countMailboxes(ctx, tx, mailbox.DomainID)
		if err != nil {
			return err
		}
		if current >= limit {
			return &domain.CapacityExceededError{Kind: domain.ResourceMailbox, Limit: limit, Current: current}
		}

		query := s.rebind(`
			INSERT INTO users (` + mailboxColumns + `)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		_, err = tx.ExecContext(ctx, query,
			mailbox.UID,
			mailbox.Email,
			mailbox.PasswordHash,
			mailbox.DisplayName,
			mailbox.DomainID,
			mailbox.QuotaKB,
		)
		if isUniqueViolation(err) {
			return domain.ErrMailboxExists
		}
		return err
	})
}

// GetMailbox 根据地址获取邮箱
func (s *Store) GetMailbox(ctx context.Context, email string) (*domain.Mailbox, error) {
	query := s.rebind(`SELECT ` + mailboxColumns + ` FROM users WHERE mail = ?`)
	m, err := scanMailbox(s.db.QueryRowContext(ctx, query, strings.ToLower(email)))
	if err != nil {
		return nil, notFound(err, domain.ErrMailboxNotFound)
	}
	return m, nil
}

// ListMailboxes 按地址升序列出域名下的邮箱
func (s *Store) ListMailboxes(ctx context.Context, domainID int64) ([]*domain.Mailbox, error) {
	query := s.rebind(`SELECT ` + mailboxColumns + ` FROM users WHERE domain_id = ? ORDER BY mail ASC`)
	rows, err := s.db.QueryContext(ctx, query, domainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Mailbox, 0)
	for rows.Next() {
		m, err := scanMailbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMailboxPassword 更新邮箱密码哈希
func (s *Store) UpdateMailboxPassword(ctx context.Context, email, passwordHash string) error {
	query := s.rebind(`UPDATE users SET c_password = ? WHERE mail = ?`)
	res, err := s.db.ExecContext(ctx, query, passwordHash, strings.ToLower(email))
	if err != nil {
		return err
	}
	return requireAffected(res, domain.ErrMailboxNotFound)
}

// DeleteMailbox 删除邮箱
func (s *Store) DeleteMailbox(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM users WHERE mail = ?`), strings.ToLower(email))
	if err != nil {
		return err
	}
	return requireAffected(res, domain.ErrMailboxNotFound)
}

// ========== Alias Repository ==========

const aliasColumns = "id, domain_id, source, destination, managed_by_platform"

// CreateAliasWithinLimit 锁定域名行后计数并插入平台管理的别名
func (s *Store) CreateAliasWithinLimit(ctx context.Context, alias *domain.Alias, limit int) error {
	alias.ManagedByPlatform = true

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.lockDomain(ctx, tx, alias.DomainID); err != nil {
			return err
		}

		current, err := s.countManagedAliases(ctx, tx, alias.DomainID)
		if err != nil {
			return err
		}
		if current >= limit {
			return &domain.CapacityExceededError{Kind: domain.ResourceAlias, Limit: limit, Current: current}
		}

		var dup int
		exists := s.rebind(`SELECT COUNT(*) FROM aliases WHERE source = ? AND destination = ?`)
		if err := tx.QueryRowContext(ctx, exists, alias.Source, alias.Destination).Scan(&dup); err != nil {
			return err
		}
		if dup > 0 {
			return domain.ErrAliasExists
		}

		insert := `
			INSERT INTO aliases (domain_id, source, destination, managed_by_platform)
			VALUES (?, ?, ?, ?)
		`
		args := []any{alias.DomainID, alias.Source, alias.Destination, alias.ManagedByPlatform}

		if s.driverName == "postgres" {
			return tx.QueryRowContext(ctx, s.rebind(insert+" RETURNING id"), args...).Scan(&alias.ID)
		}

		res, err := tx.ExecContext(ctx, insert, args...)
		if err != nil {
			return err
		}
		alias.ID, err = res.LastInsertId()
		return err
	})
}

// GetAlias 根据 ID 获取别名
func (s *Store) GetAlias(ctx context.Context, id int64) (*domain.Alias, error) {
	query := s.rebind(`SELECT ` + aliasColumns + ` FROM aliases WHERE id = ?`)
	a, err := scanAlias(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, domain.ErrAliasNotFound)
	}
	return a, nil
}

// ListManagedAliases 按源地址列出域名下平台管理的别名
func (s *Store) ListManagedAliases(ctx context.Context, domainID int64) ([]*domain.Alias, error) {
	query := s.rebind(`
		SELECT ` + aliasColumns + `
		FROM aliases
		WHERE domain_id = ? AND managed_by_platform = ?
		ORDER BY source ASC, id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, domainID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Alias, 0)
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAlias 删除别名
func (s *Store) DeleteAlias(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM aliases WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireAffected(res, domain.ErrAliasNotFound)
}

func scanDomain(row rowScanner) (*domain.MailDomain, error) {
	var d domain.MailDomain
	if err := row.Scan(&d.ID, &d.Name, &d.MaxMailboxes, &d.MaxAliases, &d.IsActive); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanMailbox(row rowScanner) (*domain.Mailbox, error) {
	var m domain.Mailbox
	var displayName sql.NullString
	err := row.Scan(&m.UID, &m.Email, &m.PasswordHash, &displayName, &m.DomainID, &m.QuotaKB)
	if err != nil {
		return nil, err
	}
	m.DisplayName = displayName.String
	return &m, nil
}

func scanAlias(row rowScanner) (*domain.Alias, error) {
	var a domain.Alias
	if err := row.Scan(&a.ID, &a.DomainID, &a.Source, &a.Destination, &a.ManagedByPlatform); err != nil {
		return nil, err
	}
	return &a, nil
}

func requireAffected(res sql.Result, target error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return target
	}
	return nil
}

// escapeLike 转义 LIKE 通配符
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
