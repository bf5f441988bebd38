package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mailadmin/backend/internal/domain"
)

const planColumns = "id, name, max_mailboxes, max_aliases, quota_mb, is_default, created_at, updated_at"

// planNameLowerIndex 与 migrations/postgres 中的索引相同
const planNameLowerIndex = `CREATE UNIQUE INDEX IF NOT EXISTS uk_mail_plans_name_lower ON mail_plans (LOWER(name))`

// ========== Plan Repository ==========

// CreatePlan 创建套餐；标记为默认时同一事务内清除其他默认标记
func (s *Store) CreatePlan(ctx context.Context, plan *domain.Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	now := s.now()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if plan.IsDefault {
			if err := s.clearDefault(ctx, tx, plan.ID); err != nil {
				return err
			}
		}

		query := s.rebind(`
			INSERT INTO mail_plans (` + planColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		_, err := tx.ExecContext(ctx, query,
			plan.ID,
			plan.Name,
			plan.MaxMailboxes,
			plan.MaxAliases,
			plan.QuotaMB,
			plan.IsDefault,
			plan.CreatedAt,
			plan.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return domain.ErrDuplicatePlanName
		}
		return err
	})
}

// UpdatePlan 更新套餐
func (s *Store) UpdatePlan(ctx context.Context, plan *domain.Plan) error {
	plan.UpdatedAt = s.now()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		lock := s.rebind(`SELECT created_at FROM mail_plans WHERE id = ? FOR UPDATE`)
		if err := tx.QueryRowContext(ctx, lock, plan.ID).Scan(&plan.CreatedAt); err != nil {
			return notFound(err, domain.ErrPlanNotFound)
		}

		if plan.IsDefault {
			if err := s.clearDefault(ctx, tx, plan.ID); err != nil {
				return err
			}
		}

		query := s.rebind(`
			UPDATE mail_plans
			SET name = ?, max_mailboxes = ?, max_aliases = ?, quota_mb = ?, is_default = ?, updated_at = ?
			WHERE id = ?
		`)
		_, err := tx.ExecContext(ctx, query,
			plan.Name,
			plan.MaxMailboxes,
			plan.MaxAliases,
			plan.QuotaMB,
			plan.IsDefault,
			plan.UpdatedAt,
			plan.ID,
		)
		if isUniqueViolation(err) {
			return domain.ErrDuplicatePlanName
		}
		return err
	})
}

func (s *Store) clearDefault(ctx context.Context, tx *sql.Tx, keepID string) error {
	query := s.rebind(`UPDATE mail_plans SET is_default = ?, updated_at = ? WHERE is_default = ? AND id <> ?`)
	_, err := tx.ExecContext(ctx, query, false, s.now(), true, keepID)
	return err
}

// GetPlan 根据 ID 获取套餐
func (s *Store) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	query := s.rebind(`SELECT ` + planColumns + ` FROM mail_plans WHERE id = ?`)
	plan, err := scanPlan(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, domain.ErrPlanNotFound)
	}
	return plan, nil
}

// GetPlanByName 根据名称获取套餐，名称不区分大小写
func (s *Store) GetPlanByName(ctx context.Context, name string) (*domain.Plan, error) {
	query := s.rebind(`SELECT ` + planColumns + ` FROM mail_plans WHERE LOWER(name) = LOWER(?)`)
	plan, err := scanPlan(s.db.QueryRowContext(ctx, query, strings.TrimSpace(name)))
	if err != nil {
		return nil, notFound(err, domain.ErrPlanNotFound)
	}
	return plan, nil
}

// GetDefaultPlan 获取默认套餐，存在多个时取最早创建的
func (s *Store) GetDefaultPlan(ctx context.Context) (*domain.Plan, error) {
	query := s.rebind(`
		SELECT ` + planColumns + `
		FROM mail_plans
		WHERE is_default = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`)
	plan, err := scanPlan(s.db.QueryRowContext(ctx, query, true))
	if err != nil {
		return nil, notFound(err, domain.ErrPlanNotFound)
	}
	return plan, nil
}

// ListPlans 按配额升序列出套餐
func (s *Store) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM mail_plans ORDER BY quota_mb ASC, name ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plans := make([]*domain.Plan, 0)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// DeletePlan 删除套餐
//
// 锁定套餐行后统计引用数，与 ApplyPlan 对同一行加锁互斥
func (s *Store) DeletePlan(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var name string
		lock := s.rebind(`SELECT name FROM mail_plans WHERE id = ? FOR UPDATE`)
		if err := tx.QueryRowContext(ctx, lock, id).Scan(&name); err != nil {
			return notFound(err, domain.ErrPlanNotFound)
		}

		count, err := s.countAllocations(ctx, tx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return &domain.PlanInUseError{PlanName: name, Allocations: count}
		}

		_, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM mail_plans WHERE id = ?`), id)
		if isForeignKeyViolation(err) {
			return &domain.PlanInUseError{PlanName: name, Allocations: 1}
		}
		return err
	})
}

// ========== Allocation Repository ==========

// GetAllocation 获取域名的套餐绑定
func (s *Store) GetAllocation(ctx context.Context, domainName string) (*domain.Allocation, error) {
	query := s.rebind(`
		SELECT id, domain_name, plan_id, assigned_at
		FROM domain_allocations
		WHERE domain_name = ?
	`)
	var a domain.Allocation
	err := s.db.QueryRowContext(ctx, query, domain.NormalizeDomain(domainName)).Scan(
		&a.ID,
		&a.DomainName,
		&a.PlanID,
		&a.AssignedAt,
	)
	if err != nil {
		return nil, notFound(err, domain.ErrAllocationNotFound)
	}
	return &a, nil
}

// ListAllocations 列出所有绑定
func (s *Store) ListAllocations(ctx context.Context) ([]*domain.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain_name, plan_id, assigned_at
		FROM domain_allocations
		ORDER BY domain_name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Allocation, 0)
	for rows.Next() {
		var a domain.Allocation
		if err := rows.Scan(&a.ID, &a.DomainName, &a.PlanID, &a.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CountAllocationsByPlan 统计引用套餐的绑定数
func (s *Store) CountAllocationsByPlan(ctx context.Context, planID string) (int, error) {
	var count int
	query := s.rebind(`SELECT COUNT(*) FROM domain_allocations WHERE plan_id = ?`)
	err := s.db.QueryRowContext(ctx, query, planID).Scan(&count)
	return count, err
}

func (s *Store) countAllocations(ctx context.Context, tx *sql.Tx, planID string) (int, error) {
	var count int
	query := s.rebind(`SELECT COUNT(*) FROM domain_allocations WHERE plan_id = ?`)
	err := tx.QueryRowContext(ctx, query, planID).Scan(&count)
	return count, err
}

// ApplyPlan 在一个事务内切换域名套餐并同步配额
//
// 加锁顺序固定为 domains → mail_plans → domain_allocations，避免与开通邮箱的事务死锁
func (s *Store) ApplyPlan(ctx context.Context, app *domain.PlanApplication) (*domain.PlanApplicationResult, error) {
	var result *domain.PlanApplicationResult

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		d, err := s.lockDomain(ctx, tx, app.Domain.ID)
		if err != nil {
			return err
		}

		lockPlan := s.rebind(`SELECT ` + planColumns + ` FROM mail_plans WHERE id = ? FOR UPDATE`)
		plan, err := scanPlan(tx.QueryRowContext(ctx, lockPlan, app.Plan.ID))
		if err != nil {
			return notFound(err, domain.ErrPlanNotFound)
		}

		result = &domain.PlanApplicationResult{QuotaKB: plan.QuotaKB()}

		alloc := &domain.Allocation{DomainName: d.Name, PlanID: plan.ID, AssignedAt: app.AssignedAt}
		lockAlloc := s.rebind(`SELECT id, plan_id FROM domain_allocations WHERE domain_name = ? FOR UPDATE`)
		err = tx.QueryRowContext(ctx, lockAlloc, d.Name).Scan(&alloc.ID, &result.PreviousPlanID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			alloc.ID = uuid.New().String()
			insert := s.rebind(`
				INSERT INTO domain_allocations (id, domain_name, plan_id, assigned_at)
				VALUES (?, ?, ?, ?)
			`)
			if _, err := tx.ExecContext(ctx, insert, alloc.ID, alloc.DomainName, alloc.PlanID, alloc.AssignedAt); err != nil {
				return fmt.Errorf("insert allocation: %w", err)
			}
		case err != nil:
			return err
		default:
			update := s.rebind(`UPDATE domain_allocations SET plan_id = ?, assigned_at = ? WHERE id = ?`)
			if _, err := tx.ExecContext(ctx, update, alloc.PlanID, alloc.AssignedAt, alloc.ID); err != nil {
				return fmt.Errorf("update allocation: %w", err)
			}
		}
		result.Allocation = alloc

		isActive := d.IsActive
		if app.IsActive != nil {
			isActive = *app.IsActive
		}
		result.IsActive = isActive

		updateDomain := s.rebind(`UPDATE domains SET max_users = ?, max_aliases = ?, is_active = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, updateDomain, plan.MaxMailboxes, plan.MaxAliases, isActive, d.ID); err != nil {
			return fmt.Errorf("update domain limits: %w", err)
		}

		// MySQL 的 RowsAffected 只计实际变化的行，重复应用时需要单独计数
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM users WHERE domain_id = ?`), d.ID).Scan(&result.Resynced); err != nil {
			return err
		}
		updateQuota := s.rebind(`UPDATE users SET quota_kb = ? WHERE domain_id = ?`)
		if _, err := tx.ExecContext(ctx, updateQuota, result.QuotaKB, d.ID); err != nil {
			return fmt.Errorf("resync quotas: %w", err)
		}

		if result.PreviousPlanName, err = s.previousPlanName(ctx, tx, result.PreviousPlanID, plan); err != nil {
			return fmt.Errorf("resolve previous plan: %w", err)
		}

		if app.Audit != nil {
			if entry := app.Audit(result); entry != nil {
				if err := s.insertAudit(ctx, tx, entry); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// previousPlanName 在事务内取变更前生效的套餐名称，无绑定时取默认套餐，都没有时为空
func (s *Store) previousPlanName(ctx context.Context, tx *sql.Tx, previousID string, current *domain.Plan) (string, error) {
	if previousID == current.ID {
		return current.Name, nil
	}

	var (
		name string
		err  error
	)
	if previousID != "" {
		query := s.rebind(`SELECT name FROM mail_plans WHERE id = ?`)
		err = tx.QueryRowContext(ctx, query, previousID).Scan(&name)
	} else {
		query := s.rebind(`SELECT name FROM mail_plans WHERE is_default = ? ORDER BY created_at ASC, id ASC LIMIT 1`)
		err = tx.QueryRowContext(ctx, query, true).Scan(&name)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

func scanPlan(row rowScanner) (*domain.Plan, error) {
	var p domain.Plan
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.MaxMailboxes,
		&p.MaxAliases,
		&p.QuotaMB,
		&p.IsDefault,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
