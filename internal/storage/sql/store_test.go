package sql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sqlmock "gopkg.in/DATA-DOG/go-sqlmock.v1"

	"mailadmin/backend/internal/domain"
)

var planRowColumns = []string{"id", "name", "max_mailboxes", "max_aliases", "quota_mb", "is_default", "created_at", "updated_at"}

func newMockStore(t *testing.T, driverName string) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := newStore(db, driverName, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return store, mock
}

func TestRebind(t *testing.T) {
	t.Run("MySQL 保持问号占位符", func(t *testing.T) {
		s := newStore(nil, "mysql", nil)
		assert.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?", s.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	})

	t.Run("PostgreSQL 转换为编号占位符", func(t *testing.T) {
		s := newStore(nil, "postgres", nil)
		assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", s.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	})
}

func TestApplyPlan(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	expectLocks := func(mock sqlmock.Sqlmock) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, name, max_users, max_aliases, is_active FROM domains WHERE id = \? FOR UPDATE`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "max_users", "max_aliases", "is_active"}).
				AddRow(int64(7), "example.com", 10, 20, true))
		mock.ExpectQuery(`SELECT .+ FROM mail_plans WHERE id = \? FOR UPDATE`).
			WithArgs("plan-premium").
			WillReturnRows(sqlmock.NewRows(planRowColumns).
				AddRow("plan-premium", "Premium", 10, 20, int64(10240), false, created, created))
	}

	t.Run("首次绑定在一个事务内完成", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		expectLocks(mock)
		mock.ExpectQuery(`SELECT id, plan_id FROM domain_allocations WHERE domain_name = \? FOR UPDATE`).
			WithArgs("example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "plan_id"}))
		mock.ExpectExec(`INSERT INTO domain_allocations`).
			WithArgs(sqlmock.AnyArg(), "example.com", "plan-premium", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE domains SET max_users = \?, max_aliases = \?, is_active = \? WHERE id = \?`).
			WithArgs(10, 20, false, int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE domain_id = \?`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectExec(`UPDATE users SET quota_kb = \? WHERE domain_id = \?`).
			WithArgs(int64(10485760), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectQuery(`SELECT name FROM mail_plans WHERE is_default = \? ORDER BY created_at ASC, id ASC LIMIT 1`).
			WithArgs(true).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Standard"))
		mock.ExpectExec(`INSERT INTO admin_logs`).
			WithArgs(sqlmock.AnyArg(), "root@example.net", "UPDATE_DOMAIN", "example.com", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		inactive := false
		result, err := store.ApplyPlan(ctx, &domain.PlanApplication{
			Domain:     &domain.MailDomain{ID: 7, Name: "example.com"},
			Plan:       &domain.Plan{ID: "plan-premium"},
			IsActive:   &inactive,
			AssignedAt: store.now(),
			Audit: func(r *domain.PlanApplicationResult) *domain.AuditEntry {
				return &domain.AuditEntry{
					AdminEmail: "root@example.net",
					Action:     domain.AuditUpdateDomain,
					Target:     r.Allocation.DomainName,
					Details:    r.PreviousPlanName + " -> Premium",
				}
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, result.Resynced)
		assert.Equal(t, int64(10485760), result.QuotaKB)
		assert.False(t, result.IsActive)
		assert.Empty(t, result.PreviousPlanID)
		assert.Equal(t, "Standard", result.PreviousPlanName)
		assert.Equal(t, "plan-premium", result.Allocation.PlanID)
		assert.NotEmpty(t, result.Allocation.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("已有绑定时更新而不是新增", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		expectLocks(mock)
		mock.ExpectQuery(`SELECT id, plan_id FROM domain_allocations WHERE domain_name = \? FOR UPDATE`).
			WithArgs("example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "plan_id"}).AddRow("alloc-1", "plan-standard"))
		mock.ExpectExec(`UPDATE domain_allocations SET plan_id = \?, assigned_at = \? WHERE id = \?`).
			WithArgs("plan-premium", sqlmock.AnyArg(), "alloc-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE domains SET`).
			WithArgs(10, 20, true, int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(`UPDATE users SET quota_kb`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT name FROM mail_plans WHERE id = \?`).
			WithArgs("plan-standard").
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Standard"))
		mock.ExpectCommit()

		result, err := store.ApplyPlan(ctx, &domain.PlanApplication{
			Domain: &domain.MailDomain{ID: 7, Name: "example.com"},
			Plan:   &domain.Plan{ID: "plan-premium"},
		})
		require.NoError(t, err)
		assert.Equal(t, "alloc-1", result.Allocation.ID)
		assert.Equal(t, "plan-standard", result.PreviousPlanID)
		assert.Equal(t, "Standard", result.PreviousPlanName)
		assert.True(t, result.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("配额同步失败时整体回滚", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		expectLocks(mock)
		mock.ExpectQuery(`SELECT id, plan_id FROM domain_allocations`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "plan_id"}))
		mock.ExpectExec(`INSERT INTO domain_allocations`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE domains SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectExec(`UPDATE users SET quota_kb`).
			WillReturnError(errors.New("lock wait timeout"))
		mock.ExpectRollback()

		_, err := store.ApplyPlan(ctx, &domain.PlanApplication{
			Domain: &domain.MailDomain{ID: 7, Name: "example.com"},
			Plan:   &domain.Plan{ID: "plan-premium"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resync quotas")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("套餐不存在", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM domains WHERE id = \? FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "max_users", "max_aliases", "is_active"}).
				AddRow(int64(7), "example.com", 10, 20, true))
		mock.ExpectQuery(`FROM mail_plans WHERE id = \? FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(planRowColumns))
		mock.ExpectRollback()

		_, err := store.ApplyPlan(ctx, &domain.PlanApplication{
			Domain: &domain.MailDomain{ID: 7, Name: "example.com"},
			Plan:   &domain.Plan{ID: "missing"},
		})
		assert.ErrorIs(t, err, domain.ErrPlanNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeletePlan(t *testing.T) {
	ctx := context.Background()

	t.Run("仍被引用时拒绝删除", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT name FROM mail_plans WHERE id = \? FOR UPDATE`).
			WithArgs("plan-standard").
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Standard"))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM domain_allocations WHERE plan_id = \?`).
			WithArgs("plan-standard").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
		mock.ExpectRollback()

		err := store.DeletePlan(ctx, "plan-standard")
		var inUse *domain.PlanInUseError
		require.ErrorAs(t, err, &inUse)
		assert.Equal(t, 4, inUse.Allocations)
		assert.Equal(t, "Standard", inUse.PlanName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("未被引用时删除", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT name FROM mail_plans`).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Ultra"))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM domain_allocations`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(`DELETE FROM mail_plans WHERE id = \?`).
			WithArgs("plan-ultra").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.DeletePlan(ctx, "plan-ultra"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("不存在的套餐", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT name FROM mail_plans`).
			WillReturnRows(sqlmock.NewRows([]string{"name"}))
		mock.ExpectRollback()

		assert.ErrorIs(t, store.DeletePlan(ctx, "nope"), domain.ErrPlanNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreatePlan(t *testing.T) {
	ctx := context.Background()

	t.Run("默认套餐清除其他默认标记", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE mail_plans SET is_default = \?, updated_at = \? WHERE is_default = \? AND id <> \?`).
			WithArgs(false, sqlmock.AnyArg(), true, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO mail_plans`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		plan := &domain.Plan{Name: "Standard", MaxMailboxes: 10, MaxAliases: 20, QuotaMB: 500, IsDefault: true}
		require.NoError(t, store.CreatePlan(ctx, plan))
		assert.NotEmpty(t, plan.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("名称重复", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO mail_plans`).
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'Standard'"})
		mock.ExpectRollback()

		err := store.CreatePlan(ctx, &domain.Plan{Name: "Standard", MaxMailboxes: 1, MaxAliases: 1, QuotaMB: 1})
		assert.ErrorIs(t, err, domain.ErrDuplicatePlanName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PostgreSQL 大小写不同的名称同样冲突", func(t *testing.T) {
		store, mock := newMockStore(t, "postgres")
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO mail_plans`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "uk_mail_plans_name_lower"})
		mock.ExpectRollback()

		err := store.CreatePlan(ctx, &domain.Plan{Name: "standard", MaxMailboxes: 1, MaxAliases: 1, QuotaMB: 1})
		assert.ErrorIs(t, err, domain.ErrDuplicatePlanName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetPlanByName(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, driver := range []string{"mysql", "postgres"} {
		t.Run(driver+" 按名称查找不区分大小写", func(t *testing.T) {
			store, mock := newMockStore(t, driver)
			mock.ExpectQuery(`FROM mail_plans WHERE LOWER\(name\) = LOWER\((\?|\$1)\)`).
				WithArgs("standard").
				WillReturnRows(sqlmock.NewRows(planRowColumns).
					AddRow("p1", "Standard", 10, 20, int64(500), true, created, created))

			plan, err := store.GetPlanByName(ctx, " standard ")
			require.NoError(t, err)
			assert.Equal(t, "Standard", plan.Name)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreateMailboxWithinLimit(t *testing.T) {
	ctx := context.Background()
	domainRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "name", "max_users", "max_aliases", "is_active"}).
			AddRow(int64(3), "example.com", 10, 20, true)
	}

	t.Run("达到上限时拒绝并回滚", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM domains WHERE id = \? FOR UPDATE`).WithArgs(int64(3)).WillReturnRows(domainRow())
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE domain_id = \?`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
		mock.ExpectRollback()

		err := store.CreateMailboxWithinLimit(ctx, &domain.Mailbox{Email: "new@example.com", DomainID: 3}, 10)
		var capErr *domain.CapacityExceededError
		require.ErrorAs(t, err, &capErr)
		assert.Equal(t, 10, capErr.Limit)
		assert.Equal(t, 10, capErr.Current)
		assert.Equal(t, domain.ResourceMailbox, capErr.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("未达上限时插入", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM domains WHERE id = \? FOR UPDATE`).WillReturnRows(domainRow())
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs("new@example.com", "new@example.com", "{SHA512-CRYPT}$6$x", "New", int64(3), int64(512000)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.CreateMailboxWithinLimit(ctx, &domain.Mailbox{
			Email:        "New@Example.com",
			PasswordHash: "{SHA512-CRYPT}$6$x",
			DisplayName:  "New",
			DomainID:     3,
			QuotaKB:      512000,
		}, 10)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("地址已存在", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM domains WHERE id = \? FOR UPDATE`).WillReturnRows(domainRow())
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectExec(`INSERT INTO users`).
			WillReturnError(&mysql.MySQLError{Number: 1062})
		mock.ExpectRollback()

		err := store.CreateMailboxWithinLimit(ctx, &domain.Mailbox{Email: "a@example.com", DomainID: 3}, 10)
		assert.ErrorIs(t, err, domain.ErrMailboxExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateAliasWithinLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("PostgreSQL 通过 RETURNING 取得 ID", func(t *testing.T) {
		store, mock := newMockStore(t, "postgres")
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM domains WHERE id = \$1 FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "max_users", "max_aliases", "is_active"}).
				AddRow(int64(3), "example.com", 10, 20, true))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM aliases WHERE domain_id = \$1 AND managed_by_platform = \$2`).
			WithArgs(int64(3), true).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(19))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM aliases WHERE source = \$1 AND destination = \$2`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`INSERT INTO aliases .+ RETURNING id`).
			WithArgs(int64(3), "sales@example.com", "bob@example.org", true).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
		mock.ExpectCommit()

		alias := &domain.Alias{DomainID: 3, Source: "sales@example.com", Destination: "bob@example.org"}
		require.NoError(t, store.CreateAliasWithinLimit(ctx, alias, 20))
		assert.Equal(t, int64(42), alias.ID)
		assert.True(t, alias.ManagedByPlatform)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("达到上限", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM domains WHERE id = \? FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "max_users", "max_aliases", "is_active"}).
				AddRow(int64(3), "example.com", 10, 20, true))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM aliases WHERE domain_id`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(20))
		mock.ExpectRollback()

		err := store.CreateAliasWithinLimit(ctx, &domain.Alias{DomainID: 3, Source: "a@example.com", Destination: "b@example.com"}, 20)
		assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetters(t *testing.T) {
	ctx := context.Background()

	t.Run("域名不存在", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectQuery(`FROM domains WHERE name = \?`).
			WithArgs("missing.com").
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetMailDomain(ctx, "Missing.COM")
		assert.ErrorIs(t, err, domain.ErrDomainNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("默认套餐按创建时间取最早", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`FROM mail_plans WHERE is_default = \? ORDER BY created_at ASC, id ASC LIMIT 1`).
			WithArgs(true).
			WillReturnRows(sqlmock.NewRows(planRowColumns).
				AddRow("p1", "Standard", 10, 20, int64(500), true, created, created))

		plan, err := store.GetDefaultPlan(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Standard", plan.Name)
		assert.Equal(t, int64(512000), plan.QuotaKB())
	})

	t.Run("删除不存在的别名", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectExec(`DELETE FROM aliases WHERE id = \?`).
			WithArgs(int64(9)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, store.DeleteAlias(ctx, 9), domain.ErrAliasNotFound)
	})

	t.Run("域名列表过滤条件", func(t *testing.T) {
		store, mock := newMockStore(t, "mysql")
		mock.ExpectQuery(`FROM domains WHERE LOWER\(name\) LIKE \? AND is_active = \? ORDER BY name ASC`).
			WithArgs(`%ex\_a%`, false).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "max_users", "max_aliases", "is_active"}).
				AddRow(int64(1), "ex_ample.com", 10, 20, false))

		list, err := store.ListMailDomains(ctx, domain.DomainFilter{Query: "Ex_A", Status: domain.DomainStatusSuspended})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "ex_ample.com", list[0].Name)
	})
}
