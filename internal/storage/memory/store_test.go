package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mailadmin/backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlan(name string, mailboxes, aliases int, quotaMB int64, isDefault bool) *domain.Plan {
	return &domain.Plan{
		Name:         name,
		MaxMailboxes: mailboxes,
		MaxAliases:   aliases,
		QuotaMB:      quotaMB,
		IsDefault:    isDefault,
	}
}

func TestMemoryStore_PlanOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("名称重复被拒绝且不区分大小写", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CreatePlan(ctx, newPlan("Standard", 10, 20, 500, true)))

		err := store.CreatePlan(ctx, newPlan("standard", 5, 5, 100, false))
		assert.ErrorIs(t, err, domain.ErrDuplicatePlanName)
	})

	t.Run("至多一个默认套餐", func(t *testing.T) {
		store := NewStore()
		standard := newPlan("Standard", 10, 20, 500, true)
		premium := newPlan("Premium", 10, 20, 10240, true)
		require.NoError(t, store.CreatePlan(ctx, standard))
		require.NoError(t, store.CreatePlan(ctx, premium))

		def, err := store.GetDefaultPlan(ctx)
		require.NoError(t, err)
		assert.Equal(t, premium.ID, def.ID)

		got, err := store.GetPlan(ctx, standard.ID)
		require.NoError(t, err)
		assert.False(t, got.IsDefault)
	})

	t.Run("没有默认套餐", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CreatePlan(ctx, newPlan("Ultra", 20, 40, 1024, false)))

		_, err := store.GetDefaultPlan(ctx)
		assert.ErrorIs(t, err, domain.ErrPlanNotFound)
	})

	t.Run("改名冲突", func(t *testing.T) {
		store := NewStore()
		a := newPlan("A", 1, 1, 1, false)
		b := newPlan("B", 1, 1, 2, false)
		require.NoError(t, store.CreatePlan(ctx, a))
		require.NoError(t, store.CreatePlan(ctx, b))

		b.Name = "a"
		assert.ErrorIs(t, store.UpdatePlan(ctx, b), domain.ErrDuplicatePlanName)

		b.Name = "B2"
		require.NoError(t, store.UpdatePlan(ctx, b))
		got, err := store.GetPlanByName(ctx, "b2")
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)

		_, err = store.GetPlanByName(ctx, "B")
		assert.ErrorIs(t, err, domain.ErrPlanNotFound)
	})

	t.Run("按配额升序列出", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CreatePlan(ctx, newPlan("Premium", 10, 20, 10240, false)))
		require.NoError(t, store.CreatePlan(ctx, newPlan("Standard", 10, 20, 500, true)))
		require.NoError(t, store.CreatePlan(ctx, newPlan("Ultra", 20, 40, 1024, false)))

		plans, err := store.ListPlans(ctx)
		require.NoError(t, err)
		require.Len(t, plans, 3)
		assert.Equal(t, "Standard", plans[0].Name)
		assert.Equal(t, "Ultra", plans[1].Name)
		assert.Equal(t, "Premium", plans[2].Name)
	})

	t.Run("被引用的套餐不能删除", func(t *testing.T) {
		store := NewStore()
		plan := newPlan("Standard", 10, 20, 500, true)
		require.NoError(t, store.CreatePlan(ctx, plan))
		d := store.AddMailDomain(&domain.MailDomain{Name: "example.com", IsActive: true})

		_, err := store.ApplyPlan(ctx, &domain.PlanApplication{Domain: d, Plan: plan, AssignedAt: time.Now()})
		require.NoError(t, err)

		err = store.DeletePlan(ctx, plan.ID)
		var inUse *domain.PlanInUseError
		require.True(t, errors.As(err, &inUse))
		assert.Equal(t, 1, inUse.Allocations)

		_, err = store.GetPlan(ctx, plan.ID)
		assert.NoError(t, err)
	})

	t.Run("未被引用的套餐可以删除", func(t *testing.T) {
		store := NewStore()
		plan := newPlan("Ultra", 20, 40, 1024, false)
		require.NoError(t, store.CreatePlan(ctx, plan))

		require.NoError(t, store.DeletePlan(ctx, plan.ID))
		_, err := store.GetPlan(ctx, plan.ID)
		assert.ErrorIs(t, err, domain.ErrPlanNotFound)
		assert.ErrorIs(t, store.DeletePlan(ctx, plan.ID), domain.ErrPlanNotFound)
	})
}

func TestMemoryStore_ApplyPlan(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	standard := newPlan("Standard", 10, 20, 500, true)
	premium := newPlan("Premium", 12, 30, 10240, false)
	require.NoError(t, store.CreatePlan(ctx, standard))
	require.NoError(t, store.CreatePlan(ctx, premium))

	d := store.AddMailDomain(&domain.MailDomain{Name: "Example.com", MaxMailboxes: 10, MaxAliases: 20, IsActive: true})
	other := store.AddMailDomain(&domain.MailDomain{Name: "other.org", IsActive: true})
	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateMailboxWithinLimit(ctx, &domain.Mailbox{
			Email:    fmt.Sprintf("user%d@example.com", i),
			DomainID: d.ID,
			QuotaKB:  standard.QuotaKB(),
		}, 10))
	}
	require.NoError(t, store.CreateMailboxWithinLimit(ctx, &domain.Mailbox{
		Email: "keep@other.org", DomainID: other.ID, QuotaKB: 1,
	}, 10))

	var audited []*domain.PlanApplicationResult
	app := &domain.PlanApplication{
		Domain:     d,
		Plan:       premium,
		AssignedAt: time.Now(),
		Audit: func(r *domain.PlanApplicationResult) *domain.AuditEntry {
			audited = append(audited, r)
			return &domain.AuditEntry{AdminEmail: "root@platform.net", Action: domain.AuditUpdateDomain, Target: d.Name}
		},
	}

	t.Run("首次切换套餐", func(t *testing.T) {
		result, err := store.ApplyPlan(ctx, app)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Resynced)
		assert.Equal(t, int64(10485760), result.QuotaKB)
		assert.Empty(t, result.PreviousPlanID)

		mailboxes, err := store.ListMailboxes(ctx, d.ID)
		require.NoError(t, err)
		for _, m := range mailboxes {
			assert.Equal(t, int64(10485760), m.QuotaKB)
		}

		got, err := store.GetMailDomain(ctx, "example.com")
		require.NoError(t, err)
		assert.Equal(t, 12, got.MaxMailboxes)
		assert.Equal(t, 30, got.MaxAliases)

		untouched, err := store.GetMailbox(ctx, "keep@other.org")
		require.NoError(t, err)
		assert.Equal(t, int64(1), untouched.QuotaKB)
	})

	t.Run("重复应用结果相同且不产生重复绑定", func(t *testing.T) {
		first, err := store.GetAllocation(ctx, "example.com")
		require.NoError(t, err)

		result, err := store.ApplyPlan(ctx, app)
		require.NoError(t, err)
		assert.Equal(t, premium.ID, result.PreviousPlanID)
		assert.Equal(t, first.ID, result.Allocation.ID)

		allocs, err := store.ListAllocations(ctx)
		require.NoError(t, err)
		assert.Len(t, allocs, 1)
	})

	t.Run("停用域名", func(t *testing.T) {
		inactive := false
		_, err := store.ApplyPlan(ctx, &domain.PlanApplication{Domain: d, Plan: premium, IsActive: &inactive, AssignedAt: time.Now()})
		require.NoError(t, err)

		got, err := store.GetMailDomain(ctx, "example.com")
		require.NoError(t, err)
		assert.False(t, got.IsActive)
	})

	t.Run("审计记录在同一操作内写入", func(t *testing.T) {
		assert.Len(t, audited, 2)
		entries, err := store.ListAudit(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("套餐不存在", func(t *testing.T) {
		_, err := store.ApplyPlan(ctx, &domain.PlanApplication{Domain: d, Plan: &domain.Plan{ID: "missing"}})
		assert.ErrorIs(t, err, domain.ErrPlanNotFound)
	})
}

func TestMemoryStore_CreateMailboxWithinLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("上限边界", func(t *testing.T) {
		store := NewStore()
		d := store.AddMailDomain(&domain.MailDomain{Name: "example.com", IsActive: true})

		for i := 0; i < 2; i++ {
			err := store.CreateMailboxWithinLimit(ctx, &domain.Mailbox{Email: fmt.Sprintf("u%d@example.com", i), DomainID: d.ID}, 2)
			require.NoError(t, err)
		}

		err := store.CreateMailboxWithinLimit(ctx, &domain.Mailbox{Email: "u9@example.com", DomainID: d.ID}, 2)
		var capErr *domain.CapacityExceededError
		require.True(t, errors.As(err, &capErr))
		assert.Equal(t, 2, capErr.Limit)
		assert.Equal(t, 2, capErr.Current)
	})

	t.Run("地址重复", func(t *testing.T) {
		store := NewStore()
		d := store.AddMailDomain(&domain.MailDomain{Name: "example.com"})
		require.NoError(t, store.CreateMailboxWithinLimit(ctx, &domain.Mailbox{Email: "a@example.com", DomainID: d.ID}, 5))

		err := store.CreateMailboxWithinLimit(ctx, &domain.Mailbox{Email: "A@example.com", DomainID: d.ID}, 5)
		assert.ErrorIs(t, err, domain.ErrMailboxExists)
	})

	t.Run("并发创建不会超过上限", func(t *testing.T) {
		store := NewStore()
		d := store.AddMailDomain(&domain.MailDomain{Name: "example.com"})

		var wg sync.WaitGroup
		var created atomic.Int32
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := store.CreateMailboxWithinLimit(ctx, &domain.Mailbox{Email: fmt.Sprintf("c%d@example.com", i), DomainID: d.ID}, 10)
				if err == nil {
					created.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(10), created.Load())
		n, err := store.CountMailboxes(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, n)
	})

	t.Run("域名不存在", func(t *testing.T) {
		store := NewStore()
		err := store.CreateMailboxWithinLimit(ctx, &domain.Mailbox{Email: "a@nowhere.com", DomainID: 42}, 5)
		assert.ErrorIs(t, err, domain.ErrDomainNotFound)
	})
}

func TestMemoryStore_Aliases(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	d := store.AddMailDomain(&domain.MailDomain{Name: "example.com"})
	store.AddSystemAlias(&domain.Alias{DomainID: d.ID, Source: "postmaster@example.com", Destination: "root@example.com"})

	t.Run("系统别名不计入额度", func(t *testing.T) {
		n, err := store.CountManagedAliases(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		alias := &domain.Alias{DomainID: d.ID, Source: "sales@example.com", Destination: "bob@example.com"}
		require.NoError(t, store.CreateAliasWithinLimit(ctx, alias, 1))
		assert.NotZero(t, alias.ID)
		assert.True(t, alias.ManagedByPlatform)
	})

	t.Run("达到上限", func(t *testing.T) {
		err := store.CreateAliasWithinLimit(ctx, &domain.Alias{DomainID: d.ID, Source: "info@example.com", Destination: "bob@example.com"}, 1)
		assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	})

	t.Run("重复的源和目标", func(t *testing.T) {
		err := store.CreateAliasWithinLimit(ctx, &domain.Alias{DomainID: d.ID, Source: "sales@example.com", Destination: "bob@example.com"}, 5)
		assert.ErrorIs(t, err, domain.ErrAliasExists)
	})

	t.Run("列出并删除", func(t *testing.T) {
		aliases, err := store.ListManagedAliases(ctx, d.ID)
		require.NoError(t, err)
		require.Len(t, aliases, 1)

		require.NoError(t, store.DeleteAlias(ctx, aliases[0].ID))
		assert.ErrorIs(t, store.DeleteAlias(ctx, aliases[0].ID), domain.ErrAliasNotFound)
	})
}

func TestMemoryStore_Audit(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendAudit(ctx, &domain.AuditEntry{
			AdminEmail: "root@platform.net",
			Action:     domain.AuditCreateMailbox,
			Target:     fmt.Sprintf("u%d@example.com", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := store.ListAudit(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "u4@example.com", entries[0].Target)
	assert.Equal(t, "u2@example.com", entries[2].Target)
}

func TestMemoryStore_Admins(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	admin := &domain.AdminUser{Email: "Root@Platform.net", PasswordHash: "x", IsSuper: true, IsActive: true}
	require.NoError(t, store.CreateAdmin(ctx, admin))
	assert.NotEmpty(t, admin.ID)

	assert.ErrorIs(t, store.CreateAdmin(ctx, &domain.AdminUser{Email: "root@platform.net"}), domain.ErrAdminExists)

	got, err := store.GetAdminByEmail(ctx, "ROOT@platform.net")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.ID)

	now := time.Now()
	require.NoError(t, store.UpdateAdminLastLogin(ctx, admin.ID, now))
	got, err = store.GetAdminByID(ctx, admin.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	assert.True(t, got.LastLoginAt.Equal(now))
}
