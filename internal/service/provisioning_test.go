package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailadmin/backend/internal/auth"
	"mailadmin/backend/internal/config"
	"mailadmin/backend/internal/domain"
)

type fakeMaildirs struct {
	mu      sync.Mutex
	created []string
	err     error
}

func (m *fakeMaildirs) Create(email string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.created = append(m.created, email)
	return "/var/vmail/" + email, nil
}

func newMailboxService(f *fixture, maildirs MaildirCreator) *MailboxService {
	return NewMailboxService(f.store, f.resolver, maildirs, config.ProvisioningConfig{PasswordLength: 16}, f.recorder, nil)
}

func TestMailboxService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("按套餐配额开通", func(t *testing.T) {
		f := newFixture(t)
		dirs := &fakeMaildirs{}
		svc := newMailboxService(f, dirs)

		creds, err := svc.Create(ctx, superAdmin, CreateMailboxInput{Domain: "example.com", LocalPart: " Alice ", DisplayName: "Alice"})
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", creds.Mailbox.Email)
		assert.Equal(t, f.standard.QuotaKB(), creds.Mailbox.QuotaKB)
		assert.Len(t, creds.Password, 16)
		assert.Empty(t, creds.Warning)
		assert.Equal(t, []string{"alice@example.com"}, dirs.created)

		stored, err := f.store.GetMailbox(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(stored.PasswordHash, auth.MailboxSchemePrefix))
		assert.True(t, auth.CheckMailboxPassword(creds.Password, stored.PasswordHash))
		assert.Equal(t, 1, f.recorder.provisions["mailbox:create"])

		entries, err := f.store.ListAudit(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, domain.AuditCreateMailbox, entries[0].Action)
		assert.Equal(t, "alice@example.com", entries[0].Target)
	})

	t.Run("达到上限时拒绝", func(t *testing.T) {
		f := newFixture(t)
		f.addMailboxes(t, f.domain, 10, 1)
		svc := newMailboxService(f, nil)

		_, err := svc.Create(ctx, superAdmin, CreateMailboxInput{Domain: "example.com", LocalPart: "bob"})
		var capErr *domain.CapacityExceededError
		require.ErrorAs(t, err, &capErr)
		assert.Equal(t, 10, capErr.Limit)
		assert.Equal(t, 10, capErr.Current)
		assert.Equal(t, 1, f.recorder.rejections[domain.ResourceMailbox])
	})

	t.Run("并发开通不超过上限", func(t *testing.T) {
		f := newFixture(t)
		f.addMailboxes(t, f.domain, 8, 1)
		svc := newMailboxService(f, nil)

		var wg sync.WaitGroup
		var mu sync.Mutex
		created := 0
		for _, local := range []string{"a1", "a2", "a3", "a4", "a5"} {
			wg.Add(1)
			go func(local string) {
				defer wg.Done()
				if _, err := svc.Create(ctx, superAdmin, CreateMailboxInput{Domain: "example.com", LocalPart: local}); err == nil {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}(local)
		}
		wg.Wait()

		assert.Equal(t, 2, created)
		n, err := f.store.CountMailboxes(ctx, f.domain.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, n)
	})

	t.Run("地址已存在", func(t *testing.T) {
		f := newFixture(t)
		svc := newMailboxService(f, nil)
		_, err := svc.Create(ctx, superAdmin, CreateMailboxInput{Domain: "example.com", LocalPart: "alice"})
		require.NoError(t, err)

		_, err = svc.Create(ctx, superAdmin, CreateMailboxInput{Domain: "example.com", LocalPart: "ALICE"})
		assert.ErrorIs(t, err, domain.ErrMailboxExists)
	})

	t.Run("本地部分不合法", func(t *testing.T) {
		f := newFixture(t)
		svc := newMailboxService(f, nil)
		for _, local := range []string{"", ".alice", "a..b", "al ice"} {
			_, err := svc.Create(ctx, superAdmin, CreateMailboxInput{Domain: "example.com", LocalPart: local})
			assert.ErrorIs(t, err, domain.ErrValidation, local)
		}
	})

	t.Run("Maildir 失败只返回警告", func(t *testing.T) {
		f := newFixture(t)
		svc := newMailboxService(f, &fakeMaildirs{err: errors.New("permission denied")})

		creds, err := svc.Create(ctx, superAdmin, CreateMailboxInput{Domain: "example.com", LocalPart: "carol"})
		require.NoError(t, err)
		assert.Contains(t, creds.Warning, "permission denied")

		_, err = f.store.GetMailbox(ctx, "carol@example.com")
		assert.NoError(t, err)
	})
}

func TestMailboxService_Manage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := newMailboxService(f, nil)

	first, err := svc.Create(ctx, superAdmin, CreateMailboxInput{Domain: "example.com", LocalPart: "zed"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, superAdmin, CreateMailboxInput{Domain: "example.com", LocalPart: "amy"})
	require.NoError(t, err)

	t.Run("按地址排序列出", func(t *testing.T) {
		list, err := svc.List(ctx, "example.com")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "amy@example.com", list[0].Email)
		assert.Equal(t, "zed@example.com", list[1].Email)
	})

	t.Run("重置密码", func(t *testing.T) {
		creds, err := svc.ResetPassword(ctx, superAdmin, "ZED@example.com")
		require.NoError(t, err)
		assert.NotEqual(t, first.Password, creds.Password)

		stored, err := f.store.GetMailbox(ctx, "zed@example.com")
		require.NoError(t, err)
		assert.True(t, auth.CheckMailboxPassword(creds.Password, stored.PasswordHash))
		assert.False(t, auth.CheckMailboxPassword(first.Password, stored.PasswordHash))
	})

	t.Run("删除", func(t *testing.T) {
		require.NoError(t, svc.Delete(ctx, superAdmin, "amy@example.com"))
		assert.ErrorIs(t, svc.Delete(ctx, superAdmin, "amy@example.com"), domain.ErrMailboxNotFound)

		entries, err := f.store.ListAudit(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, domain.AuditDeleteMailbox, entries[0].Action)
	})
}

func TestAliasService(t *testing.T) {
	ctx := context.Background()

	t.Run("创建并计入额度", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.plans.Update(ctx, superAdmin, f.standard.ID, domain.PlanUpdate{MaxAliases: intPtr(1)})
		require.NoError(t, err)
		f.store.AddSystemAlias(&domain.Alias{DomainID: f.domain.ID, Source: "postmaster@example.com", Destination: "root@example.com"})
		svc := NewAliasService(f.store, f.resolver, f.recorder, nil)

		alias, err := svc.Create(ctx, superAdmin, CreateAliasInput{Domain: "example.com", SourceLocal: "Sales", Destination: "a@example.com, B@example.org a@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "sales@example.com", alias.Source)
		assert.Equal(t, "a@example.com,b@example.org", alias.Destination)
		assert.True(t, alias.ManagedByPlatform)

		_, err = svc.Create(ctx, superAdmin, CreateAliasInput{Domain: "example.com", SourceLocal: "info", Destination: "a@example.com"})
		var capErr *domain.CapacityExceededError
		require.ErrorAs(t, err, &capErr)
		assert.Equal(t, 1, capErr.Limit)
		assert.Equal(t, 1, capErr.Current)
		assert.Equal(t, domain.ResourceAlias, capErr.Kind)
	})

	t.Run("重复别名", func(t *testing.T) {
		f := newFixture(t)
		svc := NewAliasService(f.store, f.resolver, nil, nil)
		_, err := svc.Create(ctx, superAdmin, CreateAliasInput{Domain: "example.com", SourceLocal: "sales", Destination: "a@example.com"})
		require.NoError(t, err)

		_, err = svc.Create(ctx, superAdmin, CreateAliasInput{Domain: "example.com", SourceLocal: "sales", Destination: "a@example.com"})
		assert.ErrorIs(t, err, domain.ErrAliasExists)
	})

	t.Run("目标地址不合法", func(t *testing.T) {
		f := newFixture(t)
		svc := NewAliasService(f.store, f.resolver, nil, nil)
		_, err := svc.Create(ctx, superAdmin, CreateAliasInput{Domain: "example.com", SourceLocal: "sales", Destination: "not-an-address"})
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "destination", verr.Field)
	})

	t.Run("只能删除本域名的平台别名", func(t *testing.T) {
		f := newFixture(t)
		other := f.store.AddMailDomain(&domain.MailDomain{Name: "example.org", IsActive: true})
		system := f.store.AddSystemAlias(&domain.Alias{DomainID: f.domain.ID, Source: "postmaster@example.com", Destination: "root@example.com"})
		svc := NewAliasService(f.store, f.resolver, nil, nil)

		alias, err := svc.Create(ctx, superAdmin, CreateAliasInput{Domain: "example.org", SourceLocal: "sales", Destination: "a@example.org"})
		require.NoError(t, err)
		assert.Equal(t, other.ID, alias.DomainID)

		assert.ErrorIs(t, svc.Delete(ctx, superAdmin, "example.com", alias.ID), domain.ErrAliasNotFound)
		assert.ErrorIs(t, svc.Delete(ctx, superAdmin, "example.com", system.ID), domain.ErrAliasNotFound)
		require.NoError(t, svc.Delete(ctx, superAdmin, "example.org", alias.ID))

		list, err := svc.List(ctx, "example.com")
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestAuditService_List(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewAuditService(f.store)

	entries, err := svc.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Premium", entries[0].Target)

	entries, err = svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
