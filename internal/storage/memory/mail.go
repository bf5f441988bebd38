package memory

import (
	"context"
	"sort"
	"strings"

	"mailadmin/backend/internal/domain"
)

// ========== 邮箱 ==========

// CreateMailboxWithinLimit 在额度内创建邮箱
func (s *Store) CreateMailboxWithinLimit(ctx context.Context, mailbox *domain.Mailbox, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[mailbox.DomainID]; !ok {
		return domain.ErrDomainNotFound
	}

	if current := s.countMailboxesLocked(mailbox.DomainID); current >= limit {
		return &domain.CapacityExceededError{Kind: domain.ResourceMailbox, Limit: limit, Current: current}
	}

	email := strings.ToLower(mailbox.Email)
	if _, exists := s.mailboxes[email]; exists {
		return domain.ErrMailboxExists
	}

	mailbox.Email = email
	if mailbox.UID == "" {
		mailbox.UID = email
	}
	cp := *mailbox
	s.mailboxes[email] = &cp
	return nil
}

// GetMailbox 根据地址获取邮箱
func (s *Store) GetMailbox(ctx context.Context, email string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mailboxes[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrMailboxNotFound
	}
	cp := *m
	return &cp, nil
}

// ListMailboxes 按地址升序列出域名下的邮箱
func (s *Store) ListMailboxes(ctx context.Context, domainID int64) ([]*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Mailbox, 0)
	for _, m := range s.mailboxes {
		if m.DomainID == domainID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// UpdateMailboxPassword 更新邮箱密码哈希
func (s *Store) UpdateMailboxPassword(ctx context.Context, email, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mailboxes[strings.ToLower(email)]
	if !ok {
		return domain.ErrMailboxNotFound
	}
	m.PasswordHash = passwordHash
	return nil
}

// DeleteMailbox 删除邮箱
func (s *Store) DeleteMailbox(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := s.mailboxes[key]; !ok {
		return domain.ErrMailboxNotFound
	}
	delete(s.mailboxes, key)
	return nil
}

// ========== 别名 ==========

// CreateAliasWithinLimit 在额度内创建平台管理的别名
func (s *Store) CreateAliasWithinLimit(ctx context.Context, alias *domain.Alias, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[alias.DomainID]; !ok {
		return domain.ErrDomainNotFound
	}

	if current := s.countManagedAliasesLocked(alias.DomainID); current >= limit {
		return &domain.CapacityExceededError{Kind: domain.ResourceAlias, Limit: limit, Current: current}
	}

	for _, a := range s.aliases {
		if a.Source == alias.Source && a.Destination == alias.Destination {
			return domain.ErrAliasExists
		}
	}

	s.nextAliasID++
	alias.ID = s.nextAliasID
	alias.ManagedByPlatform = true
	cp := *alias
	s.aliases[alias.ID] = &cp
	return nil
}

// GetAlias 根据 ID 获取别名
func (s *Store) GetAlias(ctx context.Context, id int64) (*domain.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.aliases[id]
	if !ok {
		return nil, domain.ErrAliasNotFound
	}
	cp := *a
	return &cp, nil
}

// ListManagedAliases 按源地址列出域名下平台管理的别名
func (s *Store) ListManagedAliases(ctx context.Context, domainID int64) ([]*domain.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Alias, 0)
	for _, a := range s.aliases {
		if a.DomainID == domainID && a.ManagedByPlatform {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteAlias 删除别名
func (s *Store) DeleteAlias(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.aliases[id]; !ok {
		return domain.ErrAliasNotFound
	}
	delete(s.aliases, id)
	return nil
}

// AddSystemAlias 登记一个不由平台管理的别名（如 postmaster），仅用于预置数据
func (s *Store) AddSystemAlias(alias *domain.Alias) *domain.Alias {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAliasID++
	cp := *alias
	cp.ID = s.nextAliasID
	cp.ManagedByPlatform = false
	s.aliases[cp.ID] = &cp
	out := cp
	return &out
}
