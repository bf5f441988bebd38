package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mailadmin/backend/internal/domain"
)

// Store 使用内存保存套餐与邮件系统数据，主要用于开发验证和测试。
//
// 所有跨表操作在同一把写锁下完成，等价于数据库事务。
type Store struct {
	mu sync.RWMutex

	plans       map[string]*domain.Plan       // planID -> plan
	planByName  map[string]string             // name -> planID
	allocations map[string]*domain.Allocation // domain name -> allocation

	domains      map[int64]*domain.MailDomain // domainID -> domain
	domainByName map[string]int64             // name -> domainID
	mailboxes    map[string]*domain.Mailbox   // email -> mailbox
	aliases      map[int64]*domain.Alias      // aliasID -> alias

	audit        []*domain.AuditEntry
	admins       map[string]*domain.AdminUser // adminID -> admin
	adminByEmail map[string]string            // email -> adminID

	nextDomainID int64
	nextAliasID  int64
	now          func() time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		plans:        make(map[string]*domain.Plan),
		planByName:   make(map[string]string),
		allocations:  make(map[string]*domain.Allocation),
		domains:      make(map[int64]*domain.MailDomain),
		domainByName: make(map[string]int64),
		mailboxes:    make(map[string]*domain.Mailbox),
		aliases:      make(map[int64]*domain.Alias),
		admins:       make(map[string]*domain.AdminUser),
		adminByEmail: make(map[string]string),
		now:          time.Now,
	}
}

// AddMailDomain 登记一个邮件域名。
//
// 域名表由邮件系统维护，这里只用于开发环境和测试预置数据。
func (s *Store) AddMailDomain(d *domain.MailDomain) *domain.MailDomain {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := domain.NormalizeDomain(d.Name)
	if id, ok := s.domainByName[name]; ok {
		return cloneDomain(s.domains[id])
	}

	s.nextDomainID++
	stored := cloneDomain(d)
	stored.ID = s.nextDomainID
	stored.Name = name
	s.domains[stored.ID] = stored
	s.domainByName[name] = stored.ID
	return cloneDomain(stored)
}

// GetMailDomain 根据名称获取域名
func (s *Store) GetMailDomain(ctx context.Context, name string) (*domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.domainByName[domain.NormalizeDomain(name)]
	if !ok {
		return nil, domain.ErrDomainNotFound
	}
	return cloneDomain(s.domains[id]), nil
}

// ListMailDomains 按名称升序列出满足条件的域名
func (s *Store) ListMailDomains(ctx context.Context, filter domain.DomainFilter) ([]*domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.MailDomain, 0, len(s.domains))
	for _, d := range s.domains {
		if filter.Match(d) {
			out = append(out, cloneDomain(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CountMailboxes 统计域名下的邮箱数量
func (s *Store) CountMailboxes(ctx context.Context, domainID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countMailboxesLocked(domainID), nil
}

// CountManagedAliases 统计域名下平台管理的别名数量
func (s *Store) CountManagedAliases(ctx context.Context, domainID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countManagedAliasesLocked(domainID), nil
}

func (s *Store) countMailboxesLocked(domainID int64) int {
	n := 0
	for _, m := range s.mailboxes {
		if m.DomainID == domainID {
			n++
		}
	}
	return n
}

func (s *Store) countManagedAliasesLocked(domainID int64) int {
	n := 0
	for _, a := range s.aliases {
		if a.DomainID == domainID && a.ManagedByPlatform {
			n++
		}
	}
	return n
}

// Health 内存存储始终可用
func (s *Store) Health(ctx context.Context) error {
	return nil
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

func cloneDomain(d *domain.MailDomain) *domain.MailDomain {
	cp := *d
	return &cp
}
