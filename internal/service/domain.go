package service

import (
	"context"

	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/storage"
)

// DomainService 查询邮件域名及其套餐用量
type DomainService struct {
	store    storage.MailDomainRepository
	resolver *Resolver
}

// NewDomainService 创建域名服务
func NewDomainService(store storage.MailDomainRepository, resolver *Resolver) *DomainService {
	return &DomainService{store: store, resolver: resolver}
}

// List 按过滤条件列出域名，每条附带生效套餐和用量
func (s *DomainService) List(ctx context.Context, filter domain.DomainFilter) ([]*domain.DomainUsage, error) {
	switch filter.Status {
	case "":
		filter.Status = domain.DomainStatusAll
	case domain.DomainStatusAll, domain.DomainStatusActive, domain.DomainStatusSuspended:
	default:
		return nil, &domain.ValidationError{Field: "status", Reason: "must be one of all, active, suspended"}
	}

	domains, err := s.store.ListMailDomains(ctx, filter)
	if err != nil {
		return nil, domain.Internal("list domains", err)
	}

	out := make([]*domain.DomainUsage, 0, len(domains))
	for _, d := range domains {
		usage, err := s.usage(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, usage)
	}
	return out, nil
}

// Usage 返回单个域名的生效套餐和用量
func (s *DomainService) Usage(ctx context.Context, domainName string) (*domain.DomainUsage, error) {
	d, err := s.store.GetMailDomain(ctx, domainName)
	if err != nil {
		return nil, domain.Internal("get domain", err)
	}
	return s.usage(ctx, d)
}

// Get 获取域名
func (s *DomainService) Get(ctx context.Context, domainName string) (*domain.MailDomain, error) {
	d, err := s.store.GetMailDomain(ctx, domainName)
	if err != nil {
		return nil, domain.Internal("get domain", err)
	}
	return d, nil
}

// usage 没有可用套餐的域名上限记为 0 且不算超限
func (s *DomainService) usage(ctx context.Context, d *domain.MailDomain) (*domain.DomainUsage, error) {
	plan, err := s.resolver.ResolveOptional(ctx, d.Name)
	if err != nil {
		return nil, err
	}

	mailboxes, err := s.store.CountMailboxes(ctx, d.ID)
	if err != nil {
		return nil, domain.Internal("count mailboxes", err)
	}
	aliases, err := s.store.CountManagedAliases(ctx, d.ID)
	if err != nil {
		return nil, domain.Internal("count aliases", err)
	}

	u := &domain.DomainUsage{
		Domain:    d,
		Plan:      plan,
		Mailboxes: domain.ResourceUsage{Current: mailboxes},
		Aliases:   domain.ResourceUsage{Current: aliases},
	}
	if plan != nil {
		u.Mailboxes.Limit = plan.MaxMailboxes
		u.Aliases.Limit = plan.MaxAliases
		u.OverLimit = u.Mailboxes.OverLimit() || u.Aliases.OverLimit()
	}
	return u, nil
}
