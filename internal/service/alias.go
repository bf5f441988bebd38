package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/storage"
)

// AliasService 开通和管理平台别名
type AliasService struct {
	store    storage.Store
	resolver *Resolver
	recorder Recorder
	audit    auditor
	log      *zap.Logger
}

// NewAliasService 创建别名服务
func NewAliasService(store storage.Store, resolver *Resolver, recorder Recorder, log *zap.Logger) *AliasService {
	log = orNopLogger(log)
	return &AliasService{
		store:    store,
		resolver: resolver,
		recorder: orNop(recorder),
		audit:    auditor{repo: store, log: log},
		log:      log,
	}
}

// CreateAliasInput 创建别名的输入
type CreateAliasInput struct {
	Domain      string `json:"-" validate:"required"`
	SourceLocal string `json:"sourceLocal" validate:"required"`
	Destination string `json:"destination" validate:"required"`
}

// Create 在套餐额度内创建别名，只有平台管理的别名计入额度
func (s *AliasService) Create(ctx context.Context, actor string, input CreateAliasInput) (*domain.Alias, error) {
	input.SourceLocal = strings.ToLower(strings.TrimSpace(input.SourceLocal))
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := domain.ValidateLocalPart(input.SourceLocal); err != nil {
		return nil, &domain.ValidationError{Field: "sourceLocal", Reason: err.Error()}
	}
	destinations, err := domain.ParseDestinations(input.Destination)
	if err != nil {
		return nil, &domain.ValidationError{Field: "destination", Reason: err.Error()}
	}

	d, err := s.store.GetMailDomain(ctx, input.Domain)
	if err != nil {
		return nil, domain.Internal("get domain", err)
	}
	plan, err := s.resolver.Resolve(ctx, d.Name)
	if err != nil {
		return nil, err
	}

	alias := &domain.Alias{
		DomainID:    d.ID,
		Source:      input.SourceLocal + "@" + d.Name,
		Destination: strings.Join(destinations, ","),
	}
	if err := s.store.CreateAliasWithinLimit(ctx, alias, plan.MaxAliases); err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			s.recorder.ObserveCapacityRejection(domain.ResourceAlias)
		}
		return nil, domain.Internal("create alias", err)
	}
	s.recorder.ObserveProvision(domain.ResourceAlias, "create")

	s.log.Info("alias created",
		zap.String("source", alias.Source),
		zap.Int("destinations", len(destinations)),
		zap.String("actor", actor),
	)
	s.audit.record(ctx, actor, domain.AuditCreateAlias, alias.Source, "-> "+alias.Destination)
	return alias, nil
}

// List 列出域名下平台管理的别名
func (s *AliasService) List(ctx context.Context, domainName string) ([]*domain.Alias, error) {
	d, err := s.store.GetMailDomain(ctx, domainName)
	if err != nil {
		return nil, domain.Internal("get domain", err)
	}
	aliases, err := s.store.ListManagedAliases(ctx, d.ID)
	if err != nil {
		return nil, domain.Internal("list aliases", err)
	}
	return aliases, nil
}

// Delete 删除域名下的平台别名；系统别名和其他域名的别名视为不存在
func (s *AliasService) Delete(ctx context.Context, actor, domainName string, id int64) error {
	d, err := s.store.GetMailDomain(ctx, domainName)
	if err != nil {
		return domain.Internal("get domain", err)
	}
	alias, err := s.store.GetAlias(ctx, id)
	if err != nil {
		return domain.Internal("get alias", err)
	}
	if alias.DomainID != d.ID || !alias.ManagedByPlatform {
		return domain.ErrAliasNotFound
	}

	if err := s.store.DeleteAlias(ctx, id); err != nil {
		return domain.Internal("delete alias", err)
	}
	s.recorder.ObserveProvision(domain.ResourceAlias, "delete")

	s.log.Info("alias deleted", zap.String("source", alias.Source), zap.String("actor", actor))
	s.audit.record(ctx, actor, domain.AuditDeleteAlias, alias.Source, "-> "+alias.Destination)
	return nil
}
