package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mailadmin/backend/internal/auth"
	"mailadmin/backend/internal/config"
	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/storage"
)

// MaildirCreator 在本机创建邮箱的 Maildir 目录，由 maildir.Manager 实现
type MaildirCreator interface {
	Create(email string) (string, error)
}

// MailboxService 开通和管理邮箱账户
type MailboxService struct {
	store    storage.Store
	resolver *Resolver
	maildirs MaildirCreator
	cfg      config.ProvisioningConfig
	recorder Recorder
	audit    auditor
	log      *zap.Logger
}

// NewMailboxService 创建邮箱服务，maildirs 为 nil 时不创建目录
func NewMailboxService(store storage.Store, resolver *Resolver, maildirs MaildirCreator, cfg config.ProvisioningConfig, recorder Recorder, log *zap.Logger) *MailboxService {
	log = orNopLogger(log)
	return &MailboxService{
		store:    store,
		resolver: resolver,
		maildirs: maildirs,
		cfg:      cfg,
		recorder: orNop(recorder),
		audit:    auditor{repo: store, log: log},
		log:      log,
	}
}

// CreateMailboxInput 创建邮箱的输入
type CreateMailboxInput struct {
	Domain      string `json:"-" validate:"required"`
	LocalPart   string `json:"localPart" validate:"required"`
	DisplayName string `json:"displayName" validate:"max=255"`
}

// Create 在套餐额度内开通邮箱，返回一次性明文密码
//
// 配额取生效套餐的 quota_mb；Maildir 创建失败不回滚账户，只在结果中给出 Warning。
func (s *MailboxService) Create(ctx context.Context, actor string, input CreateMailboxInput) (*domain.MailboxCredentials, error) {
	input.LocalPart = strings.ToLower(strings.TrimSpace(input.LocalPart))
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := domain.ValidateLocalPart(input.LocalPart); err != nil {
		return nil, &domain.ValidationError{Field: "localPart", Reason: err.Error()}
	}

	d, err := s.store.GetMailDomain(ctx, input.Domain)
	if err != nil {
		return nil, domain.Internal("get domain", err)
	}
	plan, err := s.resolver.Resolve(ctx, d.Name)
	if err != nil {
		return nil, err
	}

	password, err := auth.GeneratePassword(s.cfg.PasswordLength)
	if err != nil {
		return nil, domain.Internal("generate password", err)
	}
	hash, err := auth.HashMailboxPassword(password)
	if err != nil {
		return nil, domain.Internal("hash password", err)
	}

	email := input.LocalPart + "@" + d.Name
	if err := domain.ValidateEmail(email); err != nil {
		return nil, &domain.ValidationError{Field: "localPart", Reason: err.Error()}
	}

	mailbox := &domain.Mailbox{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  input.DisplayName,
		DomainID:     d.ID,
		QuotaKB:      plan.QuotaKB(),
	}
	if mailbox.DisplayName == "" {
		mailbox.DisplayName = input.LocalPart
	}

	if err := s.store.CreateMailboxWithinLimit(ctx, mailbox, plan.MaxMailboxes); err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			s.recorder.ObserveCapacityRejection(domain.ResourceMailbox)
		}
		return nil, domain.Internal("create mailbox", err)
	}
	s.recorder.ObserveProvision(domain.ResourceMailbox, "create")

	creds := &domain.MailboxCredentials{Mailbox: mailbox, Password: password}
	if s.maildirs != nil {
		if _, err := s.maildirs.Create(email); err != nil {
			s.log.Warn("failed to create maildir", zap.String("email", email), zap.Error(err))
			creds.Warning = fmt.Sprintf("mailbox created but maildir setup failed: %v", err)
		}
	}

	s.log.Info("mailbox created",
		zap.String("email", email),
		zap.String("plan", plan.Name),
		zap.Int64("quota_kb", mailbox.QuotaKB),
		zap.String("actor", actor),
	)
	s.audit.record(ctx, actor, domain.AuditCreateMailbox, email,
		fmt.Sprintf("plan %q, quota %d KB", plan.Name, mailbox.QuotaKB))
	return creds, nil
}

// Get 获取邮箱
func (s *MailboxService) Get(ctx context.Context, email string) (*domain.Mailbox, error) {
	m, err := s.store.GetMailbox(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, domain.Internal("get mailbox", err)
	}
	return m, nil
}

// List 按地址列出域名下的邮箱
func (s *MailboxService) List(ctx context.Context, domainName string) ([]*domain.Mailbox, error) {
	d, err := s.store.GetMailDomain(ctx, domainName)
	if err != nil {
		return nil, domain.Internal("get domain", err)
	}
	mailboxes, err := s.store.ListMailboxes(ctx, d.ID)
	if err != nil {
		return nil, domain.Internal("list mailboxes", err)
	}
	return mailboxes, nil
}

// Delete 删除邮箱账户，Maildir 目录保留由运维清理
func (s *MailboxService) Delete(ctx context.Context, actor, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.store.DeleteMailbox(ctx, email); err != nil {
		return domain.Internal("delete mailbox", err)
	}
	s.recorder.ObserveProvision(domain.ResourceMailbox, "delete")

	s.log.Info("mailbox deleted", zap.String("email", email), zap.String("actor", actor))
	s.audit.record(ctx, actor, domain.AuditDeleteMailbox, email, "")
	return nil
}

// ResetPassword 为邮箱生成新密码，返回一次性明文密码
func (s *MailboxService) ResetPassword(ctx context.Context, actor, email string) (*domain.MailboxCredentials, error) {
	mailbox, err := s.Get(ctx, email)
	if err != nil {
		return nil, err
	}

	password, err := auth.GeneratePassword(s.cfg.PasswordLength)
	if err != nil {
		return nil, domain.Internal("generate password", err)
	}
	hash, err := auth.HashMailboxPassword(password)
	if err != nil {
		return nil, domain.Internal("hash password", err)
	}
	if err := s.store.UpdateMailboxPassword(ctx, mailbox.Email, hash); err != nil {
		return nil, domain.Internal("update mailbox password", err)
	}
	mailbox.PasswordHash = hash

	s.log.Info("mailbox password reset", zap.String("email", mailbox.Email), zap.String("actor", actor))
	s.audit.record(ctx, actor, domain.AuditResetPassword, mailbox.Email, "")
	return &domain.MailboxCredentials{Mailbox: mailbox, Password: password}, nil
}
