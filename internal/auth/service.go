package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailadmin/backend/internal/auth/jwt"
	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/storage"
)

var (
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAdminInactive 管理员已被禁用
	ErrAdminInactive = errors.New("admin is inactive")
	// ErrForbidden 无权管理该资源
	ErrForbidden = errors.New("forbidden")
	// ErrDomainSuspended 域名已停用，域名管理员不能操作
	ErrDomainSuspended = errors.New("domain is suspended")
)

// Service 管理员认证与授权服务
type Service struct {
	admins  storage.AdminRepository
	domains storage.MailDomainRepository
	tokens  *jwt.Manager
	log     *zap.Logger
	now     func() time.Time
}

// NewService 创建认证服务
func NewService(admins storage.AdminRepository, domains storage.MailDomainRepository, tokens *jwt.Manager, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		admins:  admins,
		domains: domains,
		tokens:  tokens,
		log:     log,
		now:     time.Now,
	}
}

// LoginResult 登录结果
type LoginResult struct {
	Admin  *domain.AdminUser `json:"admin"`
	Tokens *jwt.TokenPair    `json:"tokens"`
}

// Login 管理员登录
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	admin, err := s.admins.GetAdminByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// 避免通过耗时差异探测账户是否存在
			CheckPassword(password, dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, domain.Internal("get admin", err)
	}

	if !CheckPassword(password, admin.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !admin.IsActive {
		return nil, ErrAdminInactive
	}

	tokens, err := s.tokens.GenerateTokenPair(admin.ID, admin.Email, admin.IsSuper)
	if err != nil {
		return nil, domain.Internal("generate tokens", err)
	}

	now := s.now().UTC()
	if err := s.admins.UpdateAdminLastLogin(ctx, admin.ID, now); err != nil {
		s.log.Warn("failed to update last login", zap.String("admin", admin.Email), zap.Error(err))
	} else {
		admin.LastLoginAt = &now
	}

	s.log.Info("admin logged in", zap.String("admin", admin.Email), zap.Bool("super", admin.IsSuper))
	return &LoginResult{Admin: admin, Tokens: tokens}, nil
}

// Refresh 使用刷新令牌换发令牌对，账户被禁用后刷新失败
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*jwt.TokenPair, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	admin, err := s.activeAdmin(ctx, claims.AdminID)
	if err != nil {
		return nil, err
	}

	tokens, err := s.tokens.GenerateTokenPair(admin.ID, admin.Email, admin.IsSuper)
	if err != nil {
		return nil, domain.Internal("generate tokens", err)
	}
	return tokens, nil
}

// Authenticate 验证访问令牌并加载当前管理员
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*domain.AdminUser, error) {
	claims, err := s.tokens.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	return s.activeAdmin(ctx, claims.AdminID)
}

func (s *Service) activeAdmin(ctx context.Context, id string) (*domain.AdminUser, error) {
	admin, err := s.admins.GetAdminByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, jwt.ErrInvalidToken
		}
		return nil, domain.Internal("get admin", err)
	}
	if !admin.IsActive {
		return nil, ErrAdminInactive
	}
	return admin, nil
}

// AuthorizeDomain 检查管理员能否管理指定域名
//
// 超级管理员可以管理所有域名（包括已停用的）；域名管理员只能管理自己邮箱所在的域名，且该域名必须处于启用状态
func (s *Service) AuthorizeDomain(ctx context.Context, admin *domain.AdminUser, domainName string) error {
	if admin.IsSuper {
		return nil
	}
	if !admin.CanManage(domainName) {
		return ErrForbidden
	}

	d, err := s.domains.GetMailDomain(ctx, domainName)
	if err != nil {
		return domain.Internal("get domain", err)
	}
	if !d.IsActive {
		return ErrDomainSuspended
	}
	return nil
}

// CreateAdmin 创建管理员账户
func (s *Service) CreateAdmin(ctx context.Context, email, password string, isSuper bool) (*domain.AdminUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := domain.ValidateEmail(email); err != nil {
		return nil, &domain.ValidationError{Field: "email", Reason: err.Error()}
	}
	if err := ValidateAdminPassword(password, email); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	admin := &domain.AdminUser{
		Email:        email,
		PasswordHash: hash,
		IsSuper:      isSuper,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.admins.CreateAdmin(ctx, admin); err != nil {
		return nil, domain.Internal("create admin", err)
	}

	s.log.Info("admin created", zap.String("admin", admin.Email), zap.Bool("super", isSuper))
	return admin, nil
}

// dummyHash 用于账户不存在时消耗与正常校验相同的时间
var dummyHash = func() string {
	hash, err := HashPassword("mailadmin-dummy-password")
	if err != nil {
		panic(err)
	}
	return hash
}()
