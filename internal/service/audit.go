package service

import (
	"context"

	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/storage"
)

// AuditService 查询管理员操作日志
type AuditService struct {
	repo storage.AuditRepository
}

// NewAuditService 创建审计日志服务
func NewAuditService(repo storage.AuditRepository) *AuditService {
	return &AuditService{repo: repo}
}

// List 按时间倒序返回最近的日志，limit 不合法时取上限
func (s *AuditService) List(ctx context.Context, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 || limit > domain.MaxAuditEntries {
		limit = domain.MaxAuditEntries
	}
	entries, err := s.repo.ListAudit(ctx, limit)
	if err != nil {
		return nil, domain.Internal("list audit", err)
	}
	return entries, nil
}
