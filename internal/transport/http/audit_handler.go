package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailadmin/backend/internal/service"
)

// AuditHandler 审计日志接口
type AuditHandler struct {
	audit *service.AuditService
	log   *zap.Logger
}

// NewAuditHandler 创建审计日志处理器
func NewAuditHandler(audit *service.AuditService, log *zap.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, log: log}
}

// List 按时间倒序返回最近的审计记录
// @Summary 审计日志
// @Tags 审计
// @Produce json
// @Security BearerAuth
// @Param limit query int false "条数，默认且最多 100"
// @Success 200 {object} Response
// @Router /v1/audit-logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			BadRequest(c, "limit 必须是整数")
			return
		}
		limit = n
	}

	entries, err := h.audit.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.log, "list audit logs", err)
		return
	}
	Success(c, newList(entries))
}
