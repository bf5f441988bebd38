package httptransport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailadmin/backend/internal/auth"
	"mailadmin/backend/internal/auth/jwt"
	"mailadmin/backend/internal/domain"
)

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgAuthRequired       = "需要登录认证"
	MsgInvalidCredentials = "邮箱或密码错误"
	MsgTokenExpired       = "登录已过期，请重新登录"
	MsgTokenInvalid       = "无效的访问令牌"
	MsgInternalError      = "服务器内部错误，请稍后重试"
)

// 业务错误消息映射表（哨兵错误 -> 状态码和中文消息）
var errorMessages = []struct {
	err    error
	status int
	msg    string
}{
	{domain.ErrPlanNotFound, http.StatusNotFound, "套餐不存在"},
	{domain.ErrDomainNotFound, http.StatusNotFound, "域名不存在"},
	{domain.ErrMailboxNotFound, http.StatusNotFound, "邮箱不存在"},
	{domain.ErrAliasNotFound, http.StatusNotFound, "别名不存在"},
	{domain.ErrAdminNotFound, http.StatusNotFound, "管理员不存在"},
	{domain.ErrDuplicatePlanName, http.StatusConflict, "套餐名称已存在"},
	{domain.ErrMailboxExists, http.StatusConflict, "邮箱地址已存在"},
	{domain.ErrAliasExists, http.StatusConflict, "相同的别名已存在"},
	{domain.ErrAdminExists, http.StatusConflict, "管理员已存在"},
	{domain.ErrNoPlan, http.StatusUnprocessableEntity, "域名未分配套餐，且没有默认套餐"},
	{domain.ErrInvalidResourceKind, http.StatusBadRequest, "资源类型只能是 mailbox 或 alias"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, MsgInvalidCredentials},
	{auth.ErrAdminInactive, http.StatusForbidden, "账户已被禁用"},
	{auth.ErrForbidden, http.StatusForbidden, "无权管理该域名"},
	{auth.ErrDomainSuspended, http.StatusForbidden, "域名已停用"},
	{jwt.ErrExpiredToken, http.StatusUnauthorized, MsgTokenExpired},
	{jwt.ErrInvalidToken, http.StatusUnauthorized, MsgTokenInvalid},
}

var resourceLabels = map[domain.ResourceKind]string{
	domain.ResourceMailbox: "邮箱",
	domain.ResourceAlias:   "别名",
}

// describeError 把业务错误转换为 HTTP 状态码和中文消息
//
// 每种错误只对应一个状态码和一条消息；未识别的错误一律按 500 处理，不向客户端暴露细节
func describeError(err error) (int, string) {
	var capErr *domain.CapacityExceededError
	if errors.As(err, &capErr) {
		return http.StatusUnprocessableEntity, fmt.Sprintf("已达到套餐上限：最多 %d 个%s，当前已有 %d 个",
			capErr.Limit, resourceLabels[capErr.Kind], capErr.Current)
	}

	var inUse *domain.PlanInUseError
	if errors.As(err, &inUse) {
		return http.StatusConflict, fmt.Sprintf("套餐 %q 仍被 %d 个域名使用，请先为这些域名更换套餐",
			inUse.PlanName, inUse.Allocations)
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		if verr.Field == "" {
			return http.StatusBadRequest, fmt.Sprintf("参数错误：%s", verr.Reason)
		}
		return http.StatusBadRequest, fmt.Sprintf("参数 %s 错误：%s", verr.Field, verr.Reason)
	}

	if errors.Is(err, auth.ErrWeakPassword) {
		return http.StatusBadRequest, "密码强度不足，请使用更长且不易猜测的密码"
	}

	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// respondError 写入错误响应，服务器错误记录原始原因
func respondError(c *gin.Context, log *zap.Logger, op string, err error) {
	status, msg := describeError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		log.Error(op+" failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	Error(c, status, msg)
}
