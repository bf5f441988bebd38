package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailadmin/backend/internal/auth"
	"mailadmin/backend/internal/domain"
)

// DomainAuthorizer 判断管理员能否管理域名，由 auth.Service 实现
type DomainAuthorizer interface {
	AuthorizeDomain(ctx context.Context, admin *domain.AdminUser, domainName string) error
}

// AdminAuth 管理员权限中间件，需在 JWTAuth.RequireAuth 之后使用
type AdminAuth struct {
	authorizer DomainAuthorizer
}

// NewAdminAuth 创建管理员权限中间件
func NewAdminAuth(authorizer DomainAuthorizer) *AdminAuth {
	return &AdminAuth{authorizer: authorizer}
}

// RequireSuper 要求超级管理员权限
func (a *AdminAuth) RequireSuper() gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := CurrentAdmin(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "需要登录认证")
			return
		}
		if !admin.IsSuper {
			abort(c, http.StatusForbidden, "需要超级管理员权限")
			return
		}
		c.Next()
	}
}

// RequireDomain 要求管理员能管理路径参数 param 指定的域名
func (a *AdminAuth) RequireDomain(param string) gin.HandlerFunc {
	return a.requireScope(func(c *gin.Context) (string, bool) {
		name := c.Param(param)
		return name, name != ""
	})
}

// RequireMailboxDomain 要求管理员能管理路径参数 param 指定邮箱所在的域名
func (a *AdminAuth) RequireMailboxDomain(param string) gin.HandlerFunc {
	return a.requireScope(func(c *gin.Context) (string, bool) {
		_, domainName, ok := domain.SplitEmail(c.Param(param))
		return domainName, ok
	})
}

func (a *AdminAuth) requireScope(target func(c *gin.Context) (string, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := CurrentAdmin(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "需要登录认证")
			return
		}

		domainName, ok := target(c)
		if !ok {
			abort(c, http.StatusBadRequest, "请求参数格式错误")
			return
		}

		err := a.authorizer.AuthorizeDomain(c.Request.Context(), admin, domainName)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, auth.ErrForbidden):
			abort(c, http.StatusForbidden, "无权管理该域名")
		case errors.Is(err, auth.ErrDomainSuspended):
			abort(c, http.StatusForbidden, "域名已停用")
		case errors.Is(err, domain.ErrDomainNotFound):
			abort(c, http.StatusNotFound, "域名不存在")
		default:
			_ = c.Error(err)
			abort(c, http.StatusInternalServerError, "服务器内部错误，请稍后重试")
		}
	}
}
