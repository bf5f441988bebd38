package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailadmin/backend/internal/auth"
	"mailadmin/backend/internal/auth/jwt"
	"mailadmin/backend/internal/domain"
)

const adminContextKey = "admin"

// Authenticator 校验访问令牌并返回管理员，由 auth.Service 实现
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*domain.AdminUser, error)
}

// JWTAuth JWT认证中间件
type JWTAuth struct {
	authenticator Authenticator
	log           *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(authenticator Authenticator, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{
		authenticator: authenticator,
		log:           log,
	}
}

// RequireAuth 要求JWT认证
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, "需要登录认证")
			return
		}

		admin, err := ja.authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			ja.log.Warn("authentication failed",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			switch {
			case errors.Is(err, jwt.ErrExpiredToken):
				abort(c, http.StatusUnauthorized, "登录已过期，请重新登录")
			case errors.Is(err, auth.ErrAdminInactive):
				abort(c, http.StatusForbidden, "账户已被禁用")
			case errors.Is(err, jwt.ErrInvalidToken):
				abort(c, http.StatusUnauthorized, "无效的访问令牌")
			default:
				abort(c, http.StatusInternalServerError, "服务器内部错误，请稍后重试")
			}
			return
		}

		c.Set(adminContextKey, admin)
		c.Next()
	}
}

// CurrentAdmin 返回 RequireAuth 写入上下文的管理员
func CurrentAdmin(c *gin.Context) (*domain.AdminUser, bool) {
	v, ok := c.Get(adminContextKey)
	if !ok {
		return nil, false
	}
	admin, ok := v.(*domain.AdminUser)
	return admin, ok && admin != nil
}

// extractToken 从 Authorization 头提取 Bearer 令牌
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// abort 以统一响应结构终止请求
func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code": status,
		"msg":  msg,
	})
}
