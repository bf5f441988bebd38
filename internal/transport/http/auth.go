package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailadmin/backend/internal/auth"
	"mailadmin/backend/internal/middleware"
)

// LoginRecorder 记录登录结果，由 monitoring.Metrics 实现
type LoginRecorder interface {
	RecordLogin(result string)
}

// AuthHandler 处理管理员认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service // 认证业务服务
	recorder    LoginRecorder // 登录指标
	log         *zap.Logger   // 结构化日志记录器
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.Service, recorder LoginRecorder, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		recorder:    recorder,
		log:         log,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Login 处理管理员登录请求
// @Summary 管理员登录
// @Description 使用邮箱和密码登录，返回管理员信息和令牌对
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body loginRequest true "登录凭证"
// @Success 200 {object} auth.LoginResult "登录成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 401 {object} Response "邮箱或密码错误"
// @Failure 403 {object} Response "账户已被禁用"
// @Failure 429 {object} Response "请求过于频繁"
// @Router /v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.recordLogin(err)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.Warn("admin login failed",
				zap.String("email", req.Email),
				zap.String("ip", c.ClientIP()),
			)
		}
		respondError(c, h.log, "login", err)
		return
	}

	h.recordLogin(nil)
	SuccessWithMsg(c, "登录成功", result)
}

// Refresh 使用刷新令牌换发令牌对
// @Summary 刷新令牌
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body refreshRequest true "刷新令牌"
// @Success 200 {object} jwt.TokenPair "刷新成功"
// @Failure 401 {object} Response "令牌无效或已过期"
// @Router /v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	tokens, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, h.log, "refresh token", err)
		return
	}
	Success(c, tokens)
}

// Me 返回当前登录的管理员
// @Summary 当前管理员
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} domain.AdminUser
// @Router /v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	admin, ok := middleware.CurrentAdmin(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}
	Success(c, admin)
}

func (h *AuthHandler) recordLogin(err error) {
	if h.recorder == nil {
		return
	}
	switch {
	case err == nil:
		h.recorder.RecordLogin("success")
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.recorder.RecordLogin("invalid_credentials")
	case errors.Is(err, auth.ErrAdminInactive):
		h.recorder.RecordLogin("inactive")
	default:
		h.recorder.RecordLogin("error")
	}
}

// actor 返回审计记录使用的操作人
func actor(c *gin.Context) string {
	if admin, ok := middleware.CurrentAdmin(c); ok {
		return admin.Email
	}
	return "unknown"
}
