package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailadmin/backend/internal/service"
)

// MailboxHandler 邮箱与别名开通接口
type MailboxHandler struct {
	mailboxes *service.MailboxService
	aliases   *service.AliasService
	log       *zap.Logger
}

// NewMailboxHandler 创建邮箱处理器
func NewMailboxHandler(mailboxes *service.MailboxService, aliases *service.AliasService, log *zap.Logger) *MailboxHandler {
	return &MailboxHandler{
		mailboxes: mailboxes,
		aliases:   aliases,
		log:       log,
	}
}

// ListMailboxes 列出域名下的邮箱
// @Summary 邮箱列表
// @Tags 邮箱
// @Produce json
// @Security BearerAuth
// @Param domain path string true "域名"
// @Success 200 {object} Response
// @Router /v1/domains/{domain}/mailboxes [get]
func (h *MailboxHandler) ListMailboxes(c *gin.Context) {
	items, err := h.mailboxes.List(c.Request.Context(), c.Param("domain"))
	if err != nil {
		respondError(c, h.log, "list mailboxes", err)
		return
	}
	Success(c, newList(items))
}

// CreateMailbox 在套餐额度内开通邮箱
// @Summary 开通邮箱
// @Description 返回的明文密码只出现这一次
// @Tags 邮箱
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param domain path string true "域名"
// @Param request body service.CreateMailboxInput true "邮箱信息"
// @Success 201 {object} domain.MailboxCredentials
// @Failure 409 {object} Response "邮箱已存在"
// @Failure 422 {object} Response "已达到套餐上限"
// @Router /v1/domains/{domain}/mailboxes [post]
func (h *MailboxHandler) CreateMailbox(c *gin.Context) {
	var req service.CreateMailboxInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	req.Domain = c.Param("domain")

	creds, err := h.mailboxes.Create(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, h.log, "create mailbox", err)
		return
	}
	Created(c, "邮箱已开通", creds)
}

// DeleteMailbox 删除邮箱
// @Summary 删除邮箱
// @Tags 邮箱
// @Security BearerAuth
// @Param email path string true "邮箱地址"
// @Success 204
// @Router /v1/mailboxes/{email} [delete]
func (h *MailboxHandler) DeleteMailbox(c *gin.Context) {
	if err := h.mailboxes.Delete(c.Request.Context(), actor(c), c.Param("email")); err != nil {
		respondError(c, h.log, "delete mailbox", err)
		return
	}
	NoContent(c)
}

// ResetPassword 重置邮箱密码
// @Summary 重置邮箱密码
// @Tags 邮箱
// @Produce json
// @Security BearerAuth
// @Param email path string true "邮箱地址"
// @Success 200 {object} domain.MailboxCredentials
// @Router /v1/mailboxes/{email}/password [post]
func (h *MailboxHandler) ResetPassword(c *gin.Context) {
	creds, err := h.mailboxes.ResetPassword(c.Request.Context(), actor(c), c.Param("email"))
	if err != nil {
		respondError(c, h.log, "reset mailbox password", err)
		return
	}
	SuccessWithMsg(c, "密码已重置", creds)
}

// ListAliases 列出域名下的别名
// @Summary 别名列表
// @Tags 别名
// @Produce json
// @Security BearerAuth
// @Param domain path string true "域名"
// @Success 200 {object} Response
// @Router /v1/domains/{domain}/aliases [get]
func (h *MailboxHandler) ListAliases(c *gin.Context) {
	items, err := h.aliases.List(c.Request.Context(), c.Param("domain"))
	if err != nil {
		respondError(c, h.log, "list aliases", err)
		return
	}
	Success(c, newList(items))
}

// CreateAlias 在套餐额度内创建别名
// @Summary 创建别名
// @Tags 别名
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param domain path string true "域名"
// @Param request body service.CreateAliasInput true "别名信息"
// @Success 201 {object} domain.Alias
// @Failure 422 {object} Response "已达到套餐上限"
// @Router /v1/domains/{domain}/aliases [post]
func (h *MailboxHandler) CreateAlias(c *gin.Context) {
	var req service.CreateAliasInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	req.Domain = c.Param("domain")

	alias, err := h.aliases.Create(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, h.log, "create alias", err)
		return
	}
	Created(c, "别名已创建", alias)
}

// DeleteAlias 删除平台管理的别名
// @Summary 删除别名
// @Tags 别名
// @Security BearerAuth
// @Param domain path string true "域名"
// @Param id path int true "别名ID"
// @Success 204
// @Router /v1/domains/{domain}/aliases/{id} [delete]
func (h *MailboxHandler) DeleteAlias(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.aliases.Delete(c.Request.Context(), actor(c), c.Param("domain"), id); err != nil {
		respondError(c, h.log, "delete alias", err)
		return
	}
	NoContent(c)
}
