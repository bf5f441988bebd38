package httptransport

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/service"
)

// DomainHandler 域名、套餐解析与额度接口
type DomainHandler struct {
	domains  *service.DomainService
	resolver *service.Resolver
	enforcer *service.Enforcer
	log      *zap.Logger
}

// NewDomainHandler 创建域名处理器
func NewDomainHandler(domains *service.DomainService, resolver *service.Resolver, enforcer *service.Enforcer, log *zap.Logger) *DomainHandler {
	return &DomainHandler{
		domains:  domains,
		resolver: resolver,
		enforcer: enforcer,
		log:      log,
	}
}

// List 列出域名及用量
// @Summary 域名列表
// @Tags 域名
// @Produce json
// @Security BearerAuth
// @Param q query string false "名称包含"
// @Param status query string false "all / active / suspended"
// @Success 200 {object} Response
// @Router /v1/domains [get]
func (h *DomainHandler) List(c *gin.Context) {
	filter := domain.DomainFilter{
		Query:  strings.TrimSpace(c.Query("q")),
		Status: domain.DomainStatusFilter(strings.ToLower(c.Query("status"))),
	}

	items, err := h.domains.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, "list domains", err)
		return
	}
	Success(c, newList(items))
}

// Plan 返回域名当前生效的套餐
// @Summary 解析域名套餐
// @Description 有绑定时返回绑定的套餐，否则返回默认套餐
// @Tags 域名
// @Produce json
// @Security BearerAuth
// @Param domain path string true "域名"
// @Success 200 {object} domain.Plan
// @Failure 404 {object} Response "域名不存在"
// @Failure 422 {object} Response "没有可用套餐"
// @Router /v1/domains/{domain}/plan [get]
func (h *DomainHandler) Plan(c *gin.Context) {
	plan, err := h.resolver.Resolve(c.Request.Context(), c.Param("domain"))
	if err != nil {
		respondError(c, h.log, "resolve plan", err)
		return
	}
	Success(c, plan)
}

// Usage 返回域名用量和套餐上限
// @Summary 域名用量
// @Tags 域名
// @Produce json
// @Security BearerAuth
// @Param domain path string true "域名"
// @Success 200 {object} domain.DomainUsage
// @Router /v1/domains/{domain}/usage [get]
func (h *DomainHandler) Usage(c *gin.Context) {
	usage, err := h.domains.Usage(c.Request.Context(), c.Param("domain"))
	if err != nil {
		respondError(c, h.log, "domain usage", err)
		return
	}
	Success(c, usage)
}

// Capacity 检查域名是否还能新增指定类型的资源
// @Summary 额度检查
// @Tags 域名
// @Produce json
// @Security BearerAuth
// @Param domain path string true "域名"
// @Param kind path string true "mailbox / alias"
// @Success 200 {object} domain.ResourceUsage "还有余量"
// @Failure 422 {object} Response "已达到上限"
// @Router /v1/domains/{domain}/capacity/{kind} [get]
func (h *DomainHandler) Capacity(c *gin.Context) {
	kind, err := domain.ParseResourceKind(c.Param("kind"))
	if err != nil {
		respondError(c, h.log, "check capacity", err)
		return
	}

	usage, err := h.enforcer.CheckAndReserve(c.Request.Context(), c.Param("domain"), kind)
	if err != nil {
		respondError(c, h.log, "check capacity", err)
		return
	}
	Success(c, usage)
}

// ApplyPlan 为域名切换套餐
// @Summary 应用套餐
// @Description 变更已提交时总是返回 200，Dovecot 重载失败通过 warning 字段返回
// @Tags 域名
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param domain path string true "域名"
// @Param request body service.ApplyPlanInput true "套餐ID与域名状态"
// @Success 200 {object} service.ApplyPlanResult
// @Failure 404 {object} Response "域名或套餐不存在"
// @Router /v1/domains/{domain}/plan [put]
func (h *DomainHandler) ApplyPlan(c *gin.Context) {
	var req service.ApplyPlanInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	req.Domain = c.Param("domain")

	result, err := h.enforcer.ApplyPlan(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, h.log, "apply plan", err)
		return
	}

	if result.Warning != "" {
		SuccessWithMsg(c, "套餐已应用，但 Dovecot 重载失败，系统将自动重试", result)
		return
	}
	SuccessWithMsg(c, "套餐已应用", result)
}
