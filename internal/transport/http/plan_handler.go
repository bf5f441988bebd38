package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/service"
)

// PlanHandler 套餐管理接口，仅超级管理员可用
type PlanHandler struct {
	plans *service.PlanService
	log   *zap.Logger
}

// NewPlanHandler 创建套餐处理器
func NewPlanHandler(plans *service.PlanService, log *zap.Logger) *PlanHandler {
	return &PlanHandler{plans: plans, log: log}
}

// List 列出套餐
// @Summary 套餐列表
// @Tags 套餐
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response
// @Router /v1/plans [get]
func (h *PlanHandler) List(c *gin.Context) {
	plans, err := h.plans.List(c.Request.Context())
	if err != nil {
		respondError(c, h.log, "list plans", err)
		return
	}
	Success(c, newList(plans))
}

// Get 获取套餐详情
// @Summary 套餐详情
// @Tags 套餐
// @Produce json
// @Security BearerAuth
// @Param id path string true "套餐ID"
// @Success 200 {object} domain.Plan
// @Failure 404 {object} Response "套餐不存在"
// @Router /v1/plans/{id} [get]
func (h *PlanHandler) Get(c *gin.Context) {
	plan, err := h.plans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, "get plan", err)
		return
	}
	Success(c, plan)
}

// Create 创建套餐
// @Summary 创建套餐
// @Tags 套餐
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.CreatePlanInput true "套餐信息"
// @Success 201 {object} domain.Plan
// @Failure 400 {object} Response "参数错误"
// @Failure 409 {object} Response "名称重复"
// @Router /v1/plans [post]
func (h *PlanHandler) Create(c *gin.Context) {
	var req service.CreatePlanInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	plan, err := h.plans.Create(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, h.log, "create plan", err)
		return
	}
	Created(c, "套餐已创建", plan)
}

// Update 修改套餐，只更新请求中出现的字段
// @Summary 修改套餐
// @Tags 套餐
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "套餐ID"
// @Param request body domain.PlanUpdate true "要修改的字段"
// @Success 200 {object} domain.Plan
// @Failure 404 {object} Response "套餐不存在"
// @Failure 409 {object} Response "名称重复"
// @Router /v1/plans/{id} [patch]
func (h *PlanHandler) Update(c *gin.Context) {
	var req domain.PlanUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	plan, err := h.plans.Update(c.Request.Context(), actor(c), c.Param("id"), req)
	if err != nil {
		respondError(c, h.log, "update plan", err)
		return
	}
	SuccessWithMsg(c, "套餐已更新", plan)
}

// Delete 删除套餐，仍被域名使用时拒绝
// @Summary 删除套餐
// @Tags 套餐
// @Security BearerAuth
// @Param id path string true "套餐ID"
// @Success 204
// @Failure 404 {object} Response "套餐不存在"
// @Failure 409 {object} Response "套餐仍被使用"
// @Router /v1/plans/{id} [delete]
func (h *PlanHandler) Delete(c *gin.Context) {
	if err := h.plans.Delete(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		respondError(c, h.log, "delete plan", err)
		return
	}
	NoContent(c)
}
