package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code int    `json:"code"`           // 业务状态码，与 HTTP 状态码一致
	Msg  string `json:"msg"`            // 中文提示信息
	Data any    `json:"data,omitempty"` // 数据载荷
}

// listResponse 列表数据
type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}

// Success 成功响应（200）
func Success(c *gin.Context, data any) {
	SuccessWithMsg(c, "成功", data)
}

// SuccessWithMsg 成功响应（自定义消息）
func SuccessWithMsg(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Msg:  msg,
		Data: data,
	})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusCreated, Response{
		Code: http.StatusCreated,
		Msg:  msg,
		Data: data,
	})
}

// NoContent 无内容响应（204），通常用于删除成功
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, msg string) {
	c.AbortWithStatusJSON(httpCode, Response{
		Code: httpCode,
		Msg:  msg,
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// Unauthorized 未认证错误（401）
func Unauthorized(c *gin.Context, msg string) {
	Error(c, http.StatusUnauthorized, msg)
}
