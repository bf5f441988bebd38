package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader 请求ID响应头，客户端传入合法值时沿用
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// SecurityHeaders 管理接口只返回 JSON，禁止嵌入和缓存
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		if c.Request.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// RequestID 返回当前请求的ID
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RequestLogger 为请求分配ID并记录访问日志
//
// 5xx 记为 error，4xx 记为 warn，其余为 info
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := make([]zap.Field, 0, 8)
		fields = append(fields,
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("uri", c.Request.URL.RequestURI()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
		if admin, ok := CurrentAdmin(c); ok {
			fields = append(fields, zap.String("admin", admin.Email))
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			fields = append(fields, zap.Strings("errors", errs.Errors()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request failed", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("request rejected", fields...)
		default:
			log.Info("request handled", fields...)
		}
	}
}

// PanicRecorder 记录 panic 次数，由 monitoring.Metrics 实现
type PanicRecorder interface {
	RecordPanic()
}

// RecoveryHandler 恢复 panic 的中间件
func RecoveryHandler(log *zap.Logger, recorder PanicRecorder) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				if recorder != nil {
					recorder.RecordPanic()
				}
				log.Error("panic recovered",
					zap.String("request_id", RequestID(c)),
					zap.String("route", c.FullPath()),
					zap.String("method", c.Request.Method),
					zap.Any("error", err),
					zap.Stack("stack"),
				)
				abort(c, http.StatusInternalServerError, "服务器内部错误，请稍后重试")
			}
		}()

		c.Next()
	}
}
