package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPRecorder 记录 HTTP 请求指标，由 monitoring.Metrics 实现
type HTTPRecorder interface {
	RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration)
}

// HTTPMetrics HTTP 指标中间件
//
// endpoint 使用路由模板（如 /v1/domains/:domain/plan），避免按域名产生无限多的标签
func HTTPMetrics(recorder HTTPRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		recorder.RecordHTTPRequest(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
