package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tempinbox/backend/internal/monitoring"
)

// HTTPMetrics HTTP 指标中间件，以路由模板作为 endpoint 标签。
func HTTPMetrics(metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordHTTPRequest(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
