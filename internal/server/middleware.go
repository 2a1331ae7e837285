package server

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
)

// HTTPMetrics records request counts and latency per matched route.
func HTTPMetrics(metrics *obsmetrics.SettlementMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		metrics.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
