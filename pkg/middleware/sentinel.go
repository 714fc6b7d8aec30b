package middleware

import (
	"errors"
	"net/http"

	sentinels "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/base"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopherex.com/custody/pkg/common"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
)

// Sentinel 资源名为 "METHOD 路由模板"，例如 "POST /api/v1/addresses"。
// 没有加载规则时 Entry 总是放行。
func Sentinel() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		resource := c.Request.Method + " " + route
		entry, blockErr := sentinels.Entry(resource, sentinels.WithTrafficType(base.Inbound))
		if blockErr != nil {
			logger.Warn(c, "request blocked by sentinel",
				zap.String("resource", resource),
				zap.String("blockType", blockErr.BlockType().String()),
			)
			metrics.RateLimitBlockTotal.WithLabelValues("http", route, "sentinel").Inc()
			common.Fail(c, http.StatusTooManyRequests, http.StatusTooManyRequests, "service is busy, please try again later")
			c.Abort()
			return
		}
		defer entry.Exit()

		c.Next()

		// 只有 5xx 计入 sentinel 熔断统计
		if c.Writer.Status() >= http.StatusInternalServerError {
			sentinels.TraceError(entry, errServer)
		}
	}
}

var errServer = errors.New("http 5xx")
