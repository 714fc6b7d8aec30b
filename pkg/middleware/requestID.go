package middleware

import (
	"github.com/gin-gonic/gin"
	"gopherex.com/custody/pkg/common"
)

// ReqId 透传或生成 X-Request-Id，并回写到响应头；超长的上游 id 直接换掉
func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if rid == "" || len(rid) > 128 {
			rid = common.NewRequestID()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), rid))
		c.Next()
	}
}
