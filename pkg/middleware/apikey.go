package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"gopherex.com/custody/pkg/common"
	"gopherex.com/custody/pkg/xerr"
)

const HeaderAPIKey = "X-Api-Key"

// APIKey keys 为空时不校验，本地开发用
func APIKey(keys func() []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed := keys()
		if len(allowed) == 0 {
			c.Next()
			return
		}
		got := c.GetHeader(HeaderAPIKey)
		if got == "" {
			common.Fail(c, http.StatusUnauthorized, xerr.Unauthorized, xerr.MapErrMsg(xerr.Unauthorized))
			c.Abort()
			return
		}
		for _, k := range allowed {
			if subtle.ConstantTimeCompare([]byte(k), []byte(got)) == 1 {
				c.Next()
				return
			}
		}
		common.Fail(c, http.StatusForbidden, xerr.Forbidden, xerr.MapErrMsg(xerr.Forbidden))
		c.Abort()
	}
}
