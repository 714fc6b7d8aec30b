package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/xerr"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    xerr.OK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailErr 业务码映射成 HTTP 状态码；非业务错误不透出内部信息
func FailErr(c *gin.Context, err error) {
	xe, ok := xerr.As(err)
	if !ok {
		logger.Error(c, "http unknown error",
			zap.String("request_id", RequestIDFromGin(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		Fail(c, http.StatusInternalServerError, xerr.ServerCommonError, xerr.MapErrMsg(xerr.ServerCommonError))
		return
	}

	status := xerr.HTTPStatus(xe.Code)
	fields := []zap.Field{
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", xe.Code),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		fields = append(fields, zap.String("stack", xe.Stack()))
		logger.Error(c, "http error", fields...)
	} else {
		logger.Warn(c, "http error", fields...)
	}

	msg := xe.Msg
	if xe.Code == xerr.DbError || xe.Code == xerr.ServerCommonError {
		msg = xerr.MapErrMsg(xe.Code)
	}
	Fail(c, status, xe.Code, msg)
}
