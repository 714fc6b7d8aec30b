package common

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-Id"
	MetaRequestID   = "x-request-id" // grpc metadata key 用小写
	// CtxKeyRequestID logger 按同一个 key 取值，不能换成私有类型
	CtxKeyRequestID = "request_id"
)

// NewRequestID UUIDv7，按时间有序，日志里好排查
func NewRequestID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

//nolint:staticcheck
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, CtxKeyRequestID, rid)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(CtxKeyRequestID).(string)
	return s
}

// RequestIDFromGin gin.Context 里取不到时再看 request context
func RequestIDFromGin(c *gin.Context) string {
	if v, ok := c.Get(CtxKeyRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if c.Request != nil {
		return RequestIDFromContext(c.Request.Context())
	}
	return ""
}
