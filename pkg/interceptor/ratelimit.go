package interceptor

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
	"gopherex.com/custody/pkg/ratelimit"
)

// 探活和反射不参与限流，否则限流时 k8s 会把实例摘掉
var rateLimitExempt = []string{
	"/grpc.health.v1.Health/",
	"/grpc.reflection.",
}

// RateLimitByMethodUnary 每个方法一个令牌桶，store 为 nil 时不限流
func RateLimitByMethodUnary(store *ratelimit.Store, serviceName string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if store == nil || exempt(info.FullMethod) {
			return handler(ctx, req)
		}
		if !store.Allow(info.FullMethod) {
			metrics.RateLimitBlockTotal.WithLabelValues(serviceName, info.FullMethod, "token_bucket").Inc()
			logger.Debug(ctx, "grpc rate limited", zap.String("grpc_method", info.FullMethod))
			return nil, status.Errorf(codes.ResourceExhausted, "rate limited: %s", info.FullMethod)
		}
		return handler(ctx, req)
	}
}

func exempt(method string) bool {
	for _, p := range rateLimitExempt {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}
