package interceptor

import (
	"context"
	"errors"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
	"gopherex.com/custody/pkg/ratelimit"
)

// CircuitBreakerUnaryClient 客户端按方法熔断，打开期间直接返回 Unavailable
func CircuitBreakerUnaryClient(mgr *ratelimit.Manager, serviceName string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if mgr == nil {
			return invoker(ctx, method, req, reply, cc, opts...)
		}
		_, err := mgr.Get(method).Execute(func() (struct{}, error) {
			return struct{}{}, invoker(ctx, method, req, reply, cc, opts...)
		})
		var reason string
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			reason = "open"
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			reason = "half_open"
		default:
			return err
		}
		metrics.CBRejectTotal.WithLabelValues(serviceName, method, reason).Inc()
		logger.Warn(ctx, "grpc call rejected by breaker", zap.String("grpc_method", method), zap.String("state", reason))
		return status.Errorf(codes.Unavailable, "circuit breaker open: %s", method)
	}
}
