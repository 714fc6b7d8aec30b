package interceptor

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// TimeOutInterceptor 调用方没带 deadline 时补一个；perMethod 按 FullMethod 覆盖默认值
func TimeOutInterceptor(defaultTimeout time.Duration, perMethod ...map[string]time.Duration) grpc.UnaryClientInterceptor {
	overrides := map[string]time.Duration{}
	for _, m := range perMethod {
		for k, v := range m {
			overrides[k] = v
		}
	}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); ok {
			return invoker(ctx, method, req, reply, cc, opts...)
		}
		d := defaultTimeout
		if v, ok := overrides[method]; ok {
			d = v
		}
		if d <= 0 {
			return invoker(ctx, method, req, reply, cc, opts...)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
