package interceptor

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"gopherex.com/custody/pkg/common"
)

// RequestIDUnary 客户端：把当前请求的 id 带给下游，HTTP 进来的和 gRPC 进来的都认
func RequestIDUnary() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		rid := common.RequestIDFromContext(ctx)
		if rid == "" {
			rid = incomingRequestID(ctx)
		}
		if rid == "" {
			rid = common.NewRequestID()
		}
		ctx = metadata.AppendToOutgoingContext(ctx, common.MetaRequestID, rid)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// RequestIDServerUnary 服务端：取上游 id 或生成，并通过响应 header 回传
func RequestIDServerUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		rid := incomingRequestID(ctx)
		if rid == "" {
			rid = common.NewRequestID()
		}
		// 测试里直接调用拦截器时没有 transport stream，忽略错误
		_ = grpc.SetHeader(ctx, metadata.Pairs(common.MetaRequestID, rid))
		return handler(common.WithRequestID(ctx, rid), req)
	}
}

func RequestIDFromCtx(ctx context.Context) string {
	return common.RequestIDFromContext(ctx)
}

func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(common.MetaRequestID); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
