package interceptor

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
	"gopherex.com/custody/pkg/xerr"
)

// RecoverUnary 放在链的外层，panic 统一转成 Internal，不把 panic 内容返回给调用方
func RecoverUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				metrics.PanicsTotal.WithLabelValues("grpc", info.FullMethod).Inc()
				logger.Error(ctx, "grpc panic",
					zap.String("grpc_method", info.FullMethod),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				err = status.Error(GRPCCode(xerr.ServerCommonError), xerr.MapErrMsg(xerr.ServerCommonError))
			}
		}()
		return handler(ctx, req)
	}
}
