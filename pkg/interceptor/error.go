package interceptor

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/xerr"
)

func ErrorUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			// 已经是 gRPC status (限流、熔断)，不打堆栈
			return nil, err
		}

		rid := RequestIDFromCtx(ctx)

		// 业务错误：记录 xerr.Stack
		if xe, ok := xerr.As(err); ok {
			logger.Warn(ctx, "grpc biz error",
				zap.String("request_id", rid),
				zap.String("grpc_method", info.FullMethod),
				zap.Int("biz_code", xe.Code),
				zap.String("message", xe.Msg),
				zap.String("stack", xe.Stack()),
				zap.Error(xe.Unwrap()),
			)
			return nil, status.Error(GRPCCode(xe.Code), xe.Msg)
		}

		// 未知错误：兜底堆栈
		logger.Error(ctx, "grpc unknown error",
			zap.String("request_id", rid),
			zap.String("grpc_method", info.FullMethod),
			zap.Error(err),
			zap.ByteString("stack", debug.Stack()),
		)
		return nil, status.Error(codes.Internal, "internal error")
	}
}

// GRPCCode 业务码 -> gRPC 状态码
func GRPCCode(code int) codes.Code {
	switch code {
	case xerr.OK:
		return codes.OK
	case xerr.RequestParamsError, xerr.EncodingError:
		return codes.InvalidArgument
	case xerr.Unauthorized:
		return codes.Unauthenticated
	case xerr.Forbidden:
		return codes.PermissionDenied
	case xerr.RecordNotFound:
		return codes.NotFound
	case xerr.StateConflict:
		return codes.Aborted
	case xerr.ConfigurationError:
		return codes.FailedPrecondition
	case xerr.UpstreamError:
		return codes.Unavailable
	case xerr.DuplicateNoOp:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}
