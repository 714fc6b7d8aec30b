package interceptor

import (
	"context"
	"errors"

	sentinels "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/base"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
	"gopherex.com/custody/pkg/xerr"
)

// SentinelUnaryServerInterceptor 资源名是 FullMethod，例如 /custody.v1.Custody/AllocateAddress
func SentinelUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		entry, blockErr := sentinels.Entry(info.FullMethod, sentinels.WithTrafficType(base.Inbound))
		if blockErr != nil {
			logger.Warn(ctx, "request blocked by sentinel",
				zap.String("method", info.FullMethod),
				zap.String("blockType", blockErr.BlockType().String()),
				zap.String("blockMsg", blockErr.Error()),
			)
			metrics.RateLimitBlockTotal.WithLabelValues("grpc", info.FullMethod, "sentinel").Inc()
			return nil, status.Error(codes.ResourceExhausted, "service is busy, please try again later")
		}
		defer entry.Exit()

		resp, err := handler(ctx, req)
		if isSystemError(err) {
			sentinels.TraceError(entry, err)
		}
		return resp, err
	}
}

// isSystemError 只有基础设施类错误计入熔断统计，参数、冲突、配置类错误不算
func isSystemError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if xe, ok := xerr.As(err); ok {
		switch xe.Code {
		case xerr.DbError, xerr.ServerCommonError, xerr.UpstreamError:
			return true
		}
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Internal, codes.Unavailable, codes.DeadlineExceeded, codes.DataLoss, codes.Unknown:
		return true
	}
	return false
}
