package rpc

import (
	"context"
	"fmt"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"go.uber.org/zap"

	"gopherex.com/custody/pkg/logger"
)

// zapLogger 把 go-grpc-middleware 的日志接到全局 zap 上，带 trace_id
func zapLogger() logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		f := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key := fmt.Sprint(fields[i])
			switch v := fields[i+1].(type) {
			case string:
				f = append(f, zap.String(key, v))
			case int:
				f = append(f, zap.Int(key, v))
			case bool:
				f = append(f, zap.Bool(key, v))
			default:
				f = append(f, zap.Any(key, v))
			}
		}
		switch lvl {
		case logging.LevelDebug:
			logger.Debug(ctx, msg, f...)
		case logging.LevelInfo:
			logger.Info(ctx, msg, f...)
		case logging.LevelWarn:
			logger.Warn(ctx, msg, f...)
		default:
			logger.Error(ctx, msg, f...)
		}
	})
}
