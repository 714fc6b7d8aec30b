package safe

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"gopherex.com/custody/pkg/logger"
)

// Go 安全启动协程
func Go(fn func()) {
	go func() {
		defer recoverAndLog(context.Background(), "")
		fn()
	}()
}

// GoCtx 安全启动携带 context 的协程，便于在日志中保留请求链路信息。
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer recoverAndLog(ctx, "")
		fn(ctx)
	}()
}

// Run 同步执行 fn，panic 转成 error 返回，用于定时任务
func Run(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "🚨 TASK PANIC RECOVERED",
				zap.String("task", name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("task %s panic: %v", name, r)
		}
	}()
	return fn(ctx)
}

func recoverAndLog(ctx context.Context, name string) {
	if r := recover(); r != nil {
		logger.Error(ctx, "🚨 GOROUTINE PANIC RECOVERED",
			zap.String("task", name),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
