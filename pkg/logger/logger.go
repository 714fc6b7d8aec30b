// Package logger 全局 zap logger，自动从 ctx 带上 trace_id/request_id
package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ctx 里手动注入的 key，和 common.CtxKeyRequestID 取值一致
const (
	TraceIdKey   = "trace_id"
	RequestIdKey = "request_id"
)

var (
	// Log 未 Init 前丢弃所有输出
	Log   = zap.NewNop()
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// Init 只写 stdout 和默认文件 logs/{service}.log
func Init(serviceName, lvl string) {
	InitWithFile(serviceName, lvl, "")
}

// InitWithFile 同时写 stdout 和 logFile；文件打不开时只写 stdout
func InitWithFile(serviceName, lvl, logFile string) {
	_ = SetLevel(lvl)
	if logFile == "" {
		logFile = filepath.Join("logs", serviceName+".log")
	}
	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if f, err := openLogFile(logFile); err == nil {
		sinks = append(sinks, zapcore.AddSync(f))
	}
	Log = build(zapcore.NewMultiWriteSyncer(sinks...)).With(zap.String("service", serviceName))
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func build(w zapcore.WriteSyncer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.MessageKey = "msg"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, level)
	// skip 1 让 caller 指向调用方而不是本文件
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// SetLevel 运行中调整级别，配置热更新时调用；无法识别的级别回落到 info
func SetLevel(lvl string) error {
	l := zap.InfoLevel
	if lvl != "" {
		if err := l.UnmarshalText([]byte(lvl)); err != nil {
			level.SetLevel(zap.InfoLevel)
			return err
		}
	}
	level.SetLevel(l)
	return nil
}

// Level 当前级别
func Level() zapcore.Level { return level.Level() }

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Info(msg, withCtx(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Error(msg, withCtx(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Warn(msg, withCtx(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Debug(msg, withCtx(ctx, fields)...)
}

// Fatal 会 os.Exit
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Fatal(msg, withCtx(ctx, fields)...)
}

// With 派生带固定字段的子 logger，适合按链/任务打标签
func With(fields ...zap.Field) *zap.Logger {
	return Log.With(fields...)
}

// withCtx otel span 优先，其次是手动注入的 trace_id
func withCtx(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if sc := oteltrace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	} else if id, _ := ctx.Value(TraceIdKey).(string); id != "" {
		fields = append(fields, zap.String("trace_id", id))
	}
	if rid, _ := ctx.Value(RequestIdKey).(string); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	return fields
}

// Sync main 退出前调用
func Sync() {
	_ = Log.Sync()
}

// useWriter 测试用，把输出导到 w
func useWriter(w io.Writer) {
	Log = build(zapcore.AddSync(w))
}
