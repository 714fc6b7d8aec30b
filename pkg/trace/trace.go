package trace

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

type Config struct {
	// Endpoint OTLP gRPC 地址，例如 localhost:4317；为空且 Stdout 为 true 时打到 Stdout
	Endpoint string  `mapstructure:"endpoint" yaml:"endpoint"`
	Stdout   bool    `mapstructure:"stdout" yaml:"stdout"`
	Ratio    float64 `mapstructure:"ratio" yaml:"ratio"` // 采样率，<=0 按 1 处理
}

// Enabled 两种出口都没配就不初始化，全局 provider 保持 noop
func (c Config) Enabled() bool { return c.Endpoint != "" || c.Stdout }

// InitTrace 初始化 OpenTelemetry TracerProvider，返回退出时调用的关闭函数
func InitTrace(ctx context.Context, serviceName string, c Config, stdout io.Writer) (func(context.Context) error, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if c.Endpoint != "" {
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(c.Endpoint),
			otlptracegrpc.WithInsecure(), // 没有tls
		))
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
	} else {
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if stdout != nil {
			opts = append(opts, stdouttrace.WithWriter(stdout))
		}
		exporter, err = stdouttrace.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	ratio := c.Ratio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
