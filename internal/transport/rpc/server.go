// Package rpc 内部 gRPC 入口：托管服务、健康检查和反射
package rpc

import (
	"net"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpc_prom "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"gopherex.com/custody/pkg/interceptor"
	"gopherex.com/custody/pkg/ratelimit"
)

type Config struct {
	ServiceName string
	RPS         float64
	Burst       int
	Sentinel    bool
}

type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

func NewServer(cfg Config, custody CustodyServer) *Server {
	if cfg.RPS <= 0 {
		cfg.RPS = 500
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1000
	}
	store := ratelimit.NewStore(rate.Limit(cfg.RPS), cfg.Burst, 10*time.Minute)

	grpc_prom.EnableHandlingTimeHistogram()
	unary := []grpc.UnaryServerInterceptor{
		grpc_prom.UnaryServerInterceptor,
		interceptor.RecoverUnary(),
		interceptor.RequestIDServerUnary(),
		logging.UnaryServerInterceptor(zapLogger(), logging.WithLogOnEvents(logging.FinishCall)),
		interceptor.RateLimitByMethodUnary(store, cfg.ServiceName),
	}
	if cfg.Sentinel {
		unary = append(unary, interceptor.SentinelUnaryServerInterceptor())
	}
	// 放最里层，外层拿到的都是 status 错误
	unary = append(unary, interceptor.ErrorUnary())

	gs := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(grpc_prom.StreamServerInterceptor),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	if custody != nil {
		RegisterCustody(gs, custody)
	}
	reflection.Register(gs)
	grpc_prom.Register(gs)
	return &Server{grpc: gs, health: hs}
}

// SetServing 调度器起来之后才对外报 SERVING
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
