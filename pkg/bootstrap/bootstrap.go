package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gopherex.com/custody/pkg/config"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
	"gopherex.com/custody/pkg/orm"
	"gopherex.com/custody/pkg/register"
	"gopherex.com/custody/pkg/register/etcd"
	"gopherex.com/custody/pkg/trace"
	"gopherex.com/custody/pkg/xredis"
)

// EtcdCfg 服务注册配置，Endpoints 为空时不注册
type EtcdCfg struct {
	Endpoints     []string `mapstructure:"endpoints" yaml:"endpoints"`
	ServicePrefix string   `mapstructure:"service_prefix" yaml:"service_prefix"`
	TTL           int64    `mapstructure:"ttl" yaml:"ttl"`
}

// Prefix 服务注册根路径
func (e EtcdCfg) Prefix() string {
	if e.ServicePrefix == "" {
		return "/custody/services"
	}
	return e.ServicePrefix
}

// Base 各服务配置里 bootstrap 关心的部分
type Base struct {
	Name        string
	LogLevel    string
	LogFile     string
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string
	PprofAddr   string
	Etcd        EtcdCfg
	Trace       trace.Config
	Sentinel    *SentinelCfg
	MySQL       *orm.Config // nil 表示不连
	Redis       *xredis.Config
}

// Deps bootstrap 负责创建和关闭的公共依赖
type Deps struct {
	DB    *gorm.DB
	Redis *redis.Client
}

type GRPCServer interface {
	Serve(lis net.Listener) error
	GracefulStop()
}

// Services Build 的产物；Start 在监听建立后调用，Stop 在关闭监听前调用
type Services struct {
	GRPC  GRPCServer
	HTTP  http.Handler
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

type Options[C any] struct {
	ConfigName string
	Config     *C
	Base       func(cfg *C) Base
	// OnReload 配置文件热更新后调用
	OnReload func(cfg *C)
	Build    func(ctx context.Context, cfg *C, deps Deps) (*Services, error)
}

// Run 加载配置，准备公共依赖，启动 gRPC/HTTP 并阻塞到 ctx 结束
func Run[C any](ctx context.Context, opt Options[C]) error {
	if opt.ConfigName == "" || opt.Config == nil || opt.Base == nil || opt.Build == nil {
		return errors.New("bootstrap: missing required options")
	}

	var onChange func()
	if opt.OnReload != nil {
		onChange = func() { opt.OnReload(opt.Config) }
	}
	if _, err := config.LoadAndWatch(opt.ConfigName, opt.Config, onChange); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	base := opt.Base(opt.Config)
	if base.Name == "" {
		base.Name = opt.ConfigName
	}
	if base.LogLevel == "" {
		base.LogLevel = "info"
	}
	logger.InitWithFile(base.Name, base.LogLevel, base.LogFile)
	defer logger.Sync()
	metrics.MustRegister()

	if err := InitSentinel(base.Sentinel); err != nil {
		return err
	}

	if base.Trace.Enabled() {
		shutdown, err := trace.InitTrace(ctx, base.Name, base.Trace, nil)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(c)
		}()
	}

	deps, closeDeps, err := buildDeps(ctx, base)
	if err != nil {
		return err
	}
	defer closeDeps()

	svc, err := opt.Build(ctx, opt.Config, deps)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	if base.PprofAddr != "" {
		startPprof(ctx, base.PprofAddr)
	}
	if base.MetricsAddr != "" {
		startMetrics(ctx, base.MetricsAddr)
	}

	errCh := make(chan error, 2)
	var httpSrv *http.Server
	if svc.GRPC != nil && base.GRPCAddr != "" {
		lis, err := net.Listen("tcp", base.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		go func() {
			logger.Info(ctx, "grpc listening", zap.String("addr", base.GRPCAddr))
			errCh <- svc.GRPC.Serve(lis)
		}()
	}
	if svc.HTTP != nil && base.HTTPAddr != "" {
		httpSrv = &http.Server{
			Addr:           base.HTTPAddr,
			Handler:        svc.HTTP,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		}
		go func() {
			logger.Info(ctx, "http listening", zap.String("addr", base.HTTPAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if svc.Start != nil {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start services: %w", err)
		}
	}

	unregister, err := registerInstance(ctx, base)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		logger.Error(context.Background(), "server error", zap.Error(err))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	unregister(stopCtx)
	if svc.Stop != nil {
		if err := svc.Stop(stopCtx); err != nil {
			logger.Warn(stopCtx, "stop services", zap.Error(err))
		}
	}
	if httpSrv != nil {
		_ = httpSrv.Shutdown(stopCtx)
	}
	if svc.GRPC != nil {
		svc.GRPC.GracefulStop()
	}
	logger.Info(stopCtx, "service stopped", zap.String("service", base.Name))
	return nil
}

func buildDeps(ctx context.Context, base Base) (Deps, func(), error) {
	var deps Deps
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if base.MySQL != nil && base.MySQL.DSN != "" {
		db, err := orm.NewMySQL(base.MySQL)
		if err != nil {
			return deps, closeAll, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return deps, closeAll, fmt.Errorf("init db: %w", err)
		}
		closers = append(closers, func() { _ = sqlDB.Close() })
		if err := db.Use(metrics.GormPlugin{}); err != nil {
			return deps, closeAll, fmt.Errorf("gorm metrics plugin: %w", err)
		}
		deps.DB = db
	}
	if base.Redis != nil && base.Redis.Addr != "" {
		rdb, err := xredis.NewRedis(ctx, base.Redis)
		if err != nil {
			return deps, closeAll, err
		}
		deps.Redis = rdb
		deps.Redis.AddHook(metrics.RedisHook{})
		closers = append(closers, func() { _ = deps.Redis.Close() })
	}
	if deps.DB != nil || deps.Redis != nil {
		var sqlDB *sql.DB
		if deps.DB != nil {
			sqlDB, _ = deps.DB.DB()
		}
		metrics.StartPoolMonitor(ctx, sqlDB, deps.Redis, 15*time.Second)
	}
	return deps, closeAll, nil
}

// registerInstance 返回的函数负责注销，未配置 etcd 时是空操作
func registerInstance(ctx context.Context, base Base) (func(context.Context), error) {
	noop := func(context.Context) {}
	if len(base.Etcd.Endpoints) == 0 || base.GRPCAddr == "" {
		return noop, nil
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   base.Etcd.Endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return noop, fmt.Errorf("connect etcd: %w", err)
	}
	prefix := base.Etcd.Prefix()
	grpcAddr := Advertise(base.GRPCAddr)
	ins := &register.Instance{
		ID:   fmt.Sprintf("%s-%s", base.Name, grpcAddr),
		Name: base.Name,
		Addr: grpcAddr,
		MetaData: map[string]string{
			"http":    Advertise(base.HTTPAddr),
			"version": "v1",
		},
	}
	var reg register.Register = etcd.NewEtcdRegister(cli, prefix, base.Etcd.TTL)
	if err := reg.Register(ctx, ins); err != nil {
		_ = cli.Close()
		return noop, fmt.Errorf("register etcd: %w", err)
	}
	return func(c context.Context) {
		if err := reg.UnRegister(c, ins); err != nil {
			logger.Warn(c, "etcd unregister failed", zap.Error(err))
		}
		_ = cli.Close()
	}, nil
}

// Advertise ":9090" 这类只有端口的监听地址补上本机第一个非回环 IPv4
func Advertise(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || (host != "" && host != "0.0.0.0" && host != "::") {
		return addr
	}
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return addr
	}
	for _, a := range ifaces {
		if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() && ipn.IP.To4() != nil {
			return net.JoinHostPort(ipn.IP.String(), port)
		}
	}
	return net.JoinHostPort("127.0.0.1", port)
}

func startPprof(ctx context.Context, addr string) {
	runtime.SetMutexProfileFraction(10)
	runtime.SetBlockProfileRate(10000)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	serveAux(ctx, "pprof", &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second})
}

func startMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serveAux(ctx, "metrics", &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second})
}

func serveAux(ctx context.Context, name string, srv *http.Server) {
	go func() {
		logger.Info(ctx, name+" listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn(ctx, name+" server error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}
