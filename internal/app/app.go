// Package app 组装 custody-service：存储、链数据源、扫描/确认任务和对外接口
package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountapp "gopherex.com/custody/internal/account/app"
	"gopherex.com/custody/internal/account/notify"
	accountrepo "gopherex.com/custody/internal/account/repo/mysql"
	"gopherex.com/custody/internal/asset"
	"gopherex.com/custody/internal/gateway"
	"gopherex.com/custody/internal/transport/rpc"
	walletrepo "gopherex.com/custody/internal/wallet/repo"
	"gopherex.com/custody/internal/wallet/service"
	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/internal/watcher/job"
	watcherrepo "gopherex.com/custody/internal/watcher/repo"
	"gopherex.com/custody/internal/watcher/scanner"
	"gopherex.com/custody/internal/watcher/tracker"
	"gopherex.com/custody/pkg/bootstrap"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/ratelimit"
	"gopherex.com/custody/pkg/xerr"
	"gopherex.com/custody/pkg/xredis"
)

// App 一个进程内的全部组件
type App struct {
	cfg     *Config
	db      *gorm.DB
	apiKeys atomic.Pointer[[]string]

	Allocator *service.AllocationService
	Ledger    *accountapp.Ledger
	Deposits  *watcherrepo.Repo
	Runner    *job.Runner
	RPC       *rpc.Server
	Chains    map[string]gateway.Chain

	clients map[string]domain.ChainClient
	closers []func()
}

// 热更新时需要拿到当前进程里的 App
var running atomic.Pointer[App]

// OnReload 配置文件变更后只刷新可以在线替换的部分
func OnReload(cfg *Config) {
	a := running.Load()
	if a == nil {
		return
	}
	a.SetAPIKeys(cfg.Auth.APIKeys)
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Warn(context.Background(), "bad log level, using info", zap.String("level", cfg.Log.Level))
	}
	logger.Info(context.Background(), "config reloaded",
		zap.Int("api_keys", len(cfg.Auth.APIKeys)), zap.Stringer("log_level", logger.Level()))
}

// Migrate 开发/测试环境建表，生产由 DBA 管理
func Migrate(db *gorm.DB) error {
	return errors.Join(
		asset.AutoMigrate(db),
		walletrepo.AutoMigrate(db),
		watcherrepo.AutoMigrate(db),
		accountrepo.AutoMigrate(db),
	)
}

// New 只组装不启动；rdb 可为 nil (不加分布式锁和幂等软保护)
func New(ctx context.Context, cfg *Config, db *gorm.DB, rdb *redis.Client) (*App, error) {
	if db == nil {
		return nil, xerr.New(xerr.ConfigurationError, "mysql.dsn is required")
	}
	a := &App{cfg: cfg, db: db, Chains: map[string]gateway.Chain{}, clients: map[string]domain.ChainClient{}}
	a.SetAPIKeys(cfg.Auth.APIKeys)

	assets := asset.NewRegistry(asset.DBLoader(db), cfg.Assets.CacheTTL)
	assets.StartAutoRefresh(ctx, cfg.Assets.RefreshInterval)

	wallets := walletrepo.New(db)
	var guard service.IdempotencyGuard
	if rdb != nil {
		guard = xredis.NewGuard(rdb, "custody:alloc:", 30*time.Second)
	}
	a.Allocator = service.NewAllocationService(wallets, assets, guard)

	accounts := accountrepo.New(db)
	a.Ledger = accountapp.NewLedger(accounts, accounts, accounts)
	a.Deposits = watcherrepo.New(db)

	pub, err := a.publisher(rdb)
	if err != nil {
		a.Close()
		return nil, err
	}

	var locker gocron.Locker
	if cfg.Jobs.DistributedLock {
		if rdb == nil {
			a.Close()
			return nil, xerr.New(xerr.ConfigurationError, "jobs.distributed_lock requires redis")
		}
		locker = job.NewRedisLocker(rdb, cfg.Jobs.LockTTL)
	}
	if a.Runner, err = job.New(locker, cfg.Jobs.Timeout); err != nil {
		a.Close()
		return nil, err
	}

	breakers := ratelimit.NewManager(ratelimit.Rule{
		Timeout:                 30 * time.Second,
		TripConsecutiveFailures: 5,
	}, nil)
	for _, raw := range cfg.Chains {
		if err := a.addChain(ctx, raw, breakers, a.Deposits, wallets, assets, accounts, pub); err != nil {
			a.Close()
			return nil, err
		}
	}

	if err := a.Runner.AddRelay(notify.NewRelay(accounts, pub, cfg.Notify.RelayBatch), relayInterval(cfg.Notify)); err != nil {
		a.Close()
		return nil, err
	}

	a.RPC = rpc.NewServer(rpc.Config{
		ServiceName: cfg.Base().Name,
		RPS:         cfg.GRPC.RPS,
		Burst:       cfg.GRPC.Burst,
		Sentinel:    cfg.Sentinel.Active(),
	}, rpc.NewCustody(a.Allocator, a.Ledger, a.Deposits))
	return a, nil
}

func (a *App) addChain(ctx context.Context, raw ChainCfg, breakers *ratelimit.Manager,
	deposits *watcherrepo.Repo, wallets *walletrepo.Repo, assets *asset.Registry,
	accounts *accountrepo.Repo, pub notify.Publisher) error {
	cc, err := normalize(raw)
	if err != nil {
		return err
	}
	key := gateway.ChainKey(cc.Chain, cc.Network)
	if _, dup := a.Chains[key]; dup {
		return xerr.Newf(xerr.ConfigurationError, "chain %s configured twice", key)
	}
	client, err := NewChainClient(ctx, cc, breakers)
	if err != nil {
		return err
	}
	if c, ok := client.(closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	sc, err := scanner.New(scanner.Config{
		Chain:            cc.Chain,
		Network:          cc.Network,
		MaxBlocksPerScan: cc.MaxBlocksPerScan,
		InitialLookback:  cc.InitialLookback,
	}, client, deposits, deposits, wallets, assets)
	if err != nil {
		return err
	}
	tr, err := tracker.New(tracker.Config{Chain: cc.Chain, Network: cc.Network, BatchSize: cc.BatchSize},
		client, deposits, a.Ledger, accounts, pub)
	if err != nil {
		return err
	}
	if err := a.Runner.AddChain(job.ChainJobs{
		Scanner:         sc,
		Tracker:         tr,
		ScanInterval:    cc.ScanInterval,
		ConfirmInterval: cc.ConfirmInterval,
	}); err != nil {
		return err
	}
	a.Chains[key] = gateway.Chain{Scanner: sc, Tracker: tr}
	a.clients[key] = client
	return nil
}

func (a *App) publisher(rdb *redis.Client) (notify.Publisher, error) {
	n := a.cfg.Notify
	var nc *nats.Conn
	if n.Driver == "nats" {
		var err error
		if nc, err = notify.DialNATS(n.NatsURL, a.cfg.Base().Name); err != nil {
			return nil, xerr.Wrap(xerr.ConfigurationError, "connect nats", err)
		}
		a.closers = append(a.closers, func() { _ = nc.Drain() })
	}
	var cmd redis.Cmdable
	if rdb != nil {
		cmd = rdb
	}
	pub, err := notify.New(n.Driver, cmd, nc, n.Stream, n.Subject)
	if err != nil {
		return nil, xerr.Wrap(xerr.ConfigurationError, "notify", err)
	}
	return pub, nil
}

func relayInterval(n NotifyConfig) time.Duration {
	if n.RelayInterval == 0 {
		return 30 * time.Second
	}
	return n.RelayInterval
}

// SetAPIKeys 配置热更新时替换
func (a *App) SetAPIKeys(keys []string) {
	cp := append([]string(nil), keys...)
	a.apiKeys.Store(&cp)
}

func (a *App) APIKeys() []string {
	if p := a.apiKeys.Load(); p != nil {
		return *p
	}
	return nil
}

// Health 调度器没起来或数据库不通都不算健康
func (a *App) Health(ctx context.Context) error {
	if !a.Runner.Started() {
		return xerr.New(xerr.ServerCommonError, "scheduler not started")
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return xerr.Wrap(xerr.DbError, "db handle", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return xerr.Wrap(xerr.DbError, "db ping", err)
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	probeTips(ctx, a.clients)
	a.Runner.Start()
	a.RPC.SetServing(true)
	logger.Info(ctx, "custody jobs started", zap.Int("chains", len(a.Chains)))
	return nil
}

func (a *App) Stop(context.Context) error {
	a.RPC.SetServing(false)
	err := a.Runner.Shutdown()
	a.Close()
	return err
}

// Close 释放链客户端和消息连接
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Build bootstrap 的装配入口
func Build(ctx context.Context, cfg *Config, deps bootstrap.Deps) (*bootstrap.Services, error) {
	if deps.DB != nil && cfg.MySQL.AutoMigrate {
		if err := Migrate(deps.DB); err != nil {
			return nil, xerr.Wrap(xerr.DbError, "auto migrate", err)
		}
	}
	a, err := New(ctx, cfg, deps.DB, deps.Redis)
	if err != nil {
		return nil, err
	}
	router := gateway.NewRouter(ctx, gateway.Options{
		ServiceName: cfg.Base().Name,
		RPS:         cfg.HTTP.RPS,
		Burst:       cfg.HTTP.Burst,
		Metrics:     true,
		Sentinel:    cfg.Sentinel.Active(),
		APIKeys:     a.APIKeys,
		Health:      a.Health,
	}, gateway.NewHandler(a.Allocator, a.Chains, a.Deposits, a.Ledger))
	running.Store(a)
	return &bootstrap.Services{
		GRPC:  a.RPC,
		HTTP:  router,
		Start: a.Start,
		Stop:  a.Stop,
	}, nil
}
