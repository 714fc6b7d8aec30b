package app

import (
	"time"

	"gopherex.com/custody/pkg/bootstrap"
	"gopherex.com/custody/pkg/orm"
	"gopherex.com/custody/pkg/trace"
	"gopherex.com/custody/pkg/xredis"
)

const ServiceName = "custody-service"

// Config 对应 config/custody-service.yaml，环境变量前缀 CUSTODY_SERVICE_
type Config struct {
	Name string    `mapstructure:"name"`
	Log  LogConfig `mapstructure:"log"`

	HTTP    HTTPConfig `mapstructure:"http"`
	GRPC    GRPCConfig `mapstructure:"grpc"`
	Metrics struct {
		Addr string `mapstructure:"addr"` // 独立的 /metrics 端口，可为空
	} `mapstructure:"metrics"`
	Pprof struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"pprof"`

	MySQL    orm.Config            `mapstructure:"mysql"`
	Redis    xredis.Config         `mapstructure:"redis"`
	Etcd     bootstrap.EtcdCfg     `mapstructure:"etcd"`
	Trace    trace.Config          `mapstructure:"trace"`
	Sentinel bootstrap.SentinelCfg `mapstructure:"sentinel"`

	Auth struct {
		APIKeys []string `mapstructure:"api_keys"`
	} `mapstructure:"auth"`

	Assets AssetsConfig `mapstructure:"assets"`
	Notify NotifyConfig `mapstructure:"notify"`
	Jobs   JobsConfig   `mapstructure:"jobs"`
	Chains []ChainCfg   `mapstructure:"chains"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type HTTPConfig struct {
	Addr  string  `mapstructure:"addr"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type GRPCConfig struct {
	Addr  string  `mapstructure:"addr"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type AssetsConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type NotifyConfig struct {
	Driver        string        `mapstructure:"driver"` // log/redis/nats
	Stream        string        `mapstructure:"stream"`
	NatsURL       string        `mapstructure:"nats_url"`
	Subject       string        `mapstructure:"subject"`
	RelayInterval time.Duration `mapstructure:"relay_interval"`
	RelayBatch    int           `mapstructure:"relay_batch"`
}

type JobsConfig struct {
	// DistributedLock 多副本部署时打开，依赖 redis
	DistributedLock bool          `mapstructure:"distributed_lock"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// ChainCfg 一个 (chain, network) 的数据源和调度参数
type ChainCfg struct {
	Chain    string `mapstructure:"chain"`
	Network  string `mapstructure:"network"`
	Provider string `mapstructure:"provider"` // bitcoin: esplora/bitcoind，其他链只有一种
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	ScanInterval     time.Duration `mapstructure:"scan_interval"`
	ConfirmInterval  time.Duration `mapstructure:"confirm_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	MaxBlocksPerScan uint64        `mapstructure:"max_blocks_per_scan"`
	InitialLookback  time.Duration `mapstructure:"initial_lookback"`

	Timeout time.Duration `mapstructure:"timeout"`
	RPS     float64       `mapstructure:"rps"`
	Burst   int           `mapstructure:"burst"`
}

// Base 交给 bootstrap 的公共部分
func (c *Config) Base() bootstrap.Base {
	name := c.Name
	if name == "" {
		name = ServiceName
	}
	return bootstrap.Base{
		Name:        name,
		LogLevel:    c.Log.Level,
		LogFile:     c.Log.File,
		GRPCAddr:    c.GRPC.Addr,
		HTTPAddr:    c.HTTP.Addr,
		MetricsAddr: c.Metrics.Addr,
		PprofAddr:   c.Pprof.Addr,
		Etcd:        c.Etcd,
		Trace:       c.Trace,
		Sentinel:    &c.Sentinel,
		MySQL:       &c.MySQL,
		Redis:       &c.Redis,
	}
}
