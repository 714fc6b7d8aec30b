package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// 1ms ~ 16s
var storeBuckets = prometheus.ExponentialBuckets(0.001, 2, 15)

var (
	DbQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custody", Subsystem: "db", Name: "query_duration_seconds",
		Help:    "Latency of gorm operations by op:table.",
		Buckets: storeBuckets,
	}, []string{"query", "status"})

	// DbPool state: open/idle/in_use
	DbPool = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custody", Subsystem: "db", Name: "pool_connections",
		Help: "database/sql pool connections by state.",
	}, []string{"state"})
	DbPoolWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "custody", Subsystem: "db", Name: "pool_waits_total",
		Help: "Times a query waited for a free connection.",
	})
	DbPoolWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "custody", Subsystem: "db", Name: "pool_wait_seconds_total",
	})

	RedisCmdDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custody", Subsystem: "redis", Name: "cmd_duration_seconds",
		Help:    "Latency of redis commands.",
		Buckets: storeBuckets,
	}, []string{"cmd", "status"})
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody", Subsystem: "redis", Name: "errors_total",
	}, []string{"cmd", "code"})

	// RedisPool state: total/idle/in_use/timeouts/misses
	RedisPool = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custody", Subsystem: "redis", Name: "pool",
		Help: "go-redis pool stats.",
	}, []string{"state"})
)

// poolSampler 记住上一次的累计值，把 sql.DBStats 里的累计量转成 counter 增量
type poolSampler struct {
	db  *sql.DB
	rdb *redis.Client

	waits   int64
	waitDur time.Duration
}

func (p *poolSampler) sample() {
	if p.db != nil {
		st := p.db.Stats()
		DbPool.WithLabelValues("open").Set(float64(st.OpenConnections))
		DbPool.WithLabelValues("idle").Set(float64(st.Idle))
		DbPool.WithLabelValues("in_use").Set(float64(st.InUse))
		if d := st.WaitCount - p.waits; d > 0 {
			DbPoolWaits.Add(float64(d))
		}
		if d := st.WaitDuration - p.waitDur; d > 0 {
			DbPoolWaitSeconds.Add(d.Seconds())
		}
		p.waits, p.waitDur = st.WaitCount, st.WaitDuration
	}
	if p.rdb != nil {
		ps := p.rdb.PoolStats()
		RedisPool.WithLabelValues("total").Set(float64(ps.TotalConns))
		RedisPool.WithLabelValues("idle").Set(float64(ps.IdleConns))
		RedisPool.WithLabelValues("in_use").Set(float64(ps.TotalConns - ps.IdleConns))
		RedisPool.WithLabelValues("timeouts").Set(float64(ps.Timeouts))
		RedisPool.WithLabelValues("misses").Set(float64(ps.Misses))
	}
}

// StartPoolMonitor 按 interval 采样连接池，ctx 结束时退出
func StartPoolMonitor(ctx context.Context, db *sql.DB, rdb *redis.Client, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p := &poolSampler{db: db, rdb: rdb}
	go func() {
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				p.sample()
			}
		}
	}()
}
