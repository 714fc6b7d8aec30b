// Package job 定时调度扫描、确认和通知补发
package job

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
	"gopherex.com/custody/pkg/safe"
)

type Scanner interface {
	Chain() string
	Network() string
	ScanAll(ctx context.Context, w *domain.Window) ([]*domain.DepositTransaction, error)
}

type Tracker interface {
	Chain() string
	Network() string
	UpdatePending(ctx context.Context) int
}

type Relay interface {
	Run(ctx context.Context) (int, error)
}

// ChainJobs 一条链的两个任务，interval<=0 表示不调度
type ChainJobs struct {
	Scanner         Scanner
	Tracker         Tracker
	ScanInterval    time.Duration
	ConfirmInterval time.Duration
}

type Runner struct {
	sched   gocron.Scheduler
	timeout time.Duration
	started atomic.Bool
}

// New locker 为 nil 时只保证单进程内不重入
func New(locker gocron.Locker, timeout time.Duration) (*Runner, error) {
	opts := []gocron.SchedulerOption{
		gocron.WithStopTimeout(30 * time.Second),
	}
	if locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(locker))
	}
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Runner{sched: s, timeout: timeout}, nil
}

func (r *Runner) AddChain(c ChainJobs) error {
	if c.Scanner != nil && c.ScanInterval > 0 {
		name := "scan:" + c.Scanner.Chain() + ":" + c.Scanner.Network()
		if err := r.add(name, c.ScanInterval, func(ctx context.Context) error {
			return Scan(ctx, c.Scanner)
		}); err != nil {
			return err
		}
	}
	if c.Tracker != nil && c.ConfirmInterval > 0 {
		name := "confirm:" + c.Tracker.Chain() + ":" + c.Tracker.Network()
		if err := r.add(name, c.ConfirmInterval, func(ctx context.Context) error {
			Confirm(ctx, c.Tracker)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) AddRelay(relay Relay, interval time.Duration) error {
	if relay == nil || interval <= 0 {
		return nil
	}
	return r.add("relay:notifications", interval, func(ctx context.Context) error {
		n, err := relay.Run(ctx)
		if n > 0 {
			logger.Info(ctx, "notifications relayed", zap.Int("count", n))
		}
		return err
	})
}

func (r *Runner) add(name string, every time.Duration, fn func(ctx context.Context) error) error {
	_, err := r.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			if err := safe.Run(ctx, name, fn); err != nil {
				logger.Warn(ctx, "job failed", zap.String("job", name), zap.Error(err))
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err == nil {
		logger.Info(context.Background(), "job scheduled", zap.String("job", name), zap.Duration("every", every))
	}
	return err
}

func (r *Runner) Start() {
	r.sched.Start()
	r.started.Store(true)
}

// Started 健康检查用
func (r *Runner) Started() bool { return r.started.Load() }

func (r *Runner) Shutdown() error {
	return r.sched.Shutdown()
}

// Scan 按游标扫描一轮
func Scan(ctx context.Context, s Scanner) error {
	start := time.Now()
	defer func() {
		metrics.JobDuration.WithLabelValues("scan", s.Chain(), s.Network()).Observe(time.Since(start).Seconds())
	}()
	got, err := s.ScanAll(ctx, nil)
	if err != nil {
		return err
	}
	if len(got) > 0 {
		logger.Info(ctx, "scan finished",
			zap.String("chain", s.Chain()), zap.String("network", s.Network()), zap.Int("recorded", len(got)))
	}
	return nil
}

// Confirm 推进一批 pending 充值
func Confirm(ctx context.Context, t Tracker) int {
	start := time.Now()
	n := t.UpdatePending(ctx)
	metrics.JobDuration.WithLabelValues("confirm", t.Chain(), t.Network()).Observe(time.Since(start).Seconds())
	if n > 0 {
		logger.Info(ctx, "confirmations updated",
			zap.String("chain", t.Chain()), zap.String("network", t.Network()), zap.Int("updated", n))
	}
	return n
}
