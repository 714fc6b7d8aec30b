package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gopherex.com/custody/pkg/metrics"
)

// Rule 一个熔断器的参数；连续失败和失败率两种触发条件满足其一即打开
type Rule struct {
	MaxRequests  uint32        // half-open 放行的探测数
	Interval     time.Duration // closed 状态计数周期
	BucketPeriod time.Duration // >0 时用滑动窗口
	Timeout      time.Duration // open 持续多久后进入 half-open

	TripConsecutiveFailures uint32
	TripFailureRate         float64 // 0~1
	TripMinRequests         uint32  // 失败率生效的最小样本
}

func (r Rule) withDefaults() Rule {
	if r.MaxRequests == 0 {
		r.MaxRequests = 5
	}
	if r.Timeout <= 0 {
		r.Timeout = 3 * time.Second
	}
	if r.Interval <= 0 {
		r.Interval = 10 * time.Second
	}
	if r.TripConsecutiveFailures == 0 && r.TripFailureRate == 0 {
		r.TripConsecutiveFailures = 10
	}
	if r.TripMinRequests == 0 {
		r.TripMinRequests = 20
	}
	return r
}

func (r Rule) tripped(c gobreaker.Counts) bool {
	if r.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= r.TripConsecutiveFailures {
		return true
	}
	if r.TripFailureRate > 0 && c.Requests >= r.TripMinRequests {
		return float64(c.TotalFailures)/float64(c.Requests) >= r.TripFailureRate
	}
	return false
}

// Manager 按名字懒创建熔断器；名字可以是 gRPC 方法，也可以是某条链的数据源
type Manager struct {
	def   Rule
	rules map[string]Rule

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewManager(def Rule, perName map[string]Rule) *Manager {
	rules := make(map[string]Rule, len(perName))
	for name, r := range perName {
		rules[name] = r.withDefaults()
	}
	return &Manager{
		def:      def.withDefaults(),
		rules:    rules,
		breakers: map[string]*gobreaker.CircuitBreaker[struct{}]{},
	}
}

func (m *Manager) Get(name string) *gobreaker.CircuitBreaker[struct{}] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	rule, ok := m.rules[name]
	if !ok {
		rule = m.def
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:         name,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,
		ReadyToTrip:  rule.tripped,
		IsSuccessful: isSuccessfulForBreaker,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CBState.WithLabelValues("custody", name, from.String()).Set(0)
			metrics.CBState.WithLabelValues("custody", name, to.String()).Set(1)
		},
	})
	m.breakers[name] = cb
	return cb
}

// Neutral 返回 true 的错误不算依赖故障，比如上游 404
type Neutral interface {
	BreakerNeutral() bool
}

func isSuccessfulForBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var n Neutral
	if errors.As(err, &n) {
		return n.BreakerNeutral()
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated,
		codes.AlreadyExists, codes.FailedPrecondition, codes.OutOfRange, codes.Canceled:
		return true
	}
	return false
}
