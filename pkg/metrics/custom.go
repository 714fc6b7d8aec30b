package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 接入层 (HTTP/gRPC) 的保护类指标，业务指标在 custody.go
var (
	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "ratelimit_block_total",
			Help:      "Requests rejected by rate limiting or sentinel flow control.",
		},
		[]string{"service", "method", "reason"},
	)

	CBRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "circuitbreaker_reject_total",
			Help:      "Calls short-circuited by an open breaker.",
		},
		[]string{"service", "method", "reason"},
	)

	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "custody",
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"service", "method", "state"}, // state: closed/open/half_open
	)

	PanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "recovered_panics_total",
			Help:      "Panics recovered in request handlers.",
		},
		[]string{"surface", "route"}, // surface: http/grpc
	)
)

var registerOnce sync.Once

// MustRegister 进程内只注册一次，测试里重复调用不会 panic
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RateLimitBlockTotal, CBRejectTotal, CBState, PanicsTotal)
	})
}
