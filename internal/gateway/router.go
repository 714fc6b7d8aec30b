// Package gateway 对外 HTTP 接口：地址分配、手动扫描/确认、查询
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"gopherex.com/custody/pkg/common"
	"gopherex.com/custody/pkg/middleware"
	"gopherex.com/custody/pkg/ratelimit"
)

type Options struct {
	ServiceName string
	RPS         float64
	Burst       int
	// Metrics 为 true 时挂 ginprom，进程内只能开一次
	Metrics  bool
	Sentinel bool
	APIKeys  func() []string
	Health   func(ctx context.Context) error
}

// NewRouter ctx 结束时限流器的清理协程退出
func NewRouter(ctx context.Context, opts Options, h *Handler) *gin.Engine {
	if opts.RPS <= 0 {
		opts.RPS = 200
	}
	if opts.Burst <= 0 {
		opts.Burst = 400
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "custody-service"
	}
	store := ratelimit.NewStore(rate.Limit(opts.RPS), opts.Burst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()
	if opts.Metrics {
		p := ginprom.NewPrometheus("custody")
		p.Use(r)
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	r.Use(
		otelgin.Middleware(opts.ServiceName),
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
		middleware.RateLimit(store),
	)
	if opts.Sentinel {
		r.Use(middleware.Sentinel())
	}

	r.GET("/healthz", func(c *gin.Context) {
		if opts.Health != nil {
			if err := opts.Health(c.Request.Context()); err != nil {
				common.FailErr(c, err)
				return
			}
		}
		common.Success(c, gin.H{"status": "ok"})
	})

	keys := opts.APIKeys
	if keys == nil {
		keys = func() []string { return nil }
	}
	api := r.Group("/api/v1", middleware.APIKey(keys))
	api.POST("/addresses", h.Allocate)
	api.POST("/scans/:chain/:network", h.Scan)
	api.POST("/confirmations/:chain/:network", h.Confirm)
	api.GET("/deposits", h.ListDeposits)
	api.GET("/balances/:user_id", h.Balances)
	return r
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        handler,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}
