package bootstrap

import (
	"context"
	"fmt"
	"strings"

	sentinels "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/circuitbreaker"
	"github.com/alibaba/sentinel-golang/core/flow"
	"go.uber.org/zap"

	"gopherex.com/custody/pkg/logger"
)

// SentinelCfg 资源名：HTTP 为 "METHOD 路由模板"，gRPC 为 FullMethod
type SentinelCfg struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Flow    FlowSection   `mapstructure:"flow" yaml:"flow"`
	Breaker BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

type FlowSection struct {
	Enabled bool       `mapstructure:"enabled" yaml:"enabled"`
	Rules   []FlowRule `mapstructure:"rules" yaml:"rules"`
}

type FlowRule struct {
	Resource         string  `mapstructure:"resource" yaml:"resource"`
	Threshold        float64 `mapstructure:"threshold" yaml:"threshold"`
	StatIntervalMs   uint32  `mapstructure:"stat_interval_ms" yaml:"stat_interval_ms"`
	Strategy         string  `mapstructure:"strategy" yaml:"strategy"` // direct/warmup/memory_adaptive
	Control          string  `mapstructure:"control" yaml:"control"`   // reject/throttling
	MaxQueueWaitMs   uint32  `mapstructure:"max_queue_wait_ms" yaml:"max_queue_wait_ms"`
	WarmUpSec        uint32  `mapstructure:"warm_up_sec" yaml:"warm_up_sec"`
	WarmUpColdFactor uint32  `mapstructure:"warm_up_cold_factor" yaml:"warm_up_cold_factor"`
}

type BreakerConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Rules   []BreakerRule `mapstructure:"rules" yaml:"rules"`
}

type BreakerRule struct {
	Resource         string  `mapstructure:"resource" yaml:"resource"`
	Strategy         string  `mapstructure:"strategy" yaml:"strategy"` // error_ratio/error_count/slow_request_ratio
	Threshold        float64 `mapstructure:"threshold" yaml:"threshold"`
	StatIntervalMs   uint32  `mapstructure:"stat_interval_ms" yaml:"stat_interval_ms"`
	MinRequestAmount uint64  `mapstructure:"min_request_amount" yaml:"min_request_amount"`
	RetryTimeoutMs   uint32  `mapstructure:"retry_timeout_ms" yaml:"retry_timeout_ms"`
	MaxAllowedRtMs   uint64  `mapstructure:"max_allowed_rt_ms" yaml:"max_allowed_rt_ms"`
}

// Active 至少开了一项才需要初始化 sentinel
func (sc *SentinelCfg) Active() bool {
	return sc != nil && (sc.Enabled || sc.Flow.Enabled || sc.Breaker.Enabled)
}

// InitSentinel 初始化并加载规则，未开启时什么都不做
func InitSentinel(sc *SentinelCfg) error {
	if !sc.Active() {
		return nil
	}
	if err := sentinels.InitDefault(); err != nil {
		return fmt.Errorf("init sentinel: %w", err)
	}
	if fr := flowRules(sc); len(fr) > 0 {
		if _, err := flow.LoadRules(fr); err != nil {
			return fmt.Errorf("load flow rules: %w", err)
		}
	}
	br := breakerRules(sc)
	if len(br) > 0 {
		if _, err := circuitbreaker.LoadRules(br); err != nil {
			return fmt.Errorf("load circuit breaker rules: %w", err)
		}
	}
	logger.Info(context.Background(), "sentinel rules loaded",
		zap.Int("flow", len(sc.Flow.Rules)), zap.Int("breaker", len(br)))
	return nil
}

func flowRules(sc *SentinelCfg) []*flow.Rule {
	if !sc.Flow.Enabled {
		return nil
	}
	var out []*flow.Rule
	for _, rule := range sc.Flow.Rules {
		if rule.Resource == "" {
			continue
		}
		r := &flow.Rule{
			Resource:         rule.Resource,
			Threshold:        rule.Threshold,
			StatIntervalInMs: rule.StatIntervalMs,
		}
		switch strings.ToLower(rule.Strategy) {
		case "warmup":
			r.TokenCalculateStrategy = flow.WarmUp
			r.WarmUpPeriodSec = rule.WarmUpSec
			r.WarmUpColdFactor = rule.WarmUpColdFactor
		case "memory_adaptive":
			r.TokenCalculateStrategy = flow.MemoryAdaptive
		default:
			r.TokenCalculateStrategy = flow.Direct
		}
		if strings.EqualFold(rule.Control, "throttling") {
			r.ControlBehavior = flow.Throttling
			r.MaxQueueingTimeMs = rule.MaxQueueWaitMs
		} else {
			r.ControlBehavior = flow.Reject
		}
		out = append(out, r)
	}
	return out
}

func breakerRules(sc *SentinelCfg) []*circuitbreaker.Rule {
	if !sc.Breaker.Enabled {
		return nil
	}
	var out []*circuitbreaker.Rule
	for _, rule := range sc.Breaker.Rules {
		if rule.Resource == "" {
			continue
		}
		r := &circuitbreaker.Rule{
			Resource:         rule.Resource,
			Threshold:        rule.Threshold,
			StatIntervalMs:   rule.StatIntervalMs,
			MinRequestAmount: rule.MinRequestAmount,
			RetryTimeoutMs:   rule.RetryTimeoutMs,
		}
		switch strings.ToLower(rule.Strategy) {
		case "error_count":
			r.Strategy = circuitbreaker.ErrorCount
		case "slow_request_ratio":
			r.Strategy = circuitbreaker.SlowRequestRatio
			r.MaxAllowedRtMs = rule.MaxAllowedRtMs
		default:
			r.Strategy = circuitbreaker.ErrorRatio
		}
		out = append(out, r)
	}
	return out
}
