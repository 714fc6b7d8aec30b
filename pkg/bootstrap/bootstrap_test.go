package bootstrap

import (
	"context"
	"net"
	"testing"

	"github.com/alibaba/sentinel-golang/core/circuitbreaker"
	"github.com/alibaba/sentinel-golang/core/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowRules(t *testing.T) {
	sc := &SentinelCfg{Flow: FlowSection{Enabled: true, Rules: []FlowRule{
		{Resource: "POST /api/v1/addresses", Threshold: 100, StatIntervalMs: 1000},
		{Resource: "/custody.v1.Custody/AllocateAddress", Threshold: 50, Strategy: "warmup", WarmUpSec: 10, WarmUpColdFactor: 3, Control: "throttling", MaxQueueWaitMs: 200},
		{Threshold: 1},
	}}}
	got := flowRules(sc)
	require.Len(t, got, 2, "没有 resource 的规则被跳过")
	assert.Equal(t, flow.Direct, got[0].TokenCalculateStrategy)
	assert.Equal(t, flow.Reject, got[0].ControlBehavior)
	assert.Equal(t, flow.WarmUp, got[1].TokenCalculateStrategy)
	assert.Equal(t, flow.Throttling, got[1].ControlBehavior)
	assert.Equal(t, uint32(200), got[1].MaxQueueingTimeMs)

	sc.Flow.Enabled = false
	assert.Empty(t, flowRules(sc))
}

func TestBreakerRules(t *testing.T) {
	sc := &SentinelCfg{Breaker: BreakerConfig{Enabled: true, Rules: []BreakerRule{
		{Resource: "a", Threshold: 0.5},
		{Resource: "b", Strategy: "error_count", Threshold: 10},
		{Resource: "c", Strategy: "slow_request_ratio", Threshold: 0.3, MaxAllowedRtMs: 500},
	}}}
	got := breakerRules(sc)
	require.Len(t, got, 3)
	assert.Equal(t, circuitbreaker.ErrorRatio, got[0].Strategy)
	assert.Equal(t, circuitbreaker.ErrorCount, got[1].Strategy)
	assert.Equal(t, circuitbreaker.SlowRequestRatio, got[2].Strategy)
	assert.Equal(t, uint64(500), got[2].MaxAllowedRtMs)
}

func TestSentinelActive(t *testing.T) {
	var nilCfg *SentinelCfg
	assert.False(t, nilCfg.Active())
	assert.False(t, (&SentinelCfg{}).Active())
	assert.True(t, (&SentinelCfg{Flow: FlowSection{Enabled: true}}).Active())
	assert.NoError(t, InitSentinel(nil))
}

func TestAdvertise(t *testing.T) {
	assert.Equal(t, "10.1.2.3:9090", Advertise("10.1.2.3:9090"))
	assert.Equal(t, "bad", Advertise("bad"))

	got := Advertise(":9090")
	host, port, err := net.SplitHostPort(got)
	require.NoError(t, err)
	assert.Equal(t, "9090", port)
	assert.NotEmpty(t, host)
}

func TestRun_RequiresOptions(t *testing.T) {
	type cfg struct{}
	err := Run(context.Background(), Options[cfg]{ConfigName: "x"})
	assert.Error(t, err)
}
