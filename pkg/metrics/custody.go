package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Name:      "address_allocations_total",
		Help:      "Address allocation results by chain.",
	}, []string{"chain", "result"}) // result: derived/literal/tag/reused/idempotent/error

	DepositsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Name:      "deposits_recorded_total",
		Help:      "Pending deposits inserted by the scanner.",
	}, []string{"chain", "network", "asset"})

	DepositsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Name:      "deposits_confirmed_total",
		Help:      "Deposits moved from pending to confirmed.",
	}, []string{"chain", "network", "asset"})

	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Name:      "upstream_errors_total",
		Help:      "Chain data source failures.",
	}, []string{"chain", "op"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custody",
		Name:      "job_duration_seconds",
		Help:      "Scheduled job latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job", "chain", "network"})

	ChainTip = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custody",
		Name:      "chain_tip",
		Help:      "Last observed chain tip height.",
	}, []string{"chain", "network"})

	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Name:      "notifications_published_total",
		Help:      "Deposit-completed notifications published.",
	}, []string{"driver", "result"})
)
