package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlegate_settlements_total",
		Help: "Settlement transactions by type and final status (replays excluded)",
	}, []string{"type", "status"})

	SettlementReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlegate_settlement_replays_total",
		Help: "Requests answered from an existing settlement id",
	}, []string{"type"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlegate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlegate_auth_failures_total",
		Help: "Rejected requests by internal authentication failure reason",
	}, []string{"reason"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlegate_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"reason"})

	ConversionConfigValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlegate_conversion_config_valid",
		Help: "1 when the live conversion configuration is valid, 0 when settlement traffic is halted",
	})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlegate_webhook_deliveries_total",
		Help: "Platform webhook delivery attempts by result",
	}, []string{"result"})

	ChainDeposits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlegate_chain_deposits_total",
		Help: "Verified on-chain deposit events consumed",
	}, []string{"result"})
)
