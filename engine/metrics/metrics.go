package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Planning
	// ============================================
	PlanRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stablerouter_plan_requests_total",
			Help: "Route plan requests by outcome",
		},
		[]string{"outcome"},
	)

	// ============================================
	// Transfers
	// ============================================
	ValidationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stablerouter_validation_rejections_total",
			Help: "Transfer intents rejected before any fund movement",
		},
		[]string{"class"},
	)

	TransfersInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stablerouter_transfers_initiated_total",
			Help: "Transfer records created",
		},
		[]string{"protocol"},
	)

	TransfersCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stablerouter_transfers_completed_total",
			Help: "Transfer records that reached COMPLETED",
		},
		[]string{"protocol"},
	)

	TransfersFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stablerouter_transfers_failed_total",
			Help: "Transfer records that reached FAILED",
		},
		[]string{"stage"},
	)

	FeesCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stablerouter_fees_collected_base_units_total",
			Help: "Protocol fees recorded, in token base units",
		},
		[]string{"token"},
	)

	// ============================================
	// Destination execution
	// ============================================
	HookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stablerouter_hook_deliveries_total",
			Help: "Inbound bridge messages handled by the hook executor",
		},
		[]string{"result"},
	)

	HookSwapDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stablerouter_hook_swap_duration_seconds",
		Help:    "Destination swap call duration",
		Buckets: prometheus.DefBuckets,
	})

	RelayAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stablerouter_relay_attempts_total",
			Help: "Relayer delivery attempts by result",
		},
		[]string{"result"},
	)

	// ============================================
	// Sweeper
	// ============================================
	StaleTransfers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stablerouter_stale_transfers",
			Help: "In-flight transfers older than the stale threshold",
		},
		[]string{"state"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stablerouter_events_published_total",
			Help: "Transfer events handed to publishers",
		},
		[]string{"type", "result"},
	)
)
