package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "attempts_total", Help: "Dispatch attempts by mode"},
		[]string{"mode"},
	)
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "outcomes_total", Help: "Dispatch attempt outcomes"},
		[]string{"outcome"},
	)
	DispatchTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "timeouts_total", Help: "Directed dispatch attempts that expired unanswered"},
	)
	StaleAccepts = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "stale_accepts_total", Help: "Accept replies arriving after assignment resolved"},
	)
	UnreachableDrivers = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "unreachable_drivers_total", Help: "Dispatch sends skipped because the driver had no session"},
	)
	FallbackPublishes = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "fallback_publishes_total", Help: "Ride requests handed to the async fallback channel"},
	)
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notifications_sent_total", Help: "Notifications delivered by type"},
		[]string{"type"},
	)
	DriversOnline = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_online", Help: "Drivers with a live notification session"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
