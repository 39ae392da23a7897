package db

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	queryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "db",
		Name:      "query_seconds",
		Help:      "Latency of individual queries inside a transaction.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"type"})

	lockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "db",
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting to acquire document or collection locks.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	locksHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "db",
		Name:      "locks_held",
		Help:      "Locks currently held across all transactions.",
	})

	subscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "db",
		Name:      "subscriptions_active",
		Help:      "Live snapshot subscriptions currently registered.",
	})

	changesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "db",
		Name:      "changes_published_total",
		Help:      "Change records fanned out to the notification hub.",
	})
)

func init() {
	prometheus.MustRegister(queryLatency, lockWaitSeconds, locksHeld, subscriptionsActive, changesPublished)
}

var tracer = otel.Tracer("github.com/example/realtime-docstore/db")
