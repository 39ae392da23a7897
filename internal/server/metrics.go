package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activeDatabases = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "server",
		Name:      "databases",
		Help:      "Open databases managed by this server.",
	})

	authFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "server",
		Name:      "auth_failures_total",
		Help:      "Rejected WebSocket authentication attempts by reason.",
	}, []string{"reason"})

	once sync.Once
)

func init() {
	once.Do(func() {
		prometheus.MustRegister(activeDatabases, authFailures)
	})
}
