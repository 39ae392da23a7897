package ws

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	gatewayConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "connections",
		Help:      "Active WebSocket connections per database.",
	}, []string{"database"})

	messagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "messages_received_total",
		Help:      "Inbound envelopes per database and namespace.",
	}, []string{"database", "ns"})

	frameBytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "frame_bytes_read_total",
		Help:      "WebSocket frame bytes read from clients.",
	})

	frameBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "frame_bytes_written_total",
		Help:      "WebSocket frame bytes written to clients.",
	})

	once sync.Once
)

func init() {
	once.Do(func() {
		prometheus.MustRegister(gatewayConnections, messagesReceived, frameBytesRead, frameBytesWritten)
	})
}

var tracer = otel.Tracer("github.com/example/realtime-docstore/ws")
