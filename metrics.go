package lobbynet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics 是单个 Mux 的 Prometheus 收集器。
type metrics struct {
	ticks          prometheus.Counter
	open           prometheus.Gauge
	pending        prometheus.Gauge
	connects       *prometheus.CounterVec
	closes         *prometheus.CounterVec
	framesReceived prometheus.Counter
	framesSent     prometheus.Counter
	bytesReceived  prometheus.Counter
	bytesSent      prometheus.Counter
}

const (
	resultOpen    = "open"
	resultPending = "pending"
	resultRefused = "refused"
	resultTimeout = "timeout"
	resultAccept  = "accepted"

	reasonLocal    = "local"
	reasonPeer     = "peer"
	reasonError    = "error"
	reasonOverflow = "overflow"
	reasonBadFrame = "bad_frame"
	reasonShutdown = "shutdown"
)

// newMetrics 创建收集器；reg 为 nil 时不注册，仅在本地计数。
func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total number of Update calls",
		}),
		open: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Connections currently registered (open or draining)",
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connects_pending",
			Help:      "Outbound connects awaiting completion",
		}),
		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Connection establishment outcomes",
		}, []string{"result"}),
		closes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closes_total",
			Help:      "Connections closed, by reason",
		}, []string{"reason"}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Complete inbound frames extracted",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames fully written",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Bytes read from peers",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Bytes written to peers",
		}),
	}
}
