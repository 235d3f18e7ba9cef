package upstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connOpenedTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "multiproxy_server_connections_opened_total", Help: "Client connections bridged through the server"}, []string{"server"})
	connClosedTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "multiproxy_server_connections_closed_total", Help: "Bridged connections that finished"}, []string{"server"})
	bytesTotal         = promauto.NewCounterVec(prometheus.CounterOpts{Name: "multiproxy_server_bytes_total", Help: "Bytes relayed by direction (tx: client to server, rx: server to client)"}, []string{"server", "direction"})
	connectFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "multiproxy_server_connect_failures_total", Help: "Failed connection attempts"}, []string{"server"})
	probeDelaySeconds  = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "multiproxy_server_probe_delay_seconds", Help: "Last probe delay, -1 when the probe failed"}, []string{"server"})
)

type serverMetrics struct {
	opened, closed prometheus.Counter
	tx, rx         prometheus.Counter
	connectFailed  prometheus.Counter
	delay          prometheus.Gauge
}

func newServerMetrics(tag string) serverMetrics {
	return serverMetrics{
		opened:        connOpenedTotal.WithLabelValues(tag),
		closed:        connClosedTotal.WithLabelValues(tag),
		tx:            bytesTotal.WithLabelValues(tag, "tx"),
		rx:            bytesTotal.WithLabelValues(tag, "rx"),
		connectFailed: connectFailedTotal.WithLabelValues(tag),
		delay:         probeDelaySeconds.WithLabelValues(tag),
	}
}
