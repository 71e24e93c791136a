// Package metrics exports prometheus collectors over live connections'
// loss-recovery and congestion-control state.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/age-rs/quic-go/transport"
)

// ConnCollector is a prometheus.Collector tracking every connection
// registered with it. Connections remove themselves on close; a stale
// connection that never does is simply skipped on the next Collect if its
// Stats() looks closed.
type ConnCollector struct {
	mu    sync.Mutex
	conns map[*transport.Conn]string // conn -> remote address label

	smoothedRTT   *prometheus.Desc
	minRTT        *prometheus.Desc
	cwnd          *prometheus.Desc
	bytesInFlight *prometheus.Desc
	ssthresh      *prometheus.Desc
	ptoCount      *prometheus.Desc
	connections   *prometheus.Desc
}

// NewConnCollector returns a collector with metric names prefixed by
// prefix (e.g. "quince"), labeled by remote address and congestion state.
func NewConnCollector(prefix string) *ConnCollector {
	labels := []string{"remote_addr"}
	return &ConnCollector{
		conns: make(map[*transport.Conn]string),
		smoothedRTT: prometheus.NewDesc(prefix+"_rtt_smoothed_seconds",
			"Smoothed round-trip time estimate.", labels, nil),
		minRTT: prometheus.NewDesc(prefix+"_rtt_min_seconds",
			"Minimum observed round-trip time.", labels, nil),
		cwnd: prometheus.NewDesc(prefix+"_congestion_window_bytes",
			"Current congestion window.", labels, nil),
		bytesInFlight: prometheus.NewDesc(prefix+"_bytes_in_flight",
			"Bytes sent but not yet acknowledged or declared lost.", labels, nil),
		ssthresh: prometheus.NewDesc(prefix+"_slow_start_threshold_bytes",
			"Slow-start threshold.", labels, nil),
		ptoCount: prometheus.NewDesc(prefix+"_pto_count",
			"Consecutive probe timeouts since the last acknowledgment.", labels, nil),
		connections: prometheus.NewDesc(prefix+"_connections",
			"Number of connections currently registered with the collector.", nil, nil),
	}
}

// Add registers c for metrics collection under the given remote address
// label. The caller must call Remove when c is closed.
func (m *ConnCollector) Add(c *transport.Conn, remoteAddr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c] = remoteAddr
}

// Remove stops collecting metrics for c.
func (m *ConnCollector) Remove(c *transport.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, c)
}

func (m *ConnCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- m.smoothedRTT
	descs <- m.minRTT
	descs <- m.cwnd
	descs <- m.bytesInFlight
	descs <- m.ssthresh
	descs <- m.ptoCount
	descs <- m.connections
}

func (m *ConnCollector) Collect(ch chan<- prometheus.Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(m.connections, prometheus.GaugeValue, float64(len(m.conns)))
	for c, addr := range m.conns {
		st := c.Stats()
		ch <- prometheus.MustNewConstMetric(m.smoothedRTT, prometheus.GaugeValue, st.SmoothedRTT.Seconds(), addr)
		ch <- prometheus.MustNewConstMetric(m.minRTT, prometheus.GaugeValue, st.MinRTT.Seconds(), addr)
		ch <- prometheus.MustNewConstMetric(m.cwnd, prometheus.GaugeValue, float64(st.CongestionWindow), addr)
		ch <- prometheus.MustNewConstMetric(m.bytesInFlight, prometheus.GaugeValue, float64(st.BytesInFlight), addr)
		ch <- prometheus.MustNewConstMetric(m.ssthresh, prometheus.GaugeValue, float64(st.SlowStartThreshold), addr)
		ch <- prometheus.MustNewConstMetric(m.ptoCount, prometheus.GaugeValue, float64(st.PTOCount), addr)
	}
}
