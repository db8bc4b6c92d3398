package observer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/protocol"
)

// PrometheusReporter exports traffic counters labelled by transport,
// protocol and direction. Peers are deliberately not a label; their
// cardinality is unbounded. Use a Counter for per-peer tallies.
type PrometheusReporter struct {
	bytes *prometheus.CounterVec
}

var _ Reporter = (*PrometheusReporter)(nil)

func NewPrometheusReporter(reg prometheus.Registerer) (*PrometheusReporter, error) {
	r := &PrometheusReporter{
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "libp2p",
			Subsystem: "switch",
			Name:      "traffic_bytes_total",
			Help:      "Bytes moved through switch connections.",
		}, []string{"transport", "protocol", "direction"}),
	}
	if err := reg.Register(r.bytes); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PrometheusReporter) LogSent(transportTag string, proto protocol.ID, pi *peer.Info, n int64) {
	r.bytes.WithLabelValues(transportTag, string(proto), "out").Add(float64(n))
}

func (r *PrometheusReporter) LogRecv(transportTag string, proto protocol.ID, pi *peer.Info, n int64) {
	r.bytes.WithLabelValues(transportTag, string(proto), "in").Add(float64(n))
}
