package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	contextsAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tls_gateway",
			Name:      "certificate_contexts_added_total",
			Help:      "Number of certificate contexts installed.",
		},
		[]string{"vip"},
	)

	ticketRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tls_gateway",
			Name:      "ticket_key_rotations_total",
			Help:      "Number of per-context ticket key rotations.",
		},
		[]string{"vip", "result"},
	)

	sniLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tls_gateway",
			Name:      "sni_lookups_total",
			Help:      "Number of handshake-time server name lookups.",
		},
		[]string{"vip", "result"},
	)
)

// Sink publishes the certificate lifecycle and handshake events of one
// VIP as Prometheus counters.
type Sink struct {
	vip string
}

// NewSink returns a new Sink for the named VIP.
func NewSink(vip string) *Sink {
	return &Sink{vip: vip}
}

// ContextAdded counts an installed certificate context.
func (s *Sink) ContextAdded() {
	contextsAdded.WithLabelValues(s.vip).Inc()
}

// TicketRotation counts one per-context ticket key rotation.
func (s *Sink) TicketRotation(failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	ticketRotations.WithLabelValues(s.vip, result).Inc()
}

// SNIMatch counts a handshake whose server name resolved to a
// certificate.
func (s *Sink) SNIMatch() {
	sniLookups.WithLabelValues(s.vip, "match").Inc()
}

// SNIMiss counts a handshake whose server name did not resolve.
func (s *Sink) SNIMiss() {
	sniLookups.WithLabelValues(s.vip, "miss").Inc()
}

// SNIAbsent counts a handshake that carried no server name.
func (s *Sink) SNIAbsent() {
	sniLookups.WithLabelValues(s.vip, "absent").Inc()
}
