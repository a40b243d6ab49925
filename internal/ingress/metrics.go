package ingress

import "github.com/prometheus/client_golang/prometheus"

const (
	resultAccepted   = "accepted"
	resultMalformed  = "malformed"
	resultInvalid    = "invalid"
	resultDuplicate  = "duplicate"
	resultOutOfOrder = "out_of_order"
	resultInactive   = "inactive"
	resultRejected   = "rejected"
)

// Metrics counts ingress messages. A nil *Metrics records nothing.
type Metrics struct {
	messages *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growrack",
			Subsystem: "ingress",
			Name:      "messages_total",
			Help:      "Reading messages received, by source and result.",
		}, []string{"source", "result"}),
	}
	reg.MustRegister(m.messages)
	return m
}

func (m *Metrics) message(source, result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(source, result).Inc()
}
