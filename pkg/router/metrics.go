package router

import (
	"sync"

	"github.com/devbus/devbus-go/pkg/wire"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devbus",
			Subsystem: "router",
			Name:      "frames_routed_total",
			Help:      "Frames delivered to clients.",
		},
		[]string{"protocol"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devbus",
			Subsystem: "router",
			Name:      "frames_dropped_total",
			Help:      "Frames the router could not deliver.",
		},
		[]string{"reason"},
	)
	linksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devbus",
			Subsystem: "router",
			Name:      "links_dropped_total",
			Help:      "Client links dropped for falling behind or failing a write.",
		},
	)
	connectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devbus",
			Subsystem: "router",
			Name:      "clients",
			Help:      "Registered clients.",
		},
	)
)

// RegisterMetrics registers the router collectors with the default
// prometheus registry. It is safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesRouted, framesDropped, linksDropped, connectedClients)
	})
}

func recordRouted(p wire.Protocol) {
	framesRouted.WithLabelValues(p.String()).Inc()
}

func recordDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

func recordKicked() {
	linksDropped.Inc()
}

func setConnectedClients(n int) {
	connectedClients.Set(float64(n))
}
