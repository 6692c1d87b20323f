package pusher

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pusher",
			Subsystem: "client",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by URL scheme.",
		},
		[]string{"scheme"},
	)
	connectionsEstablished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pusher",
			Subsystem: "client",
			Name:      "connections_established_total",
			Help:      "Connections that reached the established state.",
		},
	)
	retriesScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pusher",
			Subsystem: "client",
			Name:      "retries_scheduled_total",
			Help:      "Reconnection attempts scheduled after a close.",
		},
		[]string{"reason"},
	)
	eventsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pusher",
			Subsystem: "client",
			Name:      "events_received_total",
			Help:      "Inbound frames decoded into events.",
		},
	)
	loopbackDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pusher",
			Subsystem: "client",
			Name:      "loopback_dropped_total",
			Help:      "Inbound events dropped because they carried our own socket id.",
		},
	)
	clientStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pusher",
			Subsystem: "client",
			Name:      "state",
			Help:      "Clients currently in each connection state. Idle clients are not counted.",
		},
		[]string{"state"},
	)
	authFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pusher",
			Subsystem: "client",
			Name:      "auth_failures_total",
			Help:      "Channel authorizations that fell back to an empty token.",
		},
	)
)

// RegisterMetrics registers the client collectors with reg. Registering
// with the same registry again is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		connectAttempts,
		connectionsEstablished,
		retriesScheduled,
		eventsReceived,
		loopbackDropped,
		clientStates,
		authFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}
