// Package metrics holds the process-wide Prometheus instrumentation for the
// rendezvous server. Collectors are registered on the default registry and
// exposed via promhttp at GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rendezvous"

// Probe kinds for DiscoveryProbes.
const (
	ProbeKindJSON = "json"
	ProbeKindSTUN = "stun"
)

// Sweep kinds for Swept.
const (
	SweepKindSessions = "sessions"
	SweepKindHosts    = "hosts"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Sessions created via the directory.",
	})

	SignalMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signal_messages_total",
		Help:      "Inbound signaling messages handled, by message type.",
	}, []string{"type"})

	SignalConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "signal_connections",
		Help:      "Currently open signaling WebSocket connections.",
	})

	HostsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hosts_registered",
		Help:      "Hosts currently present in the registry.",
	})

	DiscoveryProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discovery_probes_total",
		Help:      "Endpoint discovery probes answered, by kind.",
	}, []string{"kind"})

	Swept = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swept_total",
		Help:      "Registry entries removed by TTL sweeps, by kind.",
	}, []string{"kind"})
)
