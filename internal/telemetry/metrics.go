// Package telemetry exposes the node's Prometheus metrics: replication
// quorum outcomes, gossip rounds, WAL append latency and ring occupancy.
// It is wired in addition to the binary wire protocol, on a separate HTTP
// listener, and has no effect on the protocol itself.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	ReplicationAcksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kvstore",
			Name:      "replication_acks_total",
			Help:      "Total number of per-replica acknowledgements observed during quorum operations.",
		},
		[]string{"op", "result"}, // op: put|get|delete, result: ack|nack|error
	)

	QuorumOutcomeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kvstore",
			Name:      "quorum_outcome_total",
			Help:      "Total number of quorum operations by outcome.",
		},
		[]string{"op", "outcome"}, // outcome: success|quorum_failed
	)

	GossipRoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kvstore",
			Name:      "gossip_rounds_total",
			Help:      "Total number of gossip rounds initiated by this node.",
		},
	)

	GossipPeersContactedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kvstore",
			Name:      "gossip_peers_contacted_total",
			Help:      "Total number of peers contacted across all gossip rounds.",
		},
	)

	MembersDeadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kvstore",
			Name:      "members_marked_dead_total",
			Help:      "Total number of times a peer was marked dead by the failure detector.",
		},
	)

	WALAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kvstore",
			Name:      "wal_append_duration_seconds",
			Help:      "Latency of a single WAL append (including fsync).",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	RingSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kvstore",
			Name:      "ring_virtual_nodes",
			Help:      "Current number of virtual nodes placed on the hash ring.",
		},
	)

	StoreSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kvstore",
			Name:      "store_keys",
			Help:      "Current number of keys held by the local storage engine.",
		},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "kvstore",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		ReplicationAcksTotal,
		QuorumOutcomeTotal,
		GossipRoundsTotal,
		GossipPeersContactedTotal,
		MembersDeadTotal,
		WALAppendDuration,
		RingSize,
		StoreSize,
		uptime,
	)
}

// Handler exposes /metrics for mounting on the node's metrics listener.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
