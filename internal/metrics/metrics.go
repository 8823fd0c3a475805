// Package metrics holds the Prometheus collectors exported on the admin server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "parlor"

// AuthFailuresTotal counts rejected credentials.
// Label reason: missing, invalid, expired, keyset, service_key, no_subject.
var AuthFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_failures_total",
		Help:      "Total number of rejected credentials by reason.",
	},
	[]string{"reason"},
)

var TokenCacheTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_cache_total",
		Help:      "Verified token cache lookups by result (hit/miss).",
	},
	[]string{"result"},
)

// ConnectedSockets tracks open sockets per party kind.
var ConnectedSockets = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connected_sockets",
		Help:      "Current number of open websocket connections.",
	},
	[]string{"kind"},
)

// SocketsDroppedTotal counts sockets disconnected because their outbound queue was full.
var SocketsDroppedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sockets_dropped_total",
		Help:      "Total number of slow sockets disconnected on a full send queue.",
	},
)

var ActiveRooms = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_rooms",
		Help:      "Number of room actors currently loaded.",
	},
)

// RoomEventsTotal counts room events by type and origin (socket/http).
var RoomEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "room_events_total",
		Help:      "Total number of room events accepted.",
	},
	[]string{"type", "origin"},
)

var RoomsCreatedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rooms_created_total",
		Help:      "Total number of rooms created in the lobby.",
	},
)

var RoomsClosedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rooms_closed_total",
		Help:      "Total number of rooms closed by their admin.",
	},
)

// RPCDuration measures cross-actor calls.
// Labels: target party kind and outcome (ok, error, status code class).
var RPCDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rpc_duration_seconds",
		Help:      "Duration of cross-actor RPC calls.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"target", "outcome"},
)
