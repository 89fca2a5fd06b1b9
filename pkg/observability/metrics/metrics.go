package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

const namespace = "leaderelection"

var (
    once sync.Once

    // Multiplexing service.
    IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: namespace,
        Name:      "is_leader",
        Help:      "1 while the multiplexing service holds a leadership session, else 0",
    })
    Grants = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "grants_total",
        Help:      "Leadership sessions granted by the coordination backend",
    })
    Revokes = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "revokes_total",
        Help:      "Leadership sessions revoked by the coordination backend",
    })
    RegisteredComponents = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: namespace,
        Name:      "registered_components",
        Help:      "Components currently registered with the multiplexing service",
    })
    Callbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "callbacks_total",
        Help:      "Handler callbacks delivered, by event",
    }, []string{"event"})
    CallbacksDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "callbacks_dropped_total",
        Help:      "Handler callbacks discarded before they started, by reason",
    }, []string{"reason"})
    NotificationsIgnored = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "notifications_ignored_total",
        Help:      "Leader information notifications ignored because no session was current",
    }, []string{"op"})
    FatalErrors = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "fatal_errors_total",
        Help:      "Errors reported to the fatal error handler",
    })
    DriverWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "driver_writes_total",
        Help:      "Leader information writes handed to the coordination backend",
    }, []string{"op", "result"})

    // Node runtime.
    Members = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: namespace,
        Name:      "members_total",
        Help:      "Current number of known gossip members",
    })
    RaftLeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "raft_leader_changes_total",
        Help:      "Total number of observed raft leader change events",
    })
    JoinRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "join_requests_total",
        Help:      "Total join requests handled by this node",
    }, []string{"result"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: namespace,
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(
            IsLeader, Grants, Revokes, RegisteredComponents,
            Callbacks, CallbacksDropped, NotificationsIgnored,
            FatalErrors, DriverWrites,
            Members, RaftLeaderChanges, JoinRequests,
            GRPCConnDials, GRPCConnReuse, GRPCConnEvictions, GRPCConnActive,
        )
    })
}
