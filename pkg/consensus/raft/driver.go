package raftcons

import (
    "context"
    "fmt"

    "github.com/hashicorp/raft"
    "go.opentelemetry.io/otel/attribute"

    c "github.com/amirimatin/go-leaderelection/pkg/consensus"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/observability/metrics"
    "github.com/amirimatin/go-leaderelection/pkg/observability/tracing"
)

// CreateDriver attaches listener to this node. Only one listener can be
// attached at a time. If the node already leads, the listener is granted a
// session right away.
func (n *Node) CreateDriver(listener le.DriverListener) (le.Driver, error) {
    if listener == nil {
        return nil, fmt.Errorf("raftcons: nil listener")
    }
    n.mu.Lock()
    if n.listener != nil {
        n.mu.Unlock()
        return nil, fmt.Errorf("raftcons: driver already attached")
    }
    n.listener = listener
    leader, sessionID := n.leader, n.session
    n.mu.Unlock()

    d := &driver{n: n, listener: listener}
    if leader {
        listener.OnGrantLeadership(sessionID)
        go n.reconcile(sessionID)
    }
    return d, nil
}

type driver struct {
    n        *Node
    listener le.DriverListener
}

func (d *driver) PublishLeaderInformation(componentID string, info le.LeaderInformation) error {
    return d.n.submit(c.OpPutLeaderInformation, componentID, info)
}

func (d *driver) DeleteLeaderInformation(componentID string) error {
    return d.n.submit(c.OpRemoveLeaderInformation, componentID, le.Empty())
}

func (d *driver) HasLeadership() bool {
    d.n.mu.Lock()
    defer d.n.mu.Unlock()
    return d.n.leader && d.n.listener == d.listener
}

func (d *driver) Close() error {
    d.n.mu.Lock()
    defer d.n.mu.Unlock()
    if d.n.listener == d.listener {
        d.n.listener = nil
    }
    return nil
}

// submit queues a leader information command for the raft log and returns
// without waiting for raft. Commit failures are logged.
func (n *Node) submit(op, componentID string, info le.LeaderInformation) error {
    if n.r == nil || n.stopped.Load() {
        return c.ErrNotStarted
    }
    if n.r.State() != raft.Leader {
        return c.ErrNotLeader
    }
    data, err := encodeCommand(op, componentID, info)
    if err != nil {
        return err
    }
    n.writes.Submit(func() {
        if n.stopped.Load() {
            return
        }
        ctx, end := tracing.StartSpan(context.Background(), "raft.leader_information",
            attribute.String("op", op), attribute.String("component", componentID))
        f := n.r.Apply(data, n.opts.ApplyTimeout)
        go func() {
            defer end()
            err := f.Error()
            if err == nil {
                if e, ok := f.Response().(error); ok {
                    err = e
                }
            }
            if err != nil {
                tracing.RecordError(ctx, err)
                metrics.DriverWrites.WithLabelValues(op, "commit_error").Inc()
                n.log.Warn("leader information write not committed", "op", op, "component", componentID, "error", err)
            }
        }()
    })
    return nil
}

var _ le.DriverFactory = (*Node)(nil)
var _ le.Driver = (*driver)(nil)
