package node

import (
    "context"
    "errors"

    "go.opentelemetry.io/otel/attribute"

    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/observability/metrics"
    "github.com/amirimatin/go-leaderelection/pkg/observability/tracing"
    "github.com/amirimatin/go-leaderelection/pkg/transport"
)

func (n *Node) handleLeader(ctx context.Context, req transport.LeaderRequest) (transport.LeaderResponse, error) {
    _, end := tracing.StartSpan(ctx, "node.handleLeader", attribute.String("component", req.ComponentID))
    defer end()
    resp := transport.LeaderResponse{Components: []le.LeaderInformationWithComponentID{}}
    if n.cons != nil {
        if id, _, ok := n.cons.Leader(); ok {
            resp.Node = id
        }
    } else if svc := n.Service(); svc != nil && svc.HasLeadership() {
        resp.Node = n.opts.NodeID
    }
    for _, e := range n.localLeaders() {
        if req.ComponentID == "" || e.ComponentID == req.ComponentID {
            resp.Components = append(resp.Components, e)
        }
    }
    return resp, nil
}

func (n *Node) handleJoin(ctx context.Context, req transport.JoinRequest) (transport.JoinResponse, error) {
    _, end := tracing.StartSpan(ctx, "node.handleJoin", attribute.String("id", req.ID))
    defer end()
    rc, ok := n.reconfigurer()
    if !ok {
        metrics.JoinRequests.WithLabelValues("rejected").Inc()
        n.log.Warn("join rejected, not leader", "id", req.ID)
        return transport.JoinResponse{Leader: n.leaderMgmtAddr()}, ErrNotLeader
    }
    if req.ID == "" || req.RaftAddr == "" {
        metrics.JoinRequests.WithLabelValues("invalid").Inc()
        return transport.JoinResponse{}, errors.New("node: join needs id and raftAddr")
    }
    if err := rc.AddVoter(req.ID, req.RaftAddr, n.opts.ReconfigureTimeout); err != nil {
        metrics.JoinRequests.WithLabelValues("error").Inc()
        n.log.Error("add voter failed", "id", req.ID, "addr", req.RaftAddr, "error", err)
        return transport.JoinResponse{}, err
    }
    metrics.JoinRequests.WithLabelValues("accepted").Inc()
    n.log.Info("join accepted", "id", req.ID, "addr", req.RaftAddr)
    return transport.JoinResponse{Accepted: true}, nil
}

func (n *Node) handleLeave(ctx context.Context, req transport.LeaveRequest) (transport.LeaveResponse, error) {
    _, end := tracing.StartSpan(ctx, "node.handleLeave", attribute.String("id", req.ID))
    defer end()
    rc, ok := n.reconfigurer()
    if !ok {
        n.log.Warn("leave rejected, not leader", "id", req.ID)
        return transport.LeaveResponse{}, ErrNotLeader
    }
    if err := rc.RemoveServer(req.ID, n.opts.ReconfigureTimeout); err != nil {
        n.log.Error("remove server failed", "id", req.ID, "error", err)
        return transport.LeaveResponse{}, err
    }
    n.log.Info("leave accepted", "id", req.ID)
    return transport.LeaveResponse{Accepted: true}, nil
}
