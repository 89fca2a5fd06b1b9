// Package transport defines the management API nodes expose to each other and
// to leaderctl: status, leader lookup, and voter join/leave.
package transport

import (
    "context"

    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
)

// StatusFunc returns the JSON-encoded node status.
type StatusFunc func(ctx context.Context) ([]byte, error)

// LeaderRequest asks for the published leader of one component. An empty
// ComponentID asks for every component.
type LeaderRequest struct {
    ComponentID string `json:"componentId,omitempty"`
}

// LeaderResponse carries the replicated leader information as seen by the
// answering node.
type LeaderResponse struct {
    // Node is the ID of the node holding the leadership session, if known.
    Node       string                                `json:"node,omitempty"`
    Components []le.LeaderInformationWithComponentID `json:"components"`
}

type LeaderFunc func(ctx context.Context, req LeaderRequest) (LeaderResponse, error)

// JoinRequest asks the leader to add a voter.
type JoinRequest struct {
    ID       string `json:"id"`
    RaftAddr string `json:"raftAddr"`
}

// JoinResponse reports acceptance. On rejection Leader may name the node to
// retry against.
type JoinResponse struct {
    Accepted bool   `json:"accepted"`
    Leader   string `json:"leader,omitempty"`
    Error    string `json:"error,omitempty"`
}

type JoinFunc func(ctx context.Context, req JoinRequest) (JoinResponse, error)

// LeaveRequest asks the leader to remove a server.
type LeaveRequest struct {
    ID string `json:"id"`
}

type LeaveResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

type LeaveFunc func(ctx context.Context, req LeaveRequest) (LeaveResponse, error)

// Handlers back the management endpoints. Nil handlers answer "not supported".
type Handlers struct {
    Status StatusFunc
    Leader LeaderFunc
    Join   JoinFunc
    Leave  LeaveFunc
}

// RPCServer exposes Handlers over one protocol.
type RPCServer interface {
    Start(ctx context.Context, h Handlers) error
    // Addr is the bound address once started (the configured one before).
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient calls the management API of another node.
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    GetLeader(ctx context.Context, addr string, req LeaderRequest) (LeaderResponse, error)
    PostJoin(ctx context.Context, addr string, req JoinRequest) (JoinResponse, error)
    PostLeave(ctx context.Context, addr string, req LeaveRequest) (LeaveResponse, error)
    Close() error
}
