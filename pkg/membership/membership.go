// Package membership abstracts peer discovery and failure detection for the
// nodes that campaign for leadership.
package membership

import (
    "context"
    "time"
)

// Meta keys gossiped with every member.
const (
    // MetaRaftAddr is the raft transport address of the member.
    MetaRaftAddr = "raft"
    // MetaMgmtAddr is the management (HTTP or gRPC) address of the member.
    MetaMgmtAddr = "mgmt"
)

// MemberInfo describes a peer as seen by the membership layer.
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

// RaftAddr returns the raft address advertised by the member, if any.
func (m MemberInfo) RaftAddr() string { return m.Meta[MetaRaftAddr] }

// MgmtAddr returns the management address advertised by the member, if any.
func (m MemberInfo) MgmtAddr() string { return m.Meta[MetaMgmtAddr] }

type EventType string

const (
    EventJoin   EventType = "join"
    EventLeave  EventType = "leave"
    EventFailed EventType = "failed"
    EventUpdate EventType = "update"
)

// Event is a membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the gossip layer used to find voters for the raft cluster.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}
