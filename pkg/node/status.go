package node

import (
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/membership"
)

// Status is the JSON document served on /status.
type Status struct {
    NodeID string `json:"nodeId"`
    // Healthy means a leader is known and the node is running.
    Healthy bool   `json:"healthy"`
    Term    uint64 `json:"term,omitempty"`
    // LeaderID is the node holding the leadership session.
    LeaderID string `json:"leaderId,omitempty"`
    // LeaderAddr is the management address of that node, if known.
    LeaderAddr string                  `json:"leaderAddr,omitempty"`
    Members    []membership.MemberInfo `json:"members,omitempty"`
    // Voters are the raft voter ids, when the backend is reconfigurable.
    Voters []string `json:"voters,omitempty"`
    // Election is this node's leader election service.
    Election le.Snapshot `json:"election"`
    // Leaders is the published leader information readable on this node.
    Leaders  []le.LeaderInformationWithComponentID `json:"leaders"`
    Warnings []string                              `json:"warnings,omitempty"`
}
