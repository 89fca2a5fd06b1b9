package consensus

import (
    "context"
    "errors"
)

// Ops understood by the leader information state machine.
const (
    OpPutLeaderInformation    = "PutLeaderInformation"
    OpRemoveLeaderInformation = "RemoveLeaderInformation"
)

var (
    ErrNotLeader  = errors.New("consensus: not leader")
    ErrNotStarted = errors.New("consensus: not started")
)

// Command is a replicated log entry. Payload encoding is defined per Op.
type Command struct {
    Op      string `json:"op"`
    Payload []byte `json:"payload,omitempty"`
}

// Consensus is the minimal abstraction over a leader-based consensus engine
// backing the leadership session of a node.
type Consensus interface {
    Start(ctx context.Context) error
    IsLeader() bool
    Leader() (id string, addr string, ok bool)
    Term() uint64
    Stop() error
}
