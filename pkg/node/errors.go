package node

import "errors"

var (
    ErrNotStarted       = errors.New("node: not started")
    ErrStopped          = errors.New("node: stopped")
    ErrNotLeader        = errors.New("node: not leader")
    ErrNoRPCClient      = errors.New("node: no RPC client configured")
    ErrUnknownComponent = errors.New("node: no leader known for component")
    ErrLeaderUnknown    = errors.New("node: cannot resolve leader management address")
)
