package node

import (
    "errors"
    "time"

    "github.com/hashicorp/go-hclog"

    "github.com/amirimatin/go-leaderelection/pkg/consensus"
    "github.com/amirimatin/go-leaderelection/pkg/discovery"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/membership"
    "github.com/amirimatin/go-leaderelection/pkg/transport"
)

// Options carry the components a Node is assembled from. They are usually
// produced by bootstrap.Build.
type Options struct {
    NodeID string
    Logger hclog.Logger

    // Backend creates the driver of the node's leader election service. When
    // nil, Consensus is used if it is a leaderelection.DriverFactory.
    Backend le.DriverFactory

    // Consensus is started and stopped with the node. It supplies the leader
    // identity and term for Status, and voter reconfiguration when it is a
    // consensus.Reconfigurer. Optional.
    Consensus consensus.Consensus

    // Membership and Discovery are optional. Without Discovery no seeds are
    // joined on Start.
    Membership membership.Membership
    Discovery  discovery.Discovery

    // Management API. Both optional.
    RPCServer transport.RPCServer
    RPCClient transport.RPCClient

    // RaftAddr is sent in join requests. Defaults to the address of
    // Consensus when it exposes one.
    RaftAddr string

    FatalErrorHandler le.FatalErrorHandler

    // ReconfigureTimeout bounds AddVoter/RemoveServer. Defaults to 3s.
    ReconfigureTimeout time.Duration
}

func (o *Options) Validate() error {
    if o.NodeID == "" {
        return errors.New("node: empty NodeID")
    }
    if o.Backend == nil {
        f, ok := o.Consensus.(le.DriverFactory)
        if !ok {
            return errors.New("node: no Backend and Consensus is not a driver factory")
        }
        o.Backend = f
    }
    if o.RaftAddr == "" {
        if a, ok := o.Consensus.(interface{ Addr() string }); ok {
            o.RaftAddr = a.Addr()
        }
    }
    if o.ReconfigureTimeout <= 0 {
        o.ReconfigureTimeout = 3 * time.Second
    }
    return nil
}
