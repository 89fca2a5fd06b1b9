// Package node runs one process of a leader election group: the leader
// election service on top of a coordination backend, plus the optional
// gossip membership, voter reconfiguration and management API around it.
package node

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/hashicorp/go-hclog"

    "github.com/amirimatin/go-leaderelection/pkg/consensus"
    "github.com/amirimatin/go-leaderelection/internal/logutil"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/membership"
    "github.com/amirimatin/go-leaderelection/pkg/observability/metrics"
    "github.com/amirimatin/go-leaderelection/pkg/observability/tracing"
    "github.com/amirimatin/go-leaderelection/pkg/transport"
)

// Node wires the leader election service to its backend, membership and
// management API.
type Node struct {
    opts Options
    log  hclog.Logger

    cons consensus.Consensus
    mem  membership.Membership
    rpcS transport.RPCServer
    rpcC transport.RPCClient
    eb   eventBus

    mu      sync.RWMutex
    started bool
    stopped bool
    svc     *le.Service
    cancel  context.CancelFunc
}

// New validates opts. It performs no network activity; call Start.
func New(opts Options) (*Node, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    return &Node{
        opts: opts,
        log:  logutil.Named(opts.Logger, "node").With("node", opts.NodeID),
        cons: opts.Consensus,
        mem:  opts.Membership,
        rpcS: opts.RPCServer,
        rpcC: opts.RPCClient,
    }, nil
}

// Start brings up membership, consensus, the leader election service and the
// management API, in that order.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.stopped {
        return ErrStopped
    }
    if n.started {
        return nil
    }
    n.started = true
    metrics.Register()
    ctx, n.cancel = context.WithCancel(ctx)

    if n.mem != nil {
        if err := n.mem.Start(ctx); err != nil {
            return fmt.Errorf("node: start membership: %w", err)
        }
        n.joinSeeds(ctx)
        go n.membershipEventsLoop(ctx)
    }
    if n.cons != nil {
        if err := n.cons.Start(ctx); err != nil {
            return fmt.Errorf("node: start consensus: %w", err)
        }
        if ln, ok := n.cons.(consensus.LeaderNotifier); ok {
            go n.leaderLoop(ctx, ln.LeaderCh())
        }
    }

    svc, err := le.NewService(n.opts.Backend, le.Options{
        Logger:            n.log,
        FatalErrorHandler: n.opts.FatalErrorHandler,
    })
    if err != nil {
        return fmt.Errorf("node: start leader election service: %w", err)
    }
    n.svc = svc

    if n.rpcS != nil {
        h := transport.Handlers{
            Status: n.statusJSON,
            Leader: n.handleLeader,
            Join:   n.handleJoin,
            Leave:  n.handleLeave,
        }
        if err := n.rpcS.Start(ctx, h); err != nil {
            return fmt.Errorf("node: start management API: %w", err)
        }
    }
    n.log.Info("node started")
    return nil
}

func (n *Node) joinSeeds(ctx context.Context) {
    if n.opts.Discovery == nil {
        return
    }
    seeds, err := n.opts.Discovery.Seeds(ctx)
    if err != nil {
        n.log.Warn("seed discovery failed", "error", err)
        return
    }
    if len(seeds) == 0 {
        return
    }
    n.log.Info("joining membership seeds", "seeds", seeds)
    if err := n.mem.Join(seeds); err != nil {
        n.log.Warn("membership join failed", "error", err)
    }
}

// Service is the node's leader election service, nil before Start.
func (n *Node) Service() *le.Service {
    n.mu.RLock()
    defer n.mu.RUnlock()
    return n.svc
}

// Election returns a component election on the node's service. The caller
// starts it with a contender and closes it when done.
func (n *Node) Election(componentID string) (*le.ComponentElection, error) {
    n.mu.RLock()
    defer n.mu.RUnlock()
    if n.stopped {
        return nil, ErrStopped
    }
    if n.svc == nil {
        return nil, ErrNotStarted
    }
    return le.NewComponentElection(n.svc, componentID), nil
}

// ManagementAddr is the bound management API address, empty without one.
func (n *Node) ManagementAddr() string {
    if n.rpcS == nil {
        return ""
    }
    return n.rpcS.Addr()
}

// Stop closes the service, then consensus, membership and the management API.
func (n *Node) Stop(ctx context.Context) error {
    n.mu.Lock()
    if n.stopped {
        n.mu.Unlock()
        return nil
    }
    n.stopped = true
    svc, cancel := n.svc, n.cancel
    n.mu.Unlock()

    var errs []error
    if svc != nil {
        errs = append(errs, svc.Close())
    }
    if n.cons != nil {
        errs = append(errs, n.cons.Stop())
    }
    if n.mem != nil {
        _ = n.mem.Leave()
        errs = append(errs, n.mem.Stop())
    }
    if n.rpcS != nil {
        errs = append(errs, n.rpcS.Stop(ctx))
    }
    if n.rpcC != nil {
        errs = append(errs, n.rpcC.Close())
    }
    if cancel != nil {
        cancel()
    }
    metrics.IsLeader.Set(0)
    n.log.Info("node stopped")
    return errors.Join(errs...)
}

// Close is Stop with a background context.
func (n *Node) Close() error { return n.Stop(context.Background()) }

// Status reports this node's view: backend leader, members, the election
// service and the readable leader information.
func (n *Node) Status(ctx context.Context) (*Status, error) {
    ctx, end := tracing.StartSpan(ctx, "node.status")
    defer end()
    s := &Status{NodeID: n.opts.NodeID, Leaders: []le.LeaderInformationWithComponentID{}}
    if n.cons != nil {
        s.Term = n.cons.Term()
        if id, _, ok := n.cons.Leader(); ok {
            s.LeaderID = id
            s.Healthy = true
            s.LeaderAddr = n.lookupMgmtAddr(id)
        } else {
            s.Warnings = append(s.Warnings, "no leader known")
        }
        if rc, ok := n.cons.(consensus.Reconfigurer); ok {
            voters, err := rc.Servers()
            if err != nil {
                s.Warnings = append(s.Warnings, fmt.Sprintf("voters unavailable: %v", err))
            }
            s.Voters = voters
        }
    }
    if n.mem != nil {
        s.Members = n.mem.Members()
        metrics.Members.Set(float64(len(s.Members)))
        if hr, ok := n.mem.(membership.HealthReporter); ok && hr.HealthScore() > 0 {
            s.Warnings = append(s.Warnings, fmt.Sprintf("membership health score %d", hr.HealthScore()))
        }
    }
    if svc := n.Service(); svc != nil {
        snap, err := svc.Snapshot(ctx)
        if err != nil && !errors.Is(err, le.ErrServiceClosed) {
            return nil, err
        }
        s.Election = snap
        if n.cons == nil {
            s.Healthy = err == nil
            if snap.Leader {
                s.LeaderID = n.opts.NodeID
                s.LeaderAddr = n.ManagementAddr()
            }
        }
    }
    s.Leaders = append(s.Leaders, n.localLeaders()...)
    return s, nil
}

func (n *Node) statusJSON(ctx context.Context) ([]byte, error) {
    st, err := n.Status(ctx)
    if err != nil {
        return nil, err
    }
    return json.Marshal(st)
}

// localLeaders reads the published table from the backend when it can be
// read on this node, falling back to what the service delivered.
func (n *Node) localLeaders() []le.LeaderInformationWithComponentID {
    if r, ok := n.opts.Backend.(consensus.LeaderInformationReader); ok {
        return r.AllLeaderInformation()
    }
    svc := n.Service()
    if svc == nil {
        return nil
    }
    snap, err := svc.Snapshot(context.Background())
    if err != nil {
        return nil
    }
    var out []le.LeaderInformationWithComponentID
    for _, c := range snap.Components {
        if !c.LastDelivered.IsEmpty() {
            out = append(out, le.LeaderInformationWithComponentID{ComponentID: c.ComponentID, Information: c.LastDelivered})
        }
    }
    return out
}

// LookupLeader returns the published leader of componentID, asking the
// leader's management API when the table cannot be read locally.
func (n *Node) LookupLeader(ctx context.Context, componentID string) (le.LeaderInformation, error) {
    if _, ok := n.opts.Backend.(consensus.LeaderInformationReader); ok || n.rpcC == nil {
        for _, e := range n.localLeaders() {
            if e.ComponentID == componentID {
                return e.Information, nil
            }
        }
        return le.Empty(), ErrUnknownComponent
    }
    addr := n.leaderMgmtAddr()
    if addr == "" {
        return le.Empty(), ErrLeaderUnknown
    }
    resp, err := n.rpcC.GetLeader(ctx, addr, transport.LeaderRequest{ComponentID: componentID})
    if err != nil {
        return le.Empty(), err
    }
    for _, e := range resp.Components {
        if e.ComponentID == componentID {
            return e.Information, nil
        }
    }
    return le.Empty(), ErrUnknownComponent
}

// Join asks the leader to add this node as a voter. seed is the management
// address of any member; empty means resolve the leader locally.
func (n *Node) Join(ctx context.Context, seed string) error {
    if n.rpcC == nil {
        return ErrNoRPCClient
    }
    target := seed
    if target == "" {
        target = n.leaderMgmtAddr()
    } else if data, err := n.rpcC.GetStatus(ctx, seed); err == nil {
        var st Status
        if json.Unmarshal(data, &st) == nil && st.LeaderAddr != "" {
            target = st.LeaderAddr
        }
    }
    if target == "" {
        return ErrLeaderUnknown
    }
    req := transport.JoinRequest{ID: n.opts.NodeID, RaftAddr: n.raftAddr()}
    resp, err := n.rpcC.PostJoin(ctx, target, req)
    if err != nil && resp.Leader != "" && resp.Leader != target {
        n.log.Debug("join redirected", "from", target, "to", resp.Leader)
        resp, err = n.rpcC.PostJoin(ctx, resp.Leader, req)
    }
    if err != nil {
        return err
    }
    if !resp.Accepted {
        return errors.New("node: join rejected")
    }
    return nil
}

// raftAddr prefers the bound consensus address, which differs from the
// configured one when it used port 0.
func (n *Node) raftAddr() string {
    if a, ok := n.cons.(interface{ Addr() string }); ok && a.Addr() != "" {
        return a.Addr()
    }
    return n.opts.RaftAddr
}

func (n *Node) leaderMgmtAddr() string {
    if n.cons == nil {
        return ""
    }
    if n.cons.IsLeader() {
        return n.ManagementAddr()
    }
    if id, _, ok := n.cons.Leader(); ok {
        return n.lookupMgmtAddr(id)
    }
    return ""
}

// lookupMgmtAddr prefers the gossiped management address of a member.
func (n *Node) lookupMgmtAddr(id string) string {
    if id == n.opts.NodeID {
        return n.ManagementAddr()
    }
    if n.mem == nil {
        return ""
    }
    for _, m := range n.mem.Members() {
        if m.ID == id {
            if a := m.MgmtAddr(); a != "" {
                return a
            }
            return m.Addr
        }
    }
    return ""
}

func (n *Node) leaderLoop(ctx context.Context, ch <-chan consensus.LeaderInfo) {
    for {
        select {
        case <-ctx.Done():
            return
        case li, ok := <-ch:
            if !ok {
                return
            }
            metrics.RaftLeaderChanges.Inc()
            n.log.Info("leader change observed", "leader", li.ID, "term", li.Term)
            liCopy := li
            n.eb.publish(Event{Type: EventLeaderChanged, At: time.Now(), Leader: &liCopy})
            if li.ID == n.opts.NodeID {
                n.reconcileVoters()
            }
        }
    }
}

func (n *Node) membershipEventsLoop(ctx context.Context) {
    evch := n.mem.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case e, ok := <-evch:
            if !ok {
                return
            }
            metrics.Members.Set(float64(len(n.mem.Members())))
            m := e.Member
            switch e.Type {
            case membership.EventJoin:
                n.addVoter(m)
                n.eb.publish(Event{Type: EventMemberJoin, At: e.At, Member: &m})
            case membership.EventUpdate:
                n.addVoter(m)
            case membership.EventLeave, membership.EventFailed:
                n.removeServer(m.ID)
                et := EventMemberLeave
                if e.Type == membership.EventFailed {
                    et = EventMemberFailed
                }
                n.eb.publish(Event{Type: et, At: e.At, Member: &m})
            }
        }
    }
}

// reconcileVoters adds every known member as a voter after this node became
// the leader.
func (n *Node) reconcileVoters() {
    if n.mem == nil {
        return
    }
    for _, m := range n.mem.Members() {
        n.addVoter(m)
    }
}

func (n *Node) reconfigurer() (consensus.Reconfigurer, bool) {
    if n.cons == nil || !n.cons.IsLeader() {
        return nil, false
    }
    rc, ok := n.cons.(consensus.Reconfigurer)
    return rc, ok
}

func (n *Node) addVoter(m membership.MemberInfo) {
    if m.ID == n.opts.NodeID || m.RaftAddr() == "" {
        return
    }
    rc, ok := n.reconfigurer()
    if !ok {
        return
    }
    if err := rc.AddVoter(m.ID, m.RaftAddr(), n.opts.ReconfigureTimeout); err != nil {
        n.log.Warn("add voter failed", "id", m.ID, "addr", m.RaftAddr(), "error", err)
    }
}

func (n *Node) removeServer(id string) {
    if id == n.opts.NodeID {
        return
    }
    rc, ok := n.reconfigurer()
    if !ok {
        return
    }
    if err := rc.RemoveServer(id, n.opts.ReconfigureTimeout); err != nil {
        n.log.Warn("remove voter failed", "id", id, "error", err)
        return
    }
    n.log.Info("removed voter", "id", id)
}
