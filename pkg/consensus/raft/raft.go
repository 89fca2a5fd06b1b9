package raftcons

import (
    "context"
    "fmt"
    "os"
    "path/filepath"
    "strconv"
    "sync"
    "sync/atomic"
    "time"

    "github.com/google/uuid"
    "github.com/hashicorp/go-hclog"
    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    c "github.com/amirimatin/go-leaderelection/pkg/consensus"
    "github.com/amirimatin/go-leaderelection/pkg/internal/dispatch"
    "github.com/amirimatin/go-leaderelection/internal/logutil"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/state/leaders"
)

// Node runs a HashiCorp Raft instance whose leadership is the leadership
// session of this process. Component leader information is replicated through
// the raft log, so every node can read it.
type Node struct {
    opts  Options
    log   hclog.Logger
    r     *raft.Raft
    lch   chan c.LeaderInfo
    addr  raft.ServerAddress
    trans raft.Transport
    lb    raft.LoopbackTransport
    state *leaders.State
    // writes hands leader information commands to raft off the caller's
    // goroutine.
    writes *dispatch.Queue

    notifyCh chan bool
    stopCh   chan struct{}
    stopped  atomic.Bool

    mu       sync.Mutex
    listener le.DriverListener
    leader   bool
    session  uuid.UUID
}

func New(opts Options) (*Node, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    return &Node{
        opts:     opts,
        log:      logutil.Named(opts.Logger, "raft").With("node", opts.NodeID),
        lch:      make(chan c.LeaderInfo, 16),
        state:    leaders.New(),
        writes:   dispatch.New(),
        notifyCh: make(chan bool, 8),
        stopCh:   make(chan struct{}),
    }, nil
}

func (n *Node) Start(ctx context.Context) error {
    if n.r != nil {
        return nil
    }
    if n.stopped.Load() {
        return fmt.Errorf("raftcons: node stopped")
    }

    cfg := raft.DefaultConfig()
    cfg.LocalID = raft.ServerID(n.opts.NodeID)
    cfg.Logger = n.log
    cfg.NotifyCh = n.notifyCh
    if n.opts.HeartbeatTimeout > 0 {
        cfg.HeartbeatTimeout = n.opts.HeartbeatTimeout
        // Keep lease <= heartbeat to satisfy invariants
        if cfg.LeaderLeaseTimeout > cfg.HeartbeatTimeout {
            cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout / 2
            if cfg.LeaderLeaseTimeout == 0 { cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout }
        }
    }
    if n.opts.ElectionTimeout > 0 { cfg.ElectionTimeout = n.opts.ElectionTimeout }
    if n.opts.CommitTimeout > 0 { cfg.CommitTimeout = n.opts.CommitTimeout }

    var (
        logs   raft.LogStore
        stable raft.StableStore
        snaps  raft.SnapshotStore
        addr   raft.ServerAddress
        trans  raft.Transport
        err    error
    )

    if n.opts.DataDir != "" {
        if err := os.MkdirAll(n.opts.DataDir, 0o755); err != nil { return err }
        bstore, err := raftboltdb.NewBoltStore(filepath.Join(n.opts.DataDir, "raft.db"))
        if err != nil { return fmt.Errorf("raftcons: open bolt store: %w", err) }
        logs = bstore
        stable = bstore
        snaps, err = raft.NewFileSnapshotStoreWithLogger(n.opts.DataDir, n.opts.SnapshotsRetained, n.log)
        if err != nil { return err }
    } else {
        logs = raft.NewInmemStore()
        stable = raft.NewInmemStore()
        snaps = raft.NewInmemSnapshotStore()
    }

    if n.opts.BindAddr != "" {
        nt, err := raft.NewTCPTransportWithLogger(n.opts.BindAddr, nil, 3, time.Second, n.log)
        if err != nil { return err }
        trans = nt
        addr = nt.LocalAddr()
    } else {
        addr, trans = raft.NewInmemTransport(raft.ServerAddress(n.opts.NodeID))
    }

    fsm := newLeaderFSM(n.state, n.emitKnown)
    r, err := raft.NewRaft(cfg, fsm, logs, stable, snaps, trans)
    if err != nil {
        return err
    }
    n.r = r
    n.addr = addr
    n.trans = trans
    if lb, ok := n.trans.(raft.LoopbackTransport); ok { n.lb = lb }

    go n.leadershipLoop()

    // Leader observations keep LeaderCh current on followers too.
    obsCh := make(chan raft.Observation, 32)
    observer := raft.NewObserver(obsCh, false, func(o *raft.Observation) bool {
        _, ok := o.Data.(raft.LeaderObservation)
        return ok
    })
    n.r.RegisterObserver(observer)
    go func() {
        for {
            select {
            case <-obsCh:
                if id, addr, ok := n.Leader(); ok {
                    n.emitLeader(c.LeaderInfo{ID: id, Addr: addr, Term: n.Term()})
                }
            case <-n.stopCh:
                return
            }
        }
    }()

    if n.opts.Bootstrap {
        cfgs := raft.Configuration{Servers: []raft.Server{{
            ID:      cfg.LocalID,
            Address: addr,
        }}}
        if err := n.r.BootstrapCluster(cfgs).Error(); err != nil && err != raft.ErrCantBootstrap {
            return err
        }
    }

    go func() {
        select {
        case <-ctx.Done():
            _ = n.Stop()
        case <-n.stopCh:
        }
    }()
    return nil
}

// Addr is the raft transport address of this node.
func (n *Node) Addr() string { return string(n.addr) }

func (n *Node) IsLeader() bool {
    if n.r == nil { return false }
    return n.r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
    if n.r == nil { return "", "", false }
    a, sid := n.r.LeaderWithID()
    if sid == "" { return "", "", false }
    return string(sid), string(a), true
}

func (n *Node) Term() uint64 {
    if n.r == nil { return 0 }
    if v := n.r.Stats()["current_term"]; v != "" {
        if u, err := strconv.ParseUint(v, 10, 64); err == nil { return u }
    }
    return 0
}

func (n *Node) Stop() error {
    if n.r == nil || !n.stopped.CompareAndSwap(false, true) { return nil }
    n.writes.Close(nil)
    err := n.r.Shutdown().Error()
    close(n.stopCh)
    // Shutdown ends leadership without a notification we can rely on.
    n.onLeadership(false)
    return err
}

func (n *Node) LeaderCh() <-chan c.LeaderInfo { return n.lch }

func (n *Node) emitLeader(li c.LeaderInfo) {
    select {
    case n.lch <- li:
    default:
        // drop to avoid blocking; last-writer-wins semantics are ok for leadership
    }
}

// LeaderInformation reads the replicated entry for componentID.
func (n *Node) LeaderInformation(componentID string) (le.LeaderInformation, bool) {
    return n.state.Get(componentID)
}

func (n *Node) AllLeaderInformation() []le.LeaderInformationWithComponentID {
    return n.state.All()
}

func (n *Node) leadershipLoop() {
    for {
        select {
        case isLeader := <-n.notifyCh:
            n.onLeadership(isLeader)
        case <-n.stopCh:
            return
        }
    }
}

// onLeadership turns raft leadership transitions into leadership sessions.
// Every time this node becomes leader it gets a fresh session id.
func (n *Node) onLeadership(isLeader bool) {
    n.mu.Lock()
    if n.leader == isLeader {
        n.mu.Unlock()
        return
    }
    n.leader = isLeader
    if !isLeader {
        n.session = uuid.Nil
        l := n.listener
        n.mu.Unlock()
        n.log.Info("raft leadership lost")
        if l != nil { l.OnRevokeLeadership() }
        return
    }
    n.session = uuid.New()
    sessionID := n.session
    l := n.listener
    n.mu.Unlock()

    n.log.Info("raft leadership acquired", "session", sessionID)
    n.emitLeader(c.LeaderInfo{ID: n.opts.NodeID, Addr: string(n.addr), Term: n.Term()})
    if l != nil {
        l.OnGrantLeadership(sessionID)
        go n.reconcile(sessionID)
    }
}

// reconcile waits until the FSM has applied everything committed by previous
// leaders, then reports the table to the listener.
func (n *Node) reconcile(sessionID uuid.UUID) {
    if n.stopped.Load() { return }
    if err := n.r.Barrier(n.opts.ApplyTimeout).Error(); err != nil {
        n.log.Warn("raft barrier failed, skipping reconciliation", "session", sessionID, "error", err)
        return
    }
    n.mu.Lock()
    l := n.listener
    current := n.leader && n.session == sessionID
    n.mu.Unlock()
    if l != nil && current {
        l.OnAllKnownLeaderInformation(n.state.All())
    }
}

// emitKnown runs on the FSM goroutine after every change.
func (n *Node) emitKnown() {
    n.mu.Lock()
    l := n.listener
    leader := n.leader
    n.mu.Unlock()
    if l != nil && leader {
        l.OnAllKnownLeaderInformation(n.state.All())
    }
}

// --- Dynamic Reconfiguration ---

// AddVoter adds a voting server to the Raft cluster if not already present.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
    if n.r == nil {
        return c.ErrNotStarted
    }
    cfg := n.r.GetConfiguration()
    if err := cfg.Error(); err == nil {
        for _, srv := range cfg.Configuration().Servers {
            if string(srv.ID) == id {
                if string(srv.Address) == addr {
                    return nil
                }
                // Remove stale entry with different address before adding
                if err := n.r.RemoveServer(srv.ID, 0, timeout).Error(); err != nil { return err }
                break
            }
        }
    }
    n.log.Info("adding voter", "id", id, "addr", addr)
    return n.r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

// RemoveServer removes a server from the Raft cluster if present.
func (n *Node) RemoveServer(id string, timeout time.Duration) error {
    if n.r == nil {
        return c.ErrNotStarted
    }
    n.log.Info("removing server", "id", id)
    return n.r.RemoveServer(raft.ServerID(id), 0, timeout).Error()
}

func (n *Node) Servers() ([]string, error) {
    if n.r == nil {
        return nil, c.ErrNotStarted
    }
    f := n.r.GetConfiguration()
    if err := f.Error(); err != nil { return nil, err }
    var ids []string
    for _, srv := range f.Configuration().Servers {
        ids = append(ids, string(srv.ID))
    }
    return ids, nil
}

var (
    _ c.Consensus               = (*Node)(nil)
    _ c.LeaderNotifier          = (*Node)(nil)
    _ c.Reconfigurer            = (*Node)(nil)
    _ c.LeaderInformationReader = (*Node)(nil)
)
