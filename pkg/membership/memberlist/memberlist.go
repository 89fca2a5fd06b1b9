// Package memberlist implements membership.Membership on HashiCorp memberlist.
package memberlist

import (
    "context"
    "encoding/json"
    "fmt"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/go-hclog"
    "github.com/hashicorp/memberlist"

    "github.com/amirimatin/go-leaderelection/internal/logutil"
    base "github.com/amirimatin/go-leaderelection/pkg/membership"
)

// Options configures the gossip layer of a node.
type Options struct {
    NodeID string

    // Bind is host:port, e.g. "0.0.0.0:7946". Port 0 picks a free port.
    Bind string

    // Advertise is the host:port peers use to reach this node. Empty means
    // derived from Bind.
    Advertise string

    // Meta is gossiped with the node, typically the raft and management
    // addresses (see membership.MetaRaftAddr).
    Meta map[string]string

    Logger hclog.Logger

    // Zero means memberlist defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int

    // LeaveTimeout bounds the leave broadcast. Defaults to one second.
    LeaveTimeout time.Duration
}

func (o *Options) Validate() error {
    if o.NodeID == "" {
        return fmt.Errorf("memberlist: empty NodeID")
    }
    if o.Bind == "" {
        return fmt.Errorf("memberlist: empty Bind address")
    }
    if o.LeaveTimeout <= 0 {
        o.LeaveTimeout = time.Second
    }
    return nil
}

type impl struct {
    mu     sync.RWMutex
    opts   Options
    log    hclog.Logger
    ml     *memberlist.Memberlist
    closed bool

    evMu     sync.Mutex
    evts     chan base.Event
    evClosed bool
}

func New(opts Options) (base.Membership, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    return &impl{
        opts: opts,
        log:  logutil.Named(opts.Logger, "memberlist").With("node", opts.NodeID),
        evts: make(chan base.Event, 64),
    }, nil
}

func (m *impl) Start(ctx context.Context) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.ml != nil {
        return nil
    }
    if m.closed {
        return fmt.Errorf("memberlist: stopped")
    }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = m.opts.NodeID
    cfg.Logger = logutil.Std(m.log)
    host, port, err := splitHostPort(m.opts.Bind)
    if err != nil {
        return fmt.Errorf("memberlist: invalid bind address %q: %w", m.opts.Bind, err)
    }
    cfg.BindAddr = host
    cfg.BindPort = port
    if m.opts.Advertise != "" {
        ahost, aport, err := splitHostPort(m.opts.Advertise)
        if err != nil {
            return fmt.Errorf("memberlist: invalid advertise address %q: %w", m.opts.Advertise, err)
        }
        cfg.AdvertiseAddr = ahost
        cfg.AdvertisePort = aport
    }
    if m.opts.ProbeInterval > 0 { cfg.ProbeInterval = m.opts.ProbeInterval }
    if m.opts.ProbeTimeout > 0 { cfg.ProbeTimeout = m.opts.ProbeTimeout }
    if m.opts.SuspicionMult > 0 { cfg.SuspicionMult = m.opts.SuspicionMult }

    meta, err := json.Marshal(m.opts.Meta)
    if err != nil {
        return fmt.Errorf("memberlist: encode meta: %w", err)
    }
    if len(meta) > memberlist.MetaMaxSize {
        return fmt.Errorf("memberlist: meta is %d bytes, limit %d", len(meta), memberlist.MetaMaxSize)
    }
    cfg.Events = &eventDelegate{emit: m.emit}
    cfg.Delegate = &nodeDelegate{meta: meta}

    ml, err := memberlist.Create(cfg)
    if err != nil {
        return err
    }
    m.ml = ml
    m.log.Info("gossip started", "addr", memberAddr(ml.LocalNode()))

    go func() {
        <-ctx.Done()
        _ = m.Stop()
    }()
    return nil
}

func (m *impl) Join(seeds []string) error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil {
        return fmt.Errorf("memberlist: not started")
    }
    if len(seeds) == 0 {
        return nil
    }
    n, err := ml.Join(seeds)
    if err != nil {
        return err
    }
    m.log.Debug("joined seeds", "contacted", n, "seeds", seeds)
    return nil
}

func (m *impl) Local() base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return base.MemberInfo{}
    }
    info := toMember(m.ml.LocalNode())
    if len(info.Meta) == 0 && m.opts.Meta != nil {
        info.Meta = m.opts.Meta
    }
    return info
}

func (m *impl) Members() []base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return nil
    }
    nodes := m.ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes {
        out = append(out, toMember(n))
    }
    return out
}

func (m *impl) Events() <-chan base.Event { return m.evts }

func (m *impl) Leave() error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil {
        return nil
    }
    return ml.Leave(m.opts.LeaveTimeout)
}

func (m *impl) Stop() error {
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        return nil
    }
    m.closed = true
    ml := m.ml
    m.ml = nil
    m.mu.Unlock()

    var err error
    if ml != nil {
        err = ml.Shutdown()
    }
    m.evMu.Lock()
    m.evClosed = true
    close(m.evts)
    m.evMu.Unlock()
    return err
}

func (m *impl) HealthScore() int {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return -1
    }
    return m.ml.GetHealthScore()
}

func (m *impl) emit(e base.Event) {
    m.evMu.Lock()
    defer m.evMu.Unlock()
    if m.evClosed {
        return
    }
    select {
    case m.evts <- e:
    default:
        m.log.Warn("dropping membership event, channel full", "type", e.Type, "member", e.Member.ID)
    }
}

type eventDelegate struct {
    emit func(e base.Event)
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node) { d.notify(base.EventJoin, n) }

// NotifyLeave fires both for graceful leaves and for nodes declared dead.
func (d *eventDelegate) NotifyLeave(n *memberlist.Node) {
    if n != nil && n.State == memberlist.StateDead {
        d.notify(base.EventFailed, n)
        return
    }
    d.notify(base.EventLeave, n)
}

func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) { d.notify(base.EventUpdate, n) }

func (d *eventDelegate) notify(t base.EventType, n *memberlist.Node) {
    if d.emit == nil || n == nil {
        return
    }
    d.emit(base.Event{Type: t, Member: toMember(n), At: time.Now()})
}

// nodeDelegate gossips the static node meta.
type nodeDelegate struct{ meta []byte }

func (d *nodeDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) <= limit { return d.meta }
    return nil
}

func (d *nodeDelegate) NotifyMsg([]byte)                       {}
func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *nodeDelegate) LocalState(join bool) []byte            { return nil }
func (d *nodeDelegate) MergeRemoteState(buf []byte, join bool) {}

func toMember(n *memberlist.Node) base.MemberInfo {
    meta := map[string]string{}
    if len(n.Meta) > 0 {
        _ = json.Unmarshal(n.Meta, &meta)
    }
    return base.MemberInfo{ID: n.Name, Addr: memberAddr(n), Meta: meta}
}

func memberAddr(n *memberlist.Node) string {
    return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

func splitHostPort(hp string) (string, int, error) {
    host, ps, err := net.SplitHostPort(hp)
    if err != nil {
        return "", 0, err
    }
    p, err := strconv.Atoi(ps)
    if err != nil || p < 0 || p > 65535 {
        return "", 0, fmt.Errorf("invalid port %q", ps)
    }
    return host, p, nil
}

var (
    _ base.Membership     = (*impl)(nil)
    _ base.HealthReporter = (*impl)(nil)
)
