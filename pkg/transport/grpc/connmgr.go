package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"

    "github.com/amirimatin/go-leaderelection/pkg/observability/metrics"
)

// Dialer opens a client connection to target.
type Dialer func(ctx context.Context, target string) (*grpc.ClientConn, error)

// ConnManager shares one connection per target and closes connections that
// stayed unused for longer than the idle TTL.
type ConnManager struct {
    ttl    time.Duration
    dialer Dialer

    mu      sync.Mutex
    conns   map[string]*managedConn
    closed  bool
    closing chan struct{}
}

type managedConn struct {
    cc       *grpc.ClientConn
    lastUsed time.Time
    ref      int
}

func NewConnManager(ttl time.Duration, dialer Dialer) *ConnManager {
    if ttl <= 0 {
        ttl = 30 * time.Second
    }
    m := &ConnManager{ttl: ttl, dialer: dialer, conns: make(map[string]*managedConn), closing: make(chan struct{})}
    go m.janitor()
    return m
}

// Get returns the connection for target and a release func for the caller
// to invoke when done with it.
func (m *ConnManager) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    if cc, ok := m.acquire(target); ok {
        metrics.GRPCConnReuse.Inc()
        return cc, func() { m.release(target) }, nil
    }

    cc, err := m.dialer(ctx, target)
    if err != nil {
        return nil, func() {}, err
    }

    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        _ = cc.Close()
        return nil, func() {}, grpc.ErrClientConnClosing
    }
    if existing, ok := m.conns[target]; ok {
        // Lost a dial race.
        existing.ref++
        existing.lastUsed = time.Now()
        m.mu.Unlock()
        _ = cc.Close()
        metrics.GRPCConnReuse.Inc()
        return existing.cc, func() { m.release(target) }, nil
    }
    m.conns[target] = &managedConn{cc: cc, lastUsed: time.Now(), ref: 1}
    m.mu.Unlock()
    metrics.GRPCConnDials.Inc()
    metrics.GRPCConnActive.Inc()
    return cc, func() { m.release(target) }, nil
}

func (m *ConnManager) acquire(target string) (*grpc.ClientConn, bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    mc, ok := m.conns[target]
    if !ok {
        return nil, false
    }
    mc.ref++
    mc.lastUsed = time.Now()
    return mc.cc, true
}

func (m *ConnManager) release(target string) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if mc, ok := m.conns[target]; ok {
        if mc.ref > 0 { mc.ref-- }
        mc.lastUsed = time.Now()
    }
}

// Len is the number of cached connections.
func (m *ConnManager) Len() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.conns)
}

// Close closes all cached connections and stops the janitor. Idempotent.
func (m *ConnManager) Close() {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed {
        return
    }
    m.closed = true
    close(m.closing)
    for k, mc := range m.conns {
        _ = mc.cc.Close()
        metrics.GRPCConnActive.Dec()
        delete(m.conns, k)
    }
}

func (m *ConnManager) janitor() {
    ticker := time.NewTicker(m.ttl / 2)
    defer ticker.Stop()
    for {
        select {
        case <-m.closing:
            return
        case <-ticker.C:
            m.evictIdle(time.Now().Add(-m.ttl))
        }
    }
}

func (m *ConnManager) evictIdle(cutoff time.Time) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for addr, mc := range m.conns {
        if mc.ref == 0 && mc.lastUsed.Before(cutoff) {
            _ = mc.cc.Close()
            metrics.GRPCConnEvictions.Inc()
            metrics.GRPCConnActive.Dec()
            delete(m.conns, addr)
        }
    }
}
