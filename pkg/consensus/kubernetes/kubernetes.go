// Package kubecons is a coordination backend on Kubernetes: leadership is a
// coordination.k8s.io Lease held through client-go's leader elector, and
// component leader information lives in a ConfigMap next to it.
package kubecons

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/hashicorp/go-hclog"
    "go.opentelemetry.io/otel/attribute"
    metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
    "k8s.io/client-go/kubernetes"
    "k8s.io/client-go/tools/leaderelection"
    "k8s.io/client-go/tools/leaderelection/resourcelock"

    c "github.com/amirimatin/go-leaderelection/pkg/consensus"
    "github.com/amirimatin/go-leaderelection/pkg/internal/dispatch"
    "github.com/amirimatin/go-leaderelection/internal/logutil"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/observability/metrics"
    "github.com/amirimatin/go-leaderelection/pkg/observability/tracing"
)

var ErrClosed = errors.New("kubecons: driver closed")

// Backend creates drivers campaigning for one Lease.
type Backend struct {
    opts Options
    log  hclog.Logger
}

func New(opts Options) (*Backend, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    return &Backend{
        opts: opts,
        log: logutil.Named(opts.Logger, "kubernetes").With(
            "namespace", opts.Namespace, "lease", opts.LeaseName, "identity", opts.Identity),
    }, nil
}

// CreateDriver starts campaigning for the Lease on behalf of listener. The
// driver re-campaigns after losing the Lease until it is closed.
func (b *Backend) CreateDriver(listener le.DriverListener) (le.Driver, error) {
    if listener == nil {
        return nil, fmt.Errorf("kubecons: nil listener")
    }
    ctx, cancel := context.WithCancel(context.Background())
    d := &driver{
        opts:     b.opts,
        log:      b.log,
        listener: listener,
        writes:   dispatch.New(),
        ctx:      ctx,
        cancel:   cancel,
        done:     make(chan struct{}),
    }
    if _, err := d.newElector(&round{}); err != nil {
        cancel()
        d.writes.Close(nil)
        return nil, err
    }
    go d.run()
    return d, nil
}

// LeaderInformation reads the published entry for componentID.
func (b *Backend) LeaderInformation(componentID string) (le.LeaderInformation, bool) {
    for _, e := range b.AllLeaderInformation() {
        if e.ComponentID == componentID {
            return e.Information, true
        }
    }
    return le.Empty(), false
}

// AllLeaderInformation reads every published entry from the ConfigMap. Read
// failures are logged and reported as an empty table.
func (b *Backend) AllLeaderInformation() []le.LeaderInformationWithComponentID {
    ctx, cancel := context.WithTimeout(context.Background(), b.opts.WriteTimeout)
    defer cancel()
    cm, err := readConfigMap(ctx, b.opts)
    if err != nil {
        b.log.Warn("reading leader information failed", "error", err)
        return nil
    }
    return entriesOf(cm)
}

// round is one campaign of the leader elector.
type round struct {
    granted bool
    ended   bool
}

type driver struct {
    opts   Options
    log    hclog.Logger
    writes *dispatch.Queue
    ctx    context.Context
    cancel context.CancelFunc
    done   chan struct{}

    mu       sync.Mutex
    listener le.DriverListener
    closed   bool
    leader   bool
    session  uuid.UUID
}

func (d *driver) client() kubernetes.Interface { return d.opts.Client }

func (d *driver) newElector(r *round) (*leaderelection.LeaderElector, error) {
    lock := &resourcelock.LeaseLock{
        LeaseMeta: metav1.ObjectMeta{
            Name:      d.opts.LeaseName,
            Namespace: d.opts.Namespace,
        },
        Client: d.client().CoordinationV1(),
        LockConfig: resourcelock.ResourceLockConfig{
            Identity: d.opts.Identity,
        },
    }
    elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
        Lock:            lock,
        Name:            d.opts.LeaseName,
        LeaseDuration:   d.opts.LeaseDuration,
        RenewDeadline:   d.opts.RenewDeadline,
        RetryPeriod:     d.opts.RetryPeriod,
        ReleaseOnCancel: true,
        Callbacks: leaderelection.LeaderCallbacks{
            OnStartedLeading: func(context.Context) { d.onStartedLeading(r) },
            OnStoppedLeading: func() { d.onStoppedLeading(r) },
        },
    })
    if err != nil {
        return nil, fmt.Errorf("kubecons: create leader elector: %w", err)
    }
    return elector, nil
}

func (d *driver) run() {
    defer close(d.done)
    for d.ctx.Err() == nil {
        r := &round{}
        elector, err := d.newElector(r)
        if err != nil {
            d.fail(err)
            return
        }
        // Run returns once the lease is lost or ctx is cancelled.
        elector.Run(d.ctx)
        select {
        case <-d.ctx.Done():
        case <-time.After(d.opts.RetryPeriod):
        }
    }
}

func (d *driver) onStartedLeading(r *round) {
    d.mu.Lock()
    if r.ended || d.closed {
        d.mu.Unlock()
        return
    }
    r.granted = true
    d.leader = true
    d.session = uuid.New()
    sessionID := d.session
    l := d.listener
    d.mu.Unlock()

    d.log.Info("lease acquired", "session", sessionID)
    if l != nil {
        l.OnGrantLeadership(sessionID)
    }
    d.writes.Submit(func() { d.reconcile(sessionID) })
}

// onStoppedLeading is also called by client-go for rounds that never led.
func (d *driver) onStoppedLeading(r *round) {
    d.mu.Lock()
    r.ended = true
    if !r.granted || !d.leader {
        d.mu.Unlock()
        return
    }
    d.leader = false
    d.session = uuid.Nil
    l := d.listener
    d.mu.Unlock()

    d.log.Info("lease lost")
    if l != nil {
        l.OnRevokeLeadership()
    }
}

// reconcile reports the stored leader information for a fresh session.
func (d *driver) reconcile(sessionID uuid.UUID) {
    ctx, cancel := context.WithTimeout(d.ctx, d.opts.WriteTimeout)
    defer cancel()
    cm, err := readConfigMap(ctx, d.opts)
    if err != nil {
        d.log.Warn("reading leader information failed", "error", err)
        return
    }
    d.emit(sessionID, entriesOf(cm))
}

func (d *driver) emit(sessionID uuid.UUID, entries []le.LeaderInformationWithComponentID) {
    d.mu.Lock()
    l := d.listener
    current := d.leader && d.session == sessionID
    d.mu.Unlock()
    if l != nil && current {
        l.OnAllKnownLeaderInformation(entries)
    }
}

func (d *driver) PublishLeaderInformation(componentID string, info le.LeaderInformation) error {
    if info.IsEmpty() {
        return d.DeleteLeaderInformation(componentID)
    }
    key, err := dataKey(componentID)
    if err != nil {
        return err
    }
    value, err := json.Marshal(info)
    if err != nil {
        return err
    }
    return d.submit(c.OpPutLeaderInformation, componentID, func(data map[string]string) {
        data[key] = string(value)
    })
}

func (d *driver) DeleteLeaderInformation(componentID string) error {
    key, err := dataKey(componentID)
    if err != nil {
        return err
    }
    return d.submit(c.OpRemoveLeaderInformation, componentID, func(data map[string]string) {
        delete(data, key)
    })
}

// submit queues a ConfigMap write for the current session. Writes are
// serialized and dropped when the session ended before they ran.
func (d *driver) submit(op, componentID string, mutate func(map[string]string)) error {
    d.mu.Lock()
    if d.closed {
        d.mu.Unlock()
        return ErrClosed
    }
    if !d.leader {
        d.mu.Unlock()
        return c.ErrNotLeader
    }
    sessionID := d.session
    d.mu.Unlock()

    d.writes.Submit(func() {
        if !d.holds(sessionID) {
            metrics.DriverWrites.WithLabelValues(op, "stale_session").Inc()
            return
        }
        ctx, cancel := context.WithTimeout(d.ctx, d.opts.WriteTimeout)
        defer cancel()
        ctx, end := tracing.StartSpan(ctx, "kubernetes.leader_information",
            attribute.String("op", op), attribute.String("component", componentID))
        defer end()
        cm, err := d.updateConfigMap(ctx, mutate)
        if err != nil {
            tracing.RecordError(ctx, err)
            metrics.DriverWrites.WithLabelValues(op, "commit_error").Inc()
            d.log.Warn("leader information write failed", "op", op, "component", componentID, "error", err)
            return
        }
        d.emit(sessionID, entriesOf(cm))
    })
    return nil
}

func (d *driver) holds(sessionID uuid.UUID) bool {
    d.mu.Lock()
    defer d.mu.Unlock()
    return d.leader && d.session == sessionID
}

func (d *driver) HasLeadership() bool {
    d.mu.Lock()
    defer d.mu.Unlock()
    return d.leader
}

func (d *driver) fail(err error) {
    d.mu.Lock()
    l := d.listener
    d.mu.Unlock()
    d.log.Error("leader election stopped", "error", err)
    if l != nil {
        l.OnError(err)
    }
}

// Close detaches the listener, stops campaigning and releases the Lease in
// the background. Done is closed once the Lease has been released.
func (d *driver) Close() error {
    d.mu.Lock()
    if d.closed {
        d.mu.Unlock()
        return nil
    }
    d.closed = true
    d.listener = nil
    d.mu.Unlock()
    d.cancel()
    d.writes.Close(nil)
    return nil
}

func (d *driver) Done() <-chan struct{} { return d.done }

var (
    _ le.DriverFactory          = (*Backend)(nil)
    _ c.LeaderInformationReader = (*Backend)(nil)
    _ le.Driver                 = (*driver)(nil)
)
