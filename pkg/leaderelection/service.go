package leaderelection

import (
    "context"
    "fmt"
    "sort"
    "sync"
    "sync/atomic"

    "github.com/google/uuid"
    "github.com/hashicorp/go-hclog"

    "github.com/amirimatin/go-leaderelection/pkg/internal/dispatch"
    "github.com/amirimatin/go-leaderelection/internal/logutil"
    "github.com/amirimatin/go-leaderelection/pkg/observability/metrics"
)

// Options configure a Service.
type Options struct {
    Logger hclog.Logger
    // FatalErrorHandler receives protocol violations. Defaults to logging.
    FatalErrorHandler FatalErrorHandler
}

// Service multiplexes one leadership session, obtained through a single
// Driver, across any number of registered components.
//
// All session and registry state is owned by one dispatch queue. Handler
// callbacks run on a separate queue per component, so a slow handler only
// delays its own callbacks. No public method waits for a handler.
type Service struct {
    log    hclog.Logger
    fatal  FatalErrorHandler
    queue  *dispatch.Queue
    driver Driver

    mu     sync.Mutex
    // claims maps registered ids to their component's active flag, so
    // Unregister can stop delivery before the queue catches up.
    claims map[string]*atomic.Bool
    closed atomic.Bool
    leader atomic.Bool

    // Owned by queue.
    session    uuid.UUID
    hasSession bool
    components map[string]*component
}

type component struct {
    id            string
    handler       EventHandler
    lane          *dispatch.Queue
    active        *atomic.Bool
    lastDelivered LeaderInformation
}

// NewService connects a new multiplexing service to the backend produced by
// factory.
func NewService(factory DriverFactory, opts Options) (*Service, error) {
    if factory == nil {
        return nil, fmt.Errorf("leaderelection: nil driver factory")
    }
    s := &Service{
        log:        logutil.Named(opts.Logger, "leaderelection"),
        fatal:      opts.FatalErrorHandler,
        queue:      dispatch.New(),
        claims:     make(map[string]*atomic.Bool),
        components: make(map[string]*component),
    }
    if s.fatal == nil {
        s.fatal = LoggingFatalErrorHandler(s.log)
    }

    // The driver may call back before CreateDriver returns; hold the queue
    // until s.driver is set.
    ready := make(chan struct{})
    s.queue.Submit(func() { <-ready })
    d, err := factory.CreateDriver(&driverListener{s: s})
    if err != nil {
        s.closed.Store(true)
        close(ready)
        s.queue.Close(nil)
        return nil, fmt.Errorf("leaderelection: create driver: %w", err)
    }
    s.driver = d
    close(ready)
    return s, nil
}

// Register adds a handler for componentID. When a session is current at the
// time the registration is processed, the handler is granted leadership
// with that session id.
func (s *Service) Register(componentID string, handler EventHandler) error {
    if componentID == "" || handler == nil {
        return ErrInvalidComponent
    }
    s.mu.Lock()
    if s.closed.Load() {
        s.mu.Unlock()
        return ErrServiceClosed
    }
    if _, dup := s.claims[componentID]; dup {
        s.mu.Unlock()
        err := fmt.Errorf("%w: %q", ErrAlreadyRegistered, componentID)
        s.reportFatal(err)
        return err
    }
    active := new(atomic.Bool)
    active.Store(true)
    s.claims[componentID] = active
    s.queue.Submit(func() { s.register(componentID, handler, active) })
    s.mu.Unlock()
    return nil
}

// Unregister removes componentID. Callbacks for it that have not started yet
// are dropped. Unknown ids are ignored.
func (s *Service) Unregister(componentID string) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.closed.Load() {
        return
    }
    active, ok := s.claims[componentID]
    if !ok {
        return
    }
    active.Store(false)
    delete(s.claims, componentID)
    s.queue.Submit(func() { s.unregister(componentID) })
}

// NotifyLeaderInformationChange publishes info for componentID and delivers it
// to the component's handler. Dropped unless a session is current when the
// call is processed.
func (s *Service) NotifyLeaderInformationChange(componentID string, info LeaderInformation) {
    if s.closed.Load() {
        return
    }
    s.queue.Submit(func() { s.leaderInformationChanged(componentID, info) })
}

// NotifyAllKnownLeaderInformation reconciles every registered component
// against entries; components missing from entries are told Empty(). Ignored
// unless a session is current. Never waits for handlers.
func (s *Service) NotifyAllKnownLeaderInformation(entries []LeaderInformationWithComponentID) {
    if s.closed.Load() {
        return
    }
    cp := append([]LeaderInformationWithComponentID(nil), entries...)
    s.queue.Submit(func() { s.allKnownLeaderInformation(cp) })
}

// HasLeadership reports whether a leadership session is current.
func (s *Service) HasLeadership() bool { return s.leader.Load() }

// Close detaches the driver and discards pending work. It is idempotent and
// safe to call from inside a handler.
func (s *Service) Close() error {
    s.mu.Lock()
    if s.closed.Load() {
        s.mu.Unlock()
        return nil
    }
    s.closed.Store(true)
    s.claims = nil
    s.mu.Unlock()

    err := s.driver.Close()
    s.queue.Close(func() {
        for id, c := range s.components {
            s.detach(c, "closed")
            delete(s.components, id)
        }
        if s.hasSession {
            metrics.IsLeader.Set(0)
        }
        s.hasSession = false
        s.session = uuid.Nil
        s.leader.Store(false)
        metrics.RegisteredComponents.Set(0)
    })
    s.log.Debug("service closed")
    return err
}

// Snapshot is a point-in-time view of the service state.
type Snapshot struct {
    Leader     bool              `json:"leader"`
    SessionID  *uuid.UUID        `json:"sessionId,omitempty"`
    Components []ComponentStatus `json:"components"`
}

// ComponentStatus is one registered component as seen by the service.
type ComponentStatus struct {
    ComponentID   string            `json:"componentId"`
    LastDelivered LeaderInformation `json:"lastDelivered"`
    Pending       int               `json:"pendingCallbacks"`
}

// Snapshot returns the state as seen by the dispatch queue once all
// previously accepted calls have been processed.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
    out := make(chan Snapshot, 1)
    if s.closed.Load() || !s.queue.Submit(func() { out <- s.snapshot() }) {
        return Snapshot{}, ErrServiceClosed
    }
    select {
    case snap := <-out:
        return snap, nil
    case <-s.queue.Done():
        return Snapshot{}, ErrServiceClosed
    case <-ctx.Done():
        return Snapshot{}, ctx.Err()
    }
}

// --- queue-owned transitions ---

func (s *Service) register(componentID string, handler EventHandler, active *atomic.Bool) {
    c := &component{id: componentID, handler: handler, lane: dispatch.New(), active: active}
    s.components[componentID] = c
    metrics.RegisteredComponents.Set(float64(len(s.components)))
    s.log.Debug("component registered", "component", componentID)
    if s.hasSession {
        sessionID := s.session
        s.deliver(c, "grant", func(h EventHandler) { h.OnGrantLeadership(sessionID) })
    }
}

func (s *Service) unregister(componentID string) {
    c, ok := s.components[componentID]
    if !ok {
        return
    }
    delete(s.components, componentID)
    s.detach(c, "unregistered")
    metrics.RegisteredComponents.Set(float64(len(s.components)))
    s.log.Debug("component unregistered", "component", componentID)
    if s.hasSession {
        err := s.driver.DeleteLeaderInformation(componentID)
        s.observeWrite("delete", componentID, err)
    }
}

func (s *Service) grant(sessionID uuid.UUID) {
    if s.hasSession {
        if s.session == sessionID {
            return
        }
        s.reportFatal(fmt.Errorf("%w: current %s, granted %s", ErrLeadershipConflict, s.session, sessionID))
        return
    }
    s.session = sessionID
    s.hasSession = true
    s.leader.Store(true)
    metrics.IsLeader.Set(1)
    metrics.Grants.Inc()
    s.log.Info("leadership granted", "session", sessionID, "components", len(s.components))
    for _, c := range s.components {
        s.deliver(c, "grant", func(h EventHandler) { h.OnGrantLeadership(sessionID) })
    }
}

func (s *Service) revoke() {
    if !s.hasSession {
        return
    }
    s.log.Info("leadership revoked", "session", s.session)
    s.session = uuid.Nil
    s.hasSession = false
    s.leader.Store(false)
    metrics.IsLeader.Set(0)
    metrics.Revokes.Inc()
    for _, c := range s.components {
        c.lastDelivered = Empty()
        s.deliver(c, "revoke", func(h EventHandler) { h.OnRevokeLeadership() })
    }
}

func (s *Service) leaderInformationChanged(componentID string, info LeaderInformation) {
    if !s.hasSession {
        metrics.NotificationsIgnored.WithLabelValues("leader_information_change").Inc()
        s.log.Debug("ignoring leader information change without leadership", "component", componentID)
        return
    }
    err := s.driver.PublishLeaderInformation(componentID, info)
    s.observeWrite("publish", componentID, err)

    c, ok := s.components[componentID]
    if !ok {
        return
    }
    c.lastDelivered = info
    s.deliver(c, "leader_information", func(h EventHandler) { h.OnLeaderInformationChange(info) })
}

func (s *Service) allKnownLeaderInformation(entries []LeaderInformationWithComponentID) {
    if !s.hasSession {
        metrics.NotificationsIgnored.WithLabelValues("all_known_leader_information").Inc()
        return
    }
    known := make(map[string]LeaderInformation, len(entries))
    for _, e := range entries {
        known[e.ComponentID] = e.Information
    }
    for id, c := range s.components {
        target := known[id] // Empty() when absent
        c.lastDelivered = target
        s.deliver(c, "leader_information", func(h EventHandler) { h.OnLeaderInformationChange(target) })
    }
}

func (s *Service) snapshot() Snapshot {
    snap := Snapshot{Leader: s.hasSession, Components: make([]ComponentStatus, 0, len(s.components))}
    if s.hasSession {
        id := s.session
        snap.SessionID = &id
    }
    for id, c := range s.components {
        snap.Components = append(snap.Components, ComponentStatus{
            ComponentID:   id,
            LastDelivered: c.lastDelivered,
            Pending:       c.lane.Len(),
        })
    }
    sort.Slice(snap.Components, func(i, j int) bool {
        return snap.Components[i].ComponentID < snap.Components[j].ComponentID
    })
    return snap
}

// deliver schedules fn on the component's lane. The registration is checked
// again when the callback starts.
func (s *Service) deliver(c *component, event string, fn func(EventHandler)) {
    c.lane.Submit(func() {
        if !c.active.Load() || s.closed.Load() {
            metrics.CallbacksDropped.WithLabelValues("inactive").Inc()
            return
        }
        defer func() {
            if r := recover(); r != nil {
                s.reportFatal(fmt.Errorf("leaderelection: handler for %q panicked on %s: %v", c.id, event, r))
            }
        }()
        fn(c.handler)
        metrics.Callbacks.WithLabelValues(event).Inc()
    })
}

func (s *Service) detach(c *component, reason string) {
    c.active.Store(false)
    if n := c.lane.Len(); n > 0 {
        metrics.CallbacksDropped.WithLabelValues(reason).Add(float64(n))
    }
    c.lane.Close(nil)
}

func (s *Service) observeWrite(op, componentID string, err error) {
    if err != nil {
        metrics.DriverWrites.WithLabelValues(op, "error").Inc()
        s.log.Warn("leader information write failed", "op", op, "component", componentID, "error", err)
        return
    }
    metrics.DriverWrites.WithLabelValues(op, "ok").Inc()
}

func (s *Service) reportFatal(err error) {
    metrics.FatalErrors.Inc()
    s.fatal.ReportFatalError(err)
}

// driverListener keeps the backend callbacks off the Service's public API.
type driverListener struct{ s *Service }

func (l *driverListener) OnGrantLeadership(sessionID uuid.UUID) {
    if l.s.closed.Load() {
        return
    }
    l.s.queue.Submit(func() { l.s.grant(sessionID) })
}

func (l *driverListener) OnRevokeLeadership() {
    if l.s.closed.Load() {
        return
    }
    l.s.queue.Submit(l.s.revoke)
}

func (l *driverListener) OnAllKnownLeaderInformation(entries []LeaderInformationWithComponentID) {
    l.s.NotifyAllKnownLeaderInformation(entries)
}

func (l *driverListener) OnError(err error) {
    if l.s.closed.Load() {
        return
    }
    l.s.reportFatal(fmt.Errorf("leaderelection: driver: %w", err))
}

var _ DriverListener = (*driverListener)(nil)
