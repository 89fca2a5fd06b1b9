package leaderelection

import (
    "fmt"
    "sync"

    "github.com/google/uuid"
    "github.com/hashicorp/go-hclog"
)

// Contender is the component-side party of a ComponentElection. Calls are
// made from the component's callback lane, one at a time.
type Contender interface {
    GrantLeadership(sessionID uuid.UUID)
    RevokeLeadership()
}

// ComponentElection is the per-component view of a shared Service: it tracks
// the current session for one component, lets the contender confirm its
// address, and keeps the published entry in sync with what it confirmed.
type ComponentElection struct {
    service     *Service
    componentID string
    log         hclog.Logger

    mu         sync.Mutex
    contender  Contender
    started    bool
    session    uuid.UUID
    hasSession bool
    confirmed  LeaderInformation
}

func NewComponentElection(service *Service, componentID string) *ComponentElection {
    return &ComponentElection{
        service:     service,
        componentID: componentID,
        log:         service.log.With("component", componentID),
    }
}

func (e *ComponentElection) ComponentID() string { return e.componentID }

// Start registers the election with the service.
func (e *ComponentElection) Start(contender Contender) error {
    if contender == nil {
        return fmt.Errorf("leaderelection: nil contender for %q", e.componentID)
    }
    e.mu.Lock()
    if e.started {
        e.mu.Unlock()
        return fmt.Errorf("leaderelection: election for %q already started", e.componentID)
    }
    e.contender = contender
    e.started = true
    e.mu.Unlock()
    if err := e.service.Register(e.componentID, e); err != nil {
        e.mu.Lock()
        e.started = false
        e.contender = nil
        e.mu.Unlock()
        return err
    }
    return nil
}

// ConfirmLeadership publishes address as the component's leader address for
// sessionID. Returns ErrNotLeader when sessionID is no longer current.
func (e *ComponentElection) ConfirmLeadership(sessionID uuid.UUID, address string) error {
    e.mu.Lock()
    if !e.hasSession || e.session != sessionID {
        e.mu.Unlock()
        e.log.Debug("ignoring leadership confirmation for stale session", "session", sessionID)
        return ErrNotLeader
    }
    info := Known(sessionID, address)
    e.confirmed = info
    e.mu.Unlock()
    e.service.NotifyLeaderInformationChange(e.componentID, info)
    return nil
}

// HasLeadership reports whether sessionID is the component's current session.
func (e *ComponentElection) HasLeadership(sessionID uuid.UUID) bool {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.hasSession && e.session == sessionID
}

// Confirmed returns the information last confirmed in the current session.
func (e *ComponentElection) Confirmed() LeaderInformation {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.confirmed
}

// Close unregisters the election. The contender receives no further calls.
func (e *ComponentElection) Close() {
    e.mu.Lock()
    if !e.started {
        e.mu.Unlock()
        return
    }
    e.started = false
    e.contender = nil
    e.hasSession = false
    e.confirmed = Empty()
    e.mu.Unlock()
    e.service.Unregister(e.componentID)
}

func (e *ComponentElection) OnGrantLeadership(sessionID uuid.UUID) {
    e.mu.Lock()
    e.session = sessionID
    e.hasSession = true
    e.confirmed = Empty()
    c := e.contender
    e.mu.Unlock()
    if c != nil {
        c.GrantLeadership(sessionID)
    }
}

func (e *ComponentElection) OnRevokeLeadership() {
    e.mu.Lock()
    e.session = uuid.Nil
    e.hasSession = false
    e.confirmed = Empty()
    c := e.contender
    e.mu.Unlock()
    if c != nil {
        c.RevokeLeadership()
    }
}

// OnLeaderInformationChange republishes the confirmed information when the
// backend's view diverged from it.
func (e *ComponentElection) OnLeaderInformationChange(info LeaderInformation) {
    e.mu.Lock()
    if !e.hasSession || e.confirmed.IsEmpty() || info == e.confirmed {
        e.mu.Unlock()
        return
    }
    confirmed := e.confirmed
    e.mu.Unlock()
    e.log.Debug("backend leader information diverged, republishing", "observed", info, "confirmed", confirmed)
    e.service.NotifyLeaderInformationChange(e.componentID, confirmed)
}

var _ EventHandler = (*ComponentElection)(nil)
