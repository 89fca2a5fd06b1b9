// Package memory provides an in-process coordination driver whose leadership
// is switched by hand. It backs tests and single-process demos.
package memory

import (
    "errors"
    "sort"
    "sync"

    "github.com/google/uuid"

    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
)

var (
    ErrAlreadyAttached = errors.New("memory: driver already attached to a listener")
    ErrClosed          = errors.New("memory: driver closed")
)

// Option configures a Driver.
type Option func(*Driver)

// WithEcho makes every write report the resulting full view back to the
// listener, the way a watching backend would.
func WithEcho() Option { return func(d *Driver) { d.echo = true } }

// Driver is both the DriverFactory and the Driver it produces.
type Driver struct {
    mu        sync.Mutex
    listener  le.DriverListener
    closed    bool
    echo      bool
    leader    bool
    session   uuid.UUID
    store     map[string]le.LeaderInformation
    writeErr  error
    writes    int
}

func New(opts ...Option) *Driver {
    d := &Driver{store: make(map[string]le.LeaderInformation)}
    for _, o := range opts {
        o(d)
    }
    return d
}

func (d *Driver) CreateDriver(listener le.DriverListener) (le.Driver, error) {
    d.mu.Lock()
    defer d.mu.Unlock()
    if d.listener != nil {
        return nil, ErrAlreadyAttached
    }
    d.listener = listener
    d.closed = false
    return d, nil
}

// GrantLeadership grants a fresh random session and returns its id.
func (d *Driver) GrantLeadership() uuid.UUID {
    id := uuid.New()
    d.GrantLeadershipWith(id)
    return id
}

func (d *Driver) GrantLeadershipWith(sessionID uuid.UUID) {
    d.mu.Lock()
    d.leader = true
    d.session = sessionID
    l := d.listener
    d.mu.Unlock()
    if l != nil {
        l.OnGrantLeadership(sessionID)
    }
}

func (d *Driver) RevokeLeadership() {
    d.mu.Lock()
    d.leader = false
    d.session = uuid.Nil
    l := d.listener
    d.mu.Unlock()
    if l != nil {
        l.OnRevokeLeadership()
    }
}

// Publish pushes entries to the listener as the backend's full view.
func (d *Driver) Publish(entries []le.LeaderInformationWithComponentID) {
    d.mu.Lock()
    l := d.listener
    d.mu.Unlock()
    if l != nil {
        l.OnAllKnownLeaderInformation(entries)
    }
}

// PublishKnown pushes the stored entries to the listener.
func (d *Driver) PublishKnown() { d.Publish(d.Entries()) }

// Fail reports err to the listener as a backend failure.
func (d *Driver) Fail(err error) {
    d.mu.Lock()
    l := d.listener
    d.mu.Unlock()
    if l != nil {
        l.OnError(err)
    }
}

// FailWrites makes subsequent writes return err; nil restores normal writes.
func (d *Driver) FailWrites(err error) {
    d.mu.Lock()
    d.writeErr = err
    d.mu.Unlock()
}

func (d *Driver) PublishLeaderInformation(componentID string, info le.LeaderInformation) error {
    return d.write(componentID, info)
}

func (d *Driver) DeleteLeaderInformation(componentID string) error {
    return d.write(componentID, le.Empty())
}

func (d *Driver) write(componentID string, info le.LeaderInformation) error {
    d.mu.Lock()
    if d.closed {
        d.mu.Unlock()
        return ErrClosed
    }
    if d.writeErr != nil {
        err := d.writeErr
        d.mu.Unlock()
        return err
    }
    d.writes++
    if info.IsEmpty() {
        delete(d.store, componentID)
    } else {
        d.store[componentID] = info
    }
    var (
        l    le.DriverListener
        snap []le.LeaderInformationWithComponentID
    )
    if d.echo {
        l = d.listener
        snap = d.entriesLocked()
    }
    d.mu.Unlock()
    if l != nil {
        l.OnAllKnownLeaderInformation(snap)
    }
    return nil
}

func (d *Driver) HasLeadership() bool {
    d.mu.Lock()
    defer d.mu.Unlock()
    return d.leader
}

// LeaderInformation returns the stored entry for componentID.
func (d *Driver) LeaderInformation(componentID string) (le.LeaderInformation, bool) {
    d.mu.Lock()
    defer d.mu.Unlock()
    li, ok := d.store[componentID]
    return li, ok
}

// Entries returns the stored entries sorted by component id.
func (d *Driver) Entries() []le.LeaderInformationWithComponentID {
    d.mu.Lock()
    defer d.mu.Unlock()
    return d.entriesLocked()
}

func (d *Driver) entriesLocked() []le.LeaderInformationWithComponentID {
    out := make([]le.LeaderInformationWithComponentID, 0, len(d.store))
    for id, li := range d.store {
        out = append(out, le.LeaderInformationWithComponentID{ComponentID: id, Information: li})
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ComponentID < out[j].ComponentID })
    return out
}

// Writes counts successful writes.
func (d *Driver) Writes() int {
    d.mu.Lock()
    defer d.mu.Unlock()
    return d.writes
}

func (d *Driver) Close() error {
    d.mu.Lock()
    defer d.mu.Unlock()
    d.closed = true
    d.listener = nil
    return nil
}

func (d *Driver) Closed() bool {
    d.mu.Lock()
    defer d.mu.Unlock()
    return d.closed
}

var (
    _ le.DriverFactory = (*Driver)(nil)
    _ le.Driver        = (*Driver)(nil)
)
