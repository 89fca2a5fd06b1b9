package raftcons

import (
    "context"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/hashicorp/go-hclog"

    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
)

// chanListener forwards driver callbacks to buffered channels.
type chanListener struct {
    grants  chan uuid.UUID
    revokes chan struct{}
    known   chan []le.LeaderInformationWithComponentID
    errs    chan error
}

func newChanListener() *chanListener {
    return &chanListener{
        grants:  make(chan uuid.UUID, 16),
        revokes: make(chan struct{}, 16),
        known:   make(chan []le.LeaderInformationWithComponentID, 64),
        errs:    make(chan error, 16),
    }
}

func (l *chanListener) OnGrantLeadership(id uuid.UUID) { l.grants <- id }
func (l *chanListener) OnRevokeLeadership()            { l.revokes <- struct{}{} }
func (l *chanListener) OnAllKnownLeaderInformation(e []le.LeaderInformationWithComponentID) {
    select {
    case l.known <- e:
    default:
    }
}
func (l *chanListener) OnError(err error) { l.errs <- err }

func awaitLeader(t *testing.T, n *Node) {
    t.Helper()
    deadline := time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        if n.IsLeader() { return }
        time.Sleep(50 * time.Millisecond)
    }
    t.Fatalf("%s did not become leader in time", n.opts.NodeID)
}

func awaitEntry(t *testing.T, n *Node, componentID string, want le.LeaderInformation) {
    t.Helper()
    deadline := time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        if got, ok := n.LeaderInformation(componentID); ok && got == want { return }
        time.Sleep(20 * time.Millisecond)
    }
    got, ok := n.LeaderInformation(componentID)
    t.Fatalf("%s: entry %q = %v (%v), want %v", n.opts.NodeID, componentID, got, ok, want)
}

func quietOptions(id string) Options {
    return Options{
        NodeID:           id,
        Logger:           hclog.NewNullLogger(),
        HeartbeatTimeout: 150 * time.Millisecond,
        ElectionTimeout:  300 * time.Millisecond,
        CommitTimeout:    20 * time.Millisecond,
        ApplyTimeout:     2 * time.Second,
    }
}

func TestRaft_SingleNodeLeadership(t *testing.T) {
    opts := quietOptions("n1")
    opts.Bootstrap = true
    n, err := New(opts)
    if err != nil { t.Fatalf("new: %v", err) }

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := n.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer n.Stop()

    awaitLeader(t, n)
    select {
    case li := <-n.LeaderCh():
        if li.ID != "n1" { t.Fatalf("leader id = %q, want n1", li.ID) }
    case <-time.After(2 * time.Second):
        t.Fatalf("timed out waiting for leader event")
    }
}

func TestRaft_DriverGrantPublishRevoke(t *testing.T) {
    opts := quietOptions("n1")
    opts.Bootstrap = true
    n, err := New(opts)
    if err != nil { t.Fatalf("new: %v", err) }
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := n.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer n.Stop()
    awaitLeader(t, n)

    // Attaching after the node already leads still grants a session.
    l := newChanListener()
    d, err := n.CreateDriver(l)
    if err != nil { t.Fatalf("create driver: %v", err) }
    if _, err := n.CreateDriver(newChanListener()); err == nil {
        t.Fatalf("second driver must be rejected")
    }

    var session uuid.UUID
    select {
    case session = <-l.grants:
    case <-time.After(3 * time.Second):
        t.Fatalf("no grant")
    }
    if !d.HasLeadership() { t.Fatalf("driver should report leadership") }

    // Initial reconciliation reports the (empty) table.
    select {
    case entries := <-l.known:
        if len(entries) != 0 { t.Fatalf("unexpected entries %+v", entries) }
    case <-time.After(3 * time.Second):
        t.Fatalf("no reconciliation after grant")
    }

    info := le.Known(session, "10.0.0.1:8080")
    if err := d.PublishLeaderInformation("dispatcher", info); err != nil {
        t.Fatalf("publish: %v", err)
    }
    awaitEntry(t, n, "dispatcher", info)
    deadline := time.After(3 * time.Second)
    for found := false; !found; {
        select {
        case entries := <-l.known:
            found = len(entries) == 1 && entries[0].ComponentID == "dispatcher" && entries[0].Information == info
        case <-deadline:
            t.Fatalf("published entry not echoed")
        }
    }

    if err := d.DeleteLeaderInformation("dispatcher"); err != nil { t.Fatalf("delete: %v", err) }
    deadline2 := time.Now().Add(3 * time.Second)
    for time.Now().Before(deadline2) {
        if _, ok := n.LeaderInformation("dispatcher"); !ok { break }
        time.Sleep(20 * time.Millisecond)
    }
    if _, ok := n.LeaderInformation("dispatcher"); ok { t.Fatalf("entry not deleted") }

    if err := n.Stop(); err != nil { t.Fatalf("stop: %v", err) }
    select {
    case <-l.revokes:
    case <-time.After(3 * time.Second):
        t.Fatalf("no revoke after stop")
    }
    if err := d.PublishLeaderInformation("dispatcher", info); err == nil {
        t.Fatalf("publish after stop must fail")
    }
}

func TestRaft_DriverCloseDetachesListener(t *testing.T) {
    opts := quietOptions("n1")
    opts.Bootstrap = true
    n, _ := New(opts)
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := n.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer n.Stop()

    l := newChanListener()
    d, err := n.CreateDriver(l)
    if err != nil { t.Fatalf("create driver: %v", err) }
    select {
    case <-l.grants:
    case <-time.After(5 * time.Second):
        t.Fatalf("no grant")
    }
    if err := d.Close(); err != nil { t.Fatalf("close: %v", err) }
    if d.HasLeadership() { t.Fatalf("closed driver reports leadership") }

    // A new listener can attach once the old one is gone.
    l2 := newChanListener()
    if _, err := n.CreateDriver(l2); err != nil { t.Fatalf("re-attach: %v", err) }
    select {
    case <-l2.grants:
    case <-time.After(3 * time.Second):
        t.Fatalf("no grant for re-attached listener")
    }
    _ = n.Stop()
    select {
    case <-l.revokes:
        t.Fatalf("detached listener received revoke")
    case <-l2.revokes:
    case <-time.After(3 * time.Second):
        t.Fatalf("no revoke")
    }
}

func TestRaft_PublishDoesNotWaitForRaft(t *testing.T) {
    opts := quietOptions("n1")
    opts.Bootstrap = true
    n, err := New(opts)
    if err != nil { t.Fatalf("new: %v", err) }
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := n.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer n.Stop()
    awaitLeader(t, n)

    l := newChanListener()
    d, err := n.CreateDriver(l)
    if err != nil { t.Fatalf("create driver: %v", err) }
    var session uuid.UUID
    select {
    case session = <-l.grants:
    case <-time.After(3 * time.Second):
        t.Fatalf("no grant")
    }

    // Hold the write queue so nothing reaches raft yet.
    release := make(chan struct{})
    n.writes.Submit(func() { <-release })

    info := le.Known(session, "10.0.0.2:8080")
    done := make(chan error, 1)
    go func() { done <- d.PublishLeaderInformation("rest", info) }()
    select {
    case err := <-done:
        if err != nil { t.Fatalf("publish: %v", err) }
    case <-time.After(time.Second):
        t.Fatalf("publish waited for the raft write")
    }
    if _, ok := n.LeaderInformation("rest"); ok {
        t.Fatalf("entry applied before the queue was released")
    }

    close(release)
    awaitEntry(t, n, "rest", info)
}
