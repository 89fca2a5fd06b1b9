package leaderelection_test

import (
    "sync"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-leaderelection/pkg/driver/memory"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
)

type testContender struct {
    mu      sync.Mutex
    session uuid.UUID
    leader  bool
    grants  int
    revokes int
}

func (c *testContender) GrantLeadership(sessionID uuid.UUID) {
    c.mu.Lock()
    defer c.mu.Unlock()
    c.session = sessionID
    c.leader = true
    c.grants++
}

func (c *testContender) RevokeLeadership() {
    c.mu.Lock()
    defer c.mu.Unlock()
    c.leader = false
    c.revokes++
}

func (c *testContender) state() (uuid.UUID, bool) {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.session, c.leader
}

func awaitContender(t *testing.T, c *testContender, leader bool) uuid.UUID {
    t.Helper()
    require.Eventually(t, func() bool {
        _, l := c.state()
        return l == leader
    }, waitFor, tick)
    id, _ := c.state()
    return id
}

func TestComponentElection_ConfirmPublishesAddress(t *testing.T) {
    f := newFixture(t)
    e := le.NewComponentElection(f.svc, "dispatcher")
    c := &testContender{}
    require.NoError(t, e.Start(c))

    granted := f.driver.GrantLeadership()
    session := awaitContender(t, c, true)
    assert.Equal(t, granted, session)
    assert.True(t, e.HasLeadership(session))
    assert.False(t, e.HasLeadership(uuid.New()))

    require.NoError(t, e.ConfirmLeadership(session, "10.0.0.1:8080"))
    require.Eventually(t, func() bool {
        got, ok := f.driver.LeaderInformation("dispatcher")
        return ok && got == le.Known(session, "10.0.0.1:8080")
    }, waitFor, tick)
    assert.Equal(t, le.Known(session, "10.0.0.1:8080"), e.Confirmed())
}

func TestComponentElection_ConfirmWithStaleSession(t *testing.T) {
    f := newFixture(t)
    e := le.NewComponentElection(f.svc, "dispatcher")
    c := &testContender{}
    require.NoError(t, e.Start(c))
    f.driver.GrantLeadership()
    awaitContender(t, c, true)

    assert.ErrorIs(t, e.ConfirmLeadership(uuid.New(), "addr"), le.ErrNotLeader)
    assert.Never(t, func() bool { return f.driver.Writes() > 0 }, 50*time.Millisecond, tick)
}

func TestComponentElection_RepublishesWhenBackendDiverges(t *testing.T) {
    f := newFixture(t)
    e := le.NewComponentElection(f.svc, "dispatcher")
    c := &testContender{}
    require.NoError(t, e.Start(c))
    f.driver.GrantLeadership()
    session := awaitContender(t, c, true)
    require.NoError(t, e.ConfirmLeadership(session, "addr"))
    require.Eventually(t, func() bool { return f.driver.Writes() == 1 }, waitFor, tick)

    // The backend reports no entry for the component: the election heals it.
    f.driver.Publish(nil)
    require.Eventually(t, func() bool { return f.driver.Writes() == 2 }, waitFor, tick)
    got, ok := f.driver.LeaderInformation("dispatcher")
    require.True(t, ok)
    assert.Equal(t, le.Known(session, "addr"), got)

    // A matching view does not cause another write.
    f.driver.PublishKnown()
    assert.Never(t, func() bool { return f.driver.Writes() > 2 }, 100*time.Millisecond, tick)
}

func TestComponentElection_RevokeAndClose(t *testing.T) {
    f := newFixture(t)
    e := le.NewComponentElection(f.svc, "dispatcher")
    c := &testContender{}
    require.NoError(t, e.Start(c))
    assert.Error(t, e.Start(c), "second start must fail")

    f.driver.GrantLeadership()
    session := awaitContender(t, c, true)
    f.driver.RevokeLeadership()
    awaitContender(t, c, false)
    assert.False(t, e.HasLeadership(session))
    assert.ErrorIs(t, e.ConfirmLeadership(session, "addr"), le.ErrNotLeader)

    e.Close()
    f.driver.GrantLeadership()
    assert.Never(t, func() bool {
        c.mu.Lock()
        defer c.mu.Unlock()
        return c.grants > 1
    }, 100*time.Millisecond, tick)
}

func TestComponentElection_WithEchoingBackend(t *testing.T) {
    f := newFixture(t, memory.WithEcho())
    e := le.NewComponentElection(f.svc, "rest")
    c := &testContender{}
    require.NoError(t, e.Start(c))
    f.driver.GrantLeadership()
    session := awaitContender(t, c, true)

    require.NoError(t, e.ConfirmLeadership(session, "rest:80"))
    require.Eventually(t, func() bool {
        got, ok := f.driver.LeaderInformation("rest")
        return ok && got == le.Known(session, "rest:80")
    }, waitFor, tick)
    // The echoed snapshot matches the confirmation, so nothing is rewritten.
    assert.Never(t, func() bool { return f.driver.Writes() > 1 }, 100*time.Millisecond, tick)
}
