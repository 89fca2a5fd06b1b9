package node

import (
    "context"
    "encoding/json"
    "sync"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/hashicorp/go-hclog"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    raftcons "github.com/amirimatin/go-leaderelection/pkg/consensus/raft"
    "github.com/amirimatin/go-leaderelection/pkg/driver/memory"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/transport"
    "github.com/amirimatin/go-leaderelection/pkg/transport/httpjson"
)

const waitFor = 10 * time.Second

// confirmingContender confirms every grant with a fixed address.
type confirmingContender struct {
    addr string
    e    *le.ComponentElection

    mu     sync.Mutex
    leader bool
}

func (c *confirmingContender) GrantLeadership(sessionID uuid.UUID) {
    c.mu.Lock()
    c.leader = true
    c.mu.Unlock()
    _ = c.e.ConfirmLeadership(sessionID, c.addr)
}

func (c *confirmingContender) RevokeLeadership() {
    c.mu.Lock()
    c.leader = false
    c.mu.Unlock()
}

func (c *confirmingContender) isLeader() bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.leader
}

func startElection(t *testing.T, n *Node, componentID, addr string) *confirmingContender {
    t.Helper()
    e, err := n.Election(componentID)
    require.NoError(t, err)
    c := &confirmingContender{addr: addr, e: e}
    require.NoError(t, e.Start(c))
    t.Cleanup(e.Close)
    return c
}

func TestOptions_Validate(t *testing.T) {
    o := Options{}
    require.Error(t, o.Validate())
    o = Options{NodeID: "n1"}
    require.Error(t, o.Validate(), "no backend")

    r, err := raftcons.New(raftcons.Options{NodeID: "n1"})
    require.NoError(t, err)
    o = Options{NodeID: "n1", Consensus: r}
    require.NoError(t, o.Validate())
    assert.Same(t, r, o.Backend)
    assert.Equal(t, 3*time.Second, o.ReconfigureTimeout)
}

func TestNode_ElectionBeforeStart(t *testing.T) {
    n, err := New(Options{NodeID: "n1", Backend: memory.New()})
    require.NoError(t, err)
    _, err = n.Election("a")
    assert.ErrorIs(t, err, ErrNotStarted)
    assert.Nil(t, n.Service())
}

func TestNode_SingleRaftNode(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    r, err := raftcons.New(raftcons.Options{
        NodeID:           "n1",
        Bootstrap:        true,
        Logger:           hclog.NewNullLogger(),
        HeartbeatTimeout: 200 * time.Millisecond,
        ElectionTimeout:  200 * time.Millisecond,
    })
    require.NoError(t, err)
    n, err := New(Options{
        NodeID:    "n1",
        Logger:    hclog.NewNullLogger(),
        Consensus: r,
        RPCServer: httpjson.NewServer("127.0.0.1:0", hclog.NewNullLogger()),
        RPCClient: httpjson.NewClient(time.Second),
    })
    require.NoError(t, err)

    events := n.Subscribe(ctx)
    require.NoError(t, n.Start(ctx))
    defer n.Close()

    dispatcher := startElection(t, n, "dispatcher", "http://n1:8081")
    rest := startElection(t, n, "rest", "http://n1:8082")
    require.Eventually(t, func() bool { return dispatcher.isLeader() && rest.isLeader() }, waitFor, 20*time.Millisecond)

    require.Eventually(t, func() bool {
        info, err := n.LookupLeader(ctx, "rest")
        return err == nil && info.Address() == "http://n1:8082"
    }, waitFor, 20*time.Millisecond)
    _, err = n.LookupLeader(ctx, "unknown")
    assert.ErrorIs(t, err, ErrUnknownComponent)

    select {
    case ev := <-events:
        assert.Equal(t, EventLeaderChanged, ev.Type)
        require.NotNil(t, ev.Leader)
        assert.Equal(t, "n1", ev.Leader.ID)
    case <-time.After(waitFor):
        t.Fatal("no leader_changed event")
    }

    st, err := n.Status(ctx)
    require.NoError(t, err)
    assert.True(t, st.Healthy)
    assert.Equal(t, "n1", st.LeaderID)
    assert.Equal(t, n.ManagementAddr(), st.LeaderAddr)
    assert.Equal(t, []string{"n1"}, st.Voters)
    assert.True(t, st.Election.Leader)
    assert.Len(t, st.Election.Components, 2)
    assert.Len(t, st.Leaders, 2)

    // The management API serves the same view.
    c := httpjson.NewClient(time.Second)
    raw, err := c.GetStatus(ctx, n.ManagementAddr())
    require.NoError(t, err)
    var remote Status
    require.NoError(t, json.Unmarshal(raw, &remote))
    assert.Equal(t, "n1", remote.LeaderID)

    lr, err := c.GetLeader(ctx, n.ManagementAddr(), transport.LeaderRequest{ComponentID: "dispatcher"})
    require.NoError(t, err)
    assert.Equal(t, "n1", lr.Node)
    require.Len(t, lr.Components, 1)
    assert.Equal(t, "http://n1:8081", lr.Components[0].Information.Address())

    _, err = c.PostJoin(ctx, n.ManagementAddr(), transport.JoinRequest{ID: "n2"})
    assert.Error(t, err, "join without raft address")

    require.NoError(t, n.Stop(ctx))
    require.NoError(t, n.Stop(ctx))
    _, err = n.Election("late")
    assert.ErrorIs(t, err, ErrStopped)
    assert.ErrorIs(t, n.Start(ctx), ErrStopped)
}

func TestNode_MemoryBackendFallsBackToServiceView(t *testing.T) {
    ctx := context.Background()
    d := memory.New(memory.WithEcho())
    n, err := New(Options{NodeID: "solo", Backend: d, Logger: hclog.NewNullLogger()})
    require.NoError(t, err)
    require.NoError(t, n.Start(ctx))
    defer n.Close()

    c := startElection(t, n, "scheduler", "tcp://solo:9000")
    d.GrantLeadership()
    require.Eventually(t, c.isLeader, waitFor, 10*time.Millisecond)

    require.Eventually(t, func() bool {
        info, err := n.LookupLeader(ctx, "scheduler")
        return err == nil && info.Address() == "tcp://solo:9000"
    }, waitFor, 10*time.Millisecond)

    st, err := n.Status(ctx)
    require.NoError(t, err)
    assert.True(t, st.Healthy)
    assert.Equal(t, "solo", st.LeaderID)

    err = n.Join(ctx, "")
    assert.ErrorIs(t, err, ErrNoRPCClient)

    d.RevokeLeadership()
    require.Eventually(t, func() bool { return !c.isLeader() }, waitFor, 10*time.Millisecond)
}
