//go:build integration

package bootstrap

import (
    "context"
    "fmt"
    "sync"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/hashicorp/go-hclog"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/node"
)

type confirming struct {
    mu      sync.Mutex
    e       *le.ComponentElection
    addr    string
    leading bool
}

func (c *confirming) GrantLeadership(id uuid.UUID) {
    c.mu.Lock()
    c.leading = true
    c.mu.Unlock()
    _ = c.e.ConfirmLeadership(id, c.addr)
}

func (c *confirming) RevokeLeadership() {
    c.mu.Lock()
    c.leading = false
    c.mu.Unlock()
}

func (c *confirming) isLeading() bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.leading
}

func startNode(t *testing.T, ctx context.Context, i int, bootstrap bool) (*node.Node, map[string]*confirming) {
    t.Helper()
    n, err := Run(ctx, Config{
        NodeID:    fmt.Sprintf("n%d", i),
        RaftAddr:  fmt.Sprintf("127.0.0.1:%d", 9620+i),
        MemBind:   fmt.Sprintf("127.0.0.1:%d", 7960+i),
        MgmtAddr:  fmt.Sprintf("127.0.0.1:%d", 17960+i),
        SeedsCSV:  "127.0.0.1:7961",
        Bootstrap: bootstrap,
        Logger:    hclog.NewNullLogger(),
    })
    require.NoError(t, err)
    contenders := map[string]*confirming{}
    for _, id := range []string{"rest", "dispatcher"} {
        e, err := n.Election(id)
        require.NoError(t, err)
        c := &confirming{e: e, addr: n.ManagementAddr()}
        require.NoError(t, e.Start(c))
        contenders[id] = c
    }
    return n, contenders
}

func TestThreeNodes_SharedLeadershipAndFailover(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
    defer cancel()

    n1, c1 := startNode(t, ctx, 1, true)
    n2, c2 := startNode(t, ctx, 2, false)
    defer n2.Close()
    n3, c3 := startNode(t, ctx, 3, false)
    defer n3.Close()

    require.Eventually(t, func() bool {
        info, err := n3.LookupLeader(ctx, "rest")
        return err == nil && info.Address() == n1.ManagementAddr()
    }, 20*time.Second, 200*time.Millisecond)
    for _, id := range []string{"rest", "dispatcher"} {
        assert.True(t, c1[id].isLeading(), id)
        assert.False(t, c2[id].isLeading(), id)
        assert.False(t, c3[id].isLeading(), id)
    }

    require.Eventually(t, func() bool {
        st, err := n1.Status(ctx)
        return err == nil && len(st.Members) == 3
    }, 10*time.Second, 200*time.Millisecond)

    require.NoError(t, n1.Close())

    var next *node.Node
    require.Eventually(t, func() bool {
        for _, n := range []*node.Node{n2, n3} {
            if n.Service().HasLeadership() {
                next = n
                return true
            }
        }
        return false
    }, 20*time.Second, 200*time.Millisecond)

    require.Eventually(t, func() bool {
        info, err := n2.LookupLeader(ctx, "dispatcher")
        return err == nil && info.Address() == next.ManagementAddr()
    }, 20*time.Second, 200*time.Millisecond)
}
