package node

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-leaderelection/pkg/consensus"
    "github.com/amirimatin/go-leaderelection/pkg/membership"
)

type EventType string

const (
    EventLeaderChanged EventType = "leader_changed"
    EventMemberJoin    EventType = "member_join"
    EventMemberLeave   EventType = "member_leave"
    EventMemberFailed  EventType = "member_failed"
)

// Event describes a node-level change. Only the fields relevant to Type are
// set.
type Event struct {
    Type   EventType
    At     time.Time
    Leader *consensus.LeaderInfo
    Member *membership.MemberInfo
}

// Subscribe returns a buffered channel of events, closed when ctx is done.
// Events are dropped for subscribers that fall behind.
func (n *Node) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    n.eb.add(ch)
    go func() {
        <-ctx.Done()
        n.eb.remove(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    defer e.mu.Unlock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
}

// remove closes ch under the lock so publish never sends on a closed channel.
func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    defer e.mu.Unlock()
    if _, ok := e.subs[ch]; ok {
        delete(e.subs, ch)
        close(ch)
    }
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    defer e.mu.Unlock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
}
