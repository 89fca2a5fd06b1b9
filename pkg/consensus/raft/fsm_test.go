package raftcons

import (
    "testing"

    "github.com/google/uuid"
    r "github.com/hashicorp/raft"

    c "github.com/amirimatin/go-leaderelection/pkg/consensus"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/state/leaders"
)

func TestLeaderFSM_Apply_PutRemove(t *testing.T) {
    st := leaders.New()
    changes := 0
    fsm := newLeaderFSM(st, func() { changes++ })

    info := le.Known(uuid.New(), "127.0.0.1:1")
    data, err := encodeCommand(c.OpPutLeaderInformation, "c1", info)
    if err != nil { t.Fatalf("encode: %v", err) }
    if v := fsm.Apply(&r.Log{Data: data}); v != nil {
        t.Fatalf("apply put: %v", v)
    }
    if got, ok := st.Get("c1"); !ok || got != info {
        t.Fatalf("state after put = %v, %v", got, ok)
    }

    data, _ = encodeCommand(c.OpRemoveLeaderInformation, "c1", le.Empty())
    if v := fsm.Apply(&r.Log{Data: data}); v != nil {
        t.Fatalf("apply remove: %v", v)
    }
    if _, ok := st.Get("c1"); ok { t.Fatalf("c1 still present") }
    if changes != 2 { t.Fatalf("changes = %d, want 2", changes) }
}

func TestLeaderFSM_Apply_Rejects(t *testing.T) {
    fsm := newLeaderFSM(leaders.New(), nil)
    if _, ok := fsm.Apply(&r.Log{Data: []byte("not json")}).(error); !ok {
        t.Fatalf("expected decode error")
    }
    data, _ := encodeCommand("AddNode", "c1", le.Empty())
    if _, ok := fsm.Apply(&r.Log{Data: data}).(error); !ok {
        t.Fatalf("expected unknown op error")
    }
    data, _ = encodeCommand(c.OpPutLeaderInformation, "", le.Known(uuid.New(), "x"))
    if _, ok := fsm.Apply(&r.Log{Data: data}).(error); !ok {
        t.Fatalf("expected empty component id error")
    }
}
