package raftcons

import (
    "encoding/json"
    "fmt"
    "io"

    "github.com/hashicorp/raft"

    c "github.com/amirimatin/go-leaderelection/pkg/consensus"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    base "github.com/amirimatin/go-leaderelection/pkg/state"
)

// leaderFSM applies leader information commands to the replicated table and
// reports every change through onChange.
type leaderFSM struct {
    st       base.LeaderInformationState
    onChange func()
}

func newLeaderFSM(st base.LeaderInformationState, onChange func()) *leaderFSM {
    if onChange == nil { onChange = func() {} }
    return &leaderFSM{st: st, onChange: onChange}
}

func (f *leaderFSM) Apply(l *raft.Log) interface{} {
    var cmd c.Command
    if err := json.Unmarshal(l.Data, &cmd); err != nil {
        return err
    }
    var p le.LeaderInformationWithComponentID
    if err := json.Unmarshal(cmd.Payload, &p); err != nil { return err }

    var err error
    switch cmd.Op {
    case c.OpPutLeaderInformation:
        err = f.st.ApplyPut(p.ComponentID, p.Information)
    case c.OpRemoveLeaderInformation:
        err = f.st.ApplyRemove(p.ComponentID)
    default:
        return fmt.Errorf("raftcons: unknown op %q", cmd.Op)
    }
    if err != nil { return err }
    f.onChange()
    return nil
}

func (f *leaderFSM) Snapshot() (raft.FSMSnapshot, error) {
    blob, err := f.st.Snapshot()
    if err != nil { return nil, err }
    return &snapshot{blob: blob}, nil
}

func (f *leaderFSM) Restore(rc io.ReadCloser) error {
    defer rc.Close()
    data, err := io.ReadAll(rc)
    if err != nil { return err }
    if err := f.st.Restore(data); err != nil { return err }
    f.onChange()
    return nil
}

type snapshot struct {
    blob []byte
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
    if _, err := sink.Write(s.blob); err != nil { _ = sink.Cancel(); return err }
    return sink.Close()
}

func (s *snapshot) Release() {}

func encodeCommand(op, componentID string, info le.LeaderInformation) ([]byte, error) {
    payload, err := json.Marshal(le.LeaderInformationWithComponentID{ComponentID: componentID, Information: info})
    if err != nil { return nil, err }
    return json.Marshal(c.Command{Op: op, Payload: payload})
}

var _ raft.FSM = (*leaderFSM)(nil)
